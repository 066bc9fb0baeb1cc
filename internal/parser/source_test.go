package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSourceParser_Phases maps object transfer to 0-80 and delta resolution to 80-100.
func TestSourceParser_Phases(t *testing.T) {
	t.Parallel()

	p := NewSourceParser()

	got, ok := p.Parse("Receiving objects: 45% (234/520)")
	require.True(t, ok)
	require.InDelta(t, 36, got.Percent, 1e-9)

	got, ok = p.Parse("Receiving objects: 100% (520/520), 1.20 MiB | 3.10 MiB/s, done.")
	require.True(t, ok)
	require.InDelta(t, 80, got.Percent, 1e-9)

	got, ok = p.Parse("Resolving deltas:  50% (100/200)")
	require.True(t, ok)
	require.InDelta(t, 90, got.Percent, 1e-9)

	got, ok = p.Parse("Resolving deltas: 100% (200/200), done.")
	require.True(t, ok)
	require.InDelta(t, 100, got.Percent, 1e-9)

	_, ok = p.Parse("remote: Counting objects: 30% (3/10)")
	require.False(t, ok)

	_, ok = p.Parse("Cloning into 'machine-update'...")
	require.False(t, ok)
}

// TestSourceParser_Monotonic never reports a lower percent until Reset.
func TestSourceParser_Monotonic(t *testing.T) {
	t.Parallel()

	p := NewSourceParser()

	_, _ = p.Parse("Resolving deltas: 10% (1/10)")

	got, ok := p.Parse("Receiving objects: 50% (5/10)")
	require.True(t, ok)
	require.InDelta(t, 82, got.Percent, 1e-9)

	p.Reset()

	got, ok = p.Parse("Receiving objects: 10% (1/10)")
	require.True(t, ok)
	require.InDelta(t, 8, got.Percent, 1e-9)
}
