package version

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// TestVersionStrings ensures Short and Full return consistent information.
func TestVersionStrings(t *testing.T) {
	t.Parallel()

	require.NotEmpty(t, Short())
	require.Contains(t, Full(), Short())
	require.Equal(t, []any{"version", Version, "commit", Commit, "build_time", BuildTime}, KV())
}

func TestAttachCobraVersionCommand(t *testing.T) {
	t.Parallel()

	var (
		root = &cobra.Command{Use: "update-ctl"}
		out  bytes.Buffer
	)

	AttachCobraVersionCommand(root)
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	require.Equal(t, Full()+"\n", out.String())
}
