package integration

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/machine-updater/internal/config"
	"github.com/oshokin/machine-updater/internal/domain/update"
	"github.com/oshokin/machine-updater/internal/service/common"
	"github.com/oshokin/machine-updater/internal/service/worker"
)

// fakeGitScript clones by creating the target directory with the install
// script copied from {{install}}.
const fakeGitScript = `#!/bin/sh
case "$1" in
clone)
  for last; do :; done
  mkdir -p "$last" || exit 128
  cp '{{install}}' "$last/install.sh"
  printf 'Cloning into %s...\n' "$last" >&2
  printf 'Receiving objects: 100%% (8/8), done.\n' >&2
  ;;
esac
`

const quickInstall = `#!/bin/sh
echo "these 1 derivations will be built:"
echo "building '/nix/store/cccc-firmware-3.1.drv'..."
echo "updating systemd-boot..."
`

const slowInstall = `#!/bin/sh
echo "ready"
sleep 30
`

// newConfig writes a fake git next to a fresh working root and returns the
// settings pointing at both.
func newConfig(t *testing.T, install string) *config.Config {
	t.Helper()

	tools := t.TempDir()
	template := filepath.Join(tools, "install.template")
	require.NoError(t, os.WriteFile(template, []byte(install), 0o600))

	git := filepath.Join(tools, "git")
	script := strings.ReplaceAll(fakeGitScript, "{{install}}", template)

	//nolint:gosec // The stand-in must be executable.
	require.NoError(t, os.WriteFile(git, []byte(script), 0o700))

	cfg := config.Default()
	cfg.WorkingRootDir = t.TempDir()
	cfg.GitBinary = git
	cfg.InstallScript = "install.sh"
	cfg.SourceHost = "example.test"
	cfg.GracePeriod = 2 * time.Second
	cfg.EchoOutput = false
	cfg.Timeout = 5 * time.Second

	return cfg
}

// saveConfig stores cfg in a temporary settings file.
func saveConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "update-settings.yaml")
	require.NoError(t, config.Save(path, cfg))

	return path
}

// startWorker serves the control API on a loopback port until the test ends.
func startWorker(t *testing.T, cfg *config.Config) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg.ListenAddress = lis.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- worker.Serve(ctx, lis, cfg)
	}()

	t.Cleanup(func() {
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(45 * time.Second):
			require.FailNow(t, "worker did not stop")
		}
	})

	return cfg.ListenAddress
}

func dial(t *testing.T, address string) *common.Client {
	t.Helper()

	client, err := common.Dial(context.Background(), address,
		common.WithCallTimeout(5*time.Second),
		common.WithActor("tester@integration"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func request() update.Request {
	return update.Request{
		Owner:      "acme",
		Repository: "device",
		Token:      "integration-token",
		Tag:        "v2.0.0",
	}
}

// readRun receives the events of runID until its end event.
func readRun(t *testing.T, stream *common.EventStream, runID string, onEvent func(update.Envelope)) update.End {
	t.Helper()

	for {
		env, err := stream.Recv()
		require.NoError(t, err)

		if env.RunID != runID {
			continue
		}

		if onEvent != nil {
			onEvent(env)
		}

		if end, ok := env.Event.(update.End); ok {
			return end
		}
	}
}
