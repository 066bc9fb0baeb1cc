package updater

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/machine-updater/internal/config"
	"github.com/oshokin/machine-updater/internal/domain/update"
)

const (
	testToken = "s3cr3t-token"
	testHost  = "example.test"
)

const fakeGitTemplate = `#!/bin/sh
echo "$*" >> '{{calls}}'
case "$1" in
clone)
  for last; do :; done
  mkdir -p "$last" || exit 128
  cp '{{install}}' "$last/install.sh"
  echo "git $*" >&2
  printf 'Cloning into %s...\n' "$last" >&2
  printf 'Receiving objects:  45%% (234/520)\r' >&2
  printf 'Receiving objects: 100%% (520/520), done.\n' >&2
  printf 'Resolving deltas: 100%% (10/10), done.\n' >&2
  exit {{clone_exit}}
  ;;
checkout)
  echo "error: pathspec '$2' did not match" >&2
  exit {{checkout_exit}}
  ;;
esac
`

const successfulInstall = `#!/bin/sh
echo "these 2 derivations will be built:"
echo "building '/nix/store/aaaa-hello-1.0.drv'..."
echo "building '/nix/store/bbbb-world-2.0.drv'..."
echo "hello> installing"
echo "updating GRUB 2 menu..."
`

// fakeGit is a shell stand-in for git that records its invocations.
type fakeGit struct {
	path  string
	calls string
}

func (g fakeGit) invocations(t *testing.T) []string {
	t.Helper()

	data, err := os.ReadFile(g.calls)
	if os.IsNotExist(err) {
		return nil
	}

	require.NoError(t, err)

	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func writeFakeGit(t *testing.T, install string, cloneExit, checkoutExit int) fakeGit {
	t.Helper()

	dir := t.TempDir()
	template := filepath.Join(dir, "install.template")
	require.NoError(t, os.WriteFile(template, []byte(install), 0o600))

	git := fakeGit{
		path:  filepath.Join(dir, "git"),
		calls: filepath.Join(dir, "calls.log"),
	}

	script := strings.NewReplacer(
		"{{calls}}", git.calls,
		"{{install}}", template,
		"{{clone_exit}}", strconv.Itoa(cloneExit),
		"{{checkout_exit}}", strconv.Itoa(checkoutExit),
	).Replace(fakeGitTemplate)

	//nolint:gosec // The stand-in must be executable.
	require.NoError(t, os.WriteFile(git.path, []byte(script), 0o700))

	return git
}

func testConfig(root, git string) *config.Config {
	cfg := config.Default()
	cfg.WorkingRootDir = root
	cfg.GitBinary = git
	cfg.InstallScript = "install.sh"
	cfg.SourceHost = testHost
	cfg.GracePeriod = 2 * time.Second
	cfg.EchoOutput = false

	return cfg
}

func tagRequest() update.Request {
	return update.Request{
		Owner:      "acme",
		Repository: "device",
		Token:      testToken,
		Tag:        "v1.2.0",
	}
}

// collect reads the events of runID until its end event.
func collect(t *testing.T, sub *Subscription, runID string) []update.Envelope {
	t.Helper()

	timeout := time.After(30 * time.Second)

	var events []update.Envelope

	for {
		select {
		case env := <-sub.Events():
			if env.RunID != runID {
				continue
			}

			events = append(events, env)

			if _, ok := env.Event.(update.End); ok {
				return events
			}
		case <-timeout:
			require.FailNow(t, "timed out waiting for the end event")

			return nil
		}
	}
}

// waitStepChange reads sub until want arrives.
func waitStepChange(t *testing.T, sub *Subscription, want update.StepChange) {
	t.Helper()

	timeout := time.After(30 * time.Second)

	for {
		select {
		case env := <-sub.Events():
			if change, ok := env.Event.(update.StepChange); ok && change == want {
				return
			}
		case <-timeout:
			require.FailNow(t, "timed out waiting for the step change")

			return
		}
	}
}

func stepChanges(events []update.Envelope) []update.StepChange {
	var changes []update.StepChange

	for _, env := range events {
		if change, ok := env.Event.(update.StepChange); ok {
			changes = append(changes, change)
		}
	}

	return changes
}

func endOf(t *testing.T, events []update.Envelope) update.End {
	t.Helper()

	require.NotEmpty(t, events)

	end, ok := events[len(events)-1].Event.(update.End)
	require.True(t, ok)

	return end
}

func stepStatuses(steps []update.Step) map[update.StepName]update.StepStatus {
	result := make(map[update.StepName]update.StepStatus, len(steps))
	for _, step := range steps {
		result[step.Name] = step.Status
	}

	return result
}
