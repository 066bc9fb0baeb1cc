package updater

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/machine-updater/internal/domain/update"
	"github.com/oshokin/machine-updater/internal/logger"
	"github.com/oshokin/machine-updater/internal/process"
)

const (
	// tokenUser is the user name sent together with an access token.
	tokenUser = "x-access-token"
	// noPromptEnv keeps git from waiting on a credential prompt.
	noPromptEnv = "GIT_TERMINAL_PROMPT=0"
)

// SourcePreparer clears the working copy and fetches the requested revision.
type SourcePreparer struct {
	runner *process.Runner
	git    string
	host   string
}

// NewSourcePreparer creates a SourcePreparer using the git binary and repository host.
func NewSourcePreparer(runner *process.Runner, git, host string) *SourcePreparer {
	return &SourcePreparer{
		runner: runner,
		git:    git,
		host:   host,
	}
}

// Clear removes root/dir recursively. A missing directory is not an error.
// dir must name a directory strictly inside root.
func (p *SourcePreparer) Clear(ctx context.Context, root, dir string) error {
	path := filepath.Join(root, dir)

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: refusing to remove %q outside the working root %q", update.ErrClearDirectory, dir, root)
	}

	if _, err := os.Lstat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.InfoKV(ctx, "Repository directory does not exist, nothing to clear", "path", path)

			return nil
		}

		return fmt.Errorf("%w: %s: %w", update.ErrClearDirectory, path, err)
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("%w: %s: %w", update.ErrClearDirectory, path, err)
	}

	logger.InfoKV(ctx, "Repository directory removed", "path", path)

	return nil
}

// Fetch clones the revision selected by req into root/dir.
//
// Tags and branches are cloned as a single branch. A commit is fetched with a
// full clone of the default branch followed by a checkout of that commit.
func (p *SourcePreparer) Fetch(
	ctx context.Context,
	req update.Request,
	root, dir string,
	onLine process.LineHandler,
) error {
	kind, ref, ok := req.Selector()
	if !ok {
		return req.ValidateSelector()
	}

	remote := RemoteURL(p.host, req)

	args := []string{"clone", "--progress"}
	if kind != update.SelectorCommit {
		args = append(args, "--single-branch", "--branch", ref)
	}

	display := strings.Join(append([]string{p.git}, args...), " ") + " " + remote.Redacted() + " " + dir
	args = append(args, remote.String(), dir)

	logger.InfoKV(ctx, "Fetching source", "remote", remote.Redacted(), "selector", string(kind), "ref", ref)

	outcome := p.runner.Run(ctx, process.Command{
		Name:    p.git,
		Args:    args,
		Dir:     root,
		Env:     []string{noPromptEnv},
		Step:    update.StepFetchSource,
		Display: display,
		Secrets: secrets(req),
		OnLine:  onLine,
	})
	if err := outcomeError(outcome, update.ErrFetch); err != nil {
		return err
	}

	if kind != update.SelectorCommit {
		return nil
	}

	logger.InfoKV(ctx, "Checking out commit", "commit", ref)

	outcome = p.runner.Run(ctx, process.Command{
		Name:    p.git,
		Args:    []string{"checkout", ref},
		Dir:     filepath.Join(root, dir),
		Env:     []string{noPromptEnv},
		Step:    update.StepFetchSource,
		Secrets: secrets(req),
		OnLine:  onLine,
	})

	return outcomeError(outcome, update.ErrCheckout)
}

// RemoteURL builds the HTTPS clone URL of the request's repository.
// A token is carried as URL user info; use Redacted for logging.
func RemoteURL(host string, req update.Request) *url.URL {
	remote := &url.URL{
		Scheme: "https",
		Host:   host,
		Path:   "/" + strings.TrimSpace(req.Owner) + "/" + strings.TrimSpace(req.Repository) + ".git",
	}

	if token := strings.TrimSpace(req.Token); token != "" {
		remote.User = url.UserPassword(tokenUser, token)
	}

	return remote
}

func secrets(req update.Request) []string {
	if token := strings.TrimSpace(req.Token); token != "" {
		return []string{token}
	}

	return nil
}

// outcomeError maps a process outcome to the pipeline error taxonomy.
// failure is the sentinel used for a non-zero exit.
func outcomeError(outcome process.Outcome, failure error) error {
	switch outcome.Kind {
	case process.OutcomeSucceeded:
		return nil
	case process.OutcomeCancelled:
		return update.ErrCancelledByUser
	case process.OutcomeSpawnFailed:
		return fmt.Errorf("%w: %w", update.ErrProcessSpawn, outcome.Err)
	case process.OutcomeFailed:
		if outcome.Err != nil {
			return fmt.Errorf("%w: %w", failure, outcome.Err)
		}

		return fmt.Errorf("%w: exit code %d", failure, outcome.ExitCode)
	default:
		return fmt.Errorf("%w: %s", failure, outcome.Kind)
	}
}
