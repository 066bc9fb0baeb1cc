package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/machine-updater/internal/domain/update"
	"github.com/oshokin/machine-updater/internal/service/client"
)

// tokenEnv supplies the access token when --token is not given.
const tokenEnv = "MACHINE_UPDATE_TOKEN"

var (
	// request collects the update flags.
	request update.Request
	// local runs the pipeline in this process.
	local bool
	// localWorkingRoot overrides the working root in local mode.
	localWorkingRoot string
	// quiet hides subprocess output.
	quiet bool

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run an update and follow its progress.",
		Long: `Starts an update of this machine from owner/repo at the given tag, branch or
commit and prints its transcript until it ends. Exactly one of --tag, --branch
and --commit is required. The access token can also be set with ` + tokenEnv + `.

Interrupting a worker run detaches and leaves the update running; use
"update-ctl cancel" to stop it. Interrupting a --local run cancels it.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if request.Token == "" {
				request.Token = os.Getenv(tokenEnv)
			}

			return client.Run(ctx, &client.Options{
				ConfigPath:    configPath,
				ServerAddress: serverAddress,
				WorkingRoot:   localWorkingRoot,
				Request:       request,
				Local:         local,
				Quiet:         quiet,
			})
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := runCmd.Flags()

	flags.StringVarP(&request.Owner, "owner", "o", "", "repository owner")
	flags.StringVarP(&request.Repository, "repo", "r", "", "repository name")
	flags.StringVar(&request.Token, "token", "", "access token for private repositories")
	flags.StringVar(&request.Tag, "tag", "", "tag to install")
	flags.StringVar(&request.Branch, "branch", "", "branch to install")
	flags.StringVar(&request.Commit, "commit", "", "commit to install")
	flags.BoolVar(&local, "local", false, "run the update in this process instead of the worker")
	flags.StringVarP(&localWorkingRoot, "working-root", "w", "", "working root for --local runs")
	flags.BoolVarP(&quiet, "quiet", "q", false, "hide git and installation script output")

	runCmd.MarkFlagsMutuallyExclusive("tag", "branch", "commit")
	runCmd.MarkFlagsOneRequired("tag", "branch", "commit")

	for _, name := range []string{"owner", "repo"} {
		if err := runCmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}
}
