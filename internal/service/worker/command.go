package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"

	api "github.com/oshokin/machine-updater/internal/api/grpc/update"
	"github.com/oshokin/machine-updater/internal/config"
	"github.com/oshokin/machine-updater/internal/logger"
	"github.com/oshokin/machine-updater/internal/service/updater"
	"github.com/oshokin/machine-updater/internal/version"
)

// shutdownTimeout bounds cancelling the active run on shutdown.
const shutdownTimeout = 30 * time.Second

// Options controls the update-worker process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress overrides the configured control API address.
	ListenAddress string
	// WorkingRoot overrides the configured working root.
	WorkingRoot string
}

// Run starts the gRPC server and blocks until ctx is cancelled or the server stops.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "update-worker")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if level, ok := logger.ParseLogLevel(settings.LogLevel); ok {
		logger.SetLevel(level)
	}

	if opts.WorkingRoot != "" {
		settings.WorkingRootDir = opts.WorkingRoot
	}

	listenAddress := settings.ListenAddress
	if opts.ListenAddress != "" {
		listenAddress = opts.ListenAddress
	}

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	return Serve(ctx, lis, settings)
}

// Serve runs the control API on lis until ctx is cancelled.
func Serve(ctx context.Context, lis net.Listener, settings *config.Config) error {
	orchestrator := updater.New(ctx, settings)
	svc := newService(orchestrator)

	grpcServer := grpc.NewServer()
	api.RegisterUpdateServiceServer(grpcServer, api.NewServer(svc))

	root, rootErr := settings.WorkingRoot()
	if rootErr != nil {
		logger.WarnKV(ctx, "Working root is not available, runs will be rejected", "error", rootErr)
	}

	logger.InfoKV(ctx, "Update worker listening", append(version.KV(),
		"listen_address", lis.Addr().String(),
		"working_root", root,
		"repository_dir", settings.RepositoryDir)...)

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down update worker")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := orchestrator.Close(shutdownCtx); err != nil {
			logger.WarnKV(ctx, "Active update did not stop in time", "error", err)
		}

		// Event streams only end when their subscription does.
		svc.close()
		grpcServer.GracefulStop()
		close(done)
	}()

	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "Update worker stopped")

	return nil
}
