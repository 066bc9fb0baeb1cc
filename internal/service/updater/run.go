package updater

import (
	"context"

	"github.com/oshokin/machine-updater/internal/config"
	"github.com/oshokin/machine-updater/internal/estimator"
	"github.com/oshokin/machine-updater/internal/logger"
	"github.com/oshokin/machine-updater/internal/repository/history"
)

// New builds an Orchestrator for cfg with the step duration history stored
// in the configured history file. Without a working root the history is
// kept in memory; Execute still reports the missing root.
func New(ctx context.Context, cfg *config.Config, opts ...Option) *Orchestrator {
	est := estimator.New(openHistory(ctx, cfg))
	if err := est.Load(ctx); err != nil {
		logger.WarnKV(ctx, "Unable to load step duration history, using defaults", "error", err)
	}

	return NewOrchestrator(cfg, est, opts...)
}

func openHistory(ctx context.Context, cfg *config.Config) history.Store {
	root, err := cfg.WorkingRoot()
	if err != nil {
		logger.WarnKV(ctx, "Step duration history is kept in memory", "error", err)

		return history.NewMemoryStore()
	}

	store := history.NewFileStore(cfg.HistoryPath(root))
	logger.DebugKV(ctx, "Step duration history", "path", store.Path())

	return store
}
