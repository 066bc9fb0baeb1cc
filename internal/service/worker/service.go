package worker

import (
	"context"
	"sync"

	api "github.com/oshokin/machine-updater/internal/api/grpc/update"
	"github.com/oshokin/machine-updater/internal/domain/update"
	"github.com/oshokin/machine-updater/internal/logger"
	"github.com/oshokin/machine-updater/internal/service/updater"
)

// service adapts the orchestrator to the transport Service interface and
// tracks event subscriptions so they can be closed on shutdown.
type service struct {
	orchestrator *updater.Orchestrator

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// subscription untracks itself on Close.
type subscription struct {
	*updater.Subscription

	service *service
}

func (s *subscription) Close() {
	s.Subscription.Close()
	s.service.untrack(s)
}

func newService(orchestrator *updater.Orchestrator) *service {
	return &service{
		orchestrator: orchestrator,
		subs:         make(map[*subscription]struct{}),
	}
}

// Execute starts an update run.
func (s *service) Execute(ctx context.Context, req update.Request) (string, error) {
	logger.InfoKV(ctx, "Update requested",
		"owner", req.Owner,
		"repository", req.Repository,
		"tag", req.Tag,
		"branch", req.Branch,
		"commit", req.Commit)

	return s.orchestrator.Execute(ctx, req)
}

// Cancel cancels the active run.
func (s *service) Cancel(ctx context.Context) update.CancelResult {
	result := s.orchestrator.Cancel(ctx)
	logger.InfoKV(ctx, "Cancel requested", "success", result.Success, "error", result.Error)

	return result
}

// Status returns the orchestrator snapshot.
func (s *service) Status() update.Status {
	return s.orchestrator.Status()
}

// Subscribe attaches an event subscription.
func (s *service) Subscribe(buffer int) api.Subscription {
	sub := &subscription{
		Subscription: s.orchestrator.Subscribe(buffer),
		service:      s,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		sub.Subscription.Close()

		return sub
	}

	s.subs[sub] = struct{}{}

	return sub
}

// close detaches every subscription and refuses new ones.
func (s *service) close() {
	s.mu.Lock()
	s.closed = true

	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (s *service) untrack(sub *subscription) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}
