package updater

import (
	"context"
	"sync"

	"github.com/oshokin/machine-updater/internal/domain/update"
	"github.com/oshokin/machine-updater/internal/logger"
)

// DefaultSubscriptionBuffer is used when Subscribe is called with a non-positive buffer.
const DefaultSubscriptionBuffer = 256

// Subscription receives the events published after it was created.
type Subscription struct {
	bus    *Bus
	events chan update.Envelope
	done   chan struct{}
	once   sync.Once
}

// Events returns the event channel. It is never closed; select on Done as well.
func (s *Subscription) Events() <-chan update.Envelope {
	return s.events
}

// Done is closed by Close.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.bus.remove(s)
	})
}

// Bus fans events out to subscriptions.
//
// Step changes and end events are delivered with a blocking send. Log lines
// and progress events are dropped for a subscriber whose buffer is full, so a
// stalled reader never stalls the child's output pipes.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe attaches a new subscription with the given buffer size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}

	sub := &Subscription{
		bus:    b,
		events: make(chan update.Envelope, buffer),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Publish delivers env to every subscription.
func (b *Bus) Publish(ctx context.Context, env update.Envelope) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	critical := isCritical(env.Event)

	for _, sub := range subs {
		if critical {
			select {
			case sub.events <- env:
			case <-sub.done:
			}

			continue
		}

		select {
		case sub.events <- env:
		case <-sub.done:
		default:
			logger.WarnKV(ctx, "Subscriber is lagging, event dropped", "kind", env.Event.Kind())
		}
	}
}

// Len returns the number of attached subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

func isCritical(event update.Event) bool {
	switch event.(type) {
	case update.StepChange, update.End:
		return true
	default:
		return false
	}
}
