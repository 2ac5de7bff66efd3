package servicebus

import (
	"context"
	"log/slog"
	"sync"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	"github.com/next-trace/scg-event-bus/event"
)

// Bus is the in-process event bus. Subscriptions are (pattern, handler) pairs
// kept in registration order; Publish invokes every matching handler
// synchronously, one at a time.
//
// Bus is concurrency-safe and contains no global state. Share the *Bus to share
// the registry.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription

	logger *slog.Logger
}

type subscription struct {
	pattern string
	handler cbus.Handler
}

// Ensure Bus implements the combined contract.
var _ cbus.Bus = (*Bus)(nil)

// Option configures a Bus instance.
type Option func(*Bus)

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// New constructs an empty in-process bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make([]subscription, 0, 10),
		logger: slog.Default(),
	}

	for _, o := range opts {
		o(b)
	}

	return b
}

// Subscribe registers h for topics matching pattern. It never fails and does not
// detect duplicates: the same handler registered twice runs twice.
func (b *Bus) Subscribe(_ context.Context, pattern string, h cbus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs = append(b.subs, subscription{pattern: pattern, handler: h})

	return nil
}

// Publish delivers each event, in order, to every subscription whose pattern
// matches its topic, in registration order, waiting for each handler.
//
// The registry is read once per call; subscriptions added while a publish is
// running are not visited by it. The first handler error stops the call and is
// returned as is. Handlers already invoked keep their side effects.
func (b *Bus) Publish(ctx context.Context, events ...*event.Event) error {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.RUnlock()

	for _, e := range events {
		for _, s := range subs {
			if !event.MatchTopic(s.pattern, e.Topic()) {
				continue
			}

			if err := ctx.Err(); err != nil {
				return err
			}

			b.logger.DebugContext(ctx, "dispatch event",
				"topic", e.Topic(), "id", e.ID(), "pattern", s.pattern)

			if err := s.handler.Handle(ctx, e); err != nil {
				return err
			}
		}
	}

	return nil
}

// Subscriptions returns the number of registered subscriptions.
func (b *Bus) Subscriptions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}

// Close is a no-op; the in-process bus holds no external resources.
func (b *Bus) Close() error { return nil }
