package cache

import (
	"context"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	"github.com/next-trace/scg-event-bus/event"
)

// Claimer marks a key as taken. It returns false when the key was already taken.
type Claimer interface {
	SetIfAbsent(ctx context.Context, key string, value bool) (bool, error)
}

// SetIfAbsent makes InMemory usable as a Claimer for the dedup handler.
func (c *InMemory[K, V]) SetIfAbsent(ctx context.Context, key K, value V) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; ok {
		return false, nil
	}

	c.items[key] = value

	return true, nil
}

// Dedup wraps h so that each event id is handled at most once per claimer.
// A Redis claimer shares claims across a consumer group. When h fails the claim
// is dropped through release, if given, so a redelivery can retry.
func Dedup(claims Claimer, release func(ctx context.Context, key string) error, h cbus.Handler) cbus.Handler {
	return cbus.HandlerFunc(func(ctx context.Context, e *event.Event) error {
		ok, err := claims.SetIfAbsent(ctx, e.ID(), true)
		if err != nil {
			return err
		}

		if !ok {
			return nil
		}

		if err := h.Handle(ctx, e); err != nil {
			if release != nil {
				_ = release(ctx, e.ID())
			}

			return err
		}

		return nil
	})
}
