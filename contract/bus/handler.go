package bus

import (
	"context"

	"github.com/next-trace/scg-event-bus/event"
)

// Handler processes one delivered event.
// Implementations must be safe for concurrent use by multiple goroutines.
type Handler interface {
	Handle(ctx context.Context, e *event.Event) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, e *event.Event) error

func (f HandlerFunc) Handle(ctx context.Context, e *event.Event) error { return f(ctx, e) }

// Subscriber registers handlers against topic patterns.
// Patterns use "." separated parts, "*" for one part and a trailing ">" for the rest.
type Subscriber interface {
	Subscribe(ctx context.Context, pattern string, h Handler) error
}
