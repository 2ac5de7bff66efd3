package bus

import (
	"context"

	"github.com/next-trace/scg-event-bus/event"
)

// Publisher submits events for delivery to every matching subscription.
// A failure part-way through a batch leaves earlier events delivered.
type Publisher interface {
	Publish(ctx context.Context, events ...*event.Event) error
}
