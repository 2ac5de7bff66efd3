package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/next-trace/scg-event-bus/adapters/transport"
	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/event"
)

const label = "rabbitmq"

// PubMsg is one message bound for the events exchange.
type PubMsg struct {
	RoutingKey string
	Body       []byte
	Headers    map[string]string
}

// Delivery is one consumed message. Exactly one of Ack or Reject must be called.
type Delivery struct {
	RoutingKey string
	Body       []byte
	Headers    map[string]string
	Ack        func() error
	Reject     func() error
}

type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// Client publishes to a topic exchange and consumes from queues bound to it.
type Client interface {
	Publisher
	// Consume declares queue, binds it with bindingKey and streams its
	// deliveries. The channel is closed once ctx is done or the client closes.
	Consume(ctx context.Context, queue, bindingKey string) (<-chan Delivery, error)
}

type (
	Option       = transport.Option
	ErrorHandler = transport.ErrorHandler
)

var (
	WithLogger       = transport.WithLogger
	WithPropagator   = transport.WithPropagator
	WithErrorHandler = transport.WithErrorHandler
)

// Bus is the RabbitMQ backed event bus. Events are routed by topic through a
// topic exchange; each subscription owns a durable queue shared by its group.
type Bus struct {
	client Client
	group  string
	opts   transport.Options
	life   *transport.Lifecycle
}

var _ cbus.Bus = (*Bus)(nil)

func New(c Client, group string, opts ...Option) *Bus {
	return &Bus{
		client: c,
		group:  group,
		opts:   transport.NewOptions(opts...),
		life:   transport.NewLifecycle(),
	}
}

// Group returns the consumer group of the bus.
func (b *Bus) Group() string { return b.group }

func (b *Bus) Publish(ctx context.Context, events ...*event.Event) error {
	if err := b.ready(ctx); err != nil {
		return err
	}

	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return err
		}

		body, headers, err := b.opts.Encode(ctx, e)
		if err != nil {
			return fmt.Errorf("%s publish: %w", label, err)
		}

		if err := b.client.Publish(ctx, PubMsg{RoutingKey: e.Topic(), Body: body, Headers: headers}); err != nil {
			return transport.PublishFailed(label, e, err)
		}
	}

	return nil
}

// Subscribe binds the group queue for pattern and delivers its messages to h.
// Messages are acked after h succeeds and rejected without requeue otherwise.
func (b *Bus) Subscribe(ctx context.Context, pattern string, h cbus.Handler) error {
	if err := b.ready(ctx); err != nil {
		return err
	}

	if !validPattern(pattern) {
		return transport.SubscribeFailed(label, pattern, b.group, nil)
	}

	consumeCtx, cancel := context.WithCancel(ctx)

	deliveries, err := b.client.Consume(consumeCtx, transport.QueueName(b.group, pattern), BindingKey(pattern))
	if err != nil {
		cancel()
		return transport.SubscribeFailed(label, pattern, b.group, err)
	}

	err = b.life.Go(ctx, label+" subscribe", func(ctx context.Context) {
		defer cancel()
		b.deliver(ctx, pattern, deliveries, h)
	})
	if err != nil {
		cancel()
		return err
	}

	b.opts.Logger.DebugContext(ctx, "subscribed", slog.String("subject", pattern), slog.String("group", b.group))

	return nil
}

// Close stops every consumer and waits for in-flight handlers.
func (b *Bus) Close() error {
	b.life.Close()
	return nil
}

func (b *Bus) deliver(ctx context.Context, pattern string, deliveries <-chan Delivery, h cbus.Handler) {
	for {
		var (
			d  Delivery
			ok bool
		)

		select {
		case <-ctx.Done():
			return
		case d, ok = <-deliveries:
			if !ok {
				return
			}
		}

		if err := b.opts.Deliver(ctx, d.Body, d.Headers, h); err != nil {
			b.opts.OnError(ctx, d.RoutingKey, err)

			if rerr := d.Reject(); rerr != nil {
				b.opts.OnError(ctx, pattern, rerr)
			}

			continue
		}

		if err := d.Ack(); err != nil {
			b.opts.OnError(ctx, pattern, err)
		}
	}
}

func (b *Bus) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if b.client == nil {
		return fmt.Errorf("%s: %w: nil client", label, berr.ErrUnavailable)
	}

	return b.life.Check(label)
}

// validPattern also refuses a "#" part: AMQP would read it as a multi-part
// wildcard while every other bus matches it literally.
func validPattern(pattern string) bool {
	return event.ValidPattern(pattern) && !slices.Contains(event.Segments(pattern), amqpMultiWord)
}

const amqpMultiWord = "#"

// BindingKey translates a subject pattern to an AMQP topic binding. "*" keeps
// its meaning; a trailing ">" becomes "*.#" so that it still needs one part.
func BindingKey(pattern string) string {
	parts := event.Segments(pattern)
	if last := len(parts) - 1; parts[last] == event.WildcardTail {
		parts[last] = "*.#"
	}

	return strings.Join(parts, event.Separator)
}
