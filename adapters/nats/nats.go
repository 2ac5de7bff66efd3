package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/next-trace/scg-event-bus/adapters/transport"
	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/event"
)

const label = "nats"

// ErrStreamClosed is returned by Subscription.Next once the subscription or the
// connection behind it is gone. The delivery loop stops on it.
var ErrStreamClosed = errors.New("nats: subscription stream closed")

// Msg is one message received from a subscription.
type Msg struct {
	Subject string
	Data    []byte
	Headers map[string]string
}

// Subscription is a pull-style queue subscription.
type Subscription interface {
	// Next blocks until a message arrives or ctx is done.
	Next(ctx context.Context) (Msg, error)
	Unsubscribe() error
}

// Client is a minimal NATS-like interface decoupled from any concrete library.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Client interface {
	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error
	// QueueSubscribe joins queue on subject. Subject may contain wildcards.
	QueueSubscribe(subject, queue string) (Subscription, error)
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

// Bus is the NATS backed event bus. Events are published to their topic as
// subject; every subscription is a queue subscription scoped to the bus group.
type Bus struct {
	client Client
	group  string
	opts   transport.Options
	life   *transport.Lifecycle
}

var _ cbus.Bus = (*Bus)(nil)

// New creates a bus on client. All subscriptions join queues of group.
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

// Publish sends each event to the subject named by its topic, in order. It stops
// at the first failure.
func (b *Bus) Publish(ctx context.Context, events ...*event.Event) error {
	if err := b.ready(ctx); err != nil {
		return err
	}

	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, headers, err := b.opts.Encode(ctx, e)
		if err != nil {
			return fmt.Errorf("%s publish: %w", label, err)
		}

		if err := b.client.Publish(e.Topic(), data, headers); err != nil {
			return transport.PublishFailed(label, e, err)
		}
	}

	return nil
}

// Subscribe joins the queue for pattern and delivers every received event to h
// on a background goroutine. Delivery stops when ctx is done or the bus closes.
func (b *Bus) Subscribe(ctx context.Context, pattern string, h cbus.Handler) error {
	if err := b.ready(ctx); err != nil {
		return err
	}

	if !event.ValidPattern(pattern) {
		return transport.SubscribeFailed(label, pattern, b.group, nil)
	}

	sub, err := b.client.QueueSubscribe(pattern, transport.QueueName(b.group, pattern))
	if err != nil {
		return transport.SubscribeFailed(label, pattern, b.group, err)
	}

	err = b.life.Go(ctx, label+" subscribe", func(ctx context.Context) {
		b.deliver(ctx, pattern, sub, h)
	})
	if err != nil {
		_ = sub.Unsubscribe()
		return err
	}

	b.opts.Logger.DebugContext(ctx, "subscribed", slog.String("subject", pattern), slog.String("group", b.group))

	return nil
}

// Close stops every delivery loop and waits for in-flight handlers.
// The underlying connection is left open.
func (b *Bus) Close() error {
	b.life.Close()
	return nil
}

func (b *Bus) deliver(ctx context.Context, pattern string, sub Subscription, h cbus.Handler) {
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, ErrStreamClosed) {
			b.opts.Logger.DebugContext(ctx, "unsubscribe", slog.String("subject", pattern), slog.Any("error", err))
		}
	}()

	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrStreamClosed) {
				return
			}

			b.opts.OnError(ctx, pattern, err)

			continue
		}

		if err := b.opts.Deliver(ctx, msg.Data, msg.Headers, h); err != nil {
			b.opts.OnError(ctx, msg.Subject, err)
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
