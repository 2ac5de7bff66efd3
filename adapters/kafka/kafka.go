package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/next-trace/scg-event-bus/adapters/transport"
	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/event"
)

const label = "kafka"

// ErrStreamClosed is returned by Reader.Poll once the reader is closed.
var ErrStreamClosed = errors.New("kafka: reader closed")

// Record is one Kafka record as seen by the bus.
type Record struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Writer is a minimal Kafka-like writer interface.
type Writer interface {
	Write(ctx context.Context, rec Record) error
}

// Reader polls records for one consumer group.
type Reader interface {
	// Poll blocks until records arrive or ctx is done. Records and a partial
	// fetch error may be returned together.
	Poll(ctx context.Context) ([]Record, error)
	Close()
}

// Client writes records and opens group readers over every topic matching a regex.
type Client interface {
	Writer
	NewReader(group, topicRegex string) (Reader, error)
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

// Bus is the Kafka backed event bus. The event topic names the Kafka topic and
// the entity id keys the record, so events of one entity keep their order.
type Bus struct {
	client Client
	group  string
	opts   transport.Options
	life   *transport.Lifecycle
}

var _ cbus.Bus = (*Bus)(nil)

// New creates a Kafka bus with the provided client.
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

		val, headers, err := b.opts.Encode(ctx, e)
		if err != nil {
			return fmt.Errorf("%s publish serialize: %w", label, err)
		}

		rec := Record{Topic: e.Topic(), Key: []byte(e.EntityID()), Value: val, Headers: headers}
		if err := b.client.Write(ctx, rec); err != nil {
			return transport.PublishFailed(label, e, err)
		}
	}

	return nil
}

// Subscribe opens a group reader over every topic matching pattern.
func (b *Bus) Subscribe(ctx context.Context, pattern string, h cbus.Handler) error {
	if err := b.ready(ctx); err != nil {
		return err
	}

	if !event.ValidPattern(pattern) {
		return transport.SubscribeFailed(label, pattern, b.group, nil)
	}

	r, err := b.client.NewReader(transport.QueueName(b.group, pattern), TopicRegex(pattern))
	if err != nil {
		return transport.SubscribeFailed(label, pattern, b.group, err)
	}

	err = b.life.Go(ctx, label+" subscribe", func(ctx context.Context) {
		defer r.Close()
		b.deliver(ctx, pattern, r, h)
	})
	if err != nil {
		r.Close()
		return err
	}

	b.opts.Logger.DebugContext(ctx, "subscribed", slog.String("subject", pattern), slog.String("group", b.group))

	return nil
}

// Close stops every reader and waits for in-flight handlers.
func (b *Bus) Close() error {
	b.life.Close()
	return nil
}

func (b *Bus) deliver(ctx context.Context, pattern string, r Reader, h cbus.Handler) {
	for {
		recs, err := r.Poll(ctx)
		if ctx.Err() != nil || errors.Is(err, ErrStreamClosed) {
			return
		}

		if err != nil {
			b.opts.OnError(ctx, pattern, err)
		}

		for _, rec := range recs {
			if err := b.opts.Deliver(ctx, rec.Value, rec.Headers, h); err != nil {
				b.opts.OnError(ctx, rec.Topic, err)
			}
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

// TopicRegex translates a subject pattern to an anchored topic regex: "*" is
// one part and a trailing ">" is one or more parts.
func TopicRegex(pattern string) string {
	parts := event.Segments(pattern)
	out := make([]string, len(parts))

	for i, p := range parts {
		switch {
		case p == event.WildcardSingle:
			out[i] = `[^.]+`
		case p == event.WildcardTail && i == len(parts)-1:
			out[i] = `.+`
		default:
			out[i] = regexp.QuoteMeta(p)
		}
	}

	return "^" + strings.Join(out, `\.`) + "$"
}
