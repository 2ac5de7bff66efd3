package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/event"
)

// Header keys written next to the propagated context on every outgoing message.
const (
	HeaderContentType = "content-type"
	HeaderEventID     = "event-id"
	HeaderEntityID    = "event-entity-id"

	contentTypeJSON = "application/json"
)

// ErrorHandler receives failures that happen inside a delivery loop: undecodable
// messages, handler errors and transient receive errors. The loop keeps running.
type ErrorHandler func(ctx context.Context, subject string, err error)

// Options are the settings shared by every broker adapter.
type Options struct {
	Logger     *slog.Logger
	Propagator cbus.HeaderPropagator
	OnError    ErrorHandler
}

// Option configures Options.
type Option func(*Options)

// WithLogger sets the adapter logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithPropagator sets the propagator used to carry context in message headers.
func WithPropagator(p cbus.HeaderPropagator) Option {
	return func(o *Options) {
		if p != nil {
			o.Propagator = p
		}
	}
}

// WithErrorHandler replaces the default delivery error handler, which logs.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *Options) { o.OnError = h }
}

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	o := Options{
		Logger:     slog.Default(),
		Propagator: cbus.NopHeaderPropagator{},
	}

	for _, f := range opts {
		f(&o)
	}

	if o.OnError == nil {
		logger := o.Logger
		o.OnError = func(ctx context.Context, subject string, err error) {
			logger.ErrorContext(ctx, "event delivery failed", "subject", subject, "error", err)
		}
	}

	return o
}

// Encode builds the wire envelope and outgoing headers for e.
func (o Options) Encode(ctx context.Context, e *event.Event) ([]byte, map[string]string, error) {
	data, err := event.Marshal(e)
	if err != nil {
		return nil, nil, err
	}

	headers := map[string]string{
		HeaderContentType: contentTypeJSON,
		HeaderEventID:     e.ID(),
		HeaderEntityID:    e.EntityID(),
	}

	o.Propagator.Inject(ctx, headers)

	return data, headers, nil
}

// Deliver decodes one message and hands the event to h under a context that
// carries whatever the propagator extracts from headers.
func (o Options) Deliver(ctx context.Context, data []byte, headers map[string]string, h cbus.Handler) error {
	e, err := event.Unmarshal(data)
	if err != nil {
		return err
	}

	return h.Handle(o.Propagator.Extract(ctx, headers), e)
}

// PublishFailed wraps a broker publish failure. Context errors are returned as is.
func PublishFailed(label string, e *event.Event, cause error) error {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}

	return fmt.Errorf("%s publish: %w", label, berr.Wrap(
		berr.ErrCodePublishFailed,
		cause,
		"could not publish event",
		berr.With("id", e.ID()).And("entity_id", e.EntityID()).And("topic", e.Topic()),
	))
}

// SubscribeFailed wraps a broker subscription failure.
func SubscribeFailed(label, subject, group string, cause error) error {
	md := berr.With("subject", subject).And("group", group)

	if cause == nil {
		return fmt.Errorf("%s subscribe: %w", label, berr.New(berr.ErrCodeSubscribeFailed, "invalid subject pattern", md))
	}

	return fmt.Errorf("%s subscribe: %w", label, berr.Wrap(berr.ErrCodeSubscribeFailed, cause, "could not subscribe to subject", md))
}

// QueueName names the shared queue for a (group, pattern) subscription. Every
// process subscribing the same pattern in the same group competes for messages;
// different patterns in one group receive their own copy.
func QueueName(group, pattern string) string { return group + "." + pattern }

// Lifecycle tracks the delivery goroutines of one bus and stops them on Close.
type Lifecycle struct {
	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLifecycle returns an open Lifecycle.
func NewLifecycle() *Lifecycle {
	ctx, cancel := context.WithCancel(context.Background())

	return &Lifecycle{ctx: ctx, cancel: cancel}
}

// Check returns ErrBusClosed once Close has been called.
func (l *Lifecycle) Check(label string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("%s: %w", label, berr.ErrBusClosed)
	}

	return nil
}

// Go runs loop in a tracked goroutine. The loop context is derived from parent
// and is also cancelled by Close. loop must return once its context is done.
func (l *Lifecycle) Go(parent context.Context, label string, loop func(ctx context.Context)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("%s: %w", label, berr.ErrBusClosed)
	}

	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(l.ctx, cancel)

	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		defer stop()
		defer cancel()

		loop(ctx)
	}()

	return nil
}

// Close cancels every loop and waits for them to return. It is idempotent and
// must not be called from inside a handler.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}

	l.closed = true
	l.cancel()
	l.mu.Unlock()

	l.wg.Wait()
}
