package servicebus_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	"github.com/next-trace/scg-event-bus/event"
	"github.com/next-trace/scg-event-bus/servicebus"
)

func Test_SubscribeFromHandler_DoesNotDeadlock(t *testing.T) {
	b := servicebus.New()

	var late int

	_ = b.Subscribe(t.Context(), "user.*", cbus.HandlerFunc(func(ctx context.Context, _ *event.Event) error {
		return b.Subscribe(ctx, "user.*", cbus.HandlerFunc(func(context.Context, *event.Event) error {
			late++
			return nil
		}))
	}))

	if err := b.Publish(t.Context(), mustEvent(t, "u1", "user.created", 1)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// registered during the publish: not visited by it
	if late != 0 {
		t.Fatalf("late handler ran %d times during the publish that added it", late)
	}

	if b.Subscriptions() != 2 {
		t.Fatalf("subscriptions=%d", b.Subscriptions())
	}
}

func Test_Publish_ContextCanceled(t *testing.T) {
	b := servicebus.New()

	var calls int

	_ = b.Subscribe(t.Context(), "a.b", cbus.HandlerFunc(func(context.Context, *event.Event) error {
		calls++
		return nil
	}))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := b.Publish(ctx, mustEvent(t, "e", "a.b", 1))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}

	if calls != 0 {
		t.Fatalf("handler ran after cancel")
	}
}

func Test_CaseInsensitiveMatch(t *testing.T) {
	b := servicebus.New()
	c := &counter{}

	_ = b.Subscribe(t.Context(), "Order.*", c)

	if err := b.Publish(t.Context(), mustEvent(t, "e", "order.CREATED", 3)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if c.value() != 3 {
		t.Fatalf("count=%d", c.value())
	}
}

func Test_WithLogger_DebugDispatch(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	b := servicebus.New(servicebus.WithLogger(logger))

	_ = b.Subscribe(t.Context(), "audit.*", cbus.HandlerFunc(func(context.Context, *event.Event) error { return nil }))

	if err := b.Publish(t.Context(), mustEvent(t, "e", "audit.login", 1)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if !strings.Contains(buf.String(), "topic=audit.login") {
		t.Fatalf("missing dispatch log: %s", buf.String())
	}

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
