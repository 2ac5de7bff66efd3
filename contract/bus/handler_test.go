package bus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	"github.com/next-trace/scg-event-bus/event"
)

func TestHandlerFunc(t *testing.T) {
	e, err := event.New("1", "entity", "order.created", []byte("1"), time.Now())
	if err != nil {
		t.Fatalf("new event: %v", err)
	}

	var got *event.Event

	boom := errors.New("boom")

	var h cbus.Handler = cbus.HandlerFunc(func(_ context.Context, ev *event.Event) error {
		got = ev
		return boom
	})

	if err := h.Handle(t.Context(), e); !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}

	if got != e {
		t.Fatalf("handler saw %v", got)
	}
}

func TestNopHeaderPropagator(t *testing.T) {
	var p cbus.HeaderPropagator = cbus.NopHeaderPropagator{}

	h := map[string]string{}
	p.Inject(t.Context(), h)

	if len(h) != 0 {
		t.Fatalf("nop inject wrote headers: %v", h)
	}

	ctx := t.Context()
	if p.Extract(ctx, map[string]string{"traceparent": "x"}) != ctx {
		t.Fatalf("nop extract must return the same context")
	}
}
