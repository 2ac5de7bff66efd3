// Package tracing carries OpenTelemetry context across broker boundaries by
// implementing bus.HeaderPropagator over an otel TextMapPropagator.
package tracing

import (
	"context"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Propagator injects and extracts trace context through message headers.
type Propagator struct {
	tmp propagation.TextMapPropagator
}

var _ cbus.HeaderPropagator = Propagator{}

// New wraps tmp. A nil tmp uses W3C trace context and baggage.
func New(tmp propagation.TextMapPropagator) Propagator {
	if tmp == nil {
		tmp = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	}

	return Propagator{tmp: tmp}
}

// Global follows whatever propagator is installed with otel.SetTextMapPropagator.
func Global() Propagator { return Propagator{tmp: otel.GetTextMapPropagator()} }

func (p Propagator) Inject(ctx context.Context, headers map[string]string) {
	if headers == nil {
		return
	}

	p.tmp.Inject(ctx, propagation.MapCarrier(headers))
}

func (p Propagator) Extract(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}

	return p.tmp.Extract(ctx, propagation.MapCarrier(headers))
}
