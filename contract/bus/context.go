package bus

import "context"

// HeaderPropagator carries request-scoped context across the broker boundary.
// Inject writes into outgoing transport headers; Extract rebuilds a context from
// incoming headers. Implementations must be safe for concurrent use.
type HeaderPropagator interface {
	Inject(ctx context.Context, headers map[string]string)
	Extract(ctx context.Context, headers map[string]string) context.Context
}

// NopHeaderPropagator carries nothing. It is the adapters' default.
type NopHeaderPropagator struct{}

func (NopHeaderPropagator) Inject(context.Context, map[string]string) {}

func (NopHeaderPropagator) Extract(ctx context.Context, _ map[string]string) context.Context {
	return ctx
}
