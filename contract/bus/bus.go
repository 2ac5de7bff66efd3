package bus

// Bus combines both sides of the event bus contract plus a lifecycle hook.
// Both the in-process bus and the broker-backed adapters satisfy it, so callers
// can depend on this interface and choose the transport at wiring time.
type Bus interface {
	Publisher
	Subscriber

	// Close releases transport resources and stops background delivery.
	Close() error
}
