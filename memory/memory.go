package memory

import (
	"log/slog"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	"github.com/next-trace/scg-event-bus/servicebus"
)

// New constructs an in-process event bus and returns it as a contract.Bus along
// with a cleanup function that closes the bus. A nil logger uses slog.Default().
func New(logger *slog.Logger) (cbus.Bus, func()) { //nolint:ireturn
	sb := servicebus.New(servicebus.WithLogger(logger))
	cleanup := func() { _ = sb.Close() }

	return sb, cleanup
}
