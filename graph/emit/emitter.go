package emit

import "context"

// Emitter receives and processes observability events from workflow
// execution. It is the pluggable sink under the per-execution event
// bus: logging, OpenTelemetry export, in-memory capture for tests.
//
// Implementations must be safe for concurrent callers and must not
// block the executing workflow — buffer, drop with a counter, or hand
// off asynchronously, but never stall the producer. Emit must not
// panic; failures are the emitter's own problem to log.
type Emitter interface {
	// Emit sends one event to the configured backend.
	Emit(event Event)

	// EmitBatch sends multiple events in a single operation, in order.
	// Individual event failures are logged and swallowed; the returned
	// error is reserved for catastrophic failures such as a closed
	// backend.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until buffered events are delivered or ctx ends.
	// Called at execution completion and process shutdown; must be
	// idempotent.
	Flush(ctx context.Context) error
}
