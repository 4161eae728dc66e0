package emit

import "context"

// NullEmitter discards every event. Useful when observability overhead
// is unwanted or event capture isn't needed (e.g. unit tests of nodes
// that don't care about the bus).
type NullEmitter struct{}

func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

func (n *NullEmitter) Emit(event Event) {}

func (n *NullEmitter) EmitBatch(_ context.Context, events []Event) error { return nil }

func (n *NullEmitter) Flush(_ context.Context) error { return nil }
