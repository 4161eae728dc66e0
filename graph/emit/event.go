// Package emit provides the pluggable event-sink abstraction the
// workflow engine's Event Bus writes through. Kind values are the
// closed enumeration the engine emits: execution.*, node.*, routing.*,
// sub.* — never a free-form string a caller could misspell into silent
// nothing.
package emit

import "time"

// Kind is a closed event category. New kinds are added here, not
// invented ad hoc by callers.
type Kind string

const (
	KindExecutionStarted   Kind = "execution.started"
	KindExecutionCompleted Kind = "execution.completed"
	KindExecutionFailed    Kind = "execution.failed"
	KindExecutionCancelled Kind = "execution.cancelled"
	KindNodePending        Kind = "node.pending"
	KindNodeStarted        Kind = "node.started"
	KindNodeProgress       Kind = "node.progress"
	KindNodeCompleted      Kind = "node.completed"
	KindNodeFailed         Kind = "node.failed"
	KindNodeSkipped        Kind = "node.skipped"
	KindRoutingStarted     Kind = "routing.started"
	KindRoutingCompleted   Kind = "routing.completed"
	KindSubAgentStarted    Kind = "sub.agent_started"
	KindSubAgentThinking   Kind = "sub.agent_thinking"
	KindSubToolCalled      Kind = "sub.tool_called"
	KindSubAgentCompleted  Kind = "sub.agent_completed"
)

// lifecycleKinds never get dropped by backpressure: the execution
// terminal markers and the per-node start/end transitions, which a
// subscriber needs to reconstruct the run even under a lossy buffer.
var lifecycleKinds = map[Kind]bool{
	KindExecutionStarted:   true,
	KindExecutionCompleted: true,
	KindExecutionFailed:    true,
	KindExecutionCancelled: true,
	KindNodeStarted:        true,
	KindNodeCompleted:      true,
	KindNodeFailed:         true,
}

// IsLifecycle reports whether k must never be dropped under backpressure.
func IsLifecycle(k Kind) bool { return lifecycleKinds[k] }

// IsTerminal reports whether k marks the end of an execution's stream.
func IsTerminal(k Kind) bool {
	return k == KindExecutionCompleted || k == KindExecutionFailed || k == KindExecutionCancelled
}

// Event is one observation emitted during workflow execution. Seq and
// At are assigned by the execution-scoped event bus (graph/busstream),
// not by the emitter itself, so Seq is monotonic across every sink.
// Agent and Task are set only on sub.* events from multi-agent nodes;
// Payload is the kind-specific body and is opaque to the bus.
type Event struct {
	ExecutionID string
	Seq         uint64
	At          time.Time
	Kind        Kind
	NodeID      string
	Agent       string
	Task        string
	Payload     map[string]interface{}
}
