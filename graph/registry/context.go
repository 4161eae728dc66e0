package registry

import (
	"context"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/trace"
)

// SecretResolver is the narrow credential-lookup interface the engine
// hands to nodes. graph/secret provides the implementations; nodes see
// only this.
type SecretResolver interface {
	Resolve(ctx context.Context, userID *string, logicalKey string, config map[string]graph.Value) (string, bool, error)
}

// EventEmitter is the node-scoped slice of the event bus: a node can
// report progress and sub-agent activity, nothing else. Lifecycle
// events stay with the scheduler.
type EventEmitter interface {
	Progress(payload map[string]interface{})
	AgentEvent(kind string, agent, task string, payload map[string]interface{})
}

// ExecutionContext carries the per-node collaborators a node may use
// during Execute. It rides on the context.Context so the Node interface
// stays a plain (ctx, inputs, config) call.
type ExecutionContext struct {
	ExecutionID string
	WorkflowID  string
	NodeID      string
	UserID      *string
	Secrets     SecretResolver
	Events      EventEmitter
	Recorder    *trace.Recorder
	TraceID     string
	NodeSpanID  string
}

type execCtxKey struct{}

// NewContext attaches ec to ctx for the duration of one node execution.
func NewContext(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, execCtxKey{}, ec)
}

// FromContext returns the ExecutionContext attached by the scheduler,
// or an empty one when the node runs outside an engine (unit tests).
func FromContext(ctx context.Context) *ExecutionContext {
	if ec, ok := ctx.Value(execCtxKey{}).(*ExecutionContext); ok {
		return ec
	}
	return &ExecutionContext{}
}

// StartChildSpan opens a span nested under the node's own span, for
// nodes that perform multiple traced operations (an agent's tool
// calls, a batched embedding call). Returns an empty id when no
// recorder is attached; EndChildSpan tolerates that.
func (ec *ExecutionContext) StartChildSpan(spanType trace.SpanType, name string) string {
	if ec.Recorder == nil {
		return ""
	}
	return ec.Recorder.StartSpan(ec.TraceID, ec.NodeSpanID, spanType, name)
}

// EndChildSpan closes a span opened with StartChildSpan.
func (ec *ExecutionContext) EndChildSpan(spanID string, end trace.SpanEnd) {
	if ec.Recorder == nil || spanID == "" {
		return
	}
	ec.Recorder.EndSpan(spanID, end)
}
