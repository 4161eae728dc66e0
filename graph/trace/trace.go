// Package trace records the span tree of every workflow execution:
// one workflow-type root span, a node span per executed node, a routing
// span per routed target, and whatever llm_call/retrieval/tool spans
// the nodes open underneath. The recorder buffers writes and flushes
// them through an injected Sink; a failing sink never fails the
// execution it observes.
package trace

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/genflow/workflow-engine/graph"
)

// SpanType classifies what a span measured.
type SpanType string

const (
	SpanWorkflow  SpanType = "workflow"
	SpanNode      SpanType = "node"
	SpanRouting   SpanType = "routing"
	SpanLLMCall   SpanType = "llm_call"
	SpanRetrieval SpanType = "retrieval"
	SpanTool      SpanType = "tool"
)

// Span is one timed operation within an execution. Spans form a tree
// rooted at the workflow span; ParentSpanID is empty only at the root.
// DurationMS is derived from a monotonic clock, not wall-clock
// subtraction, so it survives clock adjustments mid-run.
type Span struct {
	SpanID       string
	TraceID      string
	ParentSpanID string
	Type         SpanType
	Name         string
	Status       graph.Status
	StartedAt    time.Time
	CompletedAt  *time.Time
	DurationMS   int64
	Inputs       graph.NodeOutput
	Outputs      graph.NodeOutput
	Cost         decimal.Decimal
	Tokens       graph.TokenUsage
	Model        string
	Provider     string
	Error        string
	Metadata     map[string]interface{}

	start time.Time // monotonic reference captured at StartSpan
}

// Trace is the root record of one execution's span tree.
type Trace struct {
	TraceID     string
	WorkflowID  string
	ExecutionID string
	UserID      *string
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      graph.Status
	TotalCost   decimal.Decimal
	TotalTokens int64
	Metadata    map[string]interface{}
}

// SpanEnd carries everything EndSpan needs to close a span.
type SpanEnd struct {
	Status   graph.Status
	Inputs   graph.NodeOutput
	Outputs  graph.NodeOutput
	Cost     decimal.Decimal
	Tokens   graph.TokenUsage
	Model    string
	Provider string
	Err      error
	Metadata map[string]interface{}
}

// Sink is where the recorder persists traces and spans. Implementations
// may buffer internally and must be safe for concurrent writers.
type Sink interface {
	RecordTrace(t Trace) error
	RecordSpan(s Span) error
	FinalizeTrace(traceID string, status graph.Status) error
}

// NullSink discards everything. The default in tests.
type NullSink struct{}

func (NullSink) RecordTrace(Trace) error                       { return nil }
func (NullSink) RecordSpan(Span) error                         { return nil }
func (NullSink) FinalizeTrace(string, graph.Status) error      { return nil }
