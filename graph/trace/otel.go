package trace

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/genflow/workflow-engine/graph"
)

// OTelSink mirrors the recorder's span tree into an OpenTelemetry
// tracer. Because the recorder delivers spans only once they end, each
// OTel span is created at delivery time with explicit timestamps rather
// than kept open across the node's lifetime.
type OTelSink struct {
	tracer oteltrace.Tracer

	mu     sync.Mutex
	traces map[string]Trace
}

func NewOTelSink(tracer oteltrace.Tracer) *OTelSink {
	return &OTelSink{tracer: tracer, traces: make(map[string]Trace)}
}

func (o *OTelSink) RecordTrace(t Trace) error {
	o.mu.Lock()
	o.traces[t.TraceID] = t
	o.mu.Unlock()
	return nil
}

func (o *OTelSink) RecordSpan(s Span) error {
	_, span := o.tracer.Start(context.Background(), s.Name,
		oteltrace.WithTimestamp(s.StartedAt),
		oteltrace.WithSpanKind(oteltrace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("workflow.trace_id", s.TraceID),
		attribute.String("workflow.span_id", s.SpanID),
		attribute.String("workflow.parent_span_id", s.ParentSpanID),
		attribute.String("workflow.span_type", string(s.Type)),
		attribute.String("workflow.status", string(s.Status)),
		attribute.Int64("workflow.duration_ms", s.DurationMS),
		attribute.String("workflow.llm.cost_usd", s.Cost.String()),
		attribute.Int64("workflow.llm.tokens_in", s.Tokens.Prompt),
		attribute.Int64("workflow.llm.tokens_out", s.Tokens.Completion),
	)
	if s.Model != "" {
		span.SetAttributes(attribute.String("workflow.llm.model", s.Model))
	}
	if s.Provider != "" {
		span.SetAttributes(attribute.String("workflow.llm.provider", s.Provider))
	}
	if s.Error != "" {
		span.SetStatus(codes.Error, s.Error)
		span.RecordError(fmt.Errorf("%s", s.Error))
	}
	if s.CompletedAt != nil {
		span.End(oteltrace.WithTimestamp(*s.CompletedAt))
	} else {
		span.End()
	}
	return nil
}

func (o *OTelSink) FinalizeTrace(traceID string, status graph.Status) error {
	o.mu.Lock()
	t, ok := o.traces[traceID]
	if ok {
		delete(o.traces, traceID)
	}
	o.mu.Unlock()
	if !ok {
		return nil
	}

	_, span := o.tracer.Start(context.Background(), "workflow:"+t.WorkflowID,
		oteltrace.WithTimestamp(t.StartedAt),
	)
	span.SetAttributes(
		attribute.String("workflow.trace_id", t.TraceID),
		attribute.String("workflow.execution_id", t.ExecutionID),
		attribute.String("workflow.status", string(status)),
		attribute.String("workflow.total_cost_usd", t.TotalCost.String()),
		attribute.Int64("workflow.total_tokens", t.TotalTokens),
	)
	if status == graph.StatusFailed {
		span.SetStatus(codes.Error, "execution failed")
	}
	if t.CompletedAt != nil {
		span.End(oteltrace.WithTimestamp(*t.CompletedAt))
	} else {
		span.End()
	}
	return nil
}
