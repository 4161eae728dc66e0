package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating an OpenTelemetry span per
// event. Each span is a point in time (started and ended immediately),
// not a duration — duration comes from Payload["duration_ms"] if present.
type OTelEmitter struct {
	tracer trace.Tracer
}

func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Emit(event Event) {
	ctx := context.Background()
	_, span := o.tracer.Start(ctx, string(event.Kind))
	defer span.End()

	o.addStandardAttributes(span, event)
	o.addPayloadAttributes(span, event.Payload)

	if errMsg, ok := event.Payload["error"].(string); ok {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
}

func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		_, span := o.tracer.Start(ctx, string(event.Kind))
		o.addStandardAttributes(span, event)
		o.addPayloadAttributes(span, event.Payload)
		if errMsg, ok := event.Payload["error"].(string); ok {
			span.SetStatus(codes.Error, errMsg)
			span.RecordError(fmt.Errorf("%s", errMsg))
		}
		span.End()
	}
	return nil
}

// Flush force-flushes the global tracer provider if it supports it.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()

	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func (o *OTelEmitter) addStandardAttributes(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("workflow.execution_id", event.ExecutionID),
		attribute.Int64("workflow.seq", int64(event.Seq)),
		attribute.String("workflow.node_id", event.NodeID),
	)
	if event.Agent != "" {
		span.SetAttributes(attribute.String("workflow.sub.agent", event.Agent))
	}
	if event.Task != "" {
		span.SetAttributes(attribute.String("workflow.sub.task", event.Task))
	}
}

// addPayloadAttributes maps cost-tracking and free-form payload keys
// to span attributes, preferring semantic-convention-style names for
// the cost/latency fields the trace recorder always sets.
func (o *OTelEmitter) addPayloadAttributes(span trace.Span, payload map[string]interface{}) {
	for key, value := range payload {
		attrKey := key
		switch key {
		case "tokens_in":
			attrKey = "workflow.llm.tokens_in"
		case "tokens_out":
			attrKey = "workflow.llm.tokens_out"
		case "cost_usd":
			attrKey = "workflow.llm.cost_usd"
		case "latency_ms":
			attrKey = "workflow.node.latency_ms"
		case "model":
			attrKey = "workflow.llm.model"
		}

		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
