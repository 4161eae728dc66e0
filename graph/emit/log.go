package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// LogEmitter implements Emitter by writing structured log output to a
// writer. Text mode writes human-readable key=value lines; JSON mode
// writes one JSON object per line (JSONL) in the same shape a transport
// layer would serialise onto a server-sent-events stream.
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter. A nil writer defaults to os.Stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		ExecutionID string                 `json:"execution_id"`
		Seq         uint64                 `json:"seq"`
		At          string                 `json:"at"`
		Kind        Kind                   `json:"kind"`
		NodeID      string                 `json:"node_id,omitempty"`
		Agent       string                 `json:"agent,omitempty"`
		Task        string                 `json:"task,omitempty"`
		Payload     map[string]interface{} `json:"payload,omitempty"`
	}{
		ExecutionID: event.ExecutionID,
		Seq:         event.Seq,
		At:          event.At.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Kind:        event.Kind,
		NodeID:      event.NodeID,
		Agent:       event.Agent,
		Task:        event.Task,
		Payload:     event.Payload,
	})
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s] execution=%s seq=%d", event.Kind, event.ExecutionID, event.Seq)
	if event.NodeID != "" {
		_, _ = fmt.Fprintf(l.writer, " node=%s", event.NodeID)
	}
	if event.Agent != "" {
		_, _ = fmt.Fprintf(l.writer, " agent=%s", event.Agent)
	}
	if !event.At.IsZero() {
		_, _ = fmt.Fprintf(l.writer, " at=%s", event.At.UTC().Format(time.RFC3339))
	}
	if len(event.Payload) > 0 {
		payloadJSON, err := json.Marshal(event.Payload)
		if err == nil {
			_, _ = fmt.Fprintf(l.writer, " payload=%s", payloadJSON)
		} else {
			_, _ = fmt.Fprintf(l.writer, " payload=%v", event.Payload)
		}
	}
	_, _ = fmt.Fprint(l.writer, "\n")
}

// EmitBatch writes events in order by calling Emit for each one.
func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, event := range events {
		l.Emit(event)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes directly without buffering. Wrap
// the writer in a bufio.Writer and flush that directly if needed.
func (l *LogEmitter) Flush(_ context.Context) error {
	return nil
}
