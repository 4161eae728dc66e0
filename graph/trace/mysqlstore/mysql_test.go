package mysqlstore

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/trace"
)

// Integration tests require a live MySQL instance; set
// WORKFLOW_MYSQL_DSN (e.g. "user:pass@tcp(127.0.0.1:3306)/traces?parseTime=true")
// to run them.
func testSink(t *testing.T) *Sink {
	t.Helper()
	dsn := os.Getenv("WORKFLOW_MYSQL_DSN")
	if dsn == "" {
		t.Skip("WORKFLOW_MYSQL_DSN not set")
	}
	s, err := New(dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTraceLifecycle(t *testing.T) {
	s := testSink(t)

	tr := trace.Trace{
		TraceID:     "it-trace-1",
		WorkflowID:  "wf-1",
		ExecutionID: "exec-1",
		Status:      graph.StatusRunning,
		StartedAt:   time.Now(),
		TotalCost:   decimal.Zero,
	}
	if err := s.RecordTrace(tr); err != nil {
		t.Fatalf("RecordTrace: %v", err)
	}

	now := time.Now()
	sp := trace.Span{
		SpanID:      "it-span-1",
		TraceID:     tr.TraceID,
		Type:        trace.SpanNode,
		Name:        "chat",
		Status:      graph.StatusCompleted,
		StartedAt:   now,
		CompletedAt: &now,
		DurationMS:  10,
		Cost:        decimal.RequireFromString("0.0005"),
		Tokens:      graph.TokenUsage{Prompt: 5, Completion: 5, Total: 10},
	}
	if err := s.RecordSpan(sp); err != nil {
		t.Fatalf("RecordSpan: %v", err)
	}
	if err := s.FinalizeTrace(tr.TraceID, graph.StatusCompleted); err != nil {
		t.Fatalf("FinalizeTrace: %v", err)
	}

	var status string
	if err := s.db.QueryRow(`SELECT status FROM workflow_traces WHERE trace_id = ?`, tr.TraceID).Scan(&status); err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "completed" {
		t.Fatalf("status = %q", status)
	}

	// Cleanup; spans cascade.
	_, _ = s.db.Exec(`DELETE FROM workflow_traces WHERE trace_id = ?`, tr.TraceID)
}
