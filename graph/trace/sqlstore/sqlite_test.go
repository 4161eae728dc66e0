package sqlstore

import (
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/trace"
)

func newTestSink(t *testing.T) *Sink {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New(:memory:): %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTrace(id string) trace.Trace {
	return trace.Trace{
		TraceID:     id,
		WorkflowID:  "wf-1",
		ExecutionID: "exec-1",
		Status:      graph.StatusRunning,
		StartedAt:   time.Now(),
		TotalCost:   decimal.Zero,
	}
}

func TestRecordTraceAndFinalize(t *testing.T) {
	s := newTestSink(t)
	tr := sampleTrace("t-1")
	if err := s.RecordTrace(tr); err != nil {
		t.Fatalf("RecordTrace: %v", err)
	}
	if err := s.FinalizeTrace("t-1", graph.StatusCompleted); err != nil {
		t.Fatalf("FinalizeTrace: %v", err)
	}

	var status string
	var completed sql.NullString
	err := s.db.QueryRow(`SELECT status, completed_at FROM workflow_traces WHERE trace_id = ?`, "t-1").
		Scan(&status, &completed)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "completed" || !completed.Valid {
		t.Fatalf("status=%q completed=%v", status, completed)
	}
}

func TestRecordSpanRoundtrip(t *testing.T) {
	s := newTestSink(t)
	if err := s.RecordTrace(sampleTrace("t-1")); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	sp := trace.Span{
		SpanID:      "s-1",
		TraceID:     "t-1",
		Type:        trace.SpanNode,
		Name:        "chat",
		Status:      graph.StatusCompleted,
		StartedAt:   now,
		CompletedAt: &now,
		DurationMS:  42,
		Outputs:     graph.NodeOutput{"response": graph.FromString("hi")},
		Cost:        decimal.RequireFromString("0.001"),
		Tokens:      graph.TokenUsage{Prompt: 10, Completion: 5, Total: 15},
		Model:       "gpt-4o",
	}
	if err := s.RecordSpan(sp); err != nil {
		t.Fatalf("RecordSpan: %v", err)
	}

	var name, cost string
	var tokens int64
	err := s.db.QueryRow(`SELECT name, cost, tokens_total FROM workflow_spans WHERE span_id = ?`, "s-1").
		Scan(&name, &cost, &tokens)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if name != "chat" || cost != "0.001" || tokens != 15 {
		t.Fatalf("roundtrip: name=%q cost=%q tokens=%d", name, cost, tokens)
	}
}

func TestSweepDeletesOldTerminalTraces(t *testing.T) {
	s, err := New(":memory:", WithRetention(time.Hour, "0 3 * * *"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	old := sampleTrace("old")
	old.Status = graph.StatusCompleted
	past := time.Now().Add(-2 * time.Hour)
	old.CompletedAt = &past
	if err := s.RecordTrace(old); err != nil {
		t.Fatal(err)
	}

	fresh := sampleTrace("fresh")
	if err := s.RecordTrace(fresh); err != nil {
		t.Fatal(err)
	}

	s.Sweep()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM workflow_traces`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("traces after sweep = %d, want 1", n)
	}
}

func TestClosedSinkRejectsWrites(t *testing.T) {
	s := newTestSink(t)
	_ = s.Close()
	if err := s.RecordTrace(sampleTrace("t")); err == nil {
		t.Fatal("write to closed sink succeeded")
	}
}
