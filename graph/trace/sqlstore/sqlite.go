// Package sqlstore persists traces and spans to SQLite. It is the
// zero-setup sink for development and single-process deployments: one
// database file, auto-migrated schema, WAL mode for concurrent reads.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/trace"
)

// Sink is a SQLite implementation of trace.Sink.
//
// Schema:
//   - workflow_traces: one row per execution, updated on finalize
//   - workflow_spans: one row per completed span
//
// A retention sweep, when enabled, deletes terminal traces (and their
// spans) older than the configured age on a cron schedule.
type Sink struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
	path   string

	sweeper   *cron.Cron
	retention time.Duration
	log       zerolog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithRetention enables the periodic sweep: traces whose completion is
// older than age are deleted on the given cron schedule (standard
// five-field spec, e.g. "17 3 * * *" for a nightly sweep).
func WithRetention(age time.Duration, schedule string) Option {
	return func(s *Sink) {
		s.retention = age
		s.sweeper = cron.New()
		_, _ = s.sweeper.AddFunc(schedule, s.sweep)
	}
}

// WithLogger sets the diagnostic logger for sweep and write errors.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Sink) { s.log = log }
}

// New opens (creating if needed) the SQLite database at path and
// migrates the schema. Use ":memory:" for tests.
func New(path string, opts ...Option) (*Sink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", path, err)
	}

	// SQLite supports a single writer; keep one connection and let the
	// WAL serve concurrent readers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlstore: %s: %w", pragma, err)
		}
	}

	s := &Sink{db: db, path: path, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	if s.sweeper != nil {
		s.sweeper.Start()
	}
	return s, nil
}

func (s *Sink) createTables(ctx context.Context) error {
	tracesTable := `
		CREATE TABLE IF NOT EXISTS workflow_traces (
			trace_id     TEXT PRIMARY KEY,
			workflow_id  TEXT NOT NULL,
			execution_id TEXT NOT NULL,
			user_id      TEXT,
			status       TEXT NOT NULL,
			started_at   TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			total_cost   TEXT NOT NULL DEFAULT '0',
			total_tokens INTEGER NOT NULL DEFAULT 0,
			metadata     TEXT
		)`
	spansTable := `
		CREATE TABLE IF NOT EXISTS workflow_spans (
			span_id        TEXT PRIMARY KEY,
			trace_id       TEXT NOT NULL REFERENCES workflow_traces(trace_id) ON DELETE CASCADE,
			parent_span_id TEXT,
			span_type      TEXT NOT NULL,
			name           TEXT NOT NULL,
			status         TEXT NOT NULL,
			started_at     TIMESTAMP NOT NULL,
			completed_at   TIMESTAMP,
			duration_ms    INTEGER NOT NULL DEFAULT 0,
			inputs         TEXT,
			outputs        TEXT,
			cost           TEXT NOT NULL DEFAULT '0',
			tokens_prompt  INTEGER NOT NULL DEFAULT 0,
			tokens_out     INTEGER NOT NULL DEFAULT 0,
			tokens_total   INTEGER NOT NULL DEFAULT 0,
			model          TEXT,
			provider       TEXT,
			error          TEXT,
			metadata       TEXT
		)`
	spanIndex := `CREATE INDEX IF NOT EXISTS idx_spans_trace ON workflow_spans(trace_id)`

	for _, stmt := range []string{tracesTable, spansTable, spanIndex} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordTrace upserts the trace row. The recorder writes the trace once
// at start and once with totals after finalize.
func (s *Sink) RecordTrace(t trace.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sqlstore: sink closed")
	}

	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal trace metadata: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO workflow_traces
			(trace_id, workflow_id, execution_id, user_id, status, started_at, completed_at, total_cost, total_tokens, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trace_id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			total_cost = excluded.total_cost,
			total_tokens = excluded.total_tokens,
			metadata = excluded.metadata`,
		t.TraceID, t.WorkflowID, t.ExecutionID, nullable(t.UserID), string(t.Status),
		t.StartedAt, t.CompletedAt, t.TotalCost.String(), t.TotalTokens, string(metadata))
	return err
}

// RecordSpan inserts one completed span.
func (s *Sink) RecordSpan(sp trace.Span) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sqlstore: sink closed")
	}

	inputs, err := json.Marshal(sp.Inputs)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal span inputs: %w", err)
	}
	outputs, err := json.Marshal(sp.Outputs)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal span outputs: %w", err)
	}
	metadata, err := json.Marshal(sp.Metadata)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal span metadata: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO workflow_spans
			(span_id, trace_id, parent_span_id, span_type, name, status, started_at, completed_at,
			 duration_ms, inputs, outputs, cost, tokens_prompt, tokens_out, tokens_total,
			 model, provider, error, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.SpanID, sp.TraceID, sp.ParentSpanID, string(sp.Type), sp.Name, string(sp.Status),
		sp.StartedAt, sp.CompletedAt, sp.DurationMS, string(inputs), string(outputs),
		sp.Cost.String(), sp.Tokens.Prompt, sp.Tokens.Completion, sp.Tokens.Total,
		sp.Model, sp.Provider, sp.Error, string(metadata))
	return err
}

// FinalizeTrace stamps the terminal status. The totals arrive via the
// preceding RecordTrace upsert.
func (s *Sink) FinalizeTrace(traceID string, status graph.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sqlstore: sink closed")
	}
	_, err := s.db.Exec(`
		UPDATE workflow_traces
		SET status = ?, completed_at = COALESCE(completed_at, CURRENT_TIMESTAMP)
		WHERE trace_id = ?`, string(status), traceID)
	return err
}

// sweep deletes terminal traces older than the retention age. Spans
// follow via the foreign-key cascade.
func (s *Sink) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.retention)
	res, err := s.db.Exec(`
		DELETE FROM workflow_traces
		WHERE completed_at IS NOT NULL AND completed_at < ?
		  AND status IN ('completed', 'failed', 'cancelled')`, cutoff)
	if err != nil {
		s.log.Warn().Err(err).Msg("trace retention sweep failed")
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Info().Int64("traces", n).Msg("trace retention sweep")
	}
}

// Sweep runs one retention pass immediately. Exposed for operational
// tooling and tests; the cron schedule calls the same path.
func (s *Sink) Sweep() { s.sweep() }

// Close stops the sweeper and closes the database.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	return s.db.Close()
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
