// Package mysqlstore persists traces and spans to MySQL for production
// deployments where many engine processes share one trace store. The
// schema mirrors graph/trace/sqlstore; writes are idempotent upserts so
// concurrent engines can share a database without coordination.
package mysqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/trace"
)

// Sink is a MySQL implementation of trace.Sink.
type Sink struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
	log    zerolog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithLogger sets the diagnostic logger for write errors.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Sink) { s.log = log }
}

// New connects with a go-sql-driver DSN (parseTime=true is required so
// DATETIME columns scan into time.Time) and migrates the schema.
func New(dsn string, opts ...Option) (*Sink, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysqlstore: open: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysqlstore: ping: %w", err)
	}

	s := &Sink{db: db, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysqlstore: migrate: %w", err)
	}
	return s, nil
}

func (s *Sink) createTables(ctx context.Context) error {
	tracesTable := `
		CREATE TABLE IF NOT EXISTS workflow_traces (
			trace_id     VARCHAR(64) PRIMARY KEY,
			workflow_id  VARCHAR(64) NOT NULL,
			execution_id VARCHAR(64) NOT NULL,
			user_id      VARCHAR(64),
			status       VARCHAR(16) NOT NULL,
			started_at   DATETIME(3) NOT NULL,
			completed_at DATETIME(3),
			total_cost   DECIMAL(18,6) NOT NULL DEFAULT 0,
			total_tokens BIGINT NOT NULL DEFAULT 0,
			metadata     JSON,
			INDEX idx_traces_execution (execution_id),
			INDEX idx_traces_workflow (workflow_id)
		) ENGINE=InnoDB`
	spansTable := `
		CREATE TABLE IF NOT EXISTS workflow_spans (
			span_id        VARCHAR(64) PRIMARY KEY,
			trace_id       VARCHAR(64) NOT NULL,
			parent_span_id VARCHAR(64),
			span_type      VARCHAR(16) NOT NULL,
			name           VARCHAR(255) NOT NULL,
			status         VARCHAR(16) NOT NULL,
			started_at     DATETIME(3) NOT NULL,
			completed_at   DATETIME(3),
			duration_ms    BIGINT NOT NULL DEFAULT 0,
			inputs         JSON,
			outputs        JSON,
			cost           DECIMAL(18,6) NOT NULL DEFAULT 0,
			tokens_prompt  BIGINT NOT NULL DEFAULT 0,
			tokens_out     BIGINT NOT NULL DEFAULT 0,
			tokens_total   BIGINT NOT NULL DEFAULT 0,
			model          VARCHAR(128),
			provider       VARCHAR(64),
			error          TEXT,
			metadata       JSON,
			INDEX idx_spans_trace (trace_id),
			CONSTRAINT fk_spans_trace FOREIGN KEY (trace_id)
				REFERENCES workflow_traces(trace_id) ON DELETE CASCADE
		) ENGINE=InnoDB`

	for _, stmt := range []string{tracesTable, spansTable} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) RecordTrace(t trace.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mysqlstore: sink closed")
	}

	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("mysqlstore: marshal trace metadata: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO workflow_traces
			(trace_id, workflow_id, execution_id, user_id, status, started_at, completed_at, total_cost, total_tokens, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			completed_at = VALUES(completed_at),
			total_cost = VALUES(total_cost),
			total_tokens = VALUES(total_tokens),
			metadata = VALUES(metadata)`,
		t.TraceID, t.WorkflowID, t.ExecutionID, nullable(t.UserID), string(t.Status),
		t.StartedAt, t.CompletedAt, t.TotalCost.String(), t.TotalTokens, string(metadata))
	return err
}

func (s *Sink) RecordSpan(sp trace.Span) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mysqlstore: sink closed")
	}

	inputs, err := json.Marshal(sp.Inputs)
	if err != nil {
		return fmt.Errorf("mysqlstore: marshal span inputs: %w", err)
	}
	outputs, err := json.Marshal(sp.Outputs)
	if err != nil {
		return fmt.Errorf("mysqlstore: marshal span outputs: %w", err)
	}
	metadata, err := json.Marshal(sp.Metadata)
	if err != nil {
		return fmt.Errorf("mysqlstore: marshal span metadata: %w", err)
	}
	_, err = s.db.Exec(`
		REPLACE INTO workflow_spans
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

func (s *Sink) FinalizeTrace(traceID string, status graph.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mysqlstore: sink closed")
	}
	_, err := s.db.Exec(`
		UPDATE workflow_traces
		SET status = ?, completed_at = COALESCE(completed_at, NOW(3))
		WHERE trace_id = ?`, string(status), traceID)
	return err
}

// Close closes the connection pool.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies connectivity; used by health checks.
func (s *Sink) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
