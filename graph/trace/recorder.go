package trace

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/genflow/workflow-engine/graph"
)

const defaultQueueDepth = 256

// Recorder maintains the span tree per trace and writes through a Sink
// from a single background goroutine. Writes are non-blocking for the
// executor: when the internal queue is full, the oldest non-finalize
// write is dropped and counted. FinalizeTrace is the one synchronous
// point — it flushes the queue and waits for the sink.
type Recorder struct {
	sink Sink
	log  zerolog.Logger

	mu     sync.Mutex
	traces map[string]*Trace
	spans  map[string]*Span

	queue  chan writeOp
	closed chan struct{}
	wg     sync.WaitGroup

	droppedWrites atomic.Int64
	sinkFailures  atomic.Int64
}

type writeOp struct {
	span     *Span
	trace    *Trace
	finalize *finalizeOp
}

type finalizeOp struct {
	traceID string
	status  graph.Status
	done    chan struct{}
}

// NewRecorder starts the recorder's writer goroutine. queueDepth <= 0
// selects the default. Close must be called to stop the writer.
func NewRecorder(sink Sink, log zerolog.Logger, queueDepth int) *Recorder {
	if sink == nil {
		sink = NullSink{}
	}
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	r := &Recorder{
		sink:   sink,
		log:    log,
		traces: make(map[string]*Trace),
		spans:  make(map[string]*Span),
		queue:  make(chan writeOp, queueDepth),
		closed: make(chan struct{}),
	}
	r.wg.Add(1)
	go r.writeLoop()
	return r
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	for {
		select {
		case op := <-r.queue:
			r.apply(op)
		case <-r.closed:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case op := <-r.queue:
					r.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) apply(op writeOp) {
	var err error
	switch {
	case op.finalize != nil:
		err = r.sink.FinalizeTrace(op.finalize.traceID, op.finalize.status)
		close(op.finalize.done)
	case op.span != nil:
		err = r.sink.RecordSpan(*op.span)
	case op.trace != nil:
		err = r.sink.RecordTrace(*op.trace)
	}
	if err != nil {
		r.sinkFailures.Add(1)
		r.log.Warn().Err(err).Msg("trace sink write failed")
	}
}

// enqueue adds op without ever blocking the caller. Overflow evicts the
// oldest queued write unless it is a finalize, which is never dropped.
func (r *Recorder) enqueue(op writeOp) {
	for {
		select {
		case r.queue <- op:
			return
		default:
			select {
			case old := <-r.queue:
				if old.finalize != nil {
					// Never drop a finalize; apply it inline instead.
					r.apply(old)
				} else {
					r.droppedWrites.Add(1)
				}
			default:
			}
		}
	}
}

// StartTrace opens the root record for one execution and returns the
// new trace id.
func (r *Recorder) StartTrace(workflowID, executionID string, userID *string) string {
	t := &Trace{
		TraceID:     uuid.NewString(),
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		UserID:      userID,
		StartedAt:   time.Now(),
		Status:      graph.StatusRunning,
		TotalCost:   decimal.Zero,
	}
	r.mu.Lock()
	r.traces[t.TraceID] = t
	r.mu.Unlock()

	r.enqueue(writeOp{trace: cloneTrace(t)})
	return t.TraceID
}

// StartSpan opens a span under parentSpanID (empty for the root span of
// the trace) and returns its id. Unknown traceIDs are tolerated — the
// span is still recorded, it just won't aggregate into trace totals.
func (r *Recorder) StartSpan(traceID, parentSpanID string, typ SpanType, name string) string {
	now := time.Now()
	s := &Span{
		SpanID:       uuid.NewString(),
		TraceID:      traceID,
		ParentSpanID: parentSpanID,
		Type:         typ,
		Name:         name,
		Status:       graph.StatusRunning,
		StartedAt:    now,
		Cost:         decimal.Zero,
		start:        now,
	}
	r.mu.Lock()
	r.spans[s.SpanID] = s
	r.mu.Unlock()
	return s.SpanID
}

// EndSpan closes spanID with the outcome in end, computes the
// millisecond duration from the monotonic clock, folds cost and tokens
// into the owning trace, and queues the write. Ending an unknown or
// already-ended span is a no-op.
func (r *Recorder) EndSpan(spanID string, end SpanEnd) {
	r.mu.Lock()
	s, ok := r.spans[spanID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.spans, spanID)

	now := time.Now()
	s.CompletedAt = &now
	s.DurationMS = time.Since(s.start).Milliseconds()
	s.Status = end.Status
	s.Inputs = end.Inputs.Clone()
	s.Outputs = end.Outputs.Clone()
	s.Cost = end.Cost
	s.Tokens = end.Tokens.Norm()
	s.Model = end.Model
	s.Provider = end.Provider
	s.Metadata = end.Metadata
	if end.Err != nil {
		s.Error = end.Err.Error()
	}

	if t, ok := r.traces[s.TraceID]; ok {
		t.TotalCost = t.TotalCost.Add(s.Cost)
		t.TotalTokens += s.Tokens.Total
	}
	snapshot := *s
	r.mu.Unlock()

	r.enqueue(writeOp{span: &snapshot})
}

// FinalizeTrace marks the trace terminal, flushes every buffered write
// ahead of it, and waits for the sink to confirm the finalize. This is
// the only Recorder operation that blocks on I/O.
func (r *Recorder) FinalizeTrace(traceID string, status graph.Status) {
	r.mu.Lock()
	t, ok := r.traces[traceID]
	if ok {
		now := time.Now()
		t.Status = status
		t.CompletedAt = &now
		delete(r.traces, traceID)
	}
	var final *Trace
	if ok {
		final = cloneTrace(t)
	}
	r.mu.Unlock()

	if final != nil {
		r.enqueue(writeOp{trace: final})
	}
	fin := &finalizeOp{traceID: traceID, status: status, done: make(chan struct{})}
	r.enqueue(writeOp{finalize: fin})
	<-fin.done
}

// DroppedWrites reports how many span/trace writes were evicted under
// queue pressure.
func (r *Recorder) DroppedWrites() int64 { return r.droppedWrites.Load() }

// SinkFailures reports how many sink writes returned an error.
func (r *Recorder) SinkFailures() int64 { return r.sinkFailures.Load() }

// Close stops the writer goroutine after draining the queue.
func (r *Recorder) Close() {
	close(r.closed)
	r.wg.Wait()
}

func cloneTrace(t *Trace) *Trace {
	c := *t
	return &c
}
