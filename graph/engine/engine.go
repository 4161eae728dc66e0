// Package engine is the execution façade: Start launches a workflow in
// the background and returns immediately; Status, Stream, and Cancel
// operate on the returned execution id. The engine owns one scheduler,
// event stream, and trace per execution and garbage-collects finished
// streams once the last subscriber detaches.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/busstream"
	"github.com/genflow/workflow-engine/graph/emit"
	"github.com/genflow/workflow-engine/graph/format"
	"github.com/genflow/workflow-engine/graph/metrics"
	"github.com/genflow/workflow-engine/graph/model"
	"github.com/genflow/workflow-engine/graph/registry"
	"github.com/genflow/workflow-engine/graph/route"
	"github.com/genflow/workflow-engine/graph/sched"
	"github.com/genflow/workflow-engine/graph/trace"
)

// StartOptions are the per-execution knobs a transport layer may set.
type StartOptions struct {
	UseIntelligentRouting bool
	TimeoutPerNode        time.Duration
	MaxRetriesPerNode     int // 0 = default (2), negative = none
	MaxConcurrentNodes    int
	UserID                *string
	EntryNodes            []string
	EntryInputs           graph.NodeOutput
}

// Engine wires the process-wide collaborators and tracks live
// executions. Construct once at startup with New; safe for concurrent
// use by any number of transport handlers.
type Engine struct {
	registry  *registry.Registry
	formats   *format.Registry
	traceSink trace.Sink
	recorder  *trace.Recorder
	secrets      registry.SecretResolver
	routerLM     model.ChatModel
	routeTimeout time.Duration
	metrics  *metrics.Metrics
	emitters []emit.Emitter
	log      zerolog.Logger

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	state  *graph.ExecutionState
	stream *busstream.Stream
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithFormatters sets the display formatter registry.
func WithFormatters(f *format.Registry) Option {
	return func(e *Engine) { e.formats = f }
}

// WithTraceSink routes trace writes to sink (NullSink by default).
func WithTraceSink(sink trace.Sink) Option {
	return func(e *Engine) { e.traceSink = sink }
}

// WithSecrets installs the credential resolver handed to nodes.
func WithSecrets(resolver registry.SecretResolver) Option {
	return func(e *Engine) { e.secrets = resolver }
}

// WithRoutingModel enables intelligent routing with the given chat
// model. Without it, use_intelligent_routing requests degrade to the
// deterministic router.
func WithRoutingModel(m model.ChatModel) Option {
	return func(e *Engine) { e.routerLM = m }
}

// WithRoutingTimeout bounds the intelligent-routing LLM call (8s when
// unset).
func WithRoutingTimeout(d time.Duration) Option {
	return func(e *Engine) { e.routeTimeout = d }
}

// WithMetrics installs the Prometheus instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithEmitters attaches process-wide emitters that receive every event
// of every execution alongside the per-execution subscribers.
func WithEmitters(emitters ...emit.Emitter) Option {
	return func(e *Engine) { e.emitters = append(e.emitters, emitters...) }
}

// WithLogger sets the internal diagnostic logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New constructs an Engine over the node registry.
func New(reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		formats:  format.NewRegistry(),
		log:      zerolog.Nop(),
		runs:     make(map[string]*run),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.traceSink == nil {
		e.traceSink = trace.NullSink{}
	}
	e.recorder = trace.NewRecorder(e.traceSink, e.log, 0)
	return e
}

// Close stops the trace recorder. Call after every execution finished.
func (e *Engine) Close() {
	e.recorder.Close()
}

// Start validates wf and launches it in the background, returning the
// new execution id. Validation failures are returned synchronously and
// leave no trace of the execution behind.
func (e *Engine) Start(wf graph.Workflow, opts StartOptions) (string, error) {
	// Validate before anything is allocated or observable, so a bad
	// workflow costs nothing.
	if _, err := sched.Validate(wf, e.registry, opts.EntryNodes); err != nil {
		return "", err
	}

	executionID := uuid.NewString()
	state := graph.NewExecutionState(executionID, wf, opts.UserID)
	stream := busstream.New(executionID, e.emitters...)
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{state: state, stream: stream, cancel: cancel, done: make(chan struct{})}

	stream.OnIdle(func() { e.remove(executionID) })

	e.mu.Lock()
	e.runs[executionID] = r
	e.mu.Unlock()

	router := route.New(e.registry)
	router.Model = e.routerLM
	router.Events = stream
	router.Log = e.log
	if e.routeTimeout > 0 {
		router.Timeout = e.routeTimeout
	}

	ex := &sched.Executor{
		Registry: e.registry,
		Router:   router,
		Formats:  e.formats,
		Recorder: e.recorder,
		Secrets:  e.secrets,
		Metrics:  e.metrics,
		Log:      e.log,
	}
	cfg := sched.Config{
		MaxConcurrent:         opts.MaxConcurrentNodes,
		MaxRetries:            opts.MaxRetriesPerNode,
		NodeTimeout:           opts.TimeoutPerNode,
		UseIntelligentRouting: opts.UseIntelligentRouting,
		EntryNodes:            opts.EntryNodes,
		EntryInputs:           opts.EntryInputs,
	}

	go func() {
		defer cancel()
		defer close(r.done)
		if err := ex.Run(ctx, wf, state, stream, cfg); err != nil {
			// Already validated above; reaching this is an engine bug.
			e.log.Error().Err(err).Str("execution", executionID).Msg("execution aborted at validation")
			state.Finish(graph.StatusFailed, &graph.ExecError{
				Kind: graph.KindOf(err), Message: err.Error(),
			})
			stream.Publish(emit.Event{Kind: emit.KindExecutionFailed, Payload: map[string]interface{}{
				"error": map[string]interface{}{"kind": string(graph.KindOf(err)), "message": err.Error()},
			}})
		}
	}()
	return executionID, nil
}

// Status returns an immutable snapshot of the execution's state.
func (e *Engine) Status(executionID string) (graph.ExecutionSnapshot, error) {
	r, err := e.lookup(executionID)
	if err != nil {
		return graph.ExecutionSnapshot{}, err
	}
	return r.state.Snapshot(), nil
}

// Stream subscribes to the execution's event stream: the backlog so
// far, in order, then live events. Close the subscription when done —
// terminal streams are garbage-collected once the last subscriber
// detaches. Closing the subscription never cancels the execution.
func (e *Engine) Stream(executionID string) (*busstream.Subscription, error) {
	r, err := e.lookup(executionID)
	if err != nil {
		return nil, err
	}
	return r.stream.Subscribe(0), nil
}

// Cancel requests cooperative cancellation. It returns immediately;
// the execution reaches a terminal state once in-flight nodes observe
// their cancellation tokens (bounded by the node timeout plus grace).
func (e *Engine) Cancel(executionID string) error {
	r, err := e.lookup(executionID)
	if err != nil {
		return err
	}
	r.cancel()
	return nil
}

// Wait blocks until the execution reaches a terminal state. Mostly for
// tests and CLI use; transports follow the stream instead.
func (e *Engine) Wait(executionID string) error {
	r, err := e.lookup(executionID)
	if err != nil {
		return err
	}
	<-r.done
	return nil
}

func (e *Engine) lookup(executionID string) (*run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[executionID]
	if !ok {
		return nil, &graph.EngineError{
			Message: fmt.Sprintf("unknown execution %q", executionID),
			Kind:    graph.KindInternal,
		}
	}
	return r, nil
}

func (e *Engine) remove(executionID string) {
	e.mu.Lock()
	delete(e.runs, executionID)
	e.mu.Unlock()
}
