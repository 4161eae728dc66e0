// Package sched validates a workflow and drives its execution: a
// bounded worker pool dispatches nodes as their parents complete,
// retries transient failures with jittered backoff, enforces per-node
// timeouts with a grace period, and propagates failure and cancellation
// to the rest of the run. One Executor call owns one ExecutionState.
package sched

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/busstream"
	"github.com/genflow/workflow-engine/graph/emit"
	"github.com/genflow/workflow-engine/graph/format"
	"github.com/genflow/workflow-engine/graph/metrics"
	"github.com/genflow/workflow-engine/graph/registry"
	"github.com/genflow/workflow-engine/graph/route"
	"github.com/genflow/workflow-engine/graph/trace"
)

// Config carries the per-run options of one execution.
type Config struct {
	// MaxConcurrent bounds the worker pool; <= 0 means min(8, node count).
	MaxConcurrent int
	// MaxRetries is the retry budget per node for transient failures.
	// 0 means the default of 2; pass a negative value for no retries.
	MaxRetries int
	// NodeTimeout caps a single node attempt; 0 means unlimited.
	NodeTimeout time.Duration
	// Grace is how long after a timeout or cancel the node gets to
	// return before it is abandoned; <= 0 means 2s.
	Grace time.Duration
	// BackoffBase/BackoffMax shape the retry backoff curve.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// UseIntelligentRouting enables the router's LLM-assisted phase.
	UseIntelligentRouting bool
	// EntryNodes designates the entry points; nil means every node
	// without incoming edges.
	EntryNodes []string
	// EntryInputs is the runtime input map handed to entry nodes.
	EntryInputs graph.NodeOutput
}

func (c Config) withDefaults(nodeCount int) Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
		if nodeCount < 8 {
			c.MaxConcurrent = nodeCount
		}
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	} else if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	return c
}

// Executor wires the registries and observers one execution needs. It
// is stateless across runs; the per-run state lives in the
// ExecutionState passed to Run.
type Executor struct {
	Registry *registry.Registry
	Router   *route.Router
	Formats  *format.Registry
	Recorder *trace.Recorder
	Secrets  registry.SecretResolver
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
}

type nodeDone struct {
	nodeID string
	status graph.Status
	err    error
}

// Run executes wf to a terminal state. Validation failures return an
// error before any event or state transition; every later failure is
// recorded on state and the returned error is nil.
func (ex *Executor) Run(ctx context.Context, wf graph.Workflow, state *graph.ExecutionState, stream *busstream.Stream, cfg Config) error {
	plan, err := Validate(wf, ex.Registry, cfg.EntryNodes)
	if err != nil {
		return err
	}
	cfg = cfg.withDefaults(len(plan.Order))

	state.Begin()
	traceID := ex.Recorder.StartTrace(wf.ID, state.ExecutionID, state.UserID)
	wfName := wf.Name
	if wfName == "" {
		wfName = wf.ID
	}
	wfSpan := ex.Recorder.StartSpan(traceID, "", trace.SpanWorkflow, wfName)

	stream.Publish(emit.Event{Kind: emit.KindExecutionStarted, Payload: map[string]interface{}{
		"workflow_id": wf.ID,
		"node_count":  len(plan.Order),
	}})

	for _, id := range plan.Unreachable {
		state.SetNodeStatus(id, graph.StatusSkipped)
		stream.Publish(emit.Event{Kind: emit.KindNodeSkipped, NodeID: id, Payload: map[string]interface{}{
			"reason": "unreachable",
		}})
	}
	for _, id := range plan.Order {
		stream.Publish(emit.Event{Kind: emit.KindNodePending, NodeID: id})
	}

	status, execErr := ex.runPool(ctx, wf, state, stream, cfg, plan, traceID, wfSpan)

	state.Finish(status, execErr)
	ex.Recorder.EndSpan(wfSpan, trace.SpanEnd{Status: status, Err: execErrToError(execErr)})
	ex.Recorder.FinalizeTrace(traceID, status)

	switch status {
	case graph.StatusCompleted:
		stream.Publish(emit.Event{Kind: emit.KindExecutionCompleted, Payload: totalsPayload(state)})
	case graph.StatusCancelled:
		stream.Publish(emit.Event{Kind: emit.KindExecutionCancelled, Payload: totalsPayload(state)})
	default:
		payload := totalsPayload(state)
		if execErr != nil {
			payload["error"] = map[string]interface{}{
				"kind":    string(execErr.Kind),
				"node_id": execErr.NodeID,
				"message": execErr.Message,
			}
		}
		stream.Publish(emit.Event{Kind: emit.KindExecutionFailed, Payload: payload})
	}
	ex.Metrics.ExecutionFinished(string(status))
	return nil
}

// runPool is the coordinator loop: dispatch ready nodes up to the
// concurrency bound, fold in completions, propagate failure and
// cancellation. It returns the execution's terminal status.
func (ex *Executor) runPool(ctx context.Context, wf graph.Workflow, state *graph.ExecutionState, stream *busstream.Stream, cfg Config, plan Plan, traceID, wfSpan string) (graph.Status, *graph.ExecError) {
	runCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	indeg := make(map[string]int, len(plan.Indegree))
	for id, d := range plan.Indegree {
		indeg[id] = d
	}
	var ready []string
	for _, id := range plan.Order {
		if indeg[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	for _, id := range ready {
		state.SetNodeStatus(id, graph.StatusReady)
	}

	entrySet := make(map[string]bool, len(plan.Entries))
	for _, id := range plan.Entries {
		entrySet[id] = true
	}

	doneCh := make(chan nodeDone)
	running := 0
	remaining := len(plan.Order)
	dispatched := make(map[string]bool, len(plan.Order))
	aborting := false
	var execErr *graph.ExecError
	finalStatus := graph.StatusCompleted

	var pool errgroup.Group
	pool.SetLimit(cfg.MaxConcurrent)
	defer func() { _ = pool.Wait() }()

	// Once aborting, stop selecting on the cancelled context or the
	// loop would spin; only drain the in-flight completions.
	ctxDone := runCtx.Done()

	for remaining > 0 {
		if !aborting {
			for len(ready) > 0 {
				id := ready[0]
				node := wf.Nodes[id]
				isEntry := entrySet[id]
				if !pool.TryGo(func() error {
					ex.runNode(runCtx, wf, node, state, stream, cfg, isEntry, traceID, wfSpan, doneCh)
					return nil
				}) {
					break
				}
				ready = ready[1:]
				dispatched[id] = true
				running++
			}
			ex.Metrics.SetQueueDepth(len(ready))
		}

		if running == 0 {
			break
		}

		select {
		case d := <-doneCh:
			running--
			remaining--
			if d.err == nil {
				for _, next := range plan.Successors[d.nodeID] {
					if _, tracked := indeg[next]; !tracked {
						continue
					}
					indeg[next]--
					if indeg[next] == 0 && !aborting {
						state.SetNodeStatus(next, graph.StatusReady)
						ready = insertSorted(ready, next)
					}
				}
				continue
			}
			if aborting {
				continue
			}
			aborting = true
			ctxDone = nil
			cancelAll()
			if d.status == graph.StatusCancelled {
				finalStatus = graph.StatusCancelled
			} else {
				finalStatus = graph.StatusFailed
				execErr = &graph.ExecError{
					Kind:    graph.KindOf(d.err),
					NodeID:  d.nodeID,
					Message: d.err.Error(),
				}
			}

		case <-ctxDone:
			aborting = true
			ctxDone = nil
			finalStatus = graph.StatusCancelled
		}
	}

	// Anything never dispatched is skipped: either its ancestor failed
	// or the run was cancelled before it became ready.
	for _, id := range plan.Order {
		if dispatched[id] {
			continue
		}
		state.SetNodeStatus(id, graph.StatusSkipped)
		reason := "ancestor_failed"
		if finalStatus == graph.StatusCancelled {
			reason = "execution_cancelled"
		}
		stream.Publish(emit.Event{Kind: emit.KindNodeSkipped, NodeID: id, Payload: map[string]interface{}{
			"reason": reason,
		}})
	}

	// An external cancel that arrived while everything in flight still
	// drained cleanly lands here with completed status; correct it.
	if ctx.Err() != nil && finalStatus == graph.StatusCompleted {
		finalStatus = graph.StatusCancelled
	}
	return finalStatus, execErr
}

// runNode executes one node end to end: routing, retries, timeout,
// formatting, publication. It reports the terminal outcome on doneCh.
func (ex *Executor) runNode(ctx context.Context, wf graph.Workflow, node graph.Node, state *graph.ExecutionState, stream *busstream.Stream, cfg Config, isEntry bool, traceID, wfSpan string, doneCh chan<- nodeDone) {
	started := time.Now()
	state.SetNodeStatus(node.ID, graph.StatusRunning)
	stream.Publish(emit.Event{Kind: emit.KindNodeStarted, NodeID: node.ID, Payload: map[string]interface{}{
		"node_type": node.Type,
	}})
	ex.Metrics.NodeStarted()

	nodeSpan := ex.Recorder.StartSpan(traceID, wfSpan, trace.SpanNode, spanName(node))

	finish := func(status graph.Status, err error, out graph.NodeOutput, cost decimal.Decimal, tokens graph.TokenUsage) {
		switch status {
		case graph.StatusCompleted:
			ex.Recorder.EndSpan(nodeSpan, trace.SpanEnd{
				Status: status, Outputs: out, Cost: cost, Tokens: tokens,
			})
			stream.Publish(emit.Event{Kind: emit.KindNodeCompleted, NodeID: node.ID, Payload: map[string]interface{}{
				"cost_usd": cost.String(),
				"tokens":   tokens.Norm().Total,
			}})
		default:
			state.SetNodeStatus(node.ID, status)
			ex.Recorder.EndSpan(nodeSpan, trace.SpanEnd{Status: status, Err: err})
			stream.Publish(emit.Event{Kind: emit.KindNodeFailed, NodeID: node.ID, Payload: map[string]interface{}{
				"error": err.Error(),
				"kind":  string(graph.KindOf(err)),
			}})
		}
		ex.Metrics.NodeFinished(node.Type, time.Since(started), string(status))
		doneCh <- nodeDone{nodeID: node.ID, status: status, err: err}
	}

	// Routing.
	routingSpan := ex.Recorder.StartSpan(traceID, nodeSpan, trace.SpanRouting, "route "+node.ID)
	routeOpts := route.Options{UseIntelligentRouting: cfg.UseIntelligentRouting}
	if isEntry {
		routeOpts.Seed = cfg.EntryInputs
	}
	res, err := ex.Router.Route(ctx, wf, node, state.CompletedOutputs(), routeOpts)
	if err != nil {
		ex.Recorder.EndSpan(routingSpan, trace.SpanEnd{Status: graph.StatusFailed, Err: err})
		finish(failureStatus(ctx, err), err, nil, decimal.Zero, graph.TokenUsage{})
		return
	}
	ex.Recorder.EndSpan(routingSpan, trace.SpanEnd{
		Status:   graph.StatusCompleted,
		Outputs:  res.Inputs,
		Metadata: map[string]interface{}{"conflicts": len(res.Conflicts)},
	})
	ex.Metrics.RoutingConflict(node.Type, len(res.Conflicts))

	// Node collaborators ride on the context.
	desc, err := ex.Registry.Lookup(node.Type)
	if err != nil {
		finish(graph.StatusFailed, err, nil, decimal.Zero, graph.TokenUsage{})
		return
	}
	impl := desc.Factory()
	nodeCtx := registry.NewContext(ctx, &registry.ExecutionContext{
		ExecutionID: state.ExecutionID,
		WorkflowID:  wf.ID,
		NodeID:      node.ID,
		UserID:      state.UserID,
		Secrets:     ex.Secrets,
		Events:      &nodeEmitter{stream: stream, nodeID: node.ID},
		Recorder:    ex.Recorder,
		TraceID:     traceID,
		NodeSpanID:  nodeSpan,
	})

	// Execute with retries. Retries are internal: one node.started, one
	// terminal event, whatever the attempt count.
	var out graph.NodeOutput
	var cost decimal.Decimal
	var tokens graph.TokenUsage
	for attempt := 0; ; attempt++ {
		out, cost, tokens, err = ex.invoke(nodeCtx, impl, res.Inputs, node.Config, cfg)
		if err == nil || !graph.Retryable(err) || attempt >= cfg.MaxRetries {
			break
		}
		ex.Metrics.Retry(node.Type)
		ex.Log.Debug().Str("node", node.ID).Int("attempt", attempt+1).Err(err).Msg("retrying node after transient failure")
		if !sleepCtx(ctx, computeBackoff(attempt, cfg.BackoffBase, cfg.BackoffMax)) {
			err = &graph.NodeError{Message: "cancelled during retry backoff", Kind: graph.KindCancelled, NodeID: node.ID, Cause: graph.ErrCancelled}
			break
		}
	}
	if err != nil {
		finish(failureStatus(ctx, err), err, nil, decimal.Zero, graph.TokenUsage{})
		return
	}

	// Attach display metadata. The reserved key always belongs to the
	// formatter layer, whatever the node emitted.
	md := ex.Formats.Apply(node.Type, out)
	if md.Error != "" {
		ex.Metrics.FormatterFailure(node.Type)
		ex.Log.Warn().Str("node", node.ID).Str("error", md.Error).Msg("formatter downgraded to json")
	}
	if out == nil {
		out = graph.NodeOutput{}
	}
	out[graph.DisplayMetadataKey] = md.ToValue()

	state.PublishOutput(node.ID, out, cost, tokens)
	finish(graph.StatusCompleted, nil, out, cost, tokens)
}

type invokeResult struct {
	out    graph.NodeOutput
	cost   decimal.Decimal
	tokens graph.TokenUsage
	err    error
}

// invoke runs one attempt under the per-node timeout. After a timeout
// (or an external cancel) the node gets cfg.Grace to observe its
// context and return; past that it is abandoned and its goroutine left
// to die with the context.
func (ex *Executor) invoke(ctx context.Context, impl registry.Node, inputs graph.NodeOutput, config map[string]graph.Value, cfg Config) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if cfg.NodeTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, cfg.NodeTimeout)
		defer cancel()
	}

	resCh := make(chan invokeResult, 1)
	go func() {
		out, cost, tokens, err := impl.Execute(attemptCtx, inputs, config)
		resCh <- invokeResult{out, cost, tokens, err}
	}()

	select {
	case r := <-resCh:
		return r.out, r.cost, r.tokens, r.err
	case <-attemptCtx.Done():
	}

	// The attempt context ended before the node returned. Give it the
	// grace period to observe cancellation.
	timer := time.NewTimer(cfg.Grace)
	defer timer.Stop()
	abandoned := false
	select {
	case <-resCh:
	case <-timer.C:
		abandoned = true
	}

	if ctx.Err() != nil && (cfg.NodeTimeout <= 0 || attemptCtx.Err() == context.Canceled) {
		// Parent cancellation, not a per-node deadline.
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: "node cancelled", Kind: graph.KindCancelled, Cause: graph.ErrCancelled,
		}
	}
	msg := fmt.Sprintf("node exceeded timeout of %v", cfg.NodeTimeout)
	if abandoned {
		msg += " and was abandoned after grace period"
	}
	return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
		Message: msg, Kind: graph.KindTimeout, Cause: graph.ErrTimeout,
	}
}

// nodeEmitter is the node-scoped event surface: progress and sub-agent
// events only, stamped with the node id.
type nodeEmitter struct {
	stream *busstream.Stream
	nodeID string
}

func (n *nodeEmitter) Progress(payload map[string]interface{}) {
	n.stream.Publish(emit.Event{Kind: emit.KindNodeProgress, NodeID: n.nodeID, Payload: payload})
}

var subKinds = map[string]emit.Kind{
	"agent_started":   emit.KindSubAgentStarted,
	"agent_thinking":  emit.KindSubAgentThinking,
	"tool_called":     emit.KindSubToolCalled,
	"agent_completed": emit.KindSubAgentCompleted,
}

func (n *nodeEmitter) AgentEvent(kind string, agent, task string, payload map[string]interface{}) {
	k, ok := subKinds[kind]
	if !ok {
		return
	}
	n.stream.Publish(emit.Event{Kind: k, NodeID: n.nodeID, Agent: agent, Task: task, Payload: payload})
}

func failureStatus(ctx context.Context, err error) graph.Status {
	if graph.KindOf(err) == graph.KindCancelled || ctx.Err() == context.Canceled {
		return graph.StatusCancelled
	}
	return graph.StatusFailed
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func insertSorted(list []string, s string) []string {
	i := sort.SearchStrings(list, s)
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = s
	return list
}

func spanName(n graph.Node) string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

func execErrToError(e *graph.ExecError) error {
	if e == nil {
		return nil
	}
	return &graph.NodeError{Message: e.Message, Kind: e.Kind, NodeID: e.NodeID}
}

func totalsPayload(state *graph.ExecutionState) map[string]interface{} {
	snap := state.Snapshot()
	return map[string]interface{}{
		"total_cost_usd": snap.TotalCost.String(),
		"total_tokens":   snap.TotalTokens,
	}
}
