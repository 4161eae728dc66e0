// Package route synthesises a node's input map from the outputs of its
// ancestors. The pipeline has three phases: source collection (direct
// parents always, transitive ancestors for agent-like targets), a
// deterministic pattern-based merge with critical-field extraction and
// config injection, and an optional LLM-assisted pass that can fill
// gaps the deterministic rules could not. With intelligent routing off,
// the result is a pure function of the source outputs.
package route

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/emit"
	"github.com/genflow/workflow-engine/graph/model"
	"github.com/genflow/workflow-engine/graph/registry"
)

// Origin tags where a routed input value came from.
type Origin string

const (
	OriginDirect      Origin = "direct"
	OriginIndirect    Origin = "indirect"
	OriginExtraction  Origin = "extraction"
	OriginConfig      Origin = "config"
	OriginIntelligent Origin = "intelligent"
)

// Source is one upstream node whose outputs are available to the
// target. IsDirect marks parents connected by an edge; everything else
// is transitive context.
type Source struct {
	NodeID    string
	NodeType  string
	NodeLabel string
	Outputs   graph.NodeOutput
	IsDirect  bool
}

// Assignment records one routed key and its provenance, in the order
// decisions were made.
type Assignment struct {
	Key        string
	Origin     Origin
	SourceNode string
	SourceKey  string
}

// Result is the routed input map plus its provenance trail.
type Result struct {
	Inputs      graph.NodeOutput
	Assignments []Assignment
	Conflicts   []string // target keys two or more direct sources proposed
}

// Publisher is where the router emits routing.* events; the
// per-execution stream satisfies it. Nil disables emission.
type Publisher interface {
	Publish(evt emit.Event) emit.Event
}

// Options control one Route call.
type Options struct {
	UseIntelligentRouting bool
	// Seed carries the runtime inputs handed to an execution's entry
	// nodes. Seed keys overwrite everything: they are the user's own
	// direct input to the run.
	Seed graph.NodeOutput
}

const defaultIntelligentTimeout = 8 * time.Second

// Router computes node inputs. Model is consulted only when a Route
// call has intelligent routing enabled and the deterministic phases
// left a conflict or a gap; a nil Model means no usable LLM credential
// and disables the intelligent phase entirely.
type Router struct {
	Registry *registry.Registry
	Model    model.ChatModel
	Timeout  time.Duration
	Events   Publisher
	Log      zerolog.Logger
}

// New builds a Router with the deterministic phases only. Install
// Model/Events/Log by setting the fields before first use.
func New(reg *registry.Registry) *Router {
	return &Router{Registry: reg, Timeout: defaultIntelligentTimeout, Log: zerolog.Nop()}
}

// Route produces the input map for target. outputs holds the published
// output of every completed node; the scheduler guarantees all of
// target's parents are present before calling.
func (r *Router) Route(ctx context.Context, wf graph.Workflow, target graph.Node, outputs map[string]graph.NodeOutput, opts Options) (Result, error) {
	desc, err := r.Registry.Lookup(target.Type)
	if err != nil {
		return Result{}, err
	}

	r.publish(emit.Event{
		Kind:   emit.KindRoutingStarted,
		NodeID: target.ID,
		Payload: map[string]interface{}{
			"target_type":         target.Type,
			"intelligent_routing": opts.UseIntelligentRouting,
		},
	})

	sources := r.collect(wf, target, desc, outputs)

	res := Result{Inputs: graph.NodeOutput{}}
	r.smartMerge(sources, &res)
	r.extract(target, sources, &res)
	r.injectConfig(target, desc, &res)

	if opts.UseIntelligentRouting && r.Model != nil && r.needsIntelligent(desc, &res) {
		r.intelligent(ctx, target, desc, sources, &res)
	}

	if len(opts.Seed) > 0 {
		seedKeys := make([]string, 0, len(opts.Seed))
		for k := range opts.Seed {
			seedKeys = append(seedKeys, k)
		}
		sort.Strings(seedKeys)
		for _, k := range seedKeys {
			setKey(&res, k, opts.Seed[k], Assignment{Key: k, Origin: OriginDirect}, true)
		}
	}

	if err := r.Registry.ValidateInputs(target.Type, res.Inputs); err != nil {
		return Result{}, err
	}

	r.publish(emit.Event{
		Kind:    emit.KindRoutingCompleted,
		NodeID:  target.ID,
		Payload: completedPayload(&res),
	})
	return res, nil
}

// collect is phase R1: every completed direct parent, plus every
// completed transitive ancestor when the target's category asks for
// extended context. Direct sources come first in edge declaration
// order; indirect sources follow sorted by node id so the downstream
// phases iterate deterministically.
func (r *Router) collect(wf graph.Workflow, target graph.Node, desc registry.Descriptor, outputs map[string]graph.NodeOutput) []Source {
	var sources []Source
	direct := make(map[string]bool)

	for _, e := range wf.EdgesInto(target.ID) {
		if direct[e.SourceNodeID] {
			continue
		}
		out, ok := outputs[e.SourceNodeID]
		if !ok {
			continue
		}
		src := wf.Nodes[e.SourceNodeID]
		direct[e.SourceNodeID] = true
		sources = append(sources, Source{
			NodeID:    src.ID,
			NodeType:  src.Type,
			NodeLabel: src.Label,
			Outputs:   out,
			IsDirect:  true,
		})
	}

	if !desc.Category.WantsTransitiveContext() {
		return sources
	}

	seen := map[string]bool{target.ID: true}
	var stack []string
	for id := range direct {
		seen[id] = true
		stack = append(stack, id)
	}
	var indirectIDs []string
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range wf.EdgesInto(id) {
			if seen[e.SourceNodeID] {
				continue
			}
			seen[e.SourceNodeID] = true
			stack = append(stack, e.SourceNodeID)
			if _, ok := outputs[e.SourceNodeID]; ok {
				indirectIDs = append(indirectIDs, e.SourceNodeID)
			}
		}
	}
	sort.Strings(indirectIDs)
	for _, id := range indirectIDs {
		src := wf.Nodes[id]
		sources = append(sources, Source{
			NodeID:    src.ID,
			NodeType:  src.Type,
			NodeLabel: src.Label,
			Outputs:   outputs[id],
			IsDirect:  false,
		})
	}
	return sources
}

// injectConfig is phase R2c: any declared input still absent after the
// merge and extraction phases is filled from a same-named config
// literal, letting UI-entered defaults act as fallbacks.
func (r *Router) injectConfig(target graph.Node, desc registry.Descriptor, res *Result) {
	for _, f := range desc.Inputs {
		if _, ok := res.Inputs[f.Name]; ok {
			continue
		}
		v, ok := target.Config[f.Name]
		if !ok || v.IsZero() {
			continue
		}
		res.Inputs[f.Name] = v
		res.Assignments = append(res.Assignments, Assignment{
			Key:    f.Name,
			Origin: OriginConfig,
		})
	}
}

// needsIntelligent reports whether the deterministic result leaves a
// direct-source conflict or an unsatisfied required input.
func (r *Router) needsIntelligent(desc registry.Descriptor, res *Result) bool {
	if len(res.Conflicts) > 0 {
		return true
	}
	for _, name := range desc.RequiredInputs() {
		if v, ok := res.Inputs[name]; !ok || v.IsZero() {
			return true
		}
	}
	return false
}

func (r *Router) publish(evt emit.Event) {
	if r.Events != nil {
		r.Events.Publish(evt)
	}
}

func completedPayload(res *Result) map[string]interface{} {
	chosen := make(map[string]interface{}, len(res.Assignments))
	for _, a := range res.Assignments {
		entry := map[string]interface{}{"origin": string(a.Origin)}
		if a.SourceNode != "" {
			entry["source_node"] = a.SourceNode
		}
		if a.SourceKey != "" {
			entry["source_key"] = a.SourceKey
		}
		chosen[a.Key] = entry
	}
	payload := map[string]interface{}{"inputs": chosen}
	if len(res.Conflicts) > 0 {
		payload["conflicts"] = res.Conflicts
	}
	return payload
}
