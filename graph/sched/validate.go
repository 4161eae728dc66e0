package sched

import (
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/registry"
)

var structValidator = validator.New()

// Plan is the validated execution shape: adjacency, indegrees, entry
// nodes, and the reachable set. Everything the run loop needs is
// computed once here so execution touches no graph-shape logic.
type Plan struct {
	Order       []string            // every reachable node, topologically sorted
	Entries     []string            // designated entry nodes; by default every node with no incoming edges
	Successors  map[string][]string // node -> downstream nodes (deduplicated, sorted)
	Indegree    map[string]int      // distinct upstream nodes per reachable node
	Unreachable []string            // nodes never reachable from an entry
}

// Validate checks wf structurally and against the registry, then
// computes the Plan. entryIDs designates the run's entry points; nil
// means every node with no incoming edge. Nodes not reachable from the
// designated entries end up in Plan.Unreachable and are marked skipped
// by the executor before anything runs. Validate is pure: no events, no
// state mutation. Failures are graph.ErrUnknownNodeType,
// graph.ErrCyclicGraph, or a structural EngineError for malformed
// workflows.
func Validate(wf graph.Workflow, reg *registry.Registry, entryIDs []string) (Plan, error) {
	if err := structValidator.Struct(wf); err != nil {
		return Plan{}, &graph.EngineError{
			Message: fmt.Sprintf("workflow %q malformed: %v", wf.ID, err),
			Kind:    graph.KindInternal,
			Cause:   err,
		}
	}
	for id, n := range wf.Nodes {
		if n.ID != id {
			return Plan{}, &graph.EngineError{
				Message: fmt.Sprintf("node map key %q does not match node id %q", id, n.ID),
				Kind:    graph.KindInternal,
			}
		}
		if _, err := reg.Lookup(n.Type); err != nil {
			return Plan{}, err
		}
		if err := reg.ValidateConfig(n.Type, n.Config); err != nil {
			return Plan{}, err
		}
	}
	for _, e := range wf.Edges {
		if _, ok := wf.Nodes[e.SourceNodeID]; !ok {
			return Plan{}, &graph.EngineError{
				Message: fmt.Sprintf("edge %q references missing source node %q", e.ID, e.SourceNodeID),
				Kind:    graph.KindInternal,
			}
		}
		if _, ok := wf.Nodes[e.TargetNodeID]; !ok {
			return Plan{}, &graph.EngineError{
				Message: fmt.Sprintf("edge %q references missing target node %q", e.ID, e.TargetNodeID),
				Kind:    graph.KindInternal,
			}
		}
	}

	succ, indeg := adjacency(wf)
	order, ok := topoSort(wf, succ, indeg)
	if !ok {
		return Plan{}, &graph.EngineError{
			Message: fmt.Sprintf("workflow %q contains a cycle", wf.ID),
			Kind:    graph.KindCyclicGraph,
			Cause:   graph.ErrCyclicGraph,
		}
	}

	// Default entries are the nodes with no incoming edges.
	var entries []string
	if len(entryIDs) > 0 {
		for _, id := range entryIDs {
			if _, ok := wf.Nodes[id]; !ok {
				return Plan{}, &graph.EngineError{
					Message: fmt.Sprintf("entry node %q not in workflow", id),
					Kind:    graph.KindInternal,
				}
			}
			entries = append(entries, id)
		}
	} else {
		for _, id := range order {
			if indeg[id] == 0 {
				entries = append(entries, id)
			}
		}
	}
	sort.Strings(entries)

	reachable := make(map[string]bool, len(wf.Nodes))
	stack := append([]string(nil), entries...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachable[id] {
			continue
		}
		reachable[id] = true
		stack = append(stack, succ[id]...)
	}

	// Readiness counts only reachable parents: an edge whose source was
	// skipped as unreachable must not gate its target forever.
	reachIndeg := make(map[string]int, len(wf.Nodes))
	for id := range reachable {
		reachIndeg[id] = 0
	}
	counted := make(map[[2]string]bool)
	for _, e := range wf.Edges {
		if !reachable[e.SourceNodeID] || !reachable[e.TargetNodeID] {
			continue
		}
		pair := [2]string{e.SourceNodeID, e.TargetNodeID}
		if counted[pair] {
			continue
		}
		counted[pair] = true
		reachIndeg[e.TargetNodeID]++
	}

	var reachableOrder, unreachable []string
	for _, id := range order {
		if reachable[id] {
			reachableOrder = append(reachableOrder, id)
		} else {
			unreachable = append(unreachable, id)
		}
	}
	sort.Strings(unreachable)

	return Plan{
		Order:       reachableOrder,
		Entries:     entries,
		Successors:  succ,
		Indegree:    reachIndeg,
		Unreachable: unreachable,
	}, nil
}

// adjacency builds deduplicated successor lists and distinct-parent
// indegrees. Parallel edges between the same pair count once for
// readiness: a node is ready when each distinct upstream node finished.
func adjacency(wf graph.Workflow) (map[string][]string, map[string]int) {
	succSet := make(map[string]map[string]bool, len(wf.Nodes))
	for _, e := range wf.Edges {
		if succSet[e.SourceNodeID] == nil {
			succSet[e.SourceNodeID] = make(map[string]bool)
		}
		succSet[e.SourceNodeID][e.TargetNodeID] = true
	}

	succ := make(map[string][]string, len(succSet))
	indeg := make(map[string]int, len(wf.Nodes))
	for id := range wf.Nodes {
		indeg[id] = 0
	}
	for from, tos := range succSet {
		list := make([]string, 0, len(tos))
		for to := range tos {
			list = append(list, to)
			indeg[to]++
		}
		sort.Strings(list)
		succ[from] = list
	}
	return succ, indeg
}

// topoSort returns a deterministic topological order (Kahn's algorithm
// with a sorted frontier) and reports false when a cycle remains.
func topoSort(wf graph.Workflow, succ map[string][]string, indeg map[string]int) ([]string, bool) {
	remaining := make(map[string]int, len(indeg))
	for id, d := range indeg {
		remaining[id] = d
	}

	var frontier []string
	for id, d := range remaining {
		if d == 0 {
			frontier = append(frontier, id)
		}
	}
	sort.Strings(frontier)

	order := make([]string, 0, len(wf.Nodes))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		order = append(order, id)
		var unlocked []string
		for _, next := range succ[id] {
			remaining[next]--
			if remaining[next] == 0 {
				unlocked = append(unlocked, next)
			}
		}
		sort.Strings(unlocked)
		frontier = append(frontier, unlocked...)
	}
	return order, len(order) == len(wf.Nodes)
}
