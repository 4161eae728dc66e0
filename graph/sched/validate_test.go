package sched

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/registry"
)

func passthrough() registry.Node {
	return registry.NodeFunc(func(_ context.Context, inputs graph.NodeOutput, _ map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
		return inputs, decimal.Zero, graph.TokenUsage{}, nil
	})
}

func simpleRegistry(t *testing.T, types ...string) *registry.Registry {
	t.Helper()
	r := registry.New()
	for _, typ := range types {
		r.MustRegister(registry.Descriptor{Type: typ, Category: registry.CategoryTransform, Factory: passthrough})
	}
	return r
}

func wfOf(nodes []graph.Node, edges []graph.Edge) graph.Workflow {
	m := make(map[string]graph.Node, len(nodes))
	for _, n := range nodes {
		m[n.ID] = n
	}
	return graph.Workflow{ID: "wf", Nodes: m, Edges: edges}
}

func TestValidateAcceptsDAG(t *testing.T) {
	reg := simpleRegistry(t, "t")
	wf := wfOf(
		[]graph.Node{{ID: "a", Type: "t"}, {ID: "b", Type: "t"}, {ID: "c", Type: "t"}},
		[]graph.Edge{
			{ID: "e1", SourceNodeID: "a", TargetNodeID: "b"},
			{ID: "e2", SourceNodeID: "b", TargetNodeID: "c"},
			{ID: "e3", SourceNodeID: "a", TargetNodeID: "c"},
		},
	)
	plan, err := Validate(wf, reg, nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(plan.Order) != 3 || plan.Order[0] != "a" {
		t.Errorf("order = %v", plan.Order)
	}
	if len(plan.Entries) != 1 || plan.Entries[0] != "a" {
		t.Errorf("entries = %v", plan.Entries)
	}
	if plan.Indegree["c"] != 2 {
		t.Errorf("indegree[c] = %d", plan.Indegree["c"])
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	reg := simpleRegistry(t, "t")
	wf := wfOf(
		[]graph.Node{{ID: "a", Type: "t"}, {ID: "b", Type: "t"}},
		[]graph.Edge{
			{ID: "e1", SourceNodeID: "a", TargetNodeID: "b"},
			{ID: "e2", SourceNodeID: "b", TargetNodeID: "a"},
		},
	)
	_, err := Validate(wf, reg, nil)
	if !errors.Is(err, graph.ErrCyclicGraph) {
		t.Fatalf("err = %v, want ErrCyclicGraph", err)
	}
}

func TestValidateRejectsUnknownNodeType(t *testing.T) {
	reg := simpleRegistry(t, "t")
	wf := wfOf([]graph.Node{{ID: "a", Type: "mystery"}}, nil)
	_, err := Validate(wf, reg, nil)
	if !errors.Is(err, graph.ErrUnknownNodeType) {
		t.Fatalf("err = %v, want ErrUnknownNodeType", err)
	}
}

func TestValidateRejectsDanglingEdge(t *testing.T) {
	reg := simpleRegistry(t, "t")
	wf := wfOf(
		[]graph.Node{{ID: "a", Type: "t"}},
		[]graph.Edge{{ID: "e1", SourceNodeID: "a", TargetNodeID: "ghost"}},
	)
	if _, err := Validate(wf, reg, nil); err == nil {
		t.Fatal("dangling edge accepted")
	}
}

func TestValidateRejectsMissingIDs(t *testing.T) {
	reg := simpleRegistry(t, "t")
	wf := graph.Workflow{ID: "", Nodes: map[string]graph.Node{"a": {ID: "a", Type: "t"}}}
	if _, err := Validate(wf, reg, nil); err == nil {
		t.Fatal("workflow without id accepted")
	}
}

func TestValidateDesignatedEntriesSkipUpstream(t *testing.T) {
	reg := simpleRegistry(t, "t")
	// a -> b -> c ; entry designated at b, so a is unreachable.
	wf := wfOf(
		[]graph.Node{{ID: "a", Type: "t"}, {ID: "b", Type: "t"}, {ID: "c", Type: "t"}},
		[]graph.Edge{
			{ID: "e1", SourceNodeID: "a", TargetNodeID: "b"},
			{ID: "e2", SourceNodeID: "b", TargetNodeID: "c"},
		},
	)
	plan, err := Validate(wf, reg, []string{"b"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(plan.Unreachable) != 1 || plan.Unreachable[0] != "a" {
		t.Errorf("unreachable = %v", plan.Unreachable)
	}
	if plan.Indegree["b"] != 0 {
		t.Errorf("indegree[b] = %d, edge from skipped node must not gate b", plan.Indegree["b"])
	}
}

// The topological order respects every edge.
func TestTopoOrderRespectsEdges(t *testing.T) {
	reg := simpleRegistry(t, "t")
	wf := wfOf(
		[]graph.Node{{ID: "d", Type: "t"}, {ID: "c", Type: "t"}, {ID: "b", Type: "t"}, {ID: "a", Type: "t"}},
		[]graph.Edge{
			{ID: "e1", SourceNodeID: "a", TargetNodeID: "b"},
			{ID: "e2", SourceNodeID: "a", TargetNodeID: "c"},
			{ID: "e3", SourceNodeID: "b", TargetNodeID: "d"},
			{ID: "e4", SourceNodeID: "c", TargetNodeID: "d"},
		},
	)
	plan, err := Validate(wf, reg, nil)
	if err != nil {
		t.Fatal(err)
	}
	pos := make(map[string]int, len(plan.Order))
	for i, id := range plan.Order {
		pos[id] = i
	}
	for _, e := range wf.Edges {
		if pos[e.SourceNodeID] >= pos[e.TargetNodeID] {
			t.Errorf("edge %s: %s not before %s in %v", e.ID, e.SourceNodeID, e.TargetNodeID, plan.Order)
		}
	}
}
