package graph

import (
	"encoding/json"
	"testing"
)

func TestValueAsString(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want string
	}{
		{"string", FromString("hello"), "hello"},
		{"int", FromInt(42), "42"},
		{"float", FromFloat(3.5), "3.5"},
		{"bool", FromBool(true), "true"},
		{"null", Null(), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.v.AsString(); got != tc.want {
				t.Errorf("AsString() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	orig := FromMap(map[string]Value{
		"name":  FromString("alice"),
		"count": FromInt(3),
		"tags":  FromList([]Value{FromString("a"), FromString("b")}),
	})

	b, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Value
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.Kind != KindMap {
		t.Fatalf("Kind = %v, want KindMap", decoded.Kind)
	}
	if decoded.Map["name"].AsString() != "alice" {
		t.Errorf("name = %q, want alice", decoded.Map["name"].AsString())
	}
	if decoded.Map["count"].Int != 3 {
		t.Errorf("count = %d, want 3", decoded.Map["count"].Int)
	}
	if len(decoded.Map["tags"].List) != 2 {
		t.Errorf("tags len = %d, want 2", len(decoded.Map["tags"].List))
	}
}

func TestNodeOutputClonePreservesReadsAfterMutation(t *testing.T) {
	orig := NodeOutput{"x": FromInt(1)}
	clone := orig.Clone()
	orig["x"] = FromInt(2)

	if clone["x"].Int != 1 {
		t.Errorf("clone mutated by original write: got %d, want 1", clone["x"].Int)
	}
}

func TestWorkflowEdgeLookup(t *testing.T) {
	wf := Workflow{
		Edges: []Edge{
			{ID: "e1", SourceNodeID: "a", TargetNodeID: "b"},
			{ID: "e2", SourceNodeID: "a", TargetNodeID: "c"},
			{ID: "e3", SourceNodeID: "b", TargetNodeID: "c"},
		},
	}

	into := wf.EdgesInto("c")
	if len(into) != 2 {
		t.Fatalf("EdgesInto(c) len = %d, want 2", len(into))
	}

	from := wf.EdgesFrom("a")
	if len(from) != 2 {
		t.Fatalf("EdgesFrom(a) len = %d, want 2", len(from))
	}
}
