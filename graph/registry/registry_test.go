package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/genflow/workflow-engine/graph"
)

func echoNode() Node {
	return NodeFunc(func(_ context.Context, inputs graph.NodeOutput, _ map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
		return inputs, decimal.Zero, graph.TokenUsage{}, nil
	})
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	if err := r.Register(Descriptor{Type: "echo", Category: CategoryTransform, Factory: echoNode}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	d, err := r.Lookup("echo")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if d.Type != "echo" {
		t.Errorf("descriptor type = %q", d.Type)
	}
}

func TestLookupUnknownTypeIsSentinel(t *testing.T) {
	r := New()
	_, err := r.Lookup("nope")
	if !errors.Is(err, graph.ErrUnknownNodeType) {
		t.Fatalf("err = %v, want ErrUnknownNodeType", err)
	}
	if graph.KindOf(err) != graph.KindUnknownNodeType {
		t.Errorf("kind = %v", graph.KindOf(err))
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := New()
	d := Descriptor{Type: "echo", Factory: echoNode}
	if err := r.Register(d); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(d); err == nil {
		t.Fatal("duplicate registration accepted")
	}
}

func TestValidateInputsRequiredFields(t *testing.T) {
	r := New()
	r.MustRegister(Descriptor{
		Type:    "chat",
		Inputs:  []FieldSpec{{Name: "query", Required: true}, {Name: "results"}},
		Factory: echoNode,
	})

	err := r.ValidateInputs("chat", graph.NodeOutput{"results": graph.FromString("x")})
	if !errors.Is(err, graph.ErrMissingInput) {
		t.Fatalf("err = %v, want ErrMissingInput", err)
	}

	err = r.ValidateInputs("chat", graph.NodeOutput{"query": graph.FromString("q")})
	if err != nil {
		t.Fatalf("ValidateInputs with required present: %v", err)
	}
}

func TestValidateConfigAgainstSchema(t *testing.T) {
	r := New()
	r.MustRegister(Descriptor{
		Type: "llm",
		ConfigSchema: MustCompileSchema(map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"model"},
			"properties": map[string]interface{}{
				"model": map[string]interface{}{"type": "string"},
			},
		}),
		Factory: echoNode,
	})

	if err := r.ValidateConfig("llm", map[string]graph.Value{"model": graph.FromString("gpt-4o")}); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	err := r.ValidateConfig("llm", map[string]graph.Value{})
	if graph.KindOf(err) != graph.KindNodeValidation {
		t.Fatalf("invalid config error kind = %v", graph.KindOf(err))
	}
}

func TestCategoryTransitiveContextGate(t *testing.T) {
	if !CategoryAgent.WantsTransitiveContext() || !CategoryContent.WantsTransitiveContext() {
		t.Error("agent/content categories must want transitive context")
	}
	if CategoryRetrieval.WantsTransitiveContext() || CategoryInput.WantsTransitiveContext() {
		t.Error("retrieval/input categories must not want transitive context")
	}
}

func TestFromContextOutsideEngineIsEmpty(t *testing.T) {
	ec := FromContext(context.Background())
	if ec == nil || ec.NodeID != "" {
		t.Fatalf("FromContext outside engine = %+v", ec)
	}
}
