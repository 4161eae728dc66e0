package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/emit"
	"github.com/genflow/workflow-engine/graph/model"
	"github.com/genflow/workflow-engine/graph/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	reg.MustRegister(registry.Descriptor{
		Type: "text_input", Category: registry.CategoryInput,
		Outputs: []registry.FieldSpec{{Name: "text"}},
		Factory: func() registry.Node {
			return registry.NodeFunc(func(_ context.Context, inputs graph.NodeOutput, config map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
				text := inputs["text"]
				if text.IsZero() {
					text = config["text"]
				}
				return graph.NodeOutput{"text": text}, decimal.Zero, graph.TokenUsage{}, nil
			})
		},
	})
	reg.MustRegister(registry.Descriptor{
		Type: "chat", Category: registry.CategoryLLM,
		Inputs:  []registry.FieldSpec{{Name: "text", Description: "prompt text", Required: true}},
		Outputs: []registry.FieldSpec{{Name: "response"}},
		Factory: func() registry.Node {
			return registry.NodeFunc(func(_ context.Context, inputs graph.NodeOutput, _ map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
				return graph.NodeOutput{"response": graph.FromString("echo: " + inputs["text"].Str)},
					decimal.RequireFromString("0.0001"), graph.TokenUsage{Prompt: 5, Completion: 5}, nil
			})
		},
	})
	reg.MustRegister(registry.Descriptor{
		Type: "sleeper", Category: registry.CategoryTransform,
		Factory: func() registry.Node {
			return registry.NodeFunc(func(ctx context.Context, _ graph.NodeOutput, _ map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
				select {
				case <-time.After(10 * time.Second):
					return graph.NodeOutput{}, decimal.Zero, graph.TokenUsage{}, nil
				case <-ctx.Done():
					return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
						Message: "interrupted", Kind: graph.KindCancelled, Cause: graph.ErrCancelled,
					}
				}
			})
		},
	})
	return reg
}

func twoNodeWorkflow() graph.Workflow {
	return graph.Workflow{
		ID: "wf-1", Name: "echo",
		Nodes: map[string]graph.Node{
			"in":   {ID: "in", Type: "text_input", Config: map[string]graph.Value{"text": graph.FromString("hello")}},
			"chat": {ID: "chat", Type: "chat"},
		},
		Edges: []graph.Edge{{ID: "e1", SourceNodeID: "in", TargetNodeID: "chat"}},
	}
}

func TestStartStatusWait(t *testing.T) {
	e := New(testRegistry(t))
	defer e.Close()

	id, err := e.Start(twoNodeWorkflow(), StartOptions{})
	require.NoError(t, err)
	require.NoError(t, e.Wait(id))

	snap, err := e.Status(id)
	require.NoError(t, err)
	require.Equal(t, graph.StatusCompleted, snap.Status)
	require.Equal(t, "echo: hello", snap.NodeOutputs["chat"]["response"].Str)
	require.EqualValues(t, 10, snap.TotalTokens)
	require.True(t, snap.TotalCost.Equal(decimal.RequireFromString("0.0001")))
	require.NotNil(t, snap.CompletedAt)
}

func TestStartRejectsInvalidWorkflowSynchronously(t *testing.T) {
	e := New(testRegistry(t))
	defer e.Close()

	wf := twoNodeWorkflow()
	n := wf.Nodes["chat"]
	n.Type = "mystery"
	wf.Nodes["chat"] = n

	_, err := e.Start(wf, StartOptions{})
	require.ErrorIs(t, err, graph.ErrUnknownNodeType)
}

func TestStreamDeliversBacklogThenTerminal(t *testing.T) {
	e := New(testRegistry(t))
	defer e.Close()

	id, err := e.Start(twoNodeWorkflow(), StartOptions{})
	require.NoError(t, err)
	require.NoError(t, e.Wait(id))

	sub, err := e.Stream(id)
	require.NoError(t, err)

	var kinds []emit.Kind
	var lastSeq uint64
	timeout := time.After(2 * time.Second)
	for {
		var done bool
		select {
		case evt := <-sub.Events:
			require.Greater(t, evt.Seq, lastSeq, "seq must be monotonic")
			lastSeq = evt.Seq
			kinds = append(kinds, evt.Kind)
			done = emit.IsTerminal(evt.Kind)
		case <-timeout:
			t.Fatal("terminal event never arrived")
		}
		if done {
			break
		}
	}
	require.Equal(t, emit.KindExecutionStarted, kinds[0])
	require.Equal(t, emit.KindExecutionCompleted, kinds[len(kinds)-1])
	sub.Close()

	// Terminal stream with no subscribers is garbage-collected.
	_, err = e.Status(id)
	require.Error(t, err)
}

func TestCancelMidFlight(t *testing.T) {
	e := New(testRegistry(t))
	defer e.Close()

	wf := graph.Workflow{
		ID: "wf-sleep",
		Nodes: map[string]graph.Node{
			"s": {ID: "s", Type: "sleeper"},
		},
	}
	id, err := e.Start(wf, StartOptions{})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, e.Cancel(id))

	doneBy := time.Now().Add(5 * time.Second)
	require.Eventually(t, func() bool {
		snap, err := e.Status(id)
		return err == nil && snap.Status == graph.StatusCancelled
	}, time.Until(doneBy), 20*time.Millisecond)
}

func TestUnknownExecutionID(t *testing.T) {
	e := New(testRegistry(t))
	defer e.Close()

	_, err := e.Status("nope")
	require.Error(t, err)
	require.Error(t, e.Cancel("nope"))
}

type timeoutModel struct{}

func (timeoutModel) Chat(ctx context.Context, _ []model.Message, _ []model.ToolSpec) (model.ChatOut, error) {
	<-ctx.Done()
	return model.ChatOut{}, ctx.Err()
}

// With intelligent routing on and the routing model timing out, the
// run completes identically to the deterministic case. Two text inputs
// feeding the same chat node force the conflict that triggers the
// intelligent phase.
func TestIntelligentRoutingFallbackEndToEnd(t *testing.T) {
	wf := graph.Workflow{
		ID: "wf-2", Name: "conflicted",
		Nodes: map[string]graph.Node{
			"in1":  {ID: "in1", Type: "text_input", Config: map[string]graph.Value{"text": graph.FromString("first")}},
			"in2":  {ID: "in2", Type: "text_input", Config: map[string]graph.Value{"text": graph.FromString("second")}},
			"chat": {ID: "chat", Type: "chat"},
		},
		Edges: []graph.Edge{
			{ID: "e1", SourceNodeID: "in1", TargetNodeID: "chat"},
			{ID: "e2", SourceNodeID: "in2", TargetNodeID: "chat"},
		},
	}

	plain := New(testRegistry(t))
	defer plain.Close()
	idA, err := plain.Start(wf, StartOptions{})
	require.NoError(t, err)
	require.NoError(t, plain.Wait(idA))
	snapA, err := plain.Status(idA)
	require.NoError(t, err)

	smart := New(testRegistry(t), WithRoutingModel(timeoutModel{}), WithRoutingTimeout(100*time.Millisecond))
	defer smart.Close()
	idB, err := smart.Start(wf, StartOptions{UseIntelligentRouting: true})
	require.NoError(t, err)
	require.NoError(t, smart.Wait(idB))
	snapB, err := smart.Status(idB)
	require.NoError(t, err)

	require.Equal(t, snapA.Status, snapB.Status)
	require.Equal(t, snapA.NodeStatus, snapB.NodeStatus)
	require.Equal(t, snapA.NodeOutputs["chat"]["response"], snapB.NodeOutputs["chat"]["response"])
	require.Equal(t, snapA.TotalTokens, snapB.TotalTokens)
}
