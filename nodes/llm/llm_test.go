package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/cost"
	"github.com/genflow/workflow-engine/graph/model"
	"github.com/genflow/workflow-engine/graph/registry"
	"github.com/genflow/workflow-engine/graph/secret"
)

func mockFactory(mock *model.MockChatModel) ModelFactory {
	return func(_, _, _ string) (model.ChatModel, error) { return mock, nil }
}

func nodeCtx(secrets secret.Resolver, events registry.EventEmitter) context.Context {
	return registry.NewContext(context.Background(), &registry.ExecutionContext{
		NodeID:  "n1",
		Secrets: secrets,
		Events:  events,
	})
}

func TestChatRendersTemplateAndPricesUsage(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{{
		Text:  "answer",
		Usage: graph.TokenUsage{Prompt: 1000, Completion: 500},
		Model: "gpt-4o",
	}}}
	svc := &Service{Models: mockFactory(mock), Pricing: cost.DefaultPricing()}
	reg := registry.New()
	svc.Register(reg)

	ctx := nodeCtx(secret.StaticResolver{"openai_api_key": "sk-test"}, nil)
	d, _ := reg.Lookup("chat")
	out, price, usage, err := d.Factory().Execute(ctx, graph.NodeOutput{
		"query":   graph.FromString("What is Nodeflow?"),
		"results": graph.FromList([]graph.Value{graph.FromMap(map[string]graph.Value{"text": graph.FromString("A fact")})}),
	}, map[string]graph.Value{
		"template": graph.FromString("{context}\nQ: {query}\nA:"),
	})
	require.NoError(t, err)
	require.Equal(t, "answer", out["response"].Str)
	require.Equal(t, "answer", out["output"].Str)
	require.EqualValues(t, 1500, usage.Total)
	require.Equal(t, "0.0075", price.String())

	sent := mock.Calls[0].Messages
	require.Len(t, sent, 1)
	require.Contains(t, sent[0].Content, "Q: What is Nodeflow?")
	require.Contains(t, sent[0].Content, "A fact")
}

func TestChatMissingSecretFails(t *testing.T) {
	svc := &Service{Models: mockFactory(&model.MockChatModel{}), Pricing: cost.DefaultPricing()}
	reg := registry.New()
	svc.Register(reg)

	ctx := nodeCtx(secret.StaticResolver{}, nil)
	d, _ := reg.Lookup("chat")
	_, _, _, err := d.Factory().Execute(ctx, graph.NodeOutput{"query": graph.FromString("q")}, nil)
	require.ErrorIs(t, err, graph.ErrSecretNotFound)
}

func TestChatProviderErrorIsTransient(t *testing.T) {
	mock := &model.MockChatModel{Err: errors.New("503 from upstream")}
	svc := &Service{Models: mockFactory(mock), Pricing: cost.DefaultPricing()}
	reg := registry.New()
	svc.Register(reg)

	ctx := nodeCtx(secret.StaticResolver{"openai_api_key": "sk"}, nil)
	d, _ := reg.Lookup("chat")
	_, _, _, err := d.Factory().Execute(ctx, graph.NodeOutput{"query": graph.FromString("q")}, nil)
	require.ErrorIs(t, err, graph.ErrTransient)
}

func TestChatAuthErrorIsPermanent(t *testing.T) {
	mock := &model.MockChatModel{Err: errors.New("401 unauthorized: bad api key")}
	svc := &Service{Models: mockFactory(mock), Pricing: cost.DefaultPricing()}
	reg := registry.New()
	svc.Register(reg)

	ctx := nodeCtx(secret.StaticResolver{"openai_api_key": "sk"}, nil)
	d, _ := reg.Lookup("chat")
	_, _, _, err := d.Factory().Execute(ctx, graph.NodeOutput{"query": graph.FromString("q")}, nil)
	require.ErrorIs(t, err, graph.ErrPermanent)
}

func TestRenderPromptWithoutTemplate(t *testing.T) {
	got := renderPrompt("", graph.NodeOutput{
		"query":   graph.FromString("the question"),
		"context": graph.FromString("background"),
	})
	require.Contains(t, got, "background")
	require.Contains(t, got, "the question")
}

func TestResultsTextFlattensHits(t *testing.T) {
	v := graph.Value{Kind: graph.KindRetrieval, Retrieval: []graph.RetrievalHit{
		{Text: "first", Score: 0.9},
		{Text: "second", Score: 0.5},
	}}
	got := resultsText(v)
	require.Contains(t, got, "[1] first")
	require.Contains(t, got, "[2] second")
}
