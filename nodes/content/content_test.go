package content

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/cost"
	"github.com/genflow/workflow-engine/graph/model"
	"github.com/genflow/workflow-engine/graph/registry"
	"github.com/genflow/workflow-engine/graph/secret"
)

func TestBlogGeneratorBuildsPromptFromRoutedInputs(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{{
		Text:  "# The Post",
		Usage: graph.TokenUsage{Prompt: 100, Completion: 400},
		Model: "gpt-4o",
	}}}
	svc := &Service{
		Models:  func(_, _, _ string) (model.ChatModel, error) { return mock, nil },
		Pricing: cost.DefaultPricing(),
	}
	reg := registry.New()
	svc.Register(reg)

	ctx := registry.NewContext(context.Background(), &registry.ExecutionContext{
		Secrets: secret.StaticResolver{"openai_api_key": "sk"},
	})
	d, _ := reg.Lookup("blog_generator")
	out, price, usage, err := d.Factory().Execute(ctx, graph.NodeOutput{
		"topic":   graph.FromString("topic X"),
		"content": graph.FromString("long article"),
		"tone":    graph.FromString("dry"),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "# The Post", out["output"].Str)
	require.EqualValues(t, 500, usage.Total)
	require.False(t, price.IsZero())

	prompt := mock.Calls[0].Messages[1].Content
	require.Contains(t, prompt, "Topic: topic X")
	require.Contains(t, prompt, "Tone: dry")
	require.Contains(t, prompt, "long article")
}

func TestAllGeneratorKindsRegistered(t *testing.T) {
	svc := &Service{
		Models:  func(_, _, _ string) (model.ChatModel, error) { return &model.MockChatModel{}, nil },
		Pricing: cost.DefaultPricing(),
	}
	reg := registry.New()
	svc.Register(reg)

	for _, typ := range []string{"blog_generator", "proposal_generator", "brand_voice"} {
		d, err := reg.Lookup(typ)
		require.NoError(t, err)
		require.Equal(t, registry.CategoryContent, d.Category)
		require.True(t, d.Category.WantsTransitiveContext())
	}
}

func TestGeneratorMissingSecretFails(t *testing.T) {
	svc := &Service{
		Models:  func(_, _, _ string) (model.ChatModel, error) { return &model.MockChatModel{}, nil },
		Pricing: cost.DefaultPricing(),
	}
	reg := registry.New()
	svc.Register(reg)

	ctx := registry.NewContext(context.Background(), &registry.ExecutionContext{
		Secrets: secret.StaticResolver{},
	})
	d, _ := reg.Lookup("proposal_generator")
	_, _, _, err := d.Factory().Execute(ctx, graph.NodeOutput{"topic": graph.FromString("x")}, nil)
	require.ErrorIs(t, err, graph.ErrSecretNotFound)
}
