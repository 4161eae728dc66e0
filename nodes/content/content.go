// Package content implements the content-generation node family: blog
// posts, proposals, and brand-voice rewrites. Each is the same LLM call
// shape with a different framing prompt; they share the llm package's
// provider plumbing through a ModelFactory.
package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/cost"
	"github.com/genflow/workflow-engine/graph/model"
	"github.com/genflow/workflow-engine/graph/registry"
	"github.com/genflow/workflow-engine/graph/secret"
	"github.com/genflow/workflow-engine/nodes/llm"
)

// Service carries the generator nodes' collaborators.
type Service struct {
	Models  llm.ModelFactory
	Pricing *cost.Pricing
}

type generatorKind struct {
	typ         string
	displayName string
	system      string
}

var kinds = []generatorKind{
	{
		typ: "blog_generator", displayName: "Blog Generator",
		system: "You write engaging, well-structured blog posts in markdown. Produce only the post.",
	},
	{
		typ: "proposal_generator", displayName: "Proposal Generator",
		system: "You write persuasive business proposals with a clear structure: summary, approach, timeline, pricing placeholder. Produce only the proposal.",
	},
	{
		typ: "brand_voice", displayName: "Brand Voice",
		system: "You rewrite the given material in the brand voice described by the tone and guidelines. Preserve the meaning. Produce only the rewritten text.",
	},
}

// Register installs the content-generation node types.
func (s *Service) Register(reg *registry.Registry) {
	if s.Models == nil {
		s.Models = llm.DefaultModelFactory
	}
	if s.Pricing == nil {
		s.Pricing = cost.DefaultPricing()
	}

	for _, k := range kinds {
		k := k
		reg.MustRegister(registry.Descriptor{
			Type:        k.typ,
			DisplayName: k.displayName,
			Category:    registry.CategoryContent,
			Inputs: []registry.FieldSpec{
				{Name: "topic", Description: "what to write about", Required: true},
				{Name: "text", Description: "seed text or material to work from"},
				{Name: "content", Description: "background material"},
				{Name: "context", Description: "extra context from upstream nodes"},
				{Name: "file_content", Description: "uploaded reference material"},
				{Name: "tone", Description: "desired tone of voice"},
			},
			Outputs: []registry.FieldSpec{
				{Name: "output", Description: "the generated document"},
			},
			Retryable: true,
			Factory: func() registry.Node {
				return registry.NodeFunc(func(ctx context.Context, inputs graph.NodeOutput, config map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
					return s.generate(ctx, k, inputs, config)
				})
			},
		})
	}
}

func (s *Service) generate(ctx context.Context, k generatorKind, inputs graph.NodeOutput, config map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
	ec := registry.FromContext(ctx)
	provider := config["provider"].Str
	if provider == "" {
		provider = "openai"
	}
	apiKey, err := secret.Require(ctx, ec.Secrets, ec.UserID, provider+"_api_key", config)
	if err != nil {
		return nil, decimal.Zero, graph.TokenUsage{}, err
	}
	m, err := s.Models(provider, apiKey, config["model"].Str)
	if err != nil {
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: err.Error(), Kind: graph.KindNodeValidation, Cause: err,
		}
	}

	prompt := buildPrompt(inputs, config)
	out, err := m.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: k.system},
		{Role: model.RoleUser, Content: prompt},
	}, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
				Message: "generation cancelled", Kind: graph.KindCancelled, Cause: graph.ErrCancelled,
			}
		}
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: err.Error(), Kind: graph.KindTransient, Cause: fmt.Errorf("%w: %v", graph.ErrTransient, err),
		}
	}

	usage := out.Usage.Norm()
	return graph.NodeOutput{
		"output": graph.FromString(out.Text),
	}, s.Pricing.Cost(out.Model, usage), usage, nil
}

// buildPrompt assembles the user turn from whatever the router
// delivered: topic first, then tone, then the richest available
// material block.
func buildPrompt(inputs graph.NodeOutput, config map[string]graph.Value) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", inputs["topic"].AsString())

	tone := inputs["tone"].AsString()
	if tone == "" {
		tone = config["tone"].Str
	}
	if tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", tone)
	}

	for _, key := range []string{"content", "file_content", "context", "text"} {
		if v := inputs[key].AsString(); v != "" {
			fmt.Fprintf(&b, "\nMaterial:\n%s\n", v)
			break
		}
	}
	return b.String()
}
