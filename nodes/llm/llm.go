// Package llm implements the chat and agent node types over the
// model.ChatModel provider adapters. Provider choice, model name, and
// prompt template come from node config; credentials resolve through
// the engine's secret resolver under the "{provider}_api_key"
// convention.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/cost"
	"github.com/genflow/workflow-engine/graph/model"
	"github.com/genflow/workflow-engine/graph/model/anthropic"
	"github.com/genflow/workflow-engine/graph/model/google"
	"github.com/genflow/workflow-engine/graph/model/openai"
	"github.com/genflow/workflow-engine/graph/registry"
	"github.com/genflow/workflow-engine/graph/secret"
	"github.com/genflow/workflow-engine/graph/tool"
)

// ModelFactory builds a chat model for a provider. The default wires
// the real adapters; tests substitute a mock.
type ModelFactory func(provider, apiKey, modelName string) (model.ChatModel, error)

// DefaultModelFactory selects among the bundled provider adapters.
func DefaultModelFactory(provider, apiKey, modelName string) (model.ChatModel, error) {
	switch provider {
	case "openai", "":
		return openai.NewChatModel(apiKey, modelName), nil
	case "anthropic":
		return anthropic.NewChatModel(apiKey, modelName), nil
	case "google":
		return google.NewChatModel(apiKey, modelName), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", provider)
	}
}

// Service carries the shared collaborators of the llm node types.
type Service struct {
	Models  ModelFactory
	Pricing *cost.Pricing
	Tools   *tool.Registry
	// MaxAgentTurns bounds the agent's think/act loop (default 6).
	MaxAgentTurns int
}

// Register installs the chat, llm (alias), and agent node types.
func (s *Service) Register(reg *registry.Registry) {
	if s.Models == nil {
		s.Models = DefaultModelFactory
	}
	if s.Pricing == nil {
		s.Pricing = cost.DefaultPricing()
	}
	if s.MaxAgentTurns <= 0 {
		s.MaxAgentTurns = 6
	}

	chatInputs := []registry.FieldSpec{
		{Name: "query", Description: "the user question or instruction"},
		{Name: "text", Description: "free-form text input"},
		{Name: "context", Description: "supporting context prepended to the prompt"},
		{Name: "results", Description: "retrieval results used as context"},
	}
	chatOutputs := []registry.FieldSpec{
		{Name: "response", Description: "the model's reply"},
		{Name: "output", Description: "alias of response"},
	}

	for _, typ := range []string{"chat", "llm"} {
		typ := typ
		reg.MustRegister(registry.Descriptor{
			Type:        typ,
			DisplayName: strings.ToUpper(typ[:1]) + typ[1:],
			Category:    registry.CategoryLLM,
			Inputs:      chatInputs,
			Outputs:     chatOutputs,
			Retryable:   true,
			Factory:     func() registry.Node { return registry.NodeFunc(s.chat) },
		})
	}

	reg.MustRegister(registry.Descriptor{
		Type:        "agent",
		DisplayName: "Agent",
		Category:    registry.CategoryAgent,
		Inputs: []registry.FieldSpec{
			{Name: "task", Description: "what the agent should accomplish", Required: true},
			{Name: "context", Description: "supporting context"},
		},
		Outputs: chatOutputs,
		Retryable: true,
		Factory:   func() registry.Node { return registry.NodeFunc(s.agent) },
	})
}

// buildModel resolves the provider credential and constructs the chat
// model for one node execution.
func (s *Service) buildModel(ctx context.Context, config map[string]graph.Value) (model.ChatModel, string, error) {
	ec := registry.FromContext(ctx)
	provider := config["provider"].Str
	if provider == "" {
		provider = "openai"
	}
	apiKey, err := secret.Require(ctx, ec.Secrets, ec.UserID, provider+"_api_key", config)
	if err != nil {
		return nil, "", err
	}
	modelName := config["model"].Str
	m, err := s.Models(provider, apiKey, modelName)
	if err != nil {
		return nil, "", &graph.NodeError{Message: err.Error(), Kind: graph.KindNodeValidation, Cause: err}
	}
	return m, modelName, nil
}

// chat renders the prompt template against the routed inputs and makes
// one completion call.
func (s *Service) chat(ctx context.Context, inputs graph.NodeOutput, config map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
	m, _, err := s.buildModel(ctx, config)
	if err != nil {
		return nil, decimal.Zero, graph.TokenUsage{}, err
	}

	prompt := renderPrompt(config["template"].Str, inputs)
	if strings.TrimSpace(prompt) == "" {
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: "chat node has no prompt: no template and no query/text input",
			Kind:    graph.KindMissingInput,
			Cause:   graph.ErrMissingInput,
		}
	}

	var messages []model.Message
	if sys := config["system_prompt"].Str; sys != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: sys})
	}
	messages = append(messages, model.Message{Role: model.RoleUser, Content: prompt})

	out, err := m.Chat(ctx, messages, nil)
	if err != nil {
		return nil, decimal.Zero, graph.TokenUsage{}, classifyChatError(ctx, err)
	}

	usage := out.Usage.Norm()
	return graph.NodeOutput{
		"response": graph.FromString(out.Text),
		"output":   graph.FromString(out.Text),
	}, s.Pricing.Cost(out.Model, usage), usage, nil
}

// classifyChatError maps provider failures onto the engine's retry
// taxonomy: cancellations stay cancellations; errors whose text names
// an API key, an auth status (401/403, "unauthorized"), a quota, or an
// invalid request are permanent; everything else is transient and left
// to the scheduler's backoff.
func classifyChatError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &graph.NodeError{Message: "chat call cancelled", Kind: graph.KindCancelled, Cause: graph.ErrCancelled}
	}
	msg := strings.ToLower(err.Error())
	kind := graph.KindTransient
	sentinel := graph.ErrTransient
	for _, pattern := range []string{"api key", "unauthorized", "401", "403", "quota", "invalid"} {
		if strings.Contains(msg, pattern) {
			kind = graph.KindPermanent
			sentinel = graph.ErrPermanent
			break
		}
	}
	return &graph.NodeError{Message: err.Error(), Kind: kind, Cause: fmt.Errorf("%w: %v", sentinel, err)}
}

// renderPrompt substitutes {field} placeholders with the routed input
// values. Without a template, query/text plus optional context form the
// prompt.
func renderPrompt(template string, inputs graph.NodeOutput) string {
	if template == "" {
		var b strings.Builder
		if ctx := textOf(inputs["context"]); ctx != "" {
			b.WriteString(ctx)
			b.WriteString("\n\n")
		} else if results := resultsText(inputs["results"]); results != "" {
			b.WriteString(results)
			b.WriteString("\n\n")
		}
		if q := textOf(inputs["query"]); q != "" {
			b.WriteString(q)
		} else {
			b.WriteString(textOf(inputs["text"]))
		}
		return b.String()
	}

	out := template
	for key, v := range inputs {
		placeholder := "{" + key + "}"
		if !strings.Contains(out, placeholder) {
			continue
		}
		repl := textOf(v)
		if key == "results" {
			repl = resultsText(v)
		}
		out = strings.ReplaceAll(out, placeholder, repl)
	}
	// {context} commonly maps to retrieval results when no context key
	// was routed.
	if strings.Contains(out, "{context}") {
		out = strings.ReplaceAll(out, "{context}", resultsText(inputs["results"]))
	}
	return out
}

func textOf(v graph.Value) string {
	if v.IsZero() {
		return ""
	}
	return v.AsString()
}

// resultsText flattens retrieval hits into a numbered context block.
func resultsText(v graph.Value) string {
	var texts []string
	switch v.Kind {
	case graph.KindRetrieval:
		for _, h := range v.Retrieval {
			texts = append(texts, h.Text)
		}
	case graph.KindList:
		for _, e := range v.List {
			if e.Kind == graph.KindMap {
				if t, ok := e.Map["text"]; ok {
					texts = append(texts, t.AsString())
					continue
				}
			}
			texts = append(texts, e.AsString())
		}
	case graph.KindString:
		return v.Str
	}
	var b strings.Builder
	for i, t := range texts {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, t)
	}
	return strings.TrimRight(b.String(), "\n")
}
