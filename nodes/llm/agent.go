package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/model"
	"github.com/genflow/workflow-engine/graph/registry"
	"github.com/genflow/workflow-engine/graph/trace"
)

const agentSystemPrompt = `You are an autonomous agent inside a workflow. Work on the task using the
available tools. When you have enough information, answer directly without
calling further tools.`

// agent runs a bounded think/act loop: each turn the model may answer
// or request tool calls; tool results are fed back as conversation
// turns. Progress surfaces on the event bus as sub.* events so the
// canvas can render agent activity live.
func (s *Service) agent(ctx context.Context, inputs graph.NodeOutput, config map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
	m, modelName, err := s.buildModel(ctx, config)
	if err != nil {
		return nil, decimal.Zero, graph.TokenUsage{}, err
	}
	ec := registry.FromContext(ctx)

	task := textOf(inputs["task"])
	agentName := config["agent_name"].Str
	if agentName == "" {
		agentName = "agent"
	}

	var specs []model.ToolSpec
	if s.Tools != nil {
		for _, name := range s.Tools.Names() {
			t, _ := s.Tools.Lookup(name)
			desc, schema := t.Describe()
			specs = append(specs, model.ToolSpec{Name: name, Description: desc, Schema: schema})
		}
	}

	messages := []model.Message{
		{Role: model.RoleSystem, Content: agentSystemPrompt},
	}
	if ctxText := textOf(inputs["context"]); ctxText != "" {
		messages = append(messages, model.Message{Role: model.RoleUser, Content: "Context:\n" + ctxText})
	}
	messages = append(messages, model.Message{Role: model.RoleUser, Content: task})

	if ec.Events != nil {
		ec.Events.AgentEvent("agent_started", agentName, task, nil)
	}

	var usage graph.TokenUsage
	totalCost := decimal.Zero
	for turn := 0; turn < s.MaxAgentTurns; turn++ {
		if ctx.Err() != nil {
			return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
				Message: "agent cancelled", Kind: graph.KindCancelled, Cause: graph.ErrCancelled,
			}
		}

		out, err := m.Chat(ctx, messages, specs)
		if err != nil {
			return nil, decimal.Zero, graph.TokenUsage{}, classifyChatError(ctx, err)
		}
		usage = usage.Add(out.Usage.Norm())
		totalCost = totalCost.Add(s.Pricing.Cost(out.Model, out.Usage.Norm()))

		if len(out.ToolCalls) == 0 {
			if ec.Events != nil {
				ec.Events.AgentEvent("agent_completed", agentName, task, map[string]interface{}{
					"turns": turn + 1,
				})
			}
			return graph.NodeOutput{
				"response": graph.FromString(out.Text),
				"output":   graph.FromString(out.Text),
			}, totalCost, usage, nil
		}

		if ec.Events != nil && out.Text != "" {
			ec.Events.AgentEvent("agent_thinking", agentName, task, map[string]interface{}{
				"thought": out.Text,
			})
		}
		if out.Text != "" {
			messages = append(messages, model.Message{Role: model.RoleAssistant, Content: out.Text})
		}

		for _, call := range out.ToolCalls {
			result, err := s.runTool(ctx, ec, agentName, task, modelName, call)
			messages = append(messages, model.Message{
				Role:    model.RoleUser,
				Content: fmt.Sprintf("Tool %s returned:\n%s", call.Name, result),
			})
			if err != nil && ctx.Err() != nil {
				return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
					Message: "agent cancelled during tool call", Kind: graph.KindCancelled, Cause: graph.ErrCancelled,
				}
			}
		}
	}

	return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
		Message: fmt.Sprintf("agent exceeded %d turns without an answer", s.MaxAgentTurns),
		Kind:    graph.KindPermanent,
		Cause:   graph.ErrPermanent,
	}
}

// runTool executes one requested tool call under its own tool span and
// returns the result rendered for the conversation. Tool failures are
// reported back to the model rather than failing the node; the model
// decides whether to work around them.
func (s *Service) runTool(ctx context.Context, ec *registry.ExecutionContext, agentName, task, modelName string, call model.ToolCall) (string, error) {
	if ec.Events != nil {
		ec.Events.AgentEvent("tool_called", agentName, task, map[string]interface{}{
			"tool":  call.Name,
			"input": call.Input,
		})
	}
	spanID := ec.StartChildSpan(trace.SpanTool, call.Name)

	if s.Tools == nil {
		err := fmt.Errorf("no tools configured")
		ec.EndChildSpan(spanID, trace.SpanEnd{Status: graph.StatusFailed, Err: err, Model: modelName})
		return "error: " + err.Error(), err
	}
	out, err := s.Tools.Call(ctx, call.Name, call.Input)
	if err != nil {
		ec.EndChildSpan(spanID, trace.SpanEnd{Status: graph.StatusFailed, Err: err, Model: modelName})
		return "error: " + err.Error(), err
	}
	ec.EndChildSpan(spanID, trace.SpanEnd{Status: graph.StatusCompleted, Model: modelName})

	rendered, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf("%v", out), nil
	}
	text := string(rendered)
	if len(text) > 8192 {
		text = text[:8192] + "…(truncated)"
	}
	return strings.TrimSpace(text), nil
}
