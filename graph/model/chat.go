// Package model abstracts the LLM chat providers the engine and its
// node library call: one ChatModel interface, provider adapters in
// subpackages (openai, anthropic, google), and a mock for tests. The
// router's intelligent phase and every LLM-category node speak through
// this interface so provider choice stays a construction-time concern.
package model

import (
	"context"

	"github.com/genflow/workflow-engine/graph"
)

// ChatModel is the uniform chat-completion surface. Implementations
// handle authentication, format conversion, and provider-specific
// retries, and must respect ctx cancellation and deadlines.
type ChatModel interface {
	// Chat sends the conversation and optional tool specs, returning
	// the model's text and/or requested tool calls plus token usage.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn of an LLM conversation.
type Message struct {
	Role    string
	Content string
}

// Standard roles, aligned with the conventions of the major providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the model may call. Schema is JSON Schema
// for the tool's input.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}

// ChatOut is a completed chat turn. Text may be empty when the model
// only requested tools. Usage carries the provider's token accounting
// so callers can price the call; adapters that cannot obtain usage
// leave it zero.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
	Usage     graph.TokenUsage
	Model     string
	Provider  string
}
