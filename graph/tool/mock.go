package tool

import (
	"context"
	"sync"
)

// MockTool is a scripted Tool for tests: configurable responses in
// order (the last repeats), optional error injection, and a call
// history. Safe for concurrent use.
type MockTool struct {
	// ToolName is the identifier returned by Name().
	ToolName string

	// Description and Schema feed Describe().
	Description string
	Schema      map[string]interface{}

	// Responses are returned in order; once exhausted the last repeats.
	Responses []map[string]interface{}

	// Err, if set, is returned instead of a response.
	Err error

	// Calls records every Call invocation.
	Calls []MockToolCall

	mu        sync.Mutex
	callIndex int
}

// MockToolCall records a single Call invocation.
type MockToolCall struct {
	Input map[string]interface{}
}

func (m *MockTool) Name() string { return m.ToolName }

func (m *MockTool) Describe() (string, map[string]interface{}) {
	return m.Description, m.Schema
}

func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockToolCall{Input: input})

	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return map[string]interface{}{}, nil
	}
	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears the call history and response cursor.
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns how many times Call was invoked.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
