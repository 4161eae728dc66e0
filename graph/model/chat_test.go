package model

import (
	"context"
	"errors"
	"testing"

	"github.com/genflow/workflow-engine/graph"
)

func TestMockReturnsScriptedResponsesInOrder(t *testing.T) {
	mock := &MockChatModel{Responses: []ChatOut{
		{Text: "first"},
		{Text: "second", Usage: graph.TokenUsage{Prompt: 10, Completion: 5, Total: 15}},
	}}

	out, err := mock.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err != nil || out.Text != "first" {
		t.Fatalf("first call = %q, %v", out.Text, err)
	}
	out, _ = mock.Chat(context.Background(), nil, nil)
	if out.Text != "second" || out.Usage.Total != 15 {
		t.Fatalf("second call = %+v", out)
	}
	// Exhausted responses repeat the last one.
	out, _ = mock.Chat(context.Background(), nil, nil)
	if out.Text != "second" {
		t.Fatalf("repeat call = %q", out.Text)
	}
}

func TestMockErrorInjection(t *testing.T) {
	want := errors.New("api down")
	mock := &MockChatModel{Err: want}
	_, err := mock.Chat(context.Background(), nil, nil)
	if !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
	if mock.CallCount() != 1 {
		t.Errorf("failed call not recorded")
	}
}

func TestMockRecordsCallHistory(t *testing.T) {
	mock := &MockChatModel{}
	msgs := []Message{{Role: RoleSystem, Content: "be brief"}, {Role: RoleUser, Content: "hi"}}
	tools := []ToolSpec{{Name: "search", Description: "web search"}}
	_, _ = mock.Chat(context.Background(), msgs, tools)

	if len(mock.Calls) != 1 {
		t.Fatalf("calls = %d", len(mock.Calls))
	}
	if mock.Calls[0].Messages[0].Role != RoleSystem || mock.Calls[0].Tools[0].Name != "search" {
		t.Errorf("call history = %+v", mock.Calls[0])
	}

	mock.Reset()
	if mock.CallCount() != 0 {
		t.Error("Reset did not clear history")
	}
}

func TestMockRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock := &MockChatModel{Responses: []ChatOut{{Text: "never"}}}
	_, err := mock.Chat(ctx, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if mock.CallCount() != 0 {
		t.Error("cancelled call was recorded")
	}
}
