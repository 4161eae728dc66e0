package openai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/model"
)

type fakeClient struct {
	out   model.ChatOut
	errs  []error
	calls int
}

func (f *fakeClient) createChatCompletion(_ context.Context, _ []model.Message, _ []model.ToolSpec) (model.ChatOut, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return model.ChatOut{}, err
		}
	}
	return f.out, nil
}

func newTestModel(client openaiClient) *ChatModel {
	return &ChatModel{
		apiKey: "sk-test", modelName: "gpt-4o", client: client,
		maxRetries: 2, retryDelay: time.Millisecond,
	}
}

func TestChatTagsModelAndProvider(t *testing.T) {
	fake := &fakeClient{out: model.ChatOut{
		Text:  "hello",
		Usage: graph.TokenUsage{Prompt: 10, Completion: 4, Total: 14},
	}}
	m := newTestModel(fake)

	out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out.Model != "gpt-4o" || out.Provider != "openai" {
		t.Errorf("model/provider = %q/%q", out.Model, out.Provider)
	}
	if out.Usage.Total != 14 {
		t.Errorf("usage = %+v", out.Usage)
	}
}

func TestChatRetriesTransientErrors(t *testing.T) {
	fake := &fakeClient{
		out:  model.ChatOut{Text: "eventually"},
		errs: []error{errors.New("503 service unavailable"), errors.New("connection reset"), nil},
	}
	m := newTestModel(fake)

	out, err := m.Chat(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out.Text != "eventually" || fake.calls != 3 {
		t.Fatalf("text = %q after %d calls", out.Text, fake.calls)
	}
}

func TestChatDoesNotRetryPermanentErrors(t *testing.T) {
	fake := &fakeClient{errs: []error{errors.New("401 invalid api key")}}
	m := newTestModel(fake)

	_, err := m.Chat(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if fake.calls != 1 {
		t.Fatalf("permanent error retried: %d calls", fake.calls)
	}
}

func TestChatRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := newTestModel(&fakeClient{})
	if _, err := m.Chat(ctx, nil, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestIsTransientError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("rate limit exceeded"), true},
		{errors.New("HTTP 429"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("request timeout"), true},
		{errors.New("invalid request: missing model"), false},
		{errors.New("401 unauthorized"), false},
	}
	for _, tc := range cases {
		if got := isTransientError(tc.err); got != tc.want {
			t.Errorf("isTransientError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestParseToolInput(t *testing.T) {
	got := parseToolInput(`{"location": "Paris", "days": 3}`)
	if got["location"] != "Paris" || got["days"] != float64(3) {
		t.Errorf("parsed = %v", got)
	}
	if parseToolInput("") != nil {
		t.Error("empty input should be nil")
	}
	raw := parseToolInput("not json")
	if raw["_raw"] != "not json" {
		t.Errorf("malformed input = %v", raw)
	}
}
