// Package comm implements the outbound delivery nodes: email and
// slack. Actual delivery happens through the injected Sender — an
// external collaborator, like the vault — so the engine never carries
// SMTP or Slack credentials itself.
package comm

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/registry"
)

// Sender delivers messages to the outside world. Implementations live
// with the transport layer; tests use MockSender.
type Sender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
	PostMessage(ctx context.Context, channel, message string) error
}

// Service carries the delivery collaborator.
type Service struct {
	Sender Sender
}

// Register installs the email and slack node types.
func (s *Service) Register(reg *registry.Registry) {
	reg.MustRegister(registry.Descriptor{
		Type: "email", DisplayName: "Send Email", Category: registry.CategoryCommunication,
		Inputs: []registry.FieldSpec{
			{Name: "body", Description: "message body", Required: true},
			{Name: "to", Description: "recipient address", Required: true},
			{Name: "subject", Description: "subject line"},
		},
		Outputs: []registry.FieldSpec{
			{Name: "sent", Description: "true once delivered"},
			{Name: "to", Description: "recipient, passed through"},
		},
		Retryable: true,
		Factory:   func() registry.Node { return registry.NodeFunc(s.email) },
	})
	reg.MustRegister(registry.Descriptor{
		Type: "slack", DisplayName: "Post to Slack", Category: registry.CategoryCommunication,
		Inputs: []registry.FieldSpec{
			{Name: "message", Description: "message text", Required: true},
			{Name: "channel", Description: "target channel", Required: true},
		},
		Outputs: []registry.FieldSpec{
			{Name: "sent", Description: "true once posted"},
			{Name: "channel", Description: "channel, passed through"},
		},
		Retryable: true,
		Factory:   func() registry.Node { return registry.NodeFunc(s.slack) },
	})
}

func (s *Service) email(ctx context.Context, inputs graph.NodeOutput, config map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
	if s.Sender == nil {
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: "no sender configured", Kind: graph.KindNodeValidation, Cause: graph.ErrNodeValidation,
		}
	}
	to := inputs["to"].AsString()
	body := inputs["body"].AsString()
	subject := inputs["subject"].AsString()
	if subject == "" {
		subject = config["subject"].Str
	}
	if subject == "" {
		subject = firstLine(body)
	}

	if err := s.Sender.SendEmail(ctx, to, subject, body); err != nil {
		return nil, decimal.Zero, graph.TokenUsage{}, deliveryError(ctx, "email", err)
	}
	return graph.NodeOutput{
		"sent": graph.FromBool(true),
		"to":   graph.FromString(to),
	}, decimal.Zero, graph.TokenUsage{}, nil
}

func (s *Service) slack(ctx context.Context, inputs graph.NodeOutput, _ map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
	if s.Sender == nil {
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: "no sender configured", Kind: graph.KindNodeValidation, Cause: graph.ErrNodeValidation,
		}
	}
	channel := inputs["channel"].AsString()
	message := inputs["message"].AsString()

	if err := s.Sender.PostMessage(ctx, channel, message); err != nil {
		return nil, decimal.Zero, graph.TokenUsage{}, deliveryError(ctx, "slack", err)
	}
	return graph.NodeOutput{
		"sent":    graph.FromBool(true),
		"channel": graph.FromString(channel),
	}, decimal.Zero, graph.TokenUsage{}, nil
}

func deliveryError(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return &graph.NodeError{
			Message: what + " delivery cancelled", Kind: graph.KindCancelled, Cause: graph.ErrCancelled,
		}
	}
	return &graph.NodeError{
		Message: fmt.Sprintf("%s delivery failed: %v", what, err),
		Kind:    graph.KindTransient,
		Cause:   fmt.Errorf("%w: %v", graph.ErrTransient, err),
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i > 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}

// MockSender records deliveries for tests.
type MockSender struct {
	Emails   []MockEmail
	Messages []MockMessage
	Err      error
}

type MockEmail struct{ To, Subject, Body string }
type MockMessage struct{ Channel, Message string }

func (m *MockSender) SendEmail(_ context.Context, to, subject, body string) error {
	if m.Err != nil {
		return m.Err
	}
	m.Emails = append(m.Emails, MockEmail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *MockSender) PostMessage(_ context.Context, channel, message string) error {
	if m.Err != nil {
		return m.Err
	}
	m.Messages = append(m.Messages, MockMessage{Channel: channel, Message: message})
	return nil
}
