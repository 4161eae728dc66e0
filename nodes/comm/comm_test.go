package comm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/registry"
)

func run(t *testing.T, sender Sender, typ string, inputs graph.NodeOutput, config map[string]graph.Value) (graph.NodeOutput, error) {
	t.Helper()
	reg := registry.New()
	(&Service{Sender: sender}).Register(reg)
	d, err := reg.Lookup(typ)
	require.NoError(t, err)
	out, _, _, err := d.Factory().Execute(context.Background(), inputs, config)
	return out, err
}

func TestEmailSendsThroughSender(t *testing.T) {
	sender := &MockSender{}
	out, err := run(t, sender, "email", graph.NodeOutput{
		"to":   graph.FromString("ops@example.com"),
		"body": graph.FromString("Deploy finished.\nAll green."),
	}, nil)
	require.NoError(t, err)
	require.True(t, out["sent"].Bool)

	require.Len(t, sender.Emails, 1)
	require.Equal(t, "ops@example.com", sender.Emails[0].To)
	// Subject falls back to the first line of the body.
	require.Equal(t, "Deploy finished.", sender.Emails[0].Subject)
}

func TestSlackPostsMessage(t *testing.T) {
	sender := &MockSender{}
	out, err := run(t, sender, "slack", graph.NodeOutput{
		"channel": graph.FromString("#alerts"),
		"message": graph.FromString("build broke"),
	}, nil)
	require.NoError(t, err)
	require.True(t, out["sent"].Bool)
	require.Equal(t, "#alerts", sender.Messages[0].Channel)
}

func TestDeliveryFailureIsTransient(t *testing.T) {
	sender := &MockSender{Err: errors.New("smtp 451 try later")}
	_, err := run(t, sender, "email", graph.NodeOutput{
		"to":   graph.FromString("x@example.com"),
		"body": graph.FromString("hi"),
	}, nil)
	require.ErrorIs(t, err, graph.ErrTransient)
}

func TestMissingSenderFailsValidation(t *testing.T) {
	_, err := run(t, nil, "slack", graph.NodeOutput{
		"channel": graph.FromString("#c"),
		"message": graph.FromString("m"),
	}, nil)
	require.ErrorIs(t, err, graph.ErrNodeValidation)
}
