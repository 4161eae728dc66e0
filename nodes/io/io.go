// Package io implements the workflow entry nodes: plain text input and
// file upload. They sit at the top of most graphs and exist mainly to
// give the router a typed source for text and file content.
package io

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/registry"
)

// maxFileBytes bounds what a file_input node will load into a workflow.
const maxFileBytes = 16 << 20

// Register installs the io node types.
func Register(reg *registry.Registry) {
	reg.MustRegister(registry.Descriptor{
		Type:        "text_input",
		DisplayName: "Text Input",
		Category:    registry.CategoryInput,
		Inputs: []registry.FieldSpec{
			{Name: "text", Description: "runtime text, overrides the configured default"},
		},
		Outputs: []registry.FieldSpec{
			{Name: "text", Description: "the entered text"},
		},
		Factory: func() registry.Node { return registry.NodeFunc(textInput) },
	})
	reg.MustRegister(registry.Descriptor{
		Type:        "file_input",
		DisplayName: "File Upload",
		Category:    registry.CategoryInput,
		Inputs: []registry.FieldSpec{
			{Name: "file_path", Description: "path of the uploaded file"},
		},
		Outputs: []registry.FieldSpec{
			{Name: "text", Description: "file contents as text"},
			{Name: "file_path", Description: "originating path"},
			{Name: "file_type", Description: "lowercase extension without dot"},
		},
		Factory: func() registry.Node { return registry.NodeFunc(fileInput) },
	})
}

func textInput(_ context.Context, inputs graph.NodeOutput, config map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
	text := inputs["text"]
	if text.IsZero() {
		text = config["text"]
	}
	if text.IsZero() {
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: "text_input requires text via runtime input or config",
			Kind:    graph.KindNodeValidation,
			Cause:   graph.ErrNodeValidation,
		}
	}
	return graph.NodeOutput{"text": graph.FromString(text.AsString())}, decimal.Zero, graph.TokenUsage{}, nil
}

func fileInput(_ context.Context, inputs graph.NodeOutput, config map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
	path := inputs["file_path"]
	if path.IsZero() {
		path = config["file_path"]
	}
	if path.IsZero() {
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: "file_input requires file_path via runtime input or config",
			Kind:    graph.KindNodeValidation,
			Cause:   graph.ErrNodeValidation,
		}
	}

	info, err := os.Stat(path.Str)
	if err != nil {
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: fmt.Sprintf("file %s not readable: %v", path.Str, err),
			Kind:    graph.KindPermanent,
			Cause:   err,
		}
	}
	if info.Size() > maxFileBytes {
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: fmt.Sprintf("file %s exceeds %d byte limit", path.Str, int64(maxFileBytes)),
			Kind:    graph.KindNodeValidation,
			Cause:   graph.ErrNodeValidation,
		}
	}
	data, err := os.ReadFile(path.Str)
	if err != nil {
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: fmt.Sprintf("read %s: %v", path.Str, err),
			Kind:    graph.KindPermanent,
			Cause:   err,
		}
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path.Str)), ".")
	return graph.NodeOutput{
		"text":      graph.FromString(string(data)),
		"file_path": path,
		"file_type": graph.FromString(ext),
	}, decimal.Zero, graph.TokenUsage{}, nil
}
