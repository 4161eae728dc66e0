// Package format attaches canonical presentation metadata to node
// outputs. Formatters are pure functions registered per node type; the
// scheduler calls Apply after a node completes and stores the result
// under the reserved _display_metadata output key. A node type without
// a formatter falls back to a raw JSON rendering, and a formatter that
// panics downgrades to the same fallback with the failure attached —
// the node itself still counts as completed.
package format

import (
	"fmt"
	"sync"

	"github.com/genflow/workflow-engine/graph"
)

// DisplayType is the closed set of renderings the frontend understands.
type DisplayType string

const (
	DisplayHTML     DisplayType = "html"
	DisplayMarkdown DisplayType = "markdown"
	DisplayChart    DisplayType = "chart"
	DisplayTable    DisplayType = "table"
	DisplayImage    DisplayType = "image"
	DisplayJSON     DisplayType = "json"
)

// Attachment is a secondary artifact alongside the primary content: a
// chart spec next to a table, a source list next to a summary.
type Attachment struct {
	Name        string
	DisplayType DisplayType
	Content     graph.Value
}

// DisplayMetadata is what a Formatter produces.
type DisplayMetadata struct {
	DisplayType    DisplayType
	PrimaryContent graph.Value
	Attachments    []Attachment
	// Error is set only when a registered formatter failed and the
	// output was downgraded to the JSON fallback.
	Error string
}

// Formatter turns a raw output map into display metadata. It must be a
// pure function: no I/O, no mutation of outputs.
type Formatter func(outputs graph.NodeOutput) DisplayMetadata

// Registry maps node type to Formatter. Read-only after startup.
type Registry struct {
	mu         sync.RWMutex
	formatters map[string]Formatter
}

func NewRegistry() *Registry {
	return &Registry{formatters: make(map[string]Formatter)}
}

// Register installs f for node type typ, replacing any previous entry.
func (r *Registry) Register(typ string, f Formatter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formatters[typ] = f
}

// Apply formats outputs for a node of type typ. Unregistered types get
// the JSON fallback; a panicking formatter downgrades to the JSON
// fallback with the panic message recorded.
func (r *Registry) Apply(typ string, outputs graph.NodeOutput) (md DisplayMetadata) {
	r.mu.RLock()
	f, ok := r.formatters[typ]
	r.mu.RUnlock()

	if !ok || f == nil {
		return Fallback(outputs)
	}

	defer func() {
		if p := recover(); p != nil {
			md = Fallback(outputs)
			md.Error = fmt.Sprintf("formatter for %q failed: %v", typ, p)
		}
	}()
	return f(outputs)
}

// Fallback is the formatter-less rendering: the whole output map as JSON.
func Fallback(outputs graph.NodeOutput) DisplayMetadata {
	m := make(map[string]graph.Value, len(outputs))
	for k, v := range outputs {
		if k == graph.DisplayMetadataKey {
			continue
		}
		m[k] = v
	}
	return DisplayMetadata{DisplayType: DisplayJSON, PrimaryContent: graph.FromMap(m)}
}

// ToValue converts md into the Value stored under _display_metadata.
func (md DisplayMetadata) ToValue() graph.Value {
	out := map[string]graph.Value{
		"display_type":    graph.FromString(string(md.DisplayType)),
		"primary_content": md.PrimaryContent,
	}
	if len(md.Attachments) > 0 {
		atts := make([]graph.Value, len(md.Attachments))
		for i, a := range md.Attachments {
			atts[i] = graph.FromMap(map[string]graph.Value{
				"name":         graph.FromString(a.Name),
				"display_type": graph.FromString(string(a.DisplayType)),
				"content":      a.Content,
			})
		}
		out["attachments"] = graph.FromList(atts)
	}
	if md.Error != "" {
		out["error"] = graph.FromString(md.Error)
	}
	return graph.FromMap(out)
}

// Markdown is a convenience formatter for nodes whose primary output is
// a single text field rendered as markdown.
func Markdown(field string) Formatter {
	return func(outputs graph.NodeOutput) DisplayMetadata {
		return DisplayMetadata{
			DisplayType:    DisplayMarkdown,
			PrimaryContent: outputs[field],
		}
	}
}

// Table is a convenience formatter for list-shaped outputs such as
// retrieval results.
func Table(field string) Formatter {
	return func(outputs graph.NodeOutput) DisplayMetadata {
		return DisplayMetadata{
			DisplayType:    DisplayTable,
			PrimaryContent: outputs[field],
		}
	}
}
