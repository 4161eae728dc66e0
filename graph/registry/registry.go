// Package registry holds the catalog of node types a workflow may use:
// each node type's config/input/output schemas, its category, and the
// factory that builds an executable instance. The registry is read-only
// once construction finishes, the same discipline the engine uses for
// every process-wide container.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/xeipuuv/gojsonschema"

	"github.com/genflow/workflow-engine/graph"
)

// Category groups node types for the router's transitive-context gate:
// only agent-like and content-generation categories receive indirect
// (non-parent) context from upstream ancestors.
type Category string

const (
	CategoryInput         Category = "input"
	CategoryLLM           Category = "llm"
	CategoryEmbedding     Category = "embedding"
	CategoryVectorStore   Category = "vector_store"
	CategoryRetrieval     Category = "retrieval"
	CategoryAgent         Category = "agent"
	CategoryContent       Category = "content_generation"
	CategoryCommunication Category = "communication"
	CategoryTransform     Category = "transform"
	CategoryOutput        Category = "output"
)

// WantsTransitiveContext reports whether nodes of this category receive
// outputs from indirect ancestors during routing, not just from their
// direct parents.
func (c Category) WantsTransitiveContext() bool {
	return c == CategoryAgent || c == CategoryContent
}

// Node is the uniform execution contract every node type implements.
// Execute must treat inputs and config as read-only; it returns the
// node's output map, the USD cost incurred (zero for non-billable
// nodes), and token usage (zero if not applicable). The execution-
// scoped collaborators (secrets, events, span recorder, user identity)
// ride on ctx via NewContext/FromContext; cancellation is ctx itself
// and must be observed at every suspension point.
type Node interface {
	Execute(ctx context.Context, inputs graph.NodeOutput, config map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error)
}

// NodeFunc adapts a plain function to the Node interface.
type NodeFunc func(ctx context.Context, inputs graph.NodeOutput, config map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error)

func (f NodeFunc) Execute(ctx context.Context, inputs graph.NodeOutput, config map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
	return f(ctx, inputs, config)
}

// FieldSpec declares one named input or output of a node type. The
// one-line Description doubles as the schema summary handed to the
// intelligent-routing prompt.
type FieldSpec struct {
	Name        string
	Description string
	Required    bool
}

// Descriptor is everything the registry knows about a node type before
// any instance of it runs.
type Descriptor struct {
	Type         string
	DisplayName  string
	Category     Category
	Inputs       []FieldSpec
	Outputs      []FieldSpec
	ConfigSchema *gojsonschema.Schema
	InputSchema  *gojsonschema.Schema
	OutputSchema *gojsonschema.Schema
	Retryable    bool
	Factory      func() Node
}

// RequiredInputs returns the names of the declared inputs marked
// Required, in declaration order.
func (d Descriptor) RequiredInputs() []string {
	var out []string
	for _, f := range d.Inputs {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// InputNames returns every declared input name in declaration order.
func (d Descriptor) InputNames() []string {
	out := make([]string, len(d.Inputs))
	for i, f := range d.Inputs {
		out[i] = f.Name
	}
	return out
}

// Registry is safe for concurrent reads from many scheduler workers
// once Register calls are complete.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

func New() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Register adds typ to the catalog. Re-registering the same type is an
// error: node types are expected to be registered once at process
// startup, not redefined mid-run.
func (r *Registry) Register(d Descriptor) error {
	if d.Type == "" {
		return fmt.Errorf("registry: descriptor missing Type")
	}
	if d.Factory == nil {
		return fmt.Errorf("registry: descriptor %q missing Factory", d.Type)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[d.Type]; exists {
		return fmt.Errorf("registry: node type %q already registered", d.Type)
	}
	r.descriptors[d.Type] = d
	return nil
}

// MustRegister is Register for process-startup wiring where a bad
// descriptor is a programming error.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Lookup returns the descriptor for typ, or graph.ErrUnknownNodeType.
func (r *Registry) Lookup(typ string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[typ]
	if !ok {
		return Descriptor{}, &graph.EngineError{
			Message: fmt.Sprintf("unknown node type %q", typ),
			Kind:    graph.KindUnknownNodeType,
			Cause:   graph.ErrUnknownNodeType,
		}
	}
	return d, nil
}

// ValidateConfig checks config against typ's ConfigSchema, if one was
// registered. Node types that registered no schema accept any config.
func (r *Registry) ValidateConfig(typ string, config map[string]graph.Value) error {
	d, err := r.Lookup(typ)
	if err != nil {
		return err
	}
	return validateAgainst(d.ConfigSchema, valueMapToPlain(config), "config")
}

// ValidateInputs checks a routed input map against typ's InputSchema
// and its Required field declarations. The router calls this after its
// final phase; a missing required field is graph.ErrMissingInput.
func (r *Registry) ValidateInputs(typ string, inputs graph.NodeOutput) error {
	d, err := r.Lookup(typ)
	if err != nil {
		return err
	}
	for _, f := range d.Inputs {
		if !f.Required {
			continue
		}
		if v, ok := inputs[f.Name]; !ok || v.IsZero() {
			return &graph.NodeError{
				Message: fmt.Sprintf("required input %q missing for node type %q", f.Name, typ),
				Kind:    graph.KindMissingInput,
				Cause:   graph.ErrMissingInput,
			}
		}
	}
	return validateAgainst(d.InputSchema, valueMapToPlain(map[string]graph.Value(inputs)), "input")
}

func validateAgainst(schema *gojsonschema.Schema, doc map[string]interface{}, what string) error {
	if schema == nil {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return &graph.EngineError{Message: err.Error(), Kind: graph.KindInternal, Cause: err}
	}
	if !result.Valid() {
		return &graph.NodeError{
			Message: fmt.Sprintf("%s validation failed: %v", what, result.Errors()),
			Kind:    graph.KindNodeValidation,
			Cause:   graph.ErrNodeValidation,
		}
	}
	return nil
}

// Types returns the registered node type names. Order is unspecified;
// callers that need determinism sort the result themselves.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.descriptors))
	for t := range r.descriptors {
		out = append(out, t)
	}
	return out
}

// MustCompileSchema compiles a JSON-schema document given as a Go map.
// Intended for package-level descriptor construction at startup.
func MustCompileSchema(doc map[string]interface{}) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		panic(err)
	}
	return s
}

func valueMapToPlain(m map[string]graph.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = valueToPlain(v)
	}
	return out
}

func valueToPlain(v graph.Value) interface{} {
	switch v.Kind {
	case graph.KindNull:
		return nil
	case graph.KindBool:
		return v.Bool
	case graph.KindInt:
		return v.Int
	case graph.KindFloat:
		return v.Float
	case graph.KindString:
		return v.Str
	case graph.KindBytes:
		return v.Bytes
	case graph.KindList:
		out := make([]interface{}, len(v.List))
		for i, e := range v.List {
			out[i] = valueToPlain(e)
		}
		return out
	case graph.KindMap:
		return valueMapToPlain(v.Map)
	default:
		return nil
	}
}
