// Package graph defines the workflow data model shared by the node
// registry, router, scheduler, and execution façade: workflows, nodes,
// edges, node outputs, and the execution state each run mutates.
package graph

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the shape carried by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindMap
	KindChunks
	KindEmbeddings
	KindRetrieval
)

// TextChunk is a single retrieval-ready chunk of text with its source
// provenance, carried by Value when Kind is KindChunks.
type TextChunk struct {
	Text     string
	Source   string
	Score    float64
	Metadata map[string]Value
}

// Embedding pairs a vector with the text it was computed from.
type Embedding struct {
	Vector []float64
	Text   string
}

// RetrievalHit is a single scored result from a retrieval node.
type RetrievalHit struct {
	Text     string
	Score    float64
	Metadata map[string]Value
}

// Value is the open, JSON-shaped tagged union carried between nodes.
// Node config, node inputs, and node outputs are all maps of Value.
// Only one of the typed fields is meaningful for a given Kind. Value is
// a plain struct rather than a Go interface; it marshals to plain JSON
// for the event bus and trace sinks. Its slice and map fields make it
// non-comparable with ==.
type Value struct {
	Kind Kind

	Bool   bool
	Int    int64
	Float  float64
	Str    string
	Bytes  []byte
	List   []Value
	Map    map[string]Value

	Chunks     []TextChunk
	Embeddings []Embedding
	Retrieval  []RetrievalHit
}

func Null() Value                { return Value{Kind: KindNull} }
func FromBool(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func FromInt(i int64) Value      { return Value{Kind: KindInt, Int: i} }
func FromFloat(f float64) Value  { return Value{Kind: KindFloat, Float: f} }
func FromString(s string) Value  { return Value{Kind: KindString, Str: s} }
func FromBytes(b []byte) Value   { return Value{Kind: KindBytes, Bytes: b} }
func FromList(v []Value) Value   { return Value{Kind: KindList, List: v} }
func FromMap(v map[string]Value) Value { return Value{Kind: KindMap, Map: v} }

// IsZero reports whether v carries no meaningful payload (Null kind).
func (v Value) IsZero() bool { return v.Kind == KindNull }

// AsString returns the value's textual form for fields the router and
// formatters treat as plain text, regardless of the underlying kind.
func (v Value) AsString() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindBytes:
		return string(v.Bytes)
	case KindNull:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// MarshalJSON renders a Value the way a workflow author would expect to
// see it in an event payload or trace record: plain JSON, not a
// tag-wrapped envelope, for scalar and container kinds.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Float)
	case KindString:
		return json.Marshal(v.Str)
	case KindBytes:
		return json.Marshal(v.Bytes)
	case KindList:
		return json.Marshal(v.List)
	case KindMap:
		return json.Marshal(v.Map)
	case KindChunks:
		return json.Marshal(v.Chunks)
	case KindEmbeddings:
		return json.Marshal(v.Embeddings)
	case KindRetrieval:
		return json.Marshal(v.Retrieval)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON reconstructs a Value from plain JSON, inferring Kind
// from the JSON shape. Chunk/Embedding/Retrieval semantic kinds are not
// recoverable from plain JSON and decode as KindMap/KindList; callers
// that need those semantics carry them out-of-band (node output schema).
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = fromInterface(raw)
	return nil
}

func fromInterface(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return FromBool(t)
	case float64:
		if t == float64(int64(t)) {
			return FromInt(int64(t))
		}
		return FromFloat(t)
	case string:
		return FromString(t)
	case []interface{}:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = fromInterface(e)
		}
		return FromList(out)
	case map[string]interface{}:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[k] = fromInterface(e)
		}
		return FromMap(out)
	default:
		return Null()
	}
}
