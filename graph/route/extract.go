package route

import (
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"github.com/genflow/workflow-engine/graph"
)

// standardTextKeys is the ordered key list scanned when a target needs
// "any textual output".
var standardTextKeys = []string{"text", "output", "content", "body", "summary", "response"}

// criticalRule declares one field a target type cannot run without and
// the scan strategy that rescues it.
type criticalRule struct {
	field string
	// fromTypes limits the scan to sources of these node types; empty
	// means any source.
	fromTypes []string
	// keys are the output keys tried on each candidate source, in
	// order. Prefixed forms ({source_id}_{key}) are tried automatically.
	keys []string
}

// criticalRules maps target node type to the fields the extractor must
// guarantee. The extractor runs after smart-merge and touches only
// fields that are still missing.
var criticalRules = map[string][]criticalRule{
	"chat": {
		{field: "query", fromTypes: append([]string{"text_input"}, retrievalTypes...), keys: []string{"query", "text"}},
		{field: "results", fromTypes: append(retrievalTypes, "rerank"), keys: []string{"results"}},
	},
	"llm": {
		{field: "query", fromTypes: append([]string{"text_input"}, retrievalTypes...), keys: []string{"query", "text"}},
		{field: "results", fromTypes: append(retrievalTypes, "rerank"), keys: []string{"results"}},
	},
	"embedding": {
		{field: "chunks", fromTypes: []string{"chunking"}, keys: []string{"chunks"}},
	},
	"vector_store": {
		{field: "embeddings", fromTypes: []string{"embedding"}, keys: []string{"embeddings"}},
		{field: "chunks", fromTypes: []string{"embedding", "chunking"}, keys: []string{"chunks"}},
	},
	"vector_search": {
		{field: "query", fromTypes: []string{"text_input"}, keys: []string{"text", "query"}},
		{field: "index_id", fromTypes: []string{"vector_store"}, keys: []string{"index_id"}},
	},
	"email": {
		{field: "body", keys: append(standardTextKeys, "results[0].text")},
		{field: "to", keys: []string{"to"}},
	},
	"slack": {
		{field: "message", keys: append(standardTextKeys, "results[0].text")},
		{field: "channel", keys: []string{"channel"}},
	},
}

// extract is phase R2b: critical-field extraction. For every field the
// target type declares indispensable and smart-merge left unset, scan
// the collected sources (direct first, then indirect) for the standard
// keys, their {source_id}_{field} prefixed forms, and dotted paths.
func (r *Router) extract(target graph.Node, sources []Source, res *Result) {
	rules, ok := criticalRules[target.Type]
	if !ok {
		return
	}
	for _, rule := range rules {
		if v, exists := res.Inputs[rule.field]; exists && !v.IsZero() {
			continue
		}
		for _, src := range sources {
			if len(rule.fromTypes) > 0 && !containsString(rule.fromTypes, src.NodeType) {
				continue
			}
			if v, key, found := lookupField(src, rule.keys); found {
				res.Inputs[rule.field] = v
				res.Assignments = append(res.Assignments, Assignment{
					Key: rule.field, Origin: OriginExtraction, SourceNode: src.NodeID, SourceKey: key,
				})
				break
			}
		}
	}
}

// lookupField tries each candidate key against src's outputs: the bare
// key, the {source_id}_{key} prefixed form, and — for keys containing
// a dot — a JSONPath lookup into the plain-JSON rendering of the
// outputs.
func lookupField(src Source, keys []string) (graph.Value, string, bool) {
	for _, key := range keys {
		if v, ok := src.Outputs[key]; ok && !v.IsZero() {
			return v, key, true
		}
		prefixed := src.NodeID + "_" + key
		if v, ok := src.Outputs[prefixed]; ok && !v.IsZero() {
			return v, prefixed, true
		}
		if strings.ContainsAny(key, ".[") {
			if v, ok := lookupPath(src.Outputs, key); ok {
				return v, key, true
			}
		}
	}
	return graph.Value{}, "", false
}

// lookupPath resolves a JSONPath-shaped key such as "results[0].text"
// over the plain rendering of outputs.
func lookupPath(outputs graph.NodeOutput, path string) (graph.Value, bool) {
	plain := outputsToPlain(outputs)
	got, err := jsonpath.Get(fmt.Sprintf("$.%s", path), plain)
	if err != nil || got == nil {
		return graph.Value{}, false
	}
	return plainToValue(got), true
}

func plainToValue(raw interface{}) graph.Value {
	switch t := raw.(type) {
	case nil:
		return graph.Null()
	case bool:
		return graph.FromBool(t)
	case int64:
		return graph.FromInt(t)
	case float64:
		return graph.FromFloat(t)
	case string:
		return graph.FromString(t)
	case []interface{}:
		out := make([]graph.Value, len(t))
		for i, e := range t {
			out[i] = plainToValue(e)
		}
		return graph.FromList(out)
	case map[string]interface{}:
		out := make(map[string]graph.Value, len(t))
		for k, e := range t {
			out[k] = plainToValue(e)
		}
		return graph.FromMap(out)
	default:
		return graph.Null()
	}
}

func containsString(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
