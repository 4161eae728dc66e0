package route

import (
	"github.com/expr-lang/expr"

	"github.com/genflow/workflow-engine/graph"
)

// MergeRule is one row of the smart-merge table: when a source of one
// of SourceTypes carries SourceKey, its value is proposed for every
// key in Targets. Direct sources apply unconditionally (in edge
// declaration order, so a later direct source may overwrite an earlier
// one); indirect sources only fill keys nothing has set yet. When is an
// optional expr predicate over the source's plain-JSON outputs that
// gates the rule.
type MergeRule struct {
	SourceTypes []string
	SourceKey   string
	Targets     []string
	When        string
}

var textualTypes = []string{"llm", "chat", "agent", "multi_agent"}
var retrievalTypes = []string{"vector_search", "bm25_search", "hybrid_search"}
var contentTypes = []string{"blog_generator", "proposal_generator", "brand_voice"}

// mergeRules is the normative pattern table. Order matters: rules are
// applied top to bottom per source.
var mergeRules = []MergeRule{
	{SourceTypes: []string{"text_input"}, SourceKey: "text", Targets: []string{"text", "topic"}},
	{SourceTypes: []string{"file_input", "file_upload"}, SourceKey: "text", Targets: []string{"text", "file_content", "context", "content"}},
	{SourceTypes: []string{"chunking"}, SourceKey: "chunks", Targets: []string{"chunks"}},
	{SourceTypes: []string{"embedding"}, SourceKey: "embeddings", Targets: []string{"embeddings"}},
	{SourceTypes: []string{"embedding"}, SourceKey: "chunks", Targets: []string{"chunks"}},
	{SourceTypes: []string{"vector_store"}, SourceKey: "index_id", Targets: []string{"index_id"}},
	{SourceTypes: retrievalTypes, SourceKey: "results", Targets: []string{"results"}},
	{SourceTypes: retrievalTypes, SourceKey: "query", Targets: []string{"query"}},
	{SourceTypes: retrievalTypes, SourceKey: "index_id", Targets: []string{"index_id"}},
	{SourceTypes: []string{"rerank"}, SourceKey: "results", Targets: []string{"results"},
		When: `len(outputs.results) > 0`},
	{SourceTypes: textualTypes, SourceKey: "response", Targets: []string{"output", "text", "body", "content", "message", "summary"}},
	{SourceTypes: textualTypes, SourceKey: "output", Targets: []string{"output", "text", "body", "content", "message", "summary"},
		When: `!("response" in outputs)`},
	{SourceTypes: contentTypes, SourceKey: "output", Targets: []string{"body", "email_body", "message", "text"}},
}

// smartMerge is phase R2a. Direct sources are walked first and their
// rules applied unconditionally; indirect sources follow with an
// only-if-missing guard. A target key proposed by two or more direct
// sources is recorded as a conflict for the intelligent phase.
func (r *Router) smartMerge(sources []Source, res *Result) {
	directSetter := make(map[string]string) // target key -> direct source that set it
	conflict := make(map[string]bool)

	for _, src := range sources {
		for _, rule := range mergeRules {
			if !rule.matches(src) {
				continue
			}
			v, ok := src.Outputs[rule.SourceKey]
			if !ok || v.IsZero() {
				continue
			}
			for _, key := range rule.Targets {
				if src.IsDirect {
					if by, dup := directSetter[key]; dup && by != src.NodeID && !conflict[key] {
						conflict[key] = true
						res.Conflicts = append(res.Conflicts, key)
					}
					directSetter[key] = src.NodeID
					setKey(res, key, v, Assignment{
						Key: key, Origin: OriginDirect, SourceNode: src.NodeID, SourceKey: rule.SourceKey,
					}, true)
				} else {
					setKey(res, key, v, Assignment{
						Key: key, Origin: OriginIndirect, SourceNode: src.NodeID, SourceKey: rule.SourceKey,
					}, false)
				}
			}
		}
	}
}

func (rule MergeRule) matches(src Source) bool {
	found := false
	for _, t := range rule.SourceTypes {
		if t == src.NodeType {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if rule.When == "" {
		return true
	}
	env := map[string]interface{}{"outputs": outputsToPlain(src.Outputs)}
	out, err := expr.Eval(rule.When, env)
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}

// setKey writes key into the result. overwrite=true is the direct-source
// path; overwrite=false never replaces an existing value. Assignments
// track the last writer per key.
func setKey(res *Result, key string, v graph.Value, a Assignment, overwrite bool) {
	if _, exists := res.Inputs[key]; exists && !overwrite {
		return
	}
	if _, exists := res.Inputs[key]; exists {
		// Replace the previous assignment record for this key.
		for i := len(res.Assignments) - 1; i >= 0; i-- {
			if res.Assignments[i].Key == key {
				res.Assignments[i] = a
				res.Inputs[key] = v
				return
			}
		}
	}
	res.Inputs[key] = v
	res.Assignments = append(res.Assignments, a)
}

func outputsToPlain(o graph.NodeOutput) map[string]interface{} {
	out := make(map[string]interface{}, len(o))
	for k, v := range o {
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
		return string(v.Bytes)
	case graph.KindList:
		out := make([]interface{}, len(v.List))
		for i, e := range v.List {
			out[i] = valueToPlain(e)
		}
		return out
	case graph.KindMap:
		return outputsToPlain(v.Map)
	case graph.KindChunks:
		out := make([]interface{}, len(v.Chunks))
		for i, c := range v.Chunks {
			out[i] = map[string]interface{}{"text": c.Text, "source": c.Source, "score": c.Score}
		}
		return out
	case graph.KindEmbeddings:
		out := make([]interface{}, len(v.Embeddings))
		for i, e := range v.Embeddings {
			out[i] = map[string]interface{}{"text": e.Text, "dims": len(e.Vector)}
		}
		return out
	case graph.KindRetrieval:
		out := make([]interface{}, len(v.Retrieval))
		for i, h := range v.Retrieval {
			out[i] = map[string]interface{}{"text": h.Text, "score": h.Score}
		}
		return out
	default:
		return nil
	}
}
