package route

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/model"
	"github.com/genflow/workflow-engine/graph/registry"
)

const intelligentSystemPrompt = `You map workflow node outputs to the input fields of a downstream node.
Respond with a single JSON object whose keys are target input names and whose
values are source references of the form "node_id.output_key". Include only
inputs you are confident about. No prose, no markdown fences.`

// intelligent is phase R3. One LLM call may add missing keys or
// override ambiguous ones; every failure mode (timeout, malformed
// reply, unknown key) degrades to the deterministic result already in
// res. It never removes a key the earlier phases set.
func (r *Router) intelligent(ctx context.Context, target graph.Node, desc registry.Descriptor, sources []Source, res *Result) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultIntelligentTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := r.Model.Chat(callCtx, []model.Message{
		{Role: model.RoleSystem, Content: intelligentSystemPrompt},
		{Role: model.RoleUser, Content: buildIntelligentPrompt(target, desc, sources, res)},
	}, nil)
	if err != nil {
		r.Log.Warn().Err(err).Str("node", target.ID).Msg("intelligent routing call failed, using deterministic result")
		return
	}

	mapping, err := parseMapping(out.Text)
	if err != nil {
		r.Log.Warn().Err(err).Str("node", target.ID).Msg("intelligent routing reply unparseable, using deterministic result")
		return
	}

	declared := make(map[string]bool, len(desc.Inputs))
	for _, f := range desc.Inputs {
		declared[f.Name] = true
	}

	// Apply in sorted key order so provenance stays deterministic for a
	// fixed model reply.
	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, inputName := range keys {
		if !declared[inputName] {
			continue
		}
		srcNode, srcKey, ok := splitRef(mapping[inputName])
		if !ok {
			continue
		}
		v, found := resolveRef(sources, srcNode, srcKey)
		if !found {
			continue
		}
		setKey(res, inputName, v, Assignment{
			Key: inputName, Origin: OriginIntelligent, SourceNode: srcNode, SourceKey: srcKey,
		}, true)
	}
}

func buildIntelligentPrompt(target graph.Node, desc registry.Descriptor, sources []Source, res *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target node %q has type %q.\n\nTarget inputs:\n", target.ID, target.Type)
	for _, f := range desc.Inputs {
		req := ""
		if f.Required {
			req = " (required)"
		}
		fmt.Fprintf(&b, "- %s%s: %s\n", f.Name, req, f.Description)
	}
	b.WriteString("\nAvailable source outputs:\n")
	b.WriteString(sourceCatalog(sources))
	b.WriteString("\nAlready decided:\n")
	if len(res.Assignments) == 0 {
		b.WriteString("(none)\n")
	}
	for _, a := range res.Assignments {
		fmt.Fprintf(&b, "- %s <- %s.%s (%s)\n", a.Key, a.SourceNode, a.SourceKey, a.Origin)
	}
	if len(res.Conflicts) > 0 {
		fmt.Fprintf(&b, "\nConflicting keys needing a decision: %s\n", strings.Join(res.Conflicts, ", "))
	}
	return b.String()
}

// parseMapping decodes the model's JSON object, tolerating a fenced
// code block around it.
func parseMapping(text string) (map[string]string, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	var mapping map[string]string
	if err := json.Unmarshal([]byte(text), &mapping); err != nil {
		return nil, fmt.Errorf("route: intelligent reply is not a JSON string map: %w", err)
	}
	return mapping, nil
}

// splitRef parses "node_id.output_key". A bare key with no dot is
// accepted and matched against any source.
func splitRef(ref string) (node, key string, ok bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", false
	}
	if i := strings.Index(ref, "."); i > 0 {
		return ref[:i], ref[i+1:], true
	}
	return "", ref, true
}

// resolveRef finds the referenced value, preferring direct sources when
// no node id was given.
func resolveRef(sources []Source, node, key string) (graph.Value, bool) {
	for _, src := range sources {
		if node != "" && src.NodeID != node {
			continue
		}
		if v, ok := src.Outputs[key]; ok && !v.IsZero() {
			return v, true
		}
	}
	return graph.Value{}, false
}
