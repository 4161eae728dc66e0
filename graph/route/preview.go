package route

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/genflow/workflow-engine/graph"
)

const previewRunes = 120

// preview renders a short, deterministic description of v for the
// intelligent-routing prompt. Text is NFC-normalised and truncated at
// a rune boundary so the same output bytes always yield the same
// prompt, whatever script the value is in.
func preview(v graph.Value) string {
	switch v.Kind {
	case graph.KindString:
		return truncate(v.Str)
	case graph.KindChunks:
		return fmt.Sprintf("chunks(%d)", len(v.Chunks))
	case graph.KindEmbeddings:
		return fmt.Sprintf("embeddings(%d)", len(v.Embeddings))
	case graph.KindRetrieval:
		if len(v.Retrieval) == 0 {
			return "results(0)"
		}
		return fmt.Sprintf("results(%d) first=%s", len(v.Retrieval), truncate(v.Retrieval[0].Text))
	case graph.KindList:
		return fmt.Sprintf("list(%d)", len(v.List))
	case graph.KindMap:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "map{" + strings.Join(keys, ",") + "}"
	default:
		return truncate(v.AsString())
	}
}

func truncate(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= previewRunes {
		return s
	}
	return string(runes[:previewRunes]) + "…"
}

// sourceCatalog renders every available source key with its preview,
// sources in collection order and keys sorted within a source.
func sourceCatalog(sources []Source) string {
	var b strings.Builder
	for _, src := range sources {
		role := "indirect"
		if src.IsDirect {
			role = "direct"
		}
		fmt.Fprintf(&b, "- node %q (type %s, %s):\n", src.NodeID, src.NodeType, role)
		keys := make([]string, 0, len(src.Outputs))
		for k := range src.Outputs {
			if k == graph.DisplayMetadataKey {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "    %s.%s = %s\n", src.NodeID, k, preview(src.Outputs[k]))
		}
	}
	return b.String()
}
