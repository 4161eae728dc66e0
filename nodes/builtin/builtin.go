// Package builtin wires the full reference node library into a
// registry, together with the display formatters each node family
// registers for its outputs. A deployment that only needs a subset
// registers the individual packages instead.
package builtin

import (
	"github.com/tmc/langchaingo/embeddings"

	"github.com/genflow/workflow-engine/graph/cost"
	"github.com/genflow/workflow-engine/graph/format"
	"github.com/genflow/workflow-engine/graph/registry"
	"github.com/genflow/workflow-engine/graph/tool"
	"github.com/genflow/workflow-engine/nodes/comm"
	"github.com/genflow/workflow-engine/nodes/content"
	nodeio "github.com/genflow/workflow-engine/nodes/io"
	"github.com/genflow/workflow-engine/nodes/llm"
	"github.com/genflow/workflow-engine/nodes/retrieval"
)

// Options are the external collaborators the node library needs.
// Every field is optional; nodes whose collaborator is missing fail
// with a validation error at execution time, not at registration.
type Options struct {
	Embedder embeddings.Embedder
	Sender   comm.Sender
	Models   llm.ModelFactory
	Tools    *tool.Registry
	Pricing  *cost.Pricing
}

// Register installs every builtin node type and its formatters.
func Register(reg *registry.Registry, formats *format.Registry, opts Options) {
	nodeio.Register(reg)

	llmSvc := &llm.Service{Models: opts.Models, Pricing: opts.Pricing, Tools: opts.Tools}
	llmSvc.Register(reg)

	retrieval.NewService(opts.Embedder).Register(reg)

	contentSvc := &content.Service{Models: opts.Models, Pricing: opts.Pricing}
	contentSvc.Register(reg)

	(&comm.Service{Sender: opts.Sender}).Register(reg)

	registerFormatters(formats)
}

func registerFormatters(formats *format.Registry) {
	if formats == nil {
		return
	}
	for _, typ := range []string{"chat", "llm", "agent"} {
		formats.Register(typ, format.Markdown("response"))
	}
	for _, typ := range []string{"blog_generator", "proposal_generator", "brand_voice"} {
		formats.Register(typ, format.Markdown("output"))
	}
	for _, typ := range []string{"vector_search", "bm25_search", "hybrid_search", "rerank"} {
		formats.Register(typ, format.Table("results"))
	}
}
