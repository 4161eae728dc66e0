package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/registry"
)

// hashEmbedder is a deterministic fake: each text maps to a small
// vector derived from its term counts, so related texts are closer.
type hashEmbedder struct{}

func (hashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embed(t)
	}
	return out, nil
}

func (hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return embed(text), nil
}

func embed(text string) []float32 {
	v := make([]float32, 16)
	for _, term := range strings.Fields(strings.ToLower(text)) {
		var h uint32
		for _, r := range term {
			h = h*31 + uint32(r)
		}
		v[h%16]++
	}
	return v
}

func run(t *testing.T, svc *Service, typ string, inputs graph.NodeOutput, config map[string]graph.Value) graph.NodeOutput {
	t.Helper()
	reg := registry.New()
	svc.Register(reg)
	d, err := reg.Lookup(typ)
	require.NoError(t, err)
	out, _, _, err := d.Factory().Execute(context.Background(), inputs, config)
	require.NoError(t, err)
	return out
}

func TestChunkingSplitsText(t *testing.T) {
	svc := NewService(hashEmbedder{})
	long := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)

	out := run(t, svc, "chunking", graph.NodeOutput{"text": graph.FromString(long)},
		map[string]graph.Value{"chunk_size": graph.FromInt(128), "chunk_overlap": graph.FromInt(16)})

	require.Greater(t, len(out["chunks"].Chunks), 1)
	for _, c := range out["chunks"].Chunks {
		require.NotEmpty(t, c.Text)
	}
}

func TestEmbedStoreSearchPipeline(t *testing.T) {
	svc := NewService(hashEmbedder{})

	chunks := graph.Value{Kind: graph.KindChunks, Chunks: []graph.TextChunk{
		{Text: "the workflow engine executes graphs"},
		{Text: "bananas are yellow fruit"},
		{Text: "graphs have nodes and edges"},
	}}

	embedded := run(t, svc, "embedding", graph.NodeOutput{"chunks": chunks}, nil)
	require.Len(t, embedded["embeddings"].Embeddings, 3)
	require.Equal(t, chunks, embedded["chunks"])

	stored := run(t, svc, "vector_store", graph.NodeOutput{
		"embeddings": embedded["embeddings"],
		"chunks":     embedded["chunks"],
	}, map[string]graph.Value{"index_id": graph.FromString("idx-test")})
	require.Equal(t, "idx-test", stored["index_id"].Str)

	found := run(t, svc, "vector_search", graph.NodeOutput{
		"query":    graph.FromString("workflow graphs"),
		"index_id": graph.FromString("idx-test"),
	}, map[string]graph.Value{"top_k": graph.FromInt(2)})

	hits := found["results"].Retrieval
	require.Len(t, hits, 2)
	require.NotContains(t, hits[0].Text, "bananas")
	require.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	// Passthrough keys the router depends on.
	require.Equal(t, "workflow graphs", found["query"].Str)
	require.Equal(t, "idx-test", found["index_id"].Str)
}

func TestBM25Search(t *testing.T) {
	svc := NewService(hashEmbedder{})
	seedIndex(t, svc, "idx-bm25")

	found := run(t, svc, "bm25_search", graph.NodeOutput{
		"query":    graph.FromString("lazy dog"),
		"index_id": graph.FromString("idx-bm25"),
	}, map[string]graph.Value{"top_k": graph.FromInt(1)})

	hits := found["results"].Retrieval
	require.Len(t, hits, 1)
	require.Contains(t, hits[0].Text, "lazy dog")
}

func TestHybridSearchFusesRankings(t *testing.T) {
	svc := NewService(hashEmbedder{})
	seedIndex(t, svc, "idx-hybrid")

	found := run(t, svc, "hybrid_search", graph.NodeOutput{
		"query":    graph.FromString("lazy dog"),
		"index_id": graph.FromString("idx-hybrid"),
	}, nil)
	hits := found["results"].Retrieval
	require.NotEmpty(t, hits)
	require.Contains(t, hits[0].Text, "dog")
}

func TestRerankSortsAndTruncates(t *testing.T) {
	svc := NewService(hashEmbedder{})
	out := run(t, svc, "rerank", graph.NodeOutput{
		"results": graph.Value{Kind: graph.KindRetrieval, Retrieval: []graph.RetrievalHit{
			{Text: "low", Score: 0.1},
			{Text: "high", Score: 0.9},
			{Text: "mid", Score: 0.5},
		}},
	}, map[string]graph.Value{"top_k": graph.FromInt(2)})

	hits := out["results"].Retrieval
	require.Len(t, hits, 2)
	require.Equal(t, "high", hits[0].Text)
	require.Equal(t, "mid", hits[1].Text)
}

func TestSearchUnknownIndexFails(t *testing.T) {
	svc := NewService(hashEmbedder{})
	reg := registry.New()
	svc.Register(reg)
	d, _ := reg.Lookup("vector_search")

	_, _, _, err := d.Factory().Execute(context.Background(), graph.NodeOutput{
		"query":    graph.FromString("q"),
		"index_id": graph.FromString("missing"),
	}, nil)
	require.ErrorIs(t, err, graph.ErrPermanent)
}

func seedIndex(t *testing.T, svc *Service, indexID string) {
	t.Helper()
	chunks := graph.Value{Kind: graph.KindChunks, Chunks: []graph.TextChunk{
		{Text: "the quick brown fox jumps over the lazy dog"},
		{Text: "workflow engines schedule node execution"},
		{Text: "the stock market closed higher today"},
	}}
	embedded := run(t, svc, "embedding", graph.NodeOutput{"chunks": chunks}, nil)
	run(t, svc, "vector_store", graph.NodeOutput{
		"embeddings": embedded["embeddings"],
		"chunks":     embedded["chunks"],
	}, map[string]graph.Value{"index_id": graph.FromString(indexID)})
}
