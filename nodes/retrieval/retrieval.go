// Package retrieval implements the RAG node family: chunking,
// embedding, an in-process vector store, vector/BM25/hybrid search,
// and rerank. Text splitting and the embedder contract come from
// langchaingo; the store itself is an in-memory index keyed by
// index_id, which is all the engine core needs to execute retrieval
// workflows (production deployments swap the Service for one backed by
// a real vector database behind the same node types).
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/genflow/workflow-engine/graph"
	"github.com/genflow/workflow-engine/graph/registry"
)

const (
	defaultChunkSize    = 512
	defaultChunkOverlap = 64
	defaultTopK         = 3
)

// Service holds the shared retrieval state: the embedder used by the
// embedding and search nodes, and the in-memory indexes the store node
// populates.
type Service struct {
	Embedder embeddings.Embedder

	mu      sync.RWMutex
	indexes map[string]*index
}

type index struct {
	docs []schema.Document
	vecs [][]float32
}

func NewService(embedder embeddings.Embedder) *Service {
	return &Service{Embedder: embedder, indexes: make(map[string]*index)}
}

// Register installs the retrieval node types.
func (s *Service) Register(reg *registry.Registry) {
	reg.MustRegister(registry.Descriptor{
		Type: "chunking", DisplayName: "Text Chunking", Category: registry.CategoryTransform,
		Inputs: []registry.FieldSpec{
			{Name: "text", Description: "text to split", Required: true},
		},
		Outputs: []registry.FieldSpec{{Name: "chunks", Description: "ordered text chunks"}},
		Factory: func() registry.Node { return registry.NodeFunc(s.chunking) },
	})
	reg.MustRegister(registry.Descriptor{
		Type: "embedding", DisplayName: "Embedding", Category: registry.CategoryEmbedding,
		Inputs: []registry.FieldSpec{
			{Name: "chunks", Description: "text chunks to embed", Required: true},
		},
		Outputs: []registry.FieldSpec{
			{Name: "embeddings", Description: "one vector per chunk"},
			{Name: "chunks", Description: "the chunks, passed through"},
		},
		Retryable: true,
		Factory:   func() registry.Node { return registry.NodeFunc(s.embedding) },
	})
	reg.MustRegister(registry.Descriptor{
		Type: "vector_store", DisplayName: "Vector Store", Category: registry.CategoryVectorStore,
		Inputs: []registry.FieldSpec{
			{Name: "embeddings", Description: "vectors to index", Required: true},
			{Name: "chunks", Description: "chunk texts aligned with the vectors", Required: true},
		},
		Outputs: []registry.FieldSpec{{Name: "index_id", Description: "handle of the created index"}},
		Factory: func() registry.Node { return registry.NodeFunc(s.vectorStore) },
	})
	reg.MustRegister(registry.Descriptor{
		Type: "vector_search", DisplayName: "Vector Search", Category: registry.CategoryRetrieval,
		Inputs: []registry.FieldSpec{
			{Name: "query", Description: "search query", Required: true},
			{Name: "index_id", Description: "index to search", Required: true},
		},
		Outputs: []registry.FieldSpec{
			{Name: "results", Description: "scored hits, best first"},
			{Name: "query", Description: "the query, passed through"},
			{Name: "index_id", Description: "the index, passed through"},
		},
		Retryable: true,
		Factory:   func() registry.Node { return registry.NodeFunc(s.vectorSearch) },
	})
	reg.MustRegister(registry.Descriptor{
		Type: "bm25_search", DisplayName: "BM25 Search", Category: registry.CategoryRetrieval,
		Inputs: []registry.FieldSpec{
			{Name: "query", Description: "search query", Required: true},
			{Name: "index_id", Description: "index to search", Required: true},
		},
		Outputs: []registry.FieldSpec{
			{Name: "results", Description: "scored hits, best first"},
			{Name: "query", Description: "the query, passed through"},
			{Name: "index_id", Description: "the index, passed through"},
		},
		Factory: func() registry.Node { return registry.NodeFunc(s.bm25Search) },
	})
	reg.MustRegister(registry.Descriptor{
		Type: "hybrid_search", DisplayName: "Hybrid Search", Category: registry.CategoryRetrieval,
		Inputs: []registry.FieldSpec{
			{Name: "query", Description: "search query", Required: true},
			{Name: "index_id", Description: "index to search", Required: true},
		},
		Outputs: []registry.FieldSpec{
			{Name: "results", Description: "fused vector+BM25 hits, best first"},
			{Name: "query", Description: "the query, passed through"},
			{Name: "index_id", Description: "the index, passed through"},
		},
		Retryable: true,
		Factory:   func() registry.Node { return registry.NodeFunc(s.hybridSearch) },
	})
	reg.MustRegister(registry.Descriptor{
		Type: "rerank", DisplayName: "Rerank", Category: registry.CategoryRetrieval,
		Inputs: []registry.FieldSpec{
			{Name: "results", Description: "hits to rerank", Required: true},
			{Name: "query", Description: "original query"},
		},
		Outputs: []registry.FieldSpec{{Name: "results", Description: "reranked hits"}},
		Factory: func() registry.Node { return registry.NodeFunc(s.rerank) },
	})
}

func (s *Service) chunking(_ context.Context, inputs graph.NodeOutput, config map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
	text := inputs["text"].AsString()
	if strings.TrimSpace(text) == "" {
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: "chunking requires non-empty text", Kind: graph.KindNodeValidation, Cause: graph.ErrNodeValidation,
		}
	}

	chunkSize := intConfig(config, "chunk_size", defaultChunkSize)
	overlap := intConfig(config, "chunk_overlap", defaultChunkOverlap)
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(overlap),
	)
	pieces, err := splitter.SplitText(text)
	if err != nil {
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: fmt.Sprintf("split text: %v", err), Kind: graph.KindPermanent, Cause: err,
		}
	}

	chunks := make([]graph.TextChunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = graph.TextChunk{Text: p}
	}
	return graph.NodeOutput{
		"chunks": graph.Value{Kind: graph.KindChunks, Chunks: chunks},
	}, decimal.Zero, graph.TokenUsage{}, nil
}

func (s *Service) embedding(ctx context.Context, inputs graph.NodeOutput, _ map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
	if s.Embedder == nil {
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: "no embedder configured", Kind: graph.KindNodeValidation, Cause: graph.ErrNodeValidation,
		}
	}
	texts := chunkTexts(inputs["chunks"])
	if len(texts) == 0 {
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: "embedding requires chunks", Kind: graph.KindMissingInput, Cause: graph.ErrMissingInput,
		}
	}

	vecs, err := s.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
				Message: "embedding cancelled", Kind: graph.KindCancelled, Cause: graph.ErrCancelled,
			}
		}
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: fmt.Sprintf("embed documents: %v", err), Kind: graph.KindTransient, Cause: err,
		}
	}

	embs := make([]graph.Embedding, len(vecs))
	for i, v := range vecs {
		embs[i] = graph.Embedding{Vector: toFloat64(v), Text: texts[i]}
	}
	return graph.NodeOutput{
		"embeddings": graph.Value{Kind: graph.KindEmbeddings, Embeddings: embs},
		"chunks":     inputs["chunks"],
	}, decimal.Zero, graph.TokenUsage{}, nil
}

func (s *Service) vectorStore(_ context.Context, inputs graph.NodeOutput, config map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
	embs := inputs["embeddings"]
	if embs.Kind != graph.KindEmbeddings || len(embs.Embeddings) == 0 {
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: "vector_store requires embeddings", Kind: graph.KindMissingInput, Cause: graph.ErrMissingInput,
		}
	}

	indexID := config["index_id"].Str
	if indexID == "" {
		indexID = "idx-" + uuid.NewString()
	}

	idx := &index{
		docs: make([]schema.Document, len(embs.Embeddings)),
		vecs: make([][]float32, len(embs.Embeddings)),
	}
	for i, e := range embs.Embeddings {
		idx.docs[i] = schema.Document{PageContent: e.Text}
		idx.vecs[i] = toFloat32(e.Vector)
	}

	s.mu.Lock()
	s.indexes[indexID] = idx
	s.mu.Unlock()

	return graph.NodeOutput{"index_id": graph.FromString(indexID)}, decimal.Zero, graph.TokenUsage{}, nil
}

func (s *Service) lookupIndex(indexID string) (*index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[indexID]
	if !ok {
		return nil, &graph.NodeError{
			Message: fmt.Sprintf("unknown index %q", indexID), Kind: graph.KindPermanent, Cause: graph.ErrPermanent,
		}
	}
	return idx, nil
}

func (s *Service) vectorSearch(ctx context.Context, inputs graph.NodeOutput, config map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
	query, indexID, topK, err := searchParams(inputs, config)
	if err != nil {
		return nil, decimal.Zero, graph.TokenUsage{}, err
	}
	idx, err := s.lookupIndex(indexID)
	if err != nil {
		return nil, decimal.Zero, graph.TokenUsage{}, err
	}
	if s.Embedder == nil {
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: "no embedder configured", Kind: graph.KindNodeValidation, Cause: graph.ErrNodeValidation,
		}
	}

	qv, err := s.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
				Message: "search cancelled", Kind: graph.KindCancelled, Cause: graph.ErrCancelled,
			}
		}
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: fmt.Sprintf("embed query: %v", err), Kind: graph.KindTransient, Cause: err,
		}
	}

	hits := make([]graph.RetrievalHit, len(idx.docs))
	for i, doc := range idx.docs {
		hits[i] = graph.RetrievalHit{Text: doc.PageContent, Score: cosine(qv, idx.vecs[i])}
	}
	return searchOutput(topHits(hits, topK), query, indexID), decimal.Zero, graph.TokenUsage{}, nil
}

func (s *Service) bm25Search(_ context.Context, inputs graph.NodeOutput, config map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
	query, indexID, topK, err := searchParams(inputs, config)
	if err != nil {
		return nil, decimal.Zero, graph.TokenUsage{}, err
	}
	idx, err := s.lookupIndex(indexID)
	if err != nil {
		return nil, decimal.Zero, graph.TokenUsage{}, err
	}
	hits := bm25(query, idx.docs)
	return searchOutput(topHits(hits, topK), query, indexID), decimal.Zero, graph.TokenUsage{}, nil
}

func (s *Service) hybridSearch(ctx context.Context, inputs graph.NodeOutput, config map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
	vecOut, _, _, err := s.vectorSearch(ctx, inputs, config)
	if err != nil {
		return nil, decimal.Zero, graph.TokenUsage{}, err
	}
	bmOut, _, _, err := s.bm25Search(ctx, inputs, config)
	if err != nil {
		return nil, decimal.Zero, graph.TokenUsage{}, err
	}

	query, indexID, topK, _ := searchParams(inputs, config)
	fused := fuse(vecOut["results"].Retrieval, bmOut["results"].Retrieval)
	return searchOutput(topHits(fused, topK), query, indexID), decimal.Zero, graph.TokenUsage{}, nil
}

func (s *Service) rerank(_ context.Context, inputs graph.NodeOutput, config map[string]graph.Value) (graph.NodeOutput, decimal.Decimal, graph.TokenUsage, error) {
	hits := hitsOf(inputs["results"])
	if hits == nil {
		return nil, decimal.Zero, graph.TokenUsage{}, &graph.NodeError{
			Message: "rerank requires results", Kind: graph.KindMissingInput, Cause: graph.ErrMissingInput,
		}
	}
	topK := intConfig(config, "top_k", len(hits))
	return graph.NodeOutput{
		"results": graph.Value{Kind: graph.KindRetrieval, Retrieval: topHits(hits, topK)},
	}, decimal.Zero, graph.TokenUsage{}, nil
}

// --- helpers ---

func searchParams(inputs graph.NodeOutput, config map[string]graph.Value) (query, indexID string, topK int, err error) {
	query = inputs["query"].AsString()
	indexID = inputs["index_id"].AsString()
	if indexID == "" {
		indexID = config["index_id"].Str
	}
	topK = intConfig(config, "top_k", defaultTopK)
	if strings.TrimSpace(query) == "" {
		return "", "", 0, &graph.NodeError{
			Message: "search requires a query", Kind: graph.KindMissingInput, Cause: graph.ErrMissingInput,
		}
	}
	if indexID == "" {
		return "", "", 0, &graph.NodeError{
			Message: "search requires an index_id", Kind: graph.KindMissingInput, Cause: graph.ErrMissingInput,
		}
	}
	return query, indexID, topK, nil
}

func searchOutput(hits []graph.RetrievalHit, query, indexID string) graph.NodeOutput {
	return graph.NodeOutput{
		"results":  graph.Value{Kind: graph.KindRetrieval, Retrieval: hits},
		"query":    graph.FromString(query),
		"index_id": graph.FromString(indexID),
	}
}

func topHits(hits []graph.RetrievalHit, k int) []graph.RetrievalHit {
	sorted := append([]graph.RetrievalHit(nil), hits...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	if k > 0 && k < len(sorted) {
		sorted = sorted[:k]
	}
	return sorted
}

// fuse merges two ranked lists by summing normalised scores per text.
func fuse(a, b []graph.RetrievalHit) []graph.RetrievalHit {
	scores := make(map[string]float64)
	for _, h := range normalise(a) {
		scores[h.Text] += h.Score
	}
	for _, h := range normalise(b) {
		scores[h.Text] += h.Score
	}
	out := make([]graph.RetrievalHit, 0, len(scores))
	for text, score := range scores {
		out = append(out, graph.RetrievalHit{Text: text, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Text < out[j].Text
	})
	return out
}

func normalise(hits []graph.RetrievalHit) []graph.RetrievalHit {
	var max float64
	for _, h := range hits {
		if h.Score > max {
			max = h.Score
		}
	}
	if max == 0 {
		return hits
	}
	out := make([]graph.RetrievalHit, len(hits))
	for i, h := range hits {
		out[i] = graph.RetrievalHit{Text: h.Text, Score: h.Score / max, Metadata: h.Metadata}
	}
	return out
}

// bm25 scores docs against the query with standard parameters
// (k1=1.2, b=0.75). No suitable BM25 implementation ships in the
// dependency set, so the ~40 lines live here.
func bm25(query string, docs []schema.Document) []graph.RetrievalHit {
	const k1, b = 1.2, 0.75

	docTerms := make([]map[string]int, len(docs))
	totalLen := 0
	for i, doc := range docs {
		docTerms[i] = termCounts(doc.PageContent)
		for _, n := range docTerms[i] {
			totalLen += n
		}
	}
	if len(docs) == 0 {
		return nil
	}
	avgLen := float64(totalLen) / float64(len(docs))

	queryTerms := termCounts(query)
	df := make(map[string]int)
	for term := range queryTerms {
		for _, terms := range docTerms {
			if terms[term] > 0 {
				df[term]++
			}
		}
	}

	hits := make([]graph.RetrievalHit, len(docs))
	for i, doc := range docs {
		docLen := 0
		for _, n := range docTerms[i] {
			docLen += n
		}
		var score float64
		for term := range queryTerms {
			tf := float64(docTerms[i][term])
			if tf == 0 {
				continue
			}
			idf := math.Log(1 + (float64(len(docs))-float64(df[term])+0.5)/(float64(df[term])+0.5))
			score += idf * (tf * (k1 + 1)) / (tf + k1*(1-b+b*float64(docLen)/avgLen))
		}
		hits[i] = graph.RetrievalHit{Text: doc.PageContent, Score: score}
	}
	return hits
}

func termCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, term := range strings.Fields(strings.ToLower(text)) {
		term = strings.Trim(term, ".,;:!?\"'()[]")
		if term != "" {
			counts[term]++
		}
	}
	return counts
}

func cosine(a []float32, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func chunkTexts(v graph.Value) []string {
	switch v.Kind {
	case graph.KindChunks:
		out := make([]string, len(v.Chunks))
		for i, c := range v.Chunks {
			out[i] = c.Text
		}
		return out
	case graph.KindList:
		out := make([]string, len(v.List))
		for i, e := range v.List {
			out[i] = e.AsString()
		}
		return out
	default:
		return nil
	}
}

func hitsOf(v graph.Value) []graph.RetrievalHit {
	switch v.Kind {
	case graph.KindRetrieval:
		return v.Retrieval
	case graph.KindList:
		out := make([]graph.RetrievalHit, 0, len(v.List))
		for _, e := range v.List {
			if e.Kind != graph.KindMap {
				continue
			}
			hit := graph.RetrievalHit{Text: e.Map["text"].AsString()}
			if sc, ok := e.Map["score"]; ok {
				hit.Score = sc.Float
				if sc.Kind == graph.KindInt {
					hit.Score = float64(sc.Int)
				}
			}
			out = append(out, hit)
		}
		return out
	default:
		return nil
	}
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

func intConfig(config map[string]graph.Value, key string, fallback int) int {
	v, ok := config[key]
	if !ok {
		return fallback
	}
	switch v.Kind {
	case graph.KindInt:
		return int(v.Int)
	case graph.KindFloat:
		return int(v.Float)
	default:
		return fallback
	}
}
