package rag

import (
	"context"
	"fmt"
	"log/slog"
)

// Retriever embeds a question and queries a vector index for the most
// similar chunks. It holds no per-request state; the index is supplied per
// call because indexes live only as long as the request that built them.
type Retriever struct {
	embedder *EmbeddingService
	metrics  *Metrics
	logger   *slog.Logger
}

// NewRetriever creates a retriever on top of the embedding service.
func NewRetriever(embedder *EmbeddingService, metrics *Metrics) *Retriever {
	return &Retriever{
		embedder: embedder,
		metrics:  metrics,
		logger:   slog.Default().With("component", "retriever"),
	}
}

// Retrieve returns the top-k chunks for the question, descending by
// similarity. k is clamped to [1, index size]; an empty index yields an
// empty result. Identical questions against an unchanged index produce
// identical results for a deterministic embedding provider.
func (r *Retriever) Retrieve(ctx context.Context, question string, index *VectorIndex, k int) (RetrievalResult, error) {
	if index.Size() == 0 {
		return RetrievalResult{Chunks: []ScoredChunk{}}, nil
	}
	if k < 1 {
		k = 1
	}
	if k > index.Size() {
		k = index.Size()
	}

	vector, err := r.embedder.EmbedText(ctx, question)
	if err != nil {
		return RetrievalResult{}, fmt.Errorf("failed to embed question: %w", err)
	}

	result := index.Query(vector, k)
	if r.metrics != nil && len(result.Chunks) > 0 {
		r.metrics.RetrievalTopScore.Observe(result.Chunks[0].Similarity)
	}
	r.logger.Debug("Retrieved chunks",
		slog.Int("k", k),
		slog.Int("returned", len(result.Chunks)))

	return result, nil
}
