package rag

import (
	"fmt"
	"math"
	"sort"
)

// VectorIndex is an exact in-memory nearest-neighbor index over chunk
// embeddings. It is built once per document set and queried many times;
// nothing mutates it after construction. Chunks are stored once in an arena
// addressed by chunk id, the entries hold only ids and vectors.
type VectorIndex struct {
	chunks  []*Chunk
	entries []IndexEntry
}

// BuildIndex constructs an index from a chunk arena and its embeddings,
// paired one-to-one by position.
func BuildIndex(chunks []*Chunk, embeddings [][]float32) (*VectorIndex, error) {
	if len(chunks) != len(embeddings) {
		return nil, fmt.Errorf("chunk/embedding count mismatch: %d chunks, %d embeddings", len(chunks), len(embeddings))
	}

	entries := make([]IndexEntry, len(chunks))
	for i, c := range chunks {
		if c.ID != i {
			return nil, fmt.Errorf("chunk arena is not densely numbered: chunk at position %d has id %d", i, c.ID)
		}
		entries[i] = IndexEntry{ChunkID: c.ID, Embedding: embeddings[i]}
	}

	return &VectorIndex{chunks: chunks, entries: entries}, nil
}

// Size returns the number of indexed chunks.
func (idx *VectorIndex) Size() int {
	return len(idx.entries)
}

// Chunk returns the chunk with the given id, or nil when out of range.
func (idx *VectorIndex) Chunk(id int) *Chunk {
	if id < 0 || id >= len(idx.chunks) {
		return nil
	}
	return idx.chunks[id]
}

// Query returns the k chunks most similar to the query vector, descending by
// cosine similarity. Ties preserve insertion order and an empty index yields
// an empty result, never an error. Negative cosines are floored at zero so
// scores stay in [0,1].
func (idx *VectorIndex) Query(vector []float32, k int) RetrievalResult {
	if len(idx.entries) == 0 || k <= 0 {
		return RetrievalResult{Chunks: []ScoredChunk{}}
	}
	if k > len(idx.entries) {
		k = len(idx.entries)
	}

	scored := make([]ScoredChunk, 0, len(idx.entries))
	for _, entry := range idx.entries {
		score := cosineSimilarity(vector, entry.Embedding)
		if score < 0 {
			score = 0
		}
		scored = append(scored, ScoredChunk{
			Chunk:      idx.chunks[entry.ChunkID],
			Similarity: score,
		})
	}

	// Stable: equal scores keep chunk insertion order.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	return RetrievalResult{Chunks: scored[:k]}
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched dimensions or zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// l2Normalize scales a vector to unit length in place. Zero vectors are left
// untouched.
func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
