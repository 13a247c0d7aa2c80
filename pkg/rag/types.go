// Package rag implements the retrieval-augmented answering pipeline for
// policy documents: loading, chunking, embedding, in-memory vector retrieval,
// and answer synthesis with confidence scoring and source citations.
package rag

import (
	"fmt"
	"time"
)

// LoadedDocument is the cleaned, page-annotated text of one source document.
type LoadedDocument struct {
	ID        string     `json:"id"`
	SourceURL string     `json:"source_url"`
	Title     string     `json:"title,omitempty"`
	Pages     []PageText `json:"pages"`
	LoadedAt  time.Time  `json:"loaded_at"`
}

// PageText holds the extracted text of a single page.
type PageText struct {
	Number int    `json:"number"` // 1-based page number
	Text   string `json:"text"`
}

// Text returns the document content as one string, pages joined in order.
func (d *LoadedDocument) Text() string {
	total := 0
	for _, p := range d.Pages {
		total += len(p.Text)
	}
	buf := make([]byte, 0, total)
	for _, p := range d.Pages {
		buf = append(buf, p.Text...)
	}
	return string(buf)
}

// Chunk is a contiguous slice of document text with provenance metadata.
// Chunks are immutable once created and owned by the index built from them.
type Chunk struct {
	ID          int    `json:"id"` // sequence index within the document set
	DocumentID  string `json:"document_id"`
	Text        string `json:"text"`
	PageNumber  int    `json:"page_number,omitempty"` // page owning the majority of the chunk, 0 if unknown
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
}

// IndexEntry pairs a chunk id with its embedding inside the vector index.
type IndexEntry struct {
	ChunkID   int
	Embedding []float32
}

// ScoredChunk is a retrieved chunk with its similarity to the query.
type ScoredChunk struct {
	Chunk      *Chunk  `json:"chunk"`
	Similarity float64 `json:"similarity"` // cosine similarity floored at 0, in [0,1]
}

// RetrievalResult is the ordered output of a top-K query, descending by
// similarity, at most K entries.
type RetrievalResult struct {
	Chunks []ScoredChunk `json:"chunks"`
}

// SourceClause cites a chunk of original document text backing an answer.
type SourceClause struct {
	Text            string  `json:"text"`
	PageNumber      int     `json:"page_number,omitempty"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// AnswerRecord is the structured answer returned per question. It is created
// once and never mutated afterwards.
type AnswerRecord struct {
	Answer          string         `json:"answer"`
	ConfidenceScore float64        `json:"confidence_score"`
	SourceClauses   []SourceClause `json:"source_clauses"`
	Reasoning       string         `json:"reasoning"`
}

// GenerationOutput is the raw result of one generation call as consumed by
// the synthesizer. Certainty is the model's self-reported confidence when
// the service provides one.
type GenerationOutput struct {
	Text         string
	Certainty    float64
	HasCertainty bool
}

// EmbeddingUnavailableError reports that the embedding service stayed
// unavailable through the whole retry budget.
type EmbeddingUnavailableError struct {
	Attempts int
	Err      error
}

func (e *EmbeddingUnavailableError) Error() string {
	return fmt.Sprintf("embedding service unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *EmbeddingUnavailableError) Unwrap() error { return e.Err }

// DocumentUnreadableError reports that a source document could not be
// fetched or parsed. It is not retried here.
type DocumentUnreadableError struct {
	URL string
	Err error
}

func (e *DocumentUnreadableError) Error() string {
	return fmt.Sprintf("document %s unreadable: %v", e.URL, e.Err)
}

func (e *DocumentUnreadableError) Unwrap() error { return e.Err }
