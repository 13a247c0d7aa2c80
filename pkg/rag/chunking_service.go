package rag

import (
	"context"
	"log/slog"
	"unicode"
)

// ChunkingService splits page-annotated document text into overlapping
// fixed-size windows with sentence-aware boundaries.
type ChunkingService struct {
	config *ChunkingConfig
	logger *slog.Logger
}

// ChunkingConfig holds configuration for the chunking service.
type ChunkingConfig struct {
	// ChunkSize is the window size in characters.
	ChunkSize int `json:"chunk_size"`
	// ChunkOverlap is the overlap between consecutive windows in characters.
	ChunkOverlap int `json:"chunk_overlap"`
	// BoundaryWindow is the fraction of the window tail in which a sentence
	// boundary is honored instead of a hard split.
	BoundaryWindow float64 `json:"boundary_window"`
}

// DefaultChunkingConfig returns the chunking defaults tuned for policy
// documents.
func DefaultChunkingConfig() *ChunkingConfig {
	return &ChunkingConfig{
		ChunkSize:      1500,
		ChunkOverlap:   300,
		BoundaryWindow: 0.10,
	}
}

// NewChunkingService creates a chunking service with the given configuration.
func NewChunkingService(config *ChunkingConfig) *ChunkingService {
	if config == nil {
		config = DefaultChunkingConfig()
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = 1500
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 5
	}
	if config.BoundaryWindow <= 0 || config.BoundaryWindow >= 1 {
		config.BoundaryWindow = 0.10
	}

	return &ChunkingService{
		config: config,
		logger: slog.Default().With("component", "chunking-service"),
	}
}

// ChunkDocument splits one document into chunks with ids starting at 0.
func (cs *ChunkingService) ChunkDocument(ctx context.Context, doc *LoadedDocument) ([]*Chunk, error) {
	return cs.chunkWithBase(ctx, doc, 0)
}

// ChunkDocuments splits a document set into a single chunk arena with
// sequential ids across all documents, in document order.
func (cs *ChunkingService) ChunkDocuments(ctx context.Context, docs []*LoadedDocument) ([]*Chunk, error) {
	var all []*Chunk
	for _, doc := range docs {
		chunks, err := cs.chunkWithBase(ctx, doc, len(all))
		if err != nil {
			return nil, err
		}
		all = append(all, chunks...)
	}
	return all, nil
}

func (cs *ChunkingService) chunkWithBase(ctx context.Context, doc *LoadedDocument, baseID int) ([]*Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := doc.Text()
	if len(text) == 0 {
		return []*Chunk{}, nil
	}

	pageEnds := pageEndOffsets(doc.Pages)
	stride := cs.config.ChunkSize - cs.config.ChunkOverlap

	var chunks []*Chunk
	pos := 0
	for pos < len(text) {
		end := pos + cs.config.ChunkSize
		if end >= len(text) {
			end = len(text)
		} else if b := cs.boundaryInTail(text, pos, end); b > 0 {
			end = b
		}

		chunks = append(chunks, &Chunk{
			ID:          baseID + len(chunks),
			DocumentID:  doc.ID,
			Text:        text[pos:end],
			PageNumber:  majorityPage(pageEnds, pos, end),
			StartOffset: pos,
			EndOffset:   end,
		})

		if end >= len(text) {
			break
		}
		// The next window starts exactly one overlap before this one ended so
		// stripping the overlap reconstructs the original text.
		next := end - cs.config.ChunkOverlap
		if next <= pos {
			next = pos + stride
		}
		pos = next
	}

	cs.logger.Debug("Chunked document",
		slog.String("document_id", doc.ID),
		slog.Int("characters", len(text)),
		slog.Int("chunks", len(chunks)))

	return chunks, nil
}

// boundaryInTail returns the offset just past the last sentence boundary in
// the final BoundaryWindow fraction of the window [pos,end), or 0 when no
// boundary falls there and a hard split is required.
func (cs *ChunkingService) boundaryInTail(text string, pos, end int) int {
	tailStart := end - int(float64(cs.config.ChunkSize)*cs.config.BoundaryWindow)
	if tailStart <= pos {
		return 0
	}
	for i := end - 1; i >= tailStart; i-- {
		if isSentenceEnd(text, i) {
			return i + 1
		}
	}
	return 0
}

// isSentenceEnd reports whether text[i] terminates a sentence: a terminator
// rune followed by whitespace or end of text.
func isSentenceEnd(text string, i int) bool {
	c := text[i]
	if c != '.' && c != '!' && c != '?' {
		return false
	}
	if i+1 >= len(text) {
		return true
	}
	return unicode.IsSpace(rune(text[i+1]))
}

// pageEndOffsets returns the cumulative end offset of each page within the
// joined document text.
func pageEndOffsets(pages []PageText) []int {
	ends := make([]int, len(pages))
	off := 0
	for i, p := range pages {
		off += len(p.Text)
		ends[i] = off
	}
	return ends
}

// majorityPage returns the 1-based number of the page owning the majority of
// the characters in [start,end), or 0 when no page information exists.
func majorityPage(pageEnds []int, start, end int) int {
	if len(pageEnds) == 0 {
		return 0
	}
	bestPage, bestOverlap := 0, 0
	pageStart := 0
	for i, pageEnd := range pageEnds {
		overlap := min(end, pageEnd) - max(start, pageStart)
		if overlap > bestOverlap {
			bestOverlap = overlap
			bestPage = i + 1
		}
		pageStart = pageEnd
		if pageStart >= end {
			break
		}
	}
	return bestPage
}
