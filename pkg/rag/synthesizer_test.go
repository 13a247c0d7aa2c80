package rag

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scoredChunk(id int, page int, text string, sim float64) ScoredChunk {
	return ScoredChunk{
		Chunk:      &Chunk{ID: id, DocumentID: "d", Text: text, PageNumber: page},
		Similarity: sim,
	}
}

func TestSynthesize_BlendsCertaintyAndSimilarity(t *testing.T) {
	s := NewAnswerSynthesizer(nil, nil)
	used := []ScoredChunk{
		scoredChunk(0, 1, "clause a", 0.9),
		scoredChunk(1, 2, "clause b", 0.7),
	}
	gen := &GenerationOutput{Text: "Thirty days.", Certainty: 0.8, HasCertainty: true}

	record := s.Synthesize(gen, used)

	// 0.5*0.8 + 0.5*0.8 (mean of 0.9 and 0.7) = 0.8
	assert.InDelta(t, 0.8, record.ConfidenceScore, 1e-9)
	assert.Equal(t, "Thirty days.", record.Answer)
	require.Len(t, record.SourceClauses, 2)
	assert.Equal(t, "clause a", record.SourceClauses[0].Text)
	assert.Equal(t, 1, record.SourceClauses[0].PageNumber)
	assert.Equal(t, 0.9, record.SourceClauses[0].ConfidenceScore)
	assert.NotEmpty(t, record.Reasoning)
}

func TestSynthesize_DefaultCertaintyWhenUnreported(t *testing.T) {
	s := NewAnswerSynthesizer(nil, nil)
	used := []ScoredChunk{scoredChunk(0, 1, "clause", 0.6)}
	gen := &GenerationOutput{Text: "Answer."}

	record := s.Synthesize(gen, used)

	// 0.5*0.5 (default midpoint) + 0.5*0.6 = 0.55
	assert.InDelta(t, 0.55, record.ConfidenceScore, 1e-9)
}

func TestSynthesize_ConfidenceCappedByBestClause(t *testing.T) {
	s := NewAnswerSynthesizer(nil, nil)
	// Low-similarity context with a certain model: the cap keeps the record
	// from claiming more than the evidence supports.
	used := []ScoredChunk{scoredChunk(0, 1, "clause", 0.1)}
	gen := &GenerationOutput{Text: "Answer.", Certainty: 1.0, HasCertainty: true}

	record := s.Synthesize(gen, used)

	assert.InDelta(t, 0.35, record.ConfidenceScore, 1e-9) // 0.1 + 0.25 fudge
}

func TestSynthesize_MonotonicInBothInputs(t *testing.T) {
	s := NewAnswerSynthesizer(nil, nil)

	base := s.Synthesize(&GenerationOutput{Certainty: 0.5, HasCertainty: true},
		[]ScoredChunk{scoredChunk(0, 1, "c", 0.5)})
	moreCertain := s.Synthesize(&GenerationOutput{Certainty: 0.9, HasCertainty: true},
		[]ScoredChunk{scoredChunk(0, 1, "c", 0.5)})
	moreSimilar := s.Synthesize(&GenerationOutput{Certainty: 0.5, HasCertainty: true},
		[]ScoredChunk{scoredChunk(0, 1, "c", 0.9)})

	assert.GreaterOrEqual(t, moreCertain.ConfidenceScore, base.ConfidenceScore)
	assert.GreaterOrEqual(t, moreSimilar.ConfidenceScore, base.ConfidenceScore)
}

func TestSynthesize_InsufficientContext(t *testing.T) {
	s := NewAnswerSynthesizer(nil, nil)

	record := s.Synthesize(nil, nil)

	assert.Less(t, record.ConfidenceScore, 0.2)
	assert.Empty(t, record.SourceClauses)
	assert.Contains(t, record.Reasoning, "Insufficient context")
	assert.NotEmpty(t, record.Answer)
}

func TestSynthesize_Idempotent(t *testing.T) {
	s := NewAnswerSynthesizer(nil, nil)
	used := []ScoredChunk{
		scoredChunk(0, 3, "clause a", 0.82),
		scoredChunk(1, 5, "clause b", 0.64),
	}
	gen := &GenerationOutput{Text: "Yes, maternity is covered.", Certainty: 0.77, HasCertainty: true}

	first := s.Synthesize(gen, used)
	second := s.Synthesize(gen, used)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, firstJSON, secondJSON)
}

func TestSynthesize_ClausesOrderedByDescendingSimilarity(t *testing.T) {
	s := NewAnswerSynthesizer(nil, nil)
	used := []ScoredChunk{
		scoredChunk(0, 1, "best", 0.9),
		scoredChunk(1, 1, "middle", 0.8),
		scoredChunk(2, 1, "worst", 0.5),
	}

	record := s.Synthesize(&GenerationOutput{Text: "x"}, used)

	require.Len(t, record.SourceClauses, 3)
	for i := 1; i < len(record.SourceClauses); i++ {
		assert.LessOrEqual(t, record.SourceClauses[i].ConfidenceScore, record.SourceClauses[i-1].ConfidenceScore)
	}
}
