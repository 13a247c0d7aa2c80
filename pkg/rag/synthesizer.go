package rag

import (
	"fmt"
	"log/slog"
)

// SynthesizerConfig holds the confidence blending weights. The blend must
// stay monotonic in both the model certainty and the retrieval similarity;
// the linear combination below guarantees that for non-negative weights.
type SynthesizerConfig struct {
	// GenerationWeight scales the model's self-reported certainty.
	GenerationWeight float64 `json:"generation_weight"`
	// SimilarityWeight scales the mean similarity of the context chunks.
	SimilarityWeight float64 `json:"similarity_weight"`
	// DefaultCertainty substitutes when the service reports no certainty.
	DefaultCertainty float64 `json:"default_certainty"`
	// ConfidenceFudge bounds how far the blended confidence may exceed the
	// best source clause similarity.
	ConfidenceFudge float64 `json:"confidence_fudge"`
	// MinRelevance is the similarity floor below which a chunk is not
	// considered usable context; reported in the insufficient-context
	// reasoning.
	MinRelevance float64 `json:"min_relevance"`
}

// DefaultSynthesizerConfig returns the documented 0.5/0.5 blend with a 0.25
// fudge cap.
func DefaultSynthesizerConfig() *SynthesizerConfig {
	return &SynthesizerConfig{
		GenerationWeight: 0.5,
		SimilarityWeight: 0.5,
		DefaultCertainty: 0.5,
		ConfidenceFudge:  0.25,
		MinRelevance:     0.35,
	}
}

// insufficientContextConfidence is the score attached to answers that could
// not be grounded in any document section.
const insufficientContextConfidence = 0.05

// AnswerSynthesizer combines generation output and retrieval evidence into
// an immutable AnswerRecord. Synthesis is a pure function of its inputs:
// identical inputs yield byte-identical records.
type AnswerSynthesizer struct {
	config  *SynthesizerConfig
	metrics *Metrics
	logger  *slog.Logger
}

// NewAnswerSynthesizer creates a synthesizer. metrics may be nil.
func NewAnswerSynthesizer(config *SynthesizerConfig, metrics *Metrics) *AnswerSynthesizer {
	if config == nil {
		config = DefaultSynthesizerConfig()
	}
	return &AnswerSynthesizer{
		config:  config,
		metrics: metrics,
		logger:  slog.Default().With("component", "answer-synthesizer"),
	}
}

// Synthesize builds the structured answer from the raw generation output and
// the chunks actually supplied to generation, ordered by descending
// similarity. gen may be nil when generation was skipped for lack of
// context.
func (s *AnswerSynthesizer) Synthesize(gen *GenerationOutput, used []ScoredChunk) *AnswerRecord {
	if len(used) == 0 {
		return s.insufficientContext(gen)
	}

	certainty := s.config.DefaultCertainty
	if gen != nil && gen.HasCertainty {
		certainty = clamp01(gen.Certainty)
	}

	var sum float64
	maxSim := 0.0
	for _, sc := range used {
		sum += sc.Similarity
		if sc.Similarity > maxSim {
			maxSim = sc.Similarity
		}
	}
	meanSim := sum / float64(len(used))

	confidence := s.config.GenerationWeight*certainty + s.config.SimilarityWeight*meanSim
	// The answer must not claim more confidence than its best citation
	// supports, modulo the documented fudge factor.
	if bound := maxSim + s.config.ConfidenceFudge; confidence > bound {
		confidence = bound
	}
	confidence = clamp01(confidence)

	clauses := make([]SourceClause, len(used))
	for i, sc := range used {
		clauses[i] = SourceClause{
			Text:            sc.Chunk.Text,
			PageNumber:      sc.Chunk.PageNumber,
			ConfidenceScore: sc.Similarity,
		}
	}

	answerText := ""
	if gen != nil {
		answerText = gen.Text
	}

	record := &AnswerRecord{
		Answer:          answerText,
		ConfidenceScore: confidence,
		SourceClauses:   clauses,
		Reasoning: fmt.Sprintf(
			"Answer derived from %d policy section(s); top semantic similarity %.1f%%. "+
				"Confidence blends context relevance (mean similarity %.1f%%), source alignment "+
				"across %d cited clause(s), and the generation model's certainty (%.0f%%).",
			len(used), maxSim*100, meanSim*100, len(clauses), certainty*100),
	}

	if s.metrics != nil {
		s.metrics.AnswerConfidence.Observe(record.ConfidenceScore)
	}
	return record
}

// insufficientContext produces the low-confidence record returned when no
// document section cleared the relevance floor. Citations are never
// fabricated: the clause list stays empty.
func (s *AnswerSynthesizer) insufficientContext(gen *GenerationOutput) *AnswerRecord {
	answerText := "The provided documents do not contain sufficient information to answer this question."
	if gen != nil && gen.Text != "" {
		answerText = gen.Text
	}

	record := &AnswerRecord{
		Answer:          answerText,
		ConfidenceScore: insufficientContextConfidence,
		SourceClauses:   []SourceClause{},
		Reasoning: fmt.Sprintf(
			"Insufficient context: no document section met the minimum relevance threshold (%.0f%%), "+
				"so the answer could not be grounded in the supplied documents.",
			s.config.MinRelevance*100),
	}

	if s.metrics != nil {
		s.metrics.AnswerConfidence.Observe(record.ConfidenceScore)
	}
	return record
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
