package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Generator produces an answer for a question given scored context chunks.
// It returns the raw generation output together with the chunks it actually
// used after any context-budget truncation.
type Generator interface {
	Generate(ctx context.Context, question string, chunks []ScoredChunk) (*GenerationOutput, []ScoredChunk, error)
}

// PipelineConfig holds retrieval and concurrency settings for the
// request-scoped answering pipeline.
type PipelineConfig struct {
	// TopK is the number of chunks retrieved per question.
	TopK int `json:"top_k"`
	// MinRelevance is the similarity floor; chunks below it never reach
	// generation.
	MinRelevance float64 `json:"min_relevance"`
	// QuestionConcurrency bounds how many questions are processed at once.
	// Outbound generation calls are still serialized by the rate budget.
	QuestionConcurrency int `json:"question_concurrency"`
}

// DefaultPipelineConfig returns the pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		TopK:                15,
		MinRelevance:        0.35,
		QuestionConcurrency: 4,
	}
}

// Pipeline runs the full document question answering flow: load, chunk,
// embed, index, then retrieve and generate per question. The vector index is
// request-scoped; nothing persists between calls.
type Pipeline struct {
	config      *PipelineConfig
	loader      *DocumentLoader
	chunker     *ChunkingService
	embedder    *EmbeddingService
	retriever   *Retriever
	generator   Generator
	synthesizer *AnswerSynthesizer
	metrics     *Metrics
	logger      *slog.Logger
}

// NewPipeline wires the pipeline from its components. metrics may be nil.
func NewPipeline(
	config *PipelineConfig,
	loader *DocumentLoader,
	chunker *ChunkingService,
	embedder *EmbeddingService,
	retriever *Retriever,
	generator Generator,
	synthesizer *AnswerSynthesizer,
	metrics *Metrics,
) *Pipeline {
	if config == nil {
		config = DefaultPipelineConfig()
	}
	if config.QuestionConcurrency <= 0 {
		config.QuestionConcurrency = 4
	}
	return &Pipeline{
		config:      config,
		loader:      loader,
		chunker:     chunker,
		embedder:    embedder,
		retriever:   retriever,
		generator:   generator,
		synthesizer: synthesizer,
		metrics:     metrics,
		logger:      slog.Default().With("component", "pipeline"),
	}
}

// ProcessRequest answers every question against the referenced documents.
// The returned slice is ordered exactly as the questions were asked. A
// failure while preparing the shared index (loading, chunking, embedding)
// fails the whole request; a failure on an individual question yields a
// low-confidence error record in that question's slot while the remaining
// questions still complete.
func (p *Pipeline) ProcessRequest(ctx context.Context, documentURLs, questions []string) ([]*AnswerRecord, error) {
	start := time.Now()
	tracer := otel.Tracer("policy-qa/rag")

	ctx, span := tracer.Start(ctx, "pipeline.process_request")
	defer span.End()
	span.SetAttributes(
		attribute.Int("documents", len(documentURLs)),
		attribute.Int("questions", len(questions)),
	)

	index, err := p.buildIndex(ctx, documentURLs)
	if err != nil {
		return nil, err
	}

	answers := make([]*AnswerRecord, len(questions))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.config.QuestionConcurrency)

	for i, question := range questions {
		group.Go(func() error {
			record, err := p.answerQuestion(groupCtx, question, index)
			if err != nil {
				// Context cancellation is the only error that aborts the
				// batch; service failures degrade to an error record.
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				p.logger.Error("Question failed",
					slog.Int("question_index", i),
					slog.String("error", err.Error()))
				if p.metrics != nil {
					p.metrics.QuestionsAnswered.WithLabelValues("error").Inc()
				}
				answers[i] = errorRecord(err)
				return nil
			}
			if p.metrics != nil {
				p.metrics.QuestionsAnswered.WithLabelValues("success").Inc()
			}
			answers[i] = record
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	}
	p.logger.Info("Processed request",
		slog.Int("documents", len(documentURLs)),
		slog.Int("questions", len(questions)),
		slog.Int("indexed_chunks", index.Size()),
		slog.Duration("duration", time.Since(start)))

	return answers, nil
}

// buildIndex loads and chunks the documents, embeds every chunk, and builds
// the request-scoped vector index.
func (p *Pipeline) buildIndex(ctx context.Context, documentURLs []string) (*VectorIndex, error) {
	tracer := otel.Tracer("policy-qa/rag")
	ctx, span := tracer.Start(ctx, "pipeline.build_index")
	defer span.End()

	docs, err := p.loader.LoadDocuments(ctx, documentURLs)
	if err != nil {
		return nil, err
	}

	chunks, err := p.chunker.ChunkDocuments(ctx, docs)
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.ChunksCreated.Add(float64(len(chunks)))
	}
	if len(chunks) == 0 {
		return BuildIndex(nil, nil)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := p.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}

	index, err := BuildIndex(chunks, embeddings)
	if err != nil {
		return nil, fmt.Errorf("failed to build vector index: %w", err)
	}
	span.SetAttributes(attribute.Int("chunks", index.Size()))
	return index, nil
}

// answerQuestion retrieves context for one question and runs generation and
// synthesis. Chunks below the relevance floor are dropped before generation;
// when nothing clears the floor, generation is skipped entirely and the
// synthesizer produces its insufficient-context record.
func (p *Pipeline) answerQuestion(ctx context.Context, question string, index *VectorIndex) (*AnswerRecord, error) {
	tracer := otel.Tracer("policy-qa/rag")
	ctx, span := tracer.Start(ctx, "pipeline.answer_question")
	defer span.End()

	result, err := p.retriever.Retrieve(ctx, question, index, p.config.TopK)
	if err != nil {
		return nil, err
	}

	relevant := result.Chunks[:0:0]
	for _, sc := range result.Chunks {
		if sc.Similarity >= p.config.MinRelevance {
			relevant = append(relevant, sc)
		}
	}
	span.SetAttributes(
		attribute.Int("retrieved", len(result.Chunks)),
		attribute.Int("relevant", len(relevant)),
	)

	if len(relevant) == 0 {
		return p.synthesizer.Synthesize(nil, nil), nil
	}

	gen, used, err := p.generator.Generate(ctx, question, relevant)
	if err != nil {
		return nil, err
	}

	return p.synthesizer.Synthesize(gen, used), nil
}

// errorRecord is the per-question degradation path: the batch keeps its
// shape, the failed slot reports the failure instead of an answer.
func errorRecord(err error) *AnswerRecord {
	return &AnswerRecord{
		Answer:          "This question could not be answered because the generation service was unavailable.",
		ConfidenceScore: 0,
		SourceClauses:   []SourceClause{},
		Reasoning:       fmt.Sprintf("Processing failed: %v", err),
	}
}
