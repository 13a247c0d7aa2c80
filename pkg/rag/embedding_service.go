package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/thc1006/policy-qa/pkg/retry"
)

// EmbeddingProvider is the external embedding service contract. Implementations
// must return one vector per input text, in input order.
type EmbeddingProvider interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// transientError is implemented by provider errors that are worth retrying
// (rate limits, 5xx responses, network failures).
type transientError interface {
	Transient() bool
}

// isTransient classifies a provider error for the retry policy. Unknown
// errors count as transient so flaky networks get the retry budget.
func isTransient(err error) bool {
	var te transientError
	if errors.As(err, &te) {
		return te.Transient()
	}
	return true
}

// EmbeddingServiceConfig holds configuration for the embedding service.
type EmbeddingServiceConfig struct {
	// BatchSize is the maximum texts per provider request.
	BatchSize int `json:"batch_size"`
	// RequestsPerMinute throttles provider requests. Zero disables the
	// limiter.
	RequestsPerMinute int `json:"requests_per_minute"`
	// Retry is the backoff policy per batch.
	Retry retry.Config `json:"retry"`
}

// DefaultEmbeddingServiceConfig returns the embedding service defaults.
func DefaultEmbeddingServiceConfig() *EmbeddingServiceConfig {
	return &EmbeddingServiceConfig{
		BatchSize:         16,
		RequestsPerMinute: 60,
		Retry:             retry.DefaultConfig(),
	}
}

// EmbeddingService turns texts into L2-normalized vectors via an external
// provider, batching requests, retrying transient failures, and caching
// results. EmbedTexts never returns a partial result: callers get the full
// ordered vector list or an error.
type EmbeddingService struct {
	provider EmbeddingProvider
	config   *EmbeddingServiceConfig
	cache    EmbeddingCache
	limiter  *rate.Limiter
	metrics  *Metrics
	logger   *slog.Logger
}

// NewEmbeddingService creates an embedding service. cache and metrics may be
// nil.
func NewEmbeddingService(provider EmbeddingProvider, config *EmbeddingServiceConfig, cache EmbeddingCache, metrics *Metrics) *EmbeddingService {
	if config == nil {
		config = DefaultEmbeddingServiceConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 16
	}

	var limiter *rate.Limiter
	if config.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1)
	}

	return &EmbeddingService{
		provider: provider,
		config:   config,
		cache:    cache,
		limiter:  limiter,
		metrics:  metrics,
		logger:   slog.Default().With("component", "embedding-service"),
	}
}

// EmbedTexts returns one embedding per text, order-preserving. Cached texts
// skip the provider; the rest are fetched in sequential batches so the
// shared rate budget is respected. On retry exhaustion the last cause is
// wrapped in EmbeddingUnavailableError.
func (es *EmbeddingService) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	embeddings := make([][]float32, len(texts))
	var missIdx []int

	model := es.provider.ModelName()
	for i, text := range texts {
		if es.cache != nil {
			if emb, ok := es.cache.Get(ctx, embeddingCacheKey(model, text)); ok {
				embeddings[i] = emb
				if es.metrics != nil {
					es.metrics.EmbeddingCacheHits.Inc()
				}
				continue
			}
		}
		missIdx = append(missIdx, i)
	}

	for start := 0; start < len(missIdx); start += es.config.BatchSize {
		end := start + es.config.BatchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		batch := missIdx[start:end]

		batchTexts := make([]string, len(batch))
		for j, idx := range batch {
			batchTexts[j] = texts[idx]
		}

		vectors, err := es.embedBatch(ctx, batchTexts)
		if err != nil {
			return nil, err
		}

		for j, idx := range batch {
			v := vectors[j]
			l2Normalize(v)
			embeddings[idx] = v
			if es.cache != nil {
				es.cache.Set(ctx, embeddingCacheKey(model, texts[idx]), v)
			}
		}
	}

	return embeddings, nil
}

// EmbedText embeds a single text, used for questions.
func (es *EmbeddingService) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := es.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (es *EmbeddingService) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if es.limiter != nil {
		if err := es.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var vectors [][]float32
	attempts, err := retry.Do(ctx, es.config.Retry, isTransient, func(ctx context.Context) error {
		result, callErr := es.provider.GenerateEmbeddings(ctx, texts)
		if callErr != nil {
			return callErr
		}
		if len(result) != len(texts) {
			return &embeddingCountMismatchError{want: len(texts), got: len(result)}
		}
		vectors = result
		return nil
	})
	if err != nil {
		if es.metrics != nil {
			es.metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		}
		es.logger.Error("Embedding batch failed",
			slog.Int("batch_size", len(texts)),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()))
		return nil, &EmbeddingUnavailableError{Attempts: attempts, Err: err}
	}

	if es.metrics != nil {
		es.metrics.EmbeddingRequests.WithLabelValues("success").Inc()
	}
	return vectors, nil
}

// embeddingCountMismatchError is permanent: a provider that returns the wrong
// number of vectors will not fix itself on retry.
type embeddingCountMismatchError struct {
	want, got int
}

func (e *embeddingCountMismatchError) Error() string {
	return fmt.Sprintf("provider returned %d embeddings for %d texts", e.got, e.want)
}

func (e *embeddingCountMismatchError) Transient() bool { return false }
