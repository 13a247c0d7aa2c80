package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/thc1006/policy-qa/pkg/config"
	"github.com/thc1006/policy-qa/pkg/handlers"
	"github.com/thc1006/policy-qa/pkg/llm"
	"github.com/thc1006/policy-qa/pkg/middleware"
	"github.com/thc1006/policy-qa/pkg/monitoring"
	"github.com/thc1006/policy-qa/pkg/rag"
	"github.com/thc1006/policy-qa/pkg/retry"
)

// version is injected at build time via -ldflags.
var version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger = createLoggerWithLevel(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Starting Policy QA service",
		slog.String("version", version),
		slog.String("port", cfg.Port),
		slog.String("model", cfg.GeminiModel),
		slog.String("embedding_model", cfg.GeminiEmbeddingModel),
		slog.Int("requests_per_minute", cfg.RequestsPerMinute),
		slog.Bool("jwt_auth", cfg.AuthJWTSecret != ""))

	ctx := context.Background()
	shutdownTracing, err := monitoring.InitTracing(ctx, "policy-qa", version, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("Failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ragMetrics := rag.NewMetrics(prometheus.DefaultRegisterer)
	llmMetrics := llm.NewMetrics(prometheus.DefaultRegisterer)

	pipeline, cache := buildPipeline(ctx, cfg, ragMetrics, llmMetrics, logger)
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("Embedding cache close failed", slog.String("error", err.Error()))
		}
	}()

	qaHandler := handlers.NewQAHandler(pipeline, cfg.RequestTimeout)
	healthHandler := handlers.NewHealthHandler(version)
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		APIKey:    cfg.APIKey,
		JWTSecret: cfg.AuthJWTSecret,
	}, logger)

	router := mux.NewRouter()
	router.Use(middleware.RequestLogging(logger))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.NewIPRateLimiter(10, 20, logger).Middleware)
	router.Use(middleware.NewRequestSizeLimiter(cfg.MaxUploadBytes, logger).Middleware)
	handlers.RegisterRoutes(router, qaHandler, healthHandler, auth.Middleware)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed to start", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdown)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", slog.String("error", err.Error()))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Tracing shutdown failed", slog.String("error", err.Error()))
	}

	logger.Info("Server exited")
}

// buildPipeline wires the answering pipeline from configuration. The Redis L2
// cache is optional; a connection failure degrades to the in-memory L1 only.
func buildPipeline(ctx context.Context, cfg *config.Config, ragMetrics *rag.Metrics, llmMetrics *llm.Metrics, logger *slog.Logger) (*rag.Pipeline, rag.EmbeddingCache) {
	retryCfg := retry.Config{
		MaxRetries:    cfg.MaxRetries,
		BaseDelay:     cfg.RetryBaseDelay,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}

	geminiCfg := llm.DefaultGeminiConfig()
	geminiCfg.APIKey = cfg.GeminiAPIKey
	geminiCfg.Model = cfg.GeminiModel
	geminiCfg.EmbeddingModel = cfg.GeminiEmbeddingModel
	geminiCfg.Endpoint = cfg.GeminiEndpoint
	geminiCfg.Timeout = cfg.RequestTimeout
	gemini := llm.NewGeminiClient(geminiCfg)

	var l2 rag.EmbeddingCache
	if cfg.RedisAddr != "" {
		redisCache, err := rag.NewRedisEmbeddingCache(ctx, &rag.RedisCacheConfig{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Database: cfg.RedisDB,
		})
		if err != nil {
			logger.Warn("Redis cache unavailable, using in-memory cache only",
				slog.String("error", err.Error()))
		} else {
			l2 = redisCache
		}
	}
	cache := rag.NewTieredCache(rag.NewInMemoryEmbeddingCache(0, time.Hour), l2)

	embedder := rag.NewEmbeddingService(gemini, &rag.EmbeddingServiceConfig{
		BatchSize:         cfg.EmbeddingBatchSize,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Retry:             retryCfg,
	}, cache, ragMetrics)

	budget := llm.NewRateBudget(cfg.RequestsPerMinute, time.Minute, cfg.QuestionProcessingDelay, llmMetrics)
	orchestrator := llm.NewOrchestrator(gemini, budget, &llm.OrchestratorConfig{
		MaxContextChars:         cfg.MaxContextChars,
		Retry:                   retryCfg,
		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      30 * time.Second,
	}, llmMetrics)

	pipeline := rag.NewPipeline(
		&rag.PipelineConfig{
			TopK:                cfg.TopK,
			MinRelevance:        cfg.MinRelevance,
			QuestionConcurrency: cfg.QuestionConcurrency,
		},
		rag.NewDocumentLoader(nil, ragMetrics),
		rag.NewChunkingService(&rag.ChunkingConfig{
			ChunkSize:      cfg.ChunkSize,
			ChunkOverlap:   cfg.ChunkOverlap,
			BoundaryWindow: 0.10,
		}),
		embedder,
		rag.NewRetriever(embedder, ragMetrics),
		&generatorAdapter{orchestrator: orchestrator},
		rag.NewAnswerSynthesizer(&rag.SynthesizerConfig{
			GenerationWeight: 0.5,
			SimilarityWeight: 0.5,
			DefaultCertainty: 0.5,
			ConfidenceFudge:  0.25,
			MinRelevance:     cfg.MinRelevance,
		}, ragMetrics),
		ragMetrics,
	)

	return pipeline, cache
}

// generatorAdapter bridges the orchestrator onto the pipeline's generator
// contract, translating between the retrieval and generation chunk types.
type generatorAdapter struct {
	orchestrator *llm.Orchestrator
}

func (a *generatorAdapter) Generate(ctx context.Context, question string, chunks []rag.ScoredChunk) (*rag.GenerationOutput, []rag.ScoredChunk, error) {
	contextChunks := make([]llm.ContextChunk, len(chunks))
	for i, sc := range chunks {
		contextChunks[i] = llm.ContextChunk{
			Text:       sc.Chunk.Text,
			PageNumber: sc.Chunk.PageNumber,
			Similarity: sc.Similarity,
		}
	}

	result, used, err := a.orchestrator.Generate(ctx, question, contextChunks)
	if err != nil {
		return nil, nil, err
	}

	// Map the surviving prompt chunks back onto their scored originals so the
	// synthesizer cites exactly what generation saw.
	usedScored := make([]rag.ScoredChunk, 0, len(used))
	for _, uc := range used {
		for _, sc := range chunks {
			if sc.Chunk.Text == uc.Text && sc.Similarity == uc.Similarity {
				usedScored = append(usedScored, sc)
				break
			}
		}
	}

	return &rag.GenerationOutput{
		Text:         result.Text,
		Certainty:    result.Certainty,
		HasCertainty: result.HasCertainty,
	}, usedScored, nil
}

func createLoggerWithLevel(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
}
