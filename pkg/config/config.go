// Package config loads service configuration from the environment, with an
// optional YAML file override for deployments that mount config as a volume.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds all configuration for the Policy QA service.
type Config struct {
	// HTTP server configuration
	Port             string        `yaml:"port"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`

	// Authentication
	APIKey        string `yaml:"api_key"`
	AuthJWTSecret string `yaml:"auth_jwt_secret"` // enables JWT bearer mode when set

	// Gemini API configuration
	GeminiAPIKey         string        `yaml:"gemini_api_key"`
	GeminiModel          string        `yaml:"gemini_model"`
	GeminiEmbeddingModel string        `yaml:"gemini_embedding_model"`
	GeminiEndpoint       string        `yaml:"gemini_endpoint"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`

	// Rate budget for outbound generation calls
	RequestsPerMinute       int           `yaml:"requests_per_minute"`
	QuestionProcessingDelay time.Duration `yaml:"question_processing_delay"`

	// Retry policy shared by embedding and generation clients
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// Chunking
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	// Retrieval and synthesis
	TopK            int     `yaml:"top_k"`
	MinRelevance    float64 `yaml:"min_relevance"`
	MaxContextChars int     `yaml:"max_context_chars"`

	// Embedding
	EmbeddingBatchSize  int `yaml:"embedding_batch_size"`
	QuestionConcurrency int `yaml:"question_concurrency"`

	// Optional Redis embedding cache (L2); in-memory L1 is always on
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Observability
	Environment  string `yaml:"environment"`
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:                    "8000",
		GracefulShutdown:        30 * time.Second,
		MaxUploadBytes:          10 << 20, // 10 MiB
		GeminiModel:             "gemini-2.5-flash",
		GeminiEmbeddingModel:    "embedding-001",
		GeminiEndpoint:          "https://generativelanguage.googleapis.com/v1beta",
		RequestTimeout:          60 * time.Second,
		RequestsPerMinute:       10,
		QuestionProcessingDelay: 8 * time.Second,
		MaxRetries:              3,
		RetryBaseDelay:          2 * time.Second,
		ChunkSize:               1500,
		ChunkOverlap:            300,
		TopK:                    15,
		MinRelevance:            0.35,
		MaxContextChars:         12000,
		EmbeddingBatchSize:      16,
		QuestionConcurrency:     4,
		Environment:             "development",
		LogLevel:                "info",
	}
}

// LoadFromEnv builds a Config from environment variables, starting from
// defaults and applying an optional YAML file (CONFIG_FILE) before the
// environment so explicit env vars always win.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if val := os.Getenv("PORT"); val != "" {
		cfg.Port = val
	}

	if val := os.Getenv("GRACEFUL_SHUTDOWN"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.GracefulShutdown = d
		}
	}

	if val := os.Getenv("MAX_UPLOAD_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > 0 {
			cfg.MaxUploadBytes = n
		}
	}

	// Check for key file path first, then fall back to the direct variable.
	if val := os.Getenv("API_KEY_PATH"); val != "" {
		if keyData, err := os.ReadFile(val); err == nil {
			cfg.APIKey = strings.TrimSpace(string(keyData))
		}
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("API_KEY")
	}

	if val := os.Getenv("AUTH_JWT_SECRET"); val != "" {
		cfg.AuthJWTSecret = val
	}

	if val := os.Getenv("GEMINI_API_KEY"); val != "" {
		cfg.GeminiAPIKey = val
	}

	if val := os.Getenv("GEMINI_MODEL"); val != "" {
		cfg.GeminiModel = val
	}

	if val := os.Getenv("GEMINI_EMBEDDING_MODEL"); val != "" {
		cfg.GeminiEmbeddingModel = val
	}

	if val := os.Getenv("GEMINI_ENDPOINT"); val != "" {
		cfg.GeminiEndpoint = val
	}

	if val := os.Getenv("REQUEST_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.RequestTimeout = d
		}
	}

	if val := os.Getenv("GEMINI_REQUESTS_PER_MINUTE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.RequestsPerMinute = n
		}
	}

	// Accepts either a duration ("8s") or a bare number of seconds, matching
	// the original deployment environment.
	if val := os.Getenv("QUESTION_PROCESSING_DELAY"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.QuestionProcessingDelay = d
		} else if secs, err := strconv.Atoi(val); err == nil && secs >= 0 {
			cfg.QuestionProcessingDelay = time.Duration(secs) * time.Second
		}
	}

	if val := os.Getenv("MAX_RETRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}

	if val := os.Getenv("RETRY_BASE_DELAY"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.RetryBaseDelay = d
		}
	}

	if val := os.Getenv("CHUNK_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.ChunkSize = n
		}
	}

	if val := os.Getenv("CHUNK_OVERLAP"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 0 {
			cfg.ChunkOverlap = n
		}
	}

	if val := os.Getenv("TOP_K"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.TopK = n
		}
	}

	if val := os.Getenv("MIN_RELEVANCE"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil && f >= 0 && f <= 1 {
			cfg.MinRelevance = f
		}
	}

	if val := os.Getenv("MAX_CONTEXT_CHARS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.MaxContextChars = n
		}
	}

	if val := os.Getenv("EMBEDDING_BATCH_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.EmbeddingBatchSize = n
		}
	}

	if val := os.Getenv("QUESTION_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.QuestionConcurrency = n
		}
	}

	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.RedisAddr = val
	}

	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.RedisPassword = val
	}

	if val := os.Getenv("REDIS_DB"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 0 {
			cfg.RedisDB = n
		}
	}

	if val := os.Getenv("ENVIRONMENT"); val != "" {
		cfg.Environment = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.LogLevel = val
	}

	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		cfg.OTLPEndpoint = val
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// Validate checks that required configuration is present and coherent.
func (c *Config) Validate() error {
	var errs []string

	if c.GeminiAPIKey == "" {
		errs = append(errs, "GEMINI_API_KEY is required")
	}
	if c.APIKey == "" && c.AuthJWTSecret == "" {
		errs = append(errs, "API_KEY or AUTH_JWT_SECRET is required")
	}
	if c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Sprintf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", c.ChunkOverlap, c.ChunkSize))
	}
	if c.RequestsPerMinute <= 0 {
		errs = append(errs, "GEMINI_REQUESTS_PER_MINUTE must be positive")
	}
	if c.TopK <= 0 {
		errs = append(errs, "TOP_K must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// IsDevelopment reports whether the service runs in a development environment.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Environment)
	return env == "development" || env == "dev" || env == "local" || env == "test"
}
