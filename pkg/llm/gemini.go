package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// GeminiConfig holds connection settings for the generative language API.
type GeminiConfig struct {
	// APIKey authenticates every request.
	APIKey string `json:"-"`
	// Model is the generation model, e.g. "gemini-2.5-flash".
	Model string `json:"model"`
	// EmbeddingModel is the embedding model, e.g. "embedding-001".
	EmbeddingModel string `json:"embedding_model"`
	// Endpoint is the API base URL without a trailing slash.
	Endpoint string `json:"endpoint"`
	// Timeout bounds a single HTTP request.
	Timeout time.Duration `json:"timeout"`
	// Temperature controls generation randomness; kept low so answers stay
	// grounded in the supplied context.
	Temperature float64 `json:"temperature"`
	// MaxOutputTokens caps the generated answer length.
	MaxOutputTokens int `json:"max_output_tokens"`
}

// DefaultGeminiConfig returns the client defaults. The API key must still be
// supplied by the caller.
func DefaultGeminiConfig() *GeminiConfig {
	return &GeminiConfig{
		Model:           "gemini-2.5-flash",
		EmbeddingModel:  "embedding-001",
		Endpoint:        "https://generativelanguage.googleapis.com/v1beta",
		Timeout:         60 * time.Second,
		Temperature:     0.1,
		MaxOutputTokens: 2048,
	}
}

// GeminiClient is a thin REST client for the generative language API. It does
// no retrying or rate limiting itself; the orchestrator and embedding service
// own those policies.
type GeminiClient struct {
	config     *GeminiConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGeminiClient creates a client for the configured endpoint.
func NewGeminiClient(config *GeminiConfig) *GeminiClient {
	if config == nil {
		config = DefaultGeminiConfig()
	}
	return &GeminiClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: slog.Default().With("component", "gemini-client"),
	}
}

// ModelName returns the embedding model identifier, used for cache keying.
func (c *GeminiClient) ModelName() string {
	return c.config.EmbeddingModel
}

// generateContentRequest mirrors the models/{model}:generateContent payload.
type generateContentRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// GenerateContent sends one prompt and returns the concatenated text of the
// first candidate.
func (c *GeminiClient) GenerateContent(ctx context.Context, prompt string) (string, error) {
	reqBody := generateContentRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: &generationConfig{
			Temperature:     c.config.Temperature,
			MaxOutputTokens: c.config.MaxOutputTokens,
		},
	}

	var resp generateContentResponse
	url := fmt.Sprintf("%s/models/%s:generateContent", c.config.Endpoint, c.config.Model)
	if err := c.post(ctx, url, reqBody, &resp); err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 {
		reason := resp.PromptFeedback.BlockReason
		return "", &emptyResponseError{reason: reason}
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", &emptyResponseError{reason: resp.Candidates[0].FinishReason}
	}
	return text, nil
}

// batchEmbedRequest mirrors the models/{model}:batchEmbedContents payload.
type batchEmbedRequest struct {
	Requests []embedRequest `json:"requests"`
}

type embedRequest struct {
	Model   string  `json:"model"`
	Content content `json:"content"`
}

type batchEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

// GenerateEmbeddings returns one vector per input text, in input order. It
// implements the embedding provider contract of the retrieval pipeline.
func (c *GeminiClient) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := batchEmbedRequest{Requests: make([]embedRequest, len(texts))}
	model := "models/" + c.config.EmbeddingModel
	for i, text := range texts {
		reqBody.Requests[i] = embedRequest{
			Model:   model,
			Content: content{Parts: []part{{Text: text}}},
		}
	}

	var resp batchEmbedResponse
	url := fmt.Sprintf("%s/models/%s:batchEmbedContents", c.config.Endpoint, c.config.EmbeddingModel)
	if err := c.post(ctx, url, reqBody, &resp); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vectors[i] = e.Values
	}
	return vectors, nil
}

func (c *GeminiClient) post(ctx context.Context, url string, reqBody, respBody interface{}) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.config.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &transportError{err: err}
	}

	c.logger.Debug("API call completed",
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: apiErrorMessage(body)}
	}

	if err := json.Unmarshal(body, respBody); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// apiErrorMessage pulls the error message out of the standard Google API
// error envelope, falling back to the raw body.
func apiErrorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
