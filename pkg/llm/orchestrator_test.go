package llm

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thc1006/policy-qa/pkg/retry"
)

// scriptedClient returns canned responses or errors in sequence, repeating
// the last entry once the script runs out.
type scriptedClient struct {
	calls   atomic.Int64
	replies []string
	errs    []error
}

func (c *scriptedClient) GenerateContent(ctx context.Context, prompt string) (string, error) {
	n := int(c.calls.Add(1)) - 1
	if n >= len(c.errs) {
		n = len(c.errs) - 1
	}
	if c.errs[n] != nil {
		return "", c.errs[n]
	}
	return c.replies[n], nil
}

func fastOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		MaxContextChars: 12000,
		Retry: retry.Config{
			MaxRetries:    2,
			BaseDelay:     time.Millisecond,
			MaxDelay:      5 * time.Millisecond,
			BackoffFactor: 2.0,
		},
		BreakerFailureThreshold: 3,
		BreakerOpenTimeout:      time.Minute,
	}
}

func someChunks() []ContextChunk {
	return []ContextChunk{
		{Text: "The grace period is thirty days.", PageNumber: 4, Similarity: 0.9},
		{Text: "Premiums are payable annually.", PageNumber: 2, Similarity: 0.6},
	}
}

func TestGenerate_ParsesCertaintyLine(t *testing.T) {
	client := &scriptedClient{
		replies: []string{"The grace period is thirty days.\nCertainty: 0.85"},
		errs:    []error{nil},
	}
	o := NewOrchestrator(client, nil, fastOrchestratorConfig(), nil)

	result, used, err := o.Generate(context.Background(), "What is the grace period?", someChunks())
	require.NoError(t, err)

	assert.Equal(t, "The grace period is thirty days.", result.Text)
	assert.True(t, result.HasCertainty)
	assert.InDelta(t, 0.85, result.Certainty, 1e-9)
	assert.Len(t, used, 2)
	assert.EqualValues(t, 1, client.calls.Load())
}

func TestGenerate_TransientFailureThenSuccess(t *testing.T) {
	client := &scriptedClient{
		replies: []string{"", "Thirty days.\nCertainty: 0.7"},
		errs:    []error{&APIError{StatusCode: 503, Message: "overloaded"}, nil},
	}
	o := NewOrchestrator(client, nil, fastOrchestratorConfig(), nil)

	result, _, err := o.Generate(context.Background(), "grace period?", someChunks())
	require.NoError(t, err)

	assert.Equal(t, "Thirty days.", result.Text)
	assert.EqualValues(t, 2, client.calls.Load())
}

func TestGenerate_PermanentErrorNotRetried(t *testing.T) {
	client := &scriptedClient{
		replies: []string{""},
		errs:    []error{&APIError{StatusCode: 400, Message: "invalid key"}},
	}
	o := NewOrchestrator(client, nil, fastOrchestratorConfig(), nil)

	_, _, err := o.Generate(context.Background(), "q", someChunks())

	var unavailable *GenerationUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 1, unavailable.Attempts)
	assert.EqualValues(t, 1, client.calls.Load())
}

func TestGenerate_RetryExhaustion(t *testing.T) {
	client := &scriptedClient{
		replies: []string{""},
		errs:    []error{&APIError{StatusCode: 429, Message: "quota"}},
	}
	o := NewOrchestrator(client, nil, fastOrchestratorConfig(), nil)

	_, _, err := o.Generate(context.Background(), "q", someChunks())

	var unavailable *GenerationUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 3, unavailable.Attempts) // initial try + 2 retries

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 429, apiErr.StatusCode)
}

func TestGenerate_OpenBreakerFailsFast(t *testing.T) {
	client := &scriptedClient{
		replies: []string{""},
		errs:    []error{&APIError{StatusCode: 503, Message: "down"}},
	}
	cfg := fastOrchestratorConfig()
	cfg.BreakerFailureThreshold = 2
	o := NewOrchestrator(client, nil, cfg, nil)

	// Each call burns 3 attempts; the breaker opens mid-flight.
	_, _, err := o.Generate(context.Background(), "q", someChunks())
	require.Error(t, err)
	callsAfterFirst := client.calls.Load()

	_, _, err = o.Generate(context.Background(), "q", someChunks())
	require.Error(t, err)

	// The open breaker refuses without reaching the client.
	assert.Equal(t, callsAfterFirst, client.calls.Load())
}

func TestGenerate_SafetyBlockDoesNotOpenBreaker(t *testing.T) {
	client := &scriptedClient{
		replies: []string{"", "", "", "fine\nCertainty: 1"},
		errs:    []error{&emptyResponseError{reason: "SAFETY"}, &emptyResponseError{reason: "SAFETY"}, &emptyResponseError{reason: "SAFETY"}, nil},
	}
	cfg := fastOrchestratorConfig()
	cfg.BreakerFailureThreshold = 2
	o := NewOrchestrator(client, nil, cfg, nil)

	for i := 0; i < 3; i++ {
		_, _, err := o.Generate(context.Background(), "q", someChunks())
		require.Error(t, err)
	}

	result, _, err := o.Generate(context.Background(), "q", someChunks())
	require.NoError(t, err)
	assert.Equal(t, "fine", result.Text)
}

func TestGenerate_WaitsOnRateBudget(t *testing.T) {
	budget := NewRateBudget(0, time.Minute, 10*time.Second, nil)
	clock := fakeClockBudget(budget)
	start := *clock

	client := &scriptedClient{
		replies: []string{"a\nCertainty: 1", "b\nCertainty: 1"},
		errs:    []error{nil, nil},
	}
	o := NewOrchestrator(client, budget, fastOrchestratorConfig(), nil)

	_, _, err := o.Generate(context.Background(), "q1", someChunks())
	require.NoError(t, err)
	_, _, err = o.Generate(context.Background(), "q2", someChunks())
	require.NoError(t, err)

	assert.Equal(t, start.Add(10*time.Second), *clock)
}

func TestTruncateContext_DropsLowestSimilarityFirst(t *testing.T) {
	cfg := fastOrchestratorConfig()
	cfg.MaxContextChars = 10
	o := NewOrchestrator(nil, nil, cfg, nil)

	chunks := []ContextChunk{
		{Text: strings.Repeat("a", 8), Similarity: 0.9},
		{Text: strings.Repeat("b", 8), Similarity: 0.8},
		{Text: strings.Repeat("c", 1), Similarity: 0.7},
	}
	used := o.truncateContext(chunks)

	require.Len(t, used, 1)
	assert.Equal(t, 0.9, used[0].Similarity)
}

func TestTruncateContext_AlwaysKeepsBestChunk(t *testing.T) {
	cfg := fastOrchestratorConfig()
	cfg.MaxContextChars = 1
	o := NewOrchestrator(nil, nil, cfg, nil)

	used := o.truncateContext([]ContextChunk{{Text: "oversized chunk", Similarity: 0.5}})
	require.Len(t, used, 1)
}

func TestBuildPrompt_ContainsExcerptsAndQuestion(t *testing.T) {
	prompt := buildPrompt("What is covered?", someChunks())

	assert.Contains(t, prompt, "[1] (page 4) The grace period is thirty days.")
	assert.Contains(t, prompt, "[2] (page 2) Premiums are payable annually.")
	assert.Contains(t, prompt, "Question: What is covered?")
	assert.Contains(t, prompt, "Certainty: X")
}

func TestParseResult(t *testing.T) {
	r := parseResult("Answer text.\nCertainty: 0.6")
	assert.Equal(t, "Answer text.", r.Text)
	assert.True(t, r.HasCertainty)
	assert.InDelta(t, 0.6, r.Certainty, 1e-9)

	r = parseResult("Answer without certainty.")
	assert.Equal(t, "Answer without certainty.", r.Text)
	assert.False(t, r.HasCertainty)

	// Out-of-range certainty is ignored rather than clamped.
	r = parseResult("Answer.\nCertainty: 7")
	assert.Equal(t, "Answer.\nCertainty: 7", r.Text)
	assert.False(t, r.HasCertainty)
}
