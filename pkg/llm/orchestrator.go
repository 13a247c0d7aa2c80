package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/thc1006/policy-qa/pkg/retry"
)

// ContextChunk is one scored piece of document context handed to generation.
type ContextChunk struct {
	Text       string
	PageNumber int
	Similarity float64
}

// Result is the parsed output of one generation call.
type Result struct {
	Text         string
	Certainty    float64
	HasCertainty bool
}

// GenerationClient is the upstream contract the orchestrator drives.
type GenerationClient interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// OrchestratorConfig holds the generation policy knobs.
type OrchestratorConfig struct {
	// MaxContextChars bounds the total context text per prompt. Chunks are
	// dropped lowest-similarity-first until the budget fits.
	MaxContextChars int `json:"max_context_chars"`
	// Retry is the backoff policy for transient upstream failures.
	Retry retry.Config `json:"retry"`
	// BreakerFailureThreshold is the consecutive-failure count that opens
	// the circuit.
	BreakerFailureThreshold uint32 `json:"breaker_failure_threshold"`
	// BreakerOpenTimeout is how long the circuit stays open before probing.
	BreakerOpenTimeout time.Duration `json:"breaker_open_timeout"`
}

// DefaultOrchestratorConfig returns the orchestrator defaults.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		MaxContextChars:         12000,
		Retry:                   retry.DefaultConfig(),
		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      30 * time.Second,
	}
}

// Orchestrator serializes generation calls through the shared rate budget,
// retries transient failures with exponential backoff, and trips a circuit
// breaker when the upstream stays down. One orchestrator serves the whole
// process so the budget and breaker state are global.
type Orchestrator struct {
	client  GenerationClient
	budget  *RateBudget
	breaker *gobreaker.CircuitBreaker
	config  *OrchestratorConfig
	metrics *Metrics
	logger  *slog.Logger
}

// NewOrchestrator creates an orchestrator. budget and metrics may be nil.
func NewOrchestrator(client GenerationClient, budget *RateBudget, config *OrchestratorConfig, metrics *Metrics) *Orchestrator {
	if config == nil {
		config = DefaultOrchestratorConfig()
	}

	o := &Orchestrator{
		client:  client,
		budget:  budget,
		config:  config,
		metrics: metrics,
		logger:  slog.Default().With("component", "generation-orchestrator"),
	}

	threshold := config.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	o.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "gemini-generation",
		Timeout: config.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Permanent request errors (safety blocks, bad prompts) say
			// nothing about upstream health and must not open the circuit.
			return err == nil || !isTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.logger.Warn("Circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			if o.metrics != nil {
				if to == gobreaker.StateOpen {
					o.metrics.BreakerState.Set(1)
				} else {
					o.metrics.BreakerState.Set(0)
				}
			}
		},
	})

	return o
}

// Generate answers one question against the supplied context chunks. It
// returns the parsed result together with the chunks that actually made it
// into the prompt after context truncation. On exhaustion or an open circuit
// the error is a GenerationUnavailableError.
func (o *Orchestrator) Generate(ctx context.Context, question string, chunks []ContextChunk) (*Result, []ContextChunk, error) {
	used := o.truncateContext(chunks)
	prompt := buildPrompt(question, used)

	var raw string
	attempts, err := retry.Do(ctx, o.config.Retry, o.retryable, func(ctx context.Context) error {
		if o.budget != nil {
			if waitErr := o.budget.Wait(ctx); waitErr != nil {
				return waitErr
			}
		}
		result, execErr := o.breaker.Execute(func() (interface{}, error) {
			return o.client.GenerateContent(ctx, prompt)
		})
		if execErr != nil {
			return execErr
		}
		raw = result.(string)
		return nil
	})

	if o.metrics != nil && attempts > 1 {
		o.metrics.GenerationRetries.Add(float64(attempts - 1))
	}

	if err != nil {
		if o.metrics != nil {
			o.metrics.GenerationRequests.WithLabelValues("error").Inc()
		}
		o.logger.Error("Generation failed",
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()))
		return nil, nil, &GenerationUnavailableError{Attempts: attempts, Err: err}
	}

	if o.metrics != nil {
		o.metrics.GenerationRequests.WithLabelValues("success").Inc()
	}

	result := parseResult(raw)
	return result, used, nil
}

// retryable classifies errors for the retry loop. An open circuit fails fast:
// backing off inside the retry budget would only mask that the breaker
// already decided the upstream is down.
func (o *Orchestrator) retryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	return isTransient(err)
}

// transientError mirrors the classification used by the embedding side.
type transientError interface {
	Transient() bool
}

func isTransient(err error) bool {
	var te transientError
	if errors.As(err, &te) {
		return te.Transient()
	}
	return true
}

// truncateContext keeps the highest-similarity chunks whose combined text
// fits MaxContextChars. The first chunk is always kept so no prompt goes out
// empty-handed.
func (o *Orchestrator) truncateContext(chunks []ContextChunk) []ContextChunk {
	if len(chunks) == 0 {
		return nil
	}

	ordered := make([]ContextChunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Similarity > ordered[j].Similarity
	})

	budget := o.config.MaxContextChars
	used := ordered[:0]
	total := 0
	for i, c := range ordered {
		if i > 0 && total+len(c.Text) > budget {
			break
		}
		used = append(used, c)
		total += len(c.Text)
	}
	return used
}

// buildPrompt renders the grounded-answer prompt: numbered policy excerpts,
// the question, and the answer contract including the trailing certainty
// line.
func buildPrompt(question string, chunks []ContextChunk) string {
	var sb strings.Builder
	sb.WriteString("You are an insurance policy analyst. Answer the question using only the policy excerpts below.\n\n")
	sb.WriteString("Policy excerpts:\n")
	for i, c := range chunks {
		if c.PageNumber > 0 {
			fmt.Fprintf(&sb, "[%d] (page %d) %s\n", i+1, c.PageNumber, strings.TrimSpace(c.Text))
		} else {
			fmt.Fprintf(&sb, "[%d] %s\n", i+1, strings.TrimSpace(c.Text))
		}
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\n\nInstructions:\n")
	sb.WriteString("- Answer concisely using only the excerpts above.\n")
	sb.WriteString("- If the excerpts do not contain the answer, state that the information is not available in the provided document.\n")
	sb.WriteString("- End your reply with a final line of the form \"Certainty: X\" where X is a number between 0 and 1 indicating how well the excerpts support your answer.\n")
	return sb.String()
}

var certaintyRe = regexp.MustCompile(`(?i)^\s*certainty:\s*([0-9]*\.?[0-9]+)\s*$`)

// parseResult splits the model reply into answer text and the self-reported
// certainty. A missing or malformed certainty line leaves HasCertainty false;
// the synthesizer substitutes its default midpoint.
func parseResult(raw string) *Result {
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	last := lines[len(lines)-1]

	if m := certaintyRe.FindStringSubmatch(last); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 0 && v <= 1 {
			text := strings.TrimSpace(strings.Join(lines[:len(lines)-1], "\n"))
			if text != "" {
				return &Result{Text: text, Certainty: v, HasCertainty: true}
			}
		}
	}
	return &Result{Text: strings.TrimSpace(raw)}
}
