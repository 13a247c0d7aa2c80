// Package retry provides the backoff policy shared by every outbound call
// the service makes. The embedding and generation clients both wrap their
// HTTP calls with Do rather than carrying their own retry loops.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config defines retry behavior for a remote call.
type Config struct {
	MaxRetries    int           `json:"max_retries"`
	BaseDelay     time.Duration `json:"base_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
	JitterEnabled bool          `json:"jitter_enabled"`
}

// DefaultConfig returns the retry policy used when none is configured.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Do invokes op until it succeeds, returns a non-retryable error, the retry
// budget is exhausted, or ctx is cancelled. It reports the number of attempts
// made alongside the final error. retryable decides whether a failure is
// transient; a nil retryable treats every error as transient.
func Do(ctx context.Context, cfg Config, retryable func(error) bool, op func(ctx context.Context) error) (int, error) {
	if cfg.BackoffFactor <= 1.0 {
		cfg.BackoffFactor = 2.0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 1 * time.Second
	}

	var lastErr error
	delay := cfg.BaseDelay
	attempts := 0

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return attempts, ctx.Err()
			case <-time.After(delay):
				// Exponential backoff with jitter.
				delay = time.Duration(float64(delay) * cfg.BackoffFactor)
				if cfg.JitterEnabled {
					jitter := time.Duration(float64(delay) * 0.25 * (2.0*float64(time.Now().UnixNano()%1000)/1000.0 - 1.0))
					delay += jitter
				}
				if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
					delay = cfg.MaxDelay
				}
			}
		}

		attempts = attempt + 1
		err := op(ctx)
		if err == nil {
			return attempts, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
		if retryable != nil && !retryable(err) {
			return attempts, err
		}
	}

	return attempts, fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}
