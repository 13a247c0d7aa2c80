// Package llm provides the Gemini REST client and the generation
// orchestrator: a shared per-minute rate budget, transient-failure retries
// with exponential backoff, and circuit breaking around the upstream service.
package llm

import (
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the generative language API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("generative API returned %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the status is worth retrying. Rate limiting and
// server errors are; client errors such as a bad API key are not.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// transportError wraps a network-level failure. Always transient.
type transportError struct {
	err error
}

func (e *transportError) Error() string   { return fmt.Sprintf("generative API unreachable: %v", e.err) }
func (e *transportError) Unwrap() error   { return e.err }
func (e *transportError) Transient() bool { return true }

// emptyResponseError means the API answered 200 with no usable candidate,
// typically a safety block. Retrying the same prompt will not help.
type emptyResponseError struct {
	reason string
}

func (e *emptyResponseError) Error() string {
	if e.reason == "" {
		return "generative API returned no candidates"
	}
	return fmt.Sprintf("generative API returned no candidates (finish reason %s)", e.reason)
}

func (e *emptyResponseError) Transient() bool { return false }

// GenerationUnavailableError reports that generation stayed unavailable
// through the whole retry budget, or that the circuit breaker refused the
// call.
type GenerationUnavailableError struct {
	Attempts int
	Err      error
}

func (e *GenerationUnavailableError) Error() string {
	return fmt.Sprintf("generation unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *GenerationUnavailableError) Unwrap() error { return e.Err }
