package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// RequestSizeLimiter enforces a request body size limit before any handler
// reads the body.
type RequestSizeLimiter struct {
	maxSize int64
	logger  *slog.Logger
}

// NewRequestSizeLimiter creates a request size limiter middleware.
func NewRequestSizeLimiter(maxSize int64, logger *slog.Logger) *RequestSizeLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestSizeLimiter{maxSize: maxSize, logger: logger}
}

// Middleware wraps bodies in MaxBytesReader and rejects requests whose
// declared Content-Length already exceeds the limit.
func (rsl *RequestSizeLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if r.ContentLength > rsl.maxSize {
				rsl.logger.Warn("Request rejected by Content-Length",
					slog.Int64("content_length", r.ContentLength),
					slog.Int64("max_size_bytes", rsl.maxSize),
					slog.String("path", r.URL.Path))
				writePayloadTooLarge(w, rsl.maxSize)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, rsl.maxSize)
		}

		next.ServeHTTP(w, r)
	})
}

// IsBodyTooLarge reports whether a decode error came from the size limiter,
// so handlers can answer 413 instead of 400.
func IsBodyTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func writePayloadTooLarge(w http.ResponseWriter, maxSize int64) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusRequestEntityTooLarge)
	_, _ = fmt.Fprintf(w, `{"error":"request body exceeds maximum allowed size of %d bytes"}`, maxSize)
}
