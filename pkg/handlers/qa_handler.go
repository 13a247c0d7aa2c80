// Package handlers implements the HTTP surface: the document question
// answering endpoint, health probes, and metrics.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/thc1006/policy-qa/pkg/middleware"
	"github.com/thc1006/policy-qa/pkg/rag"
)

// AnswerPipeline is the processing contract behind the run endpoint.
type AnswerPipeline interface {
	ProcessRequest(ctx context.Context, documentURLs, questions []string) ([]*rag.AnswerRecord, error)
}

// DocumentList accepts either a single URL string or a list of URL strings,
// matching both request dialects clients send.
type DocumentList []string

// UnmarshalJSON implements the string-or-list union.
func (d *DocumentList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*d = DocumentList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("documents must be a URL string or a list of URL strings")
	}
	*d = DocumentList(many)
	return nil
}

// RunRequest is the body of POST /hackrx/run.
type RunRequest struct {
	Documents DocumentList `json:"documents"`
	Questions []string     `json:"questions"`
}

// RunResponse carries one answer record per question, in question order.
type RunResponse struct {
	Answers []*rag.AnswerRecord `json:"answers"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// QAHandler serves the question answering endpoint.
type QAHandler struct {
	pipeline       AnswerPipeline
	requestTimeout time.Duration
	logger         *slog.Logger
}

// NewQAHandler creates the handler. requestTimeout <= 0 disables the
// per-request deadline.
func NewQAHandler(pipeline AnswerPipeline, requestTimeout time.Duration) *QAHandler {
	return &QAHandler{
		pipeline:       pipeline,
		requestTimeout: requestTimeout,
		logger:         slog.Default().With("component", "qa-handler"),
	}
}

// HandleRun processes POST /hackrx/run and the legacy /api/v1/hackrx/run.
func (h *QAHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		if middleware.IsBodyTooLarge(err) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	if len(req.Documents) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "documents must not be empty"})
		return
	}
	if len(req.Questions) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "questions must not be empty"})
		return
	}

	ctx := r.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	start := time.Now()
	answers, err := h.pipeline.ProcessRequest(ctx, req.Documents, req.Questions)
	if err != nil {
		h.respondPipelineError(w, r, err)
		return
	}

	h.logger.Info("Request answered",
		slog.Int("documents", len(req.Documents)),
		slog.Int("questions", len(req.Questions)),
		slog.Duration("duration", time.Since(start)))
	writeJSON(w, http.StatusOK, RunResponse{Answers: answers})
}

// respondPipelineError maps pipeline failures onto status codes: unreadable
// input documents are the caller's problem, unavailable upstream services are
// not.
func (h *QAHandler) respondPipelineError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		unreadable  *rag.DocumentUnreadableError
		noEmbedding *rag.EmbeddingUnavailableError
	)

	status := http.StatusInternalServerError
	message := "internal error"
	switch {
	case errors.As(err, &unreadable):
		status = http.StatusBadRequest
		message = fmt.Sprintf("document could not be processed: %s", unreadable.URL)
	case errors.As(err, &noEmbedding):
		status = http.StatusServiceUnavailable
		message = "embedding service unavailable, try again later"
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		message = "request timed out"
	}

	h.logger.Error("Request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()))
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Error("Failed to encode response", slog.String("error", err.Error()))
	}
}
