package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/docsage/docsage/internal/answer"
	"github.com/docsage/docsage/internal/backend"
	"github.com/docsage/docsage/internal/retrieval"
)

// maxQueryBodyBytes bounds the request body to keep hostile payloads out
// of the JSON decoder.
const maxQueryBodyBytes = 64 * 1024

// queryRequest is the POST /api/query payload.
type queryRequest struct {
	Query string `json:"query"`

	// Strategy forces a retrieval strategy. Empty selects automatically.
	Strategy string `json:"strategy,omitempty"`

	MaxSources int `json:"max_sources,omitempty"`
	CharBudget int `json:"char_budget,omitempty"`
}

// queryHandler serves the question-answering endpoint.
type queryHandler struct {
	service *answer.Service
	logger  *slog.Logger
}

func (h *queryHandler) query(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxQueryBodyBytes)
	defer body.Close()

	var req queryRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		if errors.As(err, new(*http.MaxBytesError)) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	// Reject trailing garbage after the JSON object.
	if err := json.NewDecoder(body).Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be a single JSON object")
		return
	}

	svcReq := answer.Request{
		Query:      req.Query,
		MaxSources: req.MaxSources,
		CharBudget: req.CharBudget,
	}
	if req.Strategy != "" {
		strat, err := retrieval.ParseStrategy(req.Strategy)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_strategy", err.Error())
			return
		}
		svcReq.Strategy = &strat
	}

	resp, err := h.service.Answer(r.Context(), svcReq)
	if err != nil {
		switch {
		case errors.Is(err, answer.ErrEmptyQuery):
			writeError(w, http.StatusBadRequest, "empty_query", "query must not be empty")
		case errors.Is(err, backend.ErrTimeout):
			writeError(w, http.StatusGatewayTimeout, "backend_timeout", "generation backend timed out")
		case errors.Is(err, backend.ErrUnavailable):
			writeError(w, http.StatusBadGateway, "backend_unavailable", "generation backend unavailable")
		default:
			h.logger.Error("answering query", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
