package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"policyrag/internal/generation"
	"policyrag/internal/middleware"
)

type Querier interface {
	Search(ctx context.Context, query string, stateFilter []string, topK int) ([]SearchResult, error)
	RAGQuery(ctx context.Context, query string, stateFilter []string, history []generation.Message) (*RAGResponse, error)
}

type Handler struct {
	service Querier
}

func NewHandler(service Querier) *Handler {
	return &Handler{service: service}
}

type searchRequest struct {
	Query  string   `json:"query"`
	States []string `json:"states"`
	TopK   int      `json:"top_k"`
}

type askRequest struct {
	Question string               `json:"question"`
	States   []string             `json:"states"`
	History  []generation.Message `json:"history"`
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "query is required", http.StatusBadRequest)
		return
	}

	results, err := h.service.Search(r.Context(), req.Query, req.States, req.TopK)
	if err != nil {
		h.handleErr(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": results,
		"meta": map[string]int{"count": len(results)},
	})
}

func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "question is required", http.StatusBadRequest)
		return
	}

	resp, err := h.service.RAGQuery(r.Context(), req.Question, req.States, req.History)
	if err != nil {
		h.handleErr(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": resp})
}

func (h *Handler) handleErr(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, ErrSearchFailed) || errors.Is(err, ErrAnswerFailed) {
		slog.WarnContext(ctx, "upstream unavailable", "error", err)
		h.writeError(ctx, w, "UPSTREAM_UNAVAILABLE", err.Error(), http.StatusBadGateway)
		return
	}
	slog.ErrorContext(ctx, "retrieval failed", "error", err)
	h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
