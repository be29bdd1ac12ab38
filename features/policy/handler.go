package policy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"

	"policyrag/internal/middleware"
)

var uploadExts = map[string]bool{".pdf": true, ".txt": true, ".md": true}

type Handler struct {
	service       *Service
	maxUploadSize int64
}

func NewHandler(service *Service, maxUploadMB int64) *Handler {
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	return &Handler{service: service, maxUploadSize: maxUploadMB << 20}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State string `json:"state"`
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	p, err := h.service.Create(r.Context(), req.State, req.Title)
	if err != nil {
		h.handleErr(r.Context(), w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"data": p})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	policies, err := h.service.List(r.Context())
	if err != nil {
		h.handleErr(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": policies,
		"meta": map[string]int{"count": len(policies)},
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleErr(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": p})
}

// Upload accepts a multipart "file" field and queues it for ingestion.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		h.writeError(r.Context(), w, "BAD_REQUEST", "File too large", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(r.Context(), w, "BAD_REQUEST", "Unable to retrieve file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !uploadExts[filepath.Ext(header.Filename)] {
		h.writeError(r.Context(), w, "BAD_REQUEST", "Unsupported file type", http.StatusBadRequest)
		return
	}

	if err := h.service.Upload(r.Context(), id, header.Filename, file); err != nil {
		h.handleErr(r.Context(), w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"data": map[string]string{"policy_id": id, "status": string(StatusPending)},
	})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePolicy(r.Context(), r.PathValue("id")); err != nil {
		h.handleErr(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ExtractFacts(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.ExtractFacts(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleErr(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]int{"count": n}})
}

func (h *Handler) ListFacts(w http.ResponseWriter, r *http.Request) {
	facts, err := h.service.ListFacts(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleErr(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": facts,
		"meta": map[string]int{"count": len(facts)},
	})
}

func (h *Handler) handleErr(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(ctx, w, "NOT_FOUND", "Policy not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalid):
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	default:
		slog.ErrorContext(ctx, "policy operation failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
	}
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
