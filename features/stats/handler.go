package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"policyrag/features/policy"
	"policyrag/internal/middleware"
)

type PolicyRepo interface {
	CountByStatus(ctx context.Context) (map[policy.Status]int, error)
}

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type QueueStats interface {
	Pending() int
	Running() bool
}

type Handler struct {
	policyRepo PolicyRepo
	jobRepo    JobRepo
	queue      QueueStats
}

func NewHandler(p PolicyRepo, j JobRepo, q QueueStats) *Handler {
	return &Handler{policyRepo: p, jobRepo: j, queue: q}
}

type StatsResponse struct {
	Policies     int                   `json:"policies"`
	ByStatus     map[policy.Status]int `json:"by_status"`
	FailedJobs   int                   `json:"failed_jobs"`
	QueuePending int                   `json:"queue_pending"`
	WorkerActive bool                  `json:"worker_active"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	slog.InfoContext(ctx, "getting stats")

	byStatus, err := h.policyRepo.CountByStatus(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count policies", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count policies", http.StatusInternalServerError)
		return
	}

	jCount, err := h.jobRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		ByStatus:   map[policy.Status]int{},
		FailedJobs: jCount,
	}
	for status, n := range byStatus {
		resp.ByStatus[status] = n
		resp.Policies += n
	}
	if h.queue != nil {
		resp.QueuePending = h.queue.Pending()
		resp.WorkerActive = h.queue.Running()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
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
