package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"policyrag/internal/middleware"
)

type JobEnqueuer interface {
	Enqueue(ctx context.Context, j Job) error
}

// IngestConsumer turns policy.ingest messages into file-backed jobs.
type IngestConsumer struct {
	queue JobEnqueuer
}

func NewIngestConsumer(q JobEnqueuer) *IngestConsumer {
	return &IngestConsumer{queue: q}
}

func (c *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var req IngestRequest
	if err := json.Unmarshal(m.Body, &req); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid ingest request", "error", err)
		return nil
	}

	ctx := context.Background()
	if req.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, req.CorrelationID)
	}

	if req.PolicyID == "" || req.Path == "" {
		slog.ErrorContext(ctx, "missing required fields, dropping", "policy_id", req.PolicyID, "path", req.Path)
		return nil
	}

	err := c.queue.Enqueue(ctx, Job{
		PolicyID:      req.PolicyID,
		Path:          req.Path,
		DeleteAfter:   req.DeleteAfter,
		CorrelationID: req.CorrelationID,
	})
	if errors.Is(err, ErrQueueClosed) {
		// Requeue so another instance, or this one after restart, picks it up.
		slog.WarnContext(ctx, "queue closed, requeueing message", "policy_id", req.PolicyID)
		return err
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to enqueue ingest request", "error", err, "policy_id", req.PolicyID)
		return nil
	}
	return nil
}
