package job

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"policyrag/internal/middleware"
)

type Enqueuer interface {
	EnqueueFile(ctx context.Context, policyID, path string, deleteAfter bool) error
}

type Service struct {
	repo  Repository
	queue Enqueuer
}

func NewService(repo Repository, queue Enqueuer) *Service {
	return &Service{repo: repo, queue: queue}
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

// Retry re-enqueues the retained document of a failed job and drops the
// failure record. Jobs whose document was a temporary upload cannot be retried.
func (s *Service) Retry(ctx context.Context, id string) error {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	ctx = middleware.WithPolicyID(ctx, j.PolicyID)

	if j.FilePath == "" {
		return ErrNotRetryable
	}
	if _, err := os.Stat(j.FilePath); err != nil {
		return fmt.Errorf("%w: %v", ErrNotRetryable, err)
	}

	if err := s.queue.EnqueueFile(ctx, j.PolicyID, j.FilePath, false); err != nil {
		return err
	}
	slog.InfoContext(ctx, "failed job re-enqueued", "job_id", j.ID, "retries", j.Retries+1)

	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
