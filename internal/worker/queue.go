package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"policyrag/features/job"
	"policyrag/features/policy"
	"policyrag/internal/config"
	"policyrag/internal/middleware"
)

var ErrQueueClosed = errors.New("ingestion queue is closed")

type JobProcessor interface {
	Process(ctx context.Context, j Job) (Result, error)
}

type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, status policy.Status) error
}

// Queue is an unbounded FIFO of ingestion jobs drained by at most one worker
// goroutine. The worker starts on the first enqueue and exits when the queue
// is empty.
type Queue struct {
	processor JobProcessor
	statuses  StatusUpdater
	failures  FailureRecorder
	publisher Publisher
	timeout   time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	jobs    []Job
	running bool
	closed  bool
	idle    chan struct{}
}

// NewQueue builds a queue. failures and publisher may be nil.
func NewQueue(p JobProcessor, statuses StatusUpdater, failures FailureRecorder, publisher Publisher, timeout time.Duration) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		processor: p,
		statuses:  statuses,
		failures:  failures,
		publisher: publisher,
		timeout:   timeout,
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Enqueue appends j and returns immediately.
func (q *Queue) Enqueue(ctx context.Context, j Job) error {
	if j.PolicyID == "" {
		return fmt.Errorf("%w: policy id is required", policy.ErrInvalid)
	}
	if j.CorrelationID == "" {
		j.CorrelationID = correlationFrom(ctx)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.jobs = append(q.jobs, j)
	slog.InfoContext(middleware.WithPolicyID(ctx, j.PolicyID), "ingestion job enqueued", "pending", len(q.jobs))

	if !q.running {
		q.running = true
		q.idle = make(chan struct{})
		go q.work(q.idle)
	}
	return nil
}

func (q *Queue) EnqueueFile(ctx context.Context, policyID, path string, deleteAfter bool) error {
	return q.Enqueue(ctx, Job{PolicyID: policyID, Path: path, DeleteAfter: deleteAfter})
}

func (q *Queue) EnqueueData(ctx context.Context, policyID string, data []byte) error {
	return q.Enqueue(ctx, Job{PolicyID: policyID, Data: data})
}

func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Wait blocks until the queue is drained or ctx ends.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		if !q.running {
			q.mu.Unlock()
			return nil
		}
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown stops accepting jobs and waits for the in-flight job. Jobs still
// queued are abandoned and logged; their policies keep their current status.
// When ctx ends first the in-flight job is cancelled.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	if !q.running {
		q.abandonLocked()
		q.mu.Unlock()
		q.cancel()
		return nil
	}
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-idle
		return ctx.Err()
	}
}

func (q *Queue) work(idle chan struct{}) {
	defer close(idle)
	for {
		q.mu.Lock()
		if q.closed {
			q.abandonLocked()
		}
		if len(q.jobs) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		j := q.jobs[0]
		q.jobs[0] = Job{}
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		q.run(j)
	}
}

func (q *Queue) abandonLocked() {
	for _, j := range q.jobs {
		slog.Warn("abandoning queued ingestion job on shutdown", "policy_id", j.PolicyID, "correlation_id", j.CorrelationID)
	}
	q.jobs = nil
}

// run processes one job. Errors and panics stay local to the job.
func (q *Queue) run(j Job) {
	ctx := middleware.WithCorrelationID(q.baseCtx, j.CorrelationID)
	ctx = middleware.WithPolicyID(ctx, j.PolicyID)
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if j.DeleteAfter && j.Path != "" {
			if err := os.Remove(j.Path); err != nil && !os.IsNotExist(err) {
				slog.WarnContext(ctx, "failed to remove ingested file", "path", j.Path, "error", err)
			}
		}
	}()

	res, err := q.safeProcess(ctx, j)
	if err != nil {
		q.fail(ctx, j, err)
		return
	}

	slog.InfoContext(ctx, "ingestion job completed", "chunks", res.Chunks, "facts", res.Facts, "duration", time.Since(start))
	q.publish(ctx, StatusEvent{
		PolicyID:      j.PolicyID,
		Status:        policy.StatusCompleted,
		Chunks:        res.Chunks,
		Facts:         res.Facts,
		CorrelationID: j.CorrelationID,
	})
}

func (q *Queue) safeProcess(ctx context.Context, j Job) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "ingestion job panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return q.processor.Process(ctx, j)
}

func (q *Queue) fail(ctx context.Context, j Job, err error) {
	stage := "unknown"
	var se *StageError
	if errors.As(err, &se) {
		stage = se.Stage
	}
	slog.ErrorContext(ctx, "ingestion job failed", "stage", stage, "error", err)

	// Bookkeeping must not be cut short by the job's own deadline.
	bg := context.WithoutCancel(ctx)

	if errors.Is(err, policy.ErrNotFound) {
		q.publish(bg, StatusEvent{PolicyID: j.PolicyID, Status: policy.StatusFailed, Stage: stage, Error: err.Error(), CorrelationID: j.CorrelationID})
		return
	}

	if uerr := q.statuses.UpdateStatus(bg, j.PolicyID, policy.StatusFailed); uerr != nil {
		slog.ErrorContext(bg, "failed to mark policy failed", "error", uerr)
	}

	if q.failures != nil {
		rec := &job.Job{PolicyID: j.PolicyID, Stage: stage, Error: err.Error()}
		if !j.DeleteAfter && len(j.Data) == 0 {
			rec.FilePath = j.Path
		}
		if serr := q.failures.Save(bg, rec); serr != nil {
			slog.ErrorContext(bg, "failed to record failed job", "error", serr)
		}
	}

	q.publish(bg, StatusEvent{
		PolicyID:      j.PolicyID,
		Status:        policy.StatusFailed,
		Stage:         stage,
		Error:         err.Error(),
		CorrelationID: j.CorrelationID,
	})
}

func (q *Queue) publish(ctx context.Context, ev StatusEvent) {
	if q.publisher == nil {
		return
	}
	ev.Timestamp = time.Now().UTC()
	body, err := ev.Marshal()
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal status event", "error", err)
		return
	}
	if err := q.publisher.Publish(config.TopicPolicyStatus, body); err != nil {
		slog.WarnContext(ctx, "failed to publish status event", "error", err)
	}
}

func correlationFrom(ctx context.Context) string {
	if id := middleware.GetCorrelationID(ctx); id != "" && id != "unknown" {
		return id
	}
	return uuid.New().String()
}
