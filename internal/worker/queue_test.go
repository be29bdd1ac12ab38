package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"policyrag/features/job"
	"policyrag/features/policy"
	"policyrag/internal/config"
	"policyrag/internal/worker"
)

func waitIdle(t *testing.T, q *worker.Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))
}

func TestQueue_FIFOAndSingleWorker(t *testing.T) {
	var (
		mu     sync.Mutex
		order  []string
		active int32
		peak   int32
	)
	proc := processorFunc(func(ctx context.Context, j worker.Job) (worker.Result, error) {
		n := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		order = append(order, j.PolicyID)
		mu.Unlock()
		return worker.Result{}, nil
	})

	q := worker.NewQueue(proc, newStatusLog(), nil, nil, time.Minute)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, q.Enqueue(ctx, worker.Job{PolicyID: id, Data: []byte("x")}))
	}
	waitIdle(t, q)

	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
	assert.False(t, q.Running())
	assert.Equal(t, 0, q.Pending())
}

func TestQueue_RestartsAfterDrain(t *testing.T) {
	var count int32
	proc := processorFunc(func(ctx context.Context, j worker.Job) (worker.Result, error) {
		atomic.AddInt32(&count, 1)
		return worker.Result{}, nil
	})
	q := worker.NewQueue(proc, newStatusLog(), nil, nil, 0)

	require.NoError(t, q.Enqueue(context.Background(), worker.Job{PolicyID: "a"}))
	waitIdle(t, q)
	require.NoError(t, q.Enqueue(context.Background(), worker.Job{PolicyID: "b"}))
	waitIdle(t, q)

	assert.Equal(t, int32(2), atomic.LoadInt32(&count))
}

func TestQueue_FailureIsolation(t *testing.T) {
	proc := processorFunc(func(ctx context.Context, j worker.Job) (worker.Result, error) {
		switch j.PolicyID {
		case "b":
			return worker.Result{}, &worker.StageError{Stage: worker.StageEmbed, Err: errors.New("quota exceeded")}
		case "c":
			panic("nil map")
		}
		return worker.Result{Chunks: 1}, nil
	})

	statuses := newStatusLog()
	jobs := new(MockJobRepo)
	pub := new(MockPublisher)

	var events []worker.StatusEvent
	var evMu sync.Mutex
	pub.On("Publish", config.TopicPolicyStatus, mock.Anything).Run(func(args mock.Arguments) {
		var ev worker.StatusEvent
		assert.NoError(t, json.Unmarshal(args.Get(1).([]byte), &ev))
		evMu.Lock()
		events = append(events, ev)
		evMu.Unlock()
	}).Return(nil)
	jobs.On("Save", mock.Anything, mock.MatchedBy(func(j *job.Job) bool {
		return j.PolicyID == "b" && j.Stage == worker.StageEmbed && j.FilePath == "/srv/docs/b.pdf"
	})).Return(nil).Once()
	jobs.On("Save", mock.Anything, mock.MatchedBy(func(j *job.Job) bool {
		return j.PolicyID == "c" && j.Stage == "unknown" && j.FilePath == ""
	})).Return(nil).Once()

	q := worker.NewQueue(proc, statuses, jobs, pub, time.Minute)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, worker.Job{PolicyID: "a", Data: []byte("x")}))
	require.NoError(t, q.EnqueueFile(ctx, "b", "/srv/docs/b.pdf", false))
	require.NoError(t, q.Enqueue(ctx, worker.Job{PolicyID: "c", Data: []byte("x")}))
	require.NoError(t, q.Enqueue(ctx, worker.Job{PolicyID: "d", Data: []byte("x")}))
	waitIdle(t, q)

	assert.Empty(t, statuses.get("a"))
	assert.Equal(t, []policy.Status{policy.StatusFailed}, statuses.get("b"))
	assert.Equal(t, []policy.Status{policy.StatusFailed}, statuses.get("c"))
	assert.Empty(t, statuses.get("d"))
	jobs.AssertExpectations(t)

	require.Len(t, events, 4)
	assert.Equal(t, policy.StatusCompleted, events[0].Status)
	assert.Equal(t, policy.StatusFailed, events[1].Status)
	assert.Equal(t, worker.StageEmbed, events[1].Stage)
	assert.Equal(t, policy.StatusCompleted, events[3].Status)
}

func TestQueue_MissingPolicyIsNotRecorded(t *testing.T) {
	proc := processorFunc(func(ctx context.Context, j worker.Job) (worker.Result, error) {
		return worker.Result{}, &worker.StageError{Stage: worker.StageLoad, Err: policy.ErrNotFound}
	})
	statuses := newStatusLog()
	jobs := new(MockJobRepo)

	q := worker.NewQueue(proc, statuses, jobs, nil, time.Minute)
	require.NoError(t, q.Enqueue(context.Background(), worker.Job{PolicyID: "ghost"}))
	waitIdle(t, q)

	assert.Empty(t, statuses.get("ghost"))
	jobs.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestQueue_DeleteAfterCleanup(t *testing.T) {
	dir := t.TempDir()
	ok := filepath.Join(dir, "ok.txt")
	bad := filepath.Join(dir, "bad.txt")
	keep := filepath.Join(dir, "keep.txt")
	for _, p := range []string{ok, bad, keep} {
		require.NoError(t, os.WriteFile(p, []byte("text"), 0o600))
	}

	proc := processorFunc(func(ctx context.Context, j worker.Job) (worker.Result, error) {
		if j.PolicyID == "bad" {
			return worker.Result{}, errors.New("boom")
		}
		return worker.Result{}, nil
	})
	q := worker.NewQueue(proc, newStatusLog(), nil, nil, time.Minute)
	ctx := context.Background()
	require.NoError(t, q.EnqueueFile(ctx, "ok", ok, true))
	require.NoError(t, q.EnqueueFile(ctx, "bad", bad, true))
	require.NoError(t, q.EnqueueFile(ctx, "keep", keep, false))
	waitIdle(t, q)

	assert.NoFileExists(t, ok)
	assert.NoFileExists(t, bad)
	assert.FileExists(t, keep)
}

func TestQueue_JobTimeout(t *testing.T) {
	proc := processorFunc(func(ctx context.Context, j worker.Job) (worker.Result, error) {
		<-ctx.Done()
		return worker.Result{}, ctx.Err()
	})
	statuses := newStatusLog()
	q := worker.NewQueue(proc, statuses, nil, nil, 20*time.Millisecond)

	require.NoError(t, q.Enqueue(context.Background(), worker.Job{PolicyID: "slow"}))
	waitIdle(t, q)

	assert.Equal(t, []policy.Status{policy.StatusFailed}, statuses.get("slow"))
}

func TestQueue_Shutdown(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var processed []string
	var mu sync.Mutex

	proc := processorFunc(func(ctx context.Context, j worker.Job) (worker.Result, error) {
		if j.PolicyID == "first" {
			close(started)
			<-release
		}
		mu.Lock()
		processed = append(processed, j.PolicyID)
		mu.Unlock()
		return worker.Result{}, nil
	})
	q := worker.NewQueue(proc, newStatusLog(), nil, nil, time.Minute)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, worker.Job{PolicyID: "first"}))
	require.NoError(t, q.Enqueue(ctx, worker.Job{PolicyID: "second"}))
	<-started

	done := make(chan error, 1)
	go func() { done <- q.Shutdown(context.Background()) }()

	require.Eventually(t, func() bool {
		return errors.Is(q.Enqueue(ctx, worker.Job{PolicyID: "late"}), worker.ErrQueueClosed)
	}, time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"first"}, processed)
	assert.Equal(t, 0, q.Pending())
}

func TestQueue_ShutdownDeadlineCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	proc := processorFunc(func(ctx context.Context, j worker.Job) (worker.Result, error) {
		close(started)
		<-ctx.Done()
		return worker.Result{}, ctx.Err()
	})
	q := worker.NewQueue(proc, newStatusLog(), nil, nil, time.Minute)

	require.NoError(t, q.Enqueue(context.Background(), worker.Job{PolicyID: "hung"}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Shutdown(ctx), context.DeadlineExceeded)
	assert.False(t, q.Running())
}

func TestQueue_EnqueueRequiresPolicyID(t *testing.T) {
	q := worker.NewQueue(processorFunc(nil), newStatusLog(), nil, nil, 0)
	assert.ErrorIs(t, q.Enqueue(context.Background(), worker.Job{}), policy.ErrInvalid)
}
