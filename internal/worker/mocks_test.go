package worker_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"policyrag/features/job"
	"policyrag/features/policy"
	"policyrag/internal/worker"
)

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockPolicyStore struct{ mock.Mock }

func (m *MockPolicyStore) Get(ctx context.Context, id string) (*policy.Policy, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*policy.Policy), args.Error(1)
}

func (m *MockPolicyStore) UpdateStatus(ctx context.Context, id string, status policy.Status) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *MockPolicyStore) MarkCompleted(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockPolicyStore) ReplaceChunks(ctx context.Context, policyID string, chunks []policy.PolicyChunk) error {
	return m.Called(ctx, policyID, chunks).Error(0)
}

type MockFacts struct{ mock.Mock }

func (m *MockFacts) Extract(ctx context.Context, policyID string) (int, error) {
	args := m.Called(ctx, policyID)
	return args.Int(0), args.Error(1)
}

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) Save(ctx context.Context, j *job.Job) error {
	return m.Called(ctx, j).Error(0)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	return m.Called(topic, body).Error(0)
}

type MockEnqueuer struct{ mock.Mock }

func (m *MockEnqueuer) Enqueue(ctx context.Context, j worker.Job) error {
	return m.Called(ctx, j).Error(0)
}

// processorFunc adapts a function to worker.JobProcessor.
type processorFunc func(ctx context.Context, j worker.Job) (worker.Result, error)

func (f processorFunc) Process(ctx context.Context, j worker.Job) (worker.Result, error) {
	return f(ctx, j)
}

// statusLog records status transitions in order.
type statusLog struct {
	mu      sync.Mutex
	updates map[string][]policy.Status
}

func newStatusLog() *statusLog {
	return &statusLog{updates: map[string][]policy.Status{}}
}

func (s *statusLog) UpdateStatus(ctx context.Context, id string, status policy.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[id] = append(s.updates[id], status)
	return nil
}

func (s *statusLog) get(id string) []policy.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]policy.Status(nil), s.updates[id]...)
}
