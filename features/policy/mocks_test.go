package policy_test

import (
	"context"

	"policyrag/features/policy"

	"github.com/stretchr/testify/mock"
)

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) EnsureState(ctx context.Context, name string) (string, error) {
	args := m.Called(ctx, name)
	return args.String(0), args.Error(1)
}

func (m *MockRepo) Create(ctx context.Context, p *policy.Policy) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockRepo) Get(ctx context.Context, id string) (*policy.Policy, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*policy.Policy), args.Error(1)
}

func (m *MockRepo) List(ctx context.Context) ([]policy.Policy, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]policy.Policy), args.Error(1)
}

func (m *MockRepo) UpdateStatus(ctx context.Context, id string, status policy.Status) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *MockRepo) MarkCompleted(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepo) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepo) CountByStatus(ctx context.Context) (map[policy.Status]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[policy.Status]int), args.Error(1)
}

func (m *MockRepo) ReplaceChunks(ctx context.Context, policyID string, chunks []policy.PolicyChunk) error {
	return m.Called(ctx, policyID, chunks).Error(0)
}

func (m *MockRepo) ListChunks(ctx context.Context, policyID string) ([]policy.PolicyChunk, error) {
	args := m.Called(ctx, policyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]policy.PolicyChunk), args.Error(1)
}

func (m *MockRepo) GetChunksByIDs(ctx context.Context, ids []string) (map[string]policy.PolicyChunk, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]policy.PolicyChunk), args.Error(1)
}

func (m *MockRepo) CreateFacts(ctx context.Context, policyID string, facts []policy.PolicyFact, replace bool) error {
	return m.Called(ctx, policyID, facts, replace).Error(0)
}

func (m *MockRepo) ListFacts(ctx context.Context, policyID string) ([]policy.PolicyFact, error) {
	args := m.Called(ctx, policyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]policy.PolicyFact), args.Error(1)
}

type MockVectors struct {
	mock.Mock
}

func (m *MockVectors) DeleteByPolicy(ctx context.Context, policyID string) (int, error) {
	args := m.Called(ctx, policyID)
	return args.Int(0), args.Error(1)
}

type MockFacts struct {
	mock.Mock
}

func (m *MockFacts) Extract(ctx context.Context, policyID string) (int, error) {
	args := m.Called(ctx, policyID)
	return args.Int(0), args.Error(1)
}

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) EnqueueFile(ctx context.Context, policyID, path string, deleteAfter bool) error {
	return m.Called(ctx, policyID, path, deleteAfter).Error(0)
}

func (m *MockQueue) EnqueueData(ctx context.Context, policyID string, data []byte) error {
	return m.Called(ctx, policyID, data).Error(0)
}

type deps struct {
	repo    *MockRepo
	vectors *MockVectors
	facts   *MockFacts
	queue   *MockQueue
}

func newService(uploadDir string) (*policy.Service, deps) {
	d := deps{new(MockRepo), new(MockVectors), new(MockFacts), new(MockQueue)}
	return policy.NewService(d.repo, d.vectors, d.facts, d.queue, uploadDir), d
}
