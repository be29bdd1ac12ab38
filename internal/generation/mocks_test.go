package generation_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"policyrag/features/policy"
	"policyrag/internal/generation"
	"policyrag/internal/settings"
)

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Complete(ctx context.Context, messages []generation.Message, opts generation.CompletionOptions) (string, error) {
	args := m.Called(ctx, messages, opts)
	return args.String(0), args.Error(1)
}

type MockFactStore struct {
	mock.Mock
}

func (m *MockFactStore) Get(ctx context.Context, id string) (*policy.Policy, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*policy.Policy), args.Error(1)
}

func (m *MockFactStore) ListChunks(ctx context.Context, policyID string) ([]policy.PolicyChunk, error) {
	args := m.Called(ctx, policyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]policy.PolicyChunk), args.Error(1)
}

func (m *MockFactStore) CreateFacts(ctx context.Context, policyID string, facts []policy.PolicyFact, replace bool) error {
	return m.Called(ctx, policyID, facts, replace).Error(0)
}

type staticSettings settings.Settings

func (s staticSettings) Effective(ctx context.Context) settings.Settings {
	return settings.Settings(s)
}
