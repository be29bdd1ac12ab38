package worker

import (
	"context"

	"policyrag/features/job"
	"policyrag/features/policy"
	"policyrag/internal/text"
	"policyrag/internal/vector"
)

// Job is one ingestion request. Data wins over Path when both are set.
// With DeleteAfter the file at Path is removed once the job ends, whatever
// the outcome.
type Job struct {
	PolicyID      string
	Data          []byte
	Path          string
	DeleteAfter   bool
	CorrelationID string
}

type PolicyStore interface {
	Get(ctx context.Context, id string) (*policy.Policy, error)
	UpdateStatus(ctx context.Context, id string, status policy.Status) error
	MarkCompleted(ctx context.Context, id string) error
	ReplaceChunks(ctx context.Context, policyID string, chunks []policy.PolicyChunk) error
}

type Extractor interface {
	Extract(ctx context.Context, data []byte) ([]text.Page, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorWriter interface {
	Upsert(ctx context.Context, entries []vector.Entry) error
	DeleteByPolicy(ctx context.Context, policyID string) (int, error)
}

type FactExtractor interface {
	Extract(ctx context.Context, policyID string) (int, error)
}

type FailureRecorder interface {
	Save(ctx context.Context, j *job.Job) error
}

type Publisher interface {
	Publish(topic string, body []byte) error
}
