package policy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"policyrag/internal/middleware"
)

var (
	ErrNotFound = errors.New("policy not found")
	ErrInvalid  = errors.New("invalid policy")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type Policy struct {
	ID          string     `json:"id"`
	StateID     string     `json:"state_id"`
	StateName   string     `json:"state_name"`
	Title       string     `json:"title"`
	Status      Status     `json:"status"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// PolicyChunk is the relational copy of an embedded chunk. Its ID is the
// vector key of the same chunk.
type PolicyChunk struct {
	ID         string `json:"id"`
	PolicyID   string `json:"policy_id"`
	Content    string `json:"content"`
	PageNumber int    `json:"page_number"`
	ChunkIndex int    `json:"chunk_index"`
}

type PolicyFact struct {
	ID         string    `json:"id"`
	PolicyID   string    `json:"policy_id"`
	StateID    string    `json:"state_id"`
	Category   string    `json:"category"`
	Field      string    `json:"field"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	PageNumber *int      `json:"page_number,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Repository interface {
	EnsureState(ctx context.Context, name string) (string, error)
	Create(ctx context.Context, p *Policy) error
	Get(ctx context.Context, id string) (*Policy, error)
	List(ctx context.Context) ([]Policy, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	MarkCompleted(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[Status]int, error)

	ReplaceChunks(ctx context.Context, policyID string, chunks []PolicyChunk) error
	ListChunks(ctx context.Context, policyID string) ([]PolicyChunk, error)
	GetChunksByIDs(ctx context.Context, ids []string) (map[string]PolicyChunk, error)

	CreateFacts(ctx context.Context, policyID string, facts []PolicyFact, replace bool) error
	ListFacts(ctx context.Context, policyID string) ([]PolicyFact, error)
}

type VectorDeleter interface {
	DeleteByPolicy(ctx context.Context, policyID string) (int, error)
}

type FactExtractor interface {
	Extract(ctx context.Context, policyID string) (int, error)
}

type Enqueuer interface {
	EnqueueFile(ctx context.Context, policyID, path string, deleteAfter bool) error
	EnqueueData(ctx context.Context, policyID string, data []byte) error
}

type Service struct {
	repo      Repository
	vectors   VectorDeleter
	facts     FactExtractor
	queue     Enqueuer
	uploadDir string
}

func NewService(repo Repository, vectors VectorDeleter, facts FactExtractor, queue Enqueuer, uploadDir string) *Service {
	return &Service{repo: repo, vectors: vectors, facts: facts, queue: queue, uploadDir: uploadDir}
}

// Create registers a pending policy for a state, creating the state on first use.
func (s *Service) Create(ctx context.Context, stateName, title string) (*Policy, error) {
	stateName = strings.TrimSpace(stateName)
	title = strings.TrimSpace(title)
	if stateName == "" {
		return nil, fmt.Errorf("%w: state is required", ErrInvalid)
	}
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalid)
	}

	stateID, err := s.repo.EnsureState(ctx, stateName)
	if err != nil {
		return nil, err
	}

	p := &Policy{StateID: stateID, StateName: stateName, Title: title, Status: StatusPending}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	slog.InfoContext(middleware.WithPolicyID(ctx, p.ID), "policy created", "state", stateName)
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Policy, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Policy, error) {
	return s.repo.List(ctx)
}

// Upload stores the document under the upload directory and queues it for
// ingestion. The stored file is removed once the job finishes.
func (s *Service) Upload(ctx context.Context, policyID, filename string, body io.Reader) error {
	if _, err := s.repo.Get(ctx, policyID); err != nil {
		return err
	}

	if err := os.MkdirAll(s.uploadDir, 0o750); err != nil {
		return fmt.Errorf("create upload directory: %w", err)
	}

	path := filepath.Clean(filepath.Join(s.uploadDir, fmt.Sprintf("%s_%s", uuid.New().String(), filepath.Base(filename))))
	dst, err := os.Create(path) // #nosec G304 -- path is UUID-prefixed basename inside the upload dir
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(dst, body); err != nil {
		dst.Close()
		os.Remove(path)
		return fmt.Errorf("write upload file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close upload file: %w", err)
	}

	if err := s.queue.EnqueueFile(ctx, policyID, path, true); err != nil {
		if removeErr := os.Remove(path); removeErr != nil {
			slog.WarnContext(ctx, "failed to clean up uploaded file", "error", removeErr, "path", path)
		}
		return err
	}
	return nil
}

// Ingest queues a document already on disk. The file is left in place.
func (s *Service) Ingest(ctx context.Context, policyID, path string) error {
	if _, err := s.repo.Get(ctx, policyID); err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return s.queue.EnqueueFile(ctx, policyID, path, false)
}

// IngestData queues a document held in memory, e.g. one piped on stdin.
func (s *Service) IngestData(ctx context.Context, policyID string, data []byte) error {
	if _, err := s.repo.Get(ctx, policyID); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: document is empty", ErrInvalid)
	}
	return s.queue.EnqueueData(ctx, policyID, data)
}

func (s *Service) ExtractFacts(ctx context.Context, policyID string) (int, error) {
	return s.facts.Extract(middleware.WithPolicyID(ctx, policyID), policyID)
}

func (s *Service) ListFacts(ctx context.Context, policyID string) ([]PolicyFact, error) {
	if _, err := s.repo.Get(ctx, policyID); err != nil {
		return nil, err
	}
	return s.repo.ListFacts(ctx, policyID)
}

// DeletePolicy removes the relational record first (chunks and facts cascade),
// then the policy's vectors. A vector failure leaves orphaned index entries
// and is reported to the caller.
func (s *Service) DeletePolicy(ctx context.Context, policyID string) error {
	ctx = middleware.WithPolicyID(ctx, policyID)
	if err := s.repo.Delete(ctx, policyID); err != nil {
		return err
	}

	n, err := s.vectors.DeleteByPolicy(ctx, policyID)
	if err != nil {
		slog.ErrorContext(ctx, "policy deleted but vector cleanup failed", "error", err)
		return fmt.Errorf("delete policy vectors: %w", err)
	}
	slog.InfoContext(ctx, "policy deleted", "vectors_removed", n)
	return nil
}
