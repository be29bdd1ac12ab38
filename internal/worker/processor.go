package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/panjf2000/ants/v2"

	"policyrag/features/policy"
	"policyrag/internal/text"
	"policyrag/internal/vector"
)

const (
	StageLoad    = "load"
	StageRead    = "read"
	StageExtract = "extract"
	StageChunk   = "chunk"
	StageEmbed   = "embed"
	StageIndex   = "index"
	StageStore   = "store"
	StageFacts   = "facts"
	StageFinish  = "finish"
)

var ErrNoContent = errors.New("document produced no indexable text")

// StageError tags a job failure with the pipeline stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}

type Result struct {
	Chunks int
	Facts  int
}

type ProcessorConfig struct {
	ChunkMaxChars    int
	ChunkOverlap     int
	EmbedConcurrency int
}

// Processor runs the ingestion stages of a single job in order.
type Processor struct {
	policies  PolicyStore
	extractor Extractor
	embedder  Embedder
	vectors   VectorWriter
	facts     FactExtractor
	cfg       ProcessorConfig
	pool      *ants.Pool
}

func NewProcessor(p PolicyStore, x Extractor, e Embedder, v VectorWriter, f FactExtractor, cfg ProcessorConfig) (*Processor, error) {
	size := cfg.EmbedConcurrency
	if size < 1 {
		size = 1
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}
	return &Processor{
		policies:  p,
		extractor: x,
		embedder:  e,
		vectors:   v,
		facts:     f,
		cfg:       cfg,
		pool:      pool,
	}, nil
}

// Release frees the embedding pool. The processor must not be used afterwards.
func (p *Processor) Release() {
	p.pool.Release()
}

func (p *Processor) Process(ctx context.Context, j Job) (Result, error) {
	var res Result

	pol, err := p.policies.Get(ctx, j.PolicyID)
	if err != nil {
		return res, stageErr(StageLoad, err)
	}
	if err := p.policies.UpdateStatus(ctx, pol.ID, policy.StatusProcessing); err != nil {
		return res, stageErr(StageLoad, err)
	}

	data, err := resolvePayload(j)
	if err != nil {
		return res, stageErr(StageRead, err)
	}

	pages, err := p.extractor.Extract(ctx, data)
	if err != nil {
		return res, stageErr(StageExtract, err)
	}

	chunks := text.ChunkPages(pages, p.cfg.ChunkMaxChars, p.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return res, stageErr(StageChunk, ErrNoContent)
	}
	slog.InfoContext(ctx, "document chunked", "pages", len(pages), "chunks", len(chunks))

	vectors, err := p.embedAll(ctx, chunks)
	if err != nil {
		return res, stageErr(StageEmbed, err)
	}

	entries := make([]vector.Entry, len(chunks))
	rows := make([]policy.PolicyChunk, len(chunks))
	for i, c := range chunks {
		key := vector.KeyFor(pol.ID, c.ChunkIndex)
		entries[i] = vector.Entry{
			ID:     key,
			Values: vectors[i],
			Metadata: vector.ChunkMetadata{
				PolicyID:    pol.ID,
				StateID:     pol.StateID,
				StateName:   pol.StateName,
				PolicyTitle: pol.Title,
				PageNumber:  c.PageNumber,
				ChunkIndex:  c.ChunkIndex,
				Content:     c.Content,
			}.Map(),
		}
		rows[i] = policy.PolicyChunk{
			ID:         key,
			PolicyID:   pol.ID,
			Content:    c.Content,
			PageNumber: c.PageNumber,
			ChunkIndex: c.ChunkIndex,
		}
	}

	// A re-ingested document may be shorter than its previous version.
	if removed, err := p.vectors.DeleteByPolicy(ctx, pol.ID); err != nil {
		return res, stageErr(StageIndex, err)
	} else if removed > 0 {
		slog.InfoContext(ctx, "cleared previous vectors", "count", removed)
	}
	if err := p.vectors.Upsert(ctx, entries); err != nil {
		return res, stageErr(StageIndex, err)
	}

	if err := p.policies.ReplaceChunks(ctx, pol.ID, rows); err != nil {
		return res, stageErr(StageStore, err)
	}
	res.Chunks = len(rows)

	n, err := p.facts.Extract(ctx, pol.ID)
	if err != nil {
		return res, stageErr(StageFacts, err)
	}
	res.Facts = n

	if err := p.policies.MarkCompleted(ctx, pol.ID); err != nil {
		return res, stageErr(StageFinish, err)
	}
	return res, nil
}

func resolvePayload(j Job) ([]byte, error) {
	if len(j.Data) > 0 {
		return j.Data, nil
	}
	if j.Path == "" {
		return nil, fmt.Errorf("job has neither data nor path")
	}
	data, err := os.ReadFile(j.Path) // #nosec G304 -- path comes from the upload dir, inbox or an operator
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNoContent
	}
	return data, nil
}

// embedAll embeds chunks on the pool. Output order follows chunk order; the
// first error cancels the embeds that have not started yet.
func (p *Processor) embedAll(ctx context.Context, chunks []text.Chunk) ([][]float32, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make([][]float32, len(chunks))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for i := range chunks {
		i := i
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			vec, err := p.embedder.Embed(ctx, chunks[i].Content)
			if err != nil {
				fail(fmt.Errorf("chunk %d: %w", chunks[i].ChunkIndex, err))
				return
			}
			out[i] = vec
		})
		if err != nil {
			wg.Done()
			fail(err)
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
