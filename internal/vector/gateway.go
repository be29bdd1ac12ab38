package vector

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	DefaultDimension = 768
	DefaultScanLimit = 10000
)

// Gateway guards every write against the configured embedding dimension and
// adds policy-scoped deletion on top of an Index.
type Gateway struct {
	index     Index
	dimension int
	scanLimit int
}

func NewGateway(index Index, dimension, scanLimit int) *Gateway {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	if scanLimit <= 0 {
		scanLimit = DefaultScanLimit
	}
	return &Gateway{index: index, dimension: dimension, scanLimit: scanLimit}
}

func (g *Gateway) Dimension() int {
	return g.dimension
}

func (g *Gateway) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if len(e.Values) != g.dimension {
			return fmt.Errorf("%w: entry %s has %d values, want %d", ErrDimensionMismatch, e.ID, len(e.Values), g.dimension)
		}
	}
	if err := g.index.Upsert(ctx, entries); err != nil {
		return fmt.Errorf("vector upsert: %w", err)
	}
	return nil
}

func (g *Gateway) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if len(vector) != g.dimension {
		return nil, fmt.Errorf("%w: query has %d values, want %d", ErrDimensionMismatch, len(vector), g.dimension)
	}
	if topK <= 0 {
		return []Match{}, nil
	}
	matches, err := g.index.Query(ctx, vector, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	return matches, nil
}

func (g *Gateway) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := g.index.Delete(ctx, ids); err != nil {
		return fmt.Errorf("vector delete: %w", err)
	}
	return nil
}

// DeleteByPolicy finds every entry tagged with policyID and removes it. The
// scan is capped at the configured limit; entries beyond it are left behind.
func (g *Gateway) DeleteByPolicy(ctx context.Context, policyID string) (int, error) {
	zero := make([]float32, g.dimension)
	matches, err := g.index.Query(ctx, zero, g.scanLimit, Filter{MetaPolicyID: {policyID}})
	if err != nil {
		return 0, fmt.Errorf("vector scan for policy %s: %w", policyID, err)
	}
	if len(matches) >= g.scanLimit {
		slog.WarnContext(ctx, "vector delete scan hit limit, entries may be orphaned",
			"policy_id", policyID, "limit", g.scanLimit)
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	if err := g.DeleteByIDs(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}
