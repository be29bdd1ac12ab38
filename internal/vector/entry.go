package vector

import (
	"context"
	"errors"
	"fmt"
)

var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Metadata keys stored alongside every chunk vector.
const (
	MetaPolicyID    = "policyId"
	MetaStateID     = "stateId"
	MetaStateName   = "stateName"
	MetaPolicyTitle = "policyTitle"
	MetaPageNumber  = "pageNumber"
	MetaChunkIndex  = "chunkIndex"
	MetaContent     = "content"
)

// PreviewRunes bounds the content preview kept in vector metadata.
const PreviewRunes = 1000

type Entry struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Filter restricts a query by metadata field. A single value is an exact
// match, several values form an "in" set. Fields are ANDed together.
type Filter map[string][]string

// Index is the ANN store behind the Gateway.
type Index interface {
	Upsert(ctx context.Context, entries []Entry) error
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)
	Delete(ctx context.Context, ids []string) error
}

// KeyFor returns the deterministic vector key of a policy chunk.
func KeyFor(policyID string, chunkIndex int) string {
	return fmt.Sprintf("%s-chunk-%d", policyID, chunkIndex)
}

type ChunkMetadata struct {
	PolicyID    string
	StateID     string
	StateName   string
	PolicyTitle string
	PageNumber  int
	ChunkIndex  int
	Content     string
}

func (m ChunkMetadata) Map() map[string]any {
	return map[string]any{
		MetaPolicyID:    m.PolicyID,
		MetaStateID:     m.StateID,
		MetaStateName:   m.StateName,
		MetaPolicyTitle: m.PolicyTitle,
		MetaPageNumber:  m.PageNumber,
		MetaChunkIndex:  m.ChunkIndex,
		MetaContent:     Preview(m.Content),
	}
}

func Preview(content string) string {
	r := []rune(content)
	if len(r) <= PreviewRunes {
		return content
	}
	return string(r[:PreviewRunes])
}
