package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"policyrag/features/policy"
	"policyrag/internal/generation"
	"policyrag/internal/middleware"
	"policyrag/internal/settings"
	"policyrag/internal/vector"
)

var (
	ErrSearchFailed = errors.New("search failed")
	ErrAnswerFailed = errors.New("answer generation failed")
)

const (
	unknownState = "Unknown"
	unknownTitle = "Unknown Policy"

	confidenceBoost = 1.2

	noResultsAnswer = "I couldn't find any information about that in the available policy documents. " +
		"Try rephrasing your question, naming a specific state, or asking about a related topic."
)

var suggestedQueries = []string{
	"What are the eligibility requirements?",
	"What is the deadline for filing a claim?",
	"What services are covered?",
	"How do I appeal a denied claim?",
}

type SearchResult struct {
	ID          string  `json:"id"`
	PolicyID    string  `json:"policy_id"`
	StateID     string  `json:"state_id"`
	StateName   string  `json:"state_name"`
	PolicyTitle string  `json:"policy_title"`
	PageNumber  int     `json:"page_number"`
	ChunkIndex  int     `json:"chunk_index"`
	Content     string  `json:"content"`
	Similarity  float64 `json:"similarity"`
}

type Citation struct {
	Number      int     `json:"number"`
	PolicyID    string  `json:"policy_id"`
	StateName   string  `json:"state_name"`
	PolicyTitle string  `json:"policy_title"`
	PageNumber  int     `json:"page_number"`
	ChunkIndex  int     `json:"chunk_index"`
	Similarity  float64 `json:"similarity"`
	Excerpt     string  `json:"excerpt"`
}

type RAGResponse struct {
	Answer           string     `json:"answer"`
	Confidence       float64    `json:"confidence"`
	Citations        []Citation `json:"citations"`
	SuggestedQueries []string   `json:"suggested_queries,omitempty"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorSearcher interface {
	Query(ctx context.Context, vector []float32, topK int, filter vector.Filter) ([]vector.Match, error)
}

type ChunkSource interface {
	GetChunksByIDs(ctx context.Context, ids []string) (map[string]policy.PolicyChunk, error)
}

type Answerer interface {
	Answer(ctx context.Context, question, contextBlock string, history []generation.Message) (string, error)
}

type SettingsSource interface {
	Effective(ctx context.Context) settings.Settings
}

type Service struct {
	embedder Embedder
	vectors  VectorSearcher
	chunks   ChunkSource
	answerer Answerer
	settings SettingsSource
	logger   *QueryLogger
}

func NewService(e Embedder, v VectorSearcher, c ChunkSource, a Answerer, set SettingsSource, l *QueryLogger) *Service {
	return &Service{embedder: e, vectors: v, chunks: c, answerer: a, settings: set, logger: l}
}

// Search embeds the query, over-fetches from the index, drops matches below
// the similarity threshold and returns at most topK results, best first.
// topK <= 0 selects the configured default.
func (s *Service) Search(ctx context.Context, query string, stateFilter []string, topK int) ([]SearchResult, error) {
	start := time.Now()
	results, err := s.search(ctx, query, stateFilter, topK)
	if err != nil {
		return nil, err
	}
	s.log(ctx, "search", query, stateFilter, results, nil, time.Since(start))
	return results, nil
}

func (s *Service) search(ctx context.Context, query string, stateFilter []string, topK int) ([]SearchResult, error) {
	cfg := s.settings.Effective(ctx)
	if topK <= 0 {
		topK = cfg.DefaultTopK
	}
	overfetch := cfg.OverfetchFactor
	if overfetch < 1 {
		overfetch = 1
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", ErrSearchFailed, err)
	}

	var filter vector.Filter
	if states := cleanStates(stateFilter); len(states) > 0 {
		filter = vector.Filter{vector.MetaStateName: states}
	}

	matches, err := s.vectors.Query(ctx, vec, topK*overfetch, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: query index: %w", ErrSearchFailed, err)
	}

	kept := make([]vector.Match, 0, len(matches))
	for _, m := range matches {
		if m.Score >= cfg.SimilarityThreshold {
			kept = append(kept, m)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if len(kept) > topK {
		kept = kept[:topK]
	}

	results := make([]SearchResult, 0, len(kept))
	for _, m := range kept {
		results = append(results, normalize(m))
	}
	return results, nil
}

// RAGQuery answers query from the best matching chunks. With no matches the
// generator is not called and a scripted zero-confidence response is returned.
func (s *Service) RAGQuery(ctx context.Context, query string, stateFilter []string, history []generation.Message) (*RAGResponse, error) {
	start := time.Now()

	results, err := s.search(ctx, query, stateFilter, 0)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		resp := &RAGResponse{
			Answer:           noResultsAnswer,
			Confidence:       0,
			Citations:        []Citation{},
			SuggestedQueries: suggestedQueries,
		}
		s.log(ctx, "ask", query, stateFilter, results, &resp.Confidence, time.Since(start))
		return resp, nil
	}

	s.hydrate(ctx, results)

	answer, err := s.answerer.Answer(ctx, query, BuildContext(results), generation.TruncateHistory(history, generation.MaxHistoryTurns))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnswerFailed, err)
	}

	resp := &RAGResponse{
		Answer:     answer,
		Confidence: Confidence(results),
		Citations:  citations(results),
	}
	s.log(ctx, "ask", query, stateFilter, results, &resp.Confidence, time.Since(start))
	return resp, nil
}

// hydrate replaces index previews with full chunk content. Misses keep the
// preview.
func (s *Service) hydrate(ctx context.Context, results []SearchResult) {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}

	chunks, err := s.chunks.GetChunksByIDs(ctx, ids)
	if err != nil {
		slog.WarnContext(ctx, "chunk hydration failed, using index previews", "error", err, "count", len(ids))
		return
	}
	for i := range results {
		if c, ok := chunks[results[i].ID]; ok && c.Content != "" {
			results[i].Content = c.Content
		}
	}
}

func BuildContext(results []SearchResult) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("[%d] From %s (Page %d): %s", i+1, r.StateName, r.PageNumber, r.Content)
	}
	return strings.Join(blocks, "\n\n")
}

// Confidence rescales the mean similarity by 1.2, capped at 1.
func Confidence(results []SearchResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Similarity
	}
	return math.Min(sum/float64(len(results))*confidenceBoost, 1.0)
}

func citations(results []SearchResult) []Citation {
	out := make([]Citation, len(results))
	for i, r := range results {
		out[i] = Citation{
			Number:      i + 1,
			PolicyID:    r.PolicyID,
			StateName:   r.StateName,
			PolicyTitle: r.PolicyTitle,
			PageNumber:  r.PageNumber,
			ChunkIndex:  r.ChunkIndex,
			Similarity:  r.Similarity,
			Excerpt:     Excerpt(r.Content, 300),
		}
	}
	return out
}

// Excerpt cuts s to n runes, marking the cut with "...".
func Excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func (s *Service) log(ctx context.Context, kind, query string, stateFilter []string, results []SearchResult, confidence *float64, d time.Duration) {
	if s.logger == nil {
		return
	}
	var top float64
	if len(results) > 0 {
		top = results[0].Similarity
	}
	s.logger.Log(QueryLogEntry{
		Kind:          kind,
		Query:         query,
		StateFilter:   stateFilter,
		NumResults:    len(results),
		TopScore:      top,
		Confidence:    confidence,
		Duration:      d,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
}

func cleanStates(states []string) []string {
	out := make([]string, 0, len(states))
	for _, s := range states {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func normalize(m vector.Match) SearchResult {
	meta := m.Metadata
	return SearchResult{
		ID:          m.ID,
		PolicyID:    stringField(meta, vector.MetaPolicyID, ""),
		StateID:     stringField(meta, vector.MetaStateID, ""),
		StateName:   stringField(meta, vector.MetaStateName, unknownState),
		PolicyTitle: stringField(meta, vector.MetaPolicyTitle, unknownTitle),
		PageNumber:  intField(meta, vector.MetaPageNumber, 1),
		ChunkIndex:  intField(meta, vector.MetaChunkIndex, 0),
		Content:     stringField(meta, vector.MetaContent, ""),
		Similarity:  m.Score,
	}
}

func stringField(meta map[string]any, key, def string) string {
	v, ok := meta[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func intField(meta map[string]any, key string, def int) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float32:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return int(f)
		}
	}
	return def
}
