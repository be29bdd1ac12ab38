package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"policyrag/features/policy"
	"policyrag/internal/settings"
)

const (
	MaxFactContextChars = 12000
	DefaultConfidence   = 0.5

	factTemperature = 0.1
	factMaxTokens   = 4096
)

const factSystemPrompt = `You extract structured facts from insurance and benefits policy documents.
Respond with a single JSON object and nothing else, in exactly this shape:
{"facts": [{"category": "string", "field": "string", "value": "string", "confidence": 0.0, "page": 1}]}
- category groups related facts, e.g. "eligibility", "coverage", "limits", "deadlines", "contacts".
- field names the specific fact, value holds it verbatim or closely paraphrased.
- confidence is between 0 and 1.
- page is the number from the nearest preceding [Page N] marker.
Only include facts stated in the text.`

type FactStore interface {
	Get(ctx context.Context, id string) (*policy.Policy, error)
	ListChunks(ctx context.Context, policyID string) ([]policy.PolicyChunk, error)
	CreateFacts(ctx context.Context, policyID string, facts []policy.PolicyFact, replace bool) error
}

type SettingsSource interface {
	Effective(ctx context.Context) settings.Settings
}

type FactExtractor struct {
	store    FactStore
	gen      Generator
	settings SettingsSource
}

func NewFactExtractor(store FactStore, gen Generator, settings SettingsSource) *FactExtractor {
	return &FactExtractor{store: store, gen: gen, settings: settings}
}

// Extract runs one generation call over the policy's chunk text and persists
// the parsed facts. Unparsable model output yields zero facts and no error.
func (f *FactExtractor) Extract(ctx context.Context, policyID string) (int, error) {
	p, err := f.store.Get(ctx, policyID)
	if err != nil {
		return 0, err
	}

	chunks, err := f.store.ListChunks(ctx, policyID)
	if err != nil {
		return 0, fmt.Errorf("list chunks: %w", err)
	}
	if len(chunks) == 0 {
		slog.InfoContext(ctx, "no chunks to extract facts from")
		return 0, nil
	}

	doc := BuildFactContext(chunks, MaxFactContextChars)
	out, err := f.gen.Complete(ctx, []Message{
		{Role: RoleSystem, Content: factSystemPrompt},
		{Role: RoleUser, Content: fmt.Sprintf("Policy: %s (%s)\n\n%s", p.Title, p.StateName, doc)},
	}, CompletionOptions{Temperature: factTemperature, MaxTokens: factMaxTokens})
	if err != nil {
		return 0, fmt.Errorf("generate facts: %w", err)
	}

	facts, err := ParseFacts(out)
	if err != nil {
		slog.WarnContext(ctx, "discarding fact extraction output", "error", err, "output_len", len(out))
		return 0, nil
	}
	for i := range facts {
		facts[i].PolicyID = p.ID
		facts[i].StateID = p.StateID
	}
	if len(facts) == 0 {
		return 0, nil
	}

	replace := f.settings.Effective(ctx).FactPolicy == settings.FactPolicyReplace
	if err := f.store.CreateFacts(ctx, policyID, facts, replace); err != nil {
		return 0, fmt.Errorf("store facts: %w", err)
	}
	slog.InfoContext(ctx, "facts extracted", "count", len(facts), "replace", replace)
	return len(facts), nil
}

// BuildFactContext joins chunks in chunk order, each prefixed with its page
// marker, and cuts the result to at most limit runes.
func BuildFactContext(chunks []policy.PolicyChunk, limit int) string {
	var sb strings.Builder
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[Page %d]\n%s", c.PageNumber, c.Content)
	}
	return truncateRunes(sb.String(), limit)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

type rawFact struct {
	Category   string          `json:"category"`
	Field      string          `json:"field"`
	Value      json.RawMessage `json:"value"`
	Confidence *float64        `json:"confidence"`
	Page       json.RawMessage `json:"page"`
}

// ParseFacts reads the first balanced top-level JSON object in out.
func ParseFacts(out string) ([]policy.PolicyFact, error) {
	span, ok := extractJSONObject(out)
	if !ok {
		return nil, fmt.Errorf("%w: no json object found", ErrMalformedOutput)
	}

	var payload struct {
		Facts []rawFact `json:"facts"`
	}
	if err := json.Unmarshal([]byte(span), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	facts := make([]policy.PolicyFact, 0, len(payload.Facts))
	for _, rf := range payload.Facts {
		field := strings.TrimSpace(rf.Field)
		value := stringify(rf.Value)
		if field == "" || value == "" {
			continue
		}
		confidence := DefaultConfidence
		if rf.Confidence != nil {
			confidence = clamp(*rf.Confidence, 0, 1)
		}
		facts = append(facts, policy.PolicyFact{
			Category:   strings.TrimSpace(rf.Category),
			Field:      field,
			Value:      value,
			Confidence: confidence,
			PageNumber: parsePage(rf.Page),
		})
	}
	return facts, nil
}

func stringify(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(string(raw))
	}
}

func parsePage(raw json.RawMessage) *int {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	var n int
	switch t := v.(type) {
	case float64:
		n = int(t)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	if n <= 0 {
		return nil
	}
	return &n
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// extractJSONObject returns the first balanced {...} span, skipping braces
// inside JSON strings.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
