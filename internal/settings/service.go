package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var ErrInvalid = errors.New("invalid settings")

const (
	FactPolicyAppend  = "append"
	FactPolicyReplace = "replace"
)

// Settings are the per-deployment knobs stored in the single settings row.
// Zero values fall back to the process configuration.
type Settings struct {
	ID                  int     `json:"-"`
	GeminiAPIKey        string  `json:"gemini_api_key"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	OverfetchFactor     int     `json:"overfetch_factor"`
	DefaultTopK         int     `json:"default_top_k"`
	FactPolicy          string  `json:"fact_policy"`
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo     Repository
	defaults Settings
}

func NewService(repo Repository, defaults Settings) *Service {
	return &Service{repo: repo, defaults: defaults}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := set.validate(); err != nil {
		return err
	}
	if set.GeminiAPIKey == maskedKey {
		current, err := s.repo.Get(ctx)
		if err != nil {
			return err
		}
		set.GeminiAPIKey = current.GeminiAPIKey
	}
	return s.repo.Update(ctx, set)
}

// Effective merges the stored row over the configured defaults. A failing
// store is not fatal; the defaults are served instead.
func (s *Service) Effective(ctx context.Context) Settings {
	eff := s.defaults
	stored, err := s.repo.Get(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to load settings, using defaults", "error", err)
		return eff
	}
	if stored.GeminiAPIKey != "" {
		eff.GeminiAPIKey = stored.GeminiAPIKey
	}
	if stored.SimilarityThreshold > 0 && stored.SimilarityThreshold <= 1 {
		eff.SimilarityThreshold = stored.SimilarityThreshold
	}
	if stored.OverfetchFactor >= 1 {
		eff.OverfetchFactor = stored.OverfetchFactor
	}
	if stored.DefaultTopK >= 1 {
		eff.DefaultTopK = stored.DefaultTopK
	}
	if stored.FactPolicy == FactPolicyAppend || stored.FactPolicy == FactPolicyReplace {
		eff.FactPolicy = stored.FactPolicy
	}
	return eff
}

func (s *Settings) validate() error {
	if s.SimilarityThreshold <= 0 || s.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold must be in (0, 1]", ErrInvalid)
	}
	if s.OverfetchFactor < 1 {
		return fmt.Errorf("%w: overfetch_factor must be >= 1", ErrInvalid)
	}
	if s.DefaultTopK < 1 {
		return fmt.Errorf("%w: default_top_k must be >= 1", ErrInvalid)
	}
	if s.FactPolicy != FactPolicyAppend && s.FactPolicy != FactPolicyReplace {
		return fmt.Errorf("%w: fact_policy must be append or replace", ErrInvalid)
	}
	return nil
}
