package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"policyrag/internal/adapter/docling"
	"policyrag/internal/adapter/gemini"
	"policyrag/internal/adapter/openai"
	"policyrag/internal/config"
	"policyrag/internal/generation"
	"policyrag/internal/text"
	"policyrag/internal/worker"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Option overrides a provider that would otherwise be built from config.
type Option func(*providers)

type providers struct {
	embedder  Embedder
	generator generation.Generator
	extractor worker.Extractor
	closers   []io.Closer
}

func WithEmbedder(e Embedder) Option {
	return func(p *providers) { p.embedder = e }
}

func WithGenerator(g generation.Generator) Option {
	return func(p *providers) { p.generator = g }
}

func WithExtractor(x worker.Extractor) Option {
	return func(p *providers) { p.extractor = x }
}

func (p *providers) fill(cfg *config.Config, src gemini.SettingsSource) error {
	oa := openai.Config{
		BaseURL:        cfg.OpenAIBaseURL,
		APIKey:         cfg.OpenAIAPIKey,
		EmbeddingModel: cfg.OpenAIEmbeddingModel,
		ChatModel:      cfg.OpenAIChatModel,
	}

	if p.embedder == nil {
		switch cfg.EmbeddingProvider {
		case "openai":
			e, err := openai.NewEmbedder(oa)
			if err != nil {
				return fmt.Errorf("openai embedder: %w", err)
			}
			p.embedder = e
		default:
			e := gemini.NewDynamicEmbedder(src, cfg.GeminiEmbeddingModel)
			p.embedder = e
			p.closers = append(p.closers, e)
		}
	}

	if p.generator == nil {
		switch cfg.GenerationProvider {
		case "openai":
			g, err := openai.NewGenerator(oa)
			if err != nil {
				return fmt.Errorf("openai generator: %w", err)
			}
			p.generator = g
		default:
			g := gemini.NewGenerator(src, cfg.GeminiChatModel)
			p.generator = g
			p.closers = append(p.closers, g)
		}
	}

	if p.extractor == nil {
		switch cfg.Extractor {
		case "plain":
			p.extractor = text.NewPlainExtractor()
		default:
			p.extractor = docling.NewClient(cfg.DoclingURL, 2*time.Minute)
		}
	}
	return nil
}
