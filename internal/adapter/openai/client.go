// Package openai talks to any OpenAI-compatible endpoint (OpenAI, Ollama,
// vLLM, LM Studio) through langchaingo.
package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"policyrag/internal/generation"
)

type Config struct {
	BaseURL        string
	APIKey         string
	EmbeddingModel string
	ChatModel      string
}

func (c Config) token() string {
	// Local compatible servers accept any token.
	if c.APIKey == "" {
		return "none"
	}
	return c.APIKey
}

type Embedder struct {
	embedder embeddings.Embedder
	model    string
}

func NewEmbedder(cfg Config) (*Embedder, error) {
	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.token()),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}
	return &Embedder{embedder: embedder, model: cfg.EmbeddingModel}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty embedding received")
	}
	return vec, nil
}

type Generator struct {
	client llms.Model
}

func NewGenerator(cfg Config) (*Generator, error) {
	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.token()),
		openai.WithModel(cfg.ChatModel),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return &Generator{client: client}, nil
}

func (g *Generator) Complete(ctx context.Context, messages []generation.Message, opts generation.CompletionOptions) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.MessageContent{
			Role:  chatRole(m.Role),
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		})
	}

	callOpts := []llms.CallOption{llms.WithTemperature(float64(opts.Temperature))}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}

	resp, err := g.client.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.WarnContext(ctx, "no choices returned from model")
		return "", nil
	}
	return resp.Choices[0].Content, nil
}

func chatRole(r generation.Role) llms.ChatMessageType {
	switch r {
	case generation.RoleSystem:
		return llms.ChatMessageTypeSystem
	case generation.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
