package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultEmbeddingModel = "text-embedding-004"

type DynamicEmbedder struct {
	clients *clientCache
	model   string
}

func NewDynamicEmbedder(src SettingsSource, model string, opts ...option.ClientOption) *DynamicEmbedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &DynamicEmbedder{
		clients: &clientCache{settings: src, clientOpts: opts},
		model:   model,
	}
}

func (e *DynamicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	client, err := e.clients.get(ctx)
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	res, err := client.EmbeddingModel(e.model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding received")
	}
	return res.Embedding.Values, nil
}

func (e *DynamicEmbedder) Close() error {
	return e.clients.Close()
}
