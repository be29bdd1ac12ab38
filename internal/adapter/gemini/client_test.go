package gemini_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"policyrag/internal/adapter/gemini"
	"policyrag/internal/generation"
	"policyrag/internal/settings"
)

type keySource struct {
	key string
}

func (k *keySource) Effective(ctx context.Context) settings.Settings {
	return settings.Settings{GeminiAPIKey: k.key}
}

func TestDynamicEmbedder_Embed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.Path, "text-embedding-004"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": map[string]interface{}{
				"values": []float32{0.1, 0.2, 0.3},
			},
		})
	}))
	defer ts.Close()

	src := &keySource{key: "test-key"}
	embedder := gemini.NewDynamicEmbedder(src, "", option.WithEndpoint(ts.URL))
	defer embedder.Close()

	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		vec, err := embedder.Embed(ctx, "hello world")
		assert.NoError(t, err)
		if assert.Len(t, vec, 3) {
			assert.Equal(t, float32(0.1), vec[0])
		}
	})

	t.Run("Missing API Key", func(t *testing.T) {
		src.key = ""
		defer func() { src.key = "test-key" }()

		vec, err := embedder.Embed(ctx, "hello")
		assert.ErrorIs(t, err, gemini.ErrNoAPIKey)
		assert.Contains(t, err.Error(), "gemini api key not configured")
		assert.Nil(t, vec)
	})
}

func TestGenerator_Complete(t *testing.T) {
	var captured map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.Path, "gemini-1.5-flash"), r.URL.Path)
		json.NewDecoder(r.Body).Decode(&captured)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{
					"content": map[string]interface{}{
						"role":  "model",
						"parts": []map[string]interface{}{{"text": "Thirty days "}, {"text": "[1]."}},
					},
				},
			},
		})
	}))
	defer ts.Close()

	gen := gemini.NewGenerator(&keySource{key: "test-key"}, "", option.WithEndpoint(ts.URL))
	defer gen.Close()

	out, err := gen.Complete(context.Background(), []generation.Message{
		{Role: generation.RoleSystem, Content: "context only"},
		{Role: generation.RoleUser, Content: "hi"},
		{Role: generation.RoleAssistant, Content: "hello"},
		{Role: generation.RoleUser, Content: "deadline?"},
	}, generation.CompletionOptions{Temperature: 0.2, MaxTokens: 1024})
	require.NoError(t, err)
	assert.Equal(t, "Thirty days [1].", out)

	require.NotNil(t, captured)
	contents, ok := captured["contents"].([]interface{})
	require.True(t, ok)
	assert.Len(t, contents, 3)
	assert.Contains(t, captured, "systemInstruction")
}

func TestGenerator_Complete_NoKey(t *testing.T) {
	gen := gemini.NewGenerator(&keySource{}, "")

	_, err := gen.Complete(context.Background(), []generation.Message{
		{Role: generation.RoleUser, Content: "hi"},
	}, generation.CompletionOptions{})
	assert.ErrorIs(t, err, gemini.ErrNoAPIKey)
}
