package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyrag/internal/adapter/openai"
	"policyrag/internal/generation"
)

func newFakeServer(t *testing.T) (*httptest.Server, *[]map[string]interface{}) {
	t.Helper()
	var requests []map[string]interface{}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		requests = append(requests, body)

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/embeddings":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"object": "list",
				"model":  body["model"],
				"data": []map[string]interface{}{
					{"object": "embedding", "index": 0, "embedding": []float32{0.5, 0.25}},
				},
			})
		case "/v1/chat/completions":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": 1,
				"model":   body["model"],
				"choices": []map[string]interface{}{
					{
						"index":         0,
						"finish_reason": "stop",
						"message":       map[string]interface{}{"role": "assistant", "content": "Answer [1]."},
					},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return ts, &requests
}

func TestEmbedder_Embed(t *testing.T) {
	ts, requests := newFakeServer(t)
	defer ts.Close()

	emb, err := openai.NewEmbedder(openai.Config{BaseURL: ts.URL + "/v1", EmbeddingModel: "nomic-embed-text"})
	require.NoError(t, err)

	vec, err := emb.Embed(context.Background(), "line one\nline two")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)

	require.Len(t, *requests, 1)
	assert.Equal(t, "nomic-embed-text", (*requests)[0]["model"])
}

func TestGenerator_Complete(t *testing.T) {
	ts, requests := newFakeServer(t)
	defer ts.Close()

	gen, err := openai.NewGenerator(openai.Config{BaseURL: ts.URL + "/v1", ChatModel: "llama3.1"})
	require.NoError(t, err)

	out, err := gen.Complete(context.Background(), []generation.Message{
		{Role: generation.RoleSystem, Content: "context only"},
		{Role: generation.RoleUser, Content: "hi"},
		{Role: generation.RoleAssistant, Content: "hello"},
		{Role: generation.RoleUser, Content: "deadline?"},
	}, generation.CompletionOptions{Temperature: 0.2, MaxTokens: 1024})
	require.NoError(t, err)
	assert.Equal(t, "Answer [1].", out)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, "llama3.1", req["model"])

	msgs, ok := req["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, msgs, 4)
	roles := make([]string, 0, len(msgs))
	for _, m := range msgs {
		roles = append(roles, m.(map[string]interface{})["role"].(string))
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
}
