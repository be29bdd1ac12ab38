package weaviate_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	adapter "policyrag/internal/adapter/weaviate"
	"policyrag/internal/vector"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

func mockWeaviate(t *testing.T, handler http.HandlerFunc) *weaviate.Client {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		handler(w, r)
	}))
	t.Cleanup(ts.Close)

	client, err := weaviate.NewClient(weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"})
	require.NoError(t, err)
	return client
}

func graphqlQuery(t *testing.T, r *http.Request) string {
	var body map[string]interface{}
	raw, _ := io.ReadAll(r.Body)
	require.NoError(t, json.Unmarshal(raw, &body))
	return body["query"].(string)
}

func TestStore_Upsert(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/batch/objects", r.URL.Path)
		assert.Equal(t, "POST", r.Method)

		var body struct {
			Objects []struct {
				Class      string                 `json:"class"`
				ID         string                 `json:"id"`
				Properties map[string]interface{} `json:"properties"`
				Vector     []float32              `json:"vector"`
			} `json:"objects"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Objects, 1)
		obj := body.Objects[0]
		assert.Equal(t, "PolicyChunk", obj.Class)
		assert.Equal(t, string(adapter.ObjectID("p1-chunk-0")), obj.ID)
		assert.Equal(t, "p1-chunk-0", obj.Properties["entryKey"])
		assert.Equal(t, "Texas", obj.Properties["stateName"])
		assert.Equal(t, []float32{0.1, 0.2}, obj.Vector)

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]map[string]interface{}{{"id": obj.ID, "result": map[string]interface{}{}}})
	})

	store := adapter.NewStore(client)
	err := store.Upsert(context.Background(), []vector.Entry{{
		ID:       "p1-chunk-0",
		Values:   []float32{0.1, 0.2},
		Metadata: map[string]any{"stateName": "Texas", "policyId": "p1"},
	}})
	assert.NoError(t, err)
}

func TestStore_UpsertReportsObjectErrors(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[{"result":{"errors":{"error":[{"message":"vector lengths don't match"}]}}}]`))
	})

	store := adapter.NewStore(client)
	err := store.Upsert(context.Background(), []vector.Entry{{ID: "p1-chunk-0", Values: []float32{1}}})
	assert.ErrorContains(t, err, "vector lengths don't match")
}

func TestObjectID_IsDeterministic(t *testing.T) {
	assert.Equal(t, adapter.ObjectID("p1-chunk-0"), adapter.ObjectID("p1-chunk-0"))
	assert.NotEqual(t, adapter.ObjectID("p1-chunk-0"), adapter.ObjectID("p1-chunk-1"))
}

func TestStore_Query(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		query := graphqlQuery(t, r)
		assert.Contains(t, query, "nearVector")
		assert.Contains(t, query, "stateName")
		assert.Contains(t, query, "ContainsAny")
		assert.Contains(t, query, "valueText")
		assert.Contains(t, query, "New York")
		assert.NotContains(t, query, "valueString")
		assert.Contains(t, query, "limit: 4")

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"Get": map[string]interface{}{
					"PolicyChunk": []interface{}{
						map[string]interface{}{
							"entryKey":    "p1-chunk-0",
							"policyId":    "p1",
							"stateName":   "Texas",
							"pageNumber":  3.0,
							"chunkIndex":  0.0,
							"content":     "coverage text",
							"_additional": map[string]interface{}{"distance": 0.25},
						},
					},
				},
			},
		})
	})

	store := adapter.NewStore(client)
	matches, err := store.Query(context.Background(), []float32{0.1, 0.2}, 4, vector.Filter{"stateName": {"Texas", "New York"}})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "p1-chunk-0", matches[0].ID)
	assert.InDelta(t, 0.75, matches[0].Score, 1e-9)
	assert.Equal(t, "Texas", matches[0].Metadata["stateName"])
	assert.Equal(t, 3.0, matches[0].Metadata["pageNumber"])
	assert.NotContains(t, matches[0].Metadata, "entryKey")
}

func TestStore_QueryZeroVectorIsFilterScan(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		query := graphqlQuery(t, r)
		assert.NotContains(t, query, "nearVector")
		assert.Contains(t, query, "policyId")
		assert.Contains(t, query, "Equal")

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"Get": map[string]interface{}{"PolicyChunk": []interface{}{
				map[string]interface{}{"entryKey": "p1-chunk-0"},
				map[string]interface{}{"entryKey": "p1-chunk-1"},
			}}},
		})
	})

	store := adapter.NewStore(client)
	matches, err := store.Query(context.Background(), make([]float32, 3), 100, vector.Filter{"policyId": {"p1"}})
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestStore_QueryGraphQLError(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"errors":[{"message":"no such class"}]}`))
	})

	store := adapter.NewStore(client)
	_, err := store.Query(context.Background(), []float32{1}, 1, nil)
	assert.ErrorContains(t, err, "no such class")
}

func TestStore_Delete(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/batch/objects", r.URL.Path)
		assert.Equal(t, "DELETE", r.Method)
		raw, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(raw), "entryKey")
		assert.Contains(t, string(raw), "p1-chunk-1")

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"results":{"matches":2,"successful":2,"failed":0}}`))
	})

	store := adapter.NewStore(client)
	err := store.Delete(context.Background(), []string{"p1-chunk-0", "p1-chunk-1"})
	assert.NoError(t, err)
}

func TestStore_DeleteReportsFailures(t *testing.T) {
	client := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"results":{"matches":2,"successful":1,"failed":1}}`))
	})

	store := adapter.NewStore(client)
	err := store.Delete(context.Background(), []string{"a", "b"})
	assert.ErrorContains(t, err, "1 of 2")
}
