package ragie

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"docbrain/internal/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/documents", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer rg-key", r.Header.Get("Authorization"))
		assert.Equal(t, "user-1", r.FormValue("partition"))
		json.NewEncoder(w).Encode(providers.RetrievalDocument{ID: "doc-1", Name: r.FormValue("name"), Status: "pending"})
	})
	mux.HandleFunc("/documents/doc-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(providers.RetrievalDocument{ID: "doc-1", Status: "ready"})
	})
	mux.HandleFunc("/retrievals", func(w http.ResponseWriter, r *http.Request) {
		var req retrievalRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.Equal(t, "what is it?", req.Query)
		assert.Equal(t, "doc-1", req.Filter["document_id"])
		assert.Equal(t, 3, req.TopK)
		json.NewEncoder(w).Encode(map[string]any{
			"scored_chunks": []map[string]any{
				{"text": "passage one", "score": 0.9, "document_id": "doc-1"},
			},
		})
	})
	return httptest.NewServer(mux)
}

func TestClient_RegisterStatusRetrieve(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	ctx := context.Background()
	client := NewClient(Config{BaseURL: server.URL}, nil)

	doc, err := client.Register(ctx, "rg-key", "user-1", "notes.txt", strings.NewReader("content"))
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)
	assert.False(t, doc.Ready())

	doc, err = client.Status(ctx, "rg-key", "doc-1")
	require.NoError(t, err)
	assert.True(t, doc.Ready())

	passages, err := client.Retrieve(ctx, "rg-key", providers.RetrieveRequest{
		Query: "what is it?", Scope: "user-1", DocumentID: "doc-1", TopK: 3,
	})
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, "passage one", passages[0].Text)
	assert.InDelta(t, 0.9, passages[0].Score, 1e-9)
}

func TestClient_RetrieveRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"detail":"rate limited"}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, nil)
	_, err := client.Retrieve(context.Background(), "rg-key", providers.RetrieveRequest{Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}
