package unstructured

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"docbrain/internal/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Partition(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, partitionPath, r.URL.Path)
		assert.Equal(t, "un-key", r.Header.Get(apiKeyHeader))

		file, header, err := r.FormFile("files")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "report.pdf", header.Filename)
		assert.Equal(t, "hello pdf", string(data))
		assert.Equal(t, "auto", r.FormValue("strategy"))

		json.NewEncoder(w).Encode([]providers.Element{
			{Type: "Title", ElementID: "e1", Text: "Report"},
			{Type: "NarrativeText", ElementID: "e2", Text: "Body text"},
		})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, nil)
	elements, err := client.Partition(context.Background(), "un-key", "report.pdf", strings.NewReader("hello pdf"))
	require.NoError(t, err)
	require.Len(t, elements, 2)
	assert.Equal(t, "Report\n\nBody text", providers.JoinText(elements))
}

func TestClient_PartitionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"API key is malformed"}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, nil)
	_, err := client.Partition(context.Background(), "bad", "a.txt", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is malformed")
}
