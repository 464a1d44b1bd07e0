package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEmbedTestClient(t *testing.T, requests *[]embeddingRequest) *GeminiClient {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*requests = append(*requests, req)
		json.NewEncoder(w).Encode(map[string]any{
			"embedding": map[string]any{"values": []float64{3, 4}},
		})
	}))
	t.Cleanup(server.Close)

	t.Setenv("GEMINI_API_KEY", "test-key")
	client := NewGeminiClient(nil)
	client.embedBaseURL = server.URL
	return client
}

func TestEmbedQueryUsesQueryTaskType(t *testing.T) {
	var requests []embeddingRequest
	client := newEmbedTestClient(t, &requests)

	vector, err := client.EmbedQuery(context.Background(), "service level commitments")
	require.NoError(t, err)

	require.Len(t, requests, 1)
	assert.Equal(t, "RETRIEVAL_QUERY", requests[0].TaskType)
	assert.Equal(t, "models/gemini-embedding-001", requests[0].Model)
	assert.Equal(t, 768, requests[0].OutputDimensionality)

	// L2 normalization: (3,4) becomes (0.6, 0.8).
	require.Len(t, vector, 2)
	assert.InDelta(t, 0.6, vector[0], 1e-9)
	assert.InDelta(t, 0.8, vector[1], 1e-9)
}

func TestEmbedDocumentUsesDocumentTaskType(t *testing.T) {
	var requests []embeddingRequest
	client := newEmbedTestClient(t, &requests)

	_, err := client.EmbedDocument(context.Background(), "[SECTION: Service Levels] uptime clause")
	require.NoError(t, err)

	require.Len(t, requests, 1)
	assert.Equal(t, "RETRIEVAL_DOCUMENT", requests[0].TaskType)
	assert.Equal(t, 768, requests[0].OutputDimensionality)
}
