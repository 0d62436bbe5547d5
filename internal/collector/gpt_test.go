package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olexisomar/ai-visibility/internal/db"
)

func TestGPTClientCollect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "best project tools?", req.Messages[0].Content)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "Acme is a strong option."}},
			},
		})
	}))
	defer server.Close()

	client := NewGPTClient("test-key", WithGPTBaseURL(server.URL))

	resp, err := client.Collect(context.Background(), "best project tools?")
	require.NoError(t, err)
	assert.Equal(t, "Acme is a strong option.", resp.Answer)
	assert.Greater(t, resp.CostUSD, 0.0)
}

func TestGPTClientCollectAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "rate limited", "type": "rate_limit_error"},
		})
	}))
	defer server.Close()

	client := NewGPTClient("test-key", WithGPTBaseURL(server.URL))

	_, err := client.Collect(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestGPTClientCollectEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer server.Close()

	client := NewGPTClient("test-key", WithGPTBaseURL(server.URL))

	_, err := client.Collect(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestGPTClientName(t *testing.T) {
	assert.Equal(t, db.SourceGPT, NewGPTClient("key").Name())
}
