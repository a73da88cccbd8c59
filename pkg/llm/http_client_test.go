package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mepuka/recursive-llm-sub001/pkg/rlmerr"
)

func TestGenerateSendsRequestAndParsesResponse(t *testing.T) {
	var gotAuth string
	var gotBody wireRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		total := 7
		json.NewEncoder(w).Encode(wireResponse{Text: "hello", Usage: wireUsage{TotalTokens: &total}})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "secret-key")
	resp, err := client.Generate(context.Background(), Request{
		Model:    "gpt",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "gpt", gotBody.Model)
	assert.Equal(t, "hello", resp.Text)
	require.NotNil(t, resp.Usage.TotalTokens)
	assert.Equal(t, 7, *resp.Usage.TotalTokens)
}

func TestGenerateNonOKStatusReturnsModelCallError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{"message": "rate limited"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "")
	_, err := client.Generate(context.Background(), Request{Model: "gpt"})

	require.Error(t, err)
	var modelErr *rlmerr.ModelCallError
	require.ErrorAs(t, err, &modelErr)
	assert.True(t, modelErr.Retryable)
}

func TestGenerateMalformedResponseBodyReturnsNonRetryableError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "")
	_, err := client.Generate(context.Background(), Request{Model: "gpt"})

	require.Error(t, err)
	var modelErr *rlmerr.ModelCallError
	require.ErrorAs(t, err, &modelErr)
	assert.False(t, modelErr.Retryable)
}
