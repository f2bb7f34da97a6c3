package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlens/voxlens/types"
)

func TestOpenAIProvider_Completion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var req openaiChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.NotEmpty(t, req.Messages)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "resp-1",
			"model": "gpt-4o-mini",
			"choices": [{"message": {"content": "Hello, how can I help?"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 6, "total_tokens": 18}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	resp, err := p.Completion(context.Background(), &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello, how can I help?", resp.Content)
	assert.Equal(t, 18, resp.Usage.TotalTokens)
	assert.Equal(t, "openai", resp.Provider)
}

func TestOpenAIProvider_ErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "rate limited"}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Completion(context.Background(), &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestOpenAIProvider_RequiresMessages(t *testing.T) {
	p := NewOpenAIProvider(DefaultOpenAIConfig())
	_, err := p.Completion(context.Background(), &ChatRequest{})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestOpenAIProvider_Supports(t *testing.T) {
	open := NewOpenAIProvider(OpenAIConfig{})
	assert.True(t, open.Supports("anything"))

	scoped := NewOpenAIProvider(OpenAIConfig{Models: []string{"gpt-4o"}})
	assert.True(t, scoped.Supports("gpt-4o"))
	assert.True(t, scoped.Supports(""))
	assert.False(t, scoped.Supports("gpt-3.5-turbo"))
}
