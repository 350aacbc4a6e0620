package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicClient_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "Здравствуйте!"}],
			"stop_reason": "end_turn",
			"stop_sequence": null,
			"usage": {"input_tokens": 10, "output_tokens": 3}
		}`))
	}))
	defer srv.Close()

	client := NewAnthropicClient("test-key", "claude-test", 256, 0.5,
		option.WithBaseURL(srv.URL),
		option.WithMaxRetries(0),
	)

	reply, err := client.Complete(context.Background(), testTurns())
	require.NoError(t, err)
	assert.Equal(t, "Здравствуйте!", reply)
	assert.Equal(t, "anthropic", client.Name())

	assert.Equal(t, "claude-test", body["model"])
	assert.Equal(t, float64(256), body["max_tokens"])

	system, ok := body["system"].([]any)
	require.True(t, ok)
	require.Len(t, system, 1)
	assert.Equal(t, "system", system[0].(map[string]any)["text"])

	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 3)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])
	assert.Equal(t, "assistant", messages[1].(map[string]any)["role"])
}

func TestAnthropicClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	client := NewAnthropicClient("test-key", "", 0, 0.7,
		option.WithBaseURL(srv.URL),
		option.WithMaxRetries(0),
	)

	_, err := client.Complete(context.Background(), testTurns())
	require.Error(t, err)

	apiErr, ok := IsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, KindRateLimit, Classify(err))
}

func TestNewAnthropicClient_Defaults(t *testing.T) {
	c := NewAnthropicClient("k", "", 0, 0.7)

	assert.Equal(t, DefaultAnthropicModel, c.model)
	assert.Equal(t, int64(DefaultAnthropicMaxTokens), c.maxTokens)
}
