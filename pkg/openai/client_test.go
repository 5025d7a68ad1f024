package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatCompletion_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "user", body.Messages[1].Role)

		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"content":"{\"street\":\"12 Mott St\"}"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":80,"completion_tokens":12}
		}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := c.ChatCompletion(context.Background(), &ChatRequest{
		Model:  "gpt-4o-mini",
		System: "You normalize postal addresses.",
		User:   "12 mott st nyc",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"street":"12 Mott St"}`, resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 80, resp.Usage.InputTokens)
	assert.Equal(t, 12, resp.Usage.OutputTokens)
}

func TestChatCompletion_NoSystemMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "user", body.Messages[0].Role)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}],"usage":{}}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.ChatCompletion(context.Background(), &ChatRequest{Model: "gpt-4o-mini", User: "hi"})
	require.NoError(t, err)
}

func TestChatCompletion_Validation(t *testing.T) {
	c := NewClient("test-key")

	_, err := c.ChatCompletion(context.Background(), &ChatRequest{User: "x"})
	assert.ErrorContains(t, err, "model is required")

	_, err = c.ChatCompletion(context.Background(), &ChatRequest{Model: "gpt-4o-mini"})
	assert.ErrorContains(t, err, "user message is required")
}

func TestChatCompletion_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid api key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient("bad-key", WithBaseURL(srv.URL))
	_, err := c.ChatCompletion(context.Background(), &ChatRequest{Model: "gpt-4o-mini", User: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
