package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateContent_Text(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		contents := body["contents"].([]any)
		require.Len(t, contents, 1)

		_, _ = w.Write([]byte(`{
			"candidates":[{"content":{"parts":[{"text":"{\"name\":\"Luciano's\"}"}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":120,"candidatesTokenCount":18}
		}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := c.GenerateContent(context.Background(), &GenerateRequest{
		Model: "gemini-2.0-flash",
		Parts: []Part{TextPart("Extract the restaurant name.")},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Luciano's"}`, resp.Text)
	assert.Equal(t, "STOP", resp.FinishReason)
	assert.Equal(t, 120, resp.Usage.InputTokens)
	assert.Equal(t, 18, resp.Usage.OutputTokens)
}

func TestGenerateContent_ImagePartSerialized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Contents []struct {
				Parts []Part `json:"parts"`
			} `json:"contents"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Contents[0].Parts, 2)
		assert.Equal(t, "Read the menu from this screenshot.", body.Contents[0].Parts[0].Text)
		require.NotNil(t, body.Contents[0].Parts[1].InlineData)
		assert.Equal(t, "image/png", body.Contents[0].Parts[1].InlineData.MIMEType)

		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}],"usageMetadata":{}}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := c.GenerateContent(context.Background(), &GenerateRequest{
		Model: "gemini-2.5-pro",
		Parts: []Part{
			TextPart("Read the menu from this screenshot."),
			ImagePart("image/png", "aGVsbG8="),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

func TestGenerateContent_Validation(t *testing.T) {
	c := NewClient("test-key")

	_, err := c.GenerateContent(context.Background(), &GenerateRequest{Parts: []Part{TextPart("x")}})
	assert.ErrorContains(t, err, "model is required")

	_, err = c.GenerateContent(context.Background(), &GenerateRequest{Model: "gemini-2.0-flash"})
	assert.ErrorContains(t, err, "at least one part")
}

func TestGenerateContent_NoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[],"usageMetadata":{}}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.GenerateContent(context.Background(), &GenerateRequest{
		Model: "gemini-2.0-flash",
		Parts: []Part{TextPart("x")},
	})
	assert.ErrorContains(t, err, "no candidates")
}
