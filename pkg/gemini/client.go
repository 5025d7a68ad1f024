// Package gemini provides a client for the Google Gemini generateContent
// API, covering both plain text generation and image-grounded (vision)
// prompts.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/tableiq/research-cli/internal/resilience"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client performs Gemini generateContent operations.
type Client interface {
	GenerateContent(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// GenerateRequest is a single-turn generation request.
type GenerateRequest struct {
	Model       string
	Parts       []Part
	Temperature float64
	// MaxOutputTokens caps the completion length; zero uses the model default.
	MaxOutputTokens int
}

// Part is one piece of multimodal prompt content. Exactly one of Text or
// InlineData should be set.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inline_data,omitempty"`
}

// InlineData carries base64-encoded media, typically a screenshot.
type InlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// TextPart returns a text prompt part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// ImagePart returns an inline image part from base64-encoded data.
func ImagePart(mimeType, base64Data string) Part {
	return Part{InlineData: &InlineData{MIMEType: mimeType, Data: base64Data}}
}

// GenerateResponse is the model's reply plus token accounting.
type GenerateResponse struct {
	Text         string
	FinishReason string
	Usage        Usage
}

// Usage reports token counts for cost tracking.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Gemini API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 120 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(2), 4),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type apiRequest struct {
	Contents         []apiContent  `json:"contents"`
	GenerationConfig *apiGenConfig `json:"generationConfig,omitempty"`
}

type apiContent struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

type apiGenConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type apiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (c *httpClient) GenerateContent(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if req.Model == "" {
		return nil, eris.New("gemini: model is required")
	}
	if len(req.Parts) == 0 {
		return nil, eris.New("gemini: at least one part is required")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "gemini: rate limit wait")
	}

	body, err := json.Marshal(apiRequest{
		Contents: []apiContent{{Role: "user", Parts: req.Parts}},
		GenerationConfig: &apiGenConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxOutputTokens,
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "gemini: marshal request")
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, req.Model)

	return resilience.DoVal(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) (*GenerateResponse, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, eris.Wrap(err, "gemini: create request")
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.apiKey)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, eris.Wrap(err, "gemini: send request")
		}
		defer resp.Body.Close() //nolint:errcheck

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "gemini: read response")
		}

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("gemini: unexpected status %d: %s", resp.StatusCode, string(respBody))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}

		var result apiResponse
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, eris.Wrap(err, "gemini: unmarshal response")
		}
		if len(result.Candidates) == 0 {
			return nil, eris.New("gemini: response contains no candidates")
		}

		var text string
		for _, p := range result.Candidates[0].Content.Parts {
			text += p.Text
		}

		return &GenerateResponse{
			Text:         text,
			FinishReason: result.Candidates[0].FinishReason,
			Usage: Usage{
				InputTokens:  result.UsageMetadata.PromptTokenCount,
				OutputTokens: result.UsageMetadata.CandidatesTokenCount,
			},
		}, nil
	})
}
