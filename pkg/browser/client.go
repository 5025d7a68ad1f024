// Package browser provides a client for the headless browser rendering
// service. It exposes stateless render and screenshot calls for crawling,
// and interactive sessions for agent-driven extraction.
//
// The service runs a small pool of browser contexts, so the client holds a
// weighted semaphore and never allows more than two in-flight page
// operations.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"

	"github.com/tableiq/research-cli/internal/resilience"
)

const defaultBaseURL = "http://localhost:9221"

// maxConcurrentPages caps in-flight page operations to match the
// rendering service's browser context pool.
const maxConcurrentPages = 2

// Client performs headless browser operations.
type Client interface {
	// Render loads a page and returns the post-JavaScript HTML.
	Render(ctx context.Context, req *RenderRequest) (*RenderResponse, error)
	// Screenshot loads a page and captures it as a base64-encoded PNG.
	Screenshot(ctx context.Context, req *ScreenshotRequest) (*ScreenshotResponse, error)
	// StartSession opens an interactive session at the given URL.
	StartSession(ctx context.Context, url string) (*Session, error)
	// Perform executes one action in an open session and returns the
	// resulting page state.
	Perform(ctx context.Context, sessionID string, action Action) (*PageState, error)
	// CloseSession releases the session's browser context.
	CloseSession(ctx context.Context, sessionID string) error
}

// RenderRequest asks for the rendered HTML of a page.
type RenderRequest struct {
	URL string `json:"url"`
	// WaitMS is extra settle time after load for late-hydrating pages.
	WaitMS int `json:"wait_ms,omitempty"`
}

// RenderResponse is the rendered page.
type RenderResponse struct {
	HTML     string `json:"html"`
	FinalURL string `json:"final_url"`
	Status   int    `json:"status"`
}

// ScreenshotRequest asks for a capture of a page.
type ScreenshotRequest struct {
	URL      string `json:"url"`
	FullPage bool   `json:"full_page"`
	WaitMS   int    `json:"wait_ms,omitempty"`
}

// ScreenshotResponse is the captured image.
type ScreenshotResponse struct {
	// Data is the base64-encoded PNG.
	Data     string `json:"data"`
	MIMEType string `json:"mime_type"`
	FinalURL string `json:"final_url"`
}

// Session is an open interactive browser session.
type Session struct {
	ID    string    `json:"session_id"`
	State PageState `json:"state"`
}

// ActionType is an interactive session action kind.
type ActionType string

const (
	ActionNavigate ActionType = "navigate"
	ActionClick    ActionType = "click"
	ActionInput    ActionType = "type"
	ActionScroll   ActionType = "scroll"
)

// Action is one step in an interactive session.
type Action struct {
	Type ActionType `json:"type"`
	// URL is the target for navigate actions.
	URL string `json:"url,omitempty"`
	// Selector identifies the element for click and type actions.
	Selector string `json:"selector,omitempty"`
	// Text is the input for type actions.
	Text string `json:"text,omitempty"`
}

// PageState is the observable state of a session page after an action.
type PageState struct {
	URL  string `json:"url"`
	// Text is the visible text content of the page.
	Text string `json:"text"`
	// Links are the clickable elements currently on the page, as
	// "selector: label" pairs the agent can act on.
	Links []PageLink `json:"links"`
	// Screenshot is a base64-encoded PNG of the viewport, when requested.
	Screenshot string `json:"screenshot,omitempty"`
}

// PageLink describes one clickable element on the page.
type PageLink struct {
	Selector string `json:"selector"`
	Label    string `json:"label"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default service URL.
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
	baseURL string
	http    *http.Client
	pages   *semaphore.Weighted
}

// NewClient creates a browser service client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 90 * time.Second,
		},
		pages: semaphore.NewWeighted(maxConcurrentPages),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Render(ctx context.Context, req *RenderRequest) (*RenderResponse, error) {
	if req.URL == "" {
		return nil, eris.New("browser: url is required")
	}
	if err := c.pages.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "browser: acquire page slot")
	}
	defer c.pages.Release(1)

	var resp RenderResponse
	if err := c.post(ctx, "/render", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) Screenshot(ctx context.Context, req *ScreenshotRequest) (*ScreenshotResponse, error) {
	if req.URL == "" {
		return nil, eris.New("browser: url is required")
	}
	if err := c.pages.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "browser: acquire page slot")
	}
	defer c.pages.Release(1)

	var resp ScreenshotResponse
	if err := c.post(ctx, "/screenshot", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) StartSession(ctx context.Context, url string) (*Session, error) {
	if url == "" {
		return nil, eris.New("browser: url is required")
	}
	// Sessions pin a browser context until closed, so the slot is held for
	// the session's lifetime by the caller, not here.
	if err := c.pages.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "browser: acquire page slot")
	}

	var sess Session
	if err := c.post(ctx, "/session", map[string]string{"url": url}, &sess); err != nil {
		c.pages.Release(1)
		return nil, err
	}
	return &sess, nil
}

func (c *httpClient) Perform(ctx context.Context, sessionID string, action Action) (*PageState, error) {
	if sessionID == "" {
		return nil, eris.New("browser: session id is required")
	}
	var state PageState
	if err := c.post(ctx, fmt.Sprintf("/session/%s/action", sessionID), action, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *httpClient) CloseSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return eris.New("browser: session id is required")
	}
	defer c.pages.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/session/"+sessionID, nil)
	if err != nil {
		return eris.Wrap(err, "browser: create request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "browser: send request")
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return eris.Errorf("browser: close session status %d", resp.StatusCode)
	}
	return nil
}

func (c *httpClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "browser: marshal request")
	}

	return resilience.Do(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return eris.Wrap(err, "browser: create request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return eris.Wrap(err, "browser: send request")
		}
		defer resp.Body.Close() //nolint:errcheck

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return eris.Wrap(err, "browser: read response")
		}

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("browser: unexpected status %d: %s", resp.StatusCode, string(respBody))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(err, resp.StatusCode)
			}
			return err
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return eris.Wrap(err, "browser: unmarshal response")
		}
		return nil
	})
}
