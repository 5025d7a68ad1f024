package adapter

import (
	"context"
	"errors"

	"github.com/tableiq/research-cli/pkg/anthropic"
	"github.com/tableiq/research-cli/pkg/browser"
	"github.com/tableiq/research-cli/pkg/gemini"
	"github.com/tableiq/research-cli/pkg/places"
)

type fakePlacesClient struct {
	resp    *places.TextSearchResponse
	err     error
	queries []string
}

func (f *fakePlacesClient) TextSearch(_ context.Context, query string) (*places.TextSearchResponse, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

// fakeBrowser serves canned HTML per URL and records what was rendered.
type fakeBrowser struct {
	html        map[string]string
	rendered    []string
	screenshots []string
	renderErr   error

	sessionStates []browser.PageState
	actions       []browser.Action
	sessionClosed bool
}

func (f *fakeBrowser) Render(_ context.Context, req *browser.RenderRequest) (*browser.RenderResponse, error) {
	f.rendered = append(f.rendered, req.URL)
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	html, ok := f.html[req.URL]
	if !ok {
		return nil, errors.New("not found")
	}
	return &browser.RenderResponse{HTML: html, FinalURL: req.URL, Status: 200}, nil
}

func (f *fakeBrowser) Screenshot(_ context.Context, req *browser.ScreenshotRequest) (*browser.ScreenshotResponse, error) {
	f.screenshots = append(f.screenshots, req.URL)
	return &browser.ScreenshotResponse{Data: "aGVsbG8=", MIMEType: "image/png", FinalURL: req.URL}, nil
}

func (f *fakeBrowser) StartSession(_ context.Context, url string) (*browser.Session, error) {
	if len(f.sessionStates) == 0 {
		return nil, errors.New("no session states configured")
	}
	state := f.sessionStates[0]
	f.sessionStates = f.sessionStates[1:]
	return &browser.Session{ID: "s1", State: state}, nil
}

func (f *fakeBrowser) Perform(_ context.Context, _ string, action browser.Action) (*browser.PageState, error) {
	f.actions = append(f.actions, action)
	if len(f.sessionStates) == 0 {
		return nil, errors.New("no more session states")
	}
	state := f.sessionStates[0]
	f.sessionStates = f.sessionStates[1:]
	return &state, nil
}

func (f *fakeBrowser) CloseSession(_ context.Context, _ string) error {
	f.sessionClosed = true
	return nil
}

type fakeGeminiClient struct {
	responses []string
	err       error
	requests  []*gemini.GenerateRequest
}

func (f *fakeGeminiClient) GenerateContent(_ context.Context, req *gemini.GenerateRequest) (*gemini.GenerateResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return &gemini.GenerateResponse{
		Text:  resp,
		Usage: gemini.Usage{InputTokens: 1500, OutputTokens: 100},
	}, nil
}

type fakeAnthropicClient struct {
	replies  []string
	err      error
	requests []anthropic.MessageRequest
}

func (f *fakeAnthropicClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return &anthropic.MessageResponse{
		Content:    []anthropic.ContentBlock{{Type: "text", Text: reply}},
		StopReason: "end_turn",
		Usage:      anthropic.TokenUsage{InputTokens: 2000, OutputTokens: 80},
	}, nil
}
