package cleaner

import (
	"context"

	"github.com/tableiq/research-cli/pkg/gemini"
	"github.com/tableiq/research-cli/pkg/openai"
)

// Generation is one LLM completion plus its token accounting.
type Generation struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Generator abstracts the LLM behind the cleaning passes so the primary
// and fallback providers are interchangeable.
type Generator interface {
	Generate(ctx context.Context, system, user string) (*Generation, error)
	Model() string
}

type geminiGenerator struct {
	client gemini.Client
	model  string
}

// NewGeminiGenerator adapts a Gemini client to the Generator interface.
func NewGeminiGenerator(client gemini.Client, model string) Generator {
	return &geminiGenerator{client: client, model: model}
}

func (g *geminiGenerator) Model() string { return g.model }

func (g *geminiGenerator) Generate(ctx context.Context, system, user string) (*Generation, error) {
	prompt := user
	if system != "" {
		prompt = system + "\n\n" + user
	}
	resp, err := g.client.GenerateContent(ctx, &gemini.GenerateRequest{
		Model: g.model,
		Parts: []gemini.Part{gemini.TextPart(prompt)},
	})
	if err != nil {
		return nil, err
	}
	return &Generation{
		Text:         resp.Text,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

type openaiGenerator struct {
	client openai.Client
	model  string
}

// NewOpenAIGenerator adapts an OpenAI client to the Generator interface.
func NewOpenAIGenerator(client openai.Client, model string) Generator {
	return &openaiGenerator{client: client, model: model}
}

func (g *openaiGenerator) Model() string { return g.model }

func (g *openaiGenerator) Generate(ctx context.Context, system, user string) (*Generation, error) {
	resp, err := g.client.ChatCompletion(ctx, &openai.ChatRequest{
		Model:  g.model,
		System: system,
		User:   user,
	})
	if err != nil {
		return nil, err
	}
	return &Generation{
		Text:         resp.Text,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}
