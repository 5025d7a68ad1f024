package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLLM_KnownModel(t *testing.T) {
	c := NewCalculator(DefaultRates())
	// 1M input at $0.10 + 0.5M output at $0.40
	assert.InDelta(t, 0.10+0.20, c.LLM("gemini-2.0-flash", 1_000_000, 500_000), 1e-9)
}

func TestLLM_UnknownModelIsFree(t *testing.T) {
	c := NewCalculator(DefaultRates())
	assert.Equal(t, 0.0, c.LLM("mystery-model", 1_000_000, 1_000_000))
}

func TestFlatRates(t *testing.T) {
	c := NewCalculator(Rates{
		PlacesPerQuery: 0.02,
		Browser:        BrowserRate{PerRender: 0.003, PerScreenshot: 0.001, PerAgentStep: 0.05},
	})
	assert.InDelta(t, 0.02, c.PlacesQuery(), 1e-9)
	assert.InDelta(t, 0.003, c.BrowserRender(), 1e-9)
	assert.InDelta(t, 0.001, c.BrowserScreenshot(), 1e-9)
	assert.InDelta(t, 0.25, c.AgentSteps(5), 1e-9)
}
