// Package cost computes USD costs for the external services the pipeline
// consumes. The orchestrator sums these against the run budget.
package cost

// ModelRate holds per-model token pricing in USD per million tokens.
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// BrowserRate holds flat per-operation pricing for the headless-browser
// extraction service.
type BrowserRate struct {
	PerRender     float64 `yaml:"per_render" mapstructure:"per_render"`
	PerScreenshot float64 `yaml:"per_screenshot" mapstructure:"per_screenshot"`
	PerAgentStep  float64 `yaml:"per_agent_step" mapstructure:"per_agent_step"`
}

// Rates holds per-provider pricing configuration.
type Rates struct {
	Models         map[string]ModelRate `yaml:"models" mapstructure:"models"`
	PlacesPerQuery float64              `yaml:"places_per_query" mapstructure:"places_per_query"`
	Browser        BrowserRate          `yaml:"browser" mapstructure:"browser"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// LLM computes the cost of a model call from token counts. Unknown models
// cost 0.
func (c *Calculator) LLM(model string, inputTokens, outputTokens int) float64 {
	rate, ok := c.rates.Models[model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)/1e6)*rate.Input + (float64(outputTokens)/1e6)*rate.Output
}

// PlacesQuery returns the flat cost of one Places text search.
func (c *Calculator) PlacesQuery() float64 {
	return c.rates.PlacesPerQuery
}

// BrowserRender returns the cost of one page render.
func (c *Calculator) BrowserRender() float64 {
	return c.rates.Browser.PerRender
}

// BrowserScreenshot returns the cost of one screenshot capture.
func (c *Calculator) BrowserScreenshot() float64 {
	return c.rates.Browser.PerScreenshot
}

// AgentSteps returns the cost of n browser-agent steps.
func (c *Calculator) AgentSteps(n int) float64 {
	return float64(n) * c.rates.Browser.PerAgentStep
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			"gemini-2.0-flash":           {Input: 0.10, Output: 0.40},
			"gemini-2.5-pro":             {Input: 1.25, Output: 10.00},
			"gpt-4o-mini":                {Input: 0.15, Output: 0.60},
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
		PlacesPerQuery: 0.017,
		Browser: BrowserRate{
			PerRender:     0.002,
			PerScreenshot: 0.001,
			PerAgentStep:  0.05,
		},
	}
}
