package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tableiq/research-cli/internal/adapter"
	"github.com/tableiq/research-cli/internal/cleaner"
	"github.com/tableiq/research-cli/internal/cost"
	"github.com/tableiq/research-cli/internal/model"
	"github.com/tableiq/research-cli/internal/pipeline"
	"github.com/tableiq/research-cli/internal/registry"
	"github.com/tableiq/research-cli/internal/scorer"
	"github.com/tableiq/research-cli/internal/store"
	anthropicpkg "github.com/tableiq/research-cli/pkg/anthropic"
	"github.com/tableiq/research-cli/pkg/browser"
	"github.com/tableiq/research-cli/pkg/gemini"
	"github.com/tableiq/research-cli/pkg/openai"
	"github.com/tableiq/research-cli/pkg/places"
)

// pipelineEnv holds the initialized store, clients, and orchestrator
// needed by the extract/batch/serve commands.
type pipelineEnv struct {
	Store        store.Store
	Orchestrator *pipeline.Orchestrator
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the store and API clients, then builds the
// orchestrator. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reg := registry.Default()
	if cfg.Pipeline.RegistryPath != "" {
		reg, err = registry.Load(cfg.Pipeline.RegistryPath)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load field registry")
		}
		zap.L().Info("field registry loaded from file",
			zap.String("path", cfg.Pipeline.RegistryPath),
		)
	}

	calc := cost.NewCalculator(cost.DefaultRates())
	browserClient := browser.NewClient(browser.WithBaseURL(cfg.Browser.BaseURL))

	// Phase 1 adapters. Schema.org and sitemap need no credentials;
	// Places is skipped without a key.
	adapters := []adapter.Adapter{
		adapter.NewSchemaOrgAdapter(nil),
		adapter.NewSitemapAdapter(nil),
		adapter.NewDOMCrawlAdapter(browserClient, calc),
	}

	if cfg.Places.Key != "" {
		placesClient := places.NewClient(cfg.Places.Key, places.WithBaseURL(cfg.Places.BaseURL))
		adapters = append(adapters, adapter.NewPlacesAdapter(placesClient, calc))
	} else {
		zap.L().Debug("TABLEIQ_PLACES_KEY not set, Places adapter disabled")
	}

	var geminiClient gemini.Client
	if cfg.Gemini.Key != "" {
		geminiClient = gemini.NewClient(cfg.Gemini.Key, gemini.WithBaseURL(cfg.Gemini.BaseURL))
		adapters = append(adapters, adapter.NewVisionAdapter(geminiClient, browserClient, cfg.Gemini.VisionModel, calc))
	} else {
		zap.L().Debug("TABLEIQ_GEMINI_KEY not set, vision adapter disabled")
	}

	if cfg.Anthropic.Key != "" {
		llm := anthropicpkg.NewClient(cfg.Anthropic.Key)
		adapters = append(adapters, adapter.NewAgentAdapter(llm, browserClient, cfg.Anthropic.AgentModel, cfg.Agent.MaxSteps, calc))
	} else {
		zap.L().Debug("TABLEIQ_ANTHROPIC_KEY not set, agent adapter disabled")
	}

	var cl pipeline.Cleaner
	if !cfg.Pipeline.NoCleaner && geminiClient != nil {
		primary := cleaner.NewGeminiGenerator(geminiClient, cfg.Gemini.FlashModel)
		var fallback cleaner.Generator
		if cfg.OpenAI.Key != "" {
			fallback = cleaner.NewOpenAIGenerator(openai.NewClient(cfg.OpenAI.Key, openai.WithBaseURL(cfg.OpenAI.BaseURL)), cfg.OpenAI.Model)
		}
		cl = cleaner.New(primary, fallback, calc)
	}

	pcfg := pipeline.Config{
		Thresholds: map[model.Phase]float64{
			model.PhaseStructured: cfg.Pipeline.Phase1Threshold,
			model.PhaseDOMCrawl:   cfg.Pipeline.Phase2Threshold,
			model.PhaseVision:     cfg.Pipeline.Phase3Threshold,
		},
		MaxCostUSD:  cfg.Pipeline.MaxCostUSD,
		MaxDuration: time.Duration(cfg.Pipeline.MaxDurationSecs) * time.Second,
	}

	orch := pipeline.New(pcfg, scorer.New(reg), cl, st, adapters...)

	return &pipelineEnv{
		Store:        st,
		Orchestrator: orch,
	}, nil
}
