package main

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"procura.dev/bid-workbench/internal/backend"
	"procura.dev/bid-workbench/internal/config"
	"procura.dev/bid-workbench/internal/core"
	"procura.dev/bid-workbench/internal/pdfdoc"
	"procura.dev/bid-workbench/internal/store"
)

// app is everything a command needs, built from the configuration.
type app struct {
	store     store.DocumentStore
	workbench *core.Workbench
	renderer  pdfdoc.Renderer
	locator   pdfdoc.Locator
	llm       *core.LLMService
}

func (a *app) Close() {
	if a.llm != nil {
		a.llm.Close()
	}
	if err := a.store.Close(); err != nil {
		zap.L().Warn("error closing store", zap.Error(err))
	}
}

func rosterFromConfig(partners []config.PartnerConfig) core.Roster {
	var r core.Roster
	for _, p := range partners {
		r.Partners = append(r.Partners, core.PartnerProfile{Name: p.Name, BaselinePages: p.BaselinePages})
	}
	if len(r.Partners) == 0 {
		return core.DefaultRoster()
	}
	return r
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	ds, err := store.Open(cfg.Store.Driver, cfg.Store.DatabaseURL, cfg.Store.DataDir)
	if err != nil {
		return nil, err
	}
	a := &app{store: ds, locator: pdfdoc.Locator{Template: cfg.Documents.Source}}

	client := backend.NewClient(cfg.Backend.BaseURL,
		backend.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}),
		backend.WithRateLimit(cfg.Backend.RequestsPerSecond),
		backend.WithRetries(cfg.Backend.RetryAttempts, 500*time.Millisecond),
	)

	router := &core.GenerationRouter{Backend: client}
	if cfg.LLM.GeminiAPIKey != "" {
		llm, err := core.NewLLMService(ctx, cfg.LLM.GeminiAPIKey, cfg.LLM.GeminiModel, cfg.LLM.Timeout)
		if err != nil {
			zap.L().Warn("direct Gemini client unavailable, generation goes through the backend", zap.Error(err))
		} else {
			a.llm = llm
			router.Direct = llm
		}
	}
	var generation core.GenerationAdapter = router
	if !cfg.LLM.IsConfigured() {
		zap.L().Warn("LLM provider is not configured; queries will search without extracting values",
			zap.String("provider", cfg.LLM.Provider))
		generation = nil
	}

	if cfg.Documents.Source != "" {
		text, err := pdfdoc.NewTextRenderer(cfg.Documents.CacheDir, nil)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.renderer = pdfdoc.NewCachedRenderer(text, cfg.Documents.CacheCapacity)
	}

	var pages func(string) core.PageSource
	if a.renderer != nil {
		pages = func(bidID string) core.PageSource {
			return pdfdoc.Source{Renderer: a.renderer, URL: a.locator.URLFor(bidID)}
		}
	}

	a.workbench = core.NewWorkbench(core.WorkbenchConfig{
		Store:      ds,
		Search:     client,
		Generation: generation,
		Bids:       client,
		Pages:      pages,
		Roster:     rosterFromConfig(cfg.Evaluation.Partners),
		LLM: core.LLMSettings{
			Provider:  cfg.LLM.Provider,
			APIKey:    cfg.LLM.APIKey(),
			MaxTokens: cfg.LLM.MaxTokens,
		},
		MaxResults: cfg.Evaluation.SearchResults,
	})
	return a, nil
}
