// Package app assembles the search and research services from configuration.
// The server and the CLI share it.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/cache"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/config"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/content"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/health"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/exa"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/regsearch"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/scrape"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/tavily"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/xai"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/query"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/research"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/sandbox"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/search"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/usage"
)

// App holds the wired services.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Markets      *config.Markets
	Limits       *ratecontrol.Registry
	Redis        *redis.Client
	Stream       *streaming.Manager
	Orchestrator *search.Orchestrator
	Fetcher      *content.Fetcher
	Agent        *research.Agent
	Usage        usage.Gate
	Health       *health.Manager

	usageStore *usage.Store
	breakers   map[string]*circuitbreaker.Breaker
}

// New builds every service. Optional collaborators (Redis, usage store, X
// search, sandbox, content fetch) are skipped when unconfigured.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Health:   health.NewManager(logger),
		Usage:    usage.Unlimited{},
		breakers: make(map[string]*circuitbreaker.Breaker),
	}

	markets, err := config.LoadMarkets(cfg.MarketsPath)
	if err != nil {
		return nil, err
	}
	a.Markets = markets

	if a.Limits, err = ratecontrol.LoadFile(cfg.RateLimitsPath, logger); err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := a.Redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("Redis unreachable; cache and stream replay will degrade", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		_ = a.Health.RegisterChecker(health.NewRedisChecker(a.Redis, false))
	}
	a.Stream = streaming.NewManager(a.Redis, cfg.Server.StreamCapacity, logger)

	if cfg.Usage.Enabled {
		store, err := usage.Open(ctx, cfg.Usage.Driver, cfg.Usage.DSN, usage.Limits{
			usage.ModeResearch: cfg.Usage.DailyResearchLimit,
			usage.ModeSearch:   cfg.Usage.DailySearchLimit,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.usageStore, a.Usage = store, store
		_ = a.Health.RegisterChecker(health.NewPingChecker("usage_db", store, true))
	}

	client, err := llm.NewOpenAI(llm.Config{
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Model,
		HTTPClient: a.httpClient("llm", cfg.LLM.Timeout),
		Limits:     a.Limits,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := a.buildSearch(client); err != nil {
		return nil, err
	}
	a.buildResearch(client)

	for name, b := range a.breakers {
		_ = a.Health.RegisterChecker(health.NewUpstreamChecker(name, b, ""))
	}
	return a, nil
}

func (a *App) buildSearch(client llm.Client) error {
	cfg := a.Config
	provider, err := search.ParseProvider(cfg.Search.Provider)
	if err != nil {
		return &config.ConfigError{Field: "search.provider", Reason: err.Error()}
	}

	var searchCache *cache.Cache
	if a.Redis != nil {
		searchCache = cache.New(a.Redis, cfg.Search.CacheTTL, a.Logger)
	}

	deps := search.Dependencies{
		Markets:      a.Markets,
		Facets:       query.DefaultFacets,
		SnippetLimit: cfg.Search.SnippetLimit,
		Logger:       a.Logger,
	}
	switch provider {
	case search.ProviderWeb:
		var web search.WebBackend = tavily.New(cfg.Providers.Tavily.BaseURL, cfg.Providers.Tavily.APIKey, a.providerOptions("tavily", cfg.Providers.Tavily))
		if searchCache != nil {
			web = searchCache.Web(web)
		}
		deps.Web = web
	case search.ProviderRegulatory:
		var reg search.RegulatoryBackend = regsearch.New(cfg.Providers.RegSearch.BaseURL, cfg.Providers.RegSearch.APIKey, a.providerOptions("regsearch", cfg.Providers.RegSearch))
		if searchCache != nil {
			reg = searchCache.Regulatory(reg)
		}
		deps.Regulatory = reg
		deps.Extractor = query.NewExtractor(client, cfg.LLM.ModelFor("extractor"), cfg.Prompts.Extractor, a.Logger)
		deps.Reformulator = query.NewReformulator(client, cfg.LLM.ModelFor("extractor"), cfg.Prompts.Reformulator, a.Logger)
	}

	strategy, err := search.NewStrategy(provider, deps)
	if err != nil {
		return err
	}
	a.Orchestrator = search.NewOrchestrator(strategy, cfg.Search.DefaultMaxResults, a.Logger)
	a.Logger.Info("Search strategy ready", zap.String("strategy", strategy.Name()))
	return nil
}

func (a *App) buildResearch(client llm.Client) {
	cfg := a.Config

	var primary content.Primary
	if cfg.Providers.Exa.APIKey != "" {
		primary = exa.New(cfg.Providers.Exa.BaseURL, cfg.Providers.Exa.APIKey, cfg.Search.ContentLimit, a.providerOptions("exa", cfg.Providers.Exa))
	}
	scraper := scrape.New(a.httpClient("scrape", 20*time.Second), a.Limits, a.Logger)
	a.Fetcher = content.New(primary, scraper, cfg.Search.ContentLimit, a.Logger)

	var x research.XSearcher
	var posts research.PostResolver
	if cfg.Providers.XAI.APIKey != "" {
		x = xai.New(cfg.Providers.XAI.BaseURL, cfg.Providers.XAI.APIKey, cfg.Providers.XAI.Model, a.providerOptions("xai", cfg.Providers.XAI))
		posts = xai.NewSyndicationResolver(cfg.Providers.Syndication.BaseURL, a.providerOptions("x-syndication", cfg.Providers.Syndication))
	}
	var sandboxes research.SandboxFactory
	if cfg.Providers.Sandbox.BaseURL != "" {
		sandboxes = research.SandboxesFrom(sandbox.New(cfg.Providers.Sandbox.BaseURL, cfg.Providers.Sandbox.APIKey, a.providerOptions("sandbox", cfg.Providers.Sandbox)))
	}

	tools := research.NewToolset(a.Orchestrator, a.Fetcher, x, posts, sandboxes, research.ToolsetConfig{
		SandboxSnapshot:   cfg.Research.SandboxSnapshot,
		AllowedLibraries:  cfg.Research.AllowedLibraries,
		XSearchWindowDays: cfg.Research.XSearchWindowDays,
	}, a.Logger)
	planner := research.NewPlanner(client, cfg.LLM.ModelFor("planner"), cfg.Prompts.Planner, a.Logger)
	a.Agent = research.NewAgent(planner, client, tools, research.AgentConfig{
		Model:          cfg.LLM.ModelFor("agent"),
		SystemPrompt:   cfg.Prompts.Agent,
		RetryAllowance: cfg.Research.RetryAllowance,
		ContentLimit:   cfg.Search.ContentLimit,
	}, a.Logger)
}

// httpClient returns a breaker-guarded client; the breaker is reported by health.
func (a *App) httpClient(name string, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	b, ok := a.breakers[name]
	if !ok {
		b = circuitbreaker.New(name, a.Config.CircuitBreaker, a.Logger)
		a.breakers[name] = b
	}
	return circuitbreaker.NewHTTPClient(b, timeout)
}

func (a *App) providerOptions(name string, ep config.Endpoint) providers.Options {
	return providers.Options{
		Timeout:    ep.Timeout,
		Limits:     a.Limits,
		Logger:     a.Logger,
		HTTPClient: a.httpClient(name, ep.Timeout),
	}
}

// Close releases connections.
func (a *App) Close() error {
	var firstErr error
	if a.usageStore != nil {
		if err := a.usageStore.Close(); err != nil {
			firstErr = fmt.Errorf("close usage store: %w", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close redis: %w", err)
		}
	}
	return firstErr
}
