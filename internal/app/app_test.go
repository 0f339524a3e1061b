package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/config"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/usage"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Search.Provider = "web"
	cfg.Search.SnippetLimit = 1000
	cfg.Search.ContentLimit = 3000
	cfg.Search.DefaultMaxResults = 5
	cfg.LLM.APIKey = "sk-test"
	cfg.LLM.Model = "gpt-test"
	cfg.Providers.Tavily.BaseURL = "http://127.0.0.1:1"
	cfg.Providers.Tavily.APIKey = "tvly"
	return cfg
}

func TestNewMinimal(t *testing.T) {
	a, err := New(context.Background(), testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Orchestrator)
	require.NotNil(t, a.Agent)
	assert.Equal(t, "web", a.Orchestrator.Strategy())
	assert.IsType(t, usage.Unlimited{}, a.Usage)
	assert.Nil(t, a.Redis)
	assert.ElementsMatch(t, []string{"llm", "scrape", "tavily"}, a.Health.Names())
}

func TestNewWithOptionalServices(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()
	cfg.Usage.Enabled = true
	cfg.Usage.Driver = "sqlite3"
	cfg.Usage.DSN = ":memory:"
	cfg.Usage.DailyResearchLimit = 2
	cfg.Providers.Exa.APIKey = "exa"
	cfg.Providers.XAI.APIKey = "xai"
	cfg.Providers.Sandbox.BaseURL = "http://127.0.0.1:1"

	a, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Redis)
	_, isStore := a.Usage.(*usage.Store)
	assert.True(t, isStore)
	assert.ElementsMatch(t, []string{
		"redis", "usage_db", "llm", "tavily", "scrape", "exa", "xai", "x-syndication", "sandbox",
	}, a.Health.Names())

	dec, err := a.Usage.Allow(context.Background(), "u1", usage.ModeResearch)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, 2, dec.Limit)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.Search.Provider = "gopher"
	_, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "search.provider", cfgErr.Field)
}
