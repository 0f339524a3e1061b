package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/tracing"
)

const (
	defaultConfigPath = "./config/searchcore.yaml"
	envPrefix         = "SEARCHCORE"

	// maxContentLimit bounds fetched and aggregated source content.
	maxContentLimit = 3000
)

// Config is the full service configuration.
type Config struct {
	Server         ServerConfig          `mapstructure:"server"`
	Logging        LoggingConfig         `mapstructure:"logging"`
	Search         SearchConfig          `mapstructure:"search"`
	Providers      ProvidersConfig       `mapstructure:"providers"`
	LLM            LLMConfig             `mapstructure:"llm"`
	Research       ResearchConfig        `mapstructure:"research"`
	Redis          RedisConfig           `mapstructure:"redis"`
	Usage          UsageConfig           `mapstructure:"usage"`
	Tracing        tracing.Config        `mapstructure:"tracing"`
	CircuitBreaker circuitbreaker.Config `mapstructure:"circuit_breaker"`
	Prompts        PromptsConfig         `mapstructure:"prompts"`
	MarketsPath    string                `mapstructure:"markets_path"`
	RateLimitsPath string                `mapstructure:"rate_limits_path"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AdminAddr       string        `mapstructure:"admin_addr"`
	ResearchTimeout time.Duration `mapstructure:"research_timeout"`
	ResultTTL       time.Duration `mapstructure:"result_ttl"`
	StreamCapacity  int           `mapstructure:"stream_capacity"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SearchConfig selects the strategy and bounds result sizes.
type SearchConfig struct {
	Provider          string        `mapstructure:"provider"`
	DefaultMaxResults int           `mapstructure:"default_max_results"`
	SnippetLimit      int           `mapstructure:"snippet_limit"`
	ContentLimit      int           `mapstructure:"content_limit"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
}

// Endpoint is one upstream provider.
type Endpoint struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ProvidersConfig struct {
	Tavily      Endpoint `mapstructure:"tavily"`
	Exa         Endpoint `mapstructure:"exa"`
	RegSearch   Endpoint `mapstructure:"regsearch"`
	XAI         Endpoint `mapstructure:"xai"`
	Syndication Endpoint `mapstructure:"syndication"`
	Sandbox     Endpoint `mapstructure:"sandbox"`
}

// LLMConfig points at an OpenAI-compatible endpoint. Per-role models fall back to Model.
type LLMConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	PlannerModel   string        `mapstructure:"planner_model"`
	ExtractorModel string        `mapstructure:"extractor_model"`
	AgentModel     string        `mapstructure:"agent_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type ResearchConfig struct {
	RetryAllowance    int      `mapstructure:"retry_allowance"`
	SandboxSnapshot   string   `mapstructure:"sandbox_snapshot"`
	AllowedLibraries  []string `mapstructure:"allowed_libraries"`
	XSearchWindowDays int      `mapstructure:"x_search_window_days"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type UsageConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Driver             string `mapstructure:"driver"`
	DSN                string `mapstructure:"dsn"`
	DailyResearchLimit int    `mapstructure:"daily_research_limit"`
	DailySearchLimit   int    `mapstructure:"daily_search_limit"`
}

// PromptsConfig holds opaque instruction text handed to the model.
type PromptsConfig struct {
	Extractor    string `mapstructure:"extractor"`
	Reformulator string `mapstructure:"reformulator"`
	Planner      string `mapstructure:"planner"`
	Agent        string `mapstructure:"agent"`
}

// ConfigError reports a missing or invalid setting detected at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.admin_addr", ":2112")
	v.SetDefault("server.research_timeout", 5*time.Minute)
	v.SetDefault("server.result_ttl", 30*time.Minute)
	v.SetDefault("server.stream_capacity", 512)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("search.provider", "web")
	v.SetDefault("search.default_max_results", 10)
	v.SetDefault("search.snippet_limit", 1000)
	v.SetDefault("search.content_limit", 3000)
	v.SetDefault("search.cache_ttl", 15*time.Minute)

	v.SetDefault("providers.tavily.base_url", "https://api.tavily.com")
	v.SetDefault("providers.tavily.api_key", "")
	v.SetDefault("providers.tavily.timeout", 30*time.Second)
	v.SetDefault("providers.exa.base_url", "https://api.exa.ai")
	v.SetDefault("providers.exa.api_key", "")
	v.SetDefault("providers.exa.timeout", 45*time.Second)
	v.SetDefault("providers.regsearch.base_url", "")
	v.SetDefault("providers.regsearch.api_key", "")
	v.SetDefault("providers.regsearch.timeout", 60*time.Second)
	v.SetDefault("providers.xai.base_url", "https://api.x.ai")
	v.SetDefault("providers.xai.api_key", "")
	v.SetDefault("providers.xai.model", "grok-3-latest")
	v.SetDefault("providers.xai.timeout", 60*time.Second)
	v.SetDefault("providers.syndication.base_url", "https://cdn.syndication.twimg.com")
	v.SetDefault("providers.syndication.timeout", 10*time.Second)
	v.SetDefault("providers.sandbox.base_url", "")
	v.SetDefault("providers.sandbox.api_key", "")
	v.SetDefault("providers.sandbox.timeout", 120*time.Second)

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4.1-mini")
	v.SetDefault("llm.planner_model", "")
	v.SetDefault("llm.extractor_model", "")
	v.SetDefault("llm.agent_model", "")
	v.SetDefault("llm.timeout", 120*time.Second)

	v.SetDefault("research.retry_allowance", 0)
	v.SetDefault("research.sandbox_snapshot", "searchcore-python")
	v.SetDefault("research.allowed_libraries", []string{"pandas", "numpy", "matplotlib", "seaborn", "scipy", "requests"})
	v.SetDefault("research.x_search_window_days", 7)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("usage.enabled", false)
	v.SetDefault("usage.driver", "postgres")
	v.SetDefault("usage.dsn", "")
	v.SetDefault("usage.daily_research_limit", 5)
	v.SetDefault("usage.daily_search_limit", 0)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "searchcore")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.success_threshold", 2)
	v.SetDefault("circuit_breaker.half_open_requests", 2)
	v.SetDefault("circuit_breaker.open_timeout", 30*time.Second)

	v.SetDefault("prompts.extractor", "")
	v.SetDefault("prompts.reformulator", "")
	v.SetDefault("prompts.planner", "")
	v.SetDefault("prompts.agent", "")

	v.SetDefault("markets_path", "./config/markets.yaml")
	v.SetDefault("rate_limits_path", "./config/rate_limits.yaml")
}

// well-known credential variables accepted in addition to SEARCHCORE_* names
var credentialEnv = map[string]string{
	"llm.api_key":                  "OPENAI_API_KEY",
	"providers.tavily.api_key":     "TAVILY_API_KEY",
	"providers.exa.api_key":        "EXA_API_KEY",
	"providers.xai.api_key":        "XAI_API_KEY",
	"providers.sandbox.api_key":    "DAYTONA_API_KEY",
	"providers.regsearch.base_url": "REGSEARCH_URL",
}

// Load reads the YAML file at CONFIG_PATH (or ./config/searchcore.yaml when
// present) and applies SEARCHCORE_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range credentialEnv {
		_ = v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	explicit := cfgPath != ""
	if !explicit {
		cfgPath = defaultConfigPath
	}
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || os.IsNotExist(err)) {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// Validate fails fast on settings the selected providers cannot run without.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return &ConfigError{Field: "llm.api_key", Reason: "required"}
	}
	switch c.Search.Provider {
	case "web":
		if c.Providers.Tavily.APIKey == "" {
			return &ConfigError{Field: "providers.tavily.api_key", Reason: "required for the web search provider"}
		}
	case "regulatory":
		if c.Providers.RegSearch.BaseURL == "" {
			return &ConfigError{Field: "providers.regsearch.base_url", Reason: "required for the regulatory search provider"}
		}
	default:
		return &ConfigError{Field: "search.provider", Reason: fmt.Sprintf("unknown provider %q", c.Search.Provider)}
	}
	if c.Search.ContentLimit <= 0 || c.Search.SnippetLimit <= 0 {
		return &ConfigError{Field: "search", Reason: "snippet_limit and content_limit must be positive"}
	}
	if c.Search.ContentLimit > maxContentLimit {
		return &ConfigError{Field: "search.content_limit", Reason: fmt.Sprintf("must not exceed %d", maxContentLimit)}
	}
	if c.Research.RetryAllowance < 0 {
		return &ConfigError{Field: "research.retry_allowance", Reason: "must not be negative"}
	}
	if c.Usage.Enabled && c.Usage.DSN == "" {
		return &ConfigError{Field: "usage.dsn", Reason: "required when usage gating is enabled"}
	}
	return nil
}

// ModelFor returns the role-specific model, falling back to the default.
func (l LLMConfig) ModelFor(role string) string {
	var m string
	switch role {
	case "planner":
		m = l.PlannerModel
	case "extractor":
		m = l.ExtractorModel
	case "agent":
		m = l.AgentModel
	}
	if m == "" {
		return l.Model
	}
	return m
}
