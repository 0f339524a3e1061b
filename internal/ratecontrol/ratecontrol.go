package ratecontrol

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// Limit is a requests-per-minute budget with a burst allowance.
type Limit struct {
	RPM   int `yaml:"rpm"`
	Burst int `yaml:"burst"`
}

type fileConfig struct {
	RateLimits struct {
		Default   Limit            `yaml:"default"`
		Providers map[string]Limit `yaml:"providers"`
	} `yaml:"rate_limits"`
}

var builtInProviderLimits = map[string]Limit{
	"tavily":    {RPM: 100, Burst: 5},
	"exa":       {RPM: 60, Burst: 5},
	"scrape":    {RPM: 120, Burst: 5},
	"regsearch": {RPM: 60, Burst: 5},
	"xai":       {RPM: 30, Burst: 2},
	"llm":       {RPM: 120, Burst: 10},
	"sandbox":   {RPM: 20, Burst: 2},
}

// Registry hands out one token-bucket limiter per provider.
type Registry struct {
	mu        sync.Mutex
	def       Limit
	overrides map[string]Limit
	limiters  map[string]*rate.Limiter
	logger    *zap.Logger
}

// NewRegistry builds a registry from built-in limits and optional overrides.
func NewRegistry(def Limit, overrides map[string]Limit, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := make(map[string]Limit, len(overrides))
	for k, v := range overrides {
		o[normalize(k)] = v
	}
	return &Registry{def: def, overrides: o, limiters: make(map[string]*rate.Limiter), logger: logger}
}

// LoadFile reads a rate_limits YAML document. A missing file yields an empty registry
// that falls back to built-in limits.
func LoadFile(path string, logger *zap.Logger) (*Registry, error) {
	if path == "" {
		return NewRegistry(Limit{}, nil, logger), nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewRegistry(Limit{}, nil, logger), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rate limits: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rate limits %s: %w", path, err)
	}
	return NewRegistry(cfg.RateLimits.Default, cfg.RateLimits.Providers, logger), nil
}

// LimitFor resolves the effective limit for provider: file override, built-in, then default.
func (r *Registry) LimitFor(provider string) Limit {
	p := normalize(provider)
	if l, ok := r.overrides[p]; ok {
		return l
	}
	if l, ok := builtInProviderLimits[p]; ok {
		return l
	}
	return r.def
}

// Limiter returns the shared limiter for provider, or nil when it is unlimited.
func (r *Registry) Limiter(provider string) *rate.Limiter {
	if r == nil {
		return nil
	}
	p := normalize(provider)
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[p]; ok {
		return l
	}
	limit := r.LimitFor(p)
	var l *rate.Limiter
	if limit.RPM > 0 {
		burst := limit.Burst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(float64(limit.RPM)/60.0), burst)
	}
	r.limiters[p] = l
	return l
}

// Wait blocks until provider may issue one request or ctx ends.
func (r *Registry) Wait(ctx context.Context, provider string) error {
	l := r.Limiter(provider)
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		r.logger.Debug("Rate limiter wait aborted", zap.String("provider", provider), zap.Error(err))
		return fmt.Errorf("rate limit %s: %w", provider, err)
	}
	return nil
}

func normalize(p string) string { return strings.ToLower(strings.TrimSpace(p)) }
