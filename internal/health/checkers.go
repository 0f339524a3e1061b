package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/circuitbreaker"
)

const (
	defaultTimeout   = 5 * time.Second
	slowThreshold    = 100 * time.Millisecond
	upstreamSlowness = time.Second
)

// RedisChecker pings the cache and progress-stream Redis.
type RedisChecker struct {
	client   *redis.Client
	critical bool
}

func NewRedisChecker(client *redis.Client, critical bool) *RedisChecker {
	return &RedisChecker{client: client, critical: critical}
}

func (r *RedisChecker) Name() string           { return "redis" }
func (r *RedisChecker) IsCritical() bool       { return r.critical }
func (r *RedisChecker) Timeout() time.Duration { return defaultTimeout }

func (r *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := r.client.Ping(ctx).Err()
	return latencyResult("Redis", time.Since(start), slowThreshold, err)
}

// Pinger is anything with a connectivity probe, such as the usage store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker wraps a Pinger under a name.
type PingChecker struct {
	name     string
	target   Pinger
	critical bool
}

func NewPingChecker(name string, target Pinger, critical bool) *PingChecker {
	return &PingChecker{name: name, target: target, critical: critical}
}

func (p *PingChecker) Name() string           { return p.name }
func (p *PingChecker) IsCritical() bool       { return p.critical }
func (p *PingChecker) Timeout() time.Duration { return defaultTimeout }

func (p *PingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := p.target.Ping(ctx)
	return latencyResult(p.name, time.Since(start), slowThreshold, err)
}

// UpstreamChecker reports on a search or model provider. An open breaker is
// reported without touching the network; otherwise an optional probe URL is
// fetched and any response below 500 counts as reachable.
type UpstreamChecker struct {
	name     string
	breaker  *circuitbreaker.Breaker
	probeURL string
	client   *http.Client
}

func NewUpstreamChecker(name string, breaker *circuitbreaker.Breaker, probeURL string) *UpstreamChecker {
	return &UpstreamChecker{name: name, breaker: breaker, probeURL: probeURL, client: &http.Client{Timeout: defaultTimeout}}
}

func (u *UpstreamChecker) Name() string           { return u.name }
func (u *UpstreamChecker) IsCritical() bool       { return false }
func (u *UpstreamChecker) Timeout() time.Duration { return defaultTimeout }

func (u *UpstreamChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	details := map[string]any{}
	if u.breaker != nil {
		state := u.breaker.State()
		details["circuit_breaker"] = state.String()
		if state == circuitbreaker.StateOpen {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("%s circuit breaker is open", u.name),
				Error:   "circuit breaker open",
				Details: details,
			}
		}
	}
	if u.probeURL == "" {
		return CheckResult{Status: StatusHealthy, Message: u.name + " breaker closed", Details: details}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.probeURL, nil)
	if err != nil {
		return CheckResult{Status: StatusUnknown, Error: err.Error(), Details: details}
	}
	resp, err := u.client.Do(req)
	if err == nil {
		resp.Body.Close()
		details["status_code"] = resp.StatusCode
		if resp.StatusCode >= 500 {
			err = fmt.Errorf("probe returned %d", resp.StatusCode)
		}
	}
	res := latencyResult(u.name, time.Since(start), upstreamSlowness, err)
	for k, v := range res.Details {
		details[k] = v
	}
	res.Details = details
	return res
}

func latencyResult(component string, elapsed, slow time.Duration, err error) CheckResult {
	details := map[string]any{"latency_ms": elapsed.Milliseconds()}
	switch {
	case err != nil:
		return CheckResult{Status: StatusUnhealthy, Message: component + " check failed", Error: err.Error(), Details: details}
	case elapsed > slow:
		return CheckResult{Status: StatusDegraded, Message: component + " responding but with high latency", Details: details}
	default:
		return CheckResult{Status: StatusHealthy, Message: component + " healthy", Details: details}
	}
}
