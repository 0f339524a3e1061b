// Package providers holds the HTTP plumbing shared by every upstream
// provider client: breaker-guarded transport, per-provider rate limiting,
// trace propagation and uniform status errors.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/util"
)

const maxErrorBody = 512

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Provider string
	Path     string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Provider, e.Path, e.Code, e.Body)
}

// Options configures a Client.
type Options struct {
	Timeout time.Duration
	Breaker circuitbreaker.Config
	Limits  *ratecontrol.Registry
	Headers map[string]string
	Logger  *zap.Logger
	// HTTPClient replaces the breaker-guarded client built from Breaker.
	// The app passes its own so health can report the breaker state.
	HTTPClient *http.Client
}

// Client performs JSON requests against one provider base URL.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	limits  *ratecontrol.Registry
	headers map[string]string
	logger  *zap.Logger
}

// NewClient builds a client for provider name rooted at baseURL.
func NewClient(name, baseURL string, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = circuitbreaker.NewHTTPClient(circuitbreaker.New(name, opts.Breaker, opts.Logger), opts.Timeout)
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		limits:  opts.Limits,
		headers: opts.Headers,
		logger:  opts.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// PostJSON sends in as JSON to path and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, in, out)
}

// GetJSON fetches path and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Do executes one request. in and out may be nil. path may be absolute.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) (err error) {
	if err := c.limits.Wait(ctx, c.name); err != nil {
		return err
	}

	url := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		url = c.baseURL + path
	}
	ctx, span := tracing.StartHTTPSpan(ctx, c.name, method, url)
	defer func() { tracing.EndSpan(span, err) }()

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", c.name, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.name, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	tracing.InjectTraceparent(ctx, req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", c.name, path, err)
	}
	defer resp.Body.Close()

	if err := checkResp(resp, c.name, path); err != nil {
		c.logger.Warn("Provider returned error status",
			zap.String("provider", c.name),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", time.Since(start)),
		)
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", c.name, path, err)
	}
	c.logger.Debug("Provider call completed",
		zap.String("provider", c.name),
		zap.String("path", path),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func checkResp(resp *http.Response, provider, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*maxErrorBody))
	return &StatusError{
		Provider: provider,
		Path:     path,
		Code:     resp.StatusCode,
		Body:     util.TruncateString(strings.TrimSpace(string(body)), maxErrorBody),
	}
}
