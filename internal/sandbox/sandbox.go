// Package sandbox is a client for an ephemeral code-execution service
// (Daytona-compatible REST API).
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers"
)

const (
	providerName = "sandbox"

	stateStarted = "started"
	stateError   = "error"

	defaultReadyTimeout = 90 * time.Second
	execTimeoutSeconds  = 300
)

var ErrNotReady = errors.New("sandbox did not become ready")

// Chart is chart metadata produced by a code run. Keys follow the execution
// service; embedded raster payloads live under "png".
type Chart map[string]any

// Artifacts are the structured outputs of a code run.
type Artifacts struct {
	Stdout string  `json:"stdout,omitempty"`
	Charts []Chart `json:"charts,omitempty"`
}

// ExecutionResult is returned by RunCode.
type ExecutionResult struct {
	ExitCode  int       `json:"exitCode"`
	Result    string    `json:"result"`
	Artifacts Artifacts `json:"artifacts"`
}

// CommandResult is returned by Exec.
type CommandResult struct {
	ExitCode int    `json:"exitCode"`
	Result   string `json:"result"`
}

type createRequest struct {
	Snapshot string `json:"snapshot,omitempty"`
}

type sandboxInfo struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

type execRequest struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

type codeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Timeout  int    `json:"timeout,omitempty"`
}

// Client provisions sandboxes.
type Client struct {
	http         *providers.Client
	logger       *zap.Logger
	readyTimeout time.Duration
	pollInterval time.Duration
}

// New returns a client authenticated with apiKey.
func New(baseURL, apiKey string, opts providers.Options) *Client {
	if opts.Headers == nil {
		opts.Headers = map[string]string{}
	}
	opts.Headers["Authorization"] = "Bearer " + apiKey
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:         providers.NewClient(providerName, baseURL, opts),
		logger:       logger,
		readyTimeout: defaultReadyTimeout,
		pollInterval: 500 * time.Millisecond,
	}
}

// Sandbox is one provisioned environment. Callers must Delete it.
type Sandbox struct {
	ID     string
	client *Client
}

// Create provisions a sandbox from snapshot and waits until it is running.
// A sandbox that fails to start is deleted before returning.
func (c *Client) Create(ctx context.Context, snapshot string) (*Sandbox, error) {
	var info sandboxInfo
	if err := c.http.PostJSON(ctx, "/sandbox", createRequest{Snapshot: snapshot}, &info); err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	if info.ID == "" {
		return nil, fmt.Errorf("create sandbox: empty id in response")
	}
	sb := &Sandbox{ID: info.ID, client: c}
	if info.State == stateStarted {
		return sb, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.pollInterval
	bo.MaxInterval = 5 * time.Second
	_, err := backoff.Retry(ctx, func() (string, error) {
		var cur sandboxInfo
		if err := c.http.GetJSON(ctx, "/sandbox/"+info.ID, &cur); err != nil {
			return "", err
		}
		switch strings.ToLower(cur.State) {
		case stateStarted:
			return cur.State, nil
		case stateError:
			return "", backoff.Permanent(fmt.Errorf("%w: state %s", ErrNotReady, cur.State))
		default:
			return "", fmt.Errorf("%w: state %s", ErrNotReady, cur.State)
		}
	}, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(c.readyTimeout))
	if err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if derr := sb.Delete(cleanupCtx); derr != nil {
			c.logger.Warn("Failed to delete sandbox that never started", zap.String("sandbox_id", sb.ID), zap.Error(derr))
		}
		return nil, fmt.Errorf("wait for sandbox %s: %w", info.ID, err)
	}
	c.logger.Debug("Sandbox ready", zap.String("sandbox_id", sb.ID))
	return sb, nil
}

// Exec runs a shell command inside the sandbox.
func (s *Sandbox) Exec(ctx context.Context, command string) (*CommandResult, error) {
	var out CommandResult
	path := fmt.Sprintf("/toolbox/%s/toolbox/process/execute", s.ID)
	if err := s.client.http.PostJSON(ctx, path, execRequest{Command: command, Timeout: execTimeoutSeconds}, &out); err != nil {
		return nil, fmt.Errorf("exec in sandbox %s: %w", s.ID, err)
	}
	return &out, nil
}

// RunCode executes Python code and returns its output and artifacts.
func (s *Sandbox) RunCode(ctx context.Context, code string) (*ExecutionResult, error) {
	var out ExecutionResult
	path := fmt.Sprintf("/toolbox/%s/toolbox/process/code-run", s.ID)
	req := codeRequest{Code: code, Language: "python", Timeout: execTimeoutSeconds}
	if err := s.client.http.PostJSON(ctx, path, req, &out); err != nil {
		return nil, fmt.Errorf("run code in sandbox %s: %w", s.ID, err)
	}
	return &out, nil
}

// Delete tears the sandbox down. Deleting an already removed sandbox is not an error.
func (s *Sandbox) Delete(ctx context.Context) error {
	err := s.client.http.Do(ctx, http.MethodDelete, "/sandbox/"+s.ID, nil, nil)
	var se *providers.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete sandbox %s: %w", s.ID, err)
	}
	return nil
}

// StripImages returns charts with embedded raster payloads removed.
func StripImages(charts []Chart) []Chart {
	out := make([]Chart, 0, len(charts))
	for _, c := range charts {
		clean := make(Chart, len(c))
		for k, v := range c {
			if k == "png" {
				continue
			}
			clean[k] = v
		}
		out = append(out, clean)
	}
	return out
}
