package search

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/tracing"
)

// Orchestrator is the entry point for search tool calls. It cleans the batch,
// applies configured defaults and delegates to the selected strategy.
type Orchestrator struct {
	strategy   Strategy
	maxResults int
	logger     *zap.Logger
}

// NewOrchestrator wraps strategy. maxResults is the default per-query result
// count when the caller leaves it unset.
func NewOrchestrator(strategy Strategy, maxResults int, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Orchestrator{strategy: strategy, maxResults: maxResults, logger: logger}
}

// Strategy returns the name of the active strategy.
func (o *Orchestrator) Strategy() string { return o.strategy.Name() }

// Run searches queries. Blank queries are dropped together with their
// per-query options; the result keeps one entry per remaining query (at most
// MaxBatchQueries).
func (o *Orchestrator) Run(ctx context.Context, queries []string, opts Options) (resp *Response, err error) {
	cleaned := make([]string, 0, len(queries))
	kept := make([]int, 0, len(queries))
	for i, q := range queries {
		if q = strings.TrimSpace(q); q != "" {
			cleaned = append(cleaned, q)
			kept = append(kept, i)
		}
	}
	if len(cleaned) == 0 {
		return &Response{Searches: []QueryResult{}}, nil
	}
	opts = opts.Keep(kept)
	if len(opts.MaxResults) == 0 {
		opts.MaxResults = []int{o.maxResults}
	}

	ctx, span := tracing.StartSpan(ctx, "search.run",
		attribute.String("search.strategy", o.strategy.Name()),
		attribute.Int("search.queries", len(cleaned)))
	defer func() { tracing.EndSpan(span, err) }()

	start := time.Now()
	resp, err = o.strategy.Search(ctx, cleaned, opts)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, s := range resp.Searches {
		total += len(s.Results)
	}
	o.logger.Info("Search batch completed",
		zap.String("strategy", o.strategy.Name()),
		zap.Int("queries", len(resp.Searches)),
		zap.Int("results", total),
		zap.Duration("elapsed", time.Since(start)))
	return resp, nil
}

// SearchOne runs a single query and returns its result.
func (o *Orchestrator) SearchOne(ctx context.Context, q string, opts Options) (QueryResult, error) {
	resp, err := o.Run(ctx, []string{q}, opts)
	if err != nil {
		return QueryResult{}, err
	}
	if len(resp.Searches) == 0 {
		return QueryResult{Query: q, Results: []SearchResult{}, Images: []ImageResult{}}, nil
	}
	return resp.Searches[0], nil
}
