package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/regsearch"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/tavily"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/query"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/streaming"
)

// Strategy searches a batch of queries against one backend.
type Strategy interface {
	Name() string
	Search(ctx context.Context, queries []string, opts Options) (*Response, error)
}

// Provider is the configuration enum selecting a Strategy.
type Provider string

const (
	ProviderWeb        Provider = "web"
	ProviderRegulatory Provider = "regulatory"
)

// ParseProvider validates a configured provider name.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderWeb, ProviderRegulatory:
		return p, nil
	default:
		return "", fmt.Errorf("unknown search provider %q", s)
	}
}

// WebBackend is the generic web/news/image search API.
type WebBackend interface {
	Search(ctx context.Context, req tavily.SearchRequest) (*tavily.SearchResponse, error)
}

// RegulatoryBackend retrieves documents for an authority code.
type RegulatoryBackend interface {
	Search(ctx context.Context, query, market string) ([]regsearch.Document, error)
}

// ComponentExtractor decomposes a query into facets.
type ComponentExtractor interface {
	Extract(ctx context.Context, q string) query.Components
}

// QueryReformulator rewrites a query once its facets are known.
type QueryReformulator interface {
	Reformulate(ctx context.Context, original string, f query.Filled) string
}

// MarketResolver maps countries to regulatory authority codes.
type MarketResolver interface {
	AuthorityFor(country string) (string, bool)
	IsAuthority(code string) bool
	Codes() []string
}

// Dependencies carries what the strategies need. Only the fields of the
// selected provider are required.
type Dependencies struct {
	Web          WebBackend
	Regulatory   RegulatoryBackend
	Extractor    ComponentExtractor
	Reformulator QueryReformulator
	Markets      MarketResolver
	Facets       query.Defaults
	SnippetLimit int
	Logger       *zap.Logger
}

// NewStrategy builds the strategy selected by p. Missing collaborators are
// reported here so a misconfigured process fails at startup.
func NewStrategy(p Provider, deps Dependencies) (Strategy, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.SnippetLimit <= 0 {
		deps.SnippetLimit = SnippetLimit
	}
	switch p {
	case ProviderWeb:
		if deps.Web == nil {
			return nil, errors.New("web search strategy requires a web backend")
		}
		return &webStrategy{backend: deps.Web, snippetLimit: deps.SnippetLimit, logger: deps.Logger}, nil
	case ProviderRegulatory:
		switch {
		case deps.Regulatory == nil:
			return nil, errors.New("regulatory search strategy requires a regulatory backend")
		case deps.Extractor == nil, deps.Reformulator == nil:
			return nil, errors.New("regulatory search strategy requires a query extractor and reformulator")
		case deps.Markets == nil:
			return nil, errors.New("regulatory search strategy requires a market table")
		}
		facets := deps.Facets
		if len(facets.Topic) == 0 && len(facets.ProductCategory) == 0 {
			facets = query.DefaultFacets
		}
		return &regulatoryStrategy{
			backend:      deps.Regulatory,
			extractor:    deps.Extractor,
			reformulator: deps.Reformulator,
			markets:      deps.Markets,
			facets:       facets,
			snippetLimit: deps.SnippetLimit,
			logger:       deps.Logger,
		}, nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", p)
	}
}

// queryFunc performs the backend work of a single query.
type queryFunc func(ctx context.Context, id string, q Query) (QueryResult, error)

// runBatch is the execution contract shared by every strategy: clamp the
// batch, announce each query, run them concurrently in isolated failure
// boundaries, close every query with one terminal event and dedup the output.
func runBatch(ctx context.Context, strategy string, queries []string, opts Options, logger *zap.Logger, fn queryFunc) *Response {
	if len(queries) > MaxBatchQueries {
		logger.Warn("Search batch clamped",
			zap.String("strategy", strategy),
			zap.Int("requested", len(queries)),
			zap.Int("max", MaxBatchQueries))
		queries = queries[:MaxBatchQueries]
	}

	ids := make([]string, len(queries))
	for i, text := range queries {
		ids[i] = uuid.NewString()
		streaming.Emit(opts.Progress, streaming.ProgressEvent{
			Kind:   streaming.KindQuery,
			ID:     ids[i],
			Status: streaming.StatusStarted,
			Query:  text,
		})
	}

	out := make([]QueryResult, len(queries))
	var wg sync.WaitGroup
	for i, text := range queries {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			q := opts.QueryAt(i, text)
			start := time.Now()

			res, err := Attempt(ctx, strategy, "search", func(ctx context.Context) (QueryResult, error) {
				return fn(ctx, ids[i], q)
			})
			elapsed := time.Since(start).Seconds()
			if err != nil {
				var gap *ValidationGapError
				if !errors.As(err, &gap) {
					logger.Warn("Search query failed",
						zap.String("strategy", strategy),
						zap.String("query", text),
						zap.Error(err))
				}
				metrics.RecordSearch(strategy, false, elapsed, 0)
				streaming.Emit(opts.Progress, streaming.ProgressEvent{
					Kind:    streaming.KindQuery,
					ID:      ids[i],
					Status:  streaming.StatusError,
					Query:   text,
					Message: err.Error(),
				})
				out[i] = QueryResult{Query: text, Results: []SearchResult{}, Images: []ImageResult{}}
				return
			}

			res.Query = text
			res.Results = DeduplicateByDomainAndURL(res.Results)
			res.Images = DeduplicateByDomainAndURL(res.Images)
			metrics.RecordSearch(strategy, true, elapsed, len(res.Results))
			streaming.Emit(opts.Progress, streaming.ProgressEvent{
				Kind:        streaming.KindQuery,
				ID:          ids[i],
				Status:      streaming.StatusCompleted,
				Query:       text,
				ResultCount: len(res.Results),
				ImageCount:  len(res.Images),
			})
			out[i] = res
		}(i, text)
	}
	wg.Wait()

	return &Response{Searches: out}
}
