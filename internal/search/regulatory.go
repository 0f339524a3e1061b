package search

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/query"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/streaming"
)

// regulatoryStrategy resolves a jurisdiction for every query before it reaches
// the regulatory backend. Unresolved queries are never forwarded.
type regulatoryStrategy struct {
	backend      RegulatoryBackend
	extractor    ComponentExtractor
	reformulator QueryReformulator
	markets      MarketResolver
	facets       query.Defaults
	snippetLimit int
	logger       *zap.Logger
}

func (s *regulatoryStrategy) Name() string { return string(ProviderRegulatory) }

func (s *regulatoryStrategy) Search(ctx context.Context, queries []string, opts Options) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	progress := opts.Progress
	return runBatch(ctx, s.Name(), queries, opts, s.logger, func(ctx context.Context, id string, q Query) (QueryResult, error) {
		return s.searchOne(ctx, progress, q)
	}), nil
}

func (s *regulatoryStrategy) searchOne(ctx context.Context, progress streaming.Sink, q Query) (QueryResult, error) {
	components := s.extractor.Extract(ctx, q.Text)

	market := strings.ToLower(strings.TrimSpace(q.Market))
	if market != "" {
		if !s.markets.IsAuthority(market) {
			return QueryResult{}, s.unsupported(progress, q.Text, market)
		}
		if components.Country == "" {
			components.Country = market
		}
	}

	filled, ok := query.Fill(components, s.facets)
	if !ok {
		metrics.Clarifications.WithLabelValues("missing_country").Inc()
		streaming.Emit(progress, streaming.ProgressEvent{
			Kind:    streaming.KindMessage,
			Query:   q.Text,
			Message: s.clarification(),
		})
		return QueryResult{}, &ValidationGapError{Missing: []string{"country"}}
	}

	if market == "" {
		code, ok := s.markets.AuthorityFor(filled.Country)
		if !ok {
			return QueryResult{}, s.unsupported(progress, q.Text, filled.Country)
		}
		market = code
	}

	text := s.reformulator.Reformulate(ctx, q.Text, filled)
	s.logger.Debug("Dispatching regulatory search",
		zap.String("query", q.Text),
		zap.String("reformulated", text),
		zap.String("market", market))

	docs, err := s.backend.Search(ctx, text, market)
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{
		Query:   q.Text,
		Results: NormalizeRegulatory(docs, s.snippetLimit),
		Images:  []ImageResult{},
	}, nil
}

func (s *regulatoryStrategy) clarification() string {
	return fmt.Sprintf("Which country or market should I search regulations for? Supported markets: %s.",
		strings.Join(s.markets.Codes(), ", "))
}

func (s *regulatoryStrategy) unsupported(progress streaming.Sink, text, market string) error {
	metrics.Clarifications.WithLabelValues("unsupported_market").Inc()
	streaming.Emit(progress, streaming.ProgressEvent{
		Kind:    streaming.KindMessage,
		Query:   text,
		Message: fmt.Sprintf("Regulatory search for %s is not supported yet. Supported markets: %s.", market, strings.Join(s.markets.Codes(), ", ")),
	})
	return &ValidationGapError{Unsupported: "market " + market}
}
