package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/tavily"
)

type webStrategy struct {
	backend      WebBackend
	snippetLimit int
	logger       *zap.Logger
}

func (s *webStrategy) Name() string { return string(ProviderWeb) }

func (s *webStrategy) Search(ctx context.Context, queries []string, opts Options) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return runBatch(ctx, s.Name(), queries, opts, s.logger, s.searchOne), nil
}

func (s *webStrategy) searchOne(ctx context.Context, _ string, q Query) (QueryResult, error) {
	depth := tavily.DepthBasic
	if q.Quality == QualityBest {
		depth = tavily.DepthAdvanced
	}
	resp, err := s.backend.Search(ctx, tavily.SearchRequest{
		Query:                    q.Text,
		Topic:                    string(q.Topic),
		SearchDepth:              depth,
		MaxResults:               q.MaxResults,
		IncludeImages:            true,
		IncludeImageDescriptions: true,
	})
	if err != nil {
		return QueryResult{}, err
	}
	results, images := NormalizeTavily(resp, s.snippetLimit)
	return QueryResult{Query: q.Text, Results: results, Images: images}, nil
}
