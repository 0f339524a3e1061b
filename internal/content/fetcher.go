// Package content retrieves full page text for search results.
package content

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/exa"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/scrape"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/search"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/util"
)

// DefaultLimit caps fetched content, in runes, before the ellipsis.
const DefaultLimit = 3000

// Primary retrieves text for many URLs in one call.
type Primary interface {
	Contents(ctx context.Context, urls []string) (*exa.ContentsResponse, error)
}

// Fallback scrapes a single page.
type Fallback interface {
	Scrape(ctx context.Context, url string) (*scrape.Page, error)
}

// Fetcher tries the primary provider for the whole batch and scrapes whatever
// it could not serve.
type Fetcher struct {
	primary  Primary
	fallback Fallback
	limit    int
	logger   *zap.Logger
}

// New returns a fetcher. Either provider may be nil.
func New(primary Primary, fallback Fallback, limit int, logger *zap.Logger) *Fetcher {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{primary: primary, fallback: fallback, limit: limit, logger: logger}
}

// GetContents returns one result per URL that could be fetched. Output order
// does not follow input order; match results by URL.
func (f *Fetcher) GetContents(ctx context.Context, urls []string) []search.SearchResult {
	pending := make([]string, 0, len(urls))
	requested := make(map[string]bool, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || requested[u] {
			continue
		}
		requested[u] = true
		pending = append(pending, u)
	}
	if len(pending) == 0 {
		return []search.SearchResult{}
	}

	out := make([]search.SearchResult, 0, len(pending))
	served := make(map[string]bool, len(pending))
	if f.primary != nil {
		resp, err := search.Attempt(ctx, "exa", "contents", func(ctx context.Context) (*exa.ContentsResponse, error) {
			return f.primary.Contents(ctx, pending)
		})
		if err != nil {
			metrics.ContentFetches.WithLabelValues("primary", "error").Inc()
			f.logger.Warn("Primary content fetch failed, scraping every URL", zap.Int("urls", len(pending)), zap.Error(err))
		} else {
			metrics.ContentFetches.WithLabelValues("primary", "success").Inc()
			for _, doc := range resp.Results {
				key := doc.URL
				if !requested[key] {
					key = doc.ID
				}
				if !requested[key] || served[key] || strings.TrimSpace(doc.Text) == "" {
					continue
				}
				doc.URL = key
				out = append(out, search.NormalizeContents([]exa.Document{doc}, f.limit)...)
				served[key] = true
			}
		}
	}

	for _, u := range pending {
		if served[u] {
			continue
		}
		if r, ok := f.scrape(ctx, u); ok {
			out = append(out, r)
		}
	}
	return out
}

func (f *Fetcher) scrape(ctx context.Context, u string) (search.SearchResult, bool) {
	if f.fallback == nil {
		return search.SearchResult{}, false
	}
	page, err := search.Attempt(ctx, "scrape", "page", func(ctx context.Context) (*scrape.Page, error) {
		return f.fallback.Scrape(ctx, u)
	})
	if err != nil {
		metrics.ContentFetches.WithLabelValues("fallback", "error").Inc()
		f.logger.Debug("Fallback scrape failed", zap.String("url", u), zap.Error(err))
		return search.SearchResult{}, false
	}
	metrics.ContentFetches.WithLabelValues("fallback", "success").Inc()
	return search.SearchResult{
		URL:     u,
		Title:   search.CleanTitle(page.Title),
		Content: util.Truncate(page.Markdown, f.limit),
	}, true
}
