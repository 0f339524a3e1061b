// Package scrape fetches a web page directly and converts its main content
// to markdown. It backs up the primary content provider.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/tracing"
)

const (
	providerName    = "scrape"
	maxBodyBytes    = 5 << 20
	defaultUA       = "Mozilla/5.0 (compatible; searchcore/1.0; +https://github.com/Kocoro-lab/Shannon)"
	defaultAttempts = 3
)

var noiseSelectors = strings.Join([]string{
	"script", "style", "noscript", "iframe", "svg", "form",
	"header", "footer", "nav", "aside",
	".advertisement", ".ad", ".sidebar", ".comments", ".cookie-banner",
	"[role=navigation]", "[role=banner]", "[role=contentinfo]",
}, ", ")

var mainSelectors = "article, main, [role=main], .post-content, .article-content, .content, #content"

// ErrEmptyPage is returned when a page has no extractable text.
var ErrEmptyPage = errors.New("page has no extractable content")

// Page is the scraped result.
type Page struct {
	URL      string
	Title    string
	Markdown string
}

// Scraper fetches and converts pages.
type Scraper struct {
	client   *http.Client
	limits   *ratecontrol.Registry
	logger   *zap.Logger
	attempts uint
}

// New returns a scraper. client may be nil for a breaker-guarded default.
func New(client *http.Client, limits *ratecontrol.Registry, logger *zap.Logger) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = circuitbreaker.NewHTTPClient(circuitbreaker.New(providerName, circuitbreaker.Config{}, logger), 20*time.Second)
	}
	return &Scraper{client: client, limits: limits, logger: logger, attempts: defaultAttempts}
}

// Scrape downloads rawURL and returns its main content as markdown.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (page *Page, err error) {
	ctx, span := tracing.StartHTTPSpan(ctx, providerName, http.MethodGet, rawURL)
	defer func() { tracing.EndSpan(span, err) }()

	body, err := s.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title, _ = doc.Find(`meta[property="og:title"]`).Attr("content")
	}

	doc.Find(noiseSelectors).Remove()
	content := doc.Find(mainSelectors).First()
	if content.Length() == 0 {
		content = doc.Find("body")
	}
	html, err := goquery.OuterHtml(content)
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}

	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		s.logger.Debug("Markdown conversion failed, using plain text", zap.String("url", rawURL), zap.Error(err))
		md = content.Text()
	}
	md = strings.TrimSpace(md)
	if md == "" {
		return nil, ErrEmptyPage
	}
	return &Page{URL: rawURL, Title: strings.TrimSpace(title), Markdown: md}, nil
}

func (s *Scraper) fetch(ctx context.Context, rawURL string) (string, error) {
	if err := s.limits.Wait(ctx, providerName); err != nil {
		return "", err
	}
	operation := func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", defaultUA)
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		tracing.InjectTraceparent(ctx, req)

		resp, err := s.client.Do(req)
		if err != nil {
			if errors.Is(err, circuitbreaker.ErrOpen) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return "", fmt.Errorf("status %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return "", backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}
		if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "text") {
			return "", backoff.Permanent(fmt.Errorf("unsupported content type %q", ct))
		}
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(s.attempts),
		backoff.WithMaxElapsedTime(30*time.Second),
	)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return body, nil
}
