package search

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/exa"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/regsearch"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/tavily"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/util"
)

var annotationPattern = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|\{[^}]*\}`)

// CleanTitle strips bracketed, parenthetical and braced annotations and
// collapses whitespace.
func CleanTitle(title string) string {
	return util.CollapseWhitespace(annotationPattern.ReplaceAllString(title, " "))
}

func snippet(s string, limit int) string {
	if limit <= 0 {
		limit = SnippetLimit
	}
	return util.TruncateString(strings.TrimSpace(s), limit)
}

// NormalizeTavily maps a web search response. Images without a description are dropped.
func NormalizeTavily(resp *tavily.SearchResponse, snippetLimit int) ([]SearchResult, []ImageResult) {
	results := []SearchResult{}
	images := []ImageResult{}
	if resp == nil {
		return results, images
	}
	for _, r := range resp.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, SearchResult{
			URL:           r.URL,
			Title:         CleanTitle(r.Title),
			Content:       snippet(r.Content, snippetLimit),
			PublishedDate: r.PublishedDate,
			Favicon:       r.Favicon,
		})
	}
	for _, img := range resp.Images {
		u, desc := strings.TrimSpace(img.URL), strings.TrimSpace(img.Description)
		if u == "" || desc == "" {
			continue
		}
		images = append(images, ImageResult{URL: u, Description: desc})
	}
	return results, images
}

// NormalizeRegulatory maps regulatory backend documents. The backend often
// leaves titles empty, in which case the file name of the document is used.
func NormalizeRegulatory(docs []regsearch.Document, snippetLimit int) []SearchResult {
	results := make([]SearchResult, 0, len(docs))
	for _, d := range docs {
		if d.URL == "" {
			continue
		}
		title := CleanTitle(d.Title)
		if title == "" {
			title = fileName(d.URL)
		}
		results = append(results, SearchResult{
			URL:           d.URL,
			Title:         title,
			Content:       snippet(d.Content, snippetLimit),
			PublishedDate: d.PublishedDate,
			Author:        d.Author,
		})
	}
	return results
}

// NormalizeContents maps full-text documents. Content is cut to limit runes
// plus an ellipsis.
func NormalizeContents(docs []exa.Document, limit int) []SearchResult {
	results := make([]SearchResult, 0, len(docs))
	for _, d := range docs {
		results = append(results, SearchResult{
			URL:           d.URL,
			Title:         CleanTitle(d.Title),
			Content:       util.Truncate(strings.TrimSpace(d.Text), limit),
			PublishedDate: d.PublishedDate,
			Author:        d.Author,
			Favicon:       d.Favicon,
		})
	}
	return results
}

func fileName(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	if base == "." || base == "/" {
		return raw
	}
	return base
}
