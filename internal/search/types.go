// Package search runs batches of queries against a pluggable backend and
// normalizes whatever comes back into one result shape.
package search

import (
	"fmt"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/streaming"
)

// MaxBatchQueries bounds the fan-out of a single Search call.
const MaxBatchQueries = 5

const (
	DefaultMaxResults = 10
	// SnippetLimit caps search result content before it reaches the model.
	SnippetLimit = 1000
)

// Topic selects general or news search.
type Topic string

const (
	TopicGeneral Topic = "general"
	TopicNews    Topic = "news"
)

// ParseTopic validates a caller-supplied topic; "" selects the default.
func ParseTopic(s string) (Topic, error) {
	switch t := Topic(strings.ToLower(strings.TrimSpace(s))); t {
	case "", TopicGeneral, TopicNews:
		return t, nil
	default:
		return "", fmt.Errorf("unknown topic %q", s)
	}
}

// Quality is a depth hint for the backend.
type Quality string

const (
	QualityDefault Quality = "default"
	QualityBest    Quality = "best"
)

// ParseQuality validates a caller-supplied quality; "" selects the default.
func ParseQuality(s string) (Quality, error) {
	switch q := Quality(strings.ToLower(strings.TrimSpace(s))); q {
	case "", QualityDefault, QualityBest:
		return q, nil
	default:
		return "", fmt.Errorf("unknown quality %q", s)
	}
}

// SearchResult is the canonical result shape. URL is the identity key.
type SearchResult struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	PublishedDate string `json:"publishedDate,omitempty"`
	Author        string `json:"author,omitempty"`
	Favicon       string `json:"favicon,omitempty"`
}

// ImageResult is kept only when both fields are set.
type ImageResult struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

func (r SearchResult) ResultURL() string { return r.URL }
func (i ImageResult) ResultURL() string  { return i.URL }

// Query is one resolved entry of a batch.
type Query struct {
	Text       string  `json:"query"`
	MaxResults int     `json:"maxResults"`
	Topic      Topic   `json:"topic"`
	Quality    Quality `json:"quality"`
	Market     string  `json:"market,omitempty"`
}

// QueryResult is the outcome of one query. A failed query has empty slices.
type QueryResult struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Images  []ImageResult  `json:"images"`
}

// Response is what every strategy returns.
type Response struct {
	Searches []QueryResult `json:"searches"`
}

// Options tunes a batch. The slices are parallel to the query list; index i
// falls back to index 0 and then to the package default.
type Options struct {
	MaxResults []int
	Topics     []Topic
	Quality    []Quality

	// Market is an authority code; only the regulatory strategy reads it.
	Market   string
	Progress streaming.Sink
}

func pick[T comparable](vals []T, i int, def T) T {
	var zero T
	if i < len(vals) && vals[i] != zero {
		return vals[i]
	}
	if len(vals) > 0 && vals[0] != zero {
		return vals[0]
	}
	return def
}

// pickAll resolves vals for the surviving query indices idx. Unset entries
// stay zero so the package defaults still apply.
func pickAll[T comparable](vals []T, idx []int) []T {
	if len(vals) == 0 {
		return nil
	}
	var zero T
	out := make([]T, len(idx))
	for j, i := range idx {
		out[j] = pick(vals, i, zero)
	}
	return out
}

// Normalize lowercases the per-query topics and qualities and rejects values
// the backends do not understand.
func (o *Options) Normalize() error {
	for i, v := range o.Topics {
		t, err := ParseTopic(string(v))
		if err != nil {
			return err
		}
		o.Topics[i] = t
	}
	for i, v := range o.Quality {
		q, err := ParseQuality(string(v))
		if err != nil {
			return err
		}
		o.Quality[i] = q
	}
	return nil
}

// Keep narrows the per-query slices to the queries at idx, in order.
func (o Options) Keep(idx []int) Options {
	o.MaxResults = pickAll(o.MaxResults, idx)
	o.Topics = pickAll(o.Topics, idx)
	o.Quality = pickAll(o.Quality, idx)
	return o
}

// QueryAt resolves the tuning of query i.
func (o Options) QueryAt(i int, text string) Query {
	return Query{
		Text:       text,
		MaxResults: pick(o.MaxResults, i, DefaultMaxResults),
		Topic:      pick(o.Topics, i, TopicGeneral),
		Quality:    pick(o.Quality, i, QualityDefault),
		Market:     o.Market,
	}
}
