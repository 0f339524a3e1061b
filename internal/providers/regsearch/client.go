// Package regsearch is a client for the regulatory document search service,
// a retrieval backend indexed per regulatory authority.
package regsearch

import (
	"context"
	"fmt"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers"
)

// Request is the body of POST /regsearch. Market is an authority code such
// as "cdsco" or "fda", never a country name.
type Request struct {
	Query  string `json:"query"`
	Market string `json:"market"`
}

// Document is one retrieved regulatory passage.
type Document struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	PublishedDate string `json:"published_date"`
	Author        string `json:"author"`
}

// Client talks to the regulatory search service.
type Client struct {
	http *providers.Client
}

// New returns a client rooted at baseURL. apiKey is optional.
func New(baseURL, apiKey string, opts providers.Options) *Client {
	if apiKey != "" {
		if opts.Headers == nil {
			opts.Headers = map[string]string{}
		}
		opts.Headers["Authorization"] = "Bearer " + apiKey
	}
	return &Client{http: providers.NewClient("regsearch", baseURL, opts)}
}

// Search retrieves documents for query within market.
func (c *Client) Search(ctx context.Context, query, market string) ([]Document, error) {
	market = strings.ToLower(strings.TrimSpace(market))
	if market == "" {
		return nil, fmt.Errorf("regsearch: market is required")
	}
	var docs []Document
	if err := c.http.PostJSON(ctx, "/regsearch", Request{Query: query, Market: market}, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
