// Package exa is a client for the Exa contents endpoint, used to pull full
// page text for already known URLs.
package exa

import (
	"context"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers"
)

const DefaultBaseURL = "https://api.exa.ai"

// TextOptions bounds the returned page text.
type TextOptions struct {
	MaxCharacters int `json:"maxCharacters,omitempty"`
}

// ContentsRequest is the body of POST /contents.
type ContentsRequest struct {
	URLs      []string    `json:"urls"`
	Text      TextOptions `json:"text"`
	LiveCrawl string      `json:"livecrawl,omitempty"`
}

// Document is one retrieved page.
type Document struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	Text          string `json:"text"`
	Author        string `json:"author"`
	PublishedDate string `json:"publishedDate"`
	Favicon       string `json:"favicon"`
	Image         string `json:"image"`
}

// Status reports per-URL retrieval outcome.
type Status struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ContentsResponse is returned by POST /contents.
type ContentsResponse struct {
	Results  []Document `json:"results"`
	Statuses []Status   `json:"statuses,omitempty"`
}

// Client talks to Exa.
type Client struct {
	http          *providers.Client
	maxCharacters int
}

// New returns a client authenticated with apiKey.
func New(baseURL, apiKey string, maxCharacters int, opts providers.Options) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if opts.Headers == nil {
		opts.Headers = map[string]string{}
	}
	opts.Headers["x-api-key"] = apiKey
	return &Client{http: providers.NewClient("exa", baseURL, opts), maxCharacters: maxCharacters}
}

// Contents fetches page text for all urls in one call.
func (c *Client) Contents(ctx context.Context, urls []string) (*ContentsResponse, error) {
	req := ContentsRequest{
		URLs:      urls,
		Text:      TextOptions{MaxCharacters: c.maxCharacters},
		LiveCrawl: "fallback",
	}
	var out ContentsResponse
	if err := c.http.PostJSON(ctx, "/contents", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
