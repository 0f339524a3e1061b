// Package tavily is a client for the Tavily web/news/image search API.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers"
)

const (
	DefaultBaseURL = "https://api.tavily.com"

	DepthBasic    = "basic"
	DepthAdvanced = "advanced"
)

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	APIKey                   string   `json:"api_key,omitempty"`
	Query                    string   `json:"query"`
	Topic                    string   `json:"topic,omitempty"`
	SearchDepth              string   `json:"search_depth,omitempty"`
	MaxResults               int      `json:"max_results,omitempty"`
	Days                     int      `json:"days,omitempty"`
	IncludeImages            bool     `json:"include_images"`
	IncludeImageDescriptions bool     `json:"include_image_descriptions"`
	IncludeAnswer            bool     `json:"include_answer"`
	ExcludeDomains           []string `json:"exclude_domains,omitempty"`
}

// Result is one organic hit.
type Result struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	RawContent    string  `json:"raw_content,omitempty"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date,omitempty"`
	Favicon       string  `json:"favicon,omitempty"`
}

// Image is returned either as a bare URL or as {url, description}
// depending on include_image_descriptions.
type Image struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

func (i *Image) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &i.URL)
	}
	type plain Image
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*i = Image(p)
	return nil
}

// SearchResponse is the body returned by POST /search.
type SearchResponse struct {
	Query        string   `json:"query"`
	Results      []Result `json:"results"`
	Images       []Image  `json:"images"`
	ResponseTime float64  `json:"response_time"`
}

// Client talks to Tavily.
type Client struct {
	apiKey string
	http   *providers.Client
}

// New returns a client. opts.Headers receives the bearer token.
func New(baseURL, apiKey string, opts providers.Options) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if opts.Headers == nil {
		opts.Headers = map[string]string{}
	}
	opts.Headers["Authorization"] = "Bearer " + apiKey
	return &Client{apiKey: apiKey, http: providers.NewClient("tavily", baseURL, opts)}
}

// Search runs one query.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("tavily: empty query")
	}
	req.APIKey = c.apiKey
	var out SearchResponse
	if err := c.http.PostJSON(ctx, "/search", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
