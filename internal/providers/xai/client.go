// Package xai runs X (Twitter) live searches through the xAI chat completions
// endpoint and resolves the cited posts to their text.
package xai

import (
	"context"
	"fmt"
	"time"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers"
)

const (
	DefaultBaseURL = "https://api.x.ai"
	DefaultModel   = "grok-3-latest"
	dateLayout     = "2006-01-02"
)

// Request describes one X search.
type Request struct {
	Query      string
	Handles    []string
	From       time.Time
	To         time.Time
	MaxResults int
}

// Response is the model summary plus the post links it cited.
type Response struct {
	Content   string
	Citations []string
}

type source struct {
	Type             string   `json:"type"`
	IncludedXHandles []string `json:"included_x_handles,omitempty"`
}

type searchParameters struct {
	Mode             string   `json:"mode"`
	Sources          []source `json:"sources"`
	FromDate         string   `json:"from_date,omitempty"`
	ToDate           string   `json:"to_date,omitempty"`
	MaxSearchResults int      `json:"max_search_results,omitempty"`
	ReturnCitations  bool     `json:"return_citations"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model            string           `json:"model"`
	Messages         []message        `json:"messages"`
	SearchParameters searchParameters `json:"search_parameters"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

// Client calls xAI.
type Client struct {
	http  *providers.Client
	model string
}

// New returns a client authenticated with apiKey.
func New(baseURL, apiKey, model string, opts providers.Options) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	if opts.Headers == nil {
		opts.Headers = map[string]string{}
	}
	opts.Headers["Authorization"] = "Bearer " + apiKey
	return &Client{http: providers.NewClient("xai", baseURL, opts), model: model}
}

// Search asks the model to search X within the request window.
func (c *Client) Search(ctx context.Context, req Request) (*Response, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("xai: empty query")
	}
	limit := req.MaxResults
	if limit <= 0 {
		limit = 15
	}
	body := completionRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: "Search X for recent posts relevant to the user's query and summarize what they say. Cite every post you use."},
			{Role: "user", Content: req.Query},
		},
		SearchParameters: searchParameters{
			Mode:             "on",
			Sources:          []source{{Type: "x", IncludedXHandles: req.Handles}},
			MaxSearchResults: limit,
			ReturnCitations:  true,
		},
	}
	if !req.From.IsZero() {
		body.SearchParameters.FromDate = req.From.Format(dateLayout)
	}
	if !req.To.IsZero() {
		body.SearchParameters.ToDate = req.To.Format(dateLayout)
	}

	var out completionResponse
	if err := c.http.PostJSON(ctx, "/v1/chat/completions", body, &out); err != nil {
		return nil, err
	}
	resp := &Response{Citations: out.Citations}
	if len(out.Choices) > 0 {
		resp.Content = out.Choices[0].Message.Content
	}
	return resp, nil
}
