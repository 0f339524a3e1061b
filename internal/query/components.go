// Package query decomposes free-text regulatory questions into facets and
// rewrites them into backend-ready search queries.
package query

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/util"
)

const (
	maxTopics     = 3
	maxCategories = 3
)

// Components are the facets a query explicitly or strongly implies. A field
// is left empty rather than guessed.
type Components struct {
	Topic           []string `json:"topic,omitempty"`
	ProductCategory []string `json:"productCategory,omitempty"`
	Country         string   `json:"country,omitempty"`
}

// Empty reports whether nothing was extracted.
func (c Components) Empty() bool {
	return len(c.Topic) == 0 && len(c.ProductCategory) == 0 && c.Country == ""
}

// Filled is Components with defaults substituted. Country is never defaulted.
type Filled struct {
	Topic           []string `json:"topic"`
	ProductCategory []string `json:"productCategory"`
	Country         string   `json:"country"`
}

// Defaults supplies values for the optional facets.
type Defaults struct {
	Topic           []string
	ProductCategory []string
}

// DefaultFacets is used when the caller does not configure its own.
var DefaultFacets = Defaults{
	Topic:           []string{"regulatory requirements"},
	ProductCategory: []string{"medical products"},
}

// Fill substitutes defaults for empty optional facets. ok is false when the
// mandatory country is missing.
func Fill(c Components, d Defaults) (f Filled, ok bool) {
	f = Filled{Topic: c.Topic, ProductCategory: c.ProductCategory, Country: strings.TrimSpace(c.Country)}
	if len(f.Topic) == 0 {
		f.Topic = append([]string(nil), d.Topic...)
	}
	if len(f.ProductCategory) == 0 {
		f.ProductCategory = append([]string(nil), d.ProductCategory...)
	}
	return f, f.Country != ""
}

const extractorSystemPrompt = `You extract search facets from a regulatory question.
Return topic (regulatory subjects), productCategory (product types) and country (a single jurisdiction).
Only fill a field when the question states it or strongly implies it. Never guess a country.
Use an empty array or null when a facet is absent.`

var componentsSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "topic": {"type": "array", "items": {"type": "string"}},
    "productCategory": {"type": "array", "items": {"type": "string"}},
    "country": {"type": ["string", "null"]}
  },
  "required": ["topic", "productCategory", "country"],
  "additionalProperties": false
}`)

type extraction struct {
	Topic           []string `json:"topic"`
	ProductCategory []string `json:"productCategory"`
	Country         *string  `json:"country"`
}

// Extractor runs the structured-generation call that produces Components.
type Extractor struct {
	client llm.Client
	model  string
	system string
	logger *zap.Logger
}

// NewExtractor returns an extractor. An empty systemPrompt selects the built-in one.
func NewExtractor(client llm.Client, model, systemPrompt string, logger *zap.Logger) *Extractor {
	if systemPrompt == "" {
		systemPrompt = extractorSystemPrompt
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{client: client, model: model, system: systemPrompt, logger: logger}
}

// Extract never fails: model or decoding errors yield empty Components, which
// callers treat as every facet missing.
func (e *Extractor) Extract(ctx context.Context, q string) Components {
	q = strings.TrimSpace(q)
	if q == "" {
		return Components{}
	}
	var out extraction
	err := e.client.GenerateObject(ctx, llm.ObjectRequest{
		Model:      e.model,
		System:     e.system,
		Prompt:     "Question: " + q,
		SchemaName: "query_components",
		Schema:     componentsSchema,
	}, &out)
	if err != nil {
		e.logger.Warn("Query component extraction failed", zap.String("query", q), zap.Error(err))
		return Components{}
	}

	c := Components{
		Topic:           util.CleanStrings(out.Topic, maxTopics),
		ProductCategory: util.CleanStrings(out.ProductCategory, maxCategories),
	}
	if out.Country != nil {
		c.Country = strings.TrimSpace(*out.Country)
	}
	e.logger.Debug("Extracted query components",
		zap.String("query", q),
		zap.Strings("topic", c.Topic),
		zap.Strings("product_category", c.ProductCategory),
		zap.String("country", c.Country))
	return c
}
