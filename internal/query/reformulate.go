package query

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/llm"
)

const reformulatorSystemPrompt = `You rewrite a regulatory question into one search query.
Fold in every topic, product category and the country given to you.
Ground it in time by including the current year or the word "latest".
Answer with the query only, no quotes and no explanation.`

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// Reformulator rewrites a query once its facets are confirmed.
type Reformulator struct {
	client llm.Client
	model  string
	system string
	now    func() time.Time
	logger *zap.Logger
}

// NewReformulator returns a reformulator. An empty systemPrompt selects the built-in one.
func NewReformulator(client llm.Client, model, systemPrompt string, logger *zap.Logger) *Reformulator {
	if systemPrompt == "" {
		systemPrompt = reformulatorSystemPrompt
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reformulator{client: client, model: model, system: systemPrompt, now: time.Now, logger: logger}
}

// Reformulate returns the rewritten query, or original verbatim when the model
// fails or answers with nothing.
func (r *Reformulator) Reformulate(ctx context.Context, original string, f Filled) string {
	year := strconv.Itoa(r.now().Year())
	prompt := fmt.Sprintf("Original question: %s\nTopics: %s\nProduct categories: %s\nCountry: %s\nCurrent year: %s",
		original,
		strings.Join(f.Topic, ", "),
		strings.Join(f.ProductCategory, ", "),
		f.Country,
		year)

	text, err := r.client.GenerateText(ctx, llm.TextRequest{
		Model:       r.model,
		System:      r.system,
		Prompt:      prompt,
		Temperature: 0,
	})
	if err != nil {
		r.logger.Warn("Query reformulation failed, using original query", zap.String("query", original), zap.Error(err))
		return original
	}
	out := cleanQuery(text)
	if out == "" {
		return original
	}
	if !yearPattern.MatchString(out) && !strings.Contains(strings.ToLower(out), "latest") {
		out += " " + year
	}
	r.logger.Debug("Reformulated query", zap.String("original", original), zap.String("query", out))
	return out
}

func cleanQuery(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "Query:")
	return strings.Trim(strings.TrimSpace(s), "\"'`")
}
