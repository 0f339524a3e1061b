package search

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/exa"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/regsearch"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/tavily"
)

func TestCleanTitle(t *testing.T) {
	tests := map[string]string{
		"MDR labelling [Updated] (2025)": "MDR labelling",
		"  Guidance {draft}   on   UDI ": "Guidance on UDI",
		"Plain title":                    "Plain title",
		"[PDF] Annex (II) {v2}":          "Annex",
		"Unbalanced (paren":              "Unbalanced (paren",
	}
	for in, want := range tests {
		assert.Equal(t, want, CleanTitle(in), in)
	}
}

func TestNormalizeTavily(t *testing.T) {
	resp := &tavily.SearchResponse{
		Results: []tavily.Result{
			{Title: "EU MDR [news]", URL: "https://a.eu/mdr", Content: strings.Repeat("x", 4000), PublishedDate: "2025-01-02"},
			{Title: "no url", URL: ""},
		},
		Images: []tavily.Image{
			{URL: "https://img/1.png", Description: "label"},
			{URL: "https://img/2.png"},
			{Description: "orphan"},
		},
	}
	res, imgs := NormalizeTavily(resp, 1000)
	require.Len(t, res, 1)
	assert.Equal(t, "EU MDR", res[0].Title)
	assert.LessOrEqual(t, utf8.RuneCountInString(res[0].Content), 1000)
	assert.True(t, strings.HasSuffix(res[0].Content, "..."))
	assert.Equal(t, "2025-01-02", res[0].PublishedDate)
	assert.Equal(t, []ImageResult{{URL: "https://img/1.png", Description: "label"}}, imgs)

	res, imgs = NormalizeTavily(nil, 1000)
	assert.NotNil(t, res)
	assert.NotNil(t, imgs)
}

func TestNormalizeRegulatoryTitleFallback(t *testing.T) {
	docs := []regsearch.Document{
		{URL: "/srv/docs/cdsco/Medical%20Device%20Rules%202017.pdf", Content: "rules", Author: "cdsco", PublishedDate: "2024-05-01"},
		{URL: "https://cdsco.gov.in/notice.pdf", Title: "Notice (revised)"},
		{URL: ""},
	}
	res := NormalizeRegulatory(docs, 1000)
	require.Len(t, res, 2)
	assert.Equal(t, "Medical Device Rules 2017.pdf", res[0].Title)
	assert.Equal(t, "cdsco", res[0].Author)
	assert.Equal(t, "Notice", res[1].Title)
}

func TestNormalizeContentsTruncates(t *testing.T) {
	res := NormalizeContents([]exa.Document{{URL: "https://a.com", Title: "A", Text: strings.Repeat("é", 3500)}}, 3000)
	require.Len(t, res, 1)
	assert.Equal(t, 3003, utf8.RuneCountInString(res[0].Content))
	assert.True(t, strings.HasSuffix(res[0].Content, "..."))
}
