package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/config"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/regsearch"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/tavily"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/query"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/streaming"
)

type fakeWeb struct {
	mu       sync.Mutex
	requests []tavily.SearchRequest
	fn       func(req tavily.SearchRequest) (*tavily.SearchResponse, error)
}

func (f *fakeWeb) Search(_ context.Context, req tavily.SearchRequest) (*tavily.SearchResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeWeb) seen() []tavily.SearchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tavily.SearchRequest(nil), f.requests...)
}

type fakeRegulatory struct {
	mu    sync.Mutex
	calls [][2]string
	docs  []regsearch.Document
	err   error
}

func (f *fakeRegulatory) Search(_ context.Context, q, market string) ([]regsearch.Document, error) {
	f.mu.Lock()
	f.calls = append(f.calls, [2]string{q, market})
	f.mu.Unlock()
	return f.docs, f.err
}

type extractorFunc func(q string) query.Components

func (f extractorFunc) Extract(_ context.Context, q string) query.Components { return f(q) }

type reformulatorFunc func(original string, f query.Filled) string

func (f reformulatorFunc) Reformulate(_ context.Context, original string, filled query.Filled) string {
	return f(original, filled)
}

func echoResults(n int) func(req tavily.SearchRequest) (*tavily.SearchResponse, error) {
	return func(req tavily.SearchRequest) (*tavily.SearchResponse, error) {
		resp := &tavily.SearchResponse{Query: req.Query}
		for i := 0; i < n; i++ {
			resp.Results = append(resp.Results, tavily.Result{
				Title:   fmt.Sprintf("%s result %d", req.Query, i),
				URL:     fmt.Sprintf("https://site%d.example/%s", i, strings.ReplaceAll(req.Query, " ", "-")),
				Content: "snippet",
			})
		}
		return resp, nil
	}
}

// assertLifecycle checks every correlated id got started first and exactly one terminal event last.
func assertLifecycle(t *testing.T, rec *streaming.Recorder) {
	t.Helper()
	for id, evs := range rec.ByID() {
		require.NotEmpty(t, evs)
		assert.Equal(t, streaming.StatusStarted, evs[0].Status, id)
		terminal := 0
		for _, ev := range evs {
			if ev.Status.Terminal() {
				terminal++
			}
		}
		assert.Equal(t, 1, terminal, id)
		assert.True(t, evs[len(evs)-1].Status.Terminal(), id)
	}
}

func newWeb(t *testing.T, backend WebBackend) Strategy {
	s, err := NewStrategy(ProviderWeb, Dependencies{Web: backend, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return s
}

func TestNewStrategyFactory(t *testing.T) {
	_, err := NewStrategy(ProviderWeb, Dependencies{})
	assert.Error(t, err)
	_, err = NewStrategy(ProviderRegulatory, Dependencies{Regulatory: &fakeRegulatory{}})
	assert.Error(t, err)
	_, err = NewStrategy("bing", Dependencies{})
	assert.Error(t, err)

	s, err := NewStrategy(ProviderRegulatory, Dependencies{
		Regulatory:   &fakeRegulatory{},
		Extractor:    extractorFunc(func(string) query.Components { return query.Components{} }),
		Reformulator: reformulatorFunc(func(o string, _ query.Filled) string { return o }),
		Markets:      config.DefaultMarkets(),
	})
	require.NoError(t, err)
	assert.Equal(t, "regulatory", s.Name())

	p, err := ParseProvider(" Web ")
	require.NoError(t, err)
	assert.Equal(t, ProviderWeb, p)
	_, err = ParseProvider("google")
	assert.Error(t, err)
}

func TestWebSearchScenario(t *testing.T) {
	backend := &fakeWeb{fn: func(req tavily.SearchRequest) (*tavily.SearchResponse, error) {
		return &tavily.SearchResponse{
			Results: []tavily.Result{
				{Title: "MDR labelling [2025 update]", URL: "https://health.ec.europa.eu/mdr", Content: strings.Repeat("a", 2500)},
				{Title: "Labelling changes (summary)", URL: "https://www.emergobyul.com/mdr", Content: "short"},
				{Title: "{draft} UDI labelling", URL: "https://www.fda.gov/udi", Content: strings.Repeat("b", 1200)},
			},
			Images: []tavily.Image{{URL: "https://img.example/1.png", Description: "label"}},
		}, nil
	}}
	rec := streaming.NewRecorder()
	resp, err := newWeb(t, backend).Search(context.Background(),
		[]string{"EU MDR labelling changes 2025"},
		Options{Market: "fda", Progress: rec})
	require.NoError(t, err)
	require.Len(t, resp.Searches, 1)

	got := resp.Searches[0]
	assert.Equal(t, "EU MDR labelling changes 2025", got.Query)
	require.Len(t, got.Results, 3)
	for _, r := range got.Results {
		assert.NotContains(t, r.Title, "[")
		assert.NotContains(t, r.Title, "(")
		assert.NotContains(t, r.Title, "{")
		assert.LessOrEqual(t, utf8.RuneCountInString(r.Content), 1000)
	}
	assert.Len(t, got.Images, 1)

	evs := rec.Filter(streaming.KindQuery)
	require.Len(t, evs, 2)
	assert.Equal(t, streaming.StatusCompleted, evs[1].Status)
	assert.Equal(t, 3, evs[1].ResultCount)
	assert.Equal(t, 1, evs[1].ImageCount)
	assertLifecycle(t, rec)
}

func TestBatchClampedToFive(t *testing.T) {
	backend := &fakeWeb{fn: echoResults(1)}
	rec := streaming.NewRecorder()
	queries := []string{"q1", "q2", "q3", "q4", "q5", "q6", "q7"}

	resp, err := newWeb(t, backend).Search(context.Background(), queries, Options{Progress: rec})
	require.NoError(t, err)
	require.Len(t, resp.Searches, MaxBatchQueries)
	for i, s := range resp.Searches {
		assert.Equal(t, queries[i], s.Query)
	}
	assert.Len(t, backend.seen(), MaxBatchQueries)
	assert.Len(t, rec.ByID(), MaxBatchQueries)
	assertLifecycle(t, rec)
}

func TestPerQueryFaultIsolation(t *testing.T) {
	backend := &fakeWeb{fn: func(req tavily.SearchRequest) (*tavily.SearchResponse, error) {
		switch req.Query {
		case "boom":
			return nil, errors.New("upstream 502")
		case "panic":
			panic("provider bug")
		}
		return echoResults(2)(req)
	}}
	rec := streaming.NewRecorder()
	resp, err := newWeb(t, backend).Search(context.Background(), []string{"ok one", "boom", "ok two", "panic"}, Options{Progress: rec})
	require.NoError(t, err)
	require.Len(t, resp.Searches, 4)

	assert.Len(t, resp.Searches[0].Results, 2)
	assert.Empty(t, resp.Searches[1].Results)
	assert.NotNil(t, resp.Searches[1].Images)
	assert.Len(t, resp.Searches[2].Results, 2)
	assert.Empty(t, resp.Searches[3].Results)

	statuses := map[string]streaming.Status{}
	for _, evs := range rec.ByID() {
		last := evs[len(evs)-1]
		statuses[last.Query] = last.Status
	}
	assert.Equal(t, streaming.StatusCompleted, statuses["ok one"])
	assert.Equal(t, streaming.StatusError, statuses["boom"])
	assert.Equal(t, streaming.StatusCompleted, statuses["ok two"])
	assert.Equal(t, streaming.StatusError, statuses["panic"])
	assertLifecycle(t, rec)
}

func TestPerQueryOptionsFallback(t *testing.T) {
	backend := &fakeWeb{fn: echoResults(0)}
	_, err := newWeb(t, backend).Search(context.Background(), []string{"a", "b", "c"}, Options{
		MaxResults: []int{3, 7},
		Topics:     []Topic{TopicNews},
		Quality:    []Quality{QualityDefault, QualityDefault, QualityBest},
	})
	require.NoError(t, err)

	byQuery := map[string]tavily.SearchRequest{}
	for _, r := range backend.seen() {
		byQuery[r.Query] = r
	}
	assert.Equal(t, 3, byQuery["a"].MaxResults)
	assert.Equal(t, 7, byQuery["b"].MaxResults)
	assert.Equal(t, 3, byQuery["c"].MaxResults)
	assert.Equal(t, "news", byQuery["c"].Topic)
	assert.Equal(t, tavily.DepthBasic, byQuery["a"].SearchDepth)
	assert.Equal(t, tavily.DepthAdvanced, byQuery["c"].SearchDepth)

	q := Options{}.QueryAt(2, "x")
	assert.Equal(t, DefaultMaxResults, q.MaxResults)
	assert.Equal(t, TopicGeneral, q.Topic)
	assert.Equal(t, QualityDefault, q.Quality)
}

func TestOptionsNormalize(t *testing.T) {
	opts := Options{Topics: []Topic{" News ", ""}, Quality: []Quality{"BEST"}}
	require.NoError(t, opts.Normalize())
	assert.Equal(t, []Topic{TopicNews, ""}, opts.Topics)
	assert.Equal(t, []Quality{QualityBest}, opts.Quality)

	bad := Options{Topics: []Topic{"sports"}}
	assert.Error(t, bad.Normalize())
	bad = Options{Quality: []Quality{"extreme"}}
	assert.Error(t, bad.Normalize())
}

func TestNilProgressSink(t *testing.T) {
	backend := &fakeWeb{fn: echoResults(1)}
	assert.NotPanics(t, func() {
		resp, err := newWeb(t, backend).Search(context.Background(), []string{"headless"}, Options{})
		require.NoError(t, err)
		assert.Len(t, resp.Searches[0].Results, 1)
	})
}

func newRegulatory(t *testing.T, backend RegulatoryBackend, extract extractorFunc) Strategy {
	reformulate := reformulatorFunc(func(original string, f query.Filled) string {
		return original + " " + f.Country + " 2025"
	})
	s, err := NewStrategy(ProviderRegulatory, Dependencies{
		Regulatory:   backend,
		Extractor:    extract,
		Reformulator: reformulate,
		Markets:      config.DefaultMarkets(),
		Logger:       zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return s
}

func TestRegulatoryMissingCountryScenario(t *testing.T) {
	backend := &fakeRegulatory{docs: []regsearch.Document{{URL: "/x.pdf"}}}
	rec := streaming.NewRecorder()
	s := newRegulatory(t, backend, func(string) query.Components {
		return query.Components{Topic: []string{"vigilance reporting"}}
	})

	resp, err := s.Search(context.Background(), []string{"vigilance reporting timelines"}, Options{Progress: rec})
	require.NoError(t, err)
	require.Len(t, resp.Searches, 1)
	assert.Empty(t, resp.Searches[0].Results)
	assert.Empty(t, resp.Searches[0].Images)
	assert.Empty(t, backend.calls)

	msgs := rec.Filter(streaming.KindMessage)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Message, "country")

	qs := rec.Filter(streaming.KindQuery)
	require.Len(t, qs, 2)
	assert.Equal(t, streaming.StatusError, qs[1].Status)
	assertLifecycle(t, rec)
}

func TestRegulatoryFacetGatingNeverForwards(t *testing.T) {
	backend := &fakeRegulatory{}
	s := newRegulatory(t, backend, func(string) query.Components { return query.Components{} })
	resp, err := s.Search(context.Background(), []string{"a", "b", "c"}, Options{})
	require.NoError(t, err)
	for _, r := range resp.Searches {
		assert.Empty(t, r.Results)
	}
	assert.Empty(t, backend.calls)
}

func TestRegulatoryUnsupportedMarket(t *testing.T) {
	backend := &fakeRegulatory{}
	rec := streaming.NewRecorder()
	s := newRegulatory(t, backend, func(string) query.Components {
		return query.Components{Country: "Brazil"}
	})

	resp, err := s.Search(context.Background(), []string{"ANVISA device registration"}, Options{Progress: rec})
	require.NoError(t, err)
	assert.Empty(t, resp.Searches[0].Results)
	assert.Empty(t, backend.calls)

	msgs := rec.Filter(streaming.KindMessage)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Message, "not supported yet")
	assertLifecycle(t, rec)

	_, err = s.Search(context.Background(), []string{"x"}, Options{Market: "anvisa", Progress: rec})
	require.NoError(t, err)
	assert.Empty(t, backend.calls)
}

func TestRegulatoryResolvesAuthority(t *testing.T) {
	backend := &fakeRegulatory{docs: []regsearch.Document{
		{URL: "/docs/cdsco/mdr-2017.pdf", Content: "Medical Device Rules", Author: "cdsco"},
		{URL: "/docs/cdsco/labelling.pdf", Title: "Labelling [Annex]", Author: "cdsco"},
	}}
	rec := streaming.NewRecorder()
	s := newRegulatory(t, backend, func(string) query.Components {
		return query.Components{Topic: []string{"labelling"}, Country: "India"}
	})

	resp, err := s.Search(context.Background(), []string{"labelling for class B devices in India"}, Options{Progress: rec})
	require.NoError(t, err)
	require.Len(t, backend.calls, 1)
	assert.Equal(t, "labelling for class B devices in India India 2025", backend.calls[0][0])
	assert.Equal(t, "cdsco", backend.calls[0][1])

	got := resp.Searches[0]
	require.Len(t, got.Results, 2)
	assert.Equal(t, "mdr-2017.pdf", got.Results[0].Title)
	assert.Equal(t, "Labelling", got.Results[1].Title)
	assert.Empty(t, rec.Filter(streaming.KindMessage))
	assertLifecycle(t, rec)
}

func TestRegulatoryExplicitMarket(t *testing.T) {
	backend := &fakeRegulatory{}
	s := newRegulatory(t, backend, func(string) query.Components { return query.Components{} })
	_, err := s.Search(context.Background(), []string{"510(k) labelling"}, Options{Market: "FDA"})
	require.NoError(t, err)
	require.Len(t, backend.calls, 1)
	assert.Equal(t, "fda", backend.calls[0][1])
}

func TestRegulatoryBackendFailure(t *testing.T) {
	backend := &fakeRegulatory{err: errors.New("connection refused")}
	rec := streaming.NewRecorder()
	s := newRegulatory(t, backend, func(string) query.Components { return query.Components{Country: "UK"} })
	resp, err := s.Search(context.Background(), []string{"mhra vigilance"}, Options{Progress: rec})
	require.NoError(t, err)
	assert.Empty(t, resp.Searches[0].Results)
	qs := rec.Filter(streaming.KindQuery)
	require.Len(t, qs, 2)
	assert.Equal(t, streaming.StatusError, qs[1].Status)
	assert.Contains(t, qs[1].Message, "connection refused")
}
