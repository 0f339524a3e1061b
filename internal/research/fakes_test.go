package research

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/xai"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/sandbox"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/search"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/streaming"
)

// fakeSearcher mimics the orchestrator, including its query lifecycle events.
type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	results map[string][]search.SearchResult
	fail    map[string]bool
}

func (f *fakeSearcher) SearchOne(_ context.Context, q string, opts search.Options) (search.QueryResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	id := uuid.NewString()
	streaming.Emit(opts.Progress, streaming.ProgressEvent{Kind: streaming.KindQuery, ID: id, Status: streaming.StatusStarted, Query: q})
	if f.fail[q] {
		streaming.Emit(opts.Progress, streaming.ProgressEvent{Kind: streaming.KindQuery, ID: id, Status: streaming.StatusError, Query: q, Message: "tavily search: upstream 500"})
		return search.QueryResult{Query: q, Results: []search.SearchResult{}, Images: []search.ImageResult{}}, nil
	}
	res := f.results[q]
	streaming.Emit(opts.Progress, streaming.ProgressEvent{Kind: streaming.KindQuery, ID: id, Status: streaming.StatusCompleted, Query: q, ResultCount: len(res)})
	return search.QueryResult{Query: q, Results: res, Images: []search.ImageResult{}}, nil
}

type fakeContents struct {
	bodies map[string]string
	calls  [][]string
}

func (f *fakeContents) GetContents(_ context.Context, urls []string) []search.SearchResult {
	f.calls = append(f.calls, urls)
	var out []search.SearchResult
	for _, u := range urls {
		if body, ok := f.bodies[u]; ok {
			out = append(out, search.SearchResult{URL: u, Content: body})
		}
	}
	return out
}

type fakeX struct {
	req  xai.Request
	resp *xai.Response
	err  error
}

func (f *fakeX) Search(_ context.Context, req xai.Request) (*xai.Response, error) {
	f.req = req
	return f.resp, f.err
}

type fakePosts map[string]string

func (f fakePosts) Resolve(_ context.Context, link string) (*xai.Post, error) {
	text, ok := f[link]
	if !ok {
		return nil, errors.New("not found")
	}
	return &xai.Post{Text: text, Link: link, Title: "Post on X"}, nil
}

type fakeSandbox struct {
	mu       sync.Mutex
	commands []string
	runErr   error
	result   *sandbox.ExecutionResult
	deleted  int
}

func (f *fakeSandbox) Exec(_ context.Context, cmd string) (*sandbox.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return &sandbox.CommandResult{ExitCode: 0}, nil
}

func (f *fakeSandbox) RunCode(_ context.Context, _ string) (*sandbox.ExecutionResult, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.result, nil
}

func (f *fakeSandbox) Delete(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.deleted++
	return nil
}

func sandboxFactory(sb *fakeSandbox) SandboxFactory {
	return func(context.Context, string) (CodeSandbox, error) { return sb, nil }
}

// scriptedLLM answers Chat calls from a function and records every request.
type scriptedLLM struct {
	mu       sync.Mutex
	requests []llm.ChatRequest
	reply    func(turn int, req llm.ChatRequest) (*llm.ChatResponse, error)
}

func (s *scriptedLLM) GenerateObject(context.Context, llm.ObjectRequest, any) error {
	return errors.New("not scripted")
}

func (s *scriptedLLM) GenerateText(context.Context, llm.TextRequest) (string, error) {
	return "", errors.New("not scripted")
}

func (s *scriptedLLM) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.mu.Lock()
	turn := len(s.requests)
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return s.reply(turn, req)
}

type fixedPlanner struct {
	plan *Plan
	err  error
}

func (f fixedPlanner) Plan(context.Context, string) (*Plan, error) { return f.plan, f.err }
