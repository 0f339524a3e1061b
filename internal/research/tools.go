package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/providers/xai"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/sandbox"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/search"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/util"
)

const (
	ToolWebSearch  = "webSearch"
	ToolXSearch    = "xSearch"
	ToolCodeRunner = "codeRunner"

	dateLayout = "2006-01-02"
)

var (
	errUnknownTool = errors.New("unknown tool")
	libraryPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-\[\]=<>!~,]*$`)
)

// Searcher runs one web query through the search orchestrator.
type Searcher interface {
	SearchOne(ctx context.Context, q string, opts search.Options) (search.QueryResult, error)
}

// ContentFetcher enriches URLs with full text.
type ContentFetcher interface {
	GetContents(ctx context.Context, urls []string) []search.SearchResult
}

// XSearcher searches posts on X.
type XSearcher interface {
	Search(ctx context.Context, req xai.Request) (*xai.Response, error)
}

// PostResolver turns a citation link into post content.
type PostResolver interface {
	Resolve(ctx context.Context, link string) (*xai.Post, error)
}

// CodeSandbox is a provisioned execution environment.
type CodeSandbox interface {
	Exec(ctx context.Context, command string) (*sandbox.CommandResult, error)
	RunCode(ctx context.Context, code string) (*sandbox.ExecutionResult, error)
	Delete(ctx context.Context) error
}

// SandboxFactory provisions a sandbox from a snapshot.
type SandboxFactory func(ctx context.Context, snapshot string) (CodeSandbox, error)

// SandboxesFrom adapts a sandbox client.
func SandboxesFrom(c *sandbox.Client) SandboxFactory {
	return func(ctx context.Context, snapshot string) (CodeSandbox, error) {
		sb, err := c.Create(ctx, snapshot)
		if err != nil {
			return nil, err
		}
		return sb, nil
	}
}

// ToolsetConfig tunes the tools.
type ToolsetConfig struct {
	SandboxSnapshot   string
	AllowedLibraries  []string
	XSearchWindowDays int
}

// Toolset implements the agent tools. Tools whose backend is nil are not offered.
type Toolset struct {
	Search    Searcher
	Contents  ContentFetcher
	X         XSearcher
	Posts     PostResolver
	Sandboxes SandboxFactory

	cfg    ToolsetConfig
	now    func() time.Time
	logger *zap.Logger
}

// NewToolset wires the tool backends.
func NewToolset(searcher Searcher, contents ContentFetcher, x XSearcher, posts PostResolver, sandboxes SandboxFactory, cfg ToolsetConfig, logger *zap.Logger) *Toolset {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.XSearchWindowDays <= 0 {
		cfg.XSearchWindowDays = 7
	}
	return &Toolset{
		Search:    searcher,
		Contents:  contents,
		X:         x,
		Posts:     posts,
		Sandboxes: sandboxes,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

var (
	webSearchParams = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Search query"},
    "maxResults": {"type": "integer", "description": "Results to return, default 10"},
    "topic": {"type": "string", "enum": ["general", "news"]},
    "quality": {"type": "string", "enum": ["default", "best"]}
  },
  "required": ["query"]
}`)
	xSearchParams = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string"},
    "startDate": {"type": "string", "description": "YYYY-MM-DD, default 7 days ago"},
    "endDate": {"type": "string", "description": "YYYY-MM-DD, default today"},
    "xHandles": {"type": "array", "items": {"type": "string"}},
    "maxResults": {"type": "integer"}
  },
  "required": ["query"]
}`)
	codeRunnerParams = json.RawMessage(`{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "code": {"type": "string", "description": "Python code; print results, use matplotlib for charts"},
    "libraries": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["title", "code"]
}`)
)

// Definitions lists the tools offered to the model.
func (t *Toolset) Definitions() []llm.Tool {
	var defs []llm.Tool
	if t.Search != nil {
		defs = append(defs, llm.Tool{Name: ToolWebSearch, Description: "Search the web for one query.", Parameters: webSearchParams})
	}
	if t.X != nil {
		defs = append(defs, llm.Tool{Name: ToolXSearch, Description: "Search recent posts on X.", Parameters: xSearchParams})
	}
	if t.Sandboxes != nil {
		defs = append(defs, llm.Tool{Name: ToolCodeRunner, Description: "Run Python code in a sandbox for calculations and charts.", Parameters: codeRunnerParams})
	}
	return defs
}

// Execute runs one tool call. Tool failures are returned as errors for the
// model to read; they never end the run.
func (t *Toolset) Execute(ctx context.Context, call llm.ToolCall, acc *Accumulator, sink streaming.Sink) (any, error) {
	switch {
	case call.Name == ToolWebSearch && t.Search != nil:
		return t.webSearch(ctx, call.Arguments, acc, sink)
	case call.Name == ToolXSearch && t.X != nil:
		return t.xSearch(ctx, call.Arguments, sink)
	case call.Name == ToolCodeRunner && t.Sandboxes != nil:
		return t.codeRunner(ctx, call.Arguments, sink)
	default:
		return nil, fmt.Errorf("%w %q", errUnknownTool, call.Name)
	}
}

type webSearchArgs struct {
	Query      string         `json:"query"`
	MaxResults int            `json:"maxResults"`
	Topic      search.Topic   `json:"topic"`
	Quality    search.Quality `json:"quality"`
}

// WebSearchResult is returned to the model by webSearch.
type WebSearchResult struct {
	Query   string                `json:"query"`
	Results []search.SearchResult `json:"results"`
	Images  []search.ImageResult  `json:"images,omitempty"`
}

// queryRelay forwards everything but query lifecycle events, whose terminal
// status it keeps for the tool's own lifecycle.
type queryRelay struct {
	next    streaming.Sink
	mu      sync.Mutex
	status  streaming.Status
	message string
}

func (r *queryRelay) Emit(ev streaming.ProgressEvent) {
	if ev.Kind != streaming.KindQuery {
		streaming.Emit(r.next, ev)
		return
	}
	if ev.Status.Terminal() {
		r.mu.Lock()
		r.status, r.message = ev.Status, ev.Message
		r.mu.Unlock()
	}
}

func (t *Toolset) webSearch(ctx context.Context, raw json.RawMessage, acc *Accumulator, sink streaming.Sink) (any, error) {
	var args webSearchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid webSearch arguments: %w", err)
	}
	args.Query = strings.TrimSpace(args.Query)
	if args.Query == "" {
		return nil, errors.New("webSearch requires a query")
	}

	var opts search.Options
	if args.MaxResults > 0 {
		opts.MaxResults = []int{args.MaxResults}
	}
	if args.Topic != "" {
		opts.Topics = []search.Topic{args.Topic}
	}
	if args.Quality != "" {
		opts.Quality = []search.Quality{args.Quality}
	}
	if err := opts.Normalize(); err != nil {
		return nil, fmt.Errorf("invalid webSearch arguments: %w", err)
	}

	id := uuid.NewString()
	streaming.Emit(sink, streaming.ProgressEvent{Kind: streaming.KindQuery, ID: id, Status: streaming.StatusStarted, Query: args.Query})

	relay := &queryRelay{next: sink}
	opts.Progress = relay
	res, err := t.Search.SearchOne(ctx, args.Query, opts)
	relay.mu.Lock()
	failed, reason := relay.status == streaming.StatusError, relay.message
	relay.mu.Unlock()
	if err == nil && failed {
		err = errors.New(reason)
	}
	if err != nil {
		streaming.Emit(sink, streaming.ProgressEvent{Kind: streaming.KindQuery, ID: id, Status: streaming.StatusError, Query: args.Query, Message: err.Error()})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// A provider failure degrades to an empty result for this query.
		t.logger.Warn("Web search failed", zap.String("query", args.Query), zap.Error(err))
		return &WebSearchResult{Query: args.Query, Results: []search.SearchResult{}}, nil
	}

	acc.AddSources(res.Results...)
	for _, r := range res.Results {
		streaming.Emit(sink, streaming.ProgressEvent{
			Kind:    streaming.KindSource,
			ID:      id,
			Query:   args.Query,
			Payload: map[string]string{"title": r.Title, "url": r.URL},
		})
	}

	out := &WebSearchResult{Query: args.Query, Results: res.Results, Images: res.Images}
	if t.Contents != nil && len(res.Results) > 0 {
		streaming.Emit(sink, streaming.ProgressEvent{Kind: streaming.KindQuery, ID: id, Status: streaming.StatusReadingContent, Query: args.Query})
		out.Results = t.enrich(ctx, id, args.Query, res.Results, sink)
	}

	streaming.Emit(sink, streaming.ProgressEvent{
		Kind:        streaming.KindQuery,
		ID:          id,
		Status:      streaming.StatusCompleted,
		Query:       args.Query,
		ResultCount: len(out.Results),
		ImageCount:  len(out.Images),
	})
	return out, nil
}

// enrich substitutes full content per URL, keeping the snippet wherever the
// fetch produced nothing.
func (t *Toolset) enrich(ctx context.Context, id, q string, results []search.SearchResult, sink streaming.Sink) []search.SearchResult {
	urls := make([]string, len(results))
	for i, r := range results {
		urls[i] = r.URL
	}
	fetched := make(map[string]search.SearchResult)
	for _, c := range t.Contents.GetContents(ctx, urls) {
		if strings.TrimSpace(c.Content) != "" {
			fetched[c.URL] = c
		}
	}

	out := make([]search.SearchResult, len(results))
	for i, r := range results {
		out[i] = r
		c, ok := fetched[r.URL]
		if !ok {
			continue
		}
		out[i].Content = c.Content
		streaming.Emit(sink, streaming.ProgressEvent{
			Kind:    streaming.KindContent,
			ID:      id,
			Query:   q,
			Payload: map[string]string{"title": r.Title, "url": r.URL, "text": c.Content},
		})
	}
	return out
}

type xSearchArgs struct {
	Query      string   `json:"query"`
	StartDate  string   `json:"startDate"`
	EndDate    string   `json:"endDate"`
	XHandles   []string `json:"xHandles"`
	MaxResults int      `json:"maxResults"`
}

// XSearchResult is returned to the model by xSearch.
type XSearchResult struct {
	Content   string     `json:"content"`
	Citations []string   `json:"citations"`
	Sources   []xai.Post `json:"sources"`
	DateRange string     `json:"dateRange"`
	Handles   []string   `json:"handles,omitempty"`
}

func (t *Toolset) xSearch(ctx context.Context, raw json.RawMessage, sink streaming.Sink) (any, error) {
	var args xSearchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid xSearch arguments: %w", err)
	}
	args.Query = strings.TrimSpace(args.Query)
	if args.Query == "" {
		return nil, errors.New("xSearch requires a query")
	}
	from, to := t.dateRange(args.StartDate, args.EndDate)
	handles := make([]string, 0, len(args.XHandles))
	for _, h := range args.XHandles {
		if h = strings.TrimPrefix(strings.TrimSpace(h), "@"); h != "" {
			handles = append(handles, h)
		}
	}

	id := uuid.NewString()
	streaming.Emit(sink, streaming.ProgressEvent{Kind: streaming.KindXSearch, ID: id, Status: streaming.StatusStarted, Query: args.Query})

	resp, err := search.Attempt(ctx, "xai", "search", func(ctx context.Context) (*xai.Response, error) {
		return t.X.Search(ctx, xai.Request{Query: args.Query, Handles: handles, From: from, To: to, MaxResults: args.MaxResults})
	})
	if err != nil {
		streaming.Emit(sink, streaming.ProgressEvent{Kind: streaming.KindXSearch, ID: id, Status: streaming.StatusError, Query: args.Query, Message: err.Error()})
		return nil, err
	}

	posts := t.resolvePosts(ctx, resp.Citations)
	out := &XSearchResult{
		Content:   resp.Content,
		Citations: resp.Citations,
		Sources:   posts,
		DateRange: from.Format(dateLayout) + " to " + to.Format(dateLayout),
		Handles:   handles,
	}
	streaming.Emit(sink, streaming.ProgressEvent{
		Kind:        streaming.KindXSearch,
		ID:          id,
		Status:      streaming.StatusCompleted,
		Query:       args.Query,
		ResultCount: len(posts),
		Payload:     posts,
	})
	return out, nil
}

func (t *Toolset) dateRange(start, end string) (time.Time, time.Time) {
	today := t.now().UTC().Truncate(24 * time.Hour)
	to, err := time.Parse(dateLayout, strings.TrimSpace(end))
	if err != nil {
		to = today
	}
	from, err := time.Parse(dateLayout, strings.TrimSpace(start))
	if err != nil || from.After(to) {
		from = to.AddDate(0, 0, -t.cfg.XSearchWindowDays)
	}
	return from, to
}

// resolvePosts resolves citation links concurrently. Links that cannot be
// resolved are dropped rather than filled with invented text.
func (t *Toolset) resolvePosts(ctx context.Context, links []string) []xai.Post {
	if t.Posts == nil || len(links) == 0 {
		return []xai.Post{}
	}
	resolved := make([]*xai.Post, len(links))
	var wg sync.WaitGroup
	for i, link := range links {
		wg.Add(1)
		go func(i int, link string) {
			defer wg.Done()
			p, err := search.Attempt(ctx, "syndication", "resolve", func(ctx context.Context) (*xai.Post, error) {
				return t.Posts.Resolve(ctx, link)
			})
			if err != nil {
				t.logger.Debug("Dropping unresolved X citation", zap.String("link", link), zap.Error(err))
				return
			}
			resolved[i] = p
		}(i, link)
	}
	wg.Wait()

	posts := make([]xai.Post, 0, len(links))
	for _, p := range resolved {
		if p != nil && strings.TrimSpace(p.Text) != "" {
			posts = append(posts, *p)
		}
	}
	return posts
}

type codeRunnerArgs struct {
	Title     string   `json:"title"`
	Code      string   `json:"code"`
	Libraries []string `json:"libraries"`
}

// CodeResult is returned to the model by codeRunner. Charts carry no raster payloads.
type CodeResult struct {
	Title  string          `json:"title"`
	Code   string          `json:"code"`
	Result string          `json:"result"`
	Charts []sandbox.Chart `json:"charts,omitempty"`
}

func (t *Toolset) codeRunner(ctx context.Context, raw json.RawMessage, sink streaming.Sink) (out any, err error) {
	var args codeRunnerArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid codeRunner arguments: %w", err)
	}
	if strings.TrimSpace(args.Code) == "" {
		return nil, errors.New("codeRunner requires code")
	}

	id := uuid.NewString()
	streaming.Emit(sink, streaming.ProgressEvent{
		Kind:    streaming.KindCode,
		ID:      id,
		Status:  streaming.StatusStarted,
		Message: args.Title,
		Payload: map[string]string{"title": args.Title, "code": args.Code},
	})
	defer func() {
		status := "success"
		ev := streaming.ProgressEvent{Kind: streaming.KindCode, ID: id, Status: streaming.StatusCompleted, Message: args.Title, Payload: out}
		if err != nil {
			status = "error"
			ev.Status, ev.Message, ev.Payload = streaming.StatusError, err.Error(), nil
		}
		metrics.SandboxRuns.WithLabelValues(status).Inc()
		streaming.Emit(sink, ev)
	}()

	extra, err := t.extraLibraries(args.Libraries)
	if err != nil {
		return nil, err
	}

	sb, err := t.Sandboxes(ctx, t.cfg.SandboxSnapshot)
	if err != nil {
		return nil, fmt.Errorf("provision sandbox: %w", err)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if derr := sb.Delete(cleanupCtx); derr != nil {
			t.logger.Warn("Failed to delete sandbox", zap.Error(derr))
		}
	}()

	if len(extra) > 0 {
		quoted := make([]string, len(extra))
		for i, lib := range extra {
			quoted[i] = "'" + lib + "'"
		}
		res, err := sb.Exec(ctx, "pip install --quiet "+strings.Join(quoted, " "))
		if err != nil {
			return nil, fmt.Errorf("install libraries: %w", err)
		}
		if res.ExitCode != 0 {
			return nil, fmt.Errorf("install libraries exited with %d: %s", res.ExitCode, strings.TrimSpace(res.Result))
		}
	}

	run, err := sb.RunCode(ctx, args.Code)
	if err != nil {
		return nil, err
	}
	if run.ExitCode != 0 {
		return nil, fmt.Errorf("code exited with %d: %s", run.ExitCode, strings.TrimSpace(run.Result))
	}
	return &CodeResult{
		Title:  args.Title,
		Code:   args.Code,
		Result: run.Result,
		Charts: sandbox.StripImages(run.Artifacts.Charts),
	}, nil
}

// extraLibraries returns the requested libraries that the snapshot does not
// ship with. Names that are not plain package specifiers are rejected.
func (t *Toolset) extraLibraries(requested []string) ([]string, error) {
	var extra []string
	for _, lib := range requested {
		lib = strings.TrimSpace(lib)
		if lib == "" {
			continue
		}
		if !libraryPattern.MatchString(lib) {
			return nil, fmt.Errorf("invalid library name %q", lib)
		}
		if allowed(t.cfg.AllowedLibraries, lib) {
			continue
		}
		extra = append(extra, lib)
	}
	return extra, nil
}

func allowed(list []string, lib string) bool {
	name := lib
	if i := strings.IndexAny(name, "[=<>!~"); i >= 0 {
		name = name[:i]
	}
	return util.ContainsFold(list, name)
}
