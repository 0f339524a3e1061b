package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/research"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/search"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/usage"
)

const (
	userHeader     = "X-User-ID"
	maxRequestBody = 1 << 20
)

// Searcher runs a batch of queries.
type Searcher interface {
	Run(ctx context.Context, queries []string, opts search.Options) (*search.Response, error)
}

// Researcher runs one research invocation.
type Researcher interface {
	Run(ctx context.Context, prompt string, sink streaming.Sink) (*research.Research, error)
}

// APIConfig bounds background research runs.
type APIConfig struct {
	ResearchTimeout time.Duration
	ResultTTL       time.Duration
}

// APIHandler exposes search and research over HTTP. Progress goes to the
// streaming manager keyed by run id.
type APIHandler struct {
	searcher   Searcher
	researcher Researcher
	gate       usage.Gate
	mgr        *streaming.Manager
	runs       *runTable
	cfg        APIConfig
	logger     *zap.Logger

	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewAPIHandler(searcher Searcher, researcher Researcher, gate usage.Gate, mgr *streaming.Manager, cfg APIConfig, logger *zap.Logger) *APIHandler {
	if gate == nil {
		gate = usage.Unlimited{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResearchTimeout <= 0 {
		cfg.ResearchTimeout = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &APIHandler{
		searcher:   searcher,
		researcher: researcher,
		gate:       gate,
		mgr:        mgr,
		runs:       newRunTable(cfg.ResultTTL),
		cfg:        cfg,
		logger:     logger,
		baseCtx:    ctx,
		cancel:     cancel,
	}
}

func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/search", h.handleSearch)
	mux.HandleFunc("POST /api/research", h.handleStartResearch)
	mux.HandleFunc("GET /api/research/{id}", h.handleGetResearch)
}

type searchRequest struct {
	Queries    []string         `json:"queries"`
	MaxResults []int            `json:"maxResults"`
	Topics     []search.Topic   `json:"topics"`
	Quality    []search.Quality `json:"quality"`
	Market     string           `json:"market"`
}

type searchResponse struct {
	RunID string `json:"run_id"`
	*search.Response
}

// handleSearch runs the batch synchronously. Progress is still published under
// the returned run id for clients that replay it.
func (h *APIHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Queries) == 0 {
		writeError(w, http.StatusBadRequest, "queries required")
		return
	}
	opts := search.Options{
		MaxResults: req.MaxResults,
		Topics:     req.Topics,
		Quality:    req.Quality,
		Market:     req.Market,
	}
	if err := opts.Normalize(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := r.Header.Get(userHeader)
	if !h.allow(r.Context(), w, userID, usage.ModeSearch) {
		return
	}

	runID := uuid.NewString()
	opts.Progress = h.mgr.Sink(runID)
	start := time.Now()
	resp, err := h.searcher.Run(r.Context(), req.Queries, opts)
	h.publishDone(runID, err)
	h.record(userID, runID, usage.ModeSearch, start, err, 0, 0)
	if err != nil {
		h.logger.Error("Search failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{RunID: runID, Response: resp})
}

type researchRequest struct {
	Prompt string `json:"prompt"`
}

func (h *APIHandler) handleStartResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt required")
		return
	}
	userID := r.Header.Get(userHeader)
	if !h.allow(r.Context(), w, userID, usage.ModeResearch) {
		return
	}

	runID := uuid.NewString()
	h.runs.start(runID, req.Prompt)
	h.wg.Add(1)
	go h.runResearch(runID, userID, req.Prompt)

	h.logger.Info("Research run started", zap.String("run_id", runID), zap.String("user_id", userID))
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id":     runID,
		"status":     string(RunRunning),
		"stream_sse": "/stream/sse?run_id=" + runID,
		"stream_ws":  "/stream/ws?run_id=" + runID,
	})
}

// runResearch outlives the request; it is bound by the research timeout and Shutdown.
func (h *APIHandler) runResearch(runID, userID, prompt string) {
	defer h.wg.Done()
	ctx, cancel := context.WithTimeout(h.baseCtx, h.cfg.ResearchTimeout)
	defer cancel()

	start := time.Now()
	res, err := h.researcher.Run(ctx, prompt, h.mgr.Sink(runID))
	h.runs.finish(runID, res, err)

	steps, sources := 0, 0
	if res != nil {
		steps, sources = len(res.ToolResults), len(res.Sources)
	}
	h.record(userID, runID, usage.ModeResearch, start, err, steps, sources)
	h.publishDone(runID, err)

	if err != nil {
		h.logger.Error("Research run failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	h.logger.Info("Research run completed",
		zap.String("run_id", runID),
		zap.Int("sources", sources),
		zap.Duration("elapsed", time.Since(start)))
}

func (h *APIHandler) handleGetResearch(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.runs.get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *APIHandler) allow(ctx context.Context, w http.ResponseWriter, userID string, mode usage.Mode) bool {
	d, err := h.gate.Allow(ctx, userID, mode)
	if err != nil {
		// A broken usage store should not take search down.
		h.logger.Warn("Usage check failed, allowing", zap.String("mode", string(mode)), zap.Error(err))
		return true
	}
	if !d.Allowed {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": usage.ErrLimitExceeded.Error(),
			"used":  d.Used,
			"limit": d.Limit,
		})
		return false
	}
	return true
}

func (h *APIHandler) record(userID, runID string, mode usage.Mode, start time.Time, err error, steps, sources int) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rerr := h.gate.Record(ctx, usage.Run{
		ID:        runID,
		UserID:    userID,
		Mode:      mode,
		Status:    status,
		Steps:     steps,
		Sources:   sources,
		StartedAt: start,
	}); rerr != nil {
		h.logger.Warn("Failed to record usage", zap.String("run_id", runID), zap.Error(rerr))
	}
}

func (h *APIHandler) publishDone(runID string, err error) {
	ev := streaming.ProgressEvent{Kind: streaming.KindDone, ID: runID, Status: streaming.StatusCompleted}
	if err != nil {
		ev.Status, ev.Message = streaming.StatusError, err.Error()
	}
	h.mgr.Publish(runID, ev)
}

// SweepLoop drops expired run results and their progress backlog until ctx ends.
func (h *APIHandler) SweepLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range h.runs.sweep() {
				h.mgr.Forget(id)
			}
		}
	}
}

// Shutdown cancels in-flight runs and waits for them, or for ctx.
func (h *APIHandler) Shutdown(ctx context.Context) error {
	h.cancel()
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
