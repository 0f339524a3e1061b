package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/streaming"
)

// StreamingHandler serves progress events of a run over SSE and WebSocket.
type StreamingHandler struct {
	mgr    *streaming.Manager
	logger *zap.Logger
}

func NewStreamingHandler(mgr *streaming.Manager, logger *zap.Logger) *StreamingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamingHandler{mgr: mgr, logger: logger}
}

// RegisterRoutes registers SSE and WebSocket routes on the provided mux.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /stream/sse", h.handleSSE)
	mux.HandleFunc("GET /stream/ws", h.handleWS)
}

// streamRequest is what both transports read from the request.
type streamRequest struct {
	runID  string
	lastID uint64
	kinds  map[streaming.Kind]struct{}
}

func parseStreamRequest(r *http.Request) (streamRequest, error) {
	q := r.URL.Query()
	sr := streamRequest{runID: q.Get("run_id"), kinds: map[streaming.Kind]struct{}{}}
	if sr.runID == "" {
		return sr, fmt.Errorf("run_id required")
	}
	if s := q.Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				sr.kinds[streaming.Kind(t)] = struct{}{}
			}
		}
	}
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			sr.lastID = n
		}
	}
	if v := q.Get("last_event_id"); v != "" && sr.lastID == 0 {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			sr.lastID = n
		}
	}
	return sr, nil
}

// wants filters by kind. The done event always passes so clients can stop.
func (sr streamRequest) wants(ev streaming.ProgressEvent) bool {
	if len(sr.kinds) == 0 || ev.Kind == streaming.KindDone {
		return true
	}
	_, ok := sr.kinds[ev.Kind]
	return ok
}

// handleSSE streams events for a run.
// GET /stream/sse?run_id=<id>[&types=query,source][&last_event_id=N]
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	sr, err := parseStreamRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Subscribe before replaying so nothing published in between is lost.
	ch := h.mgr.Subscribe(sr.runID, 256)
	defer h.mgr.Unsubscribe(sr.runID, ch)

	fmt.Fprintf(w, ": connected to run %s\n\n", sr.runID)
	flusher.Flush()

	sent := sr.lastID
	write := func(ev streaming.ProgressEvent) bool {
		if ev.Seq <= sent {
			return false
		}
		sent = ev.Seq
		if sr.wants(ev) {
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, ev.Marshal())
		}
		return ev.Kind == streaming.KindDone
	}

	for _, ev := range h.mgr.ReplaySince(r.Context(), sr.runID, sr.lastID) {
		if write(ev) {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()
	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("SSE client disconnected", zap.String("run_id", sr.runID))
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			done := write(ev)
			flusher.Flush()
			if done {
				return
			}
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
