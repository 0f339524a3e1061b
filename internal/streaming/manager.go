package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultCapacity  = 256
	defaultStreamTTL = 24 * time.Hour
	streamKeyPrefix  = "searchcore:progress:"
)

// Manager fans progress events of a run out to live subscribers and keeps a
// per-run backlog for Last-Event-ID replay. With a Redis client the backlog is
// also appended to a Redis stream so another replica can replay it.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan ProgressEvent]struct{}
	history     map[string]*ring
	capacity    int

	rdb       *redis.Client
	streamTTL time.Duration
	logger    *zap.Logger
}

// NewManager creates a manager. rdb may be nil for in-memory only operation.
func NewManager(rdb *redis.Client, capacity int, logger *zap.Logger) *Manager {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		subscribers: make(map[string]map[chan ProgressEvent]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		rdb:         rdb,
		streamTTL:   defaultStreamTTL,
		logger:      logger,
	}
}

// Subscribe registers a buffered channel for runID. The caller drains it and
// calls Unsubscribe.
func (m *Manager) Subscribe(runID string, buffer int) chan ProgressEvent {
	ch := make(chan ProgressEvent, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[runID]
	if subs == nil {
		subs = make(map[chan ProgressEvent]struct{})
		m.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes ch.
func (m *Manager) Unsubscribe(runID string, ch chan ProgressEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs, ok := m.subscribers[runID]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(m.subscribers, runID)
	}
}

// Subscribers reports how many live subscribers runID has.
func (m *Manager) Subscribers(runID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers[runID])
}

// Publish assigns the next sequence number and delivers ev to subscribers.
// Slow subscribers miss events; they can recover them through ReplaySince.
func (m *Manager) Publish(runID string, ev ProgressEvent) ProgressEvent {
	m.mu.Lock()
	rg := m.history[runID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[runID] = rg
	}
	rg.nextSeq++
	ev.Seq = rg.nextSeq
	ev.RunID = runID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	rg.push(ev)
	subs := make([]chan ProgressEvent, 0, len(m.subscribers[runID]))
	for ch := range m.subscribers[runID] {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}

	if m.rdb != nil {
		m.appendStream(ev)
	}
	return ev
}

// Pump publishes everything received on ch until it is closed.
func (m *Manager) Pump(runID string, ch <-chan ProgressEvent) {
	for ev := range ch {
		m.Publish(runID, ev)
	}
}

// Sink returns a sink that publishes directly to runID.
func (m *Manager) Sink(runID string) Sink {
	return FuncSink(func(ev ProgressEvent) { m.Publish(runID, ev) })
}

// ReplaySince returns events with Seq > since. The in-memory ring is used when
// it has the run; otherwise the Redis stream is consulted.
func (m *Manager) ReplaySince(ctx context.Context, runID string, since uint64) []ProgressEvent {
	m.mu.RLock()
	rg := m.history[runID]
	var out []ProgressEvent
	if rg != nil {
		out = rg.since(since)
	}
	m.mu.RUnlock()
	if rg != nil || m.rdb == nil {
		return out
	}
	evs, err := m.readStream(ctx, runID, since)
	if err != nil {
		m.logger.Warn("Failed to replay progress stream", zap.String("run_id", runID), zap.Error(err))
		return nil
	}
	return evs
}

// Forget drops the in-memory backlog of a finished run.
func (m *Manager) Forget(runID string) {
	m.mu.Lock()
	delete(m.history, runID)
	m.mu.Unlock()
}

func (m *Manager) appendStream(ev ProgressEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := streamKeyPrefix + ev.RunID
	pipe := m.rdb.Pipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: int64(m.capacity),
		Approx: true,
		Values: map[string]interface{}{
			"seq":   ev.Seq,
			"event": ev.Marshal(),
		},
	})
	pipe.Expire(ctx, key, m.streamTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Debug("Failed to append progress event to redis",
			zap.String("run_id", ev.RunID),
			zap.Uint64("seq", ev.Seq),
			zap.Error(err))
	}
}

func (m *Manager) readStream(ctx context.Context, runID string, since uint64) ([]ProgressEvent, error) {
	msgs, err := m.rdb.XRange(ctx, streamKeyPrefix+runID, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("xrange: %w", err)
	}
	out := make([]ProgressEvent, 0, len(msgs))
	for _, msg := range msgs {
		if seq, ok := msg.Values["seq"].(string); ok {
			if n, err := strconv.ParseUint(seq, 10, 64); err == nil && n <= since {
				continue
			}
		}
		raw, ok := msg.Values["event"].(string)
		if !ok {
			continue
		}
		var ev ProgressEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// ring is a fixed-capacity backlog of events.
type ring struct {
	buf     []ProgressEvent
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]ProgressEvent, capacity)} }

func (r *ring) push(e ProgressEvent) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []ProgressEvent {
	out := make([]ProgressEvent, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
