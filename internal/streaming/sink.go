package streaming

import (
	"sync"
	"time"
)

// Sink accepts progress events. The core only ever writes to a sink.
type Sink interface {
	Emit(ev ProgressEvent)
}

// Emit stamps ev and hands it to s. A nil sink discards the event, which is
// how headless invocations run.
func Emit(s Sink, ev ProgressEvent) {
	if s == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.Emit(ev)
}

// ChannelSink pushes events onto a channel drained by the transport layer.
// Sends block until the consumer reads or done is closed, so per-id order is kept.
type ChannelSink struct {
	ch   chan<- ProgressEvent
	done <-chan struct{}
}

// NewChannelSink returns a sink writing to ch. done may be nil.
func NewChannelSink(ch chan<- ProgressEvent, done <-chan struct{}) *ChannelSink {
	return &ChannelSink{ch: ch, done: done}
}

func (s *ChannelSink) Emit(ev ProgressEvent) {
	if s == nil || s.ch == nil {
		return
	}
	select {
	case s.ch <- ev:
	case <-s.done:
	}
}

// FuncSink adapts a function to Sink.
type FuncSink func(ProgressEvent)

func (f FuncSink) Emit(ev ProgressEvent) {
	if f != nil {
		f(ev)
	}
}

// Recorder keeps every emitted event in memory. Used by the CLI and tests.
type Recorder struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Emit(ev ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProgressEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Filter returns recorded events of the given kind, in emission order.
func (r *Recorder) Filter(kind Kind) []ProgressEvent {
	var out []ProgressEvent
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// ByID groups recorded events by correlation id.
func (r *Recorder) ByID() map[string][]ProgressEvent {
	out := make(map[string][]ProgressEvent)
	for _, ev := range r.Events() {
		if ev.ID == "" {
			continue
		}
		out[ev.ID] = append(out[ev.ID], ev)
	}
	return out
}
