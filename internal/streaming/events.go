package streaming

import (
	"encoding/json"
	"time"
)

// Kind discriminates progress events.
type Kind string

const (
	KindPlan    Kind = "plan"
	KindQuery   Kind = "query"
	KindSource  Kind = "source"
	KindContent Kind = "content"
	KindCode    Kind = "code"
	KindXSearch Kind = "x_search"
	// KindMessage carries a synthesized assistant turn (clarification or notice).
	KindMessage Kind = "message"
	// KindDone is published by the transport once a run has produced its result.
	KindDone Kind = "done"
)

// Status is the lifecycle marker of a correlated event.
type Status string

const (
	StatusStarted        Status = "started"
	StatusReadingContent Status = "reading_content"
	StatusCompleted      Status = "completed"
	StatusError          Status = "error"
)

// Terminal reports whether s closes the lifecycle of a correlation id.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ProgressEvent is a single record on the progress stream. ID is the
// correlation id (query, code or x-search id depending on Kind).
type ProgressEvent struct {
	RunID       string    `json:"run_id,omitempty"`
	Kind        Kind      `json:"kind"`
	ID          string    `json:"id,omitempty"`
	Status      Status    `json:"status,omitempty"`
	Query       string    `json:"query,omitempty"`
	Message     string    `json:"message,omitempty"`
	ResultCount int       `json:"result_count,omitempty"`
	ImageCount  int       `json:"image_count,omitempty"`
	Payload     any       `json:"payload,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Seq         uint64    `json:"seq"`
}

// Marshal returns JSON for SSE frames and logs.
func (e ProgressEvent) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}
