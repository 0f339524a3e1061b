package httpapi

import (
	"sync"
	"time"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/research"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunRecord is the externally visible state of a research run.
type RunRecord struct {
	ID         string             `json:"run_id"`
	Status     RunStatus          `json:"status"`
	Prompt     string             `json:"prompt"`
	Result     *research.Research `json:"result,omitempty"`
	Error      string             `json:"error,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

// runTable keeps finished runs for ttl after completion.
type runTable struct {
	mu   sync.RWMutex
	runs map[string]*RunRecord
	ttl  time.Duration
	now  func() time.Time
}

func newRunTable(ttl time.Duration) *runTable {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &runTable{runs: make(map[string]*RunRecord), ttl: ttl, now: time.Now}
}

func (t *runTable) start(id, prompt string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[id] = &RunRecord{ID: id, Status: RunRunning, Prompt: prompt, StartedAt: t.now().UTC()}
}

func (t *runTable) finish(id string, res *research.Research, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.runs[id]
	if !ok {
		return
	}
	finished := t.now().UTC()
	rec.FinishedAt = &finished
	if err != nil {
		rec.Status, rec.Error = RunFailed, err.Error()
		return
	}
	rec.Status, rec.Result = RunCompleted, res
}

// get returns a copy of the record.
func (t *runTable) get(id string) (RunRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.runs[id]
	if !ok {
		return RunRecord{}, false
	}
	return *rec, true
}

// sweep drops finished runs older than ttl and returns their ids.
func (t *runTable) sweep() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-t.ttl)
	var dropped []string
	for id, rec := range t.runs {
		if rec.FinishedAt != nil && rec.FinishedAt.Before(cutoff) {
			delete(t.runs, id)
			dropped = append(dropped, id)
		}
	}
	return dropped
}
