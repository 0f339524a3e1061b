package research

import (
	"encoding/json"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/search"
)

// ToolResult records one executed (or refused) tool call.
type ToolResult struct {
	ToolCallID string          `json:"toolCallId"`
	Tool       string          `json:"tool"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     any             `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Accumulator collects what one agent run found. It belongs to a single
// invocation; steps append to it one at a time.
type Accumulator struct {
	sources     []search.SearchResult
	toolResults []ToolResult
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

func (a *Accumulator) AddSources(rs ...search.SearchResult) {
	a.sources = append(a.sources, rs...)
}

func (a *Accumulator) AddToolResult(tr ToolResult) {
	a.toolResults = append(a.toolResults, tr)
}

// Sources returns everything collected so far, duplicates included.
func (a *Accumulator) Sources() []search.SearchResult {
	return append([]search.SearchResult(nil), a.sources...)
}

func (a *Accumulator) ToolResults() []ToolResult {
	return append([]ToolResult(nil), a.toolResults...)
}
