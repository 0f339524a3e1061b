package research

import (
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/sandbox"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/search"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/util"
)

// SourceContentLimit bounds source content in the final artifact.
const SourceContentLimit = 3000

// Research is the final artifact of one agent run.
type Research struct {
	Text        string                `json:"text"`
	ToolResults []ToolResult          `json:"toolResults"`
	Sources     []search.SearchResult `json:"sources"`
	Charts      []sandbox.Chart       `json:"charts"`
}

// AggregateSources dedups sources by URL (first wins) and truncates content to
// limit runes plus an ellipsis. limit never exceeds SourceContentLimit.
func AggregateSources(sources []search.SearchResult, limit int) []search.SearchResult {
	if limit <= 0 || limit > SourceContentLimit {
		limit = SourceContentLimit
	}
	out := make([]search.SearchResult, 0, len(sources))
	seen := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		if s.URL == "" {
			continue
		}
		if _, dup := seen[s.URL]; dup {
			continue
		}
		seen[s.URL] = struct{}{}
		s.Content = util.Truncate(s.Content, limit)
		out = append(out, s)
	}
	return out
}

// CollectCharts gathers chart metadata from successful code runs.
func CollectCharts(results []ToolResult) []sandbox.Chart {
	charts := []sandbox.Chart{}
	for _, tr := range results {
		if tr.Tool != ToolCodeRunner || tr.Error != "" {
			continue
		}
		if cr, ok := tr.Result.(*CodeResult); ok {
			charts = append(charts, sandbox.StripImages(cr.Charts)...)
		}
	}
	return charts
}
