// Package research runs the plan-then-research agent: a bounded tool-calling
// loop over web search, X search and sandboxed code execution.
package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/util"
)

const (
	MaxSections   = 5
	MinTodos      = 3
	MaxTodos      = 5
	MaxTotalTodos = 15
)

// ErrEmptyPlan is returned when the model produced no usable section.
var ErrEmptyPlan = errors.New("research plan has no actionable todos")

// Section is one research area with its concrete actions.
type Section struct {
	Title string   `json:"title"`
	Todos []string `json:"todos"`
}

// Plan is the ordered research plan.
type Plan struct {
	Sections []Section `json:"plan"`
}

// TotalTodos is the step budget the plan grants the agent.
func (p *Plan) TotalTodos() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, s := range p.Sections {
		n += len(s.Todos)
	}
	return n
}

// Sanitize bounds a model-produced plan: blank entries are dropped, at most
// MaxSections sections and MaxTodos todos per section are kept, and todos past
// MaxTotalTodos are cut. Sections shorter than MinTodos are kept as they are.
func Sanitize(in Plan) (*Plan, error) {
	out := &Plan{Sections: make([]Section, 0, MaxSections)}
	total := 0
	for _, s := range in.Sections {
		if len(out.Sections) == MaxSections || total == MaxTotalTodos {
			break
		}
		todos := util.CleanStrings(s.Todos, MaxTodos)
		if remaining := MaxTotalTodos - total; len(todos) > remaining {
			todos = todos[:remaining]
		}
		if len(todos) == 0 {
			continue
		}
		title := strings.TrimSpace(s.Title)
		if title == "" {
			title = fmt.Sprintf("Section %d", len(out.Sections)+1)
		}
		out.Sections = append(out.Sections, Section{Title: title, Todos: todos})
		total += len(todos)
	}
	if total == 0 {
		return nil, ErrEmptyPlan
	}
	return out, nil
}

const plannerSystemPrompt = `You plan research. Break the request into 1 to 5 sections.
Give every section 3 to 5 specific, searchable todos. Use at most 15 todos in total.
Each todo is one action: a web search, an X search or a calculation.`

var planSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "plan": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "title": {"type": "string"},
          "todos": {"type": "array", "items": {"type": "string"}}
        },
        "required": ["title", "todos"],
        "additionalProperties": false
      }
    }
  },
  "required": ["plan"],
  "additionalProperties": false
}`)

// Planner turns a research prompt into a Plan.
type Planner struct {
	client llm.Client
	model  string
	system string
	now    func() time.Time
	logger *zap.Logger
}

// NewPlanner returns a planner. An empty systemPrompt selects the built-in one.
func NewPlanner(client llm.Client, model, systemPrompt string, logger *zap.Logger) *Planner {
	if systemPrompt == "" {
		systemPrompt = plannerSystemPrompt
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{client: client, model: model, system: systemPrompt, now: time.Now, logger: logger}
}

// Plan makes one structured-generation call. Model errors propagate.
func (p *Planner) Plan(ctx context.Context, prompt string) (*Plan, error) {
	var raw Plan
	err := p.client.GenerateObject(ctx, llm.ObjectRequest{
		Model:      p.model,
		System:     p.system,
		Prompt:     fmt.Sprintf("Today is %s.\nResearch request: %s", p.now().Format("2006-01-02"), prompt),
		SchemaName: "research_plan",
		Schema:     planSchema,
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("plan research: %w", err)
	}
	plan, err := Sanitize(raw)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Research plan ready",
		zap.Int("sections", len(plan.Sections)),
		zap.Int("todos", plan.TotalTodos()))
	return plan, nil
}
