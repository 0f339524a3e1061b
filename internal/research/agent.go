package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/tracing"
)

// State is the phase of an agent run.
type State string

const (
	StatePlanning     State = "planning"
	StateResearching  State = "researching"
	StateSynthesizing State = "synthesizing"
	StateDone         State = "done"
)

// ErrBudgetExceeded marks a run whose step budget ran out before the model
// stopped calling tools. It is the normal way into synthesis, not a failure.
var ErrBudgetExceeded = errors.New("step budget exhausted")

const (
	skippedToolMessage = "skipped: step budget exhausted, answer from the findings so far"
	finalAnswerPrompt  = "The research step budget is used up. Write the final answer now from the findings above, cite sources, and state plainly what could not be established."
)

const agentSystemPrompt = `You are a research agent. Today is %s.
Work through the plan one action at a time using the tools. Prefer webSearch for facts,
xSearch for recent discussion and codeRunner for calculations or charts.
If a tool fails, decide whether to retry differently or move on, and mention gaps in the answer.
When done, write a thorough answer with citations to the sources you used.`

// PlanMaker produces a research plan.
type PlanMaker interface {
	Plan(ctx context.Context, prompt string) (*Plan, error)
}

// AgentConfig tunes the loop.
type AgentConfig struct {
	Model        string
	SystemPrompt string
	// RetryAllowance is added to the plan's todo count to form the step budget.
	RetryAllowance int
	ContentLimit   int
}

// Agent runs plan, research and synthesis for one prompt at a time per call;
// calls do not share state.
type Agent struct {
	planner PlanMaker
	client  llm.Client
	tools   *Toolset
	cfg     AgentConfig
	now     func() time.Time
	logger  *zap.Logger
}

// NewAgent wires an agent.
func NewAgent(planner PlanMaker, client llm.Client, tools *Toolset, cfg AgentConfig, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryAllowance < 0 {
		cfg.RetryAllowance = 0
	}
	return &Agent{planner: planner, client: client, tools: tools, cfg: cfg, now: time.Now, logger: logger}
}

// run is the per-invocation state of Agent.Run.
type run struct {
	id     string
	state  State
	budget int
	steps  int
	acc    *Accumulator
	sink   streaming.Sink
	logger *zap.Logger
}

func (r *run) transition(to State) {
	r.logger.Debug("Research state transition", zap.String("from", string(r.state)), zap.String("to", string(to)))
	r.state = to
}

// Run executes one research invocation. Planner and model errors propagate;
// tool failures are handed back to the model.
func (a *Agent) Run(ctx context.Context, prompt string, sink streaming.Sink) (res *Research, err error) {
	start := time.Now()
	r := &run{id: uuid.NewString(), state: StatePlanning, acc: NewAccumulator(), sink: sink}
	r.logger = a.logger.With(zap.String("research_id", r.id))

	ctx, span := tracing.StartSpan(ctx, "research.run", attribute.String("research.id", r.id))
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.AgentRuns.WithLabelValues(status).Inc()
		metrics.AgentDuration.Observe(time.Since(start).Seconds())
		tracing.EndSpan(span, err)
	}()

	plan, err := a.plan(ctx, r, prompt)
	if err != nil {
		return nil, err
	}
	r.budget = plan.TotalTodos() + a.cfg.RetryAllowance
	r.transition(StateResearching)

	text, err := a.research(ctx, r, prompt, plan)
	if err != nil {
		return nil, err
	}

	r.transition(StateSynthesizing)
	toolResults := r.acc.ToolResults()
	res = &Research{
		Text:        text,
		ToolResults: toolResults,
		Sources:     AggregateSources(r.acc.Sources(), a.cfg.ContentLimit),
		Charts:      CollectCharts(toolResults),
	}
	r.transition(StateDone)

	r.logger.Info("Research completed",
		zap.Int("steps", r.steps),
		zap.Int("budget", r.budget),
		zap.Int("sources", len(res.Sources)),
		zap.Int("charts", len(res.Charts)),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (a *Agent) plan(ctx context.Context, r *run, prompt string) (*Plan, error) {
	id := uuid.NewString()
	streaming.Emit(r.sink, streaming.ProgressEvent{Kind: streaming.KindPlan, ID: id, Status: streaming.StatusStarted, Message: "Planning research"})
	plan, err := a.planner.Plan(ctx, prompt)
	if err != nil {
		streaming.Emit(r.sink, streaming.ProgressEvent{Kind: streaming.KindPlan, ID: id, Status: streaming.StatusError, Message: err.Error()})
		return nil, err
	}
	metrics.PlannedTodos.Observe(float64(plan.TotalTodos()))
	streaming.Emit(r.sink, streaming.ProgressEvent{
		Kind:        streaming.KindPlan,
		ID:          id,
		Status:      streaming.StatusCompleted,
		ResultCount: plan.TotalTodos(),
		Payload:     plan.Sections,
	})
	return plan, nil
}

// research is the bounded tool loop. Every executed tool call consumes one
// step; calls past the budget are answered without running.
func (a *Agent) research(ctx context.Context, r *run, prompt string, plan *Plan) (string, error) {
	planJSON, _ := json.Marshal(plan.Sections)
	system := a.cfg.SystemPrompt
	if system == "" {
		system = fmt.Sprintf(agentSystemPrompt, a.now().Format("2006-01-02"))
	}
	messages := []llm.Message{{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf("Research request: %s\n\nPlan (%d actions):\n%s", prompt, plan.TotalTodos(), planJSON),
	}}
	tools := a.tools.Definitions()

	for r.steps < r.budget {
		resp, err := a.client.Chat(ctx, llm.ChatRequest{Model: a.cfg.Model, System: system, Messages: messages, Tools: tools})
		if err != nil {
			return "", fmt.Errorf("research step %d: %w", r.steps+1, err)
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			if r.steps >= r.budget {
				metrics.AgentSteps.WithLabelValues(call.Name, "skipped").Inc()
				r.acc.AddToolResult(ToolResult{ToolCallID: call.ID, Tool: call.Name, Args: call.Arguments, Error: skippedToolMessage})
				messages = append(messages, llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: skippedToolMessage})
				continue
			}
			r.steps++
			messages = append(messages, a.step(ctx, r, call))
		}
	}

	r.logger.Info("Research step budget reached", zap.Int("budget", r.budget), zap.NamedError("reason", ErrBudgetExceeded))
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: finalAnswerPrompt})
	resp, err := a.client.Chat(ctx, llm.ChatRequest{Model: a.cfg.Model, System: system, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("final synthesis: %w", err)
	}
	return resp.Content, nil
}

// step executes one tool call and returns the tool message for the model.
func (a *Agent) step(ctx context.Context, r *run, call llm.ToolCall) llm.Message {
	ctx, span := tracing.StartSpan(ctx, "research.step",
		attribute.String("tool", call.Name),
		attribute.Int("step", r.steps))
	out, err := a.tools.Execute(ctx, call, r.acc, r.sink)
	tracing.EndSpan(span, err)

	tr := ToolResult{ToolCallID: call.ID, Tool: call.Name, Args: call.Arguments, Result: out}
	var content string
	if err != nil {
		metrics.AgentSteps.WithLabelValues(call.Name, "error").Inc()
		r.logger.Warn("Research tool failed", zap.String("tool", call.Name), zap.Int("step", r.steps), zap.Error(err))
		tr.Error = err.Error()
		content = toolJSON(map[string]string{"error": err.Error()})
	} else {
		metrics.AgentSteps.WithLabelValues(call.Name, "success").Inc()
		content = toolJSON(out)
	}
	r.acc.AddToolResult(tr)
	return llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: content}
}

func toolJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(b)
}
