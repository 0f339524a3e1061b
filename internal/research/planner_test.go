package research

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/llm"
)

type mockLLM struct{ mock.Mock }

func (m *mockLLM) GenerateObject(ctx context.Context, req llm.ObjectRequest, out any) error {
	return m.Called(ctx, req, out).Error(0)
}

func (m *mockLLM) GenerateText(ctx context.Context, req llm.TextRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockLLM) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*llm.ChatResponse)
	return resp, args.Error(1)
}

func todos(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("todo %d", i+1)
	}
	return out
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		in       Plan
		sections int
		total    int
	}{
		{"within bounds", Plan{Sections: []Section{{Title: "A", Todos: todos(3)}, {Title: "B", Todos: todos(4)}}}, 2, 7},
		{"too many todos per section", Plan{Sections: []Section{{Title: "A", Todos: todos(8)}}}, 1, 5},
		{"too many sections", Plan{Sections: []Section{
			{Title: "1", Todos: todos(1)}, {Title: "2", Todos: todos(1)}, {Title: "3", Todos: todos(1)},
			{Title: "4", Todos: todos(1)}, {Title: "5", Todos: todos(1)}, {Title: "6", Todos: todos(1)},
		}}, 5, 5},
		{"total capped", Plan{Sections: []Section{
			{Title: "1", Todos: todos(5)}, {Title: "2", Todos: todos(5)}, {Title: "3", Todos: todos(5)}, {Title: "4", Todos: todos(5)},
		}}, 3, 15},
		{"blank todos dropped", Plan{Sections: []Section{{Title: "A", Todos: []string{" ", "x", ""}}, {Title: "empty", Todos: []string{""}}}}, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Sanitize(tt.in)
			require.NoError(t, err)
			assert.Len(t, p.Sections, tt.sections)
			assert.Equal(t, tt.total, p.TotalTodos())
			assert.LessOrEqual(t, p.TotalTodos(), MaxTotalTodos)
			for _, s := range p.Sections {
				assert.LessOrEqual(t, len(s.Todos), MaxTodos)
				assert.NotEmpty(t, s.Title)
			}
		})
	}

	_, err := Sanitize(Plan{})
	assert.ErrorIs(t, err, ErrEmptyPlan)

	p, err := Sanitize(Plan{Sections: []Section{{Title: "  ", Todos: todos(3)}}})
	require.NoError(t, err)
	assert.Equal(t, "Section 1", p.Sections[0].Title)
}

func TestPlannerPlan(t *testing.T) {
	m := &mockLLM{}
	m.On("GenerateObject", mock.Anything, mock.MatchedBy(func(req llm.ObjectRequest) bool {
		return req.SchemaName == "research_plan" && req.Model == "planner"
	}), mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(2).(*Plan) = Plan{Sections: []Section{
			{Title: "Market", Todos: todos(3)},
			{Title: "Pricing", Todos: todos(6)},
		}}
	}).Return(nil)

	plan, err := NewPlanner(m, "planner", "", zaptest.NewLogger(t)).Plan(context.Background(), "EV battery supply chain")
	require.NoError(t, err)
	assert.Equal(t, 8, plan.TotalTodos())
	m.AssertExpectations(t)
}

func TestPlannerErrorPropagates(t *testing.T) {
	m := &mockLLM{}
	boom := errors.New("rate limited")
	m.On("GenerateObject", mock.Anything, mock.Anything, mock.Anything).Return(boom)

	_, err := NewPlanner(m, "planner", "", zaptest.NewLogger(t)).Plan(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
}
