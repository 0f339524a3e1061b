package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/llm"
)

type mockLLM struct{ mock.Mock }

func (m *mockLLM) GenerateObject(ctx context.Context, req llm.ObjectRequest, out any) error {
	args := m.Called(ctx, req, out)
	return args.Error(0)
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

func strPtr(s string) *string { return &s }

func TestExtractCleansModelOutput(t *testing.T) {
	m := &mockLLM{}
	m.On("GenerateObject", mock.Anything, mock.MatchedBy(func(req llm.ObjectRequest) bool {
		return req.SchemaName == "query_components" && req.Model == "gpt-x"
	}), mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(2).(*extraction) = extraction{
			Topic:           []string{" labelling ", "", "UDI", "vigilance", "recalls"},
			ProductCategory: []string{"class II devices"},
			Country:         strPtr("  India "),
		}
	}).Return(nil)

	c := NewExtractor(m, "gpt-x", "", zaptest.NewLogger(t)).Extract(context.Background(), "labelling rules for class II devices in India")
	assert.Equal(t, []string{"labelling", "UDI", "vigilance"}, c.Topic)
	assert.Equal(t, []string{"class II devices"}, c.ProductCategory)
	assert.Equal(t, "India", c.Country)
	m.AssertExpectations(t)
}

func TestExtractMissingCountry(t *testing.T) {
	m := &mockLLM{}
	m.On("GenerateObject", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(2).(*extraction) = extraction{Topic: []string{"vigilance reporting"}}
	}).Return(nil)

	c := NewExtractor(m, "gpt-x", "", zaptest.NewLogger(t)).Extract(context.Background(), "vigilance reporting timelines")
	assert.Equal(t, []string{"vigilance reporting"}, c.Topic)
	assert.Empty(t, c.Country)

	_, ok := Fill(c, DefaultFacets)
	assert.False(t, ok)
}

func TestExtractFailureYieldsEmptyComponents(t *testing.T) {
	m := &mockLLM{}
	m.On("GenerateObject", mock.Anything, mock.Anything, mock.Anything).Return(llm.ErrInvalidObject)

	c := NewExtractor(m, "gpt-x", "", zaptest.NewLogger(t)).Extract(context.Background(), "anything")
	assert.True(t, c.Empty())

	assert.True(t, NewExtractor(m, "gpt-x", "", nil).Extract(context.Background(), "   ").Empty())
	m.AssertNumberOfCalls(t, "GenerateObject", 1)
}

func TestFillDefaults(t *testing.T) {
	f, ok := Fill(Components{Country: "India"}, DefaultFacets)
	require.True(t, ok)
	assert.Equal(t, DefaultFacets.Topic, f.Topic)
	assert.Equal(t, DefaultFacets.ProductCategory, f.ProductCategory)

	f, ok = Fill(Components{Topic: []string{"labelling"}, Country: "US"}, DefaultFacets)
	require.True(t, ok)
	assert.Equal(t, []string{"labelling"}, f.Topic)
}

func newTestReformulator(t *testing.T, m *mockLLM) *Reformulator {
	r := NewReformulator(m, "gpt-x", "", zaptest.NewLogger(t))
	r.now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }
	return r
}

func TestReformulate(t *testing.T) {
	filled := Filled{Topic: []string{"labelling"}, ProductCategory: []string{"devices"}, Country: "India"}

	tests := []struct {
		name  string
		reply string
		err   error
		want  string
	}{
		{"keeps year", "CDSCO medical device labelling requirements 2025", nil, "CDSCO medical device labelling requirements 2025"},
		{"keeps latest", `"latest CDSCO labelling rules for devices"`, nil, "latest CDSCO labelling rules for devices"},
		{"appends year", "CDSCO device labelling rules", nil, "CDSCO device labelling rules 2025"},
		{"model error", "", errors.New("boom"), "device labelling in India"},
		{"empty answer", "  \n", nil, "device labelling in India"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockLLM{}
			m.On("GenerateText", mock.Anything, mock.MatchedBy(func(req llm.TextRequest) bool {
				return req.Model == "gpt-x" && req.Prompt != ""
			})).Return(tt.reply, tt.err)

			got := newTestReformulator(t, m).Reformulate(context.Background(), "device labelling in India", filled)
			assert.Equal(t, tt.want, got)
		})
	}
}
