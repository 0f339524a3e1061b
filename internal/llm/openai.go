package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/searchcore/internal/tracing"
)

// Config configures an OpenAI-compatible client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// HTTPClient overrides the transport, typically a breaker-guarded client.
	HTTPClient *http.Client
	Limits     *ratecontrol.Registry
}

// OpenAI implements Client over any OpenAI-compatible endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
	limits *ratecontrol.Registry
	logger *zap.Logger
}

var _ Client = (*OpenAI)(nil)

// NewOpenAI builds a client. Model is the default when requests leave it empty.
func NewOpenAI(cfg Config, logger *zap.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: default model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		limits: cfg.Limits,
		logger: logger,
	}, nil
}

// GenerateObject requests a strict JSON schema response and decodes it into out.
func (c *OpenAI) GenerateObject(ctx context.Context, req ObjectRequest, out any) error {
	name := req.SchemaName
	if name == "" {
		name = "result"
	}
	creq := openai.ChatCompletionRequest{
		Model:    c.modelFor(req.Model),
		Messages: systemAndUser(req.System, req.Prompt),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: req.Schema,
				Strict: true,
			},
		},
	}
	resp, err := c.complete(ctx, "object", creq)
	if err != nil {
		return err
	}
	return DecodeObject(resp.Choices[0].Message.Content, out)
}

// GenerateText returns the trimmed completion text.
func (c *OpenAI) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	creq := openai.ChatCompletionRequest{
		Model:       c.modelFor(req.Model),
		Messages:    systemAndUser(req.System, req.Prompt),
		Temperature: req.Temperature,
	}
	resp, err := c.complete(ctx, "text", creq)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Chat runs one tool-calling turn.
func (c *OpenAI) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, toOpenAIMessage(m))
	}
	creq := openai.ChatCompletionRequest{
		Model:       c.modelFor(req.Model),
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, t := range req.Tools {
		creq.Tools = append(creq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	resp, err := c.complete(ctx, "chat", creq)
	if err != nil {
		return nil, err
	}
	choice := resp.Choices[0]
	out := &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args := strings.TrimSpace(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return out, nil
}

func (c *OpenAI) complete(ctx context.Context, op string, req openai.ChatCompletionRequest) (resp openai.ChatCompletionResponse, err error) {
	if err := c.limits.Wait(ctx, "llm"); err != nil {
		return resp, err
	}
	ctx, span := tracing.StartSpan(ctx, "llm."+op)
	defer func() { tracing.EndSpan(span, err) }()

	resp, err = c.client.CreateChatCompletion(ctx, req)
	metrics.RecordLLMCall(op, req.Model, err, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	if err != nil {
		c.logger.Warn("Language model call failed",
			zap.String("op", op),
			zap.String("model", req.Model),
			zap.Error(err))
		return resp, fmt.Errorf("llm %s: %w", op, err)
	}
	if len(resp.Choices) == 0 {
		return resp, fmt.Errorf("llm %s: %w", op, ErrEmptyResponse)
	}
	return resp, nil
}

func (c *OpenAI) modelFor(m string) string {
	if m != "" {
		return m
	}
	return c.model
}

func systemAndUser(system, prompt string) []openai.ChatCompletionMessage {
	var msgs []openai.ChatCompletionMessage
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
}

func toOpenAIMessage(m Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	if m.Role == RoleTool && out.Content == "" {
		out.Content = "(empty)"
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: string(tc.Arguments),
			},
		})
	}
	return out
}
