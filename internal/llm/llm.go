// Package llm is the language-model boundary: strict structured generation,
// free-text generation and tool-calling chat.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

var (
	ErrEmptyResponse = errors.New("model returned an empty response")
	ErrInvalidObject = errors.New("model output does not match the requested schema")
)

// Message is one chat turn. Tool results carry ToolCallID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Tool is a function the model may call. Parameters is a JSON schema.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolCall is a model request to run a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// ChatRequest drives one tool-calling turn.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []Tool
	Temperature float32
	MaxTokens   int
}

// ChatResponse is the assistant turn.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// ObjectRequest asks for JSON matching Schema.
type ObjectRequest struct {
	Model      string
	System     string
	Prompt     string
	SchemaName string
	Schema     json.RawMessage
}

// TextRequest asks for free text.
type TextRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float32
}

// Client is implemented by model back-ends.
type Client interface {
	// GenerateObject decodes the model output into out, which must be a pointer.
	GenerateObject(ctx context.Context, req ObjectRequest, out any) error
	GenerateText(ctx context.Context, req TextRequest) (string, error)
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// DecodeObject parses model output into out, tolerating markdown code fences.
func DecodeObject(content string, out any) error {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return errors.Join(ErrInvalidObject, err)
	}
	return nil
}
