// Package llm defines the chat-completion client contract used by the
// orchestrator and the OpenAI-compatible provider adapters behind it.
//
// Every provider failure (transport, timeout, bad status, malformed body,
// provider-reported error, empty choices) surfaces the same way: a
// ChatResponse with Success=false and Error set. Callers never branch on
// which provider produced it.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Role constants for messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is a single turn sent to the provider.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
}

// ToolDefinition describes a function the model may call.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a model request to invoke a tool. Arguments is the raw JSON
// blob as the provider sent it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatRequest is the input to Chat and Stream.
type ChatRequest struct {
	Model       string           `json:"model,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  string           `json:"toolChoice,omitempty"` // "auto" | "none" | "required"
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   int              `json:"maxTokens,omitempty"`
}

// ChatResponse is the result of a Chat call.
type ChatResponse struct {
	Success      bool          `json:"success"`
	Content      string        `json:"content,omitempty"`
	ToolCalls    []ToolCall    `json:"toolCalls,omitempty"`
	FinishReason string        `json:"finishReason,omitempty"`
	Error        string        `json:"error,omitempty"`
	Usage        Usage         `json:"usage"`
	Model        string        `json:"model,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`

	// StatusCode is the HTTP status of a failed call, 0 when the failure
	// happened before a response arrived.
	StatusCode int `json:"-"`
}

// HasToolCalls reports whether the model asked for tools this turn.
func (r ChatResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Failure builds a failed ChatResponse.
func Failure(format string, args ...any) ChatResponse {
	return ChatResponse{Error: fmt.Sprintf(format, args...)}
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Add accumulates another usage record.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
}

// StreamEvent is a chunk from a streaming completion.
type StreamEvent struct {
	Type    string `json:"type"`              // "delta", "done", "error"
	Content string `json:"content,omitempty"` // text delta
	Error   string `json:"error,omitempty"`   // error message (type="error")

	// Final fields (type="done")
	Response *ChatResponse `json:"response,omitempty"`
}

// Client is the interface all LLM providers implement.
type Client interface {
	// Chat sends a request and returns the full response. It never
	// returns a Go error; failures set Success=false.
	Chat(ctx context.Context, req ChatRequest) ChatResponse

	// Stream sends a tool-less request and returns a channel of text
	// fragments. The channel is closed when the stream ends. Cancelling
	// ctx stops reading and closes the channel without an error event.
	Stream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error)

	// Name returns the provider name (e.g., "openai", "azure").
	Name() string
}
