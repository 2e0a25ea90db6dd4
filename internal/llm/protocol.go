package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Wire structures for the chat-completions protocol shared by every adapter.

type wireRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`

	StreamOptions *wireStreamOptions `json:"stream_options,omitempty"`
}

type wireStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireToolCall struct {
	Index    *int             `json:"index,omitempty"` // stream deltas only
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireCallFunction `json:"function"`
}

type wireCallFunction struct {
	Name string `json:"name"`
	// Arguments is normally a JSON-encoded string; some OpenAI-compatible
	// servers send the object directly.
	Arguments json.RawMessage `json:"arguments"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      *wireMessage `json:"message"`
		Delta        *wireMessage `json:"delta"`
		FinishReason string       `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// buildRequestBody encodes a ChatRequest in the chat-completions shape.
func buildRequestBody(req ChatRequest, model string, stream bool) ([]byte, error) {
	if req.Model != "" {
		model = req.Model
	}
	body := wireRequest{
		Model:       model,
		Messages:    make([]wireMessage, 0, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if stream {
		body.StreamOptions = &wireStreamOptions{IncludeUsage: true}
	}

	for _, m := range req.Messages {
		wm := wireMessage{Role: m.Role, ToolCallID: m.ToolCallID}
		content := m.Content
		// assistant turns that only carry tool calls send null content
		if !(m.Role == RoleAssistant && content == "" && len(m.ToolCalls) > 0) {
			wm.Content = &content
		}
		for _, tc := range m.ToolCalls {
			args := tc.Arguments
			if args == "" {
				args = "{}"
			}
			encoded, err := json.Marshal(args)
			if err != nil {
				return nil, fmt.Errorf("encoding tool call arguments: %w", err)
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: wireCallFunction{Name: tc.Name, Arguments: encoded},
			})
		}
		body.Messages = append(body.Messages, wm)
	}

	for _, t := range req.Tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		body.Tools = append(body.Tools, wireTool{
			Type:     "function",
			Function: wireFunction{Name: t.Name, Description: t.Description, Parameters: params},
		})
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = req.ToolChoice
		if body.ToolChoice == "" {
			body.ToolChoice = "auto"
		}
	}

	return json.Marshal(body)
}

// parseChatResponse turns a raw HTTP response into a ChatResponse. All
// failure shapes collapse into Success=false.
func parseChatResponse(status int, raw []byte) ChatResponse {
	var parsed wireResponse
	jsonErr := json.Unmarshal(raw, &parsed)

	if status < 200 || status > 299 {
		msg := strings.TrimSpace(string(raw))
		if jsonErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		msg = truncate(msg, 500)
		resp := Failure("API error (%d): %s", status, msg)
		resp.StatusCode = status
		return resp
	}

	if jsonErr != nil {
		return Failure("malformed response body: %v", jsonErr)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return Failure("provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return Failure("provider returned no choices")
	}

	choice := parsed.Choices[0]
	if choice.Message == nil {
		return Failure("provider response has no message")
	}

	resp := ChatResponse{
		Success:      true,
		FinishReason: choice.FinishReason,
		Model:        parsed.Model,
	}
	if choice.Message.Content != nil {
		resp.Content = *choice.Message.Content
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: decodeArguments(tc.Function.Arguments),
		})
	}
	if parsed.Usage != nil {
		resp.Usage = Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		}
	}
	return resp
}

// decodeArguments returns the argument blob as a JSON text, unwrapping
// the string encoding when present.
func decodeArguments(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "{}"
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

// streamAccumulator assembles a ChatResponse from streamed chunks. Tool
// calls arrive in pieces keyed by index: the first piece carries the id
// and name, later pieces extend the arguments.
type streamAccumulator struct {
	content      strings.Builder
	calls        []ToolCall
	finishReason string
	model        string
	usage        Usage
}

// add decodes one SSE line. It returns the text fragment, whether the
// terminal sentinel was seen, and any provider error.
func (a *streamAccumulator) add(line string) (fragment string, done bool, err error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return "", false, nil
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "[DONE]" {
		return "", true, nil
	}
	if data == "" {
		return "", false, nil
	}

	var frame wireResponse
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		// partial or keep-alive frames are skipped
		return "", false, nil
	}
	if frame.Error != nil && frame.Error.Message != "" {
		return "", false, fmt.Errorf("provider error: %s", frame.Error.Message)
	}
	if frame.Model != "" {
		a.model = frame.Model
	}
	if frame.Usage != nil {
		a.usage = Usage{InputTokens: frame.Usage.PromptTokens, OutputTokens: frame.Usage.CompletionTokens}
	}
	if len(frame.Choices) == 0 {
		return "", false, nil
	}

	choice := frame.Choices[0]
	if choice.FinishReason != "" {
		a.finishReason = choice.FinishReason
	}
	if choice.Delta == nil {
		return "", false, nil
	}
	for _, tc := range choice.Delta.ToolCalls {
		i := len(a.calls)
		if tc.Index != nil && *tc.Index >= 0 && *tc.Index <= len(a.calls) {
			i = *tc.Index
		}
		if i == len(a.calls) {
			a.calls = append(a.calls, ToolCall{})
		}
		if tc.ID != "" {
			a.calls[i].ID = tc.ID
		}
		if tc.Function.Name != "" {
			a.calls[i].Name = tc.Function.Name
		}
		a.calls[i].Arguments += argumentFragment(tc.Function.Arguments)
	}
	if choice.Delta.Content != nil {
		fragment = *choice.Delta.Content
		a.content.WriteString(fragment)
	}
	return fragment, false, nil
}

// response returns everything received so far as a successful response.
func (a *streamAccumulator) response() ChatResponse {
	resp := ChatResponse{
		Success:      true,
		Content:      a.content.String(),
		FinishReason: a.finishReason,
		Model:        a.model,
		Usage:        a.usage,
	}
	for _, c := range a.calls {
		if strings.TrimSpace(c.Arguments) == "" {
			c.Arguments = "{}"
		}
		resp.ToolCalls = append(resp.ToolCalls, c)
	}
	if resp.FinishReason == "" {
		resp.FinishReason = "stop"
		if len(resp.ToolCalls) > 0 {
			resp.FinishReason = "tool_calls"
		}
	}
	return resp
}

// argumentFragment unwraps one streamed piece of tool-call arguments.
func argumentFragment(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
