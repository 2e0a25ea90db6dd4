package llm

import (
	"context"
	"strings"
	"sync"
)

// MockClient is a test double for Client.
type MockClient struct {
	ProviderName string
	ChatFunc     func(ctx context.Context, req ChatRequest) ChatResponse
	StreamFunc   func(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error)
}

func (m *MockClient) Name() string { return m.ProviderName }

func (m *MockClient) Chat(ctx context.Context, req ChatRequest) ChatResponse {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return ChatResponse{Success: true, Content: "mock response", FinishReason: "stop"}
}

func (m *MockClient) Stream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	ch := make(chan StreamEvent, 2)
	ch <- StreamEvent{Type: "delta", Content: "mock "}
	ch <- StreamEvent{
		Type:     "done",
		Response: &ChatResponse{Success: true, Content: "mock "},
	}
	close(ch)
	return ch, nil
}

// ScriptedClient replays canned responses in order and records every
// request it receives. Once the script runs out the last response repeats.
type ScriptedClient struct {
	mu        sync.Mutex
	responses []ChatResponse
	requests  []ChatRequest
	next      int

	// Fragments replace the content of a streamed final answer, one
	// delta each.
	Fragments []string
}

// NewScripted creates a scripted client.
func NewScripted(responses ...ChatResponse) *ScriptedClient {
	return &ScriptedClient{responses: responses}
}

func (s *ScriptedClient) Name() string { return "scripted" }

func (s *ScriptedClient) Chat(ctx context.Context, req ChatRequest) ChatResponse {
	return s.take(req)
}

// Stream replays the next scripted response as a stream. A response
// without tool calls is split into Fragments when they are set; a failed
// response becomes an error event.
func (s *ScriptedClient) Stream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	resp := s.take(req)
	s.mu.Lock()
	fragments := append([]string(nil), s.Fragments...)
	s.mu.Unlock()

	if !resp.Success {
		ch := make(chan StreamEvent, 1)
		ch <- StreamEvent{Type: "error", Error: resp.Error}
		close(ch)
		return ch, nil
	}
	if resp.HasToolCalls() || len(fragments) == 0 {
		fragments = nil
		if resp.Content != "" {
			fragments = []string{resp.Content}
		}
	}

	ch := make(chan StreamEvent, len(fragments)+1)
	var full strings.Builder
	for _, f := range fragments {
		full.WriteString(f)
		ch <- StreamEvent{Type: "delta", Content: f}
	}
	resp.Content = full.String()
	ch <- StreamEvent{Type: "done", Response: &resp}
	close(ch)
	return ch, nil
}

func (s *ScriptedClient) take(req ChatRequest) ChatResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, cloneRequest(req))
	if len(s.responses) == 0 {
		return Failure("scripted client has no responses")
	}
	i := s.next
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	} else {
		s.next++
	}
	return s.responses[i]
}

// Requests returns copies of every request received so far.
func (s *ScriptedClient) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatRequest(nil), s.requests...)
}

func cloneRequest(req ChatRequest) ChatRequest {
	req.Messages = append([]Message(nil), req.Messages...)
	req.Tools = append([]ToolDefinition(nil), req.Tools...)
	return req
}
