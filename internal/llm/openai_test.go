package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*ProviderConfig)) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := ProviderConfig{
		BaseURL:   srv.URL,
		APIKey:    "sk-test",
		Model:     "gpt-test",
		Timeout:   2 * time.Second,
		RetryWait: time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewOpenAIClient(cfg, silentLog())
}

func TestHTTPClientChat(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-test", body["model"])

		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"There are 42 films."},"finish_reason":"stop"}]}`)
	})

	resp := client.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "count"}}})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "There are 42 films.", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, "gpt-test", resp.Model)
	assert.False(t, resp.HasToolCalls())
}

func TestHTTPClientChatStatusError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"unknown parameter"}}`)
	})

	resp := client.Chat(context.Background(), ChatRequest{})
	assert.False(t, resp.Success)
	assert.Equal(t, 400, resp.StatusCode)
	assert.Contains(t, resp.Error, "unknown parameter")
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`)
	}, func(c *ProviderConfig) { c.MaxRetries = 3 })

	resp := client.Chat(context.Background(), ChatRequest{})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClientRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limit reached"}}`)
	}, func(c *ProviderConfig) { c.MaxRetries = 1 })

	resp := client.Chat(context.Background(), ChatRequest{})
	assert.False(t, resp.Success)
	assert.Equal(t, 429, resp.StatusCode)
	assert.Contains(t, resp.Error, "rate limit")
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPClientTimeout(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}, func(c *ProviderConfig) { c.Timeout = 50 * time.Millisecond })

	resp := client.Chat(context.Background(), ChatRequest{})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "timed out")
}

func TestHTTPClientTransportFailure(t *testing.T) {
	client := NewOpenAIClient(ProviderConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, silentLog())
	resp := client.Chat(context.Background(), ChatRequest{})
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestAzureEndpointAndHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/gpt4o/chat/completions", r.URL.Path)
		assert.Equal(t, "2024-10-21", r.URL.Query().Get("api-version"))
		assert.Equal(t, "azure-key", r.Header.Get("api-key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"hi"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	client, err := NewAzureClient(ProviderConfig{BaseURL: srv.URL, APIKey: "azure-key", Deployment: "gpt4o"}, silentLog())
	require.NoError(t, err)
	assert.Equal(t, "azure", client.Name())

	resp := client.Chat(context.Background(), ChatRequest{})
	require.True(t, resp.Success, resp.Error)
}

func TestOllamaEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"local"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	client := NewOllamaClient(ProviderConfig{BaseURL: srv.URL + "/v1", Model: "llama3.1"}, silentLog())
	resp := client.Chat(context.Background(), ChatRequest{})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "local", resp.Content)
}

func TestNewProviderClientUnknownKind(t *testing.T) {
	_, err := NewProviderClient(ProviderConfig{Kind: "bard"}, silentLog())
	assert.ErrorContains(t, err, "unknown LLM provider kind")
}

func TestHTTPClientStream(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"stream":true`)
		assert.Contains(t, string(body), `"include_usage":true`)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Forty\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"-two\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":30,\"completion_tokens\":4}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	ch, err := client.Stream(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "count"}},
	})
	require.NoError(t, err)

	var deltas []string
	var done *ChatResponse
	for evt := range ch {
		switch evt.Type {
		case "delta":
			deltas = append(deltas, evt.Content)
		case "done":
			done = evt.Response
		case "error":
			t.Fatalf("unexpected error event: %s", evt.Error)
		}
	}
	assert.Equal(t, []string{"Forty", "-two"}, deltas)
	require.NotNil(t, done)
	assert.True(t, done.Success)
	assert.Equal(t, "Forty-two", done.Content)
	assert.Equal(t, "stop", done.FinishReason)
	assert.Equal(t, Usage{InputTokens: 30, OutputTokens: 4}, done.Usage)
}

func TestHTTPClientStreamToolCalls(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"tools"`)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"sql_query","arguments":""}}]}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"sql\":"}}]}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"SELECT 1\"}"}}]}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"sql_list_tables"}}]},"finish_reason":"tool_calls"}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	ch, err := client.Stream(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "count"}},
		Tools:    []ToolDefinition{{Name: "sql_query"}, {Name: "sql_list_tables"}},
	})
	require.NoError(t, err)

	var done *ChatResponse
	for evt := range ch {
		assert.NotEqual(t, "delta", evt.Type)
		if evt.Type == "done" {
			done = evt.Response
		}
	}
	require.NotNil(t, done)
	assert.Equal(t, "tool_calls", done.FinishReason)
	require.Len(t, done.ToolCalls, 2)
	assert.Equal(t, ToolCall{ID: "call_a", Name: "sql_query", Arguments: `{"sql":"SELECT 1"}`}, done.ToolCalls[0])
	assert.Equal(t, ToolCall{ID: "call_b", Name: "sql_list_tables", Arguments: "{}"}, done.ToolCalls[1])
}

func TestHTTPClientStreamStatusError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	})

	ch, err := client.Stream(context.Background(), ChatRequest{})
	require.NoError(t, err)

	var events []StreamEvent
	for evt := range ch {
		events = append(events, evt)
	}
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Type)
	assert.Contains(t, events[0].Error, "API error (500)")
}

func TestHTTPClientStreamCancelStopsWithoutError(t *testing.T) {
	release := make(chan struct{})
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		flusher.Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := client.Stream(ctx, ChatRequest{})
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "delta", first.Type)
	cancel()

	for evt := range ch {
		assert.NotEqual(t, "error", evt.Type, "cancellation must not surface as an error")
	}
}
