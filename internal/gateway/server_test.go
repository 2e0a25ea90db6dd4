package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/querydesk/internal/agent"
	"github.com/soyeahso/querydesk/internal/config"
	"github.com/soyeahso/querydesk/internal/domain"
	"github.com/soyeahso/querydesk/internal/export"
	"github.com/soyeahso/querydesk/internal/llm"
	"github.com/soyeahso/querydesk/internal/logging"
	"github.com/soyeahso/querydesk/internal/tool"
)

const testToken = "test-token-123"

func lookupTool() tool.Tool {
	return &tool.Func{
		ToolName:        "lookup",
		ToolDescription: "Look up a key.",
		Schema:          tool.Schema(tool.Param{Name: "key", Type: "string", Required: true}),
		Run: func(ctx context.Context, args map[string]any, _ domain.Identity) domain.ToolResult {
			return domain.NewSuccess(domain.KindTabular, domain.TabularPayload{
				Columns: []string{"key"},
				Rows:    [][]any{{args["key"]}},
			}, "lookup", 1)
		},
	}
}

func scriptedRunner(t *testing.T, log *logging.Logger) (*agent.Runner, *llm.ScriptedClient) {
	t.Helper()
	client := llm.NewScripted(
		llm.ChatResponse{
			Success:      true,
			ToolCalls:    []llm.ToolCall{{ID: "c1", Name: "lookup", Arguments: `{"key":"orders"}`}},
			FinishReason: "tool_calls",
		},
		llm.ChatResponse{Success: true, Content: "There are 42 orders.", FinishReason: "stop"},
	)
	client.Fragments = []string{"There are ", "42 orders."}

	reg, err := tool.NewRegistry(lookupTool())
	require.NoError(t, err)
	profile := agent.Profile{Name: "sql", SystemPrompt: "You answer questions.", Tools: reg}
	return agent.NewRunner(agent.RunnerConfig{}, client, agent.NewMemorySessionStore(), profile, log), client
}

type testEnv struct {
	srv     *Server
	ts      *httptest.Server
	runner  *agent.Runner
	exports *export.Sink
}

func newTestEnv(t *testing.T, opts ...ServerOption) *testEnv {
	t.Helper()
	cfg := config.Defaults()
	cfg.Gateway.Auth.Mode = "token"
	cfg.Gateway.Auth.Token = testToken

	log := logging.New(nil, "silent")
	runner, _ := scriptedRunner(t, log)
	sink := export.NewSink(export.NewMemoryStore(export.DefaultRetention, nil), log)

	opts = append([]ServerOption{WithProfile(runner), WithExports(sink)}, opts...)
	srv := New(cfg, log, opts...)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{srv: srv, ts: ts, runner: runner, exports: sink}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("X-User-Id", "alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, WithHealthCheck("mongo", func(context.Context) error { return nil }))

	resp, err := http.Get(env.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, map[string]string{"mongo": "ok"}, health.Checks)
	// Public endpoint only returns status; no version, clients, or uptime
	assert.Empty(t, health.Version)
}

func TestHealthEndpointDegraded(t *testing.T) {
	env := newTestEnv(t, WithHealthCheck("sql", func(context.Context) error {
		return errors.New("login failed for user sa")
	}))

	resp, err := http.Get(env.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "unavailable", health.Checks["sql"])
}

func TestNotFoundEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.ts.URL+"/api/chat/sql", "application/json", strings.NewReader(`{"question":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "unauthorized")
}

func TestChatEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/chat/sql", `{"question":"How many orders?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res agent.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, agent.StatusAnswered, res.Status)
	assert.Equal(t, "There are 42 orders.", res.Answer)
	require.Len(t, res.Trace, 1)
	assert.Equal(t, "lookup", res.Trace[0].Name)
	assert.NotEmpty(t, res.RunID)

	sess, ok := env.runner.Sessions().Get("alice")
	require.True(t, ok)
	assert.Equal(t, res.SessionID, sess.ID)
}

func TestChatEndpointValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/chat/sql", `{"question":"   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/chat/sql", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/chat/nosuch", `{"question":"hi"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type sseEvent struct {
	name string
	data agent.StreamEvent
}

func readSSE(t *testing.T, r io.Reader) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cur.data))
		case line == "":
			if cur.name != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		}
	}
	return events
}

func TestChatStreamEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/chat/sql/stream", `{"question":"How many orders?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readSSE(t, resp.Body)
	require.NotEmpty(t, events)

	var names []string
	var answer strings.Builder
	for _, ev := range events {
		assert.Equal(t, ev.name, ev.data.Type)
		names = append(names, ev.name)
		if ev.name == agent.EventDelta {
			answer.WriteString(ev.data.Content)
		}
	}
	assert.Equal(t, agent.EventToolStart, names[0])
	assert.Contains(t, names, agent.EventToolResult)
	assert.Equal(t, agent.EventDone, names[len(names)-1])
	assert.Equal(t, "There are 42 orders.", answer.String())

	last := events[len(events)-1].data
	require.NotNil(t, last.Result)
	assert.Equal(t, "There are 42 orders.", last.Result.Answer)
}

func TestClearSessionEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodDelete, "/api/sessions/sql", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body["cleared"])

	env.runner.Sessions().GetOrCreate("alice")
	resp = env.do(t, http.MethodDelete, "/api/sessions/sql", "")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body["cleared"])

	_, ok := env.runner.Sessions().Get("alice")
	assert.False(t, ok)
}

func TestToolsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/tools/sql", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Profile string               `json:"profile"`
		Tools   []llm.ToolDefinition `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "sql", body.Profile)
	require.Len(t, body.Tools, 1)
	assert.Equal(t, "lookup", body.Tools[0].Name)
}

func TestExportDownload(t *testing.T) {
	env := newTestEnv(t)

	ref, err := env.exports.Export(context.Background(), export.Table{
		Columns: []string{"id", "name"},
		Rows:    [][]any{{1, "a"}, {2, "b"}},
	}, "", "orders")
	require.NoError(t, err)

	resp, err := http.Get(env.ts.URL + "/api/exports/" + ref.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, export.MIMEType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ref.FileName)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "PK"), "xlsx is a zip archive")
}

func TestExportDownloadUnknown(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/api/exports/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProfilesAndMethods(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, []string{"sql"}, env.srv.Profiles())
	assert.Equal(t, []string{"chat.send", "health", "session.clear", "tools.list"}, env.srv.Methods())
}

// --- WebSocket ---

func dialWS(t *testing.T, env *testEnv, token string) (*websocket.Conn, Frame) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws?user=bob"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	assert.Equal(t, FrameTypeEvent, challenge.Type)
	assert.Equal(t, EventConnectChallenge, challenge.Event)

	connectReq, err := NewRequest("req-1", "connect", ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client:      ClientInfo{ID: "test-client", Version: "1.0.0", Platform: "linux"},
		Auth:        &ConnectAuth{Token: token},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(connectReq))

	var hello Frame
	require.NoError(t, conn.ReadJSON(&hello))
	return conn, hello
}

func authenticatedConn(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	conn, hello := dialWS(t, env, testToken)
	require.NotNil(t, hello.OK)
	require.True(t, *hello.OK)
	return conn
}

// readResponse reads frames until the response to id, returning the
// events received before it.
func readResponse(t *testing.T, conn *websocket.Conn, id string) (Frame, []Frame) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var events []Frame
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == FrameTypeResponse && f.ID == id {
			return f, events
		}
		events = append(events, f)
	}
}

func TestWebSocketHandshakeSuccess(t *testing.T) {
	env := newTestEnv(t)
	_, resp := dialWS(t, env, testToken)

	assert.Equal(t, FrameTypeResponse, resp.Type)
	assert.Equal(t, "req-1", resp.ID)
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	var hello HelloOK
	require.NoError(t, json.Unmarshal(resp.Payload, &hello))
	assert.Equal(t, ProtocolVersion, hello.Protocol)
	assert.Equal(t, "bob", hello.User)
	assert.NotEmpty(t, hello.Server.ConnID)
	assert.Equal(t, []string{"sql"}, hello.Features.Profiles)
	assert.Contains(t, hello.Features.Methods, "chat.send")
	assert.Greater(t, hello.Policy.MaxPayload, 0)
}

func TestWebSocketHandshakeWrongToken(t *testing.T) {
	env := newTestEnv(t)
	_, resp := dialWS(t, env, "wrong-token")

	assert.Equal(t, FrameTypeResponse, resp.Type)
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "unauthorized", resp.Error.Code)
}

func TestWebSocketRPCHealth(t *testing.T) {
	env := newTestEnv(t, WithHealthCheck("sql", func(context.Context) error { return errors.New("timeout") }))
	conn := authenticatedConn(t, env)

	req, _ := NewRequest("req-2", "health", nil)
	require.NoError(t, conn.WriteJSON(req))

	resp, _ := readResponse(t, conn, "req-2")
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "timeout", health.Checks["sql"])
	assert.Equal(t, 1, health.Clients)
	assert.Equal(t, []string{"sql"}, health.Profiles)
}

func TestWebSocketRPCChatSend(t *testing.T) {
	env := newTestEnv(t)
	conn := authenticatedConn(t, env)

	req, _ := NewRequest("req-3", "chat.send", chatSendParams{Profile: "sql", Question: "How many orders?"})
	require.NoError(t, conn.WriteJSON(req))

	resp, events := readResponse(t, conn, "req-3")
	require.NotNil(t, resp.OK)
	require.True(t, *resp.OK)

	var res agent.Result
	require.NoError(t, json.Unmarshal(resp.Payload, &res))
	assert.Equal(t, "There are 42 orders.", res.Answer)

	var tools, deltas int
	for _, ev := range events {
		var p map[string]any
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		assert.Equal(t, "req-3", p["requestId"])
		switch ev.Event {
		case EventChatTool:
			tools++
		case EventChatDelta:
			deltas++
		}
	}
	assert.Equal(t, 2, tools)
	assert.Equal(t, 2, deltas)

	_, ok := env.runner.Sessions().Get("bob")
	assert.True(t, ok)
}

func TestWebSocketRPCChatSendValidation(t *testing.T) {
	env := newTestEnv(t)
	conn := authenticatedConn(t, env)

	tests := []struct {
		params chatSendParams
		code   string
	}{
		{chatSendParams{Question: "hi"}, "invalid_params"},
		{chatSendParams{Profile: "nosuch", Question: "hi"}, "not_found"},
		{chatSendParams{Profile: "sql"}, "invalid_params"},
	}
	for i, tt := range tests {
		id := "v" + string(rune('0'+i))
		req, _ := NewRequest(id, "chat.send", tt.params)
		require.NoError(t, conn.WriteJSON(req))

		resp, _ := readResponse(t, conn, id)
		require.NotNil(t, resp.OK)
		assert.False(t, *resp.OK)
		require.NotNil(t, resp.Error)
		assert.Equal(t, tt.code, resp.Error.Code)
	}
}

func TestWebSocketRPCToolsList(t *testing.T) {
	env := newTestEnv(t)
	conn := authenticatedConn(t, env)

	req, _ := NewRequest("req-4", "tools.list", nil)
	require.NoError(t, conn.WriteJSON(req))

	resp, _ := readResponse(t, conn, "req-4")
	require.NotNil(t, resp.OK)
	require.True(t, *resp.OK)

	var body struct {
		Profiles map[string][]llm.ToolDefinition `json:"profiles"`
	}
	require.NoError(t, json.Unmarshal(resp.Payload, &body))
	require.Len(t, body.Profiles["sql"], 1)
	assert.Equal(t, "lookup", body.Profiles["sql"][0].Name)
}

func TestWebSocketRPCSessionClear(t *testing.T) {
	env := newTestEnv(t)
	conn := authenticatedConn(t, env)
	env.runner.Sessions().GetOrCreate("bob")

	req, _ := NewRequest("req-5", "session.clear", profileParams{Profile: "sql"})
	require.NoError(t, conn.WriteJSON(req))

	resp, _ := readResponse(t, conn, "req-5")
	require.NotNil(t, resp.OK)
	require.True(t, *resp.OK)
	assert.JSONEq(t, `{"cleared":true}`, string(resp.Payload))
}

func TestWebSocketRPCUnknownMethod(t *testing.T) {
	env := newTestEnv(t)
	conn := authenticatedConn(t, env)

	req, _ := NewRequest("req-6", "nonexistent.method", nil)
	require.NoError(t, conn.WriteJSON(req))

	resp, _ := readResponse(t, conn, "req-6")
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "method_not_found", resp.Error.Code)
}

func TestResolveAuth(t *testing.T) {
	auth := ResolveAuth(config.GatewayAuth{Mode: "token", Token: "my-token"})
	assert.Equal(t, "token", auth.Mode)
	assert.Equal(t, "my-token", auth.Token)
}

func TestServerStart(t *testing.T) {
	cfg := config.Defaults()
	cfg.Gateway.Port = 0 // let OS pick a port
	cfg.Gateway.Auth.Mode = "token"
	cfg.Gateway.Auth.Token = "test-token"

	srv := New(cfg, logging.New(nil, "silent"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	assert.NoError(t, <-errCh)
}
