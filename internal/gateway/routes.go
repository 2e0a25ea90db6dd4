package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/querydesk/internal/agent"
	"github.com/soyeahso/querydesk/internal/llm"
)

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/chat/{profile}", s.requireAuth(s.handleChat))
	mux.HandleFunc("POST /api/chat/{profile}/stream", s.requireAuth(s.handleChatStream))
	mux.HandleFunc("DELETE /api/sessions/{profile}", s.requireAuth(s.handleClearSession))
	mux.HandleFunc("GET /api/tools/{profile}", s.requireAuth(s.handleTools))
	mux.HandleFunc("GET /api/exports/{id}", s.handleExport)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all JSON-RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("chat.send", s.rpcChatSend)
	s.Handle("session.clear", s.rpcSessionClear)
	s.Handle("tools.list", s.rpcToolsList)
}

// Built-in RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	resp := s.runChecks(rc.Client.Context(), true)
	resp.Version = s.version
	resp.Clients = s.clients.Count()
	resp.Profiles = s.Profiles()
	if !s.startedAt.IsZero() {
		resp.Uptime = time.Since(s.startedAt).Round(time.Second).String()
	}
	rc.Respond(resp)
}

type profileParams struct {
	Profile string `json:"profile"`
}

// runner resolves the profile named in the request, responding with
// an error when it is missing or unknown.
func (rc *RequestContext) runner(name string) (*agent.Runner, bool) {
	if name == "" {
		rc.RespondError("invalid_params", "profile is required")
		return nil, false
	}
	r, ok := rc.Server.profiles[name]
	if !ok {
		rc.RespondError("not_found", "unknown profile: "+name)
		return nil, false
	}
	return r, true
}

type chatSendParams struct {
	Profile  string `json:"profile"`
	Question string `json:"question"`
}

// rpcChatSend runs the question in the background, streaming chat.tool
// and chat.delta events before the final response. Disconnecting cancels
// the run.
func (s *Server) rpcChatSend(rc *RequestContext) {
	var p chatSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	runner, ok := rc.runner(p.Profile)
	if !ok {
		return
	}
	if strings.TrimSpace(p.Question) == "" {
		rc.RespondError("invalid_params", "question is required")
		return
	}

	q := newQuestion(rc.Client.Identity, p.Question)
	go func() {
		ctx, cancel := context.WithTimeout(rc.Client.Context(), runTimeout)
		defer cancel()

		res := runner.RunStream(ctx, q, func(ev agent.StreamEvent) {
			switch ev.Type {
			case agent.EventDelta:
				rc.Client.SendEvent(EventChatDelta, map[string]any{
					"requestId": rc.Frame.ID,
					"content":   ev.Content,
				}, s.eventSeq.Add(1))
			case agent.EventToolStart, agent.EventToolResult:
				rc.Client.SendEvent(EventChatTool, map[string]any{
					"requestId": rc.Frame.ID,
					"phase":     ev.Type,
					"call":      ev.Call,
				}, s.eventSeq.Add(1))
			}
		})
		rc.Respond(res)
	}()
}

func (s *Server) rpcSessionClear(rc *RequestContext) {
	var p profileParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	runner, ok := rc.runner(p.Profile)
	if !ok {
		return
	}
	rc.Respond(map[string]any{"cleared": s.clearSession(rc.Client.Context(), runner, rc.Client.Identity.UserID)})
}

// rpcToolsList returns the tool definitions of one profile, or of every
// profile when none is named.
func (s *Server) rpcToolsList(rc *RequestContext) {
	var p profileParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Profile == "" {
		all := make(map[string][]llm.ToolDefinition, len(s.profiles))
		for name, r := range s.profiles {
			all[name] = r.Profile().Tools.Definitions()
		}
		rc.Respond(map[string]any{"profiles": all})
		return
	}
	runner, ok := rc.runner(p.Profile)
	if !ok {
		return
	}
	rc.Respond(map[string]any{
		"profile": runner.Profile().Name,
		"tools":   runner.Profile().Tools.Definitions(),
	})
}
