package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/soyeahso/querydesk/internal/agent"
	"github.com/soyeahso/querydesk/internal/domain"
	"github.com/soyeahso/querydesk/internal/export"
	"github.com/soyeahso/querydesk/internal/hooks"
)

// maxChatBody caps the size of a chat request body.
const maxChatBody = 1 << 20

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// reports each check as "ok" or "unavailable"; the authenticated RPC
// handler includes the error text and server details.
type HealthResponse struct {
	Status   string            `json:"status"` // "ok" | "degraded"
	Checks   map[string]string `json:"checks,omitempty"`
	Version  string            `json:"version,omitempty"`
	Clients  int               `json:"clients,omitempty"`
	Profiles []string          `json:"profiles,omitempty"`
	Uptime   string            `json:"uptime,omitempty"`
}

// ChatRequest is the body of POST /api/chat/{profile}.
type ChatRequest struct {
	Question string `json:"question"`
}

// runChecks pings every backend. detailed keeps error messages.
func (s *Server) runChecks(ctx context.Context, detailed bool) HealthResponse {
	resp := HealthResponse{Status: "ok"}
	if len(s.checks) == 0 {
		return resp
	}
	resp.Checks = make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := check(cctx)
		cancel()
		switch {
		case err == nil:
			resp.Checks[name] = "ok"
		case detailed:
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
		default:
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
		}
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.runChecks(r.Context(), false)
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// requireAuth rejects requests without valid gateway credentials.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authLimiter.allow(r.RemoteAddr) {
			writeError(w, http.StatusTooManyRequests, "too many failed auth attempts")
			return
		}
		res := Authorize(s.auth, credentialsFromRequest(r))
		if !res.OK {
			s.authLimiter.recordFailure(r.RemoteAddr)
			s.log.Warn().Str("remote", r.RemoteAddr).Str("reason", res.Reason).Msg("http auth failed")
			writeError(w, http.StatusUnauthorized, "unauthorized: "+res.Reason)
			return
		}
		next(w, r)
	}
}

// runnerFor resolves the {profile} path value, writing a 404 when unknown.
func (s *Server) runnerFor(w http.ResponseWriter, r *http.Request) (*agent.Runner, bool) {
	name := r.PathValue("profile")
	runner, ok := s.profiles[name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown profile %q", name))
		return nil, false
	}
	return runner, true
}

func (s *Server) decodeQuestion(w http.ResponseWriter, r *http.Request) (agent.Question, bool) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return agent.Question{}, false
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return agent.Question{}, false
	}
	id := identityFromRequest(r, s.cfg.Gateway.UserHeader, s.cfg.Gateway.RolesHeader)
	return newQuestion(id, req.Question), true
}

func newQuestion(id domain.Identity, text string) agent.Question {
	return agent.Question{UserID: id.UserID, Text: text, Identity: id}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	runner, ok := s.runnerFor(w, r)
	if !ok {
		return
	}
	q, ok := s.decodeQuestion(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), runTimeout)
	defer cancel()
	writeJSON(w, http.StatusOK, runner.Run(ctx, q))
}

// handleChatStream answers over Server-Sent Events: tool_start and
// tool_result while tools run, delta fragments of the answer, then done
// or error carrying the full result.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	runner, ok := s.runnerFor(w, r)
	if !ok {
		return
	}
	q, ok := s.decodeQuestion(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithTimeout(r.Context(), runTimeout)
	defer cancel()
	runner.RunStream(ctx, q, func(ev agent.StreamEvent) {
		if err := writeSSE(w, ev.Type, ev); err != nil {
			s.log.Debug().Err(err).Msg("sse write failed")
			cancel()
			return
		}
		flusher.Flush()
	})
}

func writeSSE(w io.Writer, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	runner, ok := s.runnerFor(w, r)
	if !ok {
		return
	}
	id := identityFromRequest(r, s.cfg.Gateway.UserHeader, s.cfg.Gateway.RolesHeader)
	writeJSON(w, http.StatusOK, map[string]any{"cleared": s.clearSession(r.Context(), runner, id.UserID)})
}

func (s *Server) clearSession(ctx context.Context, runner *agent.Runner, userID string) bool {
	cleared := runner.Sessions().Clear(userID)
	s.log.Info().Str("profile", runner.Profile().Name).Str("userId", userID).Bool("cleared", cleared).Msg("session cleared")
	s.hooks.Emit(ctx, hooks.EventSessionCleared, map[string]any{
		"profile": runner.Profile().Name,
		"userId":  userID,
		"cleared": cleared,
	})
	return cleared
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	runner, ok := s.runnerFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile": runner.Profile().Name,
		"tools":   runner.Profile().Tools.Definitions(),
	})
}

// handleExport serves a generated spreadsheet. Export ids are random and
// short-lived, so downloads need no credentials and work from a browser.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exports == nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	art, ok, err := s.exports.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.log.Error().Err(err).Str("fileId", r.PathValue("id")).Msg("export lookup failed")
		writeError(w, http.StatusInternalServerError, "export lookup failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "file not found or expired")
		return
	}

	w.Header().Set("Content-Type", export.MIMEType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.FileName}))
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(art.Data)
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(ctx *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil && !errors.Is(err, ErrClientClosed) {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:    code,
		Message: message,
	})
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}
