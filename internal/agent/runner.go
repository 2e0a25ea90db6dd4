// Package agent runs the tool-calling loop that turns a question into
// tool invocations and a final answer, and holds per-user sessions.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/querydesk/internal/config"
	"github.com/soyeahso/querydesk/internal/domain"
	"github.com/soyeahso/querydesk/internal/hooks"
	"github.com/soyeahso/querydesk/internal/llm"
	"github.com/soyeahso/querydesk/internal/logging"
	"github.com/soyeahso/querydesk/internal/tool"
)

// Loop defaults.
const (
	DefaultMaxIterations      = 5
	DefaultHistoryWindow      = 10
	DefaultTemperature        = 0.1
	DefaultPreviewRows        = 20
	DefaultMaxConcurrentTools = 4
)

// FallbackAnswer replaces an empty final answer.
const FallbackAnswer = "I could not produce an answer from the available data."

// PartialAnswer is returned when the iteration cap is reached first.
const PartialAnswer = "I could not finish answering within the allowed number of steps. " +
	"The queries run so far are listed in the trace; try asking a narrower question."

const summaryInstruction = "Answer the user's question now using only the tool results above. Do not request more tools."

const tracerName = "github.com/soyeahso/querydesk/internal/agent"

// Status is the outcome class of a run.
type Status string

const (
	StatusAnswered Status = "answered"
	StatusPartial  Status = "partial"
	StatusFailed   Status = "failed"
)

// Profile pairs a system prompt with the tools the model may use.
type Profile struct {
	Name         string
	SystemPrompt string
	Tools        *tool.Registry
}

// RunnerConfig bounds the loop.
type RunnerConfig struct {
	Model              string
	MaxIterations      int
	HistoryWindow      int
	Temperature        *float64
	MaxTokens          int
	PreviewRows        int
	MaxConcurrentTools int

	// ForceSummary makes one final tool-less call when the cap is hit,
	// instead of returning the partial-progress message.
	ForceSummary bool
}

// ConfigFromSettings maps orchestrator settings onto a RunnerConfig.
func ConfigFromSettings(c config.OrchestratorConfig, model string) RunnerConfig {
	return RunnerConfig{
		Model:              model,
		MaxIterations:      c.MaxIterations,
		HistoryWindow:      c.HistoryWindow,
		Temperature:        c.Temperature,
		MaxTokens:          c.MaxTokens,
		PreviewRows:        c.PreviewRows,
		MaxConcurrentTools: c.MaxConcurrentTools,
		ForceSummary:       c.ForceSummary,
	}
}

// SingleShot returns cfg reduced to one tool round followed by a
// mandatory summary call.
func SingleShot(cfg RunnerConfig) RunnerConfig {
	cfg.MaxIterations = 1
	cfg.ForceSummary = true
	return cfg
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.HistoryWindow < 0 {
		c.HistoryWindow = 0
	} else if c.HistoryWindow == 0 {
		c.HistoryWindow = DefaultHistoryWindow
	}
	if c.Temperature == nil {
		t := DefaultTemperature
		c.Temperature = &t
	}
	if c.PreviewRows <= 0 {
		c.PreviewRows = DefaultPreviewRows
	}
	if c.MaxConcurrentTools <= 0 {
		c.MaxConcurrentTools = DefaultMaxConcurrentTools
	}
	return c
}

// Question is one user turn.
type Question struct {
	UserID   string
	Text     string
	Identity domain.Identity
}

// Result is the outcome of a run. Failures are reported in Status and
// Error; a run never returns a Go error.
type Result struct {
	RunID      string            `json:"runId"`
	Answer     string            `json:"answer"`
	SessionID  string            `json:"sessionId"`
	Status     Status            `json:"status"`
	Error      string            `json:"error,omitempty"`
	Trace      []domain.ToolCall `json:"trace"`
	Iterations int               `json:"iterations"`
	Usage      llm.Usage         `json:"usage"`
	Duration   time.Duration     `json:"duration"`
}

// Stream event types delivered to a StreamCallback.
const (
	EventDelta      = "delta"
	EventToolStart  = "tool_start"
	EventToolResult = "tool_result"
	EventDone       = "done"
	EventError      = "error"
)

// StreamEvent is one progress notification of RunStream.
type StreamEvent struct {
	Type    string           `json:"type"`
	Content string           `json:"content,omitempty"`
	Call    *domain.ToolCall `json:"call,omitempty"`
	Result  *Result          `json:"result,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// StreamCallback receives RunStream events. It is never called
// concurrently.
type StreamCallback func(StreamEvent)

// Runner drives the tool-calling loop for one profile.
type Runner struct {
	cfg      RunnerConfig
	client   llm.Client
	sessions SessionStore
	profile  Profile
	hooks    *hooks.Manager
	tracer   trace.Tracer
	log      *logging.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithHooks emits run and tool lifecycle events.
func WithHooks(h *hooks.Manager) Option {
	return func(r *Runner) { r.hooks = h }
}

// WithTracer overrides the globally registered tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) { r.tracer = t }
}

// NewRunner creates a runner for profile.
func NewRunner(cfg RunnerConfig, client llm.Client, sessions SessionStore, profile Profile, log *logging.Logger, opts ...Option) *Runner {
	if profile.Tools == nil {
		profile.Tools, _ = tool.NewRegistry()
	}
	r := &Runner{
		cfg:      cfg.withDefaults(),
		client:   client,
		sessions: sessions,
		profile:  profile,
		tracer:   otel.Tracer(tracerName),
		log:      log.Sub("agent." + profile.Name),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Profile returns the runner's profile.
func (r *Runner) Profile() Profile { return r.profile }

// Sessions returns the runner's session store.
func (r *Runner) Sessions() SessionStore { return r.sessions }

// Run answers q.
func (r *Runner) Run(ctx context.Context, q Question) Result {
	return r.run(ctx, q, nil)
}

// RunStream answers q like Run, streaming every model call. Text fragments
// are forwarded as deltas and tool activity is reported as it happens.
// The callback receives a done or error event last.
func (r *Runner) RunStream(ctx context.Context, q Question, cb StreamCallback) Result {
	if cb == nil {
		cb = func(StreamEvent) {}
	}
	res := r.run(ctx, q, cb)
	if res.Status == StatusFailed {
		cb(StreamEvent{Type: EventError, Error: res.Error, Result: &res})
	} else {
		cb(StreamEvent{Type: EventDone, Content: res.Answer, Result: &res})
	}
	return res
}

func (r *Runner) run(ctx context.Context, q Question, cb StreamCallback) Result {
	start := time.Now()
	res := Result{RunID: uuid.NewString(), Trace: []domain.ToolCall{}}

	ctx, span := r.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agent.profile", r.profile.Name),
		attribute.String("agent.run_id", res.RunID),
	))
	defer span.End()

	sess := r.sessions.GetOrCreate(q.UserID)
	res.SessionID = sess.ID
	history := trimOrphanedToolMessages(r.sessions.Recent(q.UserID, r.cfg.HistoryWindow))

	userMsg := domain.ChatMessage{Role: domain.RoleUser, Content: q.Text, Timestamp: time.Now()}
	r.sessions.Append(q.UserID, userMsg)

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: r.profile.SystemPrompt})
	for _, m := range history {
		messages = append(messages, toLLMMessage(m))
	}
	messages = append(messages, toLLMMessage(userMsg))
	defs := r.profile.Tools.Definitions()

	r.log.Info().
		Str("runId", res.RunID).
		Str("sessionId", sess.ID).
		Str("userId", q.UserID).
		Int("historyLen", len(history)).
		Int("tools", len(defs)).
		Msg("run started")
	r.hooks.Emit(ctx, hooks.EventRunStarted, &hooks.RunEvent{
		RunID:     res.RunID,
		Profile:   r.profile.Name,
		UserID:    q.UserID,
		SessionID: sess.ID,
		Question:  q.Text,
		StartedAt: start,
	})

	finish := func() Result {
		res.Duration = time.Since(start)
		r.finish(ctx, span, q, start, &res)
		return res
	}

	for round := 1; round <= r.cfg.MaxIterations; round++ {
		if err := ctx.Err(); err != nil {
			res.Status = StatusFailed
			res.Error = fmt.Sprintf("run cancelled: %v", err)
			return finish()
		}
		res.Iterations = round

		resp := r.chatRound(ctx, round, messages, defs, cb)
		res.Usage.Add(resp.Usage)
		if !resp.Success {
			res.Status = StatusFailed
			res.Error = resp.Error
			return finish()
		}

		if !resp.HasToolCalls() {
			r.answer(q.UserID, &res, StatusAnswered, resp.Content)
			return finish()
		}

		calls := r.dispatch(ctx, res.RunID, round, resp.ToolCalls, q.Identity, cb)
		res.Trace = append(res.Trace, calls...)

		assistant := domain.ChatMessage{
			Role:      domain.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: stripResults(calls),
			Timestamp: time.Now(),
		}
		appended := make([]domain.ChatMessage, 0, len(calls)+1)
		appended = append(appended, assistant)
		for _, c := range calls {
			appended = append(appended, domain.ChatMessage{
				Role:       domain.RoleTool,
				Content:    RenderToolResult(*c.Result, r.cfg.PreviewRows),
				ToolCallID: c.ID,
				Timestamp:  time.Now(),
			})
		}
		r.sessions.Append(q.UserID, appended...)
		for _, m := range appended {
			messages = append(messages, toLLMMessage(m))
		}
	}

	if r.cfg.ForceSummary && ctx.Err() == nil {
		summary := append(messages, llm.Message{Role: llm.RoleSystem, Content: summaryInstruction})
		resp := r.call(ctx, llm.ChatRequest{
			Model:       r.cfg.Model,
			Messages:    summary,
			Temperature: r.cfg.Temperature,
			MaxTokens:   r.cfg.MaxTokens,
		}, cb)
		res.Usage.Add(resp.Usage)
		if resp.Success && !resp.HasToolCalls() {
			r.answer(q.UserID, &res, StatusAnswered, resp.Content)
			return finish()
		}
		r.log.Warn().Str("runId", res.RunID).Str("error", resp.Error).Msg("summary call failed")
	}

	r.answer(q.UserID, &res, StatusPartial, PartialAnswer)
	return finish()
}

func (r *Runner) chatRound(ctx context.Context, round int, messages []llm.Message, defs []llm.ToolDefinition, cb StreamCallback) llm.ChatResponse {
	ctx, span := r.tracer.Start(ctx, "agent.round", trace.WithAttributes(
		attribute.Int("agent.round", round),
		attribute.Int("agent.messages", len(messages)),
	))
	defer span.End()

	req := llm.ChatRequest{
		Model:       r.cfg.Model,
		Messages:    messages,
		Tools:       defs,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
	}
	if len(defs) > 0 {
		req.ToolChoice = "auto"
	}
	resp := r.call(ctx, req, cb)

	span.SetAttributes(
		attribute.Int("llm.tool_calls", len(resp.ToolCalls)),
		attribute.Int("llm.input_tokens", resp.Usage.InputTokens),
		attribute.Int("llm.output_tokens", resp.Usage.OutputTokens),
	)
	if !resp.Success {
		span.SetStatus(codes.Error, resp.Error)
		r.log.Warn().Int("round", round).Str("error", resp.Error).Msg("model call failed")
	} else {
		r.log.Debug().
			Int("round", round).
			Int("toolCalls", len(resp.ToolCalls)).
			Str("finishReason", resp.FinishReason).
			Msg("model responded")
	}
	return resp
}

// dispatch runs one round's tool calls concurrently and returns them with
// results in the order the model requested them.
func (r *Runner) dispatch(ctx context.Context, runID string, round int, requested []llm.ToolCall, caller domain.Identity, cb StreamCallback) []domain.ToolCall {
	calls := make([]llm.ToolCall, len(requested))
	for i, c := range requested {
		if c.ID == "" {
			c.ID = fmt.Sprintf("call_%d_%d", round, i+1)
		}
		calls[i] = c
		if cb != nil {
			cb(StreamEvent{Type: EventToolStart, Content: c.Name, Call: &domain.ToolCall{ID: c.ID, Name: c.Name}})
		}
	}

	out := make([]domain.ToolCall, len(calls))
	var g errgroup.Group
	g.SetLimit(r.cfg.MaxConcurrentTools)
	for i, c := range calls {
		g.Go(func() error {
			out[i] = r.execute(ctx, runID, round, c, caller)
			return nil
		})
	}
	_ = g.Wait()

	if cb != nil {
		for i := range out {
			cb(StreamEvent{Type: EventToolResult, Content: out[i].Name, Call: &out[i]})
		}
	}
	return out
}

func (r *Runner) execute(ctx context.Context, runID string, round int, c llm.ToolCall, caller domain.Identity) domain.ToolCall {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "tool."+c.Name, trace.WithAttributes(
		attribute.String("tool.name", c.Name),
		attribute.String("tool.call_id", c.ID),
	))
	defer span.End()

	call := domain.ToolCall{ID: c.ID, Name: c.Name}
	var result domain.ToolResult
	args, err := tool.ParseArguments(c.Arguments)
	if err != nil {
		call.Arguments = map[string]any{}
		result = domain.NewFailure(fmt.Sprintf("invalid arguments for %s: %v", c.Name, err))
	} else {
		call.Arguments = args
		result = r.profile.Tools.Dispatch(ctx, c.Name, args, caller)
	}
	call.Result = &result
	elapsed := time.Since(start)

	span.SetAttributes(
		attribute.Bool("tool.success", result.Success),
		attribute.Int("tool.total_count", result.TotalCount),
	)
	if !result.Success {
		span.SetStatus(codes.Error, result.Error)
	}

	ev := r.log.Debug()
	if !result.Success {
		ev = r.log.Info().Str("error", result.Error)
	}
	ev.Str("runId", runID).
		Int("round", round).
		Str("tool", c.Name).
		Str("callId", c.ID).
		Bool("success", result.Success).
		Dur("duration", elapsed).
		Msg("tool executed")

	r.hooks.Emit(ctx, hooks.EventToolExecuted, &hooks.ToolEvent{
		RunID:    runID,
		Profile:  r.profile.Name,
		Round:    round,
		Call:     call,
		Duration: elapsed,
	})
	return call
}

// call sends req to the model. With a callback the request is streamed
// and text fragments are forwarded as they arrive. A stream that cannot be
// opened, or that breaks before any text was forwarded, is retried as a
// buffered call whose text is sent as a single delta.
func (r *Runner) call(ctx context.Context, req llm.ChatRequest, cb StreamCallback) llm.ChatResponse {
	if cb == nil {
		return r.client.Chat(ctx, req)
	}
	ch, err := r.client.Stream(ctx, req)
	if err != nil {
		r.log.Warn().Err(err).Msg("stream unavailable, using a buffered call")
		return r.buffered(ctx, req, cb)
	}

	var (
		forwarded bool
		final     *llm.ChatResponse
		streamErr string
	)
	for ev := range ch {
		switch ev.Type {
		case "delta":
			if ev.Content != "" {
				forwarded = true
				cb(StreamEvent{Type: EventDelta, Content: ev.Content})
			}
		case "done":
			final = ev.Response
		case "error":
			streamErr = ev.Error
		}
	}

	switch {
	case ctx.Err() != nil:
		return llm.Failure("run cancelled: %v", ctx.Err())
	case streamErr != "" && !forwarded:
		r.log.Warn().Str("error", streamErr).Msg("stream failed, using a buffered call")
		return r.buffered(ctx, req, cb)
	case streamErr != "":
		return llm.Failure("stream interrupted: %s", streamErr)
	case final == nil:
		return llm.Failure("stream ended without a response")
	}
	return *final
}

func (r *Runner) buffered(ctx context.Context, req llm.ChatRequest, cb StreamCallback) llm.ChatResponse {
	resp := r.client.Chat(ctx, req)
	if resp.Success && !resp.HasToolCalls() && resp.Content != "" {
		cb(StreamEvent{Type: EventDelta, Content: resp.Content})
	}
	return resp
}

// answer records the final assistant message and sets the result.
func (r *Runner) answer(userID string, res *Result, status Status, text string) {
	if text == "" {
		text = FallbackAnswer
	}
	res.Status = status
	res.Answer = text
	r.sessions.Append(userID, domain.ChatMessage{
		Role:      domain.RoleAssistant,
		Content:   text,
		Timestamp: time.Now(),
	})
}

func (r *Runner) finish(ctx context.Context, span trace.Span, q Question, start time.Time, res *Result) {
	span.SetAttributes(
		attribute.String("agent.status", string(res.Status)),
		attribute.Int("agent.iterations", res.Iterations),
		attribute.Int("agent.tool_calls", len(res.Trace)),
	)
	if res.Status == StatusFailed {
		span.SetStatus(codes.Error, res.Error)
		r.log.Warn().
			Str("runId", res.RunID).
			Str("error", res.Error).
			Int("iterations", res.Iterations).
			Dur("duration", res.Duration).
			Msg("run failed")
	} else {
		r.log.Info().
			Str("runId", res.RunID).
			Str("status", string(res.Status)).
			Int("iterations", res.Iterations).
			Int("toolCalls", len(res.Trace)).
			Int("inputTokens", res.Usage.InputTokens).
			Int("outputTokens", res.Usage.OutputTokens).
			Dur("duration", res.Duration).
			Msg("run finished")
	}

	r.hooks.Emit(context.WithoutCancel(ctx), hooks.EventRunFinished, &hooks.RunEvent{
		RunID:        res.RunID,
		Profile:      r.profile.Name,
		UserID:       q.UserID,
		SessionID:    res.SessionID,
		Question:     q.Text,
		Answer:       res.Answer,
		Status:       string(res.Status),
		Error:        res.Error,
		Iterations:   res.Iterations,
		InputTokens:  res.Usage.InputTokens,
		OutputTokens: res.Usage.OutputTokens,
		Calls:        res.Trace,
		StartedAt:    start,
		Duration:     res.Duration,
	})
}

func toLLMMessage(m domain.ChatMessage) llm.Message {
	out := llm.Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
	for _, c := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        c.ID,
			Name:      c.Name,
			Arguments: encodeArguments(c.Arguments),
		})
	}
	return out
}

// trimOrphanedToolMessages drops tool messages at the start of a history
// window whose assistant message fell outside it.
func trimOrphanedToolMessages(msgs []domain.ChatMessage) []domain.ChatMessage {
	for len(msgs) > 0 && msgs[0].Role == domain.RoleTool {
		msgs = msgs[1:]
	}
	return msgs
}

func encodeArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func stripResults(calls []domain.ToolCall) []domain.ToolCall {
	out := make([]domain.ToolCall, len(calls))
	for i, c := range calls {
		c.Result = nil
		out[i] = c
	}
	return out
}
