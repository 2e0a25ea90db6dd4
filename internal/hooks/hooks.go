// Package hooks dispatches lifecycle events of orchestration runs, exports
// and the gateway to registered handlers.
package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/querydesk/internal/domain"
	"github.com/soyeahso/querydesk/internal/logging"
)

// Event names for the hook system.
const (
	EventRunStarted     = "run.started"
	EventToolExecuted   = "tool.executed"
	EventRunFinished    = "run.finished"
	EventExportCreated  = "export.created"
	EventSessionCleared = "session.cleared"
	EventGatewayStart   = "gateway.start"
	EventGatewayStop    = "gateway.stop"
)

// AllEvents lists all known hook event names.
var AllEvents = []string{
	EventRunStarted,
	EventToolExecuted,
	EventRunFinished,
	EventExportCreated,
	EventSessionCleared,
	EventGatewayStart,
	EventGatewayStop,
}

// RunEvent describes an orchestration run. It is the payload of
// run.started (without outcome fields) and run.finished.
type RunEvent struct {
	RunID        string
	Profile      string
	UserID       string
	SessionID    string
	Question     string
	Answer       string
	Status       string
	Error        string
	Iterations   int
	InputTokens  int
	OutputTokens int
	Calls        []domain.ToolCall
	StartedAt    time.Time
	Duration     time.Duration
}

// ToolEvent is the payload of tool.executed.
type ToolEvent struct {
	RunID    string
	Profile  string
	Round    int
	Call     domain.ToolCall
	Duration time.Duration
}

// ExportEvent is the payload of export.created.
type ExportEvent struct {
	FileID   string
	FileName string
	RowCount int
	Bytes    int
}

// Payload carries event data to hook handlers. Data holds one of the
// event structs above, or a map for gateway and session events.
type Payload struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Handler is a function that handles a hook event.
// Returning an error logs the failure but does not stop processing.
type Handler func(ctx context.Context, p Payload) error

// Manager manages hook registrations and dispatches events. A nil
// *Manager is valid and drops every event.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a handler for the given event.
// The name identifies the handler for logging and Off.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Off removes all handlers with the given name from the event.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handlers := m.handlers[event]
	filtered := make([]namedHandler, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	m.handlers[event] = filtered
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handlers := make([]namedHandler, len(m.handlers[event]))
	copy(handlers, m.handlers[event])
	return handlers
}

// Emit dispatches an event to all registered handlers synchronously, in
// registration order. A failing or panicking handler is logged and does
// not prevent the rest from running.
func (m *Manager) Emit(ctx context.Context, event string, data any) {
	if m == nil {
		return
	}
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}

	payload := Payload{Event: event, Data: data}
	for _, h := range handlers {
		m.call(ctx, h, payload)
	}
}

// EmitAsync dispatches an event to all registered handlers concurrently
// and returns immediately. The handlers receive a context detached from
// ctx's cancellation.
func (m *Manager) EmitAsync(ctx context.Context, event string, data any) {
	if m == nil {
		return
	}
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}

	payload := Payload{Event: event, Data: data}
	detached := context.WithoutCancel(ctx)
	for _, h := range handlers {
		go m.call(detached, h, payload)
	}
}

func (m *Manager) call(ctx context.Context, h namedHandler, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Str("event", p.Event).
				Str("handler", h.name).
				Str("panic", fmt.Sprint(r)).
				Msg("hook handler panicked")
		}
	}()
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().
			Err(err).
			Str("event", p.Event).
			Str("handler", h.name).
			Msg("hook handler error")
	}
}

// Count returns the number of handlers registered for an event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the sorted events that have at least one handler.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]string, 0, len(m.handlers))
	for event, handlers := range m.handlers {
		if len(handlers) > 0 {
			events = append(events, event)
		}
	}
	sort.Strings(events)
	return events
}
