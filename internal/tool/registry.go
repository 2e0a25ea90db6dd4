package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/soyeahso/querydesk/internal/domain"
	"github.com/soyeahso/querydesk/internal/llm"
)

// ErrFrozen is returned by Register once the registry is frozen.
var ErrFrozen = errors.New("tool registry is frozen")

// DuplicateToolError is returned when two tools share a name.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// Registry holds a fixed set of tools. It is built at startup and frozen
// before the first conversation, after which reads need no locking.
type Registry struct {
	tools  map[string]Tool
	order  []string
	frozen atomic.Bool
}

// NewRegistry creates a registry holding tools and freezes it.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	r.Freeze()
	return r, nil
}

// NewBuilder returns an empty, unfrozen registry for incremental setup.
func NewBuilder() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a name twice is a configuration
// error rather than a silent replacement.
func (r *Registry) Register(t Tool) error {
	if r.frozen.Load() {
		return ErrFrozen
	}
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if _, exists := r.tools[name]; exists {
		return &DuplicateToolError{Name: name}
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() { r.frozen.Store(true) }

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// All returns the tools in registration order.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.order) }

// Definitions returns the function declarations presented to the model.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, t := range r.All() {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Dispatch resolves a tool by name and executes it. Lookup misses and
// panics become failed results; nothing escapes as an error.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any, caller domain.Identity) (result domain.ToolResult) {
	t, ok := r.Get(name)
	if !ok {
		return domain.NewFailure(fmt.Sprintf("unknown tool %q; available tools: %s", name, strings.Join(r.order, ", ")))
	}

	defer func() {
		if p := recover(); p != nil {
			result = domain.NewFailure(fmt.Sprintf("tool %q failed: %v", name, p))
		}
	}()

	if err := ctx.Err(); err != nil {
		return domain.NewFailure(fmt.Sprintf("tool %q not run: %v", name, err))
	}
	return t.Execute(ctx, args, caller)
}
