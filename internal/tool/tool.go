// Package tool defines the capability abstraction the model invokes and
// the immutable registry the orchestrator dispatches through.
package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/soyeahso/querydesk/internal/domain"
)

// Tool is a capability the model can invoke during a conversation.
// Execute must not return errors or panic: every failure is reported as a
// failed ToolResult so the model can read it and adjust.
type Tool interface {
	// Name returns the tool's identifier, unique within a registry.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Parameters returns the JSON Schema of the tool's arguments.
	Parameters() json.RawMessage

	// Execute runs the tool with untyped arguments on behalf of caller.
	Execute(ctx context.Context, args map[string]any, caller domain.Identity) domain.ToolResult
}

// Func adapts closures to the Tool interface.
type Func struct {
	ToolName        string
	ToolDescription string
	Schema          json.RawMessage
	Run             func(ctx context.Context, args map[string]any, caller domain.Identity) domain.ToolResult
}

func (f *Func) Name() string                { return f.ToolName }
func (f *Func) Description() string         { return f.ToolDescription }
func (f *Func) Parameters() json.RawMessage { return f.Schema }

func (f *Func) Execute(ctx context.Context, args map[string]any, caller domain.Identity) domain.ToolResult {
	if f.Run == nil {
		return domain.NewFailure(fmt.Sprintf("tool %q has no implementation", f.ToolName))
	}
	return f.Run(ctx, args, caller)
}

// Decode projects untyped arguments into a tool-specific struct. Unknown
// keys and type mismatches are reported as validation errors.
func Decode(args map[string]any, out any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// ParseArguments decodes a provider argument blob into a map. An empty
// blob yields an empty map.
func ParseArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if len(bytes.TrimSpace([]byte(raw))) == 0 {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	return args, nil
}

// Param describes one property in a tool's argument schema.
type Param struct {
	Name        string
	Type        string // "string" | "integer" | "number" | "boolean" | "object" | "array"
	Description string
	Required    bool
	Enum        []string
	Items       string // element type for arrays
}

// Schema builds a JSON Schema object from params.
func Schema(params ...Param) json.RawMessage {
	props := make(map[string]any, len(params))
	required := []string{}
	for _, p := range params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Type == "array" {
			items := p.Items
			if items == "" {
				items = "object"
			}
			prop["items"] = map[string]any{"type": items}
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	sort.Strings(required)

	schema := map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
	data, _ := json.Marshal(schema)
	return data
}
