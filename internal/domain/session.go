package domain

import "time"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatSession is the conversation history held for one user.
// Messages are only ever appended.
type ChatSession struct {
	ID        string        `json:"id"`
	UserID    string        `json:"userId"`
	Messages  []ChatMessage `json:"messages,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// ChatMessage is a single immutable turn in a session.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"` // set on tool-role messages only
	Timestamp  time.Time  `json:"timestamp"`
}

// ToolCall is one model-requested tool invocation. ID is assigned by the
// provider and echoed back unchanged on the matching tool message.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Result    *ToolResult    `json:"result,omitempty"`
}

// Identity is the opaque caller identity passed through to tools.
type Identity struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles,omitempty"`
}

// HasRole reports whether the identity carries the named role.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}
