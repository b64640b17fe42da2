package turnlog

import (
	"time"

	"github.com/lithammer/shortuuid/v3"
)

// Role identifies who produced a Turn. It never changes for the turn's lifetime.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool, RoleSystem:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// ContentKind tags which variant of Content is populated.
type ContentKind string

const (
	ContentKindText        ContentKind = "text"
	ContentKindToolCalls   ContentKind = "tool-calls"
	ContentKindToolResults ContentKind = "tool-results"
)

// ToolCallEntry is a capability call requested by the model, embedded in an assistant turn.
type ToolCallEntry struct {
	CallID         string         `json:"call_id"`
	CapabilityName string         `json:"capability_name"`
	Arguments      map[string]any `json:"arguments,omitempty"`
}

// ToolResultEntry is the result of one capability call, embedded in a tool turn.
// CallID matches a ToolCallEntry emitted earlier in the same log.
type ToolResultEntry struct {
	CallID         string `json:"call_id"`
	CapabilityName string `json:"capability_name"`
	Result         any    `json:"result"`
}

// Content is a tagged variant: plain text, tool calls or tool results. Exactly one is set.
type Content struct {
	Kind        ContentKind       `json:"kind"`
	Text        string            `json:"text,omitempty"`
	ToolCalls   []ToolCallEntry   `json:"tool_calls,omitempty"`
	ToolResults []ToolResultEntry `json:"tool_results,omitempty"`
}

// TextContent returns a text Content.
func TextContent(text string) Content {
	return Content{Kind: ContentKindText, Text: text}
}

// ToolCallsContent returns a tool-calls Content.
func ToolCallsContent(calls ...ToolCallEntry) Content {
	return Content{Kind: ContentKindToolCalls, ToolCalls: calls}
}

// ToolResultsContent returns a tool-results Content.
func ToolResultsContent(results ...ToolResultEntry) Content {
	return Content{Kind: ContentKindToolResults, ToolResults: results}
}

// IsText reports whether the content is plain text.
func (c Content) IsText() bool { return c.Kind == ContentKindText }

// Turn is one role-tagged unit of conversation content.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   Content   `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn creates a Turn with a fresh identifier.
func NewTurn(role Role, content Content) Turn {
	return Turn{
		ID:        shortuuid.New(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewUserTurn returns a user text turn.
func NewUserTurn(text string) Turn {
	return NewTurn(RoleUser, TextContent(text))
}

// NewAssistantTextTurn returns an assistant text turn.
func NewAssistantTextTurn(text string) Turn {
	return NewTurn(RoleAssistant, TextContent(text))
}

// NewSystemTurn returns a system text turn.
func NewSystemTurn(text string) Turn {
	return NewTurn(RoleSystem, TextContent(text))
}

// NewToolCallTurn returns an assistant turn carrying capability calls.
func NewToolCallTurn(calls ...ToolCallEntry) Turn {
	return NewTurn(RoleAssistant, ToolCallsContent(calls...))
}

// NewToolResultTurn returns a tool turn carrying capability results.
func NewToolResultTurn(results ...ToolResultEntry) Turn {
	return NewTurn(RoleTool, ToolResultsContent(results...))
}
