package turnlog

import (
	"fmt"

	"github.com/go-go-golems/bookchat/pkg/apperrors"
)

// index tracks identifiers seen while walking a log in order.
type index struct {
	turns map[string]bool
	calls map[string]string // call id -> capability name
}

func newIndex(existing []Turn) *index {
	idx := &index{
		turns: make(map[string]bool, len(existing)),
		calls: map[string]string{},
	}
	for _, t := range existing {
		idx.add(t)
	}
	return idx
}

func (idx *index) add(t Turn) {
	idx.turns[t.ID] = true
	if t.Content.Kind == ContentKindToolCalls {
		for _, c := range t.Content.ToolCalls {
			idx.calls[c.CallID] = c.CapabilityName
		}
	}
}

func (idx *index) check(t Turn) error {
	if t.ID == "" {
		return &apperrors.IntegrityError{Reason: "turn has empty id"}
	}
	if idx.turns[t.ID] {
		return violation(t, "", "duplicate turn id")
	}
	if !t.Role.Valid() {
		return violation(t, "", fmt.Sprintf("unknown role %q", t.Role))
	}
	if err := checkShape(t); err != nil {
		return err
	}

	switch t.Content.Kind {
	case ContentKindToolCalls:
		seen := map[string]bool{}
		for _, c := range t.Content.ToolCalls {
			if _, dup := idx.calls[c.CallID]; dup || seen[c.CallID] {
				return violation(t, c.CallID, "duplicate call id")
			}
			seen[c.CallID] = true
		}
	case ContentKindToolResults:
		for _, r := range t.Content.ToolResults {
			name, ok := idx.calls[r.CallID]
			if !ok {
				return violation(t, r.CallID, "tool result without a matching earlier tool call")
			}
			if name != r.CapabilityName {
				return violation(t, r.CallID, fmt.Sprintf("tool result capability %q does not match call capability %q", r.CapabilityName, name))
			}
		}
	case ContentKindText:
	}
	return nil
}

// checkShape enforces the role/content whitelist and per-variant required fields.
func checkShape(t Turn) error {
	c := t.Content
	switch c.Kind {
	case ContentKindText:
		if len(c.ToolCalls) > 0 || len(c.ToolResults) > 0 {
			return violation(t, "", "text content carries tool entries")
		}
		if t.Role == RoleTool {
			return violation(t, "", "tool turn with text content")
		}
	case ContentKindToolCalls:
		if t.Role != RoleAssistant {
			return violation(t, "", fmt.Sprintf("%s turn with tool calls", t.Role))
		}
		if c.Text != "" || len(c.ToolResults) > 0 {
			return violation(t, "", "tool-calls content carries other variants")
		}
		if len(c.ToolCalls) == 0 {
			return violation(t, "", "tool-calls content is empty")
		}
		for _, call := range c.ToolCalls {
			if call.CallID == "" || call.CapabilityName == "" {
				return violation(t, call.CallID, "tool call missing call id or capability name")
			}
		}
	case ContentKindToolResults:
		if t.Role != RoleTool {
			return violation(t, "", fmt.Sprintf("%s turn with tool results", t.Role))
		}
		if c.Text != "" || len(c.ToolCalls) > 0 {
			return violation(t, "", "tool-results content carries other variants")
		}
		if len(c.ToolResults) == 0 {
			return violation(t, "", "tool-results content is empty")
		}
		for _, r := range c.ToolResults {
			if r.CallID == "" || r.CapabilityName == "" {
				return violation(t, r.CallID, "tool result missing call id or capability name")
			}
		}
	default:
		return violation(t, "", fmt.Sprintf("unknown content kind %q", c.Kind))
	}
	return nil
}

func violation(t Turn, callID, reason string) error {
	return &apperrors.IntegrityError{TurnID: t.ID, CallID: callID, Reason: reason}
}
