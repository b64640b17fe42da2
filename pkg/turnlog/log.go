// Package turnlog holds the durable, append-only conversation history of a session.
//
// A TurnLog only grows. Append and AppendAll check the shape of every new turn and the
// referential integrity of tool results before committing anything, so a log that was
// built through this package always satisfies Validate.
package turnlog

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/go-go-golems/bookchat/pkg/apperrors"
	"github.com/huandu/go-clone"
)

// TitleMaxLength is the number of characters of the first user message kept as the title.
const TitleMaxLength = 100

// TurnLog is the ordered turn history of one session plus the chat record fields
// stored alongside it.
type TurnLog struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	Path      string    `json:"path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Turns     []Turn    `json:"turns"`
}

// New returns an empty log for sessionID.
func New(sessionID string) *TurnLog {
	return &TurnLog{
		SessionID: sessionID,
		Path:      PathFor(sessionID),
		CreatedAt: time.Now().UTC(),
		Turns:     []Turn{},
	}
}

// PathFor returns the client path of a chat.
func PathFor(sessionID string) string {
	return fmt.Sprintf("/chat/%s", sessionID)
}

// Len returns the number of committed turns.
func (l *TurnLog) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Turns)
}

// Last returns the last committed turn, or nil.
func (l *TurnLog) Last() *Turn {
	if l == nil || len(l.Turns) == 0 {
		return nil
	}
	return &l.Turns[len(l.Turns)-1]
}

// Append validates t against the current log and appends it.
func (l *TurnLog) Append(t Turn) error {
	return l.AppendAll(t)
}

// AppendAll validates every turn against the log extended by the preceding turns and
// appends them together. Either all turns are committed or none.
func (l *TurnLog) AppendAll(ts ...Turn) error {
	if l == nil {
		return apperrors.InvalidState("append to nil turn log")
	}
	idx := newIndex(l.Turns)
	for i := range ts {
		if err := idx.check(ts[i]); err != nil {
			return err
		}
		idx.add(ts[i])
	}
	l.Turns = append(l.Turns, ts...)
	l.updateTitle()
	return nil
}

// Validate checks the whole log: known roles, role/content compatibility, unique turn
// and call identifiers, and that every tool result references an earlier tool call.
func (l *TurnLog) Validate() error {
	if l == nil {
		return &apperrors.IntegrityError{Reason: "turn log is nil"}
	}
	if l.SessionID == "" {
		return &apperrors.IntegrityError{Reason: "turn log has empty session id"}
	}
	idx := newIndex(nil)
	for _, t := range l.Turns {
		if err := idx.check(t); err != nil {
			return err
		}
		idx.add(t)
	}
	return nil
}

// Clone returns a deep copy that shares nothing with l.
func (l *TurnLog) Clone() *TurnLog {
	if l == nil {
		return nil
	}
	return clone.Clone(l).(*TurnLog)
}

// HasPrefix reports whether the turns of prefix are the first turns of l, by identifier
// and role, in order.
func (l *TurnLog) HasPrefix(prefix *TurnLog) bool {
	if prefix.Len() > l.Len() {
		return false
	}
	for i := range prefix.Turns {
		if prefix.Turns[i].ID != l.Turns[i].ID || prefix.Turns[i].Role != l.Turns[i].Role {
			return false
		}
	}
	return true
}

// ToolCall finds the ToolCallEntry with callID.
func (l *TurnLog) ToolCall(callID string) (ToolCallEntry, bool) {
	if l == nil {
		return ToolCallEntry{}, false
	}
	for _, t := range l.Turns {
		if t.Content.Kind != ContentKindToolCalls {
			continue
		}
		for _, c := range t.Content.ToolCalls {
			if c.CallID == callID {
				return c, true
			}
		}
	}
	return ToolCallEntry{}, false
}

func (l *TurnLog) updateTitle() {
	if l.Title != "" {
		return
	}
	for _, t := range l.Turns {
		if t.Role == RoleUser && t.Content.IsText() {
			l.Title = truncateRunes(t.Content.Text, TitleMaxLength)
			return
		}
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
