// Package projector derives the renderable turn list of a session from its turn log.
//
// Projection is a pure function of the log: it never mutates its input and the same
// log always projects to the same render turns, whether the log was just built by a
// live interaction or restored from storage.
package projector

import (
	"encoding/json"
	"fmt"

	"github.com/go-go-golems/bookchat/pkg/books"
	"github.com/go-go-golems/bookchat/pkg/turnlog"
	"github.com/iancoleman/strcase"
	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindUserText      Kind = "user-text"
	KindAssistantText Kind = "assistant-text"
	KindToolPanel     Kind = "tool-panel"
	KindNone          Kind = "none"
	// KindPending marks a capability call in progress. It only appears in live
	// emissions, never in a projection of a committed log.
	KindPending Kind = "pending"
)

// RenderTurn is the display form of (part of) one turn.
type RenderTurn struct {
	ID      string  `json:"id"`
	Kind    Kind    `json:"kind"`
	Payload Payload `json:"payload"`
}

// Payload carries the variant matching Kind.
type Payload struct {
	Text    string     `json:"text,omitempty"`
	Panel   *ToolPanel `json:"panel,omitempty"`
	Pending *Pending   `json:"pending,omitempty"`
}

// ToolPanel renders one capability result. Book results become Events; results of
// other capabilities are carried as Raw.
type ToolPanel struct {
	CallID         string        `json:"call_id"`
	CapabilityName string        `json:"capability_name"`
	Events         []books.Event `json:"events,omitempty"`
	Raw            any           `json:"raw,omitempty"`
}

type Pending struct {
	CapabilityName string `json:"capability_name"`
}

// RenderID returns the identifier of the index-th rendered turn of a session.
func RenderID(sessionID string, index int) string {
	return fmt.Sprintf("%s-%d", sessionID, index)
}

// Project returns the render turns of the whole log, dropping turns that render as none.
func Project(l *turnlog.TurnLog) []RenderTurn {
	return ProjectFrom(l, 0)
}

// ProjectFrom projects the turns at positions >= from. Render identifiers stay those of
// the whole-log projection.
func ProjectFrom(l *turnlog.TurnLog, from int) []RenderTurn {
	ret := []RenderTurn{}
	if l == nil {
		return ret
	}
	index := 0
	for pos, t := range l.Turns {
		if t.Role == turnlog.RoleSystem {
			continue
		}
		if pos >= from {
			for _, r := range ProjectTurn(l.SessionID, index, t) {
				if r.Kind != KindNone {
					ret = append(ret, r)
				}
			}
		}
		index++
	}
	return ret
}

// ProjectTurn projects a single turn rendered at index. System turns and assistant
// tool-call turns yield a single none render; tool turns yield one panel per result.
func ProjectTurn(sessionID string, index int, t turnlog.Turn) []RenderTurn {
	id := RenderID(sessionID, index)
	switch {
	case t.Role == turnlog.RoleUser && t.Content.IsText():
		return []RenderTurn{{ID: id, Kind: KindUserText, Payload: Payload{Text: t.Content.Text}}}
	case t.Role == turnlog.RoleAssistant && t.Content.IsText():
		return []RenderTurn{{ID: id, Kind: KindAssistantText, Payload: Payload{Text: t.Content.Text}}}
	case t.Role == turnlog.RoleTool && t.Content.Kind == turnlog.ContentKindToolResults:
		results := t.Content.ToolResults
		ret := make([]RenderTurn, 0, len(results))
		for j, r := range results {
			rid := id
			if len(results) > 1 {
				rid = fmt.Sprintf("%s-%d", id, j)
			}
			panel := PanelFor(r)
			ret = append(ret, RenderTurn{ID: rid, Kind: KindToolPanel, Payload: Payload{Panel: &panel}})
		}
		return ret
	}
	return []RenderTurn{{ID: id, Kind: KindNone}}
}

// PanelFor renders a tool result.
func PanelFor(r turnlog.ToolResultEntry) ToolPanel {
	panel := ToolPanel{CallID: r.CallID, CapabilityName: r.CapabilityName}
	normalized := normalize(r.Result)
	if IsBookSearch(r.CapabilityName) {
		bs, err := books.DecodeBooks(normalized)
		if err == nil {
			panel.Events = books.EventsFromBooks(bs)
			return panel
		}
		log.Warn().Err(err).Str("call_id", r.CallID).Msg("book search result is not a book list, rendering raw")
	}
	panel.Raw = normalized
	return panel
}

// IsBookSearch reports whether name refers to the book search capability.
func IsBookSearch(name string) bool {
	return name == books.SearchCapabilityName || strcase.ToLowerCamel(name) == books.SearchCapabilityName
}

// NextIndex returns the render index the next appended turn will get.
func NextIndex(l *turnlog.TurnLog) int {
	n := 0
	if l == nil {
		return n
	}
	for _, t := range l.Turns {
		if t.Role != turnlog.RoleSystem {
			n++
		}
	}
	return n
}

// PendingRender is the transient render of a capability call that has not been
// resolved yet. It carries the identifier the tool panel will have once the call and
// result turns are committed after the current end of l.
func PendingRender(l *turnlog.TurnLog, capabilityName string) RenderTurn {
	return RenderTurn{
		ID:      RenderID(sessionID(l), NextIndex(l)+1),
		Kind:    KindPending,
		Payload: Payload{Pending: &Pending{CapabilityName: capabilityName}},
	}
}

// StreamingRender is the render of a partially streamed assistant reply that will be
// appended after the current end of l.
func StreamingRender(l *turnlog.TurnLog, partial string) RenderTurn {
	return RenderTurn{
		ID:      RenderID(sessionID(l), NextIndex(l)),
		Kind:    KindAssistantText,
		Payload: Payload{Text: partial},
	}
}

func sessionID(l *turnlog.TurnLog) string {
	if l == nil {
		return ""
	}
	return l.SessionID
}

// normalize maps a result onto its JSON value so that live and restored results
// render identically.
func normalize(v any) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Msg("tool result is not JSON encodable")
		return fmt.Sprint(v)
	}
	var ret any
	if err := json.Unmarshal(b, &ret); err != nil {
		return string(b)
	}
	return ret
}
