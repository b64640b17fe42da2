// Package provider defines the streaming language-model interface the session engine
// talks to, and maps turn logs onto provider messages.
package provider

import (
	"context"
	"encoding/json"
	"io"

	"github.com/go-go-golems/bookchat/pkg/turnlog"
)

type EventKind string

const (
	EventTextDelta      EventKind = "text-delta"
	EventCapabilityCall EventKind = "capability-call"
	EventStreamEnd      EventKind = "stream-end"
)

// CapabilityCall is a capability invocation requested by the model.
type CapabilityCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	// RawArguments is the argument text as sent by the model, when it did not decode.
	RawArguments string `json:"raw_arguments,omitempty"`
}

// Event is one element of a model stream.
type Event struct {
	Kind      EventKind       `json:"kind"`
	Delta     string          `json:"delta,omitempty"`
	Call      *CapabilityCall `json:"call,omitempty"`
	FinalText string          `json:"final_text,omitempty"`
}

func TextDelta(delta string) Event {
	return Event{Kind: EventTextDelta, Delta: delta}
}

func Call(call CapabilityCall) Event {
	return Event{Kind: EventCapabilityCall, Call: &call}
}

func StreamEnd(finalText string) Event {
	return Event{Kind: EventStreamEnd, FinalText: finalText}
}

// EventStream yields events in arrival order. Recv returns io.EOF after the stream end
// event has been delivered.
type EventStream interface {
	Recv() (Event, error)
	Close() error
}

// ModelStream starts a streamed model response.
type ModelStream interface {
	Stream(ctx context.Context, req Request) (EventStream, error)
}

// CapabilitySpec describes a capability to the model.
type CapabilitySpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type Request struct {
	Messages     []Message        `json:"messages"`
	Capabilities []CapabilitySpec `json:"capabilities,omitempty"`
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MessageCall is a capability call attached to an assistant message.
type MessageCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a provider-neutral chat message.
type Message struct {
	Role    Role          `json:"role"`
	Content string        `json:"content,omitempty"`
	Calls   []MessageCall `json:"calls,omitempty"`
	// CallID and Name identify the call a tool message answers.
	CallID string `json:"call_id,omitempty"`
	Name   string `json:"name,omitempty"`
}

// MessagesFromLog maps the history onto messages, with systemPrompt first when not
// empty. Tool turns become one message per result.
func MessagesFromLog(systemPrompt string, l *turnlog.TurnLog) []Message {
	ret := []Message{}
	if systemPrompt != "" {
		ret = append(ret, Message{Role: RoleSystem, Content: systemPrompt})
	}
	if l == nil {
		return ret
	}
	for _, t := range l.Turns {
		switch t.Content.Kind {
		case turnlog.ContentKindText:
			ret = append(ret, Message{Role: Role(t.Role), Content: t.Content.Text})
		case turnlog.ContentKindToolCalls:
			m := Message{Role: RoleAssistant}
			for _, c := range t.Content.ToolCalls {
				m.Calls = append(m.Calls, MessageCall{ID: c.CallID, Name: c.CapabilityName, Arguments: encode(c.Arguments)})
			}
			ret = append(ret, m)
		case turnlog.ContentKindToolResults:
			for _, r := range t.Content.ToolResults {
				ret = append(ret, Message{Role: RoleTool, Content: encode(r.Result), CallID: r.CallID, Name: r.CapabilityName})
			}
		}
	}
	return ret
}

func encode(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// SliceStream replays a fixed list of events.
type SliceStream struct {
	events []Event
	pos    int
	err    error
}

// NewSliceStream returns a stream over events. When err is set it is returned after
// the events instead of io.EOF.
func NewSliceStream(events []Event, err error) *SliceStream {
	return &SliceStream{events: events, err: err}
}

func (s *SliceStream) Recv() (Event, error) {
	if s.pos < len(s.events) {
		e := s.events[s.pos]
		s.pos++
		return e, nil
	}
	if s.err != nil {
		return Event{}, s.err
	}
	return Event{}, io.EOF
}

func (s *SliceStream) Close() error { return nil }

// ModelStreamFunc adapts a function to ModelStream.
type ModelStreamFunc func(ctx context.Context, req Request) (EventStream, error)

func (f ModelStreamFunc) Stream(ctx context.Context, req Request) (EventStream, error) {
	return f(ctx, req)
}
