package events

import (
	"encoding/json"
	"fmt"

	"github.com/go-go-golems/bookchat/pkg/projector"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeStart is emitted once a submission has been accepted.
	EventTypeStart       EventType = "start"
	EventTypePartial     EventType = "partial"
	EventTypeToolPending EventType = "tool-pending"
	EventTypeToolResult  EventType = "tool-result"
	// EventTypeFinal carries the render turns of the completed interaction.
	EventTypeFinal     EventType = "final"
	EventTypeError     EventType = "error"
	EventTypeInterrupt EventType = "interrupt"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

// EventMetadata correlates an event with its session and interaction.
type EventMetadata struct {
	ID            uuid.UUID `json:"message_id"`
	SessionID     string    `json:"session_id,omitempty"`
	InteractionID string    `json:"interaction_id,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.SessionID != "" {
		e.Str("session_id", em.SessionID)
	}
	if em.InteractionID != "" {
		e.Str("interaction_id", em.InteractionID)
	}
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	// raw JSON when decoded by NewEventFromJson
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

var _ Event = &EventImpl{}

type EventStart struct {
	EventImpl
	UserText string `json:"user_text"`
}

func NewStartEvent(metadata EventMetadata, userText string) *EventStart {
	return &EventStart{
		EventImpl: EventImpl{Type_: EventTypeStart, Metadata_: metadata},
		UserText:  userText,
	}
}

// EventPartial is one streamed text fragment together with the accumulated text and
// its render.
type EventPartial struct {
	EventImpl
	Delta      string               `json:"delta"`
	Completion string               `json:"completion"`
	Render     projector.RenderTurn `json:"render"`
}

func NewPartialEvent(metadata EventMetadata, delta, completion string, render projector.RenderTurn) *EventPartial {
	return &EventPartial{
		EventImpl:  EventImpl{Type_: EventTypePartial, Metadata_: metadata},
		Delta:      delta,
		Completion: completion,
		Render:     render,
	}
}

type EventToolPending struct {
	EventImpl
	CallID         string               `json:"call_id"`
	CapabilityName string               `json:"capability_name"`
	Arguments      map[string]any       `json:"arguments,omitempty"`
	Render         projector.RenderTurn `json:"render"`
}

func NewToolPendingEvent(metadata EventMetadata, callID, capabilityName string, args map[string]any, render projector.RenderTurn) *EventToolPending {
	return &EventToolPending{
		EventImpl:      EventImpl{Type_: EventTypeToolPending, Metadata_: metadata},
		CallID:         callID,
		CapabilityName: capabilityName,
		Arguments:      args,
		Render:         render,
	}
}

type EventToolResult struct {
	EventImpl
	CallID         string                 `json:"call_id"`
	CapabilityName string                 `json:"capability_name"`
	Renders        []projector.RenderTurn `json:"renders"`
}

func NewToolResultEvent(metadata EventMetadata, callID, capabilityName string, renders []projector.RenderTurn) *EventToolResult {
	return &EventToolResult{
		EventImpl:      EventImpl{Type_: EventTypeToolResult, Metadata_: metadata},
		CallID:         callID,
		CapabilityName: capabilityName,
		Renders:        renders,
	}
}

type EventFinal struct {
	EventImpl
	Renders []projector.RenderTurn `json:"renders"`
}

func NewFinalEvent(metadata EventMetadata, renders []projector.RenderTurn) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{Type_: EventTypeFinal, Metadata_: metadata},
		Renders:   renders,
	}
}

type EventError struct {
	EventImpl
	Kind        string `json:"kind"`
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, kind string, err error) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		Kind:        kind,
		ErrorString: err.Error(),
	}
}

// EventInterrupt is emitted when an interaction is canceled. Text is whatever had been
// streamed so far; it is not persisted.
type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: EventImpl{Type_: EventTypeInterrupt, Metadata_: metadata},
		Text:      text,
	}
}

func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("empty event payload")
	}
	e.payload = b

	switch e.Type_ {
	case EventTypeStart:
		return toTypedEvent[EventStart](b)
	case EventTypePartial:
		return toTypedEvent[EventPartial](b)
	case EventTypeToolPending:
		return toTypedEvent[EventToolPending](b)
	case EventTypeToolResult:
		return toTypedEvent[EventToolResult](b)
	case EventTypeFinal:
		return toTypedEvent[EventFinal](b)
	case EventTypeError:
		return toTypedEvent[EventError](b)
	case EventTypeInterrupt:
		return toTypedEvent[EventInterrupt](b)
	}
	return e, nil
}

type payloadSetter interface {
	setPayload([]byte)
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}

func toTypedEvent[T any, PT interface {
	*T
	Event
	payloadSetter
}](b []byte) (Event, error) {
	var ret T
	if err := json.Unmarshal(b, &ret); err != nil {
		return nil, fmt.Errorf("could not decode %T: %w", ret, err)
	}
	p := PT(&ret)
	p.setPayload(b)
	return p, nil
}
