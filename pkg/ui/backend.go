package ui

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/bookchat/pkg/events"
	"github.com/go-go-golems/bookchat/pkg/projector"
)

// Backend submits one message of a session.
type Backend interface {
	Submit(ctx context.Context, sessionID, userText string) ([]projector.RenderTurn, error)
}

// Sender is what tea.Program offers to deliver messages from outside the update loop.
type Sender interface {
	Send(msg tea.Msg)
}

type StreamCompletionMsg struct {
	InteractionID string
	Delta         string
	Completion    string
}

type ToolPendingMsg struct {
	InteractionID string
	Render        projector.RenderTurn
}

type ToolResultMsg struct {
	InteractionID string
	Renders       []projector.RenderTurn
}

type StreamErrorMsg struct {
	InteractionID string
	Kind          string
	Err           string
}

type StreamInterruptMsg struct {
	InteractionID string
	Text          string
}

// SubmitDoneMsg carries the result of Backend.Submit.
type SubmitDoneMsg struct {
	Renders []projector.RenderTurn
	Err     error
}

// ForwardFunc is an event router handler forwarding session events to the program.
// Final events are not forwarded; the interaction result arrives as SubmitDoneMsg.
func ForwardFunc(p Sender) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		msg.Ack()

		e, err := events.NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}
		iid := e.Metadata().InteractionID

		switch e_ := e.(type) {
		case *events.EventPartial:
			p.Send(StreamCompletionMsg{InteractionID: iid, Delta: e_.Delta, Completion: e_.Completion})
		case *events.EventToolPending:
			p.Send(ToolPendingMsg{InteractionID: iid, Render: e_.Render})
		case *events.EventToolResult:
			p.Send(ToolResultMsg{InteractionID: iid, Renders: e_.Renders})
		case *events.EventError:
			p.Send(StreamErrorMsg{InteractionID: iid, Kind: e_.Kind, Err: e_.ErrorString})
		case *events.EventInterrupt:
			p.Send(StreamInterruptMsg{InteractionID: iid, Text: e_.Text})
		}
		return nil
	}
}
