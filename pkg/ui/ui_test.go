package ui

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/bookchat/pkg/apperrors"
	"github.com/go-go-golems/bookchat/pkg/books"
	"github.com/go-go-golems/bookchat/pkg/events"
	"github.com/go-go-golems/bookchat/pkg/projector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	submit func(ctx context.Context, sessionID, text string) ([]projector.RenderTurn, error)
}

func (f fakeBackend) Submit(ctx context.Context, sessionID, text string) ([]projector.RenderTurn, error) {
	return f.submit(ctx, sessionID, text)
}

type collectingSender struct {
	msgs []tea.Msg
}

func (c *collectingSender) Send(msg tea.Msg) { c.msgs = append(c.msgs, msg) }

func typeText(m *Model, text string) {
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
}

func TestModelSubmitFlow(t *testing.T) {
	var got string
	m := NewModel(context.Background(), fakeBackend{submit: func(ctx context.Context, sessionID, text string) ([]projector.RenderTurn, error) {
		got = sessionID + ":" + text
		return []projector.RenderTurn{
			{ID: "s1-0", Kind: projector.KindUserText, Payload: projector.Payload{Text: text}},
			{ID: "s1-1", Kind: projector.KindAssistantText, Payload: projector.Payload{Text: "Hello"}},
		}, nil
	}}, "s1", nil)
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})

	typeText(m, "hi")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, StateStreamCompletion, m.State())

	m.Update(StreamCompletionMsg{Completion: "Hel"})
	assert.Contains(t, m.View(), "Hel")

	m.Update(cmd())
	assert.Equal(t, "s1:hi", got)
	assert.Equal(t, StateUserInput, m.State())
	require.Len(t, m.Renders(), 2)
	assert.Contains(t, m.View(), "Hello")
}

func TestModelShowsErrorsAndIgnoresCancellation(t *testing.T) {
	m := NewModel(context.Background(), fakeBackend{}, "s1", nil)
	m.state = StateStreamCompletion

	m.Update(SubmitDoneMsg{Err: context.Canceled})
	assert.Equal(t, StateUserInput, m.State())

	m.state = StateStreamCompletion
	m.Update(SubmitDoneMsg{Err: apperrors.NewMalformedResponse("", "empty response")})
	assert.Equal(t, StateError, m.State())
	assert.Contains(t, m.View(), "empty response")

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, StateUserInput, m.State())
}

func TestRendererPanel(t *testing.T) {
	r := NewRenderer(DefaultStyles(), 100)
	out := r.Turn(projector.RenderTurn{Kind: projector.KindToolPanel, Payload: projector.Payload{Panel: &projector.ToolPanel{
		CapabilityName: "searchBooks",
		Events:         []books.Event{{BookID: "b1", Author: "Le Guin", Title: "Tehanu"}},
	}}})
	assert.Contains(t, out, "1 books")
	assert.Contains(t, out, "Tehanu by Le Guin")
	assert.Empty(t, r.Turn(projector.RenderTurn{Kind: projector.KindNone}))
}

func TestForwardFunc(t *testing.T) {
	s := &collectingSender{}
	f := ForwardFunc(s)
	md := events.EventMetadata{InteractionID: "i1"}

	for _, e := range []events.Event{
		events.NewPartialEvent(md, "lo", "Hello", projector.RenderTurn{}),
		events.NewToolPendingEvent(md, "c1", "searchBooks", nil, projector.RenderTurn{ID: "s1-2", Kind: projector.KindPending}),
		events.NewFinalEvent(md, nil),
	} {
		b, err := json.Marshal(e)
		require.NoError(t, err)
		require.NoError(t, f(message.NewMessage(watermill.NewUUID(), b)))
	}

	require.Len(t, s.msgs, 2)
	assert.Equal(t, StreamCompletionMsg{InteractionID: "i1", Delta: "lo", Completion: "Hello"}, s.msgs[0])
	pending, ok := s.msgs[1].(ToolPendingMsg)
	require.True(t, ok)
	assert.Equal(t, "s1-2", pending.Render.ID)

	assert.Error(t, f(message.NewMessage(watermill.NewUUID(), []byte("nope"))))
}
