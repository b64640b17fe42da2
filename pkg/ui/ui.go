// Package ui is a terminal chat client for one session.
package ui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/bookchat/pkg/apperrors"
	"github.com/go-go-golems/bookchat/pkg/projector"
	"github.com/pkg/errors"
)

type State string

const (
	StateUserInput        State = "user_input"
	StateStreamCompletion State = "stream_completion"
	StateError            State = "error"
)

type Model struct {
	ctx       context.Context
	backend   Backend
	sessionID string

	viewport viewport.Model
	textArea textarea.Model
	help     help.Model
	keyMap   KeyMap
	style    *Style
	renderer *Renderer

	width  int
	height int

	// committed renders, as returned by Resume and Submit
	renders []projector.RenderTurn
	// live state of the running interaction
	userText string
	current  string
	pending  *projector.RenderTurn
	cancel   context.CancelFunc

	state State
	err   error
}

// NewModel returns a chat model for sessionID showing history first.
func NewModel(ctx context.Context, backend Backend, sessionID string, history []projector.RenderTurn) *Model {
	style := DefaultStyles()
	m := &Model{
		ctx:       ctx,
		backend:   backend,
		sessionID: sessionID,
		viewport:  viewport.New(0, 0),
		help:      help.New(),
		keyMap:    DefaultKeyMap,
		style:     style,
		renderer:  NewRenderer(style, 80),
		renders:   append([]projector.RenderTurn{}, history...),
		state:     StateUserInput,
	}
	m.textArea = textarea.New()
	m.textArea.Placeholder = "Find books about..."
	m.textArea.ShowLineNumbers = false
	m.textArea.SetHeight(3)
	m.textArea.Focus()
	m.updateKeyBindings()
	m.refresh()
	return m
}

func (m *Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m *Model) State() State { return m.state }

func (m *Model) Renders() []projector.RenderTurn { return m.renders }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keyMap.Quit):
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case key.Matches(msg, m.keyMap.SubmitMessage):
			return m, m.submit()
		case key.Matches(msg, m.keyMap.CancelCompletion):
			if m.cancel != nil {
				m.cancel()
			}
			return m, nil
		case key.Matches(msg, m.keyMap.DismissError):
			m.err = nil
			m.state = StateUserInput
			m.updateKeyBindings()
			m.refresh()
			return m, m.textArea.Focus()
		case key.Matches(msg, m.keyMap.ScrollUp), key.Matches(msg, m.keyMap.ScrollDown):
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		if m.state == StateUserInput {
			m.textArea, cmd = m.textArea.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recomputeSize()

	case StreamCompletionMsg:
		if m.state == StateStreamCompletion {
			m.current = msg.Completion
			m.refresh()
		}

	case ToolPendingMsg:
		if m.state == StateStreamCompletion {
			r := msg.Render
			m.pending = &r
			m.refresh()
		}

	case ToolResultMsg:
		if m.state == StateStreamCompletion {
			m.pending = nil
			m.refresh()
		}

	case StreamErrorMsg, StreamInterruptMsg:
		// the result arrives with SubmitDoneMsg

	case SubmitDoneMsg:
		m.finish(msg)
		if m.state == StateUserInput {
			cmds = append(cmds, m.textArea.Focus())
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) submit() tea.Cmd {
	if m.state != StateUserInput {
		return nil
	}
	text := strings.TrimSpace(m.textArea.Value())
	if text == "" {
		return nil
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	m.userText = text
	m.current = ""
	m.pending = nil
	m.state = StateStreamCompletion
	m.textArea.Reset()
	m.textArea.Blur()
	m.updateKeyBindings()
	m.refresh()

	backend, sessionID := m.backend, m.sessionID
	return func() tea.Msg {
		renders, err := backend.Submit(ctx, sessionID, text)
		return SubmitDoneMsg{Renders: renders, Err: err}
	}
}

func (m *Model) finish(msg SubmitDoneMsg) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.renders = append(m.renders, msg.Renders...)
	m.userText, m.current, m.pending = "", "", nil

	switch {
	case msg.Err == nil:
		m.state = StateUserInput
	case errors.Is(msg.Err, context.Canceled):
		m.state = StateUserInput
	default:
		m.err = errors.Wrap(msg.Err, string(apperrors.KindOf(msg.Err)))
		m.state = StateError
	}
	m.updateKeyBindings()
	m.refresh()
}

func (m *Model) updateKeyBindings() {
	m.keyMap.SubmitMessage.SetEnabled(m.state == StateUserInput)
	m.keyMap.CancelCompletion.SetEnabled(m.state == StateStreamCompletion)
	m.keyMap.DismissError.SetEnabled(m.state == StateError)
}

func (m *Model) recomputeSize() {
	m.renderer.SetWidth(m.width)
	m.textArea.SetWidth(m.width - m.style.Input.GetHorizontalFrameSize())

	height := m.height -
		lipgloss.Height(m.headerView()) -
		lipgloss.Height(m.inputView()) -
		lipgloss.Height(m.help.View(m.keyMap))
	if height < 0 {
		height = 0
	}
	m.viewport.Width = m.width
	m.viewport.Height = height
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.conversationView())
	m.viewport.GotoBottom()
}

func (m *Model) headerView() string {
	return m.style.Header.Render("bookchat " + m.sessionID)
}

func (m *Model) conversationView() string {
	parts := []string{}
	if s := m.renderer.Turns(m.renders); s != "" {
		parts = append(parts, s)
	}
	if m.userText != "" {
		parts = append(parts, m.renderer.Turn(projector.RenderTurn{Kind: projector.KindUserText, Payload: projector.Payload{Text: m.userText}}))
	}
	if m.current != "" {
		parts = append(parts, m.renderer.Streaming(m.current))
	}
	if m.pending != nil {
		parts = append(parts, m.renderer.Turn(*m.pending))
	}
	return strings.Join(parts, "\n")
}

func (m *Model) inputView() string {
	if m.err != nil {
		return m.renderer.Error(m.err)
	}
	return m.style.Input.Render(m.textArea.View())
}

func (m *Model) View() string {
	return m.headerView() + "\n" + m.viewport.View() + "\n" + m.inputView() + "\n" + m.help.View(m.keyMap)
}

var _ tea.Model = (*Model)(nil)
