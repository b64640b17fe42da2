package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/bookchat/pkg/projector"
	"github.com/muesli/reflow/wordwrap"
	"github.com/rs/zerolog/log"
)

// Renderer turns render turns into terminal text. Assistant text is rendered as
// markdown.
type Renderer struct {
	style *Style
	width int
	md    *glamour.TermRenderer
}

func NewRenderer(style *Style, width int) *Renderer {
	r := &Renderer{style: style}
	r.SetWidth(width)
	return r
}

func (r *Renderer) SetWidth(width int) {
	if width <= 0 {
		width = 80
	}
	if width == r.width && r.md != nil {
		return
	}
	r.width = width
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(r.contentWidth()),
	)
	if err != nil {
		log.Warn().Err(err).Msg("markdown renderer unavailable")
		md = nil
	}
	r.md = md
}

func (r *Renderer) contentWidth() int {
	w := r.width - r.style.AssistantMessage.GetHorizontalFrameSize()
	if w < 10 {
		return 10
	}
	return w
}

func (r *Renderer) Turns(renders []projector.RenderTurn) string {
	parts := make([]string, 0, len(renders))
	for _, rt := range renders {
		if s := r.Turn(rt); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

func (r *Renderer) Turn(rt projector.RenderTurn) string {
	switch rt.Kind {
	case projector.KindUserText:
		return r.style.UserMessage.Width(r.contentWidth()).Render(wordwrap.String("> "+rt.Payload.Text, r.contentWidth()))
	case projector.KindAssistantText:
		return r.style.AssistantMessage.Width(r.contentWidth()).Render(r.markdown(rt.Payload.Text))
	case projector.KindToolPanel:
		return r.panel(rt.Payload.Panel)
	case projector.KindPending:
		name := ""
		if rt.Payload.Pending != nil {
			name = rt.Payload.Pending.CapabilityName
		}
		return r.style.Pending.Render(fmt.Sprintf("running %s...", name))
	}
	return ""
}

// Streaming renders the partial assistant text without markdown, which is only
// applied once the text is complete.
func (r *Renderer) Streaming(text string) string {
	return r.style.AssistantMessage.Width(r.contentWidth()).Render(wordwrap.String(text, r.contentWidth()))
}

func (r *Renderer) Error(err error) string {
	return r.style.Error.Width(r.contentWidth()).Render(wordwrap.String(err.Error(), r.contentWidth()))
}

func (r *Renderer) markdown(text string) string {
	if r.md == nil {
		return wordwrap.String(text, r.contentWidth())
	}
	out, err := r.md.Render(text)
	if err != nil {
		return wordwrap.String(text, r.contentWidth())
	}
	return strings.TrimSpace(out)
}

func (r *Renderer) panel(p *projector.ToolPanel) string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	if len(p.Events) == 0 && p.Raw != nil {
		b.WriteString(r.style.PanelTitle.Render(p.CapabilityName))
		b.WriteString("\n")
		b.WriteString(wordwrap.String(fmt.Sprintf("%v", p.Raw), r.contentWidth()))
		return r.style.Panel.Width(r.contentWidth()).Render(b.String())
	}
	b.WriteString(r.style.PanelTitle.Render(fmt.Sprintf("%d books", len(p.Events))))
	for i, e := range p.Events {
		fmt.Fprintf(&b, "\n%2d. %s by %s [%s]", i+1, e.Title, e.Author, e.BookID)
	}
	return r.style.Panel.Width(r.contentWidth()).Render(b.String())
}
