package session

import (
	"bytes"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/go-go-golems/bookchat/pkg/books"
	"github.com/pkg/errors"
)

// DefaultSystemPrompt is the book assistant prompt. The capability is advertised in
// snake case; the registry resolves it back to its lowerCamel name.
const DefaultSystemPrompt = `You are a book search assistant. You can help users find books and generate similarity graphs by clicking on a book from the results of their search.
If the user requests a book search, call ` + "`{{ .SearchCapability | snakecase }}`" + ` to show the top {{ .TopBooks }} books.
Besides that, you can also provide information based on the book metadata that you have returned to users.`

// PromptData is what a system prompt template is rendered with.
type PromptData struct {
	SearchCapability string
	TopBooks         int
	UserID           string
	SessionID        string
	Now              time.Time
}

// Prompt is a parsed system prompt template. Templates get the sprig functions.
type Prompt struct {
	tmpl *template.Template
}

func ParsePrompt(text string) (*Prompt, error) {
	if text == "" {
		text = DefaultSystemPrompt
	}
	tmpl, err := template.New("system").Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return nil, errors.Wrap(err, "parse system prompt")
	}
	return &Prompt{tmpl: tmpl}, nil
}

func (p *Prompt) Render(data PromptData) (string, error) {
	if data.SearchCapability == "" {
		data.SearchCapability = books.SearchCapabilityName
	}
	if data.TopBooks == 0 {
		data.TopBooks = 10
	}
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "render system prompt")
	}
	return buf.String(), nil
}
