// Package scripted is a model provider that replays replies from a script. It backs
// offline demos and tests.
package scripted

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/bookchat/pkg/provider"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Reply is one scripted model response: text fragments, or a capability call, or both
// when a malformed response is wanted.
type Reply struct {
	// Match selects the reply when the last user message contains it, ignoring case.
	Match string `yaml:"match,omitempty"`
	// Deltas are streamed in order.
	Deltas []string `yaml:"deltas,omitempty"`
	Call   *Call    `yaml:"call,omitempty"`
	// Final is sent with the stream end. Empty means the concatenated deltas.
	Final string `yaml:"final,omitempty"`
	// Error fails the stream with this message instead of replying.
	Error string `yaml:"error,omitempty"`
}

type Call struct {
	ID        string         `yaml:"id,omitempty"`
	Name      string         `yaml:"name"`
	Arguments map[string]any `yaml:"arguments,omitempty"`
}

type Script struct {
	Replies []Reply `yaml:"replies"`
	// DeltaDelay paces text fragments.
	DeltaDelay time.Duration `yaml:"delta_delay,omitempty"`
	// Loop restarts the script once every reply has been used.
	Loop bool `yaml:"loop,omitempty"`
}

// LoadScript reads a YAML script from path.
func LoadScript(path string) (*Script, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Script
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrapf(err, "parse script %s", path)
	}
	return &s, nil
}

// Provider hands out replies in order. Replies with a Match are only used when they
// match; the first unused matching reply wins over the next unmatched one.
type Provider struct {
	mu       sync.Mutex
	script   Script
	used     []bool
	requests []provider.Request
}

func New(s Script) *Provider {
	return &Provider{script: s, used: make([]bool, len(s.Replies))}
}

// NewFromReplies is a shorthand for tests.
func NewFromReplies(replies ...Reply) *Provider {
	return New(Script{Replies: replies})
}

// Requests returns the requests received so far.
func (p *Provider) Requests() []provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.Request{}, p.requests...)
}

func (p *Provider) Stream(ctx context.Context, req provider.Request) (provider.EventStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.requests = append(p.requests, req)
	r, ok := p.next(lastUserText(req))
	delay := p.script.DeltaDelay
	p.mu.Unlock()

	if !ok {
		return nil, errors.New("scripted provider has no reply left")
	}
	if r.Error != "" {
		return nil, errors.New(r.Error)
	}
	return &stream{ctx: ctx, events: eventsOf(r), delay: delay}, nil
}

func (p *Provider) next(userText string) (Reply, bool) {
	if p.script.Loop && len(p.used) > 0 && allUsed(p.used) {
		p.used = make([]bool, len(p.script.Replies))
	}
	lower := strings.ToLower(userText)
	for i, r := range p.script.Replies {
		if !p.used[i] && r.Match != "" && strings.Contains(lower, strings.ToLower(r.Match)) {
			p.used[i] = true
			return r, true
		}
	}
	for i, r := range p.script.Replies {
		if !p.used[i] && r.Match == "" {
			p.used[i] = true
			return r, true
		}
	}
	return Reply{}, false
}

func allUsed(used []bool) bool {
	for _, u := range used {
		if !u {
			return false
		}
	}
	return true
}

func lastUserText(req provider.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == provider.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

func eventsOf(r Reply) []provider.Event {
	ret := make([]provider.Event, 0, len(r.Deltas)+2)
	for _, d := range r.Deltas {
		ret = append(ret, provider.TextDelta(d))
	}
	if r.Call != nil {
		ret = append(ret, provider.Call(provider.CapabilityCall{ID: r.Call.ID, Name: r.Call.Name, Arguments: r.Call.Arguments}))
	}
	final := r.Final
	if final == "" {
		final = strings.Join(r.Deltas, "")
	}
	return append(ret, provider.StreamEnd(final))
}

type stream struct {
	ctx    context.Context
	events []provider.Event
	pos    int
	delay  time.Duration
}

func (s *stream) Recv() (provider.Event, error) {
	if err := s.ctx.Err(); err != nil {
		return provider.Event{}, err
	}
	if s.pos >= len(s.events) {
		return provider.Event{}, io.EOF
	}
	e := s.events[s.pos]
	s.pos++
	if s.delay > 0 && e.Kind == provider.EventTextDelta {
		select {
		case <-s.ctx.Done():
			return provider.Event{}, s.ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return e, nil
}

func (s *stream) Close() error { return nil }

var _ provider.ModelStream = (*Provider)(nil)
