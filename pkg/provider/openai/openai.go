// Package openai streams chat completions with tool calls from the OpenAI API.
package openai

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/go-go-golems/bookchat/pkg/provider"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

type Settings struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float32
}

type Provider struct {
	client   *go_openai.Client
	settings Settings
}

func New(s Settings) (*Provider, error) {
	if s.Model == "" {
		return nil, errors.New("openai model is not configured")
	}
	if s.APIKey == "" && s.BaseURL == "" {
		return nil, errors.New("openai api key is not configured")
	}
	config := go_openai.DefaultConfig(s.APIKey)
	if s.BaseURL != "" {
		config.BaseURL = s.BaseURL
	}
	return &Provider{client: go_openai.NewClientWithConfig(config), settings: s}, nil
}

func (p *Provider) Stream(ctx context.Context, req provider.Request) (provider.EventStream, error) {
	oreq := p.makeRequest(req)
	log.Debug().
		Str("model", oreq.Model).
		Int("messages", len(oreq.Messages)).
		Int("tools", len(oreq.Tools)).
		Msg("starting openai chat completion stream")

	s, err := p.client.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		return nil, errors.Wrap(err, "create chat completion stream")
	}
	return &stream{s: s, merger: NewToolCallMerger()}, nil
}

func (p *Provider) makeRequest(req provider.Request) go_openai.ChatCompletionRequest {
	ret := go_openai.ChatCompletionRequest{
		Model:    p.settings.Model,
		Messages: make([]go_openai.ChatCompletionMessage, 0, len(req.Messages)),
		Stream:   true,
	}
	if p.settings.Temperature != nil {
		ret.Temperature = *p.settings.Temperature
	}
	for _, m := range req.Messages {
		msg := go_openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
		for _, c := range m.Calls {
			msg.ToolCalls = append(msg.ToolCalls, go_openai.ToolCall{
				ID:   c.ID,
				Type: go_openai.ToolTypeFunction,
				Function: go_openai.FunctionCall{
					Name:      c.Name,
					Arguments: c.Arguments,
				},
			})
		}
		if m.Role == provider.RoleTool {
			msg.ToolCallID = m.CallID
			msg.Name = m.Name
		}
		ret.Messages = append(ret.Messages, msg)
	}
	for _, c := range req.Capabilities {
		params := c.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object"}`)
		}
		ret.Tools = append(ret.Tools, go_openai.Tool{
			Type: go_openai.ToolTypeFunction,
			Function: &go_openai.FunctionDefinition{
				Name:        c.Name,
				Description: c.Description,
				Parameters:  params,
			},
		})
	}
	return ret
}

// stream turns completion chunks into provider events. Tool call fragments are merged
// and surfaced once the upstream stream is exhausted, followed by the stream end. The
// stream end is only sent when a chunk carried a finish reason; an upstream that stops
// without one fails with io.ErrUnexpectedEOF.
type stream struct {
	s        *go_openai.ChatCompletionStream
	merger   *ToolCallMerger
	text     strings.Builder
	queue    []provider.Event
	finished bool
	done     bool
}

func (st *stream) Recv() (provider.Event, error) {
	for {
		if len(st.queue) > 0 {
			e := st.queue[0]
			st.queue = st.queue[1:]
			return e, nil
		}
		if st.done {
			return provider.Event{}, io.EOF
		}

		response, err := st.s.Recv()
		if errors.Is(err, io.EOF) {
			if !st.finished {
				log.Warn().Msg("openai stream ended without a finish reason")
				return provider.Event{}, io.ErrUnexpectedEOF
			}
			for _, tc := range st.merger.GetToolCalls() {
				st.queue = append(st.queue, provider.Call(toCapabilityCall(tc)))
			}
			st.queue = append(st.queue, provider.StreamEnd(st.text.String()))
			st.done = true
			continue
		}
		if err != nil {
			return provider.Event{}, err
		}
		if len(response.Choices) == 0 {
			continue
		}
		if response.Choices[0].FinishReason != "" {
			st.finished = true
		}
		delta := response.Choices[0].Delta
		if len(delta.ToolCalls) > 0 {
			st.merger.AddToolCalls(delta.ToolCalls)
		}
		if delta.Content != "" {
			st.text.WriteString(delta.Content)
			log.Debug().Str("delta", delta.Content).Msg("openai text delta")
			return provider.TextDelta(delta.Content), nil
		}
	}
}

func (st *stream) Close() error {
	return st.s.Close()
}

func toCapabilityCall(tc go_openai.ToolCall) provider.CapabilityCall {
	call := provider.CapabilityCall{ID: tc.ID, Name: tc.Function.Name}
	raw := strings.TrimSpace(tc.Function.Arguments)
	if raw == "" {
		call.Arguments = map[string]any{}
		return call
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		log.Warn().Err(err).Str("call_id", tc.ID).Msg("tool call arguments are not a JSON object")
		call.RawArguments = raw
		return call
	}
	call.Arguments = args
	return call
}

// ToolCallMerger reassembles tool calls streamed in fragments, keyed by their index.
type ToolCallMerger struct {
	toolCalls map[int]go_openai.ToolCall
}

func NewToolCallMerger() *ToolCallMerger {
	return &ToolCallMerger{
		toolCalls: make(map[int]go_openai.ToolCall),
	}
}

func (tcm *ToolCallMerger) AddToolCalls(toolCalls []go_openai.ToolCall) {
	for _, call := range toolCalls {
		index := 0
		if call.Index != nil {
			index = *call.Index
		}
		if existing, found := tcm.toolCalls[index]; found {
			if existing.ID == "" {
				existing.ID = call.ID
			}
			existing.Function.Name += call.Function.Name
			existing.Function.Arguments += call.Function.Arguments
			tcm.toolCalls[index] = existing
		} else {
			tcm.toolCalls[index] = call
		}
	}
}

// GetToolCalls returns the merged calls ordered by index.
func (tcm *ToolCallMerger) GetToolCalls() []go_openai.ToolCall {
	indexes := make([]int, 0, len(tcm.toolCalls))
	for i := range tcm.toolCalls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	result := make([]go_openai.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		result = append(result, tcm.toolCalls[i])
	}
	return result
}

var _ provider.ModelStream = (*Provider)(nil)
