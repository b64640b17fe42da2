package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-go-golems/bookchat/pkg/apperrors"
	"github.com/go-go-golems/bookchat/pkg/books"
	"github.com/go-go-golems/bookchat/pkg/capabilities/searchbooks"
	"github.com/go-go-golems/bookchat/pkg/events"
	"github.com/go-go-golems/bookchat/pkg/identity"
	"github.com/go-go-golems/bookchat/pkg/projector"
	"github.com/go-go-golems/bookchat/pkg/provider"
	"github.com/go-go-golems/bookchat/pkg/store"
	"github.com/go-go-golems/bookchat/pkg/tools"
	"github.com/go-go-golems/bookchat/pkg/turnlog"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	search func(ctx context.Context, query string) ([]books.Book, error)
	calls  atomic.Int32
}

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]books.Book, error) {
	f.calls.Add(1)
	return f.search(ctx, query)
}

func tenBooks(query string) []books.Book {
	ret := make([]books.Book, 0, 10)
	for i := 0; i < 10; i++ {
		ret = append(ret, books.Book{
			BookID:   fmt.Sprintf("b%d", i),
			Metadata: map[string]any{"author": fmt.Sprintf("Author %d", i), "title": fmt.Sprintf("%s %d", query, i)},
		})
	}
	return ret
}

// scriptedStreams replays one event list per Stream call and records requests.
type scriptedStreams struct {
	replies  [][]provider.Event
	requests []provider.Request
}

func (s *scriptedStreams) Stream(ctx context.Context, req provider.Request) (provider.EventStream, error) {
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return nil, errors.New("no reply scripted")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return provider.NewSliceStream(r, nil), nil
}

// blockingStream sends one delta, then waits for release or ctx before ending.
type blockingStream struct {
	ctx     context.Context
	release chan struct{}
	sent    bool
	ended   bool
}

func (b *blockingStream) Recv() (provider.Event, error) {
	if !b.sent {
		b.sent = true
		return provider.TextDelta("partial"), nil
	}
	if b.ended {
		return provider.Event{}, io.EOF
	}
	select {
	case <-b.ctx.Done():
		return provider.Event{}, b.ctx.Err()
	case <-b.release:
		b.ended = true
		return provider.StreamEnd(""), nil
	}
}

func (b *blockingStream) Close() error { return nil }

type fixture struct {
	coordinator *Coordinator
	store       *store.InMemoryStore
	searcher    *fakeSearcher
	sink        *events.CollectingSink
}

func newFixture(t *testing.T, p provider.ModelStream, options ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewInMemoryStore(),
		searcher: &fakeSearcher{search: func(ctx context.Context, query string) ([]books.Book, error) { return tenBooks(query), nil }},
		sink:     events.NewCollectingSink(),
	}
	capability, err := searchbooks.New(f.searcher)
	require.NoError(t, err)
	registry, err := tools.NewRegistry(capability)
	require.NoError(t, err)

	options = append([]Option{WithIdentityResolver(identity.Static("u1")), WithEventSinks(f.sink)}, options...)
	f.coordinator, err = NewCoordinator(p, tools.NewController(registry), f.store, options...)
	require.NoError(t, err)
	return f
}

func (f *fixture) load(t *testing.T, sessionID string) *turnlog.TurnLog {
	t.Helper()
	l, err := f.store.Load(context.Background(), sessionID)
	require.NoError(t, err)
	return l
}

func dragonsCall() []provider.Event {
	return []provider.Event{
		provider.Call(provider.CapabilityCall{ID: "call-1", Name: "search_books", Arguments: map[string]any{"query": "dragons"}}),
		provider.StreamEnd(""),
	}
}

func TestSubmit_StreamsTextIntoOneAssistantTurn(t *testing.T) {
	p := &scriptedStreams{replies: [][]provider.Event{{
		provider.TextDelta("Hel"), provider.TextDelta("lo, "), provider.TextDelta("world"), provider.StreamEnd("Hello, world"),
	}}}
	f := newFixture(t, p)

	renders, err := f.coordinator.Submit(context.Background(), "s1", "hi")
	require.NoError(t, err)
	require.Len(t, renders, 2)
	assert.Equal(t, projector.RenderTurn{ID: "s1-0", Kind: projector.KindUserText, Payload: projector.Payload{Text: "hi"}}, renders[0])
	assert.Equal(t, projector.KindAssistantText, renders[1].Kind)
	assert.Equal(t, "Hello, world", renders[1].Payload.Text)

	var completions []string
	for _, e := range f.sink.Events() {
		if pe, ok := e.(*events.EventPartial); ok {
			completions = append(completions, pe.Completion)
			assert.Equal(t, renders[1].ID, pe.Render.ID)
		}
	}
	assert.Equal(t, []string{"Hel", "Hello, ", "Hello, world"}, completions)
	assert.Equal(t,
		[]events.EventType{events.EventTypeStart, events.EventTypePartial, events.EventTypePartial, events.EventTypePartial, events.EventTypeFinal},
		f.sink.Types())

	l := f.load(t, "s1")
	require.Equal(t, 2, l.Len())
	assert.Equal(t, "Hello, world", l.Turns[1].Content.Text)
	assert.Equal(t, "u1", l.UserID)
	assert.Equal(t, "hi", l.Title)

	require.Len(t, p.requests, 1)
	msgs := p.requests[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, provider.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "search_books")
	assert.Equal(t, provider.Message{Role: provider.RoleUser, Content: "hi"}, msgs[1])
	require.Len(t, p.requests[0].Capabilities, 1)
	assert.Equal(t, "searchBooks", p.requests[0].Capabilities[0].Name)
}

func TestSubmit_DragonsEndToEnd(t *testing.T) {
	f := newFixture(t, &scriptedStreams{replies: [][]provider.Event{dragonsCall()}})

	renders, err := f.coordinator.Submit(context.Background(), "s1", "Find books about dragons")
	require.NoError(t, err)
	require.Len(t, renders, 2)
	assert.Equal(t, projector.KindUserText, renders[0].Kind)
	panel := renders[1]
	assert.Equal(t, "s1-2", panel.ID)
	assert.Equal(t, projector.KindToolPanel, panel.Kind)
	require.NotNil(t, panel.Payload.Panel)
	assert.Equal(t, "searchBooks", panel.Payload.Panel.CapabilityName)
	require.Len(t, panel.Payload.Panel.Events, 10)
	assert.Equal(t, books.Event{BookID: "b0", Author: "Author 0", Title: "dragons 0", Metadata: `{"author":"Author 0","title":"dragons 0"}`}, panel.Payload.Panel.Events[0])

	l := f.load(t, "s1")
	require.Equal(t, 3, l.Len())
	assert.Equal(t, turnlog.RoleUser, l.Turns[0].Role)
	assert.Equal(t, turnlog.ContentKindToolCalls, l.Turns[1].Content.Kind)
	assert.Equal(t, "call-1", l.Turns[1].Content.ToolCalls[0].CallID)
	assert.Equal(t, turnlog.ContentKindToolResults, l.Turns[2].Content.Kind)
	assert.Equal(t, "call-1", l.Turns[2].Content.ToolResults[0].CallID)

	var pendingID string
	for _, e := range f.sink.Events() {
		if pe, ok := e.(*events.EventToolPending); ok {
			pendingID = pe.Render.ID
		}
	}
	assert.Equal(t, panel.ID, pendingID)
	assert.Equal(t,
		[]events.EventType{events.EventTypeStart, events.EventTypeToolPending, events.EventTypeToolResult, events.EventTypeFinal},
		f.sink.Types())

	resumed, err := f.coordinator.Resume(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, renders, resumed)
}

func TestSubmit_IsAppendOnly(t *testing.T) {
	p := &scriptedStreams{replies: [][]provider.Event{
		{provider.TextDelta("one"), provider.StreamEnd("")},
		dragonsCall(),
	}}
	f := newFixture(t, p)

	_, err := f.coordinator.Submit(context.Background(), "s1", "first")
	require.NoError(t, err)
	before := f.load(t, "s1")

	renders, err := f.coordinator.Submit(context.Background(), "s1", "dragons please")
	require.NoError(t, err)
	after := f.load(t, "s1")

	assert.True(t, after.HasPrefix(before))
	assert.Equal(t, 5, after.Len())
	assert.Equal(t, "first", after.Title)
	assert.Equal(t, "s1-2", renders[0].ID)

	require.Len(t, p.requests, 2)
	assert.Len(t, p.requests[1].Messages, 4)
}

func TestSubmit_MalformedResponsesPersistOnlyTheUserTurn(t *testing.T) {
	call := provider.Call(provider.CapabilityCall{ID: "c", Name: "searchBooks", Arguments: map[string]any{"query": "x"}})
	tests := []struct {
		name   string
		events []provider.Event
	}{
		{name: "text then call", events: []provider.Event{provider.TextDelta("Let me look"), call, provider.StreamEnd("")}},
		{name: "call then text", events: []provider.Event{call, provider.TextDelta("done"), provider.StreamEnd("")}},
		{name: "two calls", events: []provider.Event{call, provider.Call(provider.CapabilityCall{ID: "d", Name: "searchBooks", Arguments: map[string]any{"query": "y"}}), provider.StreamEnd("")}},
		{name: "unknown capability", events: []provider.Event{provider.Call(provider.CapabilityCall{ID: "c", Name: "weather"}), provider.StreamEnd("")}},
		{name: "invalid arguments", events: []provider.Event{provider.Call(provider.CapabilityCall{ID: "c", Name: "searchBooks", Arguments: map[string]any{"query": 3}}), provider.StreamEnd("")}},
		{name: "undecodable arguments", events: []provider.Event{provider.Call(provider.CapabilityCall{ID: "c", Name: "searchBooks", RawArguments: "{no"}), provider.StreamEnd("")}},
		{name: "empty response", events: []provider.Event{provider.StreamEnd("")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &scriptedStreams{replies: [][]provider.Event{tt.events}})

			renders, err := f.coordinator.Submit(context.Background(), "s1", "hi")
			require.ErrorIs(t, err, apperrors.ErrMalformedProviderResponse)
			assert.Equal(t, apperrors.KindMalformedProviderResponse, Classify(err))
			require.Len(t, renders, 1)
			assert.Equal(t, projector.KindUserText, renders[0].Kind)

			l := f.load(t, "s1")
			require.Equal(t, 1, l.Len())
			assert.Equal(t, turnlog.RoleUser, l.Turns[0].Role)
			assert.Equal(t, int32(0), f.searcher.calls.Load())
			assert.Equal(t, events.EventTypeError, f.sink.Types()[len(f.sink.Types())-1])
		})
	}
}

func TestSubmit_ToolFailurePolicies(t *testing.T) {
	for _, policy := range []FailurePolicy{FailureSilent, FailureSurface} {
		t.Run(string(policy), func(t *testing.T) {
			f := newFixture(t, &scriptedStreams{replies: [][]provider.Event{dragonsCall()}}, WithFailurePolicy(policy))
			f.searcher.search = func(ctx context.Context, query string) ([]books.Book, error) {
				return nil, errors.New("search backend down")
			}

			renders, err := f.coordinator.Submit(context.Background(), "s1", "dragons")
			require.ErrorIs(t, err, apperrors.ErrToolExecutionFailed)
			var te *apperrors.ToolExecutionFailedError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, "searchBooks", te.CapabilityName)

			l := f.load(t, "s1")
			if policy == FailureSilent {
				require.Equal(t, 1, l.Len())
				assert.Len(t, renders, 1)
				return
			}
			require.Equal(t, 2, l.Len())
			assert.Equal(t, turnlog.RoleAssistant, l.Turns[1].Role)
			assert.Contains(t, l.Turns[1].Content.Text, "search backend down")
			require.Len(t, renders, 2)
			assert.Equal(t, projector.KindAssistantText, renders[1].Kind)
		})
	}
}

func TestSubmit_ProviderFailure(t *testing.T) {
	f := newFixture(t, provider.ModelStreamFunc(func(ctx context.Context, req provider.Request) (provider.EventStream, error) {
		return provider.NewSliceStream([]provider.Event{provider.TextDelta("Hel")}, errors.New("connection reset")), nil
	}))

	_, err := f.coordinator.Submit(context.Background(), "s1", "hi")
	require.ErrorIs(t, err, apperrors.ErrProviderFailed)
	assert.Equal(t, apperrors.KindProviderFailed, Classify(err))

	l := f.load(t, "s1")
	require.Equal(t, 1, l.Len())
	assert.Equal(t, "hi", l.Turns[0].Content.Text)
}

func TestSubmit_TruncatedStreamIsAProviderFailure(t *testing.T) {
	f := newFixture(t, provider.ModelStreamFunc(func(ctx context.Context, req provider.Request) (provider.EventStream, error) {
		return provider.NewSliceStream([]provider.Event{provider.TextDelta("Half a sen")}, nil), nil
	}))

	renders, err := f.coordinator.Submit(context.Background(), "s1", "hi")
	require.ErrorIs(t, err, apperrors.ErrProviderFailed)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, apperrors.KindProviderFailed, Classify(err))
	require.Len(t, renders, 1)
	assert.Equal(t, projector.KindUserText, renders[0].Kind)

	l := f.load(t, "s1")
	require.Equal(t, 1, l.Len())
	assert.Equal(t, turnlog.RoleUser, l.Turns[0].Role)
}

func TestSubmit_CapabilityTimeoutIsAToolFailure(t *testing.T) {
	f := newFixture(t, &scriptedStreams{replies: [][]provider.Event{dragonsCall()}})
	f.searcher.search = func(ctx context.Context, query string) ([]books.Book, error) {
		tctx, cancel := context.WithTimeout(ctx, time.Nanosecond)
		defer cancel()
		<-tctx.Done()
		return nil, errors.Wrap(tctx.Err(), "search backend")
	}

	renders, err := f.coordinator.Submit(context.Background(), "s1", "dragons")
	require.ErrorIs(t, err, apperrors.ErrToolExecutionFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, apperrors.KindToolExecutionFailed, Classify(err))
	require.Len(t, renders, 1)
	assert.Equal(t, 1, f.load(t, "s1").Len())

	var kind string
	for _, e := range f.sink.Events() {
		if ee, ok := e.(*events.EventError); ok {
			kind = ee.Kind
		}
	}
	assert.Equal(t, string(apperrors.KindToolExecutionFailed), kind)
}

func TestClassify_BareContextErrorsAreCanceled(t *testing.T) {
	assert.Equal(t, apperrors.KindCanceled, Classify(context.Canceled))
	assert.Equal(t, apperrors.KindCanceled, Classify(errors.Wrap(context.DeadlineExceeded, "submit")))
	assert.Equal(t, apperrors.KindProviderFailed, Classify(apperrors.ProviderFailed("receive model stream", context.DeadlineExceeded)))
}

func TestSubmit_CancellationPersistsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	f := newFixture(t, provider.ModelStreamFunc(func(sctx context.Context, req provider.Request) (provider.EventStream, error) {
		close(started)
		return &blockingStream{ctx: sctx, release: make(chan struct{})}, nil
	}))

	go func() {
		<-started
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	renders, err := f.coordinator.Submit(ctx, "s1", "hi")
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, renders)
	assert.Equal(t, apperrors.KindCanceled, Classify(err))

	_, err = f.store.Load(context.Background(), "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	var interrupt *events.EventInterrupt
	for _, e := range f.sink.Events() {
		if ie, ok := e.(*events.EventInterrupt); ok {
			interrupt = ie
		}
	}
	require.NotNil(t, interrupt)
	assert.Equal(t, "partial", interrupt.Text)
	assert.False(t, f.coordinator.Busy("s1"))
}

func TestSubmit_RejectsConcurrentSubmitOnSameSession(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	f := newFixture(t, provider.ModelStreamFunc(func(ctx context.Context, req provider.Request) (provider.EventStream, error) {
		started <- struct{}{}
		if req.Messages[len(req.Messages)-1].Content == "other" {
			return provider.NewSliceStream([]provider.Event{provider.TextDelta("ok"), provider.StreamEnd("")}, nil), nil
		}
		return &blockingStream{ctx: ctx, release: release}, nil
	}))

	done := make(chan error, 1)
	go func() {
		_, err := f.coordinator.Submit(context.Background(), "s1", "first")
		done <- err
	}()
	<-started
	require.Eventually(t, func() bool { return f.coordinator.Busy("s1") }, time.Second, time.Millisecond)

	_, err := f.coordinator.Submit(context.Background(), "s1", "second")
	require.ErrorIs(t, err, apperrors.ErrSessionBusy)
	assert.Equal(t, apperrors.KindSessionBusy, Classify(err))

	_, err = f.coordinator.Submit(context.Background(), "s2", "other")
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-done)

	l := f.load(t, "s1")
	require.Equal(t, 2, l.Len())
	assert.Equal(t, "partial", l.Turns[1].Content.Text)
}

func TestSubmitAndResume_AnonymousCallerIsANoOp(t *testing.T) {
	p := &scriptedStreams{}
	f := newFixture(t, p, WithIdentityResolver(identity.Static("")))

	renders, err := f.coordinator.Submit(context.Background(), "s1", "hi")
	assert.NoError(t, err)
	assert.Nil(t, renders)
	assert.Empty(t, p.requests)

	renders, err = f.coordinator.Resume(context.Background(), "s1")
	assert.NoError(t, err)
	assert.Nil(t, renders)
	assert.Empty(t, f.sink.Events())
}

func TestSubmit_EmptySessionID(t *testing.T) {
	f := newFixture(t, &scriptedStreams{})
	_, err := f.coordinator.Submit(context.Background(), "", "hi")
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	_, err = f.coordinator.Resume(context.Background(), "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestResume_UnknownSessionIsEmpty(t *testing.T) {
	f := newFixture(t, &scriptedStreams{})
	renders, err := f.coordinator.Resume(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, renders)
	assert.NotNil(t, renders)
}

func TestResume_RejectsCorruptedSnapshots(t *testing.T) {
	f := newFixture(t, &scriptedStreams{replies: [][]provider.Event{{provider.TextDelta("x"), provider.StreamEnd("")}}})
	orphan := `{"session_id":"s1","created_at":"2024-01-01T00:00:00Z","turns":[
		{"id":"t1","role":"user","content":{"kind":"text","text":"hi"},"created_at":"2024-01-01T00:00:00Z"},
		{"id":"t2","role":"tool","content":{"kind":"tool-results","tool_results":[{"call_id":"missing","capability_name":"searchBooks","result":[]}]},"created_at":"2024-01-01T00:00:00Z"}]}`
	f.store.Put("s1", []byte(orphan))

	renders, err := f.coordinator.Resume(context.Background(), "s1")
	require.ErrorIs(t, err, apperrors.ErrIntegrityViolation)
	assert.Nil(t, renders)

	_, err = f.coordinator.Submit(context.Background(), "s1", "hi")
	require.ErrorIs(t, err, apperrors.ErrIntegrityViolation)
	assert.Equal(t, apperrors.KindIntegrityViolation, Classify(err))
}

func TestSessionsAreScopedToTheirOwner(t *testing.T) {
	f := newFixture(t, &scriptedStreams{replies: [][]provider.Event{{provider.TextDelta("x"), provider.StreamEnd("")}}})
	_, err := f.coordinator.Submit(context.Background(), "s1", "hi")
	require.NoError(t, err)

	other, err := NewCoordinator(&scriptedStreams{}, f.coordinator.controller, f.store, WithIdentityResolver(identity.Static("u2")))
	require.NoError(t, err)

	renders, err := other.Resume(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, renders)

	_, err = other.Submit(context.Background(), "s1", "mine now")
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	assert.Equal(t, 2, f.load(t, "s1").Len())
}

func TestHistory(t *testing.T) {
	f := newFixture(t, &scriptedStreams{replies: [][]provider.Event{
		{provider.TextDelta("a"), provider.StreamEnd("")},
		{provider.TextDelta("b"), provider.StreamEnd("")},
	}})
	_, err := f.coordinator.Submit(context.Background(), "s1", "about dragons")
	require.NoError(t, err)
	_, err = f.coordinator.Submit(context.Background(), "s2", strings.Repeat("x", 150))
	require.NoError(t, err)

	summaries, err := f.coordinator.History(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	titles := []string{summaries[0].Title, summaries[1].Title}
	assert.Contains(t, titles, "about dragons")
	assert.Contains(t, titles, strings.Repeat("x", turnlog.TitleMaxLength))

	summaries, err = f.coordinator.History(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestPrompt(t *testing.T) {
	p, err := ParsePrompt("")
	require.NoError(t, err)
	s, err := p.Render(PromptData{})
	require.NoError(t, err)
	assert.Contains(t, s, "call `search_books` to show the top 10 books")

	p, err = ParsePrompt(`hello {{ .UserID | upper }}`)
	require.NoError(t, err)
	s, err = p.Render(PromptData{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "hello U1", s)

	_, err = ParsePrompt("{{ .Broken")
	assert.Error(t, err)

	_, err = ParseFailurePolicy("retry")
	assert.Error(t, err)
	fp, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailureSilent, fp)
}
