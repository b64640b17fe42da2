package scripted

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-go-golems/bookchat/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, s provider.EventStream) []provider.Event {
	t.Helper()
	var ret []provider.Event
	for {
		e, err := s.Recv()
		if err == io.EOF {
			return ret
		}
		require.NoError(t, err)
		ret = append(ret, e)
	}
}

func userReq(text string) provider.Request {
	return provider.Request{Messages: []provider.Message{{Role: provider.RoleUser, Content: text}}}
}

func TestProviderRepliesInOrderAndByMatch(t *testing.T) {
	p := NewFromReplies(
		Reply{Deltas: []string{"Hel", "lo"}},
		Reply{Match: "dragons", Call: &Call{Name: "searchBooks", Arguments: map[string]any{"query": "dragons"}}},
	)

	s, err := p.Stream(context.Background(), userReq("Find books about Dragons"))
	require.NoError(t, err)
	evs := drain(t, s)
	require.Len(t, evs, 2)
	assert.Equal(t, provider.EventCapabilityCall, evs[0].Kind)
	assert.Equal(t, "dragons", evs[0].Call.Arguments["query"])

	s, err = p.Stream(context.Background(), userReq("hi"))
	require.NoError(t, err)
	evs = drain(t, s)
	assert.Equal(t, []provider.Event{provider.TextDelta("Hel"), provider.TextDelta("lo"), provider.StreamEnd("Hello")}, evs)

	_, err = p.Stream(context.Background(), userReq("again"))
	assert.Error(t, err)
	assert.Len(t, p.Requests(), 3)
}

func TestProviderErrorReply(t *testing.T) {
	p := NewFromReplies(Reply{Error: "rate limited"})
	_, err := p.Stream(context.Background(), userReq("hi"))
	assert.EqualError(t, err, "rate limited")
}

func TestProviderLoops(t *testing.T) {
	p := New(Script{Loop: true, Replies: []Reply{{Deltas: []string{"a"}}}})
	for i := 0; i < 3; i++ {
		_, err := p.Stream(context.Background(), userReq("x"))
		require.NoError(t, err)
	}
}

func TestStreamHonorsCancellation(t *testing.T) {
	p := NewFromReplies(Reply{Deltas: []string{"a", "b"}})
	ctx, cancel := context.WithCancel(context.Background())
	s, err := p.Stream(ctx, userReq("x"))
	require.NoError(t, err)
	_, err = s.Recv()
	require.NoError(t, err)
	cancel()
	_, err = s.Recv()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
delta_delay: 10ms
replies:
  - match: dragons
    call:
      name: searchBooks
      arguments:
        query: dragons
  - deltas: ["Hi", " there"]
`), 0o644))
	s, err := LoadScript(path)
	require.NoError(t, err)
	require.Len(t, s.Replies, 2)
	assert.Equal(t, "searchBooks", s.Replies[0].Call.Name)
	assert.Equal(t, []string{"Hi", " there"}, s.Replies[1].Deltas)
	assert.Equal(t, "10ms", s.DeltaDelay.String())
}
