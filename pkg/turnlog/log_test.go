package turnlog

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-go-golems/bookchat/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callPair(callID string) (Turn, Turn) {
	call := NewToolCallTurn(ToolCallEntry{
		CallID:         callID,
		CapabilityName: "searchBooks",
		Arguments:      map[string]any{"query": "dragons"},
	})
	result := NewToolResultTurn(ToolResultEntry{
		CallID:         callID,
		CapabilityName: "searchBooks",
		Result:         []any{map[string]any{"book_id": "b1"}},
	})
	return call, result
}

func TestTurnLog_AppendSetsTitleFromFirstUserTurn(t *testing.T) {
	l := New("sess-1")
	require.NoError(t, l.Append(NewSystemTurn("be nice")))
	require.NoError(t, l.Append(NewUserTurn(strings.Repeat("é", 120))))
	require.NoError(t, l.Append(NewUserTurn("second")))

	assert.Equal(t, 3, l.Len())
	assert.Equal(t, strings.Repeat("é", TitleMaxLength), l.Title)
	assert.Equal(t, "/chat/sess-1", l.Path)
}

func TestTurnLog_AppendAllCommitsBothOrNeither(t *testing.T) {
	l := New("sess-1")
	require.NoError(t, l.Append(NewUserTurn("find books about dragons")))

	call, result := callPair("call-1")
	require.NoError(t, l.AppendAll(call, result))
	require.Equal(t, 3, l.Len())

	// A second pair whose result references an unknown call must not leave the call behind.
	call2, _ := callPair("call-2")
	_, orphan := callPair("call-3")
	err := l.AppendAll(call2, orphan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrIntegrityViolation))
	assert.Equal(t, 3, l.Len())
}

func TestTurnLog_AppendRejectsMalformedShapes(t *testing.T) {
	tests := []struct {
		name string
		turn Turn
	}{
		{"unknown role", NewTurn(Role("robot"), TextContent("x"))},
		{"tool turn with text", NewTurn(RoleTool, TextContent("x"))},
		{"user turn with tool calls", NewTurn(RoleUser, ToolCallsContent(ToolCallEntry{CallID: "c", CapabilityName: "n"}))},
		{"assistant turn with tool results", NewTurn(RoleAssistant, ToolResultsContent(ToolResultEntry{CallID: "c", CapabilityName: "n"}))},
		{"text mixed with calls", NewTurn(RoleAssistant, Content{Kind: ContentKindText, Text: "x", ToolCalls: []ToolCallEntry{{CallID: "c", CapabilityName: "n"}}})},
		{"empty tool calls", NewTurn(RoleAssistant, ToolCallsContent())},
		{"call without id", NewTurn(RoleAssistant, ToolCallsContent(ToolCallEntry{CapabilityName: "n"}))},
		{"unknown content kind", NewTurn(RoleUser, Content{Kind: "image"})},
		{"empty id", Turn{Role: RoleUser, Content: TextContent("x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New("sess-1")
			err := l.Append(tt.turn)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrIntegrityViolation))
			assert.Equal(t, 0, l.Len())
		})
	}
}

func TestTurnLog_ValidateDetectsOrphanResult(t *testing.T) {
	_, orphan := callPair("missing")
	l := &TurnLog{SessionID: "sess-1", Turns: []Turn{NewUserTurn("hi"), orphan}}

	err := l.Validate()
	require.Error(t, err)
	var ie *apperrors.IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "missing", ie.CallID)
	assert.Equal(t, orphan.ID, ie.TurnID)
}

func TestTurnLog_ValidateDetectsResultBeforeCall(t *testing.T) {
	call, result := callPair("c1")
	l := &TurnLog{SessionID: "sess-1", Turns: []Turn{result, call}}
	require.ErrorIs(t, l.Validate(), apperrors.ErrIntegrityViolation)
}

func TestTurnLog_ValidateDetectsCapabilityMismatch(t *testing.T) {
	call, result := callPair("c1")
	result.Content.ToolResults[0].CapabilityName = "other"
	l := &TurnLog{SessionID: "sess-1", Turns: []Turn{call, result}}
	require.ErrorIs(t, l.Validate(), apperrors.ErrIntegrityViolation)
}

func TestTurnLog_ValidateDetectsDuplicates(t *testing.T) {
	u := NewUserTurn("hi")
	l := &TurnLog{SessionID: "sess-1", Turns: []Turn{u, u}}
	require.ErrorIs(t, l.Validate(), apperrors.ErrIntegrityViolation)

	c1, _ := callPair("same")
	c2, _ := callPair("same")
	l = &TurnLog{SessionID: "sess-1", Turns: []Turn{c1, c2}}
	require.ErrorIs(t, l.Validate(), apperrors.ErrIntegrityViolation)
}

func TestTurnLog_CloneIsIndependent(t *testing.T) {
	l := New("sess-1")
	require.NoError(t, l.Append(NewUserTurn("hi")))
	call, result := callPair("c1")
	require.NoError(t, l.AppendAll(call, result))

	cp := l.Clone()
	require.NoError(t, cp.Append(NewAssistantTextTurn("more")))
	cp.Turns[1].Content.ToolCalls[0].Arguments["query"] = "changed"

	assert.Equal(t, 3, l.Len())
	assert.Equal(t, "dragons", l.Turns[1].Content.ToolCalls[0].Arguments["query"])
	assert.True(t, cp.HasPrefix(l))
	assert.False(t, l.HasPrefix(cp))
}

func TestTurnLog_ToolCallLookup(t *testing.T) {
	l := New("sess-1")
	call, result := callPair("c1")
	require.NoError(t, l.AppendAll(call, result))

	got, ok := l.ToolCall("c1")
	require.True(t, ok)
	assert.Equal(t, "searchBooks", got.CapabilityName)

	_, ok = l.ToolCall("nope")
	assert.False(t, ok)
}
