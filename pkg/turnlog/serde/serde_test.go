package serde

import (
	"path/filepath"
	"testing"

	"github.com/go-go-golems/bookchat/pkg/apperrors"
	"github.com/go-go-golems/bookchat/pkg/turnlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLog(t *testing.T) *turnlog.TurnLog {
	t.Helper()
	l := turnlog.New("sess-42")
	l.UserID = "user-1"
	require.NoError(t, l.Append(turnlog.NewUserTurn("find books about dragons")))
	require.NoError(t, l.AppendAll(
		turnlog.NewToolCallTurn(turnlog.ToolCallEntry{
			CallID:         "call-1",
			CapabilityName: "searchBooks",
			Arguments:      map[string]any{"query": "dragons"},
		}),
		turnlog.NewToolResultTurn(turnlog.ToolResultEntry{
			CallID:         "call-1",
			CapabilityName: "searchBooks",
			Result: []any{
				map[string]any{"book_id": "b1", "metadata": map[string]any{"author": "A", "title": "T", "year": 1977}},
			},
		}),
	))
	require.NoError(t, l.Append(turnlog.NewAssistantTextTurn("Here you go.")))
	return l
}

func assertSameTurns(t *testing.T, want, got *turnlog.TurnLog) {
	t.Helper()
	require.Equal(t, want.SessionID, got.SessionID)
	require.Equal(t, want.Len(), got.Len())
	for i := range want.Turns {
		assert.Equal(t, want.Turns[i].ID, got.Turns[i].ID)
		assert.Equal(t, want.Turns[i].Role, got.Turns[i].Role)
		assert.Equal(t, want.Turns[i].Content.Kind, got.Turns[i].Content.Kind)
		assert.Equal(t, want.Turns[i].Content.Text, got.Turns[i].Content.Text)
	}
	require.NoError(t, got.Validate())
}

func TestJSONRoundTrip(t *testing.T) {
	l := sampleLog(t)
	b, err := ToJSON(l)
	require.NoError(t, err)

	got, err := FromJSON(b)
	require.NoError(t, err)
	assertSameTurns(t, l, got)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "find books about dragons", got.Title)
	assert.Equal(t, "/chat/sess-42", got.Path)
	assert.True(t, l.CreatedAt.Equal(got.CreatedAt))
}

func TestYAMLRoundTrip(t *testing.T) {
	l := sampleLog(t)
	path := filepath.Join(t.TempDir(), "sess-42.yaml")
	require.NoError(t, SaveYAML(path, l))

	got, err := LoadYAML(path)
	require.NoError(t, err)
	assertSameTurns(t, l, got)

	call := got.Turns[1].Content.ToolCalls[0]
	assert.Equal(t, "dragons", call.Arguments["query"])
	results := got.Turns[2].Content.ToolResults[0].Result.([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "b1", results[0].(map[string]any)["book_id"])
}

func TestFromJSONRejectsMalformedSnapshots(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"missing session id", `{"turns": []}`},
		{"empty session id", `{"session_id": "", "turns": []}`},
		{"unknown role", `{"session_id": "s", "turns": [{"id": "t1", "role": "robot", "content": {"kind": "text", "text": "x"}}]}`},
		{"two variants", `{"session_id": "s", "turns": [{"id": "t1", "role": "assistant", "content": {"kind": "text", "text": "x", "tool_calls": [{"call_id": "c", "capability_name": "n"}]}}]}`},
		{"empty tool calls", `{"session_id": "s", "turns": [{"id": "t1", "role": "assistant", "content": {"kind": "tool-calls", "tool_calls": []}}]}`},
		{"result without call id", `{"session_id": "s", "turns": [{"id": "t1", "role": "tool", "content": {"kind": "tool-results", "tool_results": [{"capability_name": "n"}]}}]}`},
		{"unknown kind", `{"session_id": "s", "turns": [{"id": "t1", "role": "user", "content": {"kind": "image"}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromJSON([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrIntegrityViolation)
		})
	}
}

func TestFromJSONLeavesReferentialChecksToValidate(t *testing.T) {
	doc := `{"session_id": "s", "turns": [
		{"id": "t1", "role": "user", "content": {"kind": "text", "text": "hi"}},
		{"id": "t2", "role": "tool", "content": {"kind": "tool-results", "tool_results": [{"call_id": "ghost", "capability_name": "searchBooks", "result": []}]}}
	]}`
	l, err := FromJSON([]byte(doc))
	require.NoError(t, err)
	assert.ErrorIs(t, l.Validate(), apperrors.ErrIntegrityViolation)
}

func TestFromYAMLRejectsGarbage(t *testing.T) {
	_, err := FromYAML([]byte("session_id: [unclosed"))
	assert.ErrorIs(t, err, apperrors.ErrIntegrityViolation)
}

func TestToJSONDoesNotMutateInput(t *testing.T) {
	l := &turnlog.TurnLog{SessionID: "bare"}
	b, err := ToJSON(l)
	require.NoError(t, err)
	assert.Empty(t, l.Path)
	assert.Nil(t, l.Turns)

	got, err := FromJSON(b)
	require.NoError(t, err)
	assert.Equal(t, "/chat/bare", got.Path)
	assert.NotNil(t, got.Turns)
}
