package helpers

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewWatermill(zerolog.New(&buf).Level(zerolog.DebugLevel))

	l.With(watermill.LogFields{"topic": "chat"}).Info("subscribed", watermill.LogFields{"n": 1})
	l.Trace("dropped", nil)
	l.Error("failed", errors.New("boom"), nil)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "debug", first["level"])
	assert.Equal(t, "chat", first["topic"])
	assert.Equal(t, "watermill", first["component"])

	var second map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, "error", second["level"])
	assert.Equal(t, "boom", second["error"])
}
