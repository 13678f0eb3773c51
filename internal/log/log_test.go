package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf, false)
	SetLevel(level)
	t.Cleanup(func() {
		SetOutput(&bytes.Buffer{}, false)
		SetLevel(LevelInfo)
	})
	return &buf
}

func TestErrorIncludesErrAndPairs(t *testing.T) {
	buf := capture(t, LevelInfo)

	Error("fetch failed", errors.New("boom"), "kind", "events", "attempt", 2)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "fetch failed", line["message"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "events", line["kind"])
	assert.EqualValues(t, 2, line["attempt"])
}

func TestLevelFiltersDebug(t *testing.T) {
	buf := capture(t, LevelInfo)

	Debug("hidden")
	Info("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestOddPairsAndNonStringKeys(t *testing.T) {
	buf := capture(t, LevelDebug)

	Warn("odd", 42, "ignored-value", "tail")

	out := strings.TrimSpace(buf.String())
	assert.Contains(t, out, `"message":"odd"`)
	assert.NotContains(t, out, "ignored-value")
	assert.NotContains(t, out, "tail")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel(" ERROR "))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}
