package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Output: &buf, Level: LevelInfo}).With(Component("importer"))

	l.Info("import finished", TestName("Mock 1"), Count("inserted", 3), Err(errors.New("boom")))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "import finished", entry["message"])
	fields := entry["fields"].(map[string]any)
	assert.Equal(t, "importer", fields["component"])
	assert.Equal(t, "Mock 1", fields["test_name"])
	assert.Equal(t, float64(3), fields["inserted"])
	assert.Equal(t, "boom", fields["error"])
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Output: &buf, Level: LevelWarn})

	l.Info("hidden")
	l.Debug("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
	assert.True(t, l.WithLevel(LevelDebug).Enabled(LevelDebug))
	assert.False(t, l.Enabled(LevelInfo))
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Output: &buf, Level: LevelDebug, Format: FormatText})

	l.Info("ranked", Int("students", 12))

	line := buf.String()
	assert.Contains(t, line, "INFO")
	assert.Contains(t, line, "ranked students=12")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestLogger_WithDoesNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(Options{Output: &buf, Format: FormatText})
	_ = parent.With(String("child", "yes"))

	parent.Info("parent")
	assert.NotContains(t, buf.String(), "child=yes")
}

func TestContextPropagation(t *testing.T) {
	l := Nop().WithRequestID("req-1")
	ctx := WithContext(context.Background(), l)

	assert.Same(t, l, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestParseLevelAndFormat(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, FormatText, ParseFormat("TEXT"))
	assert.Equal(t, FormatJSON, ParseFormat(""))
	assert.Equal(t, "UNKNOWN", Level(42).String())
}
