package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextLogging(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: slog.LevelInfo, Format: "json", Writer: &buf})

	ctx := context.Background()
	ctx = WithContextValue(ctx, RequestIDKey, "req789")

	WithContext(l, ctx).Info("Test message with context", "key", "value")

	var record map[string]any
	require.NoError(t, jsoniter.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "req789", record["request_id"])
	assert.Equal(t, "value", record["key"])
	assert.Equal(t, "INFO", record["level"])
}

func TestWithContextWithoutValues(t *testing.T) {
	l := Discard()
	assert.Same(t, l, WithContext(l, context.Background()))
}

func TestCustomLevelNames(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: LevelTrace, Format: "json", Writer: &buf})

	Trace(context.Background(), l, "trace message")

	var record map[string]any
	require.NoError(t, jsoniter.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "TRACE", record["level"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: slog.LevelWarn, Format: "text", Writer: &buf})

	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown", DSN("host=db1"), Role("primary"))
	assert.Contains(t, buf.String(), "msg=shown")
	assert.Contains(t, buf.String(), "dsn=host=db1")
	assert.Contains(t, buf.String(), "role=primary")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"trace":   LevelTrace,
		"DEBUG":   slog.LevelDebug,
		" info ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"fatal":   LevelFatal,
		"2":       slog.Level(2),
	}
	for in, want := range cases {
		got, ok := ParseLevel(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseLevel("loud")
	assert.False(t, ok)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("LOG_ADD_SOURCE", "true")

	cfg := LoadConfig()
	assert.Equal(t, slog.LevelDebug, cfg.Level)
	assert.Equal(t, "text", cfg.Format)
	assert.True(t, cfg.AddSource)
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))
	l := Discard()
	assert.Same(t, l, OrDiscard(l))
}
