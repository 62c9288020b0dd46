package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelFromString("DEBUG"))
	assert.Equal(t, slog.LevelWarn, LevelFromString("warning"))
	assert.Equal(t, slog.LevelError, LevelFromString("error"))
	assert.Equal(t, slog.LevelInfo, LevelFromString(""))
	assert.Equal(t, slog.LevelInfo, LevelFromString("verbose"))
}

func TestNew_WritesPlainTextToBuffers(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, slog.LevelInfo)
	l.Debug("hidden")
	l.Info("payment processed", "component", "payments", "status", "paid")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "payment processed")
	assert.Contains(t, out, "component=payments")
	assert.NotContains(t, out, "\x1b[", "no ANSI colors outside a terminal")
}
