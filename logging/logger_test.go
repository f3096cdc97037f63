package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineLoggerFormatsLevelsAndArgs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLine(&buf, LevelInfo)

	l.Debug("hidden")
	l.Info("adapter ready", "mode", "spi", "pins", 3)
	l.With("handler", "io0").Error("init failed", "err", errors.New("bus down"), "retry", true)

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\r\n"), "\r\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[INFO]  adapter ready mode=spi pins=3", lines[0])
	assert.Equal(t, "[ERROR] init failed handler=io0 err=bus down retry=true", lines[1])
}

func TestLineLoggerOddArgs(t *testing.T) {
	var buf bytes.Buffer
	NewLine(&buf, LevelDebug).Warn("x", 42, "v", "dangling")
	assert.Equal(t, "[WARN]  x !BADKEY=v dangling=\r\n", buf.String())
}

func TestNewSlogLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn", "text")

	l.Info("quiet")
	l.Warn("loud", "code", "transfer_error")

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "msg=loud")
	assert.Contains(t, out, "code=transfer_error")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestOrNopAndWith(t *testing.T) {
	l := OrNop(nil)
	l.Info("dropped")
	assert.Equal(t, l, With(l, "k", "v"))

	var buf bytes.Buffer
	With(New(&buf, "info", "json"), "handler", "pwm0").Info("hello")
	assert.Contains(t, buf.String(), `"handler":"pwm0"`)
}
