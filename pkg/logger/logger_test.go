package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestHelpersHonorLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "warn")
	t.Cleanup(func() { Log = nil })

	Info("hidden_event", "k", 1)
	Warn("visible_event", "channel", "general")

	out := buf.String()
	assert.NotContains(t, out, "hidden_event")
	assert.Contains(t, out, "visible_event")
	assert.Contains(t, out, "channel=general")
}

func TestHelpersNoopWithoutInit(t *testing.T) {
	Log = nil
	assert.NotPanics(t, func() {
		Debug("a")
		Info("b")
		Warn("c")
		Error("d")
	})
}
