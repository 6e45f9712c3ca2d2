package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskSender(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"whatsapp:+15550001111": "whatsapp:********1111",
		"+15550001111":          "********1111",
		"abc":                   "***",
		"":                      "",
	}
	for in, want := range tests {
		require.Equal(t, want, MaskSender(in), in)
	}
}

func TestPrettyHandlerRedactsSenderKeys(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}).WithRedaction(SenderKeys...))

	log.With("request_id", "r1").Info("message received", "sender", "whatsapp:+15550001111", "path", "/ProjectX")

	out := buf.String()
	require.Contains(t, out, "message received")
	require.Contains(t, out, "whatsapp:********1111")
	require.NotContains(t, out, "+15550001111")
	require.Contains(t, out, "/ProjectX")
	require.Contains(t, out, "r1")
}

func TestPrettyHandlerLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	log.Info("hidden")
	log.Warn("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
}
