package hub

import (
	"context"
	"log/slog"
	"unicode/utf8"
)

const previewLen = 120

// LogText logs a clipboard update at INFO (source and size) and, when debug
// logging is enabled, a text preview of up to 120 characters.
func LogText(event, source string, text []byte) {
	slog.Info(event, "source", source, "size_bytes", len(text))

	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	slog.Debug("clipboard text", "source", source, "preview", Preview(text))
}

// Preview returns text truncated to 120 runes, with an ellipsis if cut.
func Preview(text []byte) string {
	if utf8.RuneCount(text) <= previewLen {
		return string(text)
	}
	runes := []rune(string(text))
	return string(runes[:previewLen]) + "…"
}
