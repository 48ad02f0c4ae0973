package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	} {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestResolve(t *testing.T) {
	for _, tc := range []struct {
		interactive   bool
		format, level string
		want          Options
	}{
		{false, "auto", "", Options{Format: FormatJSON, Level: slog.LevelInfo}},
		{true, "auto", "", Options{Format: FormatText, Level: slog.LevelDebug}},
		{true, "json", "warn", Options{Format: FormatJSON, Level: slog.LevelWarn}},
		{false, "tint", "debug", Options{Format: FormatText, Level: slog.LevelDebug}},
	} {
		if got := Resolve(tc.interactive, tc.format, tc.level); got != tc.want {
			t.Errorf("Resolve(%v, %q, %q) = %+v, want %+v", tc.interactive, tc.format, tc.level, got, tc.want)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Format: FormatJSON, Level: slog.LevelInfo, Output: &buf})
	log.Debug("hidden")
	log.Info("guest connected", "peer", "p1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec["msg"] != "guest connected" || rec["peer"] != "p1" {
		t.Errorf("record = %v", rec)
	}
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	New(Options{Format: FormatText, Level: slog.LevelDebug, Output: &buf}).Debug("framing error", "size", 4)
	if out := buf.String(); !strings.Contains(out, "framing error") || !strings.Contains(out, "size=4") {
		t.Errorf("output = %q", out)
	}
}
