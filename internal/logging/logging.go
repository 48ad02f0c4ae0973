// Package logging configures the global slog logger for vdclip.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pwntr/tinter"
)

// Format selects the log output format.
type Format string

const (
	FormatAuto Format = "auto"
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options is a resolved logging configuration.
type Options struct {
	Format Format
	Level  slog.Level
	Output io.Writer // os.Stderr when nil
}

// ParseFormat converts a string to a Format, returning FormatAuto for unknown values.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "text", "tint", "human":
		return FormatText
	case "json":
		return FormatJSON
	default:
		return FormatAuto
	}
}

// ParseLevel converts a string to a slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// Resolve turns flag values into Options. An interactive session defaults to
// debug level and coloured text; a service defaults to info and JSON.
func Resolve(interactive bool, format, level string) Options {
	o := Options{Format: ParseFormat(format), Level: ParseLevel(level)}
	if level == "" && interactive {
		o.Level = slog.LevelDebug
	}
	if o.Format == FormatAuto {
		o.Format = FormatJSON
		if interactive {
			o.Format = FormatText
		}
	}
	return o
}

// New builds a logger for o.
func New(o Options) *slog.Logger {
	w := o.Output
	if w == nil {
		w = os.Stderr
	}
	useTint := o.Format == FormatText || (o.Format == FormatAuto && IsTTY(w))

	var h slog.Handler
	if useTint {
		h = tinter.NewHandler(w, &tinter.Options{
			Level:      o.Level,
			TimeFormat: "15:04:05.000",
			NoColor:    !IsTTY(w),
		})
	} else {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: o.Level})
	}
	return slog.New(h)
}

// Setup installs New(o) as the default logger. Call once after flag parsing.
func Setup(o Options) {
	slog.SetDefault(New(o))
}
