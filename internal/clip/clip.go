// Package clip bridges the relay to the host clipboard. Three backends are
// available:
//
//	exec    wl-paste / wl-copy style subprocesses (default)
//	native  golang.design/x/clipboard, where the platform supports it
//	none    no host clipboard; guests still share text with each other
package clip

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Default subprocess command lines for the exec backend. SocketPlaceholder in
// the watch command is replaced with the host change socket path.
const (
	DefaultPasteCmd   = "wl-paste -n -t text"
	DefaultCopyCmd    = "wl-copy -t text/plain;charset=utf-8"
	DefaultWatchCmd   = "wl-paste -t text -w nc -q 1 -U " + SocketPlaceholder
	SocketPlaceholder = "{socket}"
)

const (
	defaultCommandTimeout = 5 * time.Second
	defaultRestartDelay   = time.Second
)

// Backend is implemented by every host clipboard bridge.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Read returns the current host clipboard text. An empty clipboard is
	// nil, nil.
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the host clipboard text.
	Write(ctx context.Context, text []byte) error

	// Watch reports every host clipboard change by writing the new text to
	// the host change socket at socketPath. It blocks until ctx is done and
	// returns nil on cancellation.
	Watch(ctx context.Context, socketPath string) error
}

// Config selects and tunes a backend.
type Config struct {
	Backend string

	PasteCmd string
	CopyCmd  string
	WatchCmd string

	// CommandTimeout bounds one paste or copy subprocess.
	CommandTimeout time.Duration
	// RestartDelay is the pause before a watcher that exited is restarted.
	RestartDelay time.Duration
}

// New returns the backend named by cfg.Backend. An empty name selects exec.
func New(cfg Config) (Backend, error) {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}

	switch strings.ToLower(cfg.Backend) {
	case "", "exec":
		return newExec(cfg)
	case "native":
		return newNative(cfg)
	case "none", "headless":
		return headless{}, nil
	default:
		return nil, fmt.Errorf("unknown clipboard backend %q (want exec, native or none)", cfg.Backend)
	}
}

// headless has no host clipboard. Reads are empty and writes are discarded.
type headless struct{}

func (headless) Name() string { return "none" }

func (headless) Read(context.Context) ([]byte, error) { return nil, nil }

func (headless) Write(context.Context, []byte) error { return nil }

func (headless) Watch(ctx context.Context, _ string) error {
	<-ctx.Done()
	return nil
}
