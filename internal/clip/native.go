//go:build linux || darwin || windows

package clip

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"golang.design/x/clipboard"

	"go.klb.dev/vdclip/internal/ipc"
)

type nativeBackend struct{}

// newNative initialises the platform clipboard. clipboard.Init is called here
// rather than in init() so commands that never build a backend need no display.
func newNative(Config) (Backend, error) {
	if err := clipboard.Init(); err != nil {
		return nil, fmt.Errorf("native clipboard: %w", err)
	}
	return nativeBackend{}, nil
}

func (nativeBackend) Name() string { return "native" }

func (nativeBackend) Read(context.Context) ([]byte, error) {
	return clipboard.Read(clipboard.FmtText), nil
}

func (nativeBackend) Write(_ context.Context, text []byte) error {
	clipboard.Write(clipboard.FmtText, text)
	return nil
}

// Watch forwards each change reported by the library to the socket, one
// connection per change.
func (nativeBackend) Watch(ctx context.Context, socketPath string) error {
	if err := ipc.WaitFor(ctx, socketPath); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	slog.Info("clipboard watcher started", "backend", "native")
	changes := clipboard.Watch(ctx, clipboard.FmtText)
	for {
		select {
		case <-ctx.Done():
			return nil
		case text, ok := <-changes:
			if !ok {
				return nil
			}
			if err := ipc.Notify(ctx, socketPath, bytes.NewReader(text)); err != nil {
				slog.Warn("host change notify failed", "err", err)
			}
		}
	}
}
