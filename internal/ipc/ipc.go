// Package ipc manages the Unix socket on which the host clipboard watcher
// reports changes to a running relay.
//
// The socket carries no framing: a writer connects, streams the new clipboard
// text, and closes. Each connection is one change.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSocketPath is where the relay listens when nothing overrides it.
const DefaultSocketPath = "/tmp/virtio-vdagent-clipboard"

// SocketPath returns the host change socket path, honouring $VDCLIP_SOCKET.
func SocketPath() string {
	if s := os.Getenv("VDCLIP_SOCKET"); s != "" {
		return s
	}
	return DefaultSocketPath
}

// Listen creates a listener on path, removing any stale socket file left by a
// previous run first.
func Listen(path string) (net.Listener, error) {
	if err := Remove(path); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	// The listener must not unlink on Close; Remove owns that.
	if ul, ok := ln.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}
	return ln, nil
}

// Remove deletes the socket file at path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	return nil
}

// Dial connects to the relay's host change socket.
func Dial(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}

// Notify reports one host clipboard change: it connects, copies r to the
// socket and closes. The whole exchange is bounded by ctx.
func Notify(ctx context.Context, path string, r io.Reader) error {
	c, err := Dial(ctx, path)
	if err != nil {
		return fmt.Errorf("dial %s: %w", path, err)
	}
	defer c.Close()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	if _, err := io.Copy(c, r); err != nil {
		return fmt.Errorf("notify %s: %w", path, err)
	}
	return nil
}

// Exists reports whether something is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsRunning reports whether a relay appears to be accepting on path. It does
// a cheap dial-and-close; no data is exchanged.
func IsRunning(path string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := Dial(ctx, path)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// WaitFor blocks until path exists or ctx is done. It watches the parent
// directory so creation is seen without polling.
func WaitFor(ctx context.Context, path string) error {
	if Exists(path) {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	// The file may have appeared between the first check and Add.
	if Exists(path) {
		return nil
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("socket watcher closed")
			}
			if filepath.Clean(ev.Name) == target && ev.Has(fsnotify.Create) {
				return nil
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("socket watcher closed")
			}
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
}
