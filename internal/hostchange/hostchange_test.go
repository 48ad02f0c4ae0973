package hostchange

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.klb.dev/vdclip/internal/hub"
	"go.klb.dev/vdclip/internal/ipc"
	"go.klb.dev/vdclip/internal/metrics"
)

type fixture struct {
	path    string
	h       *hub.Hub
	changes atomic.Int32
}

func start(t *testing.T, seed []byte, idle time.Duration) *fixture {
	t.Helper()
	dir, err := os.MkdirTemp("", "vdclip")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	f := &fixture{path: filepath.Join(dir, "c.sock"), h: hub.New(seed)}
	ln, err := ipc.Listen(f.path)
	if err != nil {
		t.Fatal(err)
	}
	l := New(ln, f.h, metrics.New(), Config{
		IdleTimeout: idle,
		OnChange:    func() { f.changes.Add(1) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errc; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return f
}

func (f *fixture) dial(t *testing.T) net.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := ipc.Dial(ctx, f.path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func (f *fixture) push(t *testing.T, text string) {
	t.Helper()
	c := f.dial(t)
	if _, err := c.Write([]byte(text)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = c.Close()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChangeUpdatesHubAndNotifies(t *testing.T) {
	f := start(t, []byte("old"), time.Minute)

	f.push(t, "new text")
	waitFor(t, func() bool { return f.changes.Load() == 1 })

	text, source, _ := f.h.Snapshot()
	if string(text) != "new text" || source != hub.SourceHost {
		t.Errorf("hub = %q from %q", text, source)
	}
}

func TestIdenticalChangeIsSuppressed(t *testing.T) {
	h := hub.New([]byte("same"))
	var changes int
	l := New(nil, h, metrics.New(), Config{OnChange: func() { changes++ }})

	// Handle connections one at a time so ordering is fixed.
	for _, text := range []string{"same", "", "next", "next"} {
		client, server := net.Pipe()
		done := make(chan struct{})
		go func() {
			l.handle(context.Background(), server)
			close(done)
		}()
		if text != "" {
			if _, err := client.Write([]byte(text)); err != nil {
				t.Fatal(err)
			}
		}
		_ = client.Close()
		<-done
	}

	if changes != 1 {
		t.Errorf("changes = %d, want 1", changes)
	}
	if got := string(h.Latest()); got != "next" {
		t.Errorf("lastText = %q", got)
	}
}

func TestIdleConnectionIsFlushed(t *testing.T) {
	f := start(t, nil, 50*time.Millisecond)

	c := f.dial(t)
	defer c.Close()
	if _, err := c.Write([]byte("partial")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return string(f.h.Latest()) == "partial" })
}

func TestLargeChangeIsReassembled(t *testing.T) {
	f := start(t, nil, time.Minute)

	text := make([]byte, 3*readSize+17)
	for i := range text {
		text[i] = byte('a' + i%26)
	}
	f.push(t, string(text))
	waitFor(t, func() bool { return f.changes.Load() == 1 })
	if got := f.h.Latest(); string(got) != string(text) {
		t.Errorf("got %d bytes, want %d", len(got), len(text))
	}
}

func TestShutdownClosesOpenConnections(t *testing.T) {
	f := start(t, nil, time.Hour)
	c := f.dial(t)
	defer c.Close()
	if _, err := c.Write([]byte("never flushed by idle")); err != nil {
		t.Fatal(err)
	}
	// Cleanup cancels Serve; it must return without waiting for the idle timeout.
}
