package clip

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	for _, tc := range []struct {
		name, want string
		wantErr    bool
	}{
		{name: "", want: "exec (wl-copy)"},
		{name: "exec", want: "exec (wl-copy)"},
		{name: "none", want: "none"},
		{name: "headless", want: "none"},
		{name: "pigeon", wantErr: true},
	} {
		b, err := New(Config{Backend: tc.name})
		if tc.wantErr {
			if err == nil {
				t.Errorf("New(%q) succeeded", tc.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("New(%q): %v", tc.name, err)
			continue
		}
		if b.Name() != tc.want {
			t.Errorf("New(%q).Name() = %q, want %q", tc.name, b.Name(), tc.want)
		}
	}
}

func TestHeadless(t *testing.T) {
	b := headless{}
	if text, err := b.Read(context.Background()); text != nil || err != nil {
		t.Errorf("Read = %q, %v", text, err)
	}
	if err := b.Write(context.Background(), []byte("x")); err != nil {
		t.Errorf("Write: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Watch(ctx, "/nonexistent"); err != nil {
		t.Errorf("Watch: %v", err)
	}
}

func TestExecRead(t *testing.T) {
	requireSh(t)
	b, err := New(Config{PasteCmd: "printf héllo"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := b.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "héllo" {
		t.Errorf("Read = %q", got)
	}
}

func TestExecReadEmptyClipboard(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not available")
	}
	b, _ := New(Config{PasteCmd: "false"})
	got, err := b.Read(context.Background())
	if err != nil || len(got) != 0 {
		t.Errorf("Read = %q, %v; want empty, nil", got, err)
	}
}

func TestExecReadMissingCommand(t *testing.T) {
	b, _ := New(Config{PasteCmd: "vdclip-no-such-paste-command"})
	if _, err := b.Read(context.Background()); err == nil {
		t.Fatal("Read succeeded with a missing command")
	}
}

func TestExecWritePassesStdin(t *testing.T) {
	requireSh(t)
	out := filepath.Join(t.TempDir(), "copied")
	b, _ := New(Config{CopyCmd: "sh -c cat>" + out})

	text := []byte("it's $HOME; `rm -rf` \"quoted\"\n")
	if err := b.Write(context.Background(), text); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, text) {
		t.Errorf("copied %q, want %q", got, text)
	}
}

func TestExecWriteFailure(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not available")
	}
	b, _ := New(Config{CopyCmd: "false"})
	if err := b.Write(context.Background(), []byte("x")); err == nil {
		t.Fatal("Write succeeded with a failing command")
	}
}

func lines(path string) int {
	b, _ := os.ReadFile(path)
	return bytes.Count(b, []byte("\n"))
}

func TestExecWatchWaitsSubstitutesAndRestarts(t *testing.T) {
	requireSh(t)
	socket := filepath.Join(t.TempDir(), "sock")
	b, _ := New(Config{WatchCmd: "sh -c echo>>" + SocketPlaceholder, RestartDelay: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- b.Watch(ctx, socket) }()

	time.Sleep(50 * time.Millisecond)
	if _, err := os.Stat(socket); err == nil {
		t.Fatal("watcher ran before the socket existed")
	}
	if err := os.WriteFile(socket, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for lines(socket) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("watcher ran %d times, want at least 2", lines(socket))
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Watch: %v", err)
	}
}

func TestExecWatchTerminatesOnCancel(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	socket := filepath.Join(t.TempDir(), "sock")
	if err := os.WriteFile(socket, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	b, _ := New(Config{WatchCmd: "sleep 60"})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- b.Watch(ctx, socket) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Watch: %v", err)
		}
	case <-time.After(watcherWaitDelay + 2*time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
