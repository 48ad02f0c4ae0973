package relay

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.klb.dev/vdclip/internal/ipc"
	"go.klb.dev/vdclip/internal/message"
	"go.klb.dev/vdclip/internal/metrics"
	"go.klb.dev/vdclip/internal/wire"
)

type fakeBackend struct {
	seed    []byte
	readErr error

	mu     sync.Mutex
	writes [][]byte
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Read(context.Context) ([]byte, error) { return b.seed, b.readErr }

func (b *fakeBackend) Write(_ context.Context, text []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, bytes.Clone(text))
	return nil
}

func (b *fakeBackend) written() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.writes...)
}

func (b *fakeBackend) Watch(ctx context.Context, _ string) error {
	<-ctx.Done()
	return nil
}

func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "vdclip")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "c.sock")
}

func startRelay(t *testing.T, b *fakeBackend) *Relay {
	t.Helper()
	cfg := Config{Addr: "127.0.0.1:0", SocketPath: socketPath(t), IdleTimeout: time.Minute, WriteTimeout: time.Second}
	r, err := New(context.Background(), cfg, b, metrics.New())
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Listen(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after cancel")
		}
		if ipc.Exists(r.SocketPath()) {
			t.Error("socket file left behind")
		}
	})
	return r
}

type testGuest struct {
	t    *testing.T
	conn net.Conn
	wc   *wire.Conn
}

func dialGuest(t *testing.T, r *Relay) *testGuest {
	t.Helper()
	c, err := net.Dial("tcp", r.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	g := &testGuest{t: t, conn: c, wc: wire.New(c, time.Second)}
	g.send(&message.AnnounceCapabilities{Request: true, Caps: message.RelayCaps})
	if _, ok := g.recv().(*message.AnnounceCapabilities); !ok {
		t.Fatal("no capability reply")
	}
	return g
}

func (g *testGuest) send(b message.Body) {
	g.t.Helper()
	if err := g.wc.WriteMsg(message.Encode(b)); err != nil {
		g.t.Fatalf("write: %v", err)
	}
}

func (g *testGuest) recv() message.Body {
	g.t.Helper()
	_ = g.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	m, err := g.wc.ReadMsg()
	if err != nil {
		g.t.Fatalf("read: %v", err)
	}
	body, err := message.Decode(m)
	if err != nil {
		g.t.Fatalf("decode: %v", err)
	}
	return body
}

func notify(t *testing.T, r *Relay, text string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ipc.Notify(ctx, r.SocketPath(), strings.NewReader(text)); err != nil {
		t.Fatalf("notify: %v", err)
	}
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

func TestInitialReadFailureIsFatal(t *testing.T) {
	b := &fakeBackend{readErr: errors.New("wl-paste: executable file not found")}
	r, err := New(context.Background(), Config{SocketPath: socketPath(t)}, b, nil)
	if !errors.Is(err, ErrHostBridge) {
		t.Fatalf("New = %v, want ErrHostBridge", err)
	}
	if r != nil {
		t.Error("relay returned alongside error")
	}
}

func TestSeedFromHost(t *testing.T) {
	r := startRelay(t, &fakeBackend{seed: []byte("seed")})
	g := dialGuest(t, r)

	g.send(&message.Request{Selection: message.SelectionClipboard, Kind: message.KindUTF8Text})
	d, ok := g.recv().(*message.Data)
	if !ok || string(d.Body) != "seed" {
		t.Fatalf("reply = %+v", d)
	}
}

func TestHostChangeBroadcastsGrab(t *testing.T) {
	r := startRelay(t, &fakeBackend{seed: []byte("hello")})
	guests := []*testGuest{dialGuest(t, r), dialGuest(t, r), dialGuest(t, r)}

	notify(t, r, "world")
	for i, g := range guests {
		grab, ok := g.recv().(*message.Grab)
		if !ok {
			t.Fatalf("guest %d: got %T, want grab", i, grab)
		}
		if grab.Selection != message.SelectionClipboard || grab.Serial != 0 ||
			len(grab.Types) != 1 || grab.Types[0] != message.KindUTF8Text {
			t.Errorf("guest %d: grab = %+v", i, grab)
		}
	}
	if got := string(r.Hub().Latest()); got != "world" {
		t.Fatalf("lastText = %q", got)
	}

	guests[1].send(&message.Request{Selection: message.SelectionClipboard, Kind: message.KindUTF8Text})
	if d, ok := guests[1].recv().(*message.Data); !ok || string(d.Body) != "world" {
		t.Fatalf("data = %+v", d)
	}
}

func TestBroadcastSurvivesDeadGuest(t *testing.T) {
	r := startRelay(t, &fakeBackend{})
	alive := dialGuest(t, r)
	dead := dialGuest(t, r)
	_ = dead.conn.Close()
	waitFor(t, func() bool { return r.Hub().Len() == 1 })

	notify(t, r, "after close")
	if _, ok := alive.recv().(*message.Grab); !ok {
		t.Fatal("surviving guest missed the broadcast")
	}
}

func TestGuestDataReachesHostWithoutBroadcast(t *testing.T) {
	b := &fakeBackend{}
	r := startRelay(t, b)
	sender := dialGuest(t, r)
	other := dialGuest(t, r)

	sender.send(&message.Data{Selection: message.SelectionClipboard, Kind: message.KindUTF8Text, Body: []byte("from guest")})
	waitFor(t, func() bool { return len(b.written()) == 1 })
	if got := string(b.written()[0]); got != "from guest" {
		t.Errorf("host got %q", got)
	}

	// The other guest sees nothing until it asks.
	_ = other.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := other.wc.ReadMsg(); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("unexpected message to other guest: %v", err)
	}
	other.send(&message.Request{Selection: message.SelectionClipboard, Kind: message.KindUTF8Text})
	if d, ok := other.recv().(*message.Data); !ok || string(d.Body) != "from guest" {
		t.Fatalf("data = %+v", d)
	}
}

func TestBroadcastGrabCountsPeers(t *testing.T) {
	r := startRelay(t, &fakeBackend{})
	if n := r.BroadcastGrab(); n != 0 {
		t.Errorf("BroadcastGrab() = %d with no guests", n)
	}
	g := dialGuest(t, r)
	if n := r.BroadcastGrab(); n != 1 {
		t.Errorf("BroadcastGrab() = %d, want 1", n)
	}
	if _, ok := g.recv().(*message.Grab); !ok {
		t.Error("guest missed the grab")
	}
}

func TestStatus(t *testing.T) {
	r := startRelay(t, &fakeBackend{seed: []byte("abc")})
	dialGuest(t, r)

	st := r.Status()
	if st.Addr != r.Addr().String() || st.Backend != "fake" || st.TextSize != 3 || st.Source != "host" {
		t.Errorf("status = %+v", st)
	}
	if len(st.Peers) != 1 || !st.Peers[0].Caps.Has(message.RelayCaps) {
		t.Errorf("peers = %+v", st.Peers)
	}
}
