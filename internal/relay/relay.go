// Package relay wires the guest listener, the host change listener and the
// host clipboard watcher around one shared hub.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go.klb.dev/vdclip/internal/clip"
	"go.klb.dev/vdclip/internal/guest"
	"go.klb.dev/vdclip/internal/hostchange"
	"go.klb.dev/vdclip/internal/hub"
	"go.klb.dev/vdclip/internal/ipc"
	"go.klb.dev/vdclip/internal/message"
	"go.klb.dev/vdclip/internal/metrics"
)

// DefaultAddr is the guest listener address used when Config.Addr is empty.
const DefaultAddr = "localhost:4444"

const acceptBackoff = 50 * time.Millisecond

// ErrHostBridge reports that the host clipboard could not be read at startup.
var ErrHostBridge = errors.New("host clipboard unavailable")

// Config configures a Relay.
type Config struct {
	Addr         string
	SocketPath   string
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
}

// Relay owns the clipboard state and both listeners.
type Relay struct {
	cfg     Config
	backend clip.Backend
	metrics *metrics.Collector
	h       *hub.Hub

	guestLn net.Listener
	host    *hostchange.Listener

	started time.Time
	conns   sync.WaitGroup
}

// Status is a point-in-time view of the relay.
type Status struct {
	Addr      string
	Socket    string
	Backend   string
	Started   time.Time
	Peers     []hub.PeerInfo
	TextSize  int
	Source    string
	UpdatedAt time.Time
}

// New reads the host clipboard to seed the hub. A failed read wraps
// ErrHostBridge and nothing is bound.
func New(ctx context.Context, cfg Config, backend clip.Backend, m *metrics.Collector) (*Relay, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = ipc.SocketPath()
	}
	if m == nil {
		m = metrics.New()
	}

	seed, err := backend.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHostBridge, err)
	}
	hub.LogText("initial host clipboard", hub.SourceHost, seed)

	return &Relay{
		cfg:     cfg,
		backend: backend,
		metrics: m,
		h:       hub.New(seed),
		started: time.Now(),
	}, nil
}

// Hub returns the shared clipboard state.
func (r *Relay) Hub() *hub.Hub { return r.h }

// Metrics returns the relay's metric collector.
func (r *Relay) Metrics() *metrics.Collector { return r.metrics }

// Listen binds the guest TCP listener and the host change socket. Serve calls
// it if it has not been called.
func (r *Relay) Listen() error {
	if r.guestLn != nil {
		return nil
	}
	ln, err := net.Listen("tcp", r.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", r.cfg.Addr, err)
	}
	hostLn, err := ipc.Listen(r.cfg.SocketPath)
	if err != nil {
		_ = ln.Close()
		return err
	}

	r.guestLn = ln
	r.host = hostchange.New(hostLn, r.h, r.metrics, hostchange.Config{
		IdleTimeout: r.cfg.IdleTimeout,
		OnChange:    func() { r.BroadcastGrab() },
	})
	return nil
}

// Addr returns the bound guest listener address, or nil before Listen.
func (r *Relay) Addr() net.Addr {
	if r.guestLn == nil {
		return nil
	}
	return r.guestLn.Addr()
}

// SocketPath returns the host change socket path.
func (r *Relay) SocketPath() string { return r.cfg.SocketPath }

// Serve runs until ctx is cancelled or a listener fails. On return every guest
// connection has been closed, the watcher has exited and the socket file is
// gone.
func (r *Relay) Serve(ctx context.Context) error {
	if err := r.Listen(); err != nil {
		return err
	}
	defer func() {
		if err := ipc.Remove(r.cfg.SocketPath); err != nil {
			slog.Warn("socket cleanup failed", "err", err)
		}
	}()

	slog.Info("relay listening",
		"addr", r.guestLn.Addr().String(),
		"socket", r.cfg.SocketPath,
		"backend", r.backend.Name(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.acceptGuests(gctx) })
	g.Go(func() error { return r.host.Serve(gctx) })
	g.Go(func() error {
		if err := r.backend.Watch(gctx, r.cfg.SocketPath); err != nil {
			slog.Error("clipboard watcher failed", "err", err)
		}
		return nil
	})

	err := g.Wait()
	slog.Info("relay stopped")
	return err
}

func (r *Relay) acceptGuests(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = r.guestLn.Close() })
	defer stop()
	defer r.conns.Wait()

	cfg := guest.Config{WriteTimeout: r.cfg.WriteTimeout}
	for {
		conn, err := r.guestLn.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("accept failed", "err", err)
			time.Sleep(acceptBackoff)
			continue
		}

		p := guest.New(conn, r.h, r.backend, r.metrics, cfg)
		r.conns.Add(1)
		go func() {
			defer r.conns.Done()
			p.Serve(ctx)
		}()
	}
}

// BroadcastGrab announces the host clipboard to every connected guest and
// returns how many accepted the message.
func (r *Relay) BroadcastGrab() int {
	msg := message.Encode(&message.Grab{
		Selection: message.SelectionClipboard,
		Serial:    0,
		Types:     []message.Kind{message.KindUTF8Text},
	})
	n := r.h.Broadcast(msg)
	r.metrics.Broadcast()
	slog.Debug("clipboard grab broadcast", "peers", n)
	return n
}

// Status returns a snapshot for the admin surface.
func (r *Relay) Status() Status {
	text, source, updated := r.h.Snapshot()
	st := Status{
		Socket:    r.cfg.SocketPath,
		Backend:   r.backend.Name(),
		Started:   r.started,
		Peers:     r.h.Peers(),
		TextSize:  len(text),
		Source:    source,
		UpdatedAt: updated,
	}
	if a := r.Addr(); a != nil {
		st.Addr = a.String()
	}
	return st
}
