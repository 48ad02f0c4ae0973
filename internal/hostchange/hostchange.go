// Package hostchange accepts host clipboard changes on the local side channel.
package hostchange

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"go.klb.dev/vdclip/internal/hub"
	"go.klb.dev/vdclip/internal/metrics"
)

const (
	readSize           = 4096
	defaultIdleTimeout = 60 * time.Second

	// MaxTextSize bounds one buffered change.
	MaxTextSize = 16 << 20
)

// Config tunes a Listener. Zero values select defaults.
type Config struct {
	// IdleTimeout flushes a connection that has sent nothing for this long.
	IdleTimeout time.Duration
	// OnChange runs after each accepted change, once the hub holds the new text.
	OnChange func()
}

// Listener reads one clipboard change per connection and feeds it to the hub.
type Listener struct {
	ln      net.Listener
	h       *hub.Hub
	metrics *metrics.Collector
	cfg     Config

	wg sync.WaitGroup
}

// New wraps ln. It does not start accepting.
func New(ln net.Listener, h *hub.Hub, m *metrics.Collector, cfg Config) *Listener {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	return &Listener{ln: ln, h: h, metrics: m, cfg: cfg}
}

// Addr returns the socket address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts connections until ctx is cancelled or the listener fails, then
// waits for in-flight connections to finish.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()
	defer l.wg.Wait()

	slog.Info("host change listener started", "addr", l.ln.Addr().String())
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handle(ctx, conn)
		}()
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	slog.Debug("host change connection")
	text, err := l.collect(conn)
	if err != nil {
		slog.Warn("host change dropped", "err", err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	if !l.h.Update(text, hub.SourceHost) {
		slog.Debug("host clipboard unchanged")
		return
	}

	hub.LogText("host clipboard changed", hub.SourceHost, text)
	l.metrics.HostChanged()
	if l.cfg.OnChange != nil {
		l.cfg.OnChange()
	}
}

// collect buffers bytes until the writer closes or goes idle.
func (l *Listener) collect(conn net.Conn) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, readSize)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(l.cfg.IdleTimeout))
		n, err := conn.Read(chunk)
		buf.Write(chunk[:n])
		if buf.Len() > MaxTextSize {
			return nil, errors.New("host change exceeds size limit")
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return buf.Bytes(), nil
		case errors.Is(err, os.ErrDeadlineExceeded):
			slog.Debug("host change idle, flushing", "size", buf.Len())
			return buf.Bytes(), nil
		case errors.Is(err, net.ErrClosed):
			return buf.Bytes(), nil
		default:
			return nil, err
		}
	}
}
