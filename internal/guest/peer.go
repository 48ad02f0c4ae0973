// Package guest adapts one guest vdagent connection into a hub.Peer.
package guest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"go.klb.dev/vdclip/internal/hub"
	"go.klb.dev/vdclip/internal/message"
	"go.klb.dev/vdclip/internal/metrics"
	"go.klb.dev/vdclip/internal/wire"
)

const defaultQueueSize = 64

// HostWriter pushes guest-supplied text to the host clipboard.
type HostWriter interface {
	Write(ctx context.Context, text []byte) error
}

// Config tunes a Peer. Zero values select defaults.
type Config struct {
	WriteTimeout time.Duration
	QueueSize    int
}

// Peer wraps a single guest connection as a hub.Peer.
type Peer struct {
	id      string
	conn    *wire.Conn
	h       *hub.Hub
	host    HostWriter
	metrics *metrics.Collector
	log     *slog.Logger

	sendCh chan *message.Message
	done   chan struct{}

	mu       sync.RWMutex
	info     hub.PeerInfo
	lastSeen atomic.Int64 // UnixNano
}

// New creates a Peer for conn. It does not start serving.
func New(conn net.Conn, h *hub.Hub, host HostWriter, m *metrics.Collector, cfg Config) *Peer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	now := time.Now()
	id := uuid.NewString()
	p := &Peer{
		id:      id,
		conn:    wire.New(conn, cfg.WriteTimeout),
		h:       h,
		host:    host,
		metrics: m,
		log:     slog.With("peer", id, "addr", conn.RemoteAddr().String()),
		sendCh:  make(chan *message.Message, cfg.QueueSize),
		done:    make(chan struct{}),
		info: hub.PeerInfo{
			ID:          id,
			Addr:        conn.RemoteAddr().String(),
			ConnectedAt: now,
			LastSeen:    now,
		},
	}
	p.conn.OnChunk = func(wire.ChunkHeader) { m.ChunkReceived() }
	p.lastSeen.Store(now.UnixNano())
	return p
}

func (p *Peer) ID() string { return p.id }

func (p *Peer) Info() hub.PeerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info := p.info
	info.LastSeen = time.Unix(0, p.lastSeen.Load())
	return info
}

// Send queues msg for the writer goroutine without blocking.
func (p *Peer) Send(msg *message.Message) bool {
	select {
	case <-p.done:
		p.metrics.SendDropped()
		return false
	default:
	}
	select {
	case p.sendCh <- msg:
		return true
	default:
		p.metrics.SendDropped()
		p.log.Warn("send queue full, dropping", "type", msg.Type)
		return false
	}
}

func (p *Peer) send(body message.Body) {
	p.Send(message.Encode(body))
}

// Serve registers with the hub and runs the read and write loops until the
// peer disconnects, a framing error occurs, or ctx is cancelled.
func (p *Peer) Serve(ctx context.Context) {
	p.h.Register(p)
	p.metrics.GuestConnected()

	writerDone := make(chan struct{})
	go p.writeLoop(writerDone)

	stop := context.AfterFunc(ctx, func() { _ = p.conn.Close() })
	defer func() {
		stop()
		p.h.Unregister(p)
		p.metrics.GuestDisconnected()
		close(p.done)
		_ = p.conn.Close()
		<-writerDone
	}()

	p.log.Info("guest connected")
	for {
		msg, err := p.conn.ReadMsg()
		if err != nil {
			p.logReadErr(err)
			return
		}
		p.lastSeen.Store(time.Now().UnixNano())
		p.metrics.MessageReceived(msg.Type)
		p.dispatch(ctx, msg)
	}
}

func (p *Peer) logReadErr(err error) {
	switch {
	case errors.Is(err, io.EOF):
		p.log.Info("connection closed by guest")
	case errors.Is(err, wire.ErrFraming):
		p.metrics.FramingError()
		p.log.Warn("framing error, closing connection", "err", err)
	case errors.Is(err, net.ErrClosed):
		p.log.Debug("connection closed")
	default:
		p.log.Info("connection closed", "err", err)
	}
}

func (p *Peer) writeLoop(done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.sendCh:
			if err := p.conn.WriteMsg(msg); err != nil {
				p.log.Warn("write failed, closing connection", "err", err)
				_ = p.conn.Close()
				return
			}
			p.metrics.MessageSent(msg.Type)
			p.log.Debug("message sent", "type", msg.Type, "size", len(msg.Payload))
		}
	}
}
