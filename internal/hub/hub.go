// Package hub holds the relay's shared clipboard state: the last known
// clipboard text and the registry of connected guest endpoints.
//
// Every selection maps onto the same text. A guest asking for PRIMARY is
// answered with whatever was last seen on any selection or on the host.
package hub

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"go.klb.dev/vdclip/internal/message"
)

// SourceHost is the source name recorded for host-side updates.
const SourceHost = "host"

// PeerInfo is a snapshot of one endpoint's metadata.
type PeerInfo struct {
	ID          string
	Addr        string
	Caps        message.Caps
	ConnectedAt time.Time
	LastSeen    time.Time
}

// Peer is a connected guest endpoint.
type Peer interface {
	ID() string
	Info() PeerInfo
	// Send queues msg for delivery. It must not block; it reports false if
	// the message was dropped.
	Send(*message.Message) bool
}

// Hub is the single shared clipboard cell plus the endpoint registry.
type Hub struct {
	mu        sync.RWMutex
	peers     map[string]Peer
	last      []byte
	source    string
	updatedAt time.Time
}

// New returns a Hub seeded with the host's current clipboard text.
func New(seed []byte) *Hub {
	return &Hub{
		peers:     make(map[string]Peer),
		last:      bytes.Clone(seed),
		source:    SourceHost,
		updatedAt: time.Now(),
	}
}

// Register adds p to the registry.
func (h *Hub) Register(p Peer) {
	h.mu.Lock()
	h.peers[p.ID()] = p
	total := len(h.peers)
	h.mu.Unlock()

	slog.Info("peer registered", "peer", p.ID(), "addr", p.Info().Addr, "total", total)
}

// Unregister removes p from the registry.
func (h *Hub) Unregister(p Peer) {
	h.mu.Lock()
	delete(h.peers, p.ID())
	total := len(h.peers)
	h.mu.Unlock()

	slog.Info("peer unregistered", "peer", p.ID(), "total", total)
}

// Len returns the number of registered peers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Peers returns a snapshot of all current peer metadata.
func (h *Hub) Peers() []PeerInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]PeerInfo, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p.Info())
	}
	return out
}

// Latest returns a copy of the current clipboard text.
func (h *Hub) Latest() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return bytes.Clone(h.last)
}

// Snapshot returns the current text together with its source and update time.
func (h *Hub) Snapshot() (text []byte, source string, updatedAt time.Time) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return bytes.Clone(h.last), h.source, h.updatedAt
}

// Update replaces the clipboard text if text is non-empty and differs from the
// current value. It reports whether the value changed; the comparison and the
// swap happen under one lock so concurrent identical updates apply once.
func (h *Hub) Update(text []byte, source string) bool {
	if len(text) == 0 {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if bytes.Equal(text, h.last) {
		return false
	}
	h.last = bytes.Clone(text)
	h.source = source
	h.updatedAt = time.Now()
	return true
}

// Broadcast queues msg on every registered peer and returns how many accepted
// it. A peer that drops the message does not affect the others.
func (h *Hub) Broadcast(msg *message.Message) int {
	h.mu.RLock()
	targets := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		targets = append(targets, p)
	}
	h.mu.RUnlock()

	sent := 0
	for _, p := range targets {
		if p.Send(msg) {
			sent++
		} else {
			slog.Warn("broadcast dropped", "peer", p.ID(), "type", msg.Type)
		}
	}
	return sent
}
