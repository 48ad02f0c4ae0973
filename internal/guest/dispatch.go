package guest

import (
	"context"
	"errors"

	"go.klb.dev/vdclip/internal/hub"
	"go.klb.dev/vdclip/internal/message"
)

func (p *Peer) dispatch(ctx context.Context, msg *message.Message) {
	body, err := message.Decode(msg)
	if err != nil {
		if errors.Is(err, message.ErrUnknownType) {
			p.log.Warn("unknown message type, dropping", "type", msg.Type, "size", len(msg.Payload))
		} else {
			p.log.Warn("malformed message, dropping", "type", msg.Type, "err", err)
		}
		return
	}

	switch b := body.(type) {
	case *message.AnnounceCapabilities:
		p.handleAnnounce(b)
	case *message.Grab:
		p.handleGrab(b)
	case *message.Request:
		p.handleRequest(b)
	case *message.Data:
		p.handleData(ctx, b)
	case *message.Release:
		p.log.Warn("clipboard release not implemented")
	case *message.MaxClipboard:
		p.log.Warn("max clipboard not implemented")
	default:
		p.log.Error("no handler for message", "type", body.Type())
	}
}

func (p *Peer) handleAnnounce(b *message.AnnounceCapabilities) {
	p.log.Debug("capabilities announced", "caps", b.Caps.Names(), "request", b.Request)

	p.mu.Lock()
	p.info.Caps = b.Caps
	p.mu.Unlock()

	if !b.Caps.Has(message.RelayCaps) {
		p.log.Warn("guest lacks required clipboard capabilities",
			"missing", (message.RelayCaps &^ b.Caps).Names())
	}

	if b.Request {
		p.send(&message.AnnounceCapabilities{Request: false, Caps: message.RelayCaps})
	}
}

func (p *Peer) handleGrab(b *message.Grab) {
	p.log.Debug("clipboard grab", "selection", b.Selection, "serial", b.Serial, "types", b.Types)

	if !b.Offers(message.KindUTF8Text) {
		p.log.Warn("no supported clipboard type offered", "types", b.Types)
		return
	}
	p.send(&message.Request{Selection: b.Selection, Kind: message.KindUTF8Text})
}

func (p *Peer) handleRequest(b *message.Request) {
	p.log.Debug("clipboard request", "selection", b.Selection, "kind", b.Kind)

	if b.Kind != message.KindUTF8Text {
		p.log.Warn("unsupported clipboard kind requested", "kind", b.Kind)
		return
	}
	text := p.h.Latest()
	if len(text) == 0 {
		p.log.Debug("clipboard empty, nothing to send")
		return
	}
	p.send(&message.Data{Selection: b.Selection, Kind: message.KindUTF8Text, Body: text})
}

func (p *Peer) handleData(ctx context.Context, b *message.Data) {
	p.log.Debug("clipboard data", "selection", b.Selection, "kind", b.Kind, "size", len(b.Body))

	if b.Kind != message.KindUTF8Text {
		p.log.Warn("unsupported clipboard kind received", "kind", b.Kind)
		return
	}
	if len(b.Body) == 0 {
		p.log.Debug("empty clipboard data")
		return
	}
	if !p.h.Update(b.Body, p.id) {
		p.log.Debug("clipboard unchanged, skipping host push")
		return
	}

	hub.LogText("guest clipboard received", p.id, b.Body)
	err := p.host.Write(ctx, b.Body)
	p.metrics.HostPush(err)
	if err != nil {
		p.log.Error("host clipboard push failed", "err", err)
	}
}
