package wire

import (
	"log/slog"

	"go.klb.dev/vdclip/internal/message"
)

// Reassembler rebuilds logical messages from the chunks of one connection.
// It is not safe for concurrent use; each connection owns one.
type Reassembler struct {
	inProgress bool
	header     MessageHeader
	partial    []byte
	remaining  int
}

// InProgress reports whether a message has been started but not completed.
func (r *Reassembler) InProgress() bool { return r.inProgress }

// Feed consumes one chunk payload. It returns the completed message when the
// chunk finishes one, nil while more chunks are needed, or a framing error.
// After an error the Reassembler must not be reused.
func (r *Reassembler) Feed(chunk []byte) (*message.Message, error) {
	if !r.inProgress {
		h, err := ParseMessageHeader(chunk)
		if err != nil {
			return nil, err
		}
		if h.Size > MaxMessageSize {
			return nil, framingErr("message size %d exceeds limit %d", h.Size, MaxMessageSize)
		}
		if h.Protocol != ProtocolVersion {
			slog.Warn("unexpected vdagent protocol version", "protocol", h.Protocol, "type", h.Type)
		}
		body := chunk[MessageHeaderSize:]
		remaining := int(h.Size) - len(body)
		if remaining < 0 {
			return nil, framingErr("chunk carries %d payload bytes, message declares %d", len(body), h.Size)
		}
		if remaining == 0 {
			return &message.Message{Type: h.Type, Opaque: h.Opaque, Payload: body}, nil
		}
		r.inProgress = true
		r.header = h
		r.remaining = remaining
		r.partial = make([]byte, 0, h.Size)
		r.partial = append(r.partial, body...)
		return nil, nil
	}

	if len(chunk) > r.remaining {
		return nil, framingErr("continuation chunk of %d bytes overruns %d remaining", len(chunk), r.remaining)
	}
	r.partial = append(r.partial, chunk...)
	r.remaining -= len(chunk)
	if r.remaining > 0 {
		return nil, nil
	}

	m := &message.Message{Type: r.header.Type, Opaque: r.header.Opaque, Payload: r.partial}
	r.reset()
	return m, nil
}

func (r *Reassembler) reset() {
	r.inProgress = false
	r.header = MessageHeader{}
	r.partial = nil
	r.remaining = 0
}
