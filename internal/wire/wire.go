// Package wire implements the two-level vdagent framing used on the guest
// connection.
//
// Every transport chunk starts with an 8-byte header:
//
//	port:u32 size:u32 <size bytes>
//
// The first chunk of a logical message begins with a 20-byte message header:
//
//	protocol:u32 type:u32 opaque:u64 size:u32 <payload...>
//
// A message whose header plus payload exceeds MaxChunkData bytes continues in
// the following chunks, which carry payload only. All integers are
// little-endian.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"go.klb.dev/vdclip/internal/message"
)

const (
	// ClientPort identifies the client virtual-serial port.
	ClientPort uint32 = 1
	// ProtocolVersion is the only message header version spoken.
	ProtocolVersion uint32 = 1

	// MaxDataSize is the largest chunk (header included) the protocol defines.
	MaxDataSize = 2048
	// ChunkHeaderSize is the size of the transport chunk header.
	ChunkHeaderSize = 8
	// MaxChunkData is the largest chunk payload we emit.
	MaxChunkData = MaxDataSize - ChunkHeaderSize
	// MessageHeaderSize is the size of the logical message header.
	MessageHeaderSize = 20

	// MaxMessageSize is the largest logical message we will reassemble (16 MiB).
	MaxMessageSize = 16 * 1024 * 1024
)

// ErrFraming marks malformed or inconsistent chunk and message headers.
// The connection that produced it cannot be resynchronised.
var ErrFraming = errors.New("wire: framing error")

func framingErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFraming, fmt.Sprintf(format, args...))
}

// ChunkHeader is the transport chunk header.
type ChunkHeader struct {
	Port uint32
	Size uint32
}

// MessageHeader is the logical message header carried by a first chunk.
type MessageHeader struct {
	Protocol uint32
	Type     message.Type
	Opaque   uint64
	Size     uint32
}

// ReadExactly reads exactly n bytes from r. It returns io.EOF, never a short
// buffer, when the stream ends before n bytes arrive.
func ReadExactly(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return buf, nil
}

// ReadChunkHeader reads one transport chunk header from r.
func ReadChunkHeader(r io.Reader) (ChunkHeader, error) {
	b, err := ReadExactly(r, ChunkHeaderSize)
	if err != nil {
		return ChunkHeader{}, err
	}
	return ChunkHeader{
		Port: binary.LittleEndian.Uint32(b[0:]),
		Size: binary.LittleEndian.Uint32(b[4:]),
	}, nil
}

// ParseMessageHeader decodes the message header at the start of b.
func ParseMessageHeader(b []byte) (MessageHeader, error) {
	if len(b) < MessageHeaderSize {
		return MessageHeader{}, framingErr("first chunk has %d bytes, message header needs %d", len(b), MessageHeaderSize)
	}
	return MessageHeader{
		Protocol: binary.LittleEndian.Uint32(b[0:]),
		Type:     message.Type(binary.LittleEndian.Uint32(b[4:])),
		Opaque:   binary.LittleEndian.Uint64(b[8:]),
		Size:     binary.LittleEndian.Uint32(b[16:]),
	}, nil
}

func (h MessageHeader) append(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, h.Protocol)
	b = binary.LittleEndian.AppendUint32(b, uint32(h.Type))
	b = binary.LittleEndian.AppendUint64(b, h.Opaque)
	return binary.LittleEndian.AppendUint32(b, h.Size)
}

// EncodeMessage splits m into transport chunks, each a complete chunk header
// plus at most MaxChunkData bytes. The first chunk carries the message header.
func EncodeMessage(m *message.Message) [][]byte {
	return encodeMessage(m, MaxChunkData)
}

func encodeMessage(m *message.Message, chunkData int) [][]byte {
	raw := make([]byte, 0, MessageHeaderSize+len(m.Payload))
	raw = MessageHeader{
		Protocol: ProtocolVersion,
		Type:     m.Type,
		Opaque:   m.Opaque,
		Size:     uint32(len(m.Payload)),
	}.append(raw)
	raw = append(raw, m.Payload...)

	chunks := make([][]byte, 0, (len(raw)+chunkData-1)/chunkData)
	for len(raw) > 0 {
		n := min(len(raw), chunkData)
		c := make([]byte, 0, ChunkHeaderSize+n)
		c = binary.LittleEndian.AppendUint32(c, ClientPort)
		c = binary.LittleEndian.AppendUint32(c, uint32(n))
		c = append(c, raw[:n]...)
		chunks = append(chunks, c)
		raw = raw[n:]
	}
	return chunks
}
