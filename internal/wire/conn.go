package wire

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"go.klb.dev/vdclip/internal/message"
)

// DefaultWriteTimeout bounds a single WriteMsg if no other timeout is given.
const DefaultWriteTimeout = 5 * time.Second

// Conn wraps a net.Conn with vdagent chunk framing and per-connection
// reassembly state. ReadMsg must be called from a single goroutine, and so
// must WriteMsg; the two may run concurrently.
type Conn struct {
	conn         net.Conn
	br           *bufio.Reader
	asm          Reassembler
	writeTimeout time.Duration

	// OnChunk, if set, is called for every chunk header read.
	OnChunk func(ChunkHeader)
}

// New wraps conn. A zero writeTimeout selects DefaultWriteTimeout.
func New(conn net.Conn, writeTimeout time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Conn{
		conn:         conn,
		br:           bufio.NewReaderSize(conn, 4*MaxDataSize),
		writeTimeout: writeTimeout,
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// ReadMsg reads chunks until one logical message is complete. It returns
// io.EOF when the peer closes the stream and an ErrFraming error when the
// chunk sequence is inconsistent.
func (c *Conn) ReadMsg() (*message.Message, error) {
	for {
		h, err := ReadChunkHeader(c.br)
		if err != nil {
			return nil, err
		}
		if h.Size > MaxDataSize {
			return nil, framingErr("chunk size %d exceeds %d", h.Size, MaxDataSize)
		}
		if c.OnChunk != nil {
			c.OnChunk(h)
		}
		chunk, err := ReadExactly(c.br, int(h.Size))
		if err != nil {
			return nil, err
		}
		m, err := c.asm.Feed(chunk)
		if err != nil {
			return nil, err
		}
		if m != nil {
			return m, nil
		}
	}
}

// WriteMsg encodes m and writes all of its chunks.
func (c *Conn) WriteMsg(m *message.Message) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()

	for i, chunk := range EncodeMessage(m) {
		if _, err := c.conn.Write(chunk); err != nil {
			return fmt.Errorf("write %s chunk %d: %w", m.Type, i, err)
		}
	}
	return nil
}
