// Package message defines the vdagent clipboard message catalog.
//
// A Message is one logical protocol message after reassembly: its type, the
// opaque cookie from the header, and the raw payload. Decode turns a Message
// into one of the typed bodies below; Encode does the reverse. All fixed-width
// fields are little-endian.
//
//	AnnounceCapabilities  request:u32 caps:u32 [caps:u32...]
//	Grab                  selection:u32 serial:u32 type:u32...
//	Request               selection:u32 type:u32
//	Data                  selection:u32 type:u32 bytes...
//	Release, MaxClipboard payload ignored
package message

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type identifies the kind of message.
type Type uint32

const (
	TypeClipboard            Type = 4
	TypeAnnounceCapabilities Type = 6
	TypeClipboardGrab        Type = 7
	TypeClipboardRequest     Type = 8
	TypeClipboardRelease     Type = 9
	TypeMaxClipboard         Type = 14
)

func (t Type) String() string {
	switch t {
	case TypeClipboard:
		return "CLIPBOARD"
	case TypeAnnounceCapabilities:
		return "ANNOUNCE_CAPABILITIES"
	case TypeClipboardGrab:
		return "CLIPBOARD_GRAB"
	case TypeClipboardRequest:
		return "CLIPBOARD_REQUEST"
	case TypeClipboardRelease:
		return "CLIPBOARD_RELEASE"
	case TypeMaxClipboard:
		return "MAX_CLIPBOARD"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(t))
	}
}

// Kind is the clipboard payload kind carried in grab, request and data messages.
type Kind uint32

const (
	KindNone Kind = iota
	KindUTF8Text
	KindImagePNG
	KindImageBMP
	KindImageTIFF
	KindImageJPG
	KindFileList
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindUTF8Text:
		return "utf8-text"
	case KindImagePNG:
		return "image/png"
	case KindImageBMP:
		return "image/bmp"
	case KindImageTIFF:
		return "image/tiff"
	case KindImageJPG:
		return "image/jpg"
	case KindFileList:
		return "file-list"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// Selection is an X11-style clipboard buffer.
type Selection uint32

const (
	SelectionClipboard Selection = iota
	SelectionPrimary
	SelectionSecondary
)

func (s Selection) String() string {
	switch s {
	case SelectionClipboard:
		return "clipboard"
	case SelectionPrimary:
		return "primary"
	case SelectionSecondary:
		return "secondary"
	default:
		return fmt.Sprintf("selection(%d)", uint32(s))
	}
}

var (
	// ErrShortPayload is returned when a payload is smaller than its fixed fields.
	ErrShortPayload = errors.New("message: payload too short")
	// ErrUnknownType is returned by Decode for types outside the catalog.
	ErrUnknownType = errors.New("message: unknown type")
	// ErrUnsupportedKind marks clipboard kinds other than UTF-8 text.
	ErrUnsupportedKind = errors.New("message: unsupported clipboard kind")
)

// Message is one reassembled logical message.
type Message struct {
	Type    Type
	Opaque  uint64
	Payload []byte
}

// Body is a decoded message payload. The set of implementations is closed.
type Body interface {
	Type() Type
	encode() []byte
}

// AnnounceCapabilities advertises a peer's capability bits.
type AnnounceCapabilities struct {
	Request bool
	Caps    Caps
}

// Grab announces that the sender owns clipboard content of the listed kinds.
type Grab struct {
	Selection Selection
	Serial    uint32
	Types     []Kind
}

// Offers reports whether k is among the grabbed kinds.
func (g *Grab) Offers(k Kind) bool {
	for _, t := range g.Types {
		if t == k {
			return true
		}
	}
	return false
}

// Request asks the clipboard owner for content of one kind.
type Request struct {
	Selection Selection
	Kind      Kind
}

// Data carries clipboard content.
type Data struct {
	Selection Selection
	Kind      Kind
	Body      []byte
}

// Release gives up clipboard ownership.
type Release struct{}

// MaxClipboard announces the peer's maximum clipboard size.
type MaxClipboard struct{}

func (*AnnounceCapabilities) Type() Type { return TypeAnnounceCapabilities }
func (*Grab) Type() Type                 { return TypeClipboardGrab }
func (*Request) Type() Type              { return TypeClipboardRequest }
func (*Data) Type() Type                 { return TypeClipboard }
func (*Release) Type() Type              { return TypeClipboardRelease }
func (*MaxClipboard) Type() Type         { return TypeMaxClipboard }

func (b *AnnounceCapabilities) encode() []byte {
	var req uint32
	if b.Request {
		req = 1
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], req)
	binary.LittleEndian.PutUint32(buf[4:], uint32(b.Caps))
	return buf
}

func (b *Grab) encode() []byte {
	buf := make([]byte, 8+4*len(b.Types))
	binary.LittleEndian.PutUint32(buf[0:], uint32(b.Selection))
	binary.LittleEndian.PutUint32(buf[4:], b.Serial)
	for i, t := range b.Types {
		binary.LittleEndian.PutUint32(buf[8+4*i:], uint32(t))
	}
	return buf
}

func (b *Request) encode() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], uint32(b.Selection))
	binary.LittleEndian.PutUint32(buf[4:], uint32(b.Kind))
	return buf
}

func (b *Data) encode() []byte {
	buf := make([]byte, 8+len(b.Body))
	binary.LittleEndian.PutUint32(buf[0:], uint32(b.Selection))
	binary.LittleEndian.PutUint32(buf[4:], uint32(b.Kind))
	copy(buf[8:], b.Body)
	return buf
}

func (*Release) encode() []byte      { return nil }
func (*MaxClipboard) encode() []byte { return nil }

// Encode wraps body into a Message with a zero opaque cookie.
func Encode(body Body) *Message {
	return &Message{Type: body.Type(), Payload: body.encode()}
}

// Decode parses m's payload into its typed body.
func Decode(m *Message) (Body, error) {
	p := m.Payload
	switch m.Type {
	case TypeAnnounceCapabilities:
		if len(p) < 8 {
			return nil, shortErr(m.Type, len(p), 8)
		}
		// Extra capability words beyond the first are not defined for clipboard use.
		return &AnnounceCapabilities{
			Request: binary.LittleEndian.Uint32(p[0:]) != 0,
			Caps:    Caps(binary.LittleEndian.Uint32(p[4:])),
		}, nil

	case TypeClipboardGrab:
		if len(p) < 8 {
			return nil, shortErr(m.Type, len(p), 8)
		}
		n := (len(p) - 8) / 4
		g := &Grab{
			Selection: Selection(binary.LittleEndian.Uint32(p[0:])),
			Serial:    binary.LittleEndian.Uint32(p[4:]),
			Types:     make([]Kind, n),
		}
		for i := range n {
			g.Types[i] = Kind(binary.LittleEndian.Uint32(p[8+4*i:]))
		}
		return g, nil

	case TypeClipboardRequest:
		if len(p) < 8 {
			return nil, shortErr(m.Type, len(p), 8)
		}
		return &Request{
			Selection: Selection(binary.LittleEndian.Uint32(p[0:])),
			Kind:      Kind(binary.LittleEndian.Uint32(p[4:])),
		}, nil

	case TypeClipboard:
		if len(p) < 8 {
			return nil, shortErr(m.Type, len(p), 8)
		}
		return &Data{
			Selection: Selection(binary.LittleEndian.Uint32(p[0:])),
			Kind:      Kind(binary.LittleEndian.Uint32(p[4:])),
			Body:      p[8:],
		}, nil

	case TypeClipboardRelease:
		return &Release{}, nil

	case TypeMaxClipboard:
		return &MaxClipboard{}, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint32(m.Type))
	}
}

func shortErr(t Type, got, want int) error {
	return fmt.Errorf("%w: %s has %d bytes, need %d", ErrShortPayload, t, got, want)
}
