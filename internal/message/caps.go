package message

import "strings"

// Caps is a capability bitmask from an AnnounceCapabilities message.
type Caps uint32

// Capability bits relevant to clipboard sharing.
const (
	CapClipboard                  Caps = 1 << 3
	CapClipboardByDemand          Caps = 1 << 5
	CapClipboardSelection         Caps = 1 << 6
	CapGuestLineEndLF             Caps = 1 << 8
	CapMaxClipboard               Caps = 1 << 10
	CapClipboardNoReleaseOnRegrab Caps = 1 << 16
	CapClipboardGrabSerial        Caps = 1 << 17
)

// RelayCaps is the fixed set the relay advertises. It never changes with what
// the guest offers.
const RelayCaps = CapClipboardByDemand | CapClipboardSelection | CapClipboardGrabSerial

var capNames = []struct {
	bit  Caps
	name string
}{
	{CapClipboard, "clipboard"},
	{CapClipboardByDemand, "clipboard-by-demand"},
	{CapClipboardSelection, "clipboard-selection"},
	{CapGuestLineEndLF, "guest-lineend-lf"},
	{CapMaxClipboard, "max-clipboard"},
	{CapClipboardNoReleaseOnRegrab, "clipboard-no-release-on-regrab"},
	{CapClipboardGrabSerial, "clipboard-grab-serial"},
}

// Has reports whether every bit in want is set.
func (c Caps) Has(want Caps) bool { return c&want == want }

// Names lists the known capability bits that are set, in bit order.
func (c Caps) Names() []string {
	var out []string
	for _, n := range capNames {
		if c&n.bit != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

func (c Caps) String() string {
	names := c.Names()
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}
