// Package link defines the contract a link driver must satisfy to carry
// DDP for a router port, plus the two drivers this repo implements
// concretely: LocalTalk-over-UDP and TashTalk serial framing. Raw Ethernet
// frame I/O stays outside this module; the EtherTalk helpers here cover
// only the 802.2 LLC/SNAP framing a port needs to build and parse frames
// once some external collaborator moves them.
package link

import (
	"fmt"
	"net"
)

// Addr is a link-layer address: a single LLAP node number byte for
// LocalTalk media, a 48-bit MAC for Ethernet media.
type Addr []byte

// NodeAddr returns the LocalTalk link address for node n.
func NodeAddr(n byte) Addr { return Addr{n} }

// EtherAddr returns the Ethernet link address for mac.
func EtherAddr(mac net.HardwareAddr) Addr { return Addr(mac) }

// Node returns the LLAP node number an Addr names. Only meaningful for
// LocalTalk addresses.
func (a Addr) Node() byte {
	if len(a) != 1 {
		return 0
	}
	return a[0]
}

// MAC returns the Ethernet address an Addr names, or nil for non-Ethernet
// addresses.
func (a Addr) MAC() net.HardwareAddr {
	if len(a) != 6 {
		return nil
	}
	return net.HardwareAddr(a)
}

// Equal reports whether a and b are the same link address.
func (a Addr) Equal(b Addr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String renders a for logging.
func (a Addr) String() string {
	if len(a) == 1 {
		return fmt.Sprintf("node %d", a[0])
	}
	return net.HardwareAddr(a).String()
}

// EthernetBroadcast is the AppleTalk broadcast MAC.
var EthernetBroadcast = Addr{0x09, 0x00, 0x07, 0xFF, 0xFF, 0xFF}

// LocalTalkBroadcast is the LLAP broadcast node address.
var LocalTalkBroadcast = NodeAddr(255)

// Kind says what a frame carries, derived from the LLAP type byte on
// LocalTalk media or the SNAP protocol discriminator on Ethernet media.
type Kind int

const (
	// KindDDPShort is a short-form DDP datagram (LLAP type 1).
	KindDDPShort Kind = iota
	// KindDDPLong is a long-form DDP datagram (LLAP type 2, or EtherType
	// 0x809B on Ethernet).
	KindDDPLong
	// KindAARP is an AARP packet (EtherType 0x80F3, Ethernet media only).
	KindAARP
	// KindEnq is an LLAP address-enquiry control frame.
	KindEnq
	// KindAck is an LLAP address-acknowledge control frame, sent in answer
	// to an Enq for an address the sender already holds.
	KindAck
)

// LLAP type bytes.
const (
	llapTypeDDPShort = 1
	llapTypeDDPLong  = 2
	llapTypeEnq      = 0x81
	llapTypeAck      = 0x82
)

// Frame is one received link frame: its payload with link framing already
// stripped, plus the link addresses it was sent from and to. Dst matters
// during address acquisition: an Enq names the address being probed in its
// destination field, and the prober must see Acks and rival Enqs aimed at
// its candidate.
type Frame struct {
	Kind    Kind
	Payload []byte
	Src     Addr
	Dst     Addr
}

// MaxFramePayload is the largest payload a conforming driver must accept
// for transmit: enough for a full DDP datagram plus link framing.
const MaxFramePayload = 600

// ErrTransmitFailed is returned when a driver could not put a frame on the
// wire. The router drops and counts; AppleTalk upper layers handle
// retransmission.
var ErrTransmitFailed = fmt.Errorf("link: transmit failed")

// Driver is the contract between a port and its link: an
// asynchronous stream of received frames, a transmit operation, a broadcast
// address constant, and a payload bound. Bind tells the driver which local
// address the port currently holds so the driver can frame outbound traffic
// and filter its own broadcasts; ports call it again each time the
// address-acquisition machinery picks a new candidate.
type Driver interface {
	Frames() <-chan Frame
	Transmit(k Kind, payload []byte, dst Addr) error
	Broadcast() Addr
	MaxPayload() int
	Bind(a Addr)
	Close() error
}
