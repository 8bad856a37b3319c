// Package ddp implements the Datagram Delivery Protocol datagram format:
// short- and long-form header encode/decode, the DDP checksum, and the
// address and value types datagrams are built from.
package ddp

import (
	"bytes"
	"fmt"

	"github.com/lampmerchant/tashrouter/internal/stream"
	"github.com/lampmerchant/tashrouter/netrange"
)

// MaxPayload is the largest DDP payload a datagram may carry.
const MaxPayload = 586

// MaxHopCount is the largest hop count a long-form datagram may carry
// before forwarding must refuse it.
const MaxHopCount = 15

const (
	shortHeaderLen = 7
	longHeaderLen  = 13
)

// Node is an AppleTalk node number. 0 means unknown, 255 is broadcast.
type Node uint8

// Broadcast is the node-number broadcast address.
const Broadcast Node = 255

// UserRange reports whether n is in the user (non-server) node range.
func (n Node) UserRange() bool { return n >= 1 && n <= 127 }

// Socket is an AppleTalk socket number. Sockets 1-127 are static
// (well-known), 128-254 are dynamic.
type Socket uint8

// Well-known static sockets.
const (
	SocketRTMP Socket = 1
	SocketNBP  Socket = 2
	SocketEcho Socket = 4
	SocketZIP  Socket = 6
)

// Static reports whether s is in the static (well-known) socket range.
func (s Socket) Static() bool { return s >= 1 && s <= 127 }

// DDP protocol type codes.
const (
	TypeRTMPData    uint8 = 1
	TypeNBP         uint8 = 2
	TypeEcho        uint8 = 4
	TypeRTMPRequest uint8 = 5
	TypeZIP         uint8 = 6
)

// Address is an AppleTalk (network, node, socket) triple.
type Address struct {
	Network netrange.NetNum
	Node    Node
	Socket  Socket
}

// String renders an address as "network.node:socket".
func (a Address) String() string {
	return fmt.Sprintf("%d.%d:%d", a.Network, a.Node, a.Socket)
}

// Datagram is a fully-decoded DDP datagram. Long reports whether
// it was carried in long-form (the form that carries explicit network
// numbers and a hop count); short-form datagrams are intra-network only and
// carry no network numbers, node numbers, or hop count.
type Datagram struct {
	Long     bool
	HopCount uint8
	Checksum uint16 // 0 = unchecked
	Dst      Address
	Src      Address
	Type     uint8
	Data     []byte
}

// Error kinds for DDP decode failures.
var (
	ErrMalformedDatagram = fmt.Errorf("ddp: malformed datagram")
	ErrChecksumMismatch  = fmt.Errorf("ddp: checksum mismatch")
)

// DecodeShort parses a short-form DDP header (7 bytes: 2-byte length, 2-byte
// checksum, destination socket, source socket, DDP type) followed by payload. Network
// numbers and node numbers are not carried in short form; the caller (the
// receiving port) fills them in from link-layer context since short-form
// datagrams are intra-network and never routed.
func DecodeShort(buf []byte) (*Datagram, error) {
	if len(buf) < shortHeaderLen {
		return nil, ErrMalformedDatagram
	}
	r := bytes.NewBuffer(buf)
	length := stream.ReadUint16(r) & 0x03ff
	if int(length) != len(buf) {
		return nil, ErrMalformedDatagram
	}
	checksum := stream.ReadUint16(r)
	dstSocket := stream.ReadByte(r)
	srcSocket := stream.ReadByte(r)
	ddpType := stream.ReadByte(r)
	data := make([]byte, r.Len())
	copy(data, r.Bytes())

	dg := &Datagram{
		Long:     false,
		Checksum: checksum,
		Dst:      Address{Socket: Socket(dstSocket)},
		Src:      Address{Socket: Socket(srcSocket)},
		Type:     ddpType,
		Data:     data,
	}
	if checksum != 0 {
		if err := verifyChecksum(dg); err != nil {
			return nil, err
		}
	}
	return dg, nil
}

// DecodeLong parses a long-form DDP header (13 bytes: hop count + length,
// checksum, destination network, source network, destination node, source
// node, destination socket, source socket, DDP type) followed by
// payload.
func DecodeLong(buf []byte) (*Datagram, error) {
	if len(buf) < longHeaderLen {
		return nil, ErrMalformedDatagram
	}
	r := bytes.NewBuffer(buf)
	lengthAndHop := stream.ReadUint16(r)
	hopCount := uint8((lengthAndHop >> 10) & 0x0f)
	length := lengthAndHop & 0x03ff
	if int(length) != len(buf) {
		return nil, ErrMalformedDatagram
	}
	checksum := stream.ReadUint16(r)
	dstNet := stream.ReadUint16(r)
	srcNet := stream.ReadUint16(r)
	dstNode := stream.ReadByte(r)
	srcNode := stream.ReadByte(r)
	dstSocket := stream.ReadByte(r)
	srcSocket := stream.ReadByte(r)
	ddpType := stream.ReadByte(r)
	data := make([]byte, r.Len())
	copy(data, r.Bytes())

	dg := &Datagram{
		Long:     true,
		HopCount: hopCount,
		Checksum: checksum,
		Dst:      Address{Network: netrange.NetNum(dstNet), Node: Node(dstNode), Socket: Socket(dstSocket)},
		Src:      Address{Network: netrange.NetNum(srcNet), Node: Node(srcNode), Socket: Socket(srcSocket)},
		Type:     ddpType,
		Data:     data,
	}
	if checksum != 0 {
		if err := verifyChecksum(dg); err != nil {
			return nil, err
		}
	}
	return dg, nil
}

// Decode dispatches to DecodeShort or DecodeLong.
func Decode(buf []byte, long bool) (*Datagram, error) {
	if long {
		return DecodeLong(buf)
	}
	return DecodeShort(buf)
}

// EncodeShort renders dg in short form. withChecksum computes and embeds a
// non-zero checksum; otherwise the checksum field is 0 (unchecked).
func (dg *Datagram) EncodeShort(withChecksum bool) []byte {
	var buf bytes.Buffer
	length := uint16(shortHeaderLen + len(dg.Data))
	stream.PutUint16(&buf, length&0x03ff)
	stream.PutUint16(&buf, 0) // checksum placeholder
	buf.WriteByte(byte(dg.Dst.Socket))
	buf.WriteByte(byte(dg.Src.Socket))
	buf.WriteByte(dg.Type)
	buf.Write(dg.Data)
	out := buf.Bytes()
	if withChecksum {
		cs := Checksum(out[4:]) // from destination socket onward; short form carries no net/node
		out[2], out[3] = byte(cs>>8), byte(cs)
	}
	return out
}

// EncodeLong renders dg in long form, embedding dg.HopCount.
func (dg *Datagram) EncodeLong(withChecksum bool) []byte {
	var buf bytes.Buffer
	length := uint16(longHeaderLen+len(dg.Data)) & 0x03ff
	lengthAndHop := (uint16(dg.HopCount&0x0f) << 10) | length
	stream.PutUint16(&buf, lengthAndHop)
	stream.PutUint16(&buf, 0) // checksum placeholder
	stream.PutUint16(&buf, uint16(dg.Dst.Network))
	stream.PutUint16(&buf, uint16(dg.Src.Network))
	buf.WriteByte(byte(dg.Dst.Node))
	buf.WriteByte(byte(dg.Src.Node))
	buf.WriteByte(byte(dg.Dst.Socket))
	buf.WriteByte(byte(dg.Src.Socket))
	buf.WriteByte(dg.Type)
	buf.Write(dg.Data)
	out := buf.Bytes()
	if withChecksum {
		cs := Checksum(out[4:]) // from destination network onward
		out[2], out[3] = byte(cs>>8), byte(cs)
	}
	return out
}

// Encode renders dg using its Long field to pick the form.
func (dg *Datagram) Encode(withChecksum bool) []byte {
	if dg.Long {
		return dg.EncodeLong(withChecksum)
	}
	return dg.EncodeShort(withChecksum)
}

// Checksum implements the DDP checksum algorithm: initialize to
// 0; for each byte, add it into a 16-bit accumulator then rotate the
// accumulator left by one bit; remap an all-zero result to 0xFFFF.
func Checksum(b []byte) uint16 {
	var acc uint16
	for _, c := range b {
		acc += uint16(c)
		acc = (acc << 1) | (acc >> 15)
	}
	if acc == 0 {
		return 0xFFFF
	}
	return acc
}

// verifyChecksum recomputes dg's checksum over the bytes the datagram would
// have carried and compares it against dg.Checksum.
func verifyChecksum(dg *Datagram) error {
	var region []byte
	if dg.Long {
		region = dg.EncodeLong(false)[4:]
	} else {
		region = dg.EncodeShort(false)[4:]
	}
	if Checksum(region) != dg.Checksum {
		return ErrChecksumMismatch
	}
	return nil
}
