package port

import (
	"bytes"
	"fmt"
	"net"

	"github.com/lampmerchant/tashrouter/ddp"
	"github.com/lampmerchant/tashrouter/internal/stream"
	"github.com/lampmerchant/tashrouter/link"
	"github.com/lampmerchant/tashrouter/netrange"
)

// AARP functions.
const (
	AARPRequest  uint16 = 1
	AARPResponse uint16 = 2
	AARPProbe    uint16 = 3
)

// AARP fixed fields for AppleTalk over Ethernet.
const (
	aarpHardwareEthernet = 1
	aarpHWAddrLen        = 6
	aarpProtoAddrLen     = 4
	aarpPacketLen        = 28
)

// AARPPacket is one AARP body as carried inside the 0x80F3 SNAP envelope.
// The protocol addresses are (network, node) pairs padded to four bytes on
// the wire.
type AARPPacket struct {
	Function uint16
	SrcHW    net.HardwareAddr
	SrcNet   netrange.NetNum
	SrcNode  ddp.Node
	DstHW    net.HardwareAddr
	DstNet   netrange.NetNum
	DstNode  ddp.Node
}

// ErrMalformedAARP is returned for an AARP body of the wrong shape.
var ErrMalformedAARP = fmt.Errorf("port: malformed aarp packet")

// Encode renders p for the wire.
func (p *AARPPacket) Encode() []byte {
	var buf bytes.Buffer
	stream.PutUint16(&buf, aarpHardwareEthernet)
	stream.PutUint16(&buf, link.EtherTypeAppleTalk)
	buf.WriteByte(aarpHWAddrLen)
	buf.WriteByte(aarpProtoAddrLen)
	stream.PutUint16(&buf, p.Function)
	buf.Write(padHW(p.SrcHW))
	buf.WriteByte(0)
	stream.PutUint16(&buf, uint16(p.SrcNet))
	buf.WriteByte(byte(p.SrcNode))
	buf.Write(padHW(p.DstHW))
	buf.WriteByte(0)
	stream.PutUint16(&buf, uint16(p.DstNet))
	buf.WriteByte(byte(p.DstNode))
	return buf.Bytes()
}

func padHW(hw net.HardwareAddr) []byte {
	out := make([]byte, aarpHWAddrLen)
	copy(out, hw)
	return out
}

// DecodeAARP parses an AARP body.
func DecodeAARP(b []byte) (*AARPPacket, error) {
	if len(b) < aarpPacketLen {
		return nil, ErrMalformedAARP
	}
	r := bytes.NewBuffer(b)
	if stream.ReadUint16(r) != aarpHardwareEthernet {
		return nil, ErrMalformedAARP
	}
	if stream.ReadUint16(r) != link.EtherTypeAppleTalk {
		return nil, ErrMalformedAARP
	}
	if stream.ReadByte(r) != aarpHWAddrLen || stream.ReadByte(r) != aarpProtoAddrLen {
		return nil, ErrMalformedAARP
	}
	p := &AARPPacket{Function: stream.ReadUint16(r)}
	p.SrcHW = net.HardwareAddr(stream.ReadBytes(aarpHWAddrLen, r))
	stream.ReadByte(r) // protocol address pad
	p.SrcNet = netrange.NetNum(stream.ReadUint16(r))
	p.SrcNode = ddp.Node(stream.ReadByte(r))
	p.DstHW = net.HardwareAddr(stream.ReadBytes(aarpHWAddrLen, r))
	stream.ReadByte(r)
	p.DstNet = netrange.NetNum(stream.ReadUint16(r))
	p.DstNode = ddp.Node(stream.ReadByte(r))
	return p, nil
}
