package link

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// EtherTalk framing: IEEE 802.3 length-form Ethernet with an
// 802.2 LLC header (DSAP/SSAP 0xAA, control 0x03) and a SNAP discriminator.
// AppleTalk DDP travels under OUI 08:00:07 with EtherType 0x809B; AARP
// travels under the zero OUI with EtherType 0x80F3.
var (
	snapOUIAppleTalk = []byte{0x08, 0x00, 0x07}
	snapOUIZero      = []byte{0x00, 0x00, 0x00}
)

const (
	// EtherTypeAppleTalk is the SNAP protocol discriminator for DDP.
	EtherTypeAppleTalk = 0x809B
	// EtherTypeAARP is the SNAP protocol discriminator for AARP.
	EtherTypeAARP = 0x80F3
)

// EncodeSNAP wraps payload in the 802.3 + LLC + SNAP envelope for k (which
// must be KindDDPLong or KindAARP; EtherTalk carries nothing else).
func EncodeSNAP(k Kind, src, dst Addr, payload []byte) ([]byte, error) {
	var oui []byte
	var etherType uint16
	switch k {
	case KindDDPLong:
		oui, etherType = snapOUIAppleTalk, EtherTypeAppleTalk
	case KindAARP:
		oui, etherType = snapOUIZero, EtherTypeAARP
	default:
		return nil, errors.Errorf("ethertalk: frame kind %d not carried on Ethernet", k)
	}

	llc := make([]byte, 0, 8+len(payload))
	llc = append(llc, 0xAA, 0xAA, 0x03)
	llc = append(llc, oui...)
	llc = append(llc, byte(etherType>>8), byte(etherType))
	llc = append(llc, payload...)

	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		&layers.Ethernet{
			SrcMAC:       net.HardwareAddr(src),
			DstMAC:       net.HardwareAddr(dst),
			EthernetType: layers.EthernetTypeLLC,
		},
		gopacket.Payload(llc),
	)
	if err != nil {
		return nil, errors.Wrap(err, "ethertalk: serialize")
	}
	return buf.Bytes(), nil
}

// DecodeSNAP parses a received Ethernet frame, returning the inner payload
// as a Frame when the SNAP discriminator names AppleTalk or AARP. Frames
// carrying anything else (IP, ARP, non-SNAP LLC) report ok=false and are
// ignored by the caller.
func DecodeSNAP(frame []byte) (Frame, bool) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Lazy)
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	snapLayer := pkt.Layer(layers.LayerTypeSNAP)
	if ethLayer == nil || snapLayer == nil {
		return Frame{}, false
	}
	eth := ethLayer.(*layers.Ethernet)
	snap := snapLayer.(*layers.SNAP)

	var k Kind
	switch uint16(snap.Type) {
	case EtherTypeAppleTalk:
		k = KindDDPLong
	case EtherTypeAARP:
		k = KindAARP
	default:
		return Frame{}, false
	}
	payload := make([]byte, len(snap.LayerPayload()))
	copy(payload, snap.LayerPayload())
	return Frame{Kind: k, Payload: payload, Src: EtherAddr(eth.SrcMAC), Dst: EtherAddr(eth.DstMAC)}, true
}
