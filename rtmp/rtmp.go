// Package rtmp implements the Routing Table Maintenance Protocol half of
// the RIB: decoding/encoding RTMP data and response packets, applying
// received advertisements to a rib.Table, and a periodic sender that
// advertises every Online port's reachable ranges with split-horizon.
package rtmp

import (
	"bytes"
	"fmt"

	"github.com/lampmerchant/tashrouter/ddp"
	"github.com/lampmerchant/tashrouter/internal/stream"
	"github.com/lampmerchant/tashrouter/netrange"
	"github.com/lampmerchant/tashrouter/rib"
)

// FuncRequest is the function code carried in an RTMP packet's first
// payload byte when it is a request rather than a data packet. Solicited
// responses reuse the data-packet wire shape, so no response function
// codes exist.
const FuncRequest = 1

// Tuple is one (range, distance) pair as carried in an RTMP data packet.
type Tuple struct {
	Range    netrange.Range
	Distance uint8
}

// extendedBit marks a tuple as carrying an explicit range rather than a
// single network number, set in the high bit of the distance byte. An
// extended tuple carries a second network-number word for the top of the
// range.
const extendedBit = 0x80

// DecodeData parses an RTMP data packet payload (the sender's own network
// number and node ID followed by a sequence of tuples) into the tuples it
// carries. The router uses the ingress datagram's source address for the
// neighbor identity rather than re-deriving it from the payload.
func DecodeData(payload []byte) ([]Tuple, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("rtmp: malformed data packet")
	}
	r := bytes.NewBuffer(payload[3:]) // skip sender network word + node id byte
	var tuples []Tuple
	for r.Len() >= 3 {
		netNum := stream.ReadUint16(r)
		distAndFlag := stream.ReadByte(r)
		t := Tuple{Distance: distAndFlag &^ extendedBit}
		if distAndFlag&extendedBit != 0 {
			if r.Len() < 2 {
				return nil, fmt.Errorf("rtmp: truncated extended tuple")
			}
			maxNum := stream.ReadUint16(r)
			t.Range = netrange.Range{Min: netrange.NetNum(netNum), Max: netrange.NetNum(maxNum)}
		} else {
			t.Range = netrange.Single(netrange.NetNum(netNum))
		}
		tuples = append(tuples, t)
	}
	return tuples, nil
}

// EncodeData renders an RTMP data packet advertising tuples from (srcNet,
// srcNode).
func EncodeData(srcNet netrange.NetNum, srcNode ddp.Node, tuples []Tuple) []byte {
	var buf bytes.Buffer
	stream.PutUint16(&buf, uint16(srcNet))
	buf.WriteByte(byte(srcNode))
	for _, t := range tuples {
		stream.PutUint16(&buf, uint16(t.Range.Min))
		if t.Range.Extended() {
			buf.WriteByte(t.Distance | extendedBit)
			stream.PutUint16(&buf, uint16(t.Range.Max))
		} else {
			buf.WriteByte(t.Distance)
		}
	}
	return buf.Bytes()
}

// EncodeRequest renders an RTMP Route Data Request payload.
func EncodeRequest() []byte {
	return []byte{FuncRequest, 0, 0}
}

// IsRequest reports whether payload is an RTMP request rather than data.
func IsRequest(payload []byte) bool {
	return len(payload) > 0 && payload[0] == FuncRequest
}

// TuplesFor builds the advertisement a router should send out port p.
// Split-horizon: routes whose egress port is p are not advertised back out
// of p, though p's own directly-connected range still is. Routes aged to
// Zombie stay in the advertisement at distance 16 to tell neighbors they
// are gone.
func TuplesFor(table *rib.Table, p rib.PortID) []Tuple {
	var tuples []Tuple
	table.Each(func(r *rib.Route) {
		if r.Port == p && !r.DirectlyConnected() {
			return
		}
		tuples = append(tuples, Tuple{Range: r.Range, Distance: r.EffectiveDistance()})
	})
	return tuples
}

// Apply decodes an inbound RTMP data packet from neighbor (neighborNet,
// neighborNode) arriving on port p and learns every tuple it carries into
// table. It returns the number of tuples that changed the RIB.
func Apply(table *rib.Table, payload []byte, p rib.PortID, neighborNet netrange.NetNum, neighborNode ddp.Node) (int, error) {
	tuples, err := DecodeData(payload)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, t := range tuples {
		if table.Learn(rib.Advertisement{Range: t.Range, Distance: t.Distance}, p, neighborNet, neighborNode) {
			changed++
		}
	}
	return changed, nil
}
