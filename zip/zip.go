// Package zip implements the Zone Information Protocol half of the ZIB:
// the responder for Query, GetNetInfo, GetZoneList, GetLocalZones, and
// GetMyZone, and a rate-limited periodic sender that queries neighbors for
// zones of routes the ZIB doesn't yet know about.
package zip

import (
	"bytes"
	"fmt"
	"time"

	"github.com/lampmerchant/tashrouter/internal/stream"
	"github.com/lampmerchant/tashrouter/netrange"
	"github.com/lampmerchant/tashrouter/zib"
)

// Function codes, carried in the first payload byte.
const (
	FuncQuery           = 1
	FuncReply           = 2
	FuncGetNetInfoReq   = 5
	FuncGetNetInfoReply = 6
	FuncExtendedReply   = 8
	FuncGetZoneList     = 9
	FuncGetLocalZones   = 10
	FuncGetMyZone       = 11
)

// queryTimeout is how long the sender waits for a reply before re-querying
// the same (next_hop, range) pair.
const queryTimeout = 10 * time.Second

// DecodeQuery parses a ZIP Query payload into the network numbers it asks
// about.
func DecodeQuery(payload []byte) ([]netrange.NetNum, error) {
	if len(payload) < 2 {
		return nil, ErrMalformed
	}
	count := payload[1]
	r := bytes.NewBuffer(payload[2:])
	nets := make([]netrange.NetNum, 0, count)
	for i := 0; i < int(count); i++ {
		if r.Len() < 2 {
			return nil, ErrMalformed
		}
		nets = append(nets, netrange.NetNum(stream.ReadUint16(r)))
	}
	return nets, nil
}

// EncodeQuery renders a ZIP Query asking about nets.
func EncodeQuery(nets []netrange.NetNum) []byte {
	var buf bytes.Buffer
	buf.WriteByte(FuncQuery)
	buf.WriteByte(byte(len(nets)))
	for _, n := range nets {
		stream.PutUint16(&buf, uint16(n))
	}
	return buf.Bytes()
}

// ErrMalformed is returned for a payload too short for its declared shape.
var ErrMalformed = fmt.Errorf("zip: malformed packet")

// ZoneTuple is one (network, zone) pair as carried in a ZIP Reply.
type ZoneTuple struct {
	Net  netrange.NetNum
	Zone zib.Zone
}

// EncodeReply renders one ZIP Reply packet carrying as many tuples as fit;
// callers (the responder) split a larger tuple set across multiple replies
// themselves by calling this repeatedly with successive slices so each
// reply fits in a DDP payload.
func EncodeReply(tuples []ZoneTuple) []byte {
	var buf bytes.Buffer
	buf.WriteByte(FuncReply)
	buf.WriteByte(byte(len(tuples)))
	for _, tup := range tuples {
		stream.PutUint16(&buf, uint16(tup.Net))
		buf.WriteByte(byte(len(tup.Zone)))
		buf.Write(tup.Zone)
	}
	return buf.Bytes()
}

// DecodeReply parses a ZIP Reply payload into its tuples.
func DecodeReply(payload []byte) ([]ZoneTuple, error) {
	if len(payload) < 2 {
		return nil, ErrMalformed
	}
	count := payload[1]
	r := bytes.NewBuffer(payload[2:])
	tuples := make([]ZoneTuple, 0, count)
	for i := 0; i < int(count); i++ {
		if r.Len() < 3 {
			return nil, ErrMalformed
		}
		net := netrange.NetNum(stream.ReadUint16(r))
		zlen := int(stream.ReadByte(r))
		if r.Len() < zlen {
			return nil, ErrMalformed
		}
		tuples = append(tuples, ZoneTuple{Net: net, Zone: zib.Zone(stream.ReadBytes(zlen, r))})
	}
	return tuples, nil
}

// EncodeExtendedReply renders the reply packets for one network with more
// zones than a plain reply expresses: the count byte carries the network's
// total zone count in every packet, so the querier can recognize when it
// has collected the full set across packets.
func EncodeExtendedReply(n netrange.NetNum, zones []zib.Zone) [][]byte {
	tuples := make([]ZoneTuple, len(zones))
	for i, z := range zones {
		tuples[i] = ZoneTuple{Net: n, Zone: z}
	}
	var out [][]byte
	for _, batch := range SplitTuples(tuples) {
		buf := EncodeReply(batch)
		buf[0] = FuncExtendedReply
		buf[1] = byte(len(zones))
		out = append(out, buf)
	}
	return out
}

// DecodeExtendedReply parses an extended reply. Unlike a plain reply the
// count byte is the network's total zone count, not the tuple count, so
// tuples run to the end of the payload.
func DecodeExtendedReply(payload []byte) (int, []ZoneTuple, error) {
	if len(payload) < 2 {
		return 0, nil, ErrMalformed
	}
	total := int(payload[1])
	r := bytes.NewBuffer(payload[2:])
	var tuples []ZoneTuple
	for r.Len() >= 3 {
		net := netrange.NetNum(stream.ReadUint16(r))
		zlen := int(stream.ReadByte(r))
		if r.Len() < zlen {
			return 0, nil, ErrMalformed
		}
		tuples = append(tuples, ZoneTuple{Net: net, Zone: zib.Zone(stream.ReadBytes(zlen, r))})
	}
	return total, tuples, nil
}

// MaxReplyPayload bounds how many tuples EncodeReply's caller should batch
// into one packet (DDP payload ≤586 bytes).
const MaxReplyPayload = 586

// SplitTuples groups tuples into reply-sized batches, each of which is
// guaranteed to fit within MaxReplyPayload once encoded.
func SplitTuples(tuples []ZoneTuple) [][]ZoneTuple {
	var batches [][]ZoneTuple
	var current []ZoneTuple
	size := 2
	for _, tup := range tuples {
		tupSize := 3 + len(tup.Zone)
		if size+tupSize > MaxReplyPayload && len(current) > 0 {
			batches = append(batches, current)
			current = nil
			size = 2
		}
		current = append(current, tup)
		size += tupSize
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
