package zip

import (
	"bytes"

	"github.com/lampmerchant/tashrouter/internal/stream"
	"github.com/lampmerchant/tashrouter/netrange"
	"github.com/lampmerchant/tashrouter/zib"
)

// EncodeGetNetInfoReq renders a GetNetInfo request. zone may be nil when
// the requester knows no zone yet (a node announcing itself from the
// startup range).
func EncodeGetNetInfoReq(zone zib.Zone) []byte {
	var buf bytes.Buffer
	buf.WriteByte(FuncGetNetInfoReq)
	buf.WriteByte(0)
	buf.WriteByte(byte(len(zone)))
	buf.Write(zone)
	return buf.Bytes()
}

// DecodeGetNetInfoReq parses a GetNetInfo request's zone name, which may
// legitimately be empty.
func DecodeGetNetInfoReq(payload []byte) (zib.Zone, error) {
	if len(payload) < 3 {
		return nil, ErrMalformed
	}
	zlen := int(payload[2])
	if len(payload) < 3+zlen {
		return nil, ErrMalformed
	}
	return zib.Zone(payload[3 : 3+zlen]), nil
}

// DecodeIndexedReq parses the start index carried by GetZoneList,
// GetLocalZones, and GetMyZone requests. Indexes on the wire are 1-based.
func DecodeIndexedReq(payload []byte) (int, error) {
	if len(payload) < 4 {
		return 0, ErrMalformed
	}
	r := bytes.NewBuffer(payload[2:4])
	start := int(stream.ReadUint16(r))
	if start < 1 {
		return 0, ErrMalformed
	}
	return start, nil
}

// EncodeZoneListReply renders the answer to an indexed zone enumeration:
// a last-page flag, the zone count, and the zones as length-prefixed
// strings.
func EncodeZoneListReply(fn byte, last bool, zones []zib.Zone) []byte {
	var buf bytes.Buffer
	buf.WriteByte(fn)
	if last {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	stream.PutUint16(&buf, uint16(len(zones)))
	for _, z := range zones {
		buf.WriteByte(byte(len(z)))
		buf.Write(z)
	}
	return buf.Bytes()
}

// HandleQuery answers a ZIP Query by looking up each requested network in
// table and returning the reply batches ready to send. Networks with no
// known zones yet are simply omitted from the reply, same as a real ZIP
// responder that has nothing to say about them. A network with a single
// zone joins the plain batched reply; a multi-zone network gets extended
// replies of its own so the querier learns its total zone count.
func HandleQuery(table *zib.Table, payload []byte) ([][]byte, error) {
	nets, err := DecodeQuery(payload)
	if err != nil {
		return nil, err
	}
	var tuples []ZoneTuple
	var out [][]byte
	for _, n := range nets {
		e, ok := table.Lookup(n)
		if !ok {
			continue
		}
		if len(e.Zones) > 1 {
			out = append(out, EncodeExtendedReply(n, e.Zones)...)
			continue
		}
		for _, z := range e.Zones {
			tuples = append(tuples, ZoneTuple{Net: n, Zone: z})
		}
	}
	for _, batch := range SplitTuples(tuples) {
		out = append(out, EncodeReply(batch))
	}
	return out, nil
}

// NetInfoReply is the decoded answer to a GetNetInfo request:
// the zones of the requested network plus which one is the default.
type NetInfoReply struct {
	Range      netrange.Range
	Zones      []zib.Zone
	DefaultIdx int
}

// HandleGetNetInfo answers a GetNetInfo request for network n, used by end
// nodes at startup to discover their network's zones.
func HandleGetNetInfo(table *zib.Table, n netrange.NetNum) (*NetInfoReply, bool) {
	e, ok := table.Lookup(n)
	if !ok {
		return nil, false
	}
	return &NetInfoReply{Range: e.Range, Zones: e.Zones, DefaultIdx: e.DefaultIdx}, true
}

// EncodeGetNetInfoReply renders a NetInfoReply as a GetNetInfo reply
// payload.
func EncodeGetNetInfoReply(reply *NetInfoReply) []byte {
	tuples := make([]ZoneTuple, len(reply.Zones))
	for i, z := range reply.Zones {
		tuples[i] = ZoneTuple{Net: reply.Range.Min, Zone: z}
	}
	out := EncodeReply(tuples)
	out[0] = FuncGetNetInfoReply
	return out
}

// HandleGetZoneList answers GetZoneList: the union of every zone known
// anywhere, paginated starting at index start. It returns the
// page of zones and whether more remain beyond it.
func HandleGetZoneList(table *zib.Table, start, pageSize int) ([]zib.Zone, bool) {
	return paginate(table.AllZones(), start, pageSize)
}

// HandleGetLocalZones answers GetLocalZones: the zones of the network
// reachable on the requesting port, paginated.
func HandleGetLocalZones(table *zib.Table, localNet netrange.NetNum, start, pageSize int) ([]zib.Zone, bool) {
	zones, ok := table.ZonesForRange(localNet)
	if !ok {
		return nil, false
	}
	return paginate(zones, start, pageSize)
}

// HandleGetMyZone answers GetMyZone: the single zone (the default, if more
// than one exists) of the network the requesting node is on.
func HandleGetMyZone(table *zib.Table, requesterNet netrange.NetNum) (zib.Zone, bool) {
	e, ok := table.Lookup(requesterNet)
	if !ok || len(e.Zones) == 0 {
		return nil, false
	}
	if z := e.Default(); z != nil {
		return z, true
	}
	return e.Zones[0], true
}

func paginate(zones []zib.Zone, start, pageSize int) ([]zib.Zone, bool) {
	if start < 0 || start >= len(zones) {
		return nil, false
	}
	end := start + pageSize
	more := end < len(zones)
	if end > len(zones) {
		end = len(zones)
	}
	return zones[start:end], more
}
