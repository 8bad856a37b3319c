// Package nbp implements the Name Binding Protocol reactive service on
// socket 2: entity-name encode/decode with wildcard matching, and
// BrRq/LkUp/LkUp-Reply/FwdReq handling.
package nbp

import (
	"bytes"
	"fmt"

	"github.com/lampmerchant/tashrouter/ddp"
	"github.com/lampmerchant/tashrouter/internal/stream"
	"github.com/lampmerchant/tashrouter/netrange"
	"github.com/lampmerchant/tashrouter/zib"
)

// Function codes carried in the NBP packet's first payload byte, packed
// with a per-packet tuple count in its low nibble.
const (
	FuncBrRq      = 1
	FuncLkUp      = 2
	FuncLkUpReply = 3
	FuncFwdReq    = 4
)

// Wildcard is the entity-name field value that matches any value in that
// field.
const Wildcard = "="

// ErrMalformed is returned for an NBP payload too short for its declared
// shape.
var ErrMalformed = fmt.Errorf("nbp: malformed packet")

// Entity is an NBP entity name: (object, type, zone), each 0-32 bytes.
type Entity struct {
	Object string
	Type   string
	Zone   string
}

// Matches reports whether e (a registered entity) matches pattern, treating
// any Wildcard field in pattern as matching anything.
func (e Entity) Matches(pattern Entity) bool {
	return fieldMatches(e.Object, pattern.Object) &&
		fieldMatches(e.Type, pattern.Type) &&
		fieldMatches(e.Zone, pattern.Zone)
}

func fieldMatches(value, pattern string) bool {
	return pattern == Wildcard || value == pattern
}

// Tuple is one NBP tuple: an entity name bound to a DDP address, tagged
// with an enumerator the requester echoes back in BrRq/LkUp
// exchanges.
type Tuple struct {
	Enumerator uint8
	Addr       ddp.Address
	Entity     Entity
}

// Packet is a fully decoded NBP packet.
type Packet struct {
	Func   uint8
	ReqID  uint8
	Tuples []Tuple
}

func readPString(r *bytes.Buffer) (string, error) {
	if r.Len() < 1 {
		return "", ErrMalformed
	}
	n := int(stream.ReadByte(r))
	if r.Len() < n {
		return "", ErrMalformed
	}
	return string(stream.ReadBytes(n, r)), nil
}

func writePString(buf *bytes.Buffer, s string) {
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
}

// Decode parses an NBP payload: function/tuple-count byte, a
// request ID byte, then that many (enumerator, address, entity) tuples.
func Decode(payload []byte) (*Packet, error) {
	if len(payload) < 2 {
		return nil, ErrMalformed
	}
	funcByte := payload[0]
	p := &Packet{Func: funcByte >> 4, ReqID: payload[1]}
	count := int(funcByte & 0x0f)
	r := bytes.NewBuffer(payload[2:])
	for i := 0; i < count; i++ {
		if r.Len() < 6 {
			return nil, ErrMalformed
		}
		enum := stream.ReadByte(r)
		net := stream.ReadUint16(r)
		node := stream.ReadByte(r)
		sock := stream.ReadByte(r)
		obj, err := readPString(r)
		if err != nil {
			return nil, err
		}
		typ, err := readPString(r)
		if err != nil {
			return nil, err
		}
		zone, err := readPString(r)
		if err != nil {
			return nil, err
		}
		p.Tuples = append(p.Tuples, Tuple{
			Enumerator: enum,
			Addr:       ddp.Address{Network: netrange.NetNum(net), Node: ddp.Node(node), Socket: ddp.Socket(sock)},
			Entity:     Entity{Object: obj, Type: typ, Zone: zone},
		})
	}
	return p, nil
}

// Encode renders p as an NBP payload.
func (p *Packet) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte((p.Func << 4) | uint8(len(p.Tuples)&0x0f))
	buf.WriteByte(p.ReqID)
	for _, t := range p.Tuples {
		buf.WriteByte(t.Enumerator)
		stream.PutUint16(&buf, uint16(t.Addr.Network))
		buf.WriteByte(byte(t.Addr.Node))
		buf.WriteByte(byte(t.Addr.Socket))
		writePString(&buf, t.Entity.Object)
		writePString(&buf, t.Entity.Type)
		writePString(&buf, t.Entity.Zone)
	}
	return buf.Bytes()
}

// LocalZoneServer answers which zones this router serves zone lookups for
// on a given network, and how to reach another router serving a zone. It's
// the narrow slice of router+zib+rib behavior NBP routing needs, kept as an
// interface to avoid nbp depending on those packages directly.
type LocalZoneServer interface {
	// IsLocalZone reports whether zone names a zone reachable on the port
	// the BrRq arrived on.
	IsLocalZone(ingressPort string, zone zib.Zone) bool
	// RouterFor returns the address of a router that serves zone, if known.
	RouterFor(zone zib.Zone) (ddp.Address, bool)
}

// Action says how an inbound BrRq/FwdReq should be handled:
//   - BrRq for a local zone: broadcast as LkUp on the ingress port.
//   - BrRq for a remote zone: convert to FwdReq, unicast to the zone's router.
//   - FwdReq from another router: convert to LkUp, broadcast on every local
//     port serving the target zone (the caller enumerates those ports).
type Action int

const (
	// ActionBroadcastLocal means rewrite to LkUp and broadcast on ingressPort.
	ActionBroadcastLocal Action = iota
	// ActionForward means rewrite to FwdReq and unicast to Next.
	ActionForward
	// ActionDrop means no router in this zone's direction is known.
	ActionDrop
)

// Decision is the outcome of RouteBrRq.
type Decision struct {
	Action Action
	Next   ddp.Address
}

// RouteBrRq decides what to do with an inbound BrRq addressed to zone z,
// arriving on ingressPort. FwdReq packets do not pass through it.
func RouteBrRq(srv LocalZoneServer, ingressPort string, z zib.Zone) Decision {
	if srv.IsLocalZone(ingressPort, z) {
		return Decision{Action: ActionBroadcastLocal}
	}
	addr, ok := srv.RouterFor(z)
	if !ok {
		return Decision{Action: ActionDrop}
	}
	return Decision{Action: ActionForward, Next: addr}
}

// AsLkUp rewrites p's function to LkUp, keeping its tuples (used both when
// broadcasting a local BrRq and when a remote router's FwdReq arrives).
func (p *Packet) AsLkUp() *Packet {
	np := *p
	np.Func = FuncLkUp
	return &np
}

// AsFwdReq rewrites p's function to FwdReq for forwarding to a zone's
// router.
func (p *Packet) AsFwdReq() *Packet {
	np := *p
	np.Func = FuncFwdReq
	return &np
}
