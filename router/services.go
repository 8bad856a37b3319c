package router

import (
	"github.com/lampmerchant/tashrouter/aep"
	"github.com/lampmerchant/tashrouter/ddp"
	"github.com/lampmerchant/tashrouter/nbp"
	"github.com/lampmerchant/tashrouter/port"
	"github.com/lampmerchant/tashrouter/rtmp"
	"github.com/lampmerchant/tashrouter/zib"
	"github.com/lampmerchant/tashrouter/zip"
)

// zoneListPage bounds how many zones one indexed-enumeration reply carries.
const zoneListPage = 32

// handleRTMP is the RTMP responder: data packets update the
// RIB; requests are answered with this router's directly-connected
// networks.
func handleRTMP(r *Router, p *port.Port, dg *ddp.Datagram) {
	switch dg.Type {
	case ddp.TypeRTMPData:
		changed, err := rtmp.Apply(r.rib, dg.Data, p.ID(), dg.Src.Network, dg.Src.Node)
		if err != nil {
			p.Malformed.Increment()
			r.log.WithError(err).Debug("rtmp data dropped")
			return
		}
		if changed > 0 {
			r.log.WithField("routes", changed).Debug("rtmp update applied")
		}
	case ddp.TypeRTMPRequest:
		if !rtmp.IsRequest(dg.Data) {
			return
		}
		addr := p.LocalAddress()
		addr.Socket = ddp.SocketRTMP
		tuples := rtmp.HandleRequest(r.rib, p.ID())
		reply := &ddp.Datagram{
			Long: true,
			Src:  addr,
			Dst:  dg.Src,
			Type: ddp.TypeRTMPData,
			Data: rtmp.EncodeData(addr.Network, addr.Node, tuples),
		}
		if err := r.RouteOut(reply); err != nil {
			r.log.WithError(err).Debug("rtmp response transmit failed")
		}
	}
}

// handleZIP is the ZIP responder.
func handleZIP(r *Router, p *port.Port, dg *ddp.Datagram) {
	if dg.Type != ddp.TypeZIP || len(dg.Data) < 1 {
		return
	}
	addr := p.LocalAddress()
	addr.Socket = ddp.SocketZIP
	reply := func(payload []byte) {
		out := &ddp.Datagram{Long: true, Src: addr, Dst: dg.Src, Type: ddp.TypeZIP, Data: payload}
		if err := r.RouteOut(out); err != nil {
			r.log.WithError(err).Debug("zip reply transmit failed")
		}
	}

	switch dg.Data[0] {
	case zip.FuncQuery:
		batches, err := zip.HandleQuery(r.zib, dg.Data)
		if err != nil {
			p.Malformed.Increment()
			return
		}
		for _, b := range batches {
			reply(b)
		}

	case zip.FuncReply, zip.FuncExtendedReply:
		var tuples []zip.ZoneTuple
		var err error
		if dg.Data[0] == zip.FuncReply {
			tuples, err = zip.DecodeReply(dg.Data)
		} else {
			_, tuples, err = zip.DecodeExtendedReply(dg.Data)
		}
		if err != nil {
			p.Malformed.Increment()
			return
		}
		for _, tup := range tuples {
			route, ok := r.rib.Lookup(tup.Net)
			if !ok {
				continue
			}
			r.zib.Learn(route.Range, tup.Zone, true)
			r.zipSender.NoteReply(dg.Src.Network, dg.Src.Node, route.Range)
			r.log.WithField("net", route.Range.String()).Debug("zone learned")
		}

	case zip.FuncGetNetInfoReq:
		info, ok := zip.HandleGetNetInfo(r.zib, p.NetworkRange().Min)
		if !ok {
			return
		}
		reply(zip.EncodeGetNetInfoReply(info))

	case zip.FuncGetZoneList:
		start, err := zip.DecodeIndexedReq(dg.Data)
		if err != nil {
			return
		}
		zones, more := zip.HandleGetZoneList(r.zib, start-1, zoneListPage)
		reply(zip.EncodeZoneListReply(zip.FuncGetZoneList, !more, zones))

	case zip.FuncGetLocalZones:
		start, err := zip.DecodeIndexedReq(dg.Data)
		if err != nil {
			return
		}
		zones, more := zip.HandleGetLocalZones(r.zib, p.NetworkRange().Min, start-1, zoneListPage)
		reply(zip.EncodeZoneListReply(zip.FuncGetLocalZones, !more, zones))

	case zip.FuncGetMyZone:
		z, ok := zip.HandleGetMyZone(r.zib, dg.Src.Network)
		if !ok {
			return
		}
		reply(zip.EncodeZoneListReply(zip.FuncGetMyZone, true, []zib.Zone{z}))
	}
}

// handleNBP is the NBP service: broadcast requests are either
// turned into local lookups or forwarded toward the router serving the
// target zone; forward requests from other routers become local lookups.
func handleNBP(r *Router, p *port.Port, dg *ddp.Datagram) {
	if dg.Type != ddp.TypeNBP {
		return
	}
	pkt, err := nbp.Decode(dg.Data)
	if err != nil {
		p.Malformed.Increment()
		return
	}
	if len(pkt.Tuples) == 0 {
		return
	}
	zone := zib.Zone(pkt.Tuples[0].Entity.Zone)

	addr := p.LocalAddress()
	addr.Socket = ddp.SocketNBP

	switch pkt.Func {
	case nbp.FuncBrRq:
		dec := nbp.RouteBrRq(r, string(p.ID()), zone)
		switch dec.Action {
		case nbp.ActionBroadcastLocal:
			out := &ddp.Datagram{
				Long: true,
				Src:  addr,
				Dst:  ddp.Address{Network: 0, Node: ddp.Broadcast, Socket: ddp.SocketNBP},
				Type: ddp.TypeNBP,
				Data: pkt.AsLkUp().Encode(),
			}
			if err := p.Broadcast(out); err != nil {
				r.log.WithError(err).Debug("nbp lookup broadcast failed")
			}
		case nbp.ActionForward:
			out := &ddp.Datagram{
				Long: true,
				Src:  addr,
				Dst:  dec.Next,
				Type: ddp.TypeNBP,
				Data: pkt.AsFwdReq().Encode(),
			}
			if err := r.RouteOut(out); err != nil {
				r.log.WithError(err).Debug("nbp forward transmit failed")
			}
		case nbp.ActionDrop:
			r.log.WithField("zone", string(zone)).Debug("no router for zone, nbp request dropped")
		}

	case nbp.FuncFwdReq:
		// Convert to LkUp and broadcast on every local port serving the
		// target zone.
		data := pkt.AsLkUp().Encode()
		r.mu.Lock()
		ports := append([]*port.Port(nil), r.ports...)
		r.mu.Unlock()
		for _, q := range ports {
			if q.State() != port.Online {
				continue
			}
			e, ok := r.zib.Get(q.NetworkRange())
			if !ok || !e.Has(zone) {
				continue
			}
			src := q.LocalAddress()
			src.Socket = ddp.SocketNBP
			out := &ddp.Datagram{
				Long: true,
				Src:  src,
				Dst:  ddp.Address{Network: 0, Node: ddp.Broadcast, Socket: ddp.SocketNBP},
				Type: ddp.TypeNBP,
				Data: data,
			}
			if err := q.Broadcast(out); err != nil {
				r.log.WithError(err).Debug("nbp lookup broadcast failed")
			}
		}
	}
	// LkUp and LkUp-Reply addressed to the router itself go unanswered: the
	// router registers no names, and replies to forwarded lookups travel to
	// the original requester as ordinary transit traffic.
}

// handleEcho is the Echo service.
func handleEcho(r *Router, p *port.Port, dg *ddp.Datagram) {
	reply, ok := aep.Reply(dg)
	if !ok {
		return
	}
	if err := r.RouteOut(reply); err != nil {
		r.log.WithError(err).Debug("echo reply transmit failed")
	}
}
