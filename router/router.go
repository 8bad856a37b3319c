// Package router implements the coordinator: it owns the RIB,
// the ZIB, the port list, and the service handlers, starts and stops them
// together, and dispatches datagrams between ports and services: one
// struct holding the tables and the per-link machines, Start/Stop fanning
// out to each.
package router

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lampmerchant/tashrouter/config"
	"github.com/lampmerchant/tashrouter/counter"
	"github.com/lampmerchant/tashrouter/ddp"
	"github.com/lampmerchant/tashrouter/netrange"
	"github.com/lampmerchant/tashrouter/port"
	"github.com/lampmerchant/tashrouter/rib"
	"github.com/lampmerchant/tashrouter/rtmp"
	"github.com/lampmerchant/tashrouter/timer"
	"github.com/lampmerchant/tashrouter/zib"
	"github.com/lampmerchant/tashrouter/zip"
)

// ErrNoRoute means outbound dispatch found no RIB entry for the
// destination network.
var ErrNoRoute = fmt.Errorf("router: no route to network")

// Handler is a reactive service bound to a static socket. A
// handler must not block on external I/O; it computes a response and hands
// it back through RouteOut.
type Handler interface {
	Handle(r *Router, p *port.Port, dg *ddp.Datagram)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(r *Router, p *port.Port, dg *ddp.Datagram)

// Handle implements Handler.
func (f HandlerFunc) Handle(r *Router, p *port.Port, dg *ddp.Datagram) { f(r, p, dg) }

// Router is the process-wide coordinator.
type Router struct {
	cfg *config.Config
	log *logrus.Entry

	rib *rib.Table
	zib *zib.Table

	// RouteMiss and HopExceeded count forwarding drops.
	RouteMiss   *counter.Counter
	HopExceeded *counter.Counter

	ager      *rib.Ager
	zipSender *zip.Sender
	zipTimer  *timer.Timer

	mu       sync.Mutex
	ports    []*port.Port
	handlers map[ddp.Socket]Handler
	senders  map[rib.PortID]*rtmp.Sender
	running  bool
}

// New builds a Router with the well-known services (RTMP, NBP, Echo, ZIP)
// registered on their static sockets.
func New(cfg *config.Config, log *logrus.Logger) *Router {
	r := &Router{
		cfg:         cfg,
		log:         logrus.NewEntry(log).WithField("component", "router"),
		rib:         rib.New(),
		zib:         zib.New(),
		RouteMiss:   counter.New(),
		HopExceeded: counter.New(),
		handlers:    map[ddp.Socket]Handler{},
		senders:     map[rib.PortID]*rtmp.Sender{},
	}
	r.ager = rib.NewAger(r.rib, cfg.AgeingInterval, r.routesAgedOut)
	r.zipSender = zip.NewSender(r.rib, r.zib, r)
	r.zipSender.Timeout = cfg.ZIPQueryTimeout

	r.Handle(ddp.SocketRTMP, HandlerFunc(handleRTMP))
	r.Handle(ddp.SocketNBP, HandlerFunc(handleNBP))
	r.Handle(ddp.SocketEcho, HandlerFunc(handleEcho))
	r.Handle(ddp.SocketZIP, HandlerFunc(handleZIP))
	return r
}

// RIB returns the routing table.
func (r *Router) RIB() *rib.Table { return r.rib }

// ZIB returns the zone table.
func (r *Router) ZIB() *zib.Table { return r.zib }

// Handle binds a service handler to a static socket, replacing any
// existing binding.
func (r *Router) Handle(s ddp.Socket, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[s] = h
}

// AddPort registers p and wires its callbacks into the router's dispatch.
// Must be called before Start.
func (r *Router) AddPort(p *port.Port) {
	p.OnInbound = r.Inbound
	p.OnOnline = r.portOnline
	p.OnFatal = r.portFatal
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ports = append(r.ports, p)
}

// Start brings up every port and every periodic service.
func (r *Router) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	ports := append([]*port.Port(nil), r.ports...)
	r.mu.Unlock()

	r.log.WithField("ports", len(ports)).Info("router starting")
	for _, p := range ports {
		p.Start()
	}
	r.ager.Start()
	r.zipTimer = timer.New(r.cfg.ZIPQueryInterval, r.zipTick)
}

func (r *Router) zipTick() {
	r.zipSender.Tick()
	r.zipTimer.ResetTo(r.cfg.ZIPQueryInterval)
}

// Stop signals every port and service to terminate and waits for them to
// settle.
func (r *Router) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	ports := append([]*port.Port(nil), r.ports...)
	senders := make([]*rtmp.Sender, 0, len(r.senders))
	for _, s := range r.senders {
		senders = append(senders, s)
	}
	r.mu.Unlock()

	if r.zipTimer != nil {
		r.zipTimer.Stop()
	}
	r.ager.Stop()
	for _, s := range senders {
		s.Stop()
	}
	for _, p := range ports {
		p.Stop()
	}
	r.log.Info("router stopped")
}

// portOnline installs the directly-connected route, seeds the ZIB from the
// port's configuration, and begins RTMP advertisement.
func (r *Router) portOnline(p *port.Port) {
	rng := p.NetworkRange()
	r.rib.InsertDirect(rng, p.ID())
	for i, z := range p.SeedZones() {
		r.zib.Learn(rng, z, i == 0)
	}

	s := rtmp.NewSender(r.rib, p)
	s.Interval = r.cfg.RTMPSendInterval
	r.mu.Lock()
	r.senders[p.ID()] = s
	r.mu.Unlock()
	s.Send()
	s.Start()

	r.log.WithFields(logrus.Fields{"port": string(p.ID()), "net": rng.String()}).Info("port online")
}

// portFatal withdraws a failed port's routes and zones; the rest of the
// router keeps running.
func (r *Router) portFatal(p *port.Port, err error) {
	r.log.WithError(err).WithField("port", string(p.ID())).Error("port failed")
	r.mu.Lock()
	if s, ok := r.senders[p.ID()]; ok {
		s.Stop()
		delete(r.senders, p.ID())
	}
	r.mu.Unlock()
	for _, rng := range r.rib.RemoveByPort(p.ID()) {
		if _, stillRouted := r.rib.Get(rng); !stillRouted {
			r.zib.Remove(rng)
		}
	}
}

// routesAgedOut drops the ZIB entries whose last reaching route the ager
// just removed; zones live exactly as long as a route reaches them.
func (r *Router) routesAgedOut(removed []netrange.Range) {
	for _, rng := range removed {
		r.zib.Remove(rng)
		r.log.WithField("net", rng.String()).Debug("route aged out")
	}
}

func (r *Router) portByID(id rib.PortID) *port.Port {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.ports {
		if p.ID() == id {
			return p
		}
	}
	return nil
}

// portForNet returns the Online port whose current network range contains
// n, if any.
func (r *Router) portForNet(n netrange.NetNum) *port.Port {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.ports {
		if p.State() == port.Online && p.NetworkRange().Contains(n) {
			return p
		}
	}
	return nil
}

// Inbound is the router's inbound dispatch: decide
// whether dg is router-local or transit, deliver or forward accordingly.
func (r *Router) Inbound(p *port.Port, dg *ddp.Datagram) {
	if r.isLocal(p, dg) {
		r.deliverLocal(p, dg)
		// A broadcast is both delivered locally and, while it still has hop
		// budget, re-broadcast on every other Online port in the destination
		// network.
		if dg.Long && dg.Dst.Node == ddp.Broadcast && dg.Dst.Network != 0 &&
			dg.HopCount < ddp.MaxHopCount {
			r.rebroadcast(p, dg)
		}
		return
	}

	if !dg.Long {
		// Short form is intra-network only and never routed.
		return
	}
	if dg.HopCount >= ddp.MaxHopCount {
		r.HopExceeded.Increment()
		return
	}
	r.forward(dg)
}

// isLocal reports whether dg is addressed to this router. A destination
// network of 0 is "this network": control broadcasts on the ingress port.
func (r *Router) isLocal(p *port.Port, dg *ddp.Datagram) bool {
	if dg.Dst.Network == 0 {
		return dg.Dst.Node == ddp.Broadcast || dg.Dst.Node == p.LocalAddress().Node
	}
	q := r.portForNet(dg.Dst.Network)
	if q == nil {
		return false
	}
	return dg.Dst.Node == ddp.Broadcast || dg.Dst.Node == q.LocalAddress().Node
}

func (r *Router) deliverLocal(p *port.Port, dg *ddp.Datagram) {
	r.mu.Lock()
	h, ok := r.handlers[dg.Dst.Socket]
	r.mu.Unlock()
	if !ok {
		r.log.WithField("socket", dg.Dst.Socket).Debug("no service on socket, datagram dropped")
		return
	}
	h.Handle(r, p, dg)
}

func (r *Router) rebroadcast(ingress *port.Port, dg *ddp.Datagram) {
	out := *dg
	out.HopCount++
	r.mu.Lock()
	ports := append([]*port.Port(nil), r.ports...)
	r.mu.Unlock()
	for _, q := range ports {
		if q == ingress || q.State() != port.Online {
			continue
		}
		if !q.NetworkRange().Contains(dg.Dst.Network) {
			continue
		}
		if err := q.Broadcast(&out); err != nil {
			r.log.WithError(err).Debug("rebroadcast failed")
		}
	}
}

// forward is the transit path: RIB lookup, hop increment, re-emit
// toward the next hop or directly to the destination when the route is
// directly connected.
func (r *Router) forward(dg *ddp.Datagram) {
	route, ok := r.rib.Lookup(dg.Dst.Network)
	if !ok {
		r.RouteMiss.Increment()
		r.log.WithField("net", dg.Dst.Network).Debug("no route, datagram dropped")
		return
	}
	egress := r.portByID(route.Port)
	if egress == nil || egress.State() != port.Online {
		r.RouteMiss.Increment()
		return
	}

	out := *dg
	out.HopCount++
	var err error
	switch {
	case route.DirectlyConnected() && out.Dst.Node == ddp.Broadcast:
		err = egress.Broadcast(&out)
	case route.DirectlyConnected():
		err = egress.Send(&out, out.Dst)
	default:
		err = egress.Send(&out, ddp.Address{Network: route.NextNetwork, Node: route.NextNode})
	}
	if err != nil {
		r.log.WithError(err).Debug("forward transmit failed")
	}
}

// RouteOut is outbound dispatch for router-originated traffic:
// services hand a finished datagram here and the router picks the egress.
func (r *Router) RouteOut(dg *ddp.Datagram) error {
	if q := r.portForNet(dg.Dst.Network); q != nil {
		if dg.Dst.Node == ddp.Broadcast {
			return q.Broadcast(dg)
		}
		return q.Send(dg, dg.Dst)
	}
	route, ok := r.rib.Lookup(dg.Dst.Network)
	if !ok {
		r.RouteMiss.Increment()
		return errors.Wrapf(ErrNoRoute, "network %d", dg.Dst.Network)
	}
	egress := r.portByID(route.Port)
	if egress == nil || egress.State() != port.Online {
		r.RouteMiss.Increment()
		return errors.Wrapf(ErrNoRoute, "network %d egress offline", dg.Dst.Network)
	}
	if route.DirectlyConnected() {
		return egress.Send(dg, dg.Dst)
	}
	return egress.Send(dg, ddp.Address{Network: route.NextNetwork, Node: route.NextNode})
}

// SendZIP implements zip.Transmitter: a unicast ZIP query toward a
// neighbor, sourced from our address on the egress port.
func (r *Router) SendZIP(dst ddp.Address, payload []byte) {
	egress := r.portForNet(dst.Network)
	if egress == nil {
		if route, ok := r.rib.Lookup(dst.Network); ok {
			egress = r.portByID(route.Port)
		}
	}
	if egress == nil {
		return
	}
	src := egress.LocalAddress()
	src.Socket = ddp.SocketZIP
	dg := &ddp.Datagram{
		Long: true,
		Src:  src,
		Dst:  dst,
		Type: ddp.TypeZIP,
		Data: payload,
	}
	if err := r.RouteOut(dg); err != nil {
		r.log.WithError(err).Debug("zip query transmit failed")
	}
}

// IsLocalZone implements nbp.LocalZoneServer: zone names a zone served on
// the ingress port's network. An empty or "*" zone means "my zone" and is
// always local.
func (r *Router) IsLocalZone(ingressPort string, zone zib.Zone) bool {
	if len(zone) == 0 || string(zone) == "*" {
		return true
	}
	p := r.portByID(rib.PortID(ingressPort))
	if p == nil {
		return false
	}
	e, ok := r.zib.Get(p.NetworkRange())
	return ok && e.Has(zone)
}

// RouterFor implements nbp.LocalZoneServer: the next-hop router serving
// zone, selected from the first ZIB entry naming it that has a learned
// route.
func (r *Router) RouterFor(zone zib.Zone) (ddp.Address, bool) {
	var addr ddp.Address
	found := false
	r.zib.Each(func(e *zib.Entry) {
		if found || !e.Has(zone) {
			return
		}
		route, ok := r.rib.Get(e.Range)
		if !ok || route.DirectlyConnected() {
			return
		}
		addr = ddp.Address{Network: route.NextNetwork, Node: route.NextNode, Socket: ddp.SocketNBP}
		found = true
	})
	return addr, found
}
