// Package port implements the router's port abstraction and its
// address-acquisition state machine: a port owns one link
// driver, negotiates a node address on the shared bus, discovers its
// network if the operator didn't seed one, and once Online moves DDP
// datagrams between the link and the router's dispatch. The machine is a
// tagged state with a transition helper, driven from a goroutine selecting
// on timers, frames, and stop.
package port

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lampmerchant/tashrouter/config"
	"github.com/lampmerchant/tashrouter/counter"
	"github.com/lampmerchant/tashrouter/ddp"
	"github.com/lampmerchant/tashrouter/link"
	"github.com/lampmerchant/tashrouter/netrange"
	"github.com/lampmerchant/tashrouter/rib"
	"github.com/lampmerchant/tashrouter/rtmp"
	"github.com/lampmerchant/tashrouter/zib"
	"github.com/lampmerchant/tashrouter/zip"
)

// State is a port's position in the address-acquisition machine.
type State int

const (
	// Unstarted means Start has not been called.
	Unstarted State = iota
	// AcquiringNetworkRange means the port is discovering (or adopting its
	// seeded) network range.
	AcquiringNetworkRange
	// AcquiringNodeAddress means the port is probing candidate node numbers.
	AcquiringNodeAddress
	// Online means normal operation.
	Online
	// Stopped means the link driver is closed and the port is done.
	Stopped
)

// String renders a State for logging.
func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case AcquiringNetworkRange:
		return "acquiring-network-range"
	case AcquiringNodeAddress:
		return "acquiring-node-address"
	case Online:
		return "online"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Fatal port errors.
var (
	// ErrAddressInUse means every candidate node number collided.
	ErrAddressInUse = fmt.Errorf("port: address in use")
	// ErrPortStartupTimeout means a non-seeded port found no network
	// evidence in time.
	ErrPortStartupTimeout = fmt.Errorf("port: startup timeout")
)

// errStopped aborts acquisition when Stop is called mid-start; it is not a
// fatal error and is never surfaced.
var errStopped = fmt.Errorf("port: stopped")

// Settings is the operator-supplied half of a port's identity.
type Settings struct {
	// Name becomes the port's RIB PortID.
	Name string
	// Driver is the link this port owns.
	Driver link.Driver
	// Ethernet selects AARP address resolution; LocalTalk media leave it
	// false (the node number itself is the link address).
	Ethernet bool
	// HardwareAddr is this port's MAC on Ethernet media.
	HardwareAddr net.HardwareAddr
	// SeedRange fixes the port's network range; the zero Range means the
	// port must learn its network from peers.
	SeedRange netrange.Range
	// SeedZones are the zone names a seeded port contributes to the ZIB;
	// the first is the default zone.
	SeedZones []zib.Zone
}

// Port is one router port.
type Port struct {
	settings Settings
	cfg      *config.Config
	log      *logrus.Entry

	// OnInbound receives every decoded datagram once the port is Online.
	// Set by the router before Start.
	OnInbound func(*Port, *ddp.Datagram)
	// OnOnline fires when the port reaches Online.
	OnOnline func(*Port)
	// OnFatal fires when the port fails with AddressInUse or
	// PortStartupTimeout; the router withdraws the port's routes but keeps
	// running.
	OnFatal func(*Port, error)

	// Malformed and BadChecksum count dropped inbound datagrams.
	Malformed   *counter.Counter
	BadChecksum *counter.Counter

	amt *AMT
	rnd *rand.Rand

	mu        sync.Mutex
	state     State
	network   netrange.Range
	node      ddp.Node
	candidate ddp.Node

	evidence  chan netrange.Range
	collision chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

// New builds a Port. The router sets the On* callbacks before Start.
func New(settings Settings, cfg *config.Config, log *logrus.Entry) *Port {
	return &Port{
		settings:    settings,
		cfg:         cfg,
		log:         log.WithField("port", settings.Name),
		Malformed:   counter.New(),
		BadChecksum: counter.New(),
		amt:         newAMT(cfg.AMTSize, cfg.AMTEntryTTL),
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
		evidence:    make(chan netrange.Range, 1),
		collision:   make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// ID implements rtmp.Transmitter.
func (p *Port) ID() rib.PortID { return rib.PortID(p.settings.Name) }

// State returns the port's current FSM state.
func (p *Port) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// NetworkRange returns the port's current network range. Zero until the
// range is acquired.
func (p *Port) NetworkRange() netrange.Range {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.network
}

// LocalAddress implements rtmp.Transmitter: this router's address on the
// port's network.
func (p *Port) LocalAddress() ddp.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ddp.Address{Network: p.network.Min, Node: p.node}
}

// SeedZones returns the operator-configured zones for a seeded port.
func (p *Port) SeedZones() []zib.Zone { return p.settings.SeedZones }

// Seeded reports whether the operator fixed this port's network range.
func (p *Port) Seeded() bool { return p.settings.SeedRange != (netrange.Range{}) }

// Extended reports whether the port's network is an extended range.
func (p *Port) Extended() bool { return p.NetworkRange().Extended() }

// transition moves the FSM to next, logging the edge.
func (p *Port) transition(next State) {
	p.mu.Lock()
	prev := p.state
	p.state = next
	p.mu.Unlock()
	p.log.WithFields(logrus.Fields{"from": prev, "to": next}).Info("port state")
}

// Start brings the port up: the read loop starts immediately, and the
// acquisition machine runs until Online or a fatal error. Start returns
// without waiting for acquisition to finish.
func (p *Port) Start() {
	if p.settings.Ethernet {
		p.settings.Driver.Bind(link.EtherAddr(p.settings.HardwareAddr))
	}
	go p.readLoop()
	go p.run()
}

// Stop closes the link driver and terminates the port's goroutines,
// waiting up to the configured stop timeout for them to settle.
func (p *Port) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.settings.Driver.Close()
	select {
	case <-p.done:
	case <-time.After(p.cfg.StopTimeout):
		p.log.Warn("port did not settle before stop timeout")
	}
	p.transition(Stopped)
}

func (p *Port) run() {
	defer close(p.done)
	if err := p.acquire(); err != nil {
		if err == errStopped {
			return
		}
		p.log.WithError(err).Error("port start failed")
		p.transition(Stopped)
		p.settings.Driver.Close()
		if p.OnFatal != nil {
			p.OnFatal(p, err)
		}
		return
	}
	p.transition(Online)
	if p.OnOnline != nil {
		p.OnOnline(p)
	}
}

func (p *Port) acquire() error {
	if err := p.acquireNetworkRange(); err != nil {
		return err
	}
	return p.acquireNodeAddress()
}

// acquireNetworkRange adopts the seeded range or listens for evidence of
// the real network from RTMP/ZIP traffic after announcing itself from a
// transient startup-range address.
func (p *Port) acquireNetworkRange() error {
	p.transition(AcquiringNetworkRange)

	if p.Seeded() {
		p.setNetwork(p.settings.SeedRange)
		return nil
	}

	startupNet := netrange.StartupRangeLow +
		netrange.NetNum(p.rnd.Intn(int(netrange.StartupRangeHigh-netrange.StartupRangeLow)+1))
	startupNode := ddp.Node(1 + p.rnd.Intn(254))
	if !p.settings.Ethernet {
		p.settings.Driver.Bind(link.NodeAddr(byte(startupNode)))
	}

	dg := &ddp.Datagram{
		Long: true,
		Src:  ddp.Address{Network: startupNet, Node: startupNode, Socket: ddp.SocketZIP},
		Dst:  ddp.Address{Network: 0, Node: ddp.Broadcast, Socket: ddp.SocketZIP},
		Type: ddp.TypeZIP,
		Data: zip.EncodeGetNetInfoReq(nil),
	}
	if err := p.transmitBroadcast(dg); err != nil {
		p.log.WithError(err).Debug("startup GetNetInfo broadcast failed")
	}

	deadline := time.NewTimer(p.cfg.PortStartupTimeout)
	defer deadline.Stop()
	select {
	case r := <-p.evidence:
		p.setNetwork(r)
		p.log.WithField("net", r.String()).Info("network range discovered")
		return nil
	case <-deadline.C:
		return errors.WithStack(ErrPortStartupTimeout)
	case <-p.stop:
		return errStopped
	}
}

// acquireNodeAddress probes random candidate node numbers until one draws
// no conflicting response.
func (p *Port) acquireNodeAddress() error {
	p.transition(AcquiringNodeAddress)

	for attempt := 0; attempt < p.cfg.AARPRetryLimit; attempt++ {
		candidate := ddp.Node(1 + p.rnd.Intn(127))
		p.setCandidate(candidate)
		if !p.settings.Ethernet {
			p.settings.Driver.Bind(link.NodeAddr(byte(candidate)))
		}
		// Drain any collision left over from the previous candidate.
		select {
		case <-p.collision:
		default:
		}

		collided := false
		for i := 0; i < p.cfg.AARPProbeCount && !collided; i++ {
			p.sendProbe(candidate)
			probeWait := time.NewTimer(p.cfg.AARPProbeInterval)
			select {
			case <-p.collision:
				collided = true
			case <-probeWait.C:
			case <-p.stop:
				probeWait.Stop()
				return errStopped
			}
			probeWait.Stop()
		}
		if collided {
			p.log.WithField("node", candidate).Debug("candidate node in use")
			continue
		}

		p.mu.Lock()
		p.node = candidate
		p.candidate = 0
		p.mu.Unlock()
		if !p.settings.Ethernet {
			p.settings.Driver.Bind(link.NodeAddr(byte(candidate)))
		}
		p.log.WithField("node", candidate).Info("node address acquired")
		return nil
	}
	return errors.WithStack(ErrAddressInUse)
}

func (p *Port) setNetwork(r netrange.Range) {
	p.mu.Lock()
	p.network = r
	p.mu.Unlock()
}

func (p *Port) setCandidate(n ddp.Node) {
	p.mu.Lock()
	p.candidate = n
	p.mu.Unlock()
}

func (p *Port) noteCollision() {
	select {
	case p.collision <- struct{}{}:
	default:
	}
}

func (p *Port) noteEvidence(r netrange.Range) {
	select {
	case p.evidence <- r:
	default:
	}
}

// sendProbe asks the bus whether candidate is taken: an AARP Probe on
// Ethernet media, an LLAP address enquiry on LocalTalk media.
func (p *Port) sendProbe(candidate ddp.Node) {
	if p.settings.Ethernet {
		pkt := &AARPPacket{
			Function: AARPProbe,
			SrcHW:    p.settings.HardwareAddr,
			SrcNet:   p.NetworkRange().Min,
			SrcNode:  candidate,
			DstNet:   p.NetworkRange().Min,
			DstNode:  candidate,
		}
		if err := p.settings.Driver.Transmit(link.KindAARP, pkt.Encode(), link.EthernetBroadcast); err != nil {
			p.log.WithError(err).Debug("aarp probe transmit failed")
		}
		return
	}
	if err := p.settings.Driver.Transmit(link.KindEnq, nil, link.NodeAddr(byte(candidate))); err != nil {
		p.log.WithError(err).Debug("llap enq transmit failed")
	}
}

// readLoop drains the driver until it closes, feeding frames to the state
// the port is currently in. Datagrams on the same port are processed in
// arrival order.
func (p *Port) readLoop() {
	for f := range p.settings.Driver.Frames() {
		p.handleFrame(f)
	}
}

func (p *Port) handleFrame(f link.Frame) {
	p.mu.Lock()
	state := p.state
	candidate := p.candidate
	node := p.node
	p.mu.Unlock()

	// While probing a LocalTalk candidate, any traffic sourced from that
	// node number is proof it's taken.
	if state == AcquiringNodeAddress && !p.settings.Ethernet &&
		len(f.Src) == 1 && f.Src.Node() == byte(candidate) {
		p.noteCollision()
		return
	}

	switch f.Kind {
	case link.KindAARP:
		p.handleAARP(f, state, candidate, node)
	case link.KindEnq:
		if state == Online && f.Dst.Node() == byte(node) {
			p.settings.Driver.Transmit(link.KindAck, nil, f.Src)
		} else if state == AcquiringNodeAddress && f.Dst.Node() == byte(candidate) {
			// A rival is probing the same candidate; back off.
			p.noteCollision()
		}
	case link.KindAck:
		if state == AcquiringNodeAddress && f.Dst.Node() == byte(candidate) {
			p.noteCollision()
		}
	case link.KindDDPShort:
		if state == Online {
			p.handleShort(f)
		}
	case link.KindDDPLong:
		p.handleLong(f, state)
	}
}

func (p *Port) handleAARP(f link.Frame, state State, candidate, node ddp.Node) {
	pkt, err := DecodeAARP(f.Payload)
	if err != nil {
		p.Malformed.Increment()
		return
	}
	if pkt.SrcNode != 0 {
		p.amt.Learn(pkt.SrcNet, pkt.SrcNode, pkt.SrcHW)
	}

	local := p.NetworkRange()
	switch pkt.Function {
	case AARPProbe:
		if state == AcquiringNodeAddress && pkt.DstNode == candidate && local.Contains(pkt.DstNet) {
			p.noteCollision()
		} else if state == Online && pkt.DstNode == node && local.Contains(pkt.DstNet) {
			p.respondAARP(pkt, node)
		}
	case AARPRequest:
		if state == Online && pkt.DstNode == node && local.Contains(pkt.DstNet) {
			p.respondAARP(pkt, node)
		}
	case AARPResponse:
		if state == AcquiringNodeAddress && pkt.SrcNode == candidate && local.Contains(pkt.SrcNet) {
			p.noteCollision()
		}
	}
}

func (p *Port) respondAARP(req *AARPPacket, node ddp.Node) {
	resp := &AARPPacket{
		Function: AARPResponse,
		SrcHW:    p.settings.HardwareAddr,
		SrcNet:   p.NetworkRange().Min,
		SrcNode:  node,
		DstHW:    req.SrcHW,
		DstNet:   req.SrcNet,
		DstNode:  req.SrcNode,
	}
	if err := p.settings.Driver.Transmit(link.KindAARP, resp.Encode(), link.EtherAddr(req.SrcHW)); err != nil {
		p.log.WithError(err).Debug("aarp response transmit failed")
	}
}

// handleShort fills in the addressing a short-form header elides from
// link-layer context: both ends are on this port's network, and the node
// numbers come from the LLAP header.
func (p *Port) handleShort(f link.Frame) {
	dg, err := ddp.DecodeShort(f.Payload)
	if err != nil {
		p.countDecodeError(err)
		return
	}
	local := p.NetworkRange()
	dg.Src.Network = local.Min
	dg.Src.Node = ddp.Node(f.Src.Node())
	dg.Dst.Network = local.Min
	dg.Dst.Node = ddp.Node(f.Dst.Node())
	if p.OnInbound != nil {
		p.OnInbound(p, dg)
	}
}

func (p *Port) handleLong(f link.Frame, state State) {
	dg, err := ddp.DecodeLong(f.Payload)
	if err != nil {
		p.countDecodeError(err)
		return
	}
	if p.settings.Ethernet && f.Src.MAC() != nil && dg.Src.Node != 0 {
		p.amt.Learn(dg.Src.Network, dg.Src.Node, f.Src.MAC())
	}

	switch state {
	case AcquiringNetworkRange:
		if r, ok := networkEvidence(dg); ok {
			p.noteEvidence(r)
		}
	case Online:
		if p.OnInbound != nil {
			p.OnInbound(p, dg)
		}
	}
}

// networkEvidence extracts the local network range a datagram reveals
// during discovery: an RTMP data packet names its
// sender's range outright; any other routed datagram at least names the
// sender's network number.
func networkEvidence(dg *ddp.Datagram) (netrange.Range, bool) {
	if dg.Type == ddp.TypeRTMPData && len(dg.Data) >= 3 {
		senderNet := netrange.NetNum(uint16(dg.Data[0])<<8 | uint16(dg.Data[1]))
		if tuples, err := rtmp.DecodeData(dg.Data); err == nil && len(tuples) > 0 &&
			tuples[0].Range.Contains(senderNet) {
			return tuples[0].Range, true
		}
		if senderNet.Valid() {
			return netrange.Single(senderNet), true
		}
	}
	if dg.Src.Network.Valid() {
		return netrange.Single(dg.Src.Network), true
	}
	return netrange.Range{}, false
}

func (p *Port) countDecodeError(err error) {
	switch err {
	case ddp.ErrChecksumMismatch:
		p.BadChecksum.Increment()
	default:
		p.Malformed.Increment()
	}
	p.log.WithError(err).Debug("inbound datagram dropped")
}

// Send transmits dg as a long-form frame toward nextHop's link address.
// On Ethernet media an AMT miss sends an AARP request and drops the
// datagram; AppleTalk upper layers retransmit.
func (p *Port) Send(dg *ddp.Datagram, nextHop ddp.Address) error {
	if nextHop.Node == ddp.Broadcast {
		return p.Broadcast(dg)
	}
	buf := dg.EncodeLong(false)
	if !p.settings.Ethernet {
		return p.settings.Driver.Transmit(link.KindDDPLong, buf, link.NodeAddr(byte(nextHop.Node)))
	}
	hw, ok := p.amt.Resolve(nextHop.Network, nextHop.Node)
	if !ok {
		p.requestAARP(nextHop)
		p.log.WithField("dst", nextHop.String()).Debug("no aarp mapping, datagram dropped")
		return nil
	}
	return p.settings.Driver.Transmit(link.KindDDPLong, buf, link.EtherAddr(hw))
}

// Broadcast transmits dg to the link's broadcast address.
func (p *Port) Broadcast(dg *ddp.Datagram) error {
	return p.transmitBroadcast(dg)
}

func (p *Port) transmitBroadcast(dg *ddp.Datagram) error {
	return p.settings.Driver.Transmit(link.KindDDPLong, dg.EncodeLong(false), p.settings.Driver.Broadcast())
}

func (p *Port) requestAARP(target ddp.Address) {
	addr := p.LocalAddress()
	pkt := &AARPPacket{
		Function: AARPRequest,
		SrcHW:    p.settings.HardwareAddr,
		SrcNet:   addr.Network,
		SrcNode:  addr.Node,
		DstNet:   target.Network,
		DstNode:  target.Node,
	}
	if err := p.settings.Driver.Transmit(link.KindAARP, pkt.Encode(), link.EthernetBroadcast); err != nil {
		p.log.WithError(err).Debug("aarp request transmit failed")
	}
}

// BroadcastRTMP implements rtmp.Transmitter: one RTMP data packet to the
// link broadcast on the RTMP socket.
func (p *Port) BroadcastRTMP(payload []byte) {
	addr := p.LocalAddress()
	addr.Socket = ddp.SocketRTMP
	dg := &ddp.Datagram{
		Long: true,
		Src:  addr,
		Dst:  ddp.Address{Network: 0, Node: ddp.Broadcast, Socket: ddp.SocketRTMP},
		Type: ddp.TypeRTMPData,
		Data: payload,
	}
	if err := p.Broadcast(dg); err != nil {
		p.log.WithError(err).Debug("rtmp broadcast failed")
	}
}

// ResolveCached reports the AMT mapping for (n, node). Exposed for tests
// and diagnostics.
func (p *Port) ResolveCached(n netrange.NetNum, node ddp.Node) (net.HardwareAddr, bool) {
	return p.amt.Resolve(n, node)
}
