package rtmp

import (
	"time"

	"github.com/lampmerchant/tashrouter/ddp"
	"github.com/lampmerchant/tashrouter/rib"
	"github.com/lampmerchant/tashrouter/timer"
)

// SendInterval is how often the sender re-advertises each Online port.
const SendInterval = 10 * time.Second

// Transmitter is the subset of port behavior the sender needs: its own
// (network, node) address and a way to broadcast a datagram on the RTMP
// socket. Implemented by *port.Port; kept narrow here to avoid an import
// cycle between rtmp and port.
type Transmitter interface {
	ID() rib.PortID
	LocalAddress() ddp.Address
	BroadcastRTMP(payload []byte)
}

// Sender periodically advertises one port's reachable ranges.
type Sender struct {
	table *rib.Table
	port  Transmitter
	t     *timer.Timer

	// Interval overrides SendInterval; the router sets it from config so
	// tests can shrink it.
	Interval time.Duration
}

// NewSender creates a Sender for port p advertising from table. It is not
// started until Start is called.
func NewSender(table *rib.Table, p Transmitter) *Sender {
	return &Sender{table: table, port: p, Interval: SendInterval}
}

// Start begins periodic sending.
func (s *Sender) Start() {
	s.t = timer.New(s.Interval, s.tick)
}

func (s *Sender) tick() {
	s.Send()
	s.t.ResetTo(s.Interval)
}

// Send emits one RTMP data packet immediately, independent of the timer
// (used for the initial advertisement when a port reaches Online).
func (s *Sender) Send() {
	addr := s.port.LocalAddress()
	tuples := TuplesFor(s.table, s.port.ID())
	if len(tuples) == 0 {
		return
	}
	s.port.BroadcastRTMP(EncodeData(addr.Network, addr.Node, tuples))
}

// Stop halts the sender. Safe to call even if Start was never called.
func (s *Sender) Stop() {
	if s.t != nil {
		s.t.Stop()
	}
}

// HandleRequest answers an RTMP Route Data Request with this router's
// directly-connected networks in brief response form.
func HandleRequest(table *rib.Table, p rib.PortID) []Tuple {
	var tuples []Tuple
	table.Each(func(r *rib.Route) {
		if r.DirectlyConnected() {
			tuples = append(tuples, Tuple{Range: r.Range, Distance: 0})
		}
	})
	return tuples
}
