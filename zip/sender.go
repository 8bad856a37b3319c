package zip

import (
	"sync"
	"time"

	"github.com/lampmerchant/tashrouter/ddp"
	"github.com/lampmerchant/tashrouter/netrange"
	"github.com/lampmerchant/tashrouter/rib"
	"github.com/lampmerchant/tashrouter/zib"
)

// neighborKey identifies a (next hop, range) pair for the sender's
// outstanding-query tracking: at most one query per pair stays in flight
// until its reply arrives or the per-query timeout elapses.
type neighborKey struct {
	net  netrange.NetNum
	node ddp.Node
	rng  netrange.Range
}

// Transmitter sends a unicast ZIP Query toward a neighbor address. Kept
// narrow (rather than depending on package port) to avoid an import cycle.
type Transmitter interface {
	SendZIP(dst ddp.Address, payload []byte)
}

// Sender is the periodic ZIP Query task: for every RIB route
// whose range has no zone yet in the ZIB, query the route's next hop.
type Sender struct {
	rib *rib.Table
	zib *zib.Table
	tx  Transmitter
	now func() time.Time

	// Timeout overrides the default per-query timeout; the router sets it
	// from config so tests can shrink it.
	Timeout time.Duration

	mu      sync.Mutex
	pending map[neighborKey]time.Time
}

// NewSender creates a Sender. It is driven by calling Tick periodically
// (the router's service scheduler owns the timer, mirroring how rib.Ager
// and rtmp.Sender are each driven by their own timer.Timer).
func NewSender(ribTable *rib.Table, zibTable *zib.Table, tx Transmitter) *Sender {
	return &Sender{rib: ribTable, zib: zibTable, tx: tx, now: time.Now, Timeout: queryTimeout, pending: map[neighborKey]time.Time{}}
}

// Tick scans the RIB for ranges with no known zones and queries their next
// hop, skipping any (next_hop, range) pair queried within the last
// queryTimeout.
func (s *Sender) Tick() {
	now := s.now()
	s.mu.Lock()
	for k, at := range s.pending {
		if now.Sub(at) > s.Timeout {
			delete(s.pending, k)
		}
	}
	s.mu.Unlock()

	s.rib.Each(func(r *rib.Route) {
		if _, ok := s.zib.Lookup(r.Range.Min); ok {
			return
		}
		if r.DirectlyConnected() {
			return
		}
		key := neighborKey{net: r.NextNetwork, node: r.NextNode, rng: r.Range}
		s.mu.Lock()
		if _, outstanding := s.pending[key]; outstanding {
			s.mu.Unlock()
			return
		}
		s.pending[key] = now
		s.mu.Unlock()

		dst := ddp.Address{Network: r.NextNetwork, Node: r.NextNode, Socket: ddp.SocketZIP}
		s.tx.SendZIP(dst, EncodeQuery([]netrange.NetNum{r.Range.Min}))
	})
}

// NoteReply clears the outstanding-query marker for (net, node, rng) once a
// reply has arrived, letting a future re-query happen immediately if the
// zone was removed again before the ZIB was updated.
func (s *Sender) NoteReply(net netrange.NetNum, node ddp.Node, rng netrange.Range) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, neighborKey{net: net, node: node, rng: rng})
}
