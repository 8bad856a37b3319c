// Package rib implements the Routing Information Base and its RTMP-driven
// ageing state machine. The table itself is a thin wrapper around
// netrange.Table guarded by a single reader/writer lock: RTMP reception,
// ZIP reception, and ageing are writers; forwarding is a reader. Ageing is
// driven by comparing a route's LastRefreshed timestamp against the clock
// on each sweep rather than mutating state from a per-packet timer.
package rib

import (
	"sync"
	"time"

	"github.com/lampmerchant/tashrouter/ddp"
	"github.com/lampmerchant/tashrouter/netrange"
)

// State is a route's position in the ageing state machine.
type State int

const (
	// Good means the route was refreshed within the last ageing window.
	Good State = iota
	// Suspect means no refresh has arrived for one ageing window.
	Suspect
	// Bad means no refresh has arrived for two ageing windows.
	Bad
	// Zombie means no refresh has arrived for three ageing windows; the
	// route is advertised as unreachable (distance 16) until it is removed.
	Zombie
)

// String renders a State for logging.
func (s State) String() string {
	switch s {
	case Good:
		return "good"
	case Suspect:
		return "suspect"
	case Bad:
		return "bad"
	case Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// PortID identifies the egress port a route was learned on or is directly
// connected to. The RIB is deliberately ignorant of the concrete port type
// to avoid an import cycle with package port; the router maps PortID back
// to a *port.Port.
type PortID string

// Unreachable is the distance RTMP reports for a route it can no longer
// reach (Zombie routes are advertised at this distance).
const Unreachable = 16

// MaxDistance is the largest distance a route may legitimately carry before
// it is treated as unreachable.
const MaxDistance = 15

// Route is one entry in the RIB.
type Route struct {
	Range       netrange.Range
	Distance    uint8
	NextNetwork netrange.NetNum // 0 with NextNode 0 means directly connected
	NextNode    ddp.Node
	Port        PortID
	State       State

	// LastRefreshed is the wall-clock time this route was last installed or
	// refreshed by a matching RTMP advertisement. Ageing compares against
	// this rather than resetting a per-route timer.
	LastRefreshed time.Time
}

// DirectlyConnected reports whether r is a directly-connected route: a
// zero next network and next node.
func (r *Route) DirectlyConnected() bool {
	return r.NextNetwork == 0 && r.NextNode == 0
}

// EffectiveDistance returns the distance this route should be advertised
// at: Unreachable once it has aged to Zombie, its real distance
// otherwise.
func (r *Route) EffectiveDistance() uint8 {
	if r.State == Zombie {
		return Unreachable
	}
	return r.Distance
}

// Table is the Routing Information Base: a set of routes keyed by
// non-overlapping network ranges; no two entries may cover the same
// network number.
type Table struct {
	mu      sync.RWMutex
	entries *netrange.Table[*Route]
	now     func() time.Time
}

// New creates an empty RIB.
func New() *Table {
	return &Table{entries: netrange.NewTable[*Route](), now: time.Now}
}

// Lookup returns the route whose range contains n, if any.
func (t *Table) Lookup(n netrange.NetNum) (*Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries.Lookup(n)
}

// Get returns the route keyed by the exact range r, if any.
func (t *Table) Get(r netrange.Range) (*Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries.Get(r)
}

// Each calls f for a snapshot of every route currently in the table. f must
// not mutate the table.
func (t *Table) Each(f func(*Route)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.entries.Each(func(_ netrange.Range, r *Route) { f(r) })
}

// overlapsOther reports whether r overlaps any range other than exactly r
// itself. Used to enforce the non-overlap invariant outside of the single
// already-keyed-by-this-range replacement case.
func (t *Table) overlapsOther(r netrange.Range) bool {
	overlaps := false
	t.entries.Each(func(existing netrange.Range, _ *Route) {
		if existing.Equal(r) {
			return
		}
		if existing.Overlaps(r) {
			overlaps = true
		}
	})
	return overlaps
}

// InsertDirect installs or refreshes the directly-connected route for a
// port reaching Online. It always wins over any
// learned route to the same range.
func (t *Table) InsertDirect(r netrange.Range, port PortID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Set(r, &Route{
		Range:         r,
		Distance:      0,
		Port:          port,
		State:         Good,
		LastRefreshed: t.now(),
	})
}

// RemoveDirect removes the directly-connected route for a port leaving
// Online, and anything else keyed by the same range.
func (t *Table) RemoveDirect(r netrange.Range) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Delete(r)
}

// RemoveByPort removes every route (direct or learned) whose egress Port is
// id, returning the ranges dropped so the caller can also drop their ZIB
// entries. Used when a port leaves Online.
func (t *Table) RemoveByPort(id PortID) []netrange.Range {
	t.mu.Lock()
	defer t.mu.Unlock()
	var toDelete []netrange.Range
	t.entries.Each(func(r netrange.Range, route *Route) {
		if route.Port == id {
			toDelete = append(toDelete, r)
		}
	})
	for _, r := range toDelete {
		t.entries.Delete(r)
	}
	return toDelete
}

// Advertisement is one (range, distance) tuple as carried in an RTMP data
// packet.
type Advertisement struct {
	Range    netrange.Range
	Distance uint8
}

// Learn applies one neighbor advertisement received on port p from neighbor
// address (neighborNet, neighborNode), implementing the RTMP reception
// algorithm. It reports whether the RIB changed.
func (t *Table) Learn(adv Advertisement, p PortID, neighborNet netrange.NetNum, neighborNode ddp.Node) bool {
	candidateDistance := int(adv.Distance) + 1

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.entries.Get(adv.Range)
	if !ok {
		if t.overlapsOther(adv.Range) {
			// An overlapping range already exists under a different key; the
			// non-overlap invariant forbids installing a second one.
			return false
		}
		if candidateDistance > MaxDistance {
			// Never reachable in the first place; nothing to insert.
			return false
		}
		t.entries.Set(adv.Range, &Route{
			Range:         adv.Range,
			Distance:      uint8(candidateDistance),
			NextNetwork:   neighborNet,
			NextNode:      neighborNode,
			Port:          p,
			State:         Good,
			LastRefreshed: t.now(),
		})
		return true
	}

	if existing.DirectlyConnected() {
		// Never let a learned route override our own directly-connected net.
		return false
	}

	sameNeighbor := existing.NextNetwork == neighborNet && existing.NextNode == neighborNode && existing.Port == p
	if sameNeighbor {
		if candidateDistance > MaxDistance {
			// The neighbor itself now reports this unreachable; jump the route
			// straight to Zombie rather than waiting out the full ageing
			// cycle. Sweep recomputes State from LastRefreshed, so the
			// timestamp must be backdated into the Zombie window or the next
			// sweep would resurrect the route.
			existing.Distance = Unreachable
			existing.State = Zombie
			existing.LastRefreshed = t.now().Add(-3 * AgeStep)
			return true
		}
		existing.Distance = uint8(candidateDistance)
		existing.State = Good
		existing.LastRefreshed = t.now()
		return true
	}

	if candidateDistance < int(existing.Distance) {
		t.entries.Set(adv.Range, &Route{
			Range:         adv.Range,
			Distance:      uint8(candidateDistance),
			NextNetwork:   neighborNet,
			NextNode:      neighborNode,
			Port:          p,
			State:         Good,
			LastRefreshed: t.now(),
		})
		return true
	}

	// Equal or worse distance via a different neighbor: keep the existing
	// route (first-wins tie-break; do not flap).
	return false
}
