// Package zib implements the Zone Information Base: a table
// mapping network ranges to the set of zone names reachable there, plus the
// AppleTalk zone-name case-folding equivalence rule. It mirrors package
// rib's structure: a netrange.Table guarded by one reader/writer lock, an
// independent table keyed by the same network ranges.
package zib

import (
	"sync"

	"github.com/lampmerchant/tashrouter/netrange"
)

// MaxZoneLen is the longest a zone name may be.
const MaxZoneLen = 32

// Zone is an AppleTalk zone name: a 1-32 byte string compared under
// FoldEqual rather than byte-for-byte equality.
type Zone []byte

// FoldEqual reports whether a and b name the same zone under the AppleTalk
// zone case-folding rule: ASCII letters fold to a common case;
// every byte ≥0x80 is its own equivalence class (MacRoman high bytes are not
// folded, since doing so would require a Mac OS script-manager table this
// router has no need to carry).
func FoldEqual(a, b Zone) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if foldByte(a[i]) != foldByte(b[i]) {
			return false
		}
	}
	return true
}

func foldByte(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c - 'A' + 'a'
	}
	return c
}

// indexOf returns the index of the first Zone in zones equal to z under
// FoldEqual, or -1.
func indexOf(zones []Zone, z Zone) int {
	for i, existing := range zones {
		if FoldEqual(existing, z) {
			return i
		}
	}
	return -1
}

// Entry is one ZIB row: the zones known to be reachable in a network range,
// and which of them is the default.
type Entry struct {
	Range      netrange.Range
	Zones      []Zone
	DefaultIdx int // index into Zones, or -1 if no zones are known yet
}

// Default returns the entry's default zone, or nil if none is set.
func (e *Entry) Default() Zone {
	if e.DefaultIdx < 0 || e.DefaultIdx >= len(e.Zones) {
		return nil
	}
	return e.Zones[e.DefaultIdx]
}

// Has reports whether z is among e's zones (FoldEqual comparison).
func (e *Entry) Has(z Zone) bool {
	return indexOf(e.Zones, z) >= 0
}

// Table is the Zone Information Base.
type Table struct {
	mu      sync.RWMutex
	entries *netrange.Table[*Entry]
}

// New creates an empty ZIB.
func New() *Table {
	return &Table{entries: netrange.NewTable[*Entry]()}
}

// Lookup returns the entry whose range contains n, if any.
func (t *Table) Lookup(n netrange.NetNum) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries.Lookup(n)
}

// Get returns the entry keyed by the exact range r, if any.
func (t *Table) Get(r netrange.Range) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries.Get(r)
}

// Each calls f for a snapshot of every entry currently in the table. f must
// not mutate the table.
func (t *Table) Each(f func(*Entry)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.entries.Each(func(_ netrange.Range, e *Entry) { f(e) })
}

// AllZones returns the de-duplicated union of every zone known across every
// range, in first-seen order.
func (t *Table) AllZones() []Zone {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var all []Zone
	t.entries.Each(func(_ netrange.Range, e *Entry) {
		for _, z := range e.Zones {
			if indexOf(all, z) < 0 {
				all = append(all, z)
			}
		}
	})
	return all
}

// ZonesForRange returns the zones associated with the network containing n,
// and whether the caller should treat that as the node's "local" zones for
// GetLocalZones purposes.
func (t *Table) ZonesForRange(n netrange.NetNum) ([]Zone, bool) {
	e, ok := t.Lookup(n)
	if !ok {
		return nil, false
	}
	return e.Zones, true
}

// Learn records that zone z is reachable via range r; the ZIP responder
// calls it for each tuple of an arriving ZIP reply. If makeDefault is true
// and r has no default zone yet, z becomes the default. Reports whether
// the table changed.
func (t *Table) Learn(r netrange.Range, z Zone, makeDefault bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries.Get(r)
	if !ok {
		e = &Entry{Range: r, DefaultIdx: -1}
		t.entries.Set(r, e)
	}
	changed := !ok
	if indexOf(e.Zones, z) < 0 {
		e.Zones = append(e.Zones, z)
		changed = true
	}
	if makeDefault && e.DefaultIdx < 0 {
		e.DefaultIdx = indexOf(e.Zones, z)
		changed = true
	}
	return changed
}

// Remove drops every zone associated with range r, called by the router
// when the RIB loses its last route to r.
func (t *Table) Remove(r netrange.Range) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Delete(r)
}
