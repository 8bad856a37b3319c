// Package netrange implements NetNum and network-range arithmetic for
// AppleTalk: validity, containment, and overlap checks over the 16-bit
// network number space. The number space is flat and small, so a scan over
// a slice of ranges replaces the prefix trie an IP router would carry.
package netrange

import "fmt"

// NetNum is an AppleTalk network number. 0 means unknown/any; 65280-65534
// is the transient startup range; 1-65279 is the assignable range.
type NetNum uint16

const (
	// Unknown is the "unknown/any" network number.
	Unknown NetNum = 0
	// StartupRangeLow is the first network number in the startup range.
	StartupRangeLow NetNum = 65280
	// StartupRangeHigh is the last network number in the startup range.
	StartupRangeHigh NetNum = 65534
	// MaxAssignable is the highest assignable (non-startup) network number.
	MaxAssignable NetNum = 65279
)

// Valid reports whether n is in the assignable range (1-65279).
func (n NetNum) Valid() bool {
	return n >= 1 && n <= MaxAssignable
}

// InStartupRange reports whether n falls in the transient startup range.
func (n NetNum) InStartupRange() bool {
	return n >= StartupRangeLow && n <= StartupRangeHigh
}

// Range is a contiguous, inclusive span of network numbers: a single
// non-extended LocalTalk network has Min == Max, an extended EtherTalk
// network has Min < Max.
type Range struct {
	Min, Max NetNum
}

// Single returns a non-extended Range containing just n.
func Single(n NetNum) Range {
	return Range{Min: n, Max: n}
}

// Extended reports whether r spans more than one network number.
func (r Range) Extended() bool {
	return r.Max > r.Min
}

// Contains reports whether n falls within r.
func (r Range) Contains(n NetNum) bool {
	return n >= r.Min && n <= r.Max
}

// Overlaps reports whether r and o share any network number.
func (r Range) Overlaps(o Range) bool {
	return r.Min <= o.Max && o.Min <= r.Max
}

// Equal reports whether r and o are the same range.
func (r Range) Equal(o Range) bool {
	return r.Min == o.Min && r.Max == o.Max
}

// String renders the range as "N" for non-extended or "N-M" for extended.
func (r Range) String() string {
	if !r.Extended() {
		return fmt.Sprintf("%d", r.Min)
	}
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// Table is an ordered set of non-overlapping Ranges supporting lookup by
// a NetNum falling inside one of them. It's the shared containment logic
// behind both rib.Table and zib.Table.
type Table[V any] struct {
	entries []tableEntry[V]
}

type tableEntry[V any] struct {
	r Range
	v V
}

// NewTable creates an empty Table.
func NewTable[V any]() *Table[V] {
	return &Table[V]{}
}

// Lookup returns the value whose range contains n, or the zero value and
// false if none does.
func (t *Table[V]) Lookup(n NetNum) (V, bool) {
	for _, e := range t.entries {
		if e.r.Contains(n) {
			return e.v, true
		}
	}
	var zero V
	return zero, false
}

// Get returns the value keyed by the exact range r, or the zero value and
// false if no entry has that exact range.
func (t *Table[V]) Get(r Range) (V, bool) {
	for _, e := range t.entries {
		if e.r.Equal(r) {
			return e.v, true
		}
	}
	var zero V
	return zero, false
}

// Set inserts or replaces the entry keyed by the exact range r. It does not
// check for overlap with other ranges; callers (rib, zib) enforce the
// non-overlap invariant themselves since they must also reason about which
// overlapping route, if any, a new one is allowed to supersede.
func (t *Table[V]) Set(r Range, v V) {
	for i, e := range t.entries {
		if e.r.Equal(r) {
			t.entries[i].v = v
			return
		}
	}
	t.entries = append(t.entries, tableEntry[V]{r: r, v: v})
}

// Delete removes the entry keyed by the exact range r, if present.
func (t *Table[V]) Delete(r Range) {
	for i, e := range t.entries {
		if e.r.Equal(r) {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// Ranges returns all ranges currently present, in insertion order.
func (t *Table[V]) Ranges() []Range {
	out := make([]Range, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.r
	}
	return out
}

// Each calls f for every (range, value) pair. f must not mutate the table.
func (t *Table[V]) Each(f func(Range, V)) {
	for _, e := range t.entries {
		f(e.r, e.v)
	}
}

// Len returns the number of entries in the table.
func (t *Table[V]) Len() int {
	return len(t.entries)
}
