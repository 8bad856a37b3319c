package netrange

import "testing"

func TestNetNumValidity(t *testing.T) {
	if Unknown.Valid() {
		t.Error("0 should not be valid")
	}
	if !NetNum(1).Valid() {
		t.Error("1 should be valid")
	}
	if !NetNum(65279).Valid() {
		t.Error("65279 should be valid")
	}
	if NetNum(65280).Valid() {
		t.Error("65280 is startup range, not a valid assignable net")
	}
	if !NetNum(65280).InStartupRange() {
		t.Error("65280 should be in the startup range")
	}
	if !NetNum(65534).InStartupRange() {
		t.Error("65534 should be in the startup range")
	}
}

func TestRangeContainsAndOverlaps(t *testing.T) {
	r := Range{Min: 10, Max: 20}
	if !r.Contains(15) {
		t.Error("expected 15 in [10,20]")
	}
	if r.Contains(21) {
		t.Error("21 should not be in [10,20]")
	}
	if !r.Overlaps(Range{Min: 20, Max: 30}) {
		t.Error("expected overlap at boundary 20")
	}
	if r.Overlaps(Range{Min: 21, Max: 30}) {
		t.Error("did not expect overlap")
	}
}

func TestRangeExtended(t *testing.T) {
	if Single(5).Extended() {
		t.Error("single net should not be extended")
	}
	if !(Range{Min: 5, Max: 9}).Extended() {
		t.Error("5-9 should be extended")
	}
}

func TestTableLookupAndSet(t *testing.T) {
	tbl := NewTable[string]()
	tbl.Set(Range{Min: 1, Max: 1}, "a")
	tbl.Set(Range{Min: 10, Max: 20}, "b")

	v, ok := tbl.Lookup(15)
	if !ok || v != "b" {
		t.Fatalf("expected lookup(15) = b, got %q, %v", v, ok)
	}
	if _, ok := tbl.Lookup(99); ok {
		t.Fatal("expected no match for 99")
	}

	tbl.Set(Range{Min: 10, Max: 20}, "c")
	v, _ = tbl.Get(Range{Min: 10, Max: 20})
	if v != "c" {
		t.Fatalf("expected replacement to update value, got %q", v)
	}
	if tbl.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", tbl.Len())
	}

	tbl.Delete(Range{Min: 1, Max: 1})
	if tbl.Len() != 1 {
		t.Fatalf("expected 1 entry after delete, got %d", tbl.Len())
	}
}
