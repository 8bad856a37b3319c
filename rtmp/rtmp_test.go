package rtmp

import (
	"testing"

	"github.com/lampmerchant/tashrouter/ddp"
	"github.com/lampmerchant/tashrouter/netrange"
	"github.com/lampmerchant/tashrouter/rib"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tuples := []Tuple{
		{Range: netrange.Single(10), Distance: 0},
		{Range: netrange.Range{Min: 20, Max: 25}, Distance: 3},
	}
	payload := EncodeData(1, 5, tuples)
	got, err := DecodeData(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(got) != len(tuples) {
		t.Fatalf("expected %d tuples, got %d", len(tuples), len(got))
	}
	for i := range tuples {
		if got[i] != tuples[i] {
			t.Fatalf("tuple %d mismatch: got %+v want %+v", i, got[i], tuples[i])
		}
	}
}

func TestIsRequest(t *testing.T) {
	if !IsRequest(EncodeRequest()) {
		t.Fatal("expected EncodeRequest output to be recognized as a request")
	}
	if IsRequest(EncodeData(1, 5, nil)) {
		t.Fatal("data packet misclassified as request")
	}
}

func TestTuplesForAppliesSplitHorizon(t *testing.T) {
	table := rib.New()
	table.InsertDirect(netrange.Single(1), "portA")
	table.Learn(rib.Advertisement{Range: netrange.Single(10), Distance: 0}, "portA", 1, 100)

	tuples := TuplesFor(table, "portA")
	for _, tup := range tuples {
		if tup.Range.Equal(netrange.Single(10)) {
			t.Fatal("route learned via portA must not be re-advertised out portA")
		}
	}
	found := false
	for _, tup := range tuples {
		if tup.Range.Equal(netrange.Single(1)) {
			found = true
		}
	}
	if !found {
		t.Fatal("port's own directly-connected range must still be advertised out itself")
	}
}

func TestApplyLearnsRoute(t *testing.T) {
	table := rib.New()
	table.InsertDirect(netrange.Single(1), "portA")
	table.InsertDirect(netrange.Single(2), "portB")

	payload := EncodeData(2, 100, []Tuple{{Range: netrange.Single(10), Distance: 0}})
	changed, err := Apply(table, payload, "portB", 2, 100)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if changed != 1 {
		t.Fatalf("expected 1 change, got %d", changed)
	}
	route, ok := table.Get(netrange.Single(10))
	if !ok {
		t.Fatal("expected route to 10 to exist")
	}
	if route.Distance != 1 || route.NextNode != ddp.Node(100) {
		t.Fatalf("unexpected route %+v", route)
	}
}
