package zip

import (
	"testing"
	"time"

	"github.com/lampmerchant/tashrouter/ddp"
	"github.com/lampmerchant/tashrouter/netrange"
	"github.com/lampmerchant/tashrouter/rib"
	"github.com/lampmerchant/tashrouter/zib"
)

type fakeTransmitter struct {
	sent []ddp.Address
}

func (f *fakeTransmitter) SendZIP(dst ddp.Address, payload []byte) {
	f.sent = append(f.sent, dst)
}

func TestSenderQueriesRoutesWithoutZones(t *testing.T) {
	ribTable := rib.New()
	ribTable.InsertDirect(netrange.Single(1), "portA")
	ribTable.Learn(rib.Advertisement{Range: netrange.Single(10), Distance: 0}, "portA", 1, 100)
	zibTable := zib.New()
	tx := &fakeTransmitter{}

	s := NewSender(ribTable, zibTable, tx)
	s.Tick()

	if len(tx.sent) != 1 {
		t.Fatalf("expected 1 query sent, got %d", len(tx.sent))
	}
	if tx.sent[0].Node != ddp.Node(100) {
		t.Fatalf("expected query directed at neighbor node 100, got %d", tx.sent[0].Node)
	}
}

func TestSenderDoesNotReQueryWithinTimeout(t *testing.T) {
	ribTable := rib.New()
	ribTable.Learn(rib.Advertisement{Range: netrange.Single(10), Distance: 0}, "portA", 1, 100)
	zibTable := zib.New()
	tx := &fakeTransmitter{}

	s := NewSender(ribTable, zibTable, tx)
	s.Tick()
	s.Tick()

	if len(tx.sent) != 1 {
		t.Fatalf("expected query to be rate-limited, got %d sends", len(tx.sent))
	}
}

func TestSenderSkipsRangesWithKnownZones(t *testing.T) {
	ribTable := rib.New()
	ribTable.Learn(rib.Advertisement{Range: netrange.Single(10), Distance: 0}, "portA", 1, 100)
	zibTable := zib.New()
	zibTable.Learn(netrange.Single(10), zib.Zone("Finance"), true)
	tx := &fakeTransmitter{}

	s := NewSender(ribTable, zibTable, tx)
	s.Tick()

	if len(tx.sent) != 0 {
		t.Fatalf("expected no query for a range with known zones, got %d", len(tx.sent))
	}
}

func TestSenderReQueriesAfterTimeout(t *testing.T) {
	ribTable := rib.New()
	ribTable.Learn(rib.Advertisement{Range: netrange.Single(10), Distance: 0}, "portA", 1, 100)
	zibTable := zib.New()
	tx := &fakeTransmitter{}

	s := NewSender(ribTable, zibTable, tx)
	base := time.Now()
	s.now = func() time.Time { return base }
	s.Tick()
	s.now = func() time.Time { return base.Add(queryTimeout + time.Second) }
	s.Tick()

	if len(tx.sent) != 2 {
		t.Fatalf("expected re-query after timeout, got %d sends", len(tx.sent))
	}
}
