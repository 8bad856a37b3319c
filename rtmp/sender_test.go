package rtmp

import (
	"testing"

	"github.com/lampmerchant/tashrouter/ddp"
	"github.com/lampmerchant/tashrouter/netrange"
	"github.com/lampmerchant/tashrouter/rib"
)

type fakeTransmitter struct {
	id   rib.PortID
	addr ddp.Address
	sent [][]byte
}

func (f *fakeTransmitter) ID() rib.PortID             { return f.id }
func (f *fakeTransmitter) LocalAddress() ddp.Address  { return f.addr }
func (f *fakeTransmitter) BroadcastRTMP(payload []byte) {
	f.sent = append(f.sent, payload)
}

func TestSenderSendEmitsAdvertisement(t *testing.T) {
	table := rib.New()
	table.InsertDirect(netrange.Single(1), "portA")
	tx := &fakeTransmitter{id: "portA", addr: ddp.Address{Network: 1, Node: 5}}

	s := NewSender(table, tx)
	s.Send()

	if len(tx.sent) != 1 {
		t.Fatalf("expected 1 packet sent, got %d", len(tx.sent))
	}
	tuples, err := DecodeData(tx.sent[0])
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(tuples) != 1 || !tuples[0].Range.Equal(netrange.Single(1)) {
		t.Fatalf("unexpected tuples %+v", tuples)
	}
}

func TestSenderSendSkipsEmptyAdvertisement(t *testing.T) {
	table := rib.New()
	tx := &fakeTransmitter{id: "portA", addr: ddp.Address{Network: 1, Node: 5}}
	s := NewSender(table, tx)
	s.Send()
	if len(tx.sent) != 0 {
		t.Fatalf("expected no packets sent for empty table, got %d", len(tx.sent))
	}
}

func TestHandleRequestListsDirectRoutesOnly(t *testing.T) {
	table := rib.New()
	table.InsertDirect(netrange.Single(1), "portA")
	table.Learn(rib.Advertisement{Range: netrange.Single(10), Distance: 0}, "portA", 1, 100)

	tuples := HandleRequest(table, "portA")
	if len(tuples) != 1 || !tuples[0].Range.Equal(netrange.Single(1)) {
		t.Fatalf("expected only directly-connected route, got %+v", tuples)
	}
}
