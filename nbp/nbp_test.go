package nbp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lampmerchant/tashrouter/ddp"
	"github.com/lampmerchant/tashrouter/zib"
)

func TestEntityWildcardMatching(t *testing.T) {
	e := Entity{Object: "Accounting", Type: "AFPServer", Zone: "Finance"}
	assert.True(t, e.Matches(Entity{Object: "=", Type: "AFPServer", Zone: "Finance"}))
	assert.True(t, e.Matches(Entity{Object: "=", Type: "=", Zone: "="}))
	assert.False(t, e.Matches(Entity{Object: "Sales", Type: "AFPServer", Zone: "Finance"}))
	assert.False(t, e.Matches(Entity{Object: "=", Type: "LaserWriter", Zone: "Finance"}))
}

func TestPacketRoundTrip(t *testing.T) {
	pkt := &Packet{
		Func:  FuncBrRq,
		ReqID: 42,
		Tuples: []Tuple{{
			Enumerator: 1,
			Addr:       ddp.Address{Network: 10, Node: 30, Socket: 200},
			Entity:     Entity{Object: "=", Type: "AFPServer", Zone: "Finance"},
		}},
	}
	got, err := Decode(pkt.Encode())
	require.NoError(t, err)
	assert.EqualValues(t, FuncBrRq, got.Func)
	assert.EqualValues(t, 42, got.ReqID)
	require.Len(t, got.Tuples, 1)
	assert.Equal(t, pkt.Tuples[0], got.Tuples[0])
}

func TestDecodeRejectsTruncatedTuple(t *testing.T) {
	pkt := &Packet{
		Func:   FuncLkUp,
		ReqID:  1,
		Tuples: []Tuple{{Entity: Entity{Object: "x", Type: "y", Zone: "z"}}},
	}
	buf := pkt.Encode()
	_, err := Decode(buf[:len(buf)-2])
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestAsLkUpAndAsFwdReqDoNotMutate(t *testing.T) {
	pkt := &Packet{Func: FuncBrRq, ReqID: 3}
	lk := pkt.AsLkUp()
	fw := pkt.AsFwdReq()
	assert.EqualValues(t, FuncBrRq, pkt.Func)
	assert.EqualValues(t, FuncLkUp, lk.Func)
	assert.EqualValues(t, FuncFwdReq, fw.Func)
}

type fakeZoneServer struct {
	local  map[string]bool
	router map[string]ddp.Address
}

func (f *fakeZoneServer) IsLocalZone(ingressPort string, zone zib.Zone) bool {
	return f.local[string(zone)]
}

func (f *fakeZoneServer) RouterFor(zone zib.Zone) (ddp.Address, bool) {
	a, ok := f.router[string(zone)]
	return a, ok
}

func TestRouteBrRqDecisions(t *testing.T) {
	srv := &fakeZoneServer{
		local:  map[string]bool{"Office": true},
		router: map[string]ddp.Address{"Finance": {Network: 2, Node: 100, Socket: 2}},
	}

	dec := RouteBrRq(srv, "A", zib.Zone("Office"))
	assert.Equal(t, ActionBroadcastLocal, dec.Action)

	dec = RouteBrRq(srv, "A", zib.Zone("Finance"))
	assert.Equal(t, ActionForward, dec.Action)
	assert.EqualValues(t, 100, dec.Next.Node)

	dec = RouteBrRq(srv, "A", zib.Zone("Nowhere"))
	assert.Equal(t, ActionDrop, dec.Action)
}
