package port

import (
	"net"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/lampmerchant/tashrouter/ddp"
	"github.com/lampmerchant/tashrouter/netrange"
)

type amtKey struct {
	net  netrange.NetNum
	node ddp.Node
}

// AMT is a port's AARP mapping table: (network, node) to MAC, populated by
// observed traffic and probe responses, with entries expiring after a TTL
// of no use. The expirable LRU gives both the bound and the
// time-based eviction; Resolve re-inserts on hit so the TTL measures idle
// time rather than age.
type AMT struct {
	cache *expirable.LRU[amtKey, net.HardwareAddr]
}

// newAMT builds an AMT holding at most size entries for ttl each.
func newAMT(size int, ttl time.Duration) *AMT {
	return &AMT{cache: expirable.NewLRU[amtKey, net.HardwareAddr](size, nil, ttl)}
}

// Learn records that (n, node) was observed at hw.
func (a *AMT) Learn(n netrange.NetNum, node ddp.Node, hw net.HardwareAddr) {
	a.cache.Add(amtKey{net: n, node: node}, hw)
}

// Resolve returns the MAC last observed for (n, node), refreshing the
// entry's TTL on hit.
func (a *AMT) Resolve(n netrange.NetNum, node ddp.Node) (net.HardwareAddr, bool) {
	k := amtKey{net: n, node: node}
	hw, ok := a.cache.Get(k)
	if ok {
		a.cache.Add(k, hw)
	}
	return hw, ok
}

// Len reports how many mappings are live.
func (a *AMT) Len() int { return a.cache.Len() }
