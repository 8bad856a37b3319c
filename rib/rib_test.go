package rib

import (
	"testing"
	"time"

	"github.com/lampmerchant/tashrouter/netrange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertDirectAndLookup(t *testing.T) {
	rt := New()
	rt.InsertDirect(netrange.Single(1), "portA")

	route, ok := rt.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, uint8(0), route.Distance)
	assert.True(t, route.DirectlyConnected())
	assert.Equal(t, PortID("portA"), route.Port)
}

func TestLearnInsertsNewRoute(t *testing.T) {
	rt := New()
	rt.InsertDirect(netrange.Single(1), "portA")
	rt.InsertDirect(netrange.Single(2), "portB")

	changed := rt.Learn(Advertisement{Range: netrange.Single(10), Distance: 0}, "portB", 2, 100)
	require.True(t, changed)

	route, ok := rt.Get(netrange.Single(10))
	require.True(t, ok)
	assert.EqualValues(t, 1, route.Distance)
	assert.EqualValues(t, 2, route.NextNetwork)
	assert.EqualValues(t, 100, route.NextNode)
	assert.Equal(t, PortID("portB"), route.Port)
	assert.Equal(t, Good, route.State)
}

func TestLearnKeepsBetterExistingRoute(t *testing.T) {
	rt := New()
	rt.Learn(Advertisement{Range: netrange.Single(10), Distance: 0}, "portB", 2, 100)
	// A worse route via a different neighbor must not displace the better one.
	changed := rt.Learn(Advertisement{Range: netrange.Single(10), Distance: 5}, "portC", 3, 50)
	assert.False(t, changed)

	route, _ := rt.Get(netrange.Single(10))
	assert.EqualValues(t, 100, route.NextNode)
}

func TestLearnRefreshesSameNeighbor(t *testing.T) {
	rt := New()
	rt.Learn(Advertisement{Range: netrange.Single(10), Distance: 0}, "portB", 2, 100)
	route, _ := rt.Get(netrange.Single(10))
	route.State = Suspect
	route.LastRefreshed = time.Now().Add(-30 * time.Second)

	changed := rt.Learn(Advertisement{Range: netrange.Single(10), Distance: 0}, "portB", 2, 100)
	require.True(t, changed)
	route, _ = rt.Get(netrange.Single(10))
	assert.Equal(t, Good, route.State)
	assert.WithinDuration(t, time.Now(), route.LastRefreshed, time.Second)
}

func TestLearnWithdrawalByNeighborSurvivesSweep(t *testing.T) {
	rt := New()
	base := time.Now()
	rt.now = func() time.Time { return base }
	rt.Learn(Advertisement{Range: netrange.Single(10), Distance: 0}, "portB", 2, 100)

	// The same neighbor re-advertises the route as unreachable.
	changed := rt.Learn(Advertisement{Range: netrange.Single(10), Distance: MaxDistance}, "portB", 2, 100)
	require.True(t, changed)
	route, _ := rt.Get(netrange.Single(10))
	assert.Equal(t, Zombie, route.State)
	assert.EqualValues(t, Unreachable, route.EffectiveDistance())

	// The withdrawal must stick across a sweep, not revert to Good.
	removed := rt.Sweep(base)
	assert.Empty(t, removed)
	route, ok := rt.Get(netrange.Single(10))
	require.True(t, ok)
	assert.Equal(t, Zombie, route.State)

	// One ageing window later the zombie is reaped.
	removed = rt.Sweep(base.Add(AgeStep))
	assert.Len(t, removed, 1)
	_, ok = rt.Get(netrange.Single(10))
	assert.False(t, ok)
}

func TestLearnRejectsUnreachableCandidate(t *testing.T) {
	rt := New()
	changed := rt.Learn(Advertisement{Range: netrange.Single(10), Distance: MaxDistance}, "portB", 2, 100)
	assert.False(t, changed)
	_, ok := rt.Get(netrange.Single(10))
	assert.False(t, ok)
}

func TestLearnRejectsOverlappingRange(t *testing.T) {
	rt := New()
	rt.InsertDirect(netrange.Range{Min: 10, Max: 20}, "portA")
	changed := rt.Learn(Advertisement{Range: netrange.Range{Min: 15, Max: 25}, Distance: 0}, "portB", 2, 100)
	assert.False(t, changed)
}

func TestAgeingProgression(t *testing.T) {
	rt := New()
	rt.Learn(Advertisement{Range: netrange.Single(10), Distance: 0}, "portB", 2, 100)

	base := time.Now()
	cases := []struct {
		elapsed time.Duration
		want    State
		alive   bool
	}{
		{5 * time.Second, Good, true},
		{25 * time.Second, Suspect, true},
		{45 * time.Second, Bad, true},
		{65 * time.Second, Zombie, true},
		{85 * time.Second, Zombie, false},
	}
	for _, c := range cases {
		route, _ := rt.Get(netrange.Single(10))
		if route == nil {
			t.Fatalf("route unexpectedly removed before elapsed=%s", c.elapsed)
		}
		route.LastRefreshed = base.Add(-c.elapsed)
		removed := rt.Sweep(base)
		if !c.alive {
			assert.Len(t, removed, 1)
			_, ok := rt.Get(netrange.Single(10))
			assert.False(t, ok)
			continue
		}
		route, ok := rt.Get(netrange.Single(10))
		require.True(t, ok)
		assert.Equal(t, c.want, route.State)
		if c.want == Zombie {
			assert.EqualValues(t, Unreachable, route.EffectiveDistance())
		}
	}
}

func TestSweepIgnoresDirectRoutes(t *testing.T) {
	rt := New()
	rt.InsertDirect(netrange.Single(1), "portA")
	route, _ := rt.Get(netrange.Single(1))
	route.LastRefreshed = time.Now().Add(-1 * time.Hour)

	removed := rt.Sweep(time.Now())
	assert.Empty(t, removed)
	route, ok := rt.Get(netrange.Single(1))
	require.True(t, ok)
	assert.Equal(t, Good, route.State)
}

func TestRemoveByPort(t *testing.T) {
	rt := New()
	rt.InsertDirect(netrange.Single(1), "portA")
	rt.Learn(Advertisement{Range: netrange.Single(10), Distance: 0}, "portA", 1, 5)

	rt.RemoveByPort("portA")
	_, ok := rt.Get(netrange.Single(1))
	assert.False(t, ok)
	_, ok = rt.Get(netrange.Single(10))
	assert.False(t, ok)
}
