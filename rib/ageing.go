package rib

import (
	"time"

	"github.com/lampmerchant/tashrouter/netrange"
	"github.com/lampmerchant/tashrouter/timer"
)

// AgeStep is the width of one ageing window (Good→Suspect after
// 20s, Suspect→Bad after a further 20s, Bad→Zombie after a further 20s,
// Zombie→removed after a further 20s).
const AgeStep = 20 * time.Second

// stateForAge maps elapsed time since last refresh to the state a
// non-directly-connected route should be in. ok is false once
// the route has aged past Zombie and must be removed entirely.
func stateForAge(elapsed time.Duration) (State, bool) {
	switch {
	case elapsed < AgeStep:
		return Good, true
	case elapsed < 2*AgeStep:
		return Suspect, true
	case elapsed < 3*AgeStep:
		return Bad, true
	case elapsed < 4*AgeStep:
		return Zombie, true
	default:
		return Zombie, false
	}
}

// Sweep advances every non-directly-connected route's State according to
// how long it's been since LastRefreshed, and removes routes that have
// aged past Zombie. A route only moves forward through Good, Suspect, Bad,
// Zombie, removed, or resets straight to Good on refresh. Sweep returns
// the ranges that were removed so callers can also drop any ZIB entries
// that depended on them.
func (t *Table) Sweep(now time.Time) []netrange.Range {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []netrange.Range
	var toDelete []netrange.Range
	t.entries.Each(func(r netrange.Range, route *Route) {
		if route.DirectlyConnected() {
			return
		}
		state, alive := stateForAge(now.Sub(route.LastRefreshed))
		if !alive {
			toDelete = append(toDelete, r)
			return
		}
		route.State = state
	})
	for _, r := range toDelete {
		t.entries.Delete(r)
		removed = append(removed, r)
	}
	return removed
}

// Ager periodically sweeps a Table: a timer.Timer whose callback re-arms
// itself rather than a ticking goroutine, so Stop() composes cleanly with
// the router's shutdown signal.
type Ager struct {
	table    *Table
	interval time.Duration
	onRemove func([]netrange.Range)
	t        *timer.Timer
}

// NewAger creates an Ager that sweeps table every interval, calling
// onRemove with any ranges dropped on each sweep. The ager is not started
// until Start is called.
func NewAger(table *Table, interval time.Duration, onRemove func([]netrange.Range)) *Ager {
	return &Ager{table: table, interval: interval, onRemove: onRemove}
}

// Start begins periodic sweeping.
func (a *Ager) Start() {
	a.t = timer.New(a.interval, a.tick)
}

func (a *Ager) tick() {
	removed := a.table.Sweep(time.Now())
	if len(removed) > 0 && a.onRemove != nil {
		a.onRemove(removed)
	}
	a.t.ResetTo(a.interval)
}

// Stop halts the ager. Safe to call even if Start was never called.
func (a *Ager) Stop() {
	if a.t != nil {
		a.t.Stop()
	}
}
