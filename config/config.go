// Package config holds the router's tunable timing constants as a plain
// struct of knobs with protocol defaults. There is no parsing here;
// whatever builds the router (cmd/tashrouter, tests) fills the struct in
// directly.
package config

import "time"

// Config carries every protocol interval the router, its ports, and its
// services consult. Default fills in the standard timings; fields are used
// as they are, so a zero-valued field is not replaced with its default.
// Tests start from Default and shrink fields to run the acquisition
// machinery in milliseconds.
type Config struct {
	// RTMPSendInterval is how often each Online port re-advertises its
	// routing table.
	RTMPSendInterval time.Duration

	// AgeingInterval is the RIB ager's sweep period; each sweep sets every
	// learned route's state (Good, Suspect, Bad, Zombie, removed) from the
	// time since its last refresh, in fixed rib.AgeStep windows.
	AgeingInterval time.Duration

	// ZIPQueryInterval is how often the ZIP sender scans the RIB for ranges
	// with no known zones.
	ZIPQueryInterval time.Duration

	// ZIPQueryTimeout is how long one outstanding ZIP query suppresses
	// re-querying the same (next hop, range) pair.
	ZIPQueryTimeout time.Duration

	// AARPProbeInterval is the wait after each AARP probe for a conflicting
	// response before the candidate address is considered free.
	AARPProbeInterval time.Duration

	// AARPProbeCount is how many probes are sent before the candidate
	// address is adopted.
	AARPProbeCount int

	// AARPRetryLimit is how many distinct candidate node numbers a port
	// tries before giving up with an address-in-use error.
	AARPRetryLimit int

	// AMTEntryTTL is how long an unused AARP mapping survives.
	AMTEntryTTL time.Duration

	// AMTSize bounds the number of AARP mappings kept per port.
	AMTSize int

	// PortStartupTimeout bounds how long a non-seeded port may wait for
	// network evidence before failing its start.
	PortStartupTimeout time.Duration

	// StopTimeout bounds how long Stop waits for ports and services to
	// settle.
	StopTimeout time.Duration
}

// Default returns a Config carrying the protocol's standard timings.
func Default() *Config {
	return &Config{
		RTMPSendInterval:   10 * time.Second,
		AgeingInterval:     20 * time.Second,
		ZIPQueryInterval:   10 * time.Second,
		ZIPQueryTimeout:    10 * time.Second,
		AARPProbeInterval:  200 * time.Millisecond,
		AARPProbeCount:     10,
		AARPRetryLimit:     10,
		AMTEntryTTL:        30 * time.Second,
		AMTSize:            1024,
		PortStartupTimeout: 60 * time.Second,
		StopTimeout:        2 * time.Second,
	}
}
