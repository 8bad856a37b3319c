// Command tashrouter runs an AppleTalk internet router over one or more
// LToUDP ports. It is illustrative wiring for the library: parse port
// specs, build a Router, run until interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lampmerchant/tashrouter/config"
	"github.com/lampmerchant/tashrouter/link"
	"github.com/lampmerchant/tashrouter/netrange"
	"github.com/lampmerchant/tashrouter/port"
	"github.com/lampmerchant/tashrouter/router"
	"github.com/lampmerchant/tashrouter/zib"
)

var (
	portSpecs []string
	debug     bool
)

var rootCmd = &cobra.Command{
	Use:   "tashrouter",
	Short: "An AppleTalk internet router speaking RTMP, ZIP, NBP, and AEP",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringArrayVar(&portSpecs, "ltoudp", nil,
		"LToUDP port spec: name[=network[:zone]] (repeatable; omit network for a non-seeded port)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func run(cmd *cobra.Command, args []string) error {
	if len(portSpecs) == 0 {
		return fmt.Errorf("at least one --ltoudp port is required")
	}

	log := logrus.New()
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg := config.Default()
	r := router.New(cfg, log)

	for _, spec := range portSpecs {
		settings, err := parsePortSpec(spec)
		if err != nil {
			return err
		}
		driver, err := link.DialLToUDP(logrus.NewEntry(log).WithField("link", settings.Name))
		if err != nil {
			return err
		}
		settings.Driver = driver
		r.AddPort(port.New(settings, cfg, logrus.NewEntry(log)))
	}

	r.Start()
	defer r.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	return nil
}

// parsePortSpec parses "name[=network[:zone]]".
func parsePortSpec(spec string) (port.Settings, error) {
	s := port.Settings{}
	name, rest, seeded := strings.Cut(spec, "=")
	if name == "" {
		return s, fmt.Errorf("port spec %q: empty name", spec)
	}
	s.Name = name
	if !seeded {
		return s, nil
	}

	netPart, zone, hasZone := strings.Cut(rest, ":")
	n, err := strconv.ParseUint(netPart, 10, 16)
	if err != nil {
		return s, fmt.Errorf("port spec %q: bad network number: %v", spec, err)
	}
	if !netrange.NetNum(n).Valid() {
		return s, fmt.Errorf("port spec %q: network %d out of range", spec, n)
	}
	s.SeedRange = netrange.Single(netrange.NetNum(n))
	if hasZone && zone != "" {
		s.SeedZones = []zib.Zone{zib.Zone(zone)}
	}
	return s, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
