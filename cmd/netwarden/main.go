// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// netwarden is the LAN security observability daemon. It schedules
// periodic capture sessions, classifies traffic into findings, and
// serves history, live streams and static scans over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/netwarden/internal/analyze"
	"grimm.is/netwarden/internal/api"
	"grimm.is/netwarden/internal/blacklist"
	"grimm.is/netwarden/internal/capture"
	"grimm.is/netwarden/internal/config"
	"grimm.is/netwarden/internal/logging"
	"grimm.is/netwarden/internal/metrics"
	"grimm.is/netwarden/internal/resolve"
	"grimm.is/netwarden/internal/sched"
	"grimm.is/netwarden/internal/staticscan"
	"grimm.is/netwarden/internal/staticscan/probes"
	"grimm.is/netwarden/internal/store"
)

func main() {
	configPath := flag.String("config", "netwarden.yaml", "Path to the YAML configuration file")
	autostart := flag.Bool("autostart", false, "Start the scan scheduler immediately")
	flag.Parse()

	if err := run(*configPath, *autostart); err != nil {
		fmt.Fprintf(os.Stderr, "netwarden: %v\n", err)
		os.Exit(1)
	}
}

// combinedHostlist answers membership against both domain blacklists.
type combinedHostlist struct {
	sets []*blacklist.Set
}

func (c combinedHostlist) Contains(host string) bool {
	for _, s := range c.sets {
		if s.Contains(host) {
			return true
		}
	}
	return false
}

func run(configPath string, autostart bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var logOut io.Writer = os.Stderr
	if cfg.Syslog.Enabled {
		sw, err := logging.NewSyslogWriter(cfg.Syslog)
		if err != nil {
			return fmt.Errorf("failed to connect syslog: %w", err)
		}
		defer sw.Close()
		logOut = io.MultiWriter(os.Stderr, sw)
	}
	logging.SetDefault(logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Output: logOut,
	}))
	logger := logging.WithComponent("main")

	registry := prometheus.NewRegistry()
	m := metrics.New()
	m.Register(registry)

	st, err := store.Open(cfg.Paths.Database, store.Options{
		RecentSize: cfg.RecentBuffer,
		Metrics:    m,
	})
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer st.Close()

	dnsBlacklist, err := blacklist.NewSet(cfg.Paths.DNSBlacklist)
	if err != nil {
		return fmt.Errorf("failed to load dns blacklist: %w", err)
	}
	domainBlacklist, err := blacklist.NewSet(cfg.Paths.DomainBlacklist)
	if err != nil {
		return fmt.Errorf("failed to load domain blacklist: %w", err)
	}
	m.BlacklistSize.Set(float64(dnsBlacklist.Len()))

	countries, err := resolve.NewCountryLookup(cfg.Paths.GeoIPDB)
	if err != nil {
		return fmt.Errorf("failed to open geoip database: %w", err)
	}
	defer countries.Close()
	rdns := resolve.NewReverseDNS(nil, resolve.DefaultCacheSize, resolve.DefaultCacheTTL)
	vendors, err := resolve.NewVendorLookup(cfg.Paths.OUI, true)
	if err != nil {
		return fmt.Errorf("failed to load oui table: %w", err)
	}

	approved := config.LoadApprovedMACs(cfg.Paths.ApprovedDevices)
	dangerous := config.LoadDangerousCountries(cfg.Paths.DangerousCountries)
	hostlist := combinedHostlist{sets: []*blacklist.Set{dnsBlacklist, domainBlacklist}}

	var updater *blacklist.Updater
	if cfg.Blacklist.FeedURL != "" {
		updater = blacklist.NewUpdater(dnsBlacklist, cfg.Blacklist.FeedURL,
			time.Duration(cfg.Blacklist.UpdateIntervalHours)*time.Hour, m)
	}

	manager := sched.NewManager(func(o sched.Overrides) *sched.Scheduler {
		iface := cfg.Capture.Interface
		if o.Interface != "" {
			iface = o.Interface
		}
		duration := cfg.SessionDuration()
		if o.Duration > 0 {
			duration = o.Duration
		}
		interval := cfg.ScanInterval()
		if o.Interval > 0 {
			interval = o.Interval
		}
		sessionApproved := approved
		if len(o.ApprovedMACs) > 0 {
			sessionApproved = make(map[string]bool, len(o.ApprovedMACs))
			for _, mac := range o.ApprovedMACs {
				sessionApproved[mac] = true
			}
		}

		return sched.New(sched.Options{
			Interval:  interval,
			Duration:  duration,
			QueueSize: cfg.Capture.QueueSize,
			Source:    capture.NewLiveSource(iface, m),
			NewAnalyzer: func() *analyze.Analyzer {
				return analyze.New(analyze.Options{
					Sink:               st,
					Countries:          countries,
					Reverse:            rdns,
					Blacklist:          hostlist,
					ApprovedMACs:       sessionApproved,
					DangerousCountries: dangerous,
					Hours:              analyze.HoursWindow{Start: cfg.Hours.Start, End: cfg.Hours.End},
					Traffic: analyze.TrafficTuning{
						SpikeThreshold:     cfg.Traffic.SpikeThreshold,
						ContinuousDuration: time.Duration(cfg.Traffic.ContinuousDuration) * time.Second,
						ContinuousGap:      time.Duration(cfg.Traffic.ContinuousGap) * time.Second,
						MaxSamples:         cfg.Traffic.MaxSamples,
					},
					Metrics: m,
				})
			},
			Updater: updater,
			Metrics: m,
		})
	})

	scanRegistry := staticscan.NewRegistry()
	probes.RegisterAll(scanRegistry)
	scanner := staticscan.NewScanner(scanRegistry,
		time.Duration(cfg.StaticScan.ProbeTimeout)*time.Second, m)

	server := api.New(api.Config{
		Listen:        cfg.API.Listen,
		Token:         cfg.API.Token,
		Controller:    manager,
		Store:         st,
		Scanner:       scanner,
		Vendor:        vendors,
		StaticTarget:  cfg.StaticScan.Target,
		StaticTimeout: time.Duration(cfg.StaticScan.GlobalTimeout) * time.Second,
		ReportDir:     cfg.Paths.ReportDir,
		Registry:      registry,
	})

	if autostart {
		manager.Start(sched.Overrides{})
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	manager.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
