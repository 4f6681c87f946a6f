// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all netwarden Prometheus metrics
type Metrics struct {
	// Dynamic-scan pipeline
	PacketsCaptured  prometheus.Counter
	PacketsParsed    prometheus.Counter
	FindingsSaved    prometheus.Counter
	DevicesSeen      prometheus.Counter
	SessionsStarted  prometheus.Counter
	SessionsFailed   prometheus.Counter
	ResolverFailures *prometheus.CounterVec

	// Subscriber fan-out
	Subscribers     prometheus.Gauge
	SubscriberDrops prometheus.Counter

	// Static scan
	ProbesRun      *prometheus.CounterVec
	ProbeTimeouts  prometheus.Counter
	BlacklistSize  prometheus.Gauge
	BlacklistMerge prometheus.Counter
}

// New creates the netwarden metrics set.
func New() *Metrics {
	return &Metrics{
		PacketsCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netwarden_packets_captured_total",
			Help: "Total number of packets handed to the parser",
		}),
		PacketsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netwarden_packets_parsed_total",
			Help: "Total number of observations produced by the parser",
		}),
		FindingsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netwarden_findings_saved_total",
			Help: "Total number of findings persisted to the history store",
		}),
		DevicesSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netwarden_devices_first_seen_total",
			Help: "Total number of first-seen device registrations",
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netwarden_scan_sessions_started_total",
			Help: "Total number of dynamic-scan sessions started",
		}),
		SessionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netwarden_scan_sessions_failed_total",
			Help: "Total number of dynamic-scan sessions that ended in error",
		}),
		ResolverFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netwarden_resolver_failures_total",
			Help: "Resolver lookup failures by resolver name",
		}, []string{"resolver"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netwarden_subscribers",
			Help: "Currently connected finding/device-alert subscribers",
		}),
		SubscriberDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netwarden_subscriber_drops_total",
			Help: "Messages dropped because a subscriber queue was full",
		}),
		ProbesRun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netwarden_static_probes_total",
			Help: "Static-scan probe executions by outcome",
		}, []string{"outcome"}),
		ProbeTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netwarden_static_probe_timeouts_total",
			Help: "Static-scan probes that exceeded their per-probe timeout",
		}),
		BlacklistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netwarden_blacklist_domains",
			Help: "Number of domains in the active DNS blacklist",
		}),
		BlacklistMerge: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netwarden_blacklist_merges_total",
			Help: "Successful blacklist feed merges",
		}),
	}
}

// Register registers every metric with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.PacketsCaptured,
		m.PacketsParsed,
		m.FindingsSaved,
		m.DevicesSeen,
		m.SessionsStarted,
		m.SessionsFailed,
		m.ResolverFailures,
		m.Subscribers,
		m.SubscriberDrops,
		m.ProbesRun,
		m.ProbeTimeouts,
		m.BlacklistSize,
		m.BlacklistMerge,
	)
}
