// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package analyze

import (
	"context"
	"strings"
	"sync"
	"time"

	"grimm.is/netwarden/internal/logging"
	"grimm.is/netwarden/internal/metrics"
)

// Country is a GeoIP lookup result.
type Country struct {
	Code string // ISO-3166-1 alpha-2, uppercase
	Name string
}

// CountryResolver looks up the country for an IP address.
type CountryResolver interface {
	Country(ctx context.Context, ip string) (*Country, error)
}

// ReverseResolver resolves an IP address to a hostname.
type ReverseResolver interface {
	Reverse(ctx context.Context, ip string) (string, error)
}

// Hostlist answers blacklist membership for a hostname.
type Hostlist interface {
	Contains(host string) bool
}

// Sink receives the analyzer's output. The store implements it.
type Sink interface {
	SaveFinding(f *Finding) error
	SaveDNS(ip, hostname string, blacklisted bool) error
	// RecordDevice registers a MAC address, returning true when it was
	// never seen before.
	RecordDevice(mac string) (bool, error)
}

// HoursWindow is the business-hours interval [Start, End).
type HoursWindow struct {
	Start int
	End   int
}

// Options configures an analyzer session. Resolvers are optional; absent
// resolvers leave the corresponding annotations unevaluated.
type Options struct {
	Sink               Sink
	Countries          CountryResolver
	Reverse            ReverseResolver
	Blacklist          Hostlist
	ApprovedMACs       map[string]bool
	DangerousCountries map[string]bool
	Hours              HoursWindow
	Traffic            TrafficTuning
	Logger             *logging.Logger
	Metrics            *metrics.Metrics
}

// Analyzer applies the classification pipeline to each observation. All
// per-session state (traffic accumulators) is constructed per instance;
// the global first-seen device set lives behind the Sink.
type Analyzer struct {
	sink      Sink
	countries CountryResolver
	reverse   ReverseResolver
	blacklist Hostlist
	approved  map[string]bool
	dangerous map[string]bool
	hours     HoursWindow
	traffic   *TrafficDetector
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// New creates an analyzer session.
func New(opts Options) *Analyzer {
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent("analyze")
	}
	return &Analyzer{
		sink:      opts.Sink,
		countries: opts.Countries,
		reverse:   opts.Reverse,
		blacklist: opts.Blacklist,
		approved:  opts.ApprovedMACs,
		dangerous: opts.DangerousCountries,
		hours:     opts.Hours,
		traffic:   NewTrafficDetector(opts.Traffic),
		logger:    logger,
		metrics:   opts.Metrics,
	}
}

// Run consumes observations until the channel closes or the context is
// cancelled. Cancellation is only honored once the queue is empty:
// observations captured before a stop are still processed and persisted.
// Per-observation errors never terminate the loop.
func (a *Analyzer) Run(ctx context.Context, in <-chan Observation) error {
	for {
		select {
		case obs, ok := <-in:
			if !ok {
				return nil
			}
			a.process(ctx, obs)
		default:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case obs, ok := <-in:
				if !ok {
					return nil
				}
				a.process(ctx, obs)
			}
		}
	}
}

// process runs every sub-step over one observation and persists the
// merged finding. GeoIP and reverse DNS may block on I/O, so they run on
// workers while the cheap sub-steps execute inline.
func (a *Analyzer) process(ctx context.Context, obs Observation) {
	var geoAnn, dnsAnn annotation
	var wg sync.WaitGroup

	if obs.SrcIP != "" {
		if a.countries != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				geoAnn = a.annotateCountry(ctx, obs.SrcIP)
			}()
		}
		if a.reverse != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				dnsAnn = a.annotateReverse(ctx, obs.SrcIP)
			}()
		}
	}

	protoAnn := annotation{
		dangerousProtocol: boolPtr(IsDangerousProtocol(obs.Protocol, obs.SrcPort, obs.DstPort)),
	}

	var devAnn annotation
	if obs.SrcMAC != "" {
		mac := strings.ToLower(obs.SrcMAC)
		if isNew, err := a.sink.RecordDevice(mac); err != nil {
			a.logger.Info("device registration failed", "mac", mac, "error", err)
		} else {
			devAnn.newDevice = boolPtr(isNew)
			if isNew && a.metrics != nil {
				a.metrics.DevicesSeen.Inc()
			}
		}
		devAnn.unapprovedDevice = boolPtr(!a.approved[mac])
	}

	var trafficAnn annotation
	if key := trafficKey(obs); key != "" {
		trafficAnn.trafficAnomaly = boolPtr(a.traffic.Observe(key, int64(obs.Size), obs.timestampOrNow()))
	}

	hoursAnn := annotation{
		outOfHours: boolPtr(OutOfHours(obs.timestampOrNow().Hour(), a.hours.Start, a.hours.End)),
	}

	wg.Wait()

	f := merge(obs, geoAnn, dnsAnn, protoAnn, devAnn, trafficAnn, hoursAnn)
	if err := a.sink.SaveFinding(f); err != nil {
		a.logger.Error("failed to persist finding", "source", f.Source(), "error", err)
	}
}

// annotateCountry resolves GeoIP for the source IP. The annotation is
// atomic: either geoip, country_code and dangerous_country all resolve,
// or none of them appear.
func (a *Analyzer) annotateCountry(ctx context.Context, ip string) annotation {
	country, err := a.countries.Country(ctx, ip)
	if err != nil || country == nil || country.Code == "" {
		if err != nil {
			a.logger.Info("geoip lookup failed", "ip", ip, "error", err)
			if a.metrics != nil {
				a.metrics.ResolverFailures.WithLabelValues("geoip").Inc()
			}
		}
		return annotation{}
	}

	name := country.Name
	if name == "" {
		name = country.Code
	}
	return annotation{
		geoIP:            &GeoIP{Country: name, IP: ip},
		countryCode:      country.Code,
		dangerousCountry: boolPtr(a.dangerous[country.Code]),
	}
}

// annotateReverse resolves the PTR name for the source IP, records one
// DNS history row and checks blacklist membership.
func (a *Analyzer) annotateReverse(ctx context.Context, ip string) annotation {
	host, err := a.reverse.Reverse(ctx, ip)
	if err != nil || host == "" {
		if err != nil {
			a.logger.Info("reverse dns lookup failed", "ip", ip, "error", err)
			if a.metrics != nil {
				a.metrics.ResolverFailures.WithLabelValues("reverse_dns").Inc()
			}
		}
		return annotation{}
	}

	blacklisted := a.blacklist != nil && a.blacklist.Contains(host)
	if err := a.sink.SaveDNS(ip, host, blacklisted); err != nil {
		a.logger.Info("failed to record dns history", "ip", ip, "error", err)
	}
	return annotation{
		reverseDNS:            host,
		reverseDNSBlacklisted: boolPtr(blacklisted),
	}
}

func trafficKey(obs Observation) string {
	if obs.SrcIP != "" {
		return obs.SrcIP
	}
	return obs.SrcMAC
}

func (o Observation) timestampOrNow() time.Time {
	if o.Timestamp.IsZero() {
		return time.Now()
	}
	return o.Timestamp
}
