// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu       sync.Mutex
	findings []*Finding
	dns      []string
	devices  map[string]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{devices: make(map[string]bool)}
}

func (s *fakeSink) SaveFinding(f *Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, f)
	return nil
}

func (s *fakeSink) SaveDNS(ip, hostname string, blacklisted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dns = append(s.dns, fmt.Sprintf("%s=%s/%v", ip, hostname, blacklisted))
	return nil
}

func (s *fakeSink) RecordDevice(mac string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.devices[mac] {
		return false, nil
	}
	s.devices[mac] = true
	return true, nil
}

func (s *fakeSink) last(t *testing.T) *Finding {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.findings)
	return s.findings[len(s.findings)-1]
}

type fakeCountries struct {
	code string
	name string
	err  error
}

func (c *fakeCountries) Country(ctx context.Context, ip string) (*Country, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &Country{Code: c.code, Name: c.name}, nil
}

type fakeReverse struct {
	host string
	err  error
}

func (r *fakeReverse) Reverse(ctx context.Context, ip string) (string, error) {
	return r.host, r.err
}

type fakeHostlist map[string]bool

func (h fakeHostlist) Contains(host string) bool { return h[host] }

func runOne(t *testing.T, a *Analyzer, obs Observation) {
	t.Helper()
	in := make(chan Observation, 1)
	in <- obs
	close(in)
	require.NoError(t, a.Run(context.Background(), in))
}

func TestAnalyzerAnnotatesObservation(t *testing.T) {
	sink := newFakeSink()
	a := New(Options{
		Sink:               sink,
		Countries:          &fakeCountries{code: "RU", name: "Russia"},
		Reverse:            &fakeReverse{host: "evil.example.com"},
		Blacklist:          fakeHostlist{"evil.example.com": true},
		ApprovedMACs:       map[string]bool{"aa:bb:cc:dd:ee:ff": true},
		DangerousCountries: map[string]bool{"RU": true},
		Hours:              HoursWindow{Start: 9, End: 17},
	})

	runOne(t, a, Observation{
		SrcMAC:    "AA:BB:CC:DD:EE:FF",
		SrcIP:     "203.0.113.9",
		DstIP:     "192.168.1.10",
		Protocol:  "telnet",
		SrcPort:   50000,
		DstPort:   23,
		Size:      120,
		Timestamp: time.Date(2026, 3, 2, 14, 0, 0, 0, time.Local),
	})

	f := sink.last(t)
	require.NotNil(t, f.GeoIP)
	assert.Equal(t, "Russia", f.GeoIP.Country)
	assert.Equal(t, "203.0.113.9", f.GeoIP.IP)
	assert.Equal(t, "RU", f.CountryCode)
	require.NotNil(t, f.DangerousCountry)
	assert.True(t, *f.DangerousCountry)
	assert.Equal(t, "evil.example.com", f.ReverseDNS)
	require.NotNil(t, f.ReverseDNSBlacklisted)
	assert.True(t, *f.ReverseDNSBlacklisted)
	require.NotNil(t, f.DangerousProtocol)
	assert.True(t, *f.DangerousProtocol)
	require.NotNil(t, f.NewDevice)
	assert.True(t, *f.NewDevice)
	require.NotNil(t, f.UnapprovedDevice)
	assert.False(t, *f.UnapprovedDevice)
	require.NotNil(t, f.TrafficAnomaly)
	assert.False(t, *f.TrafficAnomaly)
	require.NotNil(t, f.OutOfHours)
	assert.False(t, *f.OutOfHours)

	assert.Equal(t, []string{"203.0.113.9=evil.example.com/true"}, sink.dns)
}

func TestAnalyzerResolverFailureLeavesFieldsAbsent(t *testing.T) {
	sink := newFakeSink()
	a := New(Options{
		Sink:      sink,
		Countries: &fakeCountries{err: fmt.Errorf("geoip database unavailable")},
		Reverse:   &fakeReverse{err: fmt.Errorf("nxdomain")},
		Hours:     HoursWindow{Start: 9, End: 17},
	})

	runOne(t, a, Observation{
		SrcIP:     "198.51.100.7",
		Protocol:  "udp",
		Size:      64,
		Timestamp: time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local),
	})

	f := sink.last(t)
	assert.Nil(t, f.GeoIP)
	assert.Empty(t, f.CountryCode)
	assert.Nil(t, f.DangerousCountry)
	assert.Empty(t, f.ReverseDNS)
	assert.Nil(t, f.ReverseDNSBlacklisted)
	require.NotNil(t, f.DangerousProtocol)
	assert.False(t, *f.DangerousProtocol)
	assert.Empty(t, sink.dns)

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dangerous_country")
	assert.NotContains(t, string(data), "reverse_dns")
	assert.NotContains(t, string(data), "geoip")
}

func TestAnalyzerNewDeviceOnlyOnFirstSighting(t *testing.T) {
	sink := newFakeSink()
	a := New(Options{Sink: sink, Hours: HoursWindow{Start: 9, End: 17}})

	obs := Observation{
		SrcMAC:    "11:22:33:44:55:66",
		Size:      100,
		Timestamp: time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local),
	}
	in := make(chan Observation, 2)
	in <- obs
	in <- obs
	close(in)
	require.NoError(t, a.Run(context.Background(), in))

	require.Len(t, sink.findings, 2)
	require.NotNil(t, sink.findings[0].NewDevice)
	assert.True(t, *sink.findings[0].NewDevice)
	require.NotNil(t, sink.findings[1].NewDevice)
	assert.False(t, *sink.findings[1].NewDevice)

	// Unapproved since the MAC is not in the approved set.
	require.NotNil(t, sink.findings[0].UnapprovedDevice)
	assert.True(t, *sink.findings[0].UnapprovedDevice)
}

func TestAnalyzerSkipsDeviceStepsWithoutMAC(t *testing.T) {
	sink := newFakeSink()
	a := New(Options{Sink: sink, Hours: HoursWindow{Start: 9, End: 17}})

	runOne(t, a, Observation{
		SrcIP:     "192.0.2.4",
		Size:      10,
		Timestamp: time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local),
	})

	f := sink.last(t)
	assert.Nil(t, f.NewDevice)
	assert.Nil(t, f.UnapprovedDevice)
}

func TestAnalyzerOutOfHoursBoundaries(t *testing.T) {
	cases := []struct {
		hour int
		want bool
	}{
		{8, true},
		{9, false},
		{16, false},
		{17, true},
		{23, true},
	}
	for _, tc := range cases {
		sink := newFakeSink()
		a := New(Options{Sink: sink, Hours: HoursWindow{Start: 9, End: 17}})
		runOne(t, a, Observation{
			SrcIP:     "192.0.2.1",
			Size:      1,
			Timestamp: time.Date(2026, 3, 2, tc.hour, 30, 0, 0, time.Local),
		})
		f := sink.last(t)
		require.NotNil(t, f.OutOfHours, "hour %d", tc.hour)
		assert.Equal(t, tc.want, *f.OutOfHours, "hour %d", tc.hour)
	}
}

func TestAnalyzerStopsOnContextCancel(t *testing.T) {
	sink := newFakeSink()
	a := New(Options{Sink: sink})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := make(chan Observation)
	assert.ErrorIs(t, a.Run(ctx, in), context.Canceled)
}

func TestAnalyzerDrainsQueueAfterCancel(t *testing.T) {
	sink := newFakeSink()
	a := New(Options{Sink: sink})

	in := make(chan Observation, 10)
	for i := 0; i < 10; i++ {
		in <- Observation{SrcIP: fmt.Sprintf("192.168.1.%d", i), Protocol: "tcp", Size: 100}
	}
	close(in)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Everything already queued when the session stops must still be
	// processed and persisted; only then does cancellation take effect.
	assert.NoError(t, a.Run(ctx, in))
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.findings, 10)
}

func TestIsDangerousProtocol(t *testing.T) {
	assert.True(t, IsDangerousProtocol("telnet", 0, 0))
	assert.True(t, IsDangerousProtocol("TELNET", 0, 0))
	assert.True(t, IsDangerousProtocol("FTP", 0, 0))
	assert.True(t, IsDangerousProtocol("tcp", 445, 0))
	assert.True(t, IsDangerousProtocol("tcp", 0, 3389))
	assert.True(t, IsDangerousProtocol("", 2323, 0))
	assert.False(t, IsDangerousProtocol("https", 443, 51000))
	assert.False(t, IsDangerousProtocol("", 0, 0))
}

func TestMergePrefersFirstNonAbsent(t *testing.T) {
	obs := Observation{SrcIP: "10.0.0.1", Size: 5}
	f := merge(obs,
		annotation{dangerousProtocol: boolPtr(true)},
		annotation{dangerousProtocol: boolPtr(false), countryCode: "DE"},
	)
	require.NotNil(t, f.DangerousProtocol)
	assert.True(t, *f.DangerousProtocol)
	assert.Equal(t, "DE", f.CountryCode)
	assert.Nil(t, f.TrafficAnomaly)
	assert.Equal(t, "10.0.0.1", f.Source())
}

func TestFindingSourceFallback(t *testing.T) {
	assert.Equal(t, "10.0.0.1", (&Finding{Observation: Observation{SrcIP: "10.0.0.1", SrcMAC: "aa:bb"}}).Source())
	assert.Equal(t, "aa:bb", (&Finding{Observation: Observation{SrcMAC: "aa:bb"}}).Source())
	assert.Equal(t, "unknown", (&Finding{}).Source())
}

func TestTrafficDetectorSpike(t *testing.T) {
	d := NewTrafficDetector(TrafficTuning{})
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	// First sample under the threshold is quiet.
	assert.False(t, d.Observe("10.0.0.1", 500, base))
	// Steady small samples stay quiet.
	assert.False(t, d.Observe("10.0.0.1", 600, base.Add(1*time.Second)))
	assert.False(t, d.Observe("10.0.0.1", 550, base.Add(2*time.Second)))
	// A sample far above the running mean trips the spike check.
	assert.True(t, d.Observe("10.0.0.1", 2_000_000, base.Add(3*time.Second)))
}

func TestTrafficDetectorFirstSampleSpike(t *testing.T) {
	d := NewTrafficDetector(TrafficTuning{})
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	assert.True(t, d.Observe("10.0.0.9", 1_500_000, base))
}

func TestTrafficDetectorSustainedActivity(t *testing.T) {
	d := NewTrafficDetector(TrafficTuning{})
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for i := 0; i <= 14; i++ {
		got := d.Observe("10.0.0.2", 100, base.Add(time.Duration(i*5)*time.Second))
		// Anomalous once the window exceeds 60 seconds.
		assert.Equal(t, i*5 > 60, got, "sample %d", i)
	}
}

func TestTrafficDetectorGapResets(t *testing.T) {
	d := NewTrafficDetector(TrafficTuning{})
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		d.Observe("10.0.0.3", 100, base.Add(time.Duration(i*7)*time.Second))
	}
	// 63s of activity: sustained.
	assert.True(t, d.Observe("10.0.0.3", 100, base.Add(70*time.Second)))
	// After a silence beyond the gap the window starts over.
	assert.False(t, d.Observe("10.0.0.3", 100, base.Add(100*time.Second)))
}

func TestTrafficDetectorHistoryBounded(t *testing.T) {
	d := NewTrafficDetector(TrafficTuning{ContinuousGap: time.Hour, ContinuousDuration: time.Hour})
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		d.Observe("10.0.0.4", 100, base.Add(time.Duration(i)*time.Second))
	}
	entry := d.stats["10.0.0.4"]
	require.NotNil(t, entry)
	assert.Len(t, entry.history, DefaultMaxSamples)
	// Cumulative stats keep counting past the history bound.
	assert.Equal(t, int64(50), entry.count)
	assert.Equal(t, int64(5000), entry.total)
}

func TestTrafficDetectorPerSourceIsolation(t *testing.T) {
	d := NewTrafficDetector(TrafficTuning{})
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	assert.True(t, d.Observe("10.0.0.5", 5_000_000, base))
	// A different source is judged against its own empty history.
	assert.False(t, d.Observe("10.0.0.6", 100, base))
}
