// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package analyze implements the dynamic-scan classification pipeline.
// It consumes normalized packet observations, runs a battery of
// independent heuristics over each one and emits annotated findings
// into the history store.
package analyze

import (
	"time"
)

// Observation is the normalized per-packet record produced by the parser.
// String and port fields use the zero value for "unknown"; JSON encoding
// omits them so consumers can distinguish absent from empty.
type Observation struct {
	SrcMAC   string `json:"src_mac,omitempty"`
	DstMAC   string `json:"dst_mac,omitempty"`
	SrcIP    string `json:"src_ip,omitempty"`
	DstIP    string `json:"dst_ip,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	SrcPort  int    `json:"src_port,omitempty"`
	DstPort  int    `json:"dst_port,omitempty"`
	Size     int    `json:"size"`

	// Capture time. Not serialized; the store stamps findings with its
	// own persistence-time timestamp.
	Timestamp time.Time `json:"-"`
}

// GeoIP is the country annotation attached to a finding.
type GeoIP struct {
	Country string `json:"country,omitempty"`
	IP      string `json:"ip,omitempty"`
}

// Finding is the annotated, persisted record derived from an Observation.
// Every annotation field is optional: absent means "not evaluated", which
// is distinct from false. JSON encoding must omit absent fields.
type Finding struct {
	Observation

	// Stamped by the store at persistence time (ISO-8601, local offset).
	Timestamp string `json:"timestamp,omitempty"`

	GeoIP                 *GeoIP `json:"geoip,omitempty"`
	CountryCode           string `json:"country_code,omitempty"`
	DangerousCountry      *bool  `json:"dangerous_country,omitempty"`
	ReverseDNS            string `json:"reverse_dns,omitempty"`
	ReverseDNSBlacklisted *bool  `json:"reverse_dns_blacklisted,omitempty"`
	DangerousProtocol     *bool  `json:"dangerous_protocol,omitempty"`
	NewDevice             *bool  `json:"new_device,omitempty"`
	UnapprovedDevice      *bool  `json:"unapproved_device,omitempty"`
	TrafficAnomaly        *bool  `json:"traffic_anomaly,omitempty"`
	OutOfHours            *bool  `json:"out_of_hours,omitempty"`
}

// Source returns the traffic-accumulator key for the finding: src_ip,
// falling back to src_mac, falling back to "unknown".
func (f *Finding) Source() string {
	if f.SrcIP != "" {
		return f.SrcIP
	}
	if f.SrcMAC != "" {
		return f.SrcMAC
	}
	return "unknown"
}

// annotation is a partial set of sub-step outputs. Merging walks the
// sub-steps in fixed order and keeps the first non-absent value per field.
type annotation struct {
	geoIP                 *GeoIP
	countryCode           string
	dangerousCountry      *bool
	reverseDNS            string
	reverseDNSBlacklisted *bool
	dangerousProtocol     *bool
	newDevice             *bool
	unapprovedDevice      *bool
	trafficAnomaly        *bool
	outOfHours            *bool
}

// merge builds a Finding from the observation plus sub-step outputs,
// taking the first non-absent value per field. Absence is preserved.
func merge(obs Observation, parts ...annotation) *Finding {
	f := &Finding{Observation: obs}
	for _, p := range parts {
		if f.GeoIP == nil && p.geoIP != nil {
			f.GeoIP = p.geoIP
		}
		if f.CountryCode == "" && p.countryCode != "" {
			f.CountryCode = p.countryCode
		}
		if f.DangerousCountry == nil && p.dangerousCountry != nil {
			f.DangerousCountry = p.dangerousCountry
		}
		if f.ReverseDNS == "" && p.reverseDNS != "" {
			f.ReverseDNS = p.reverseDNS
		}
		if f.ReverseDNSBlacklisted == nil && p.reverseDNSBlacklisted != nil {
			f.ReverseDNSBlacklisted = p.reverseDNSBlacklisted
		}
		if f.DangerousProtocol == nil && p.dangerousProtocol != nil {
			f.DangerousProtocol = p.dangerousProtocol
		}
		if f.NewDevice == nil && p.newDevice != nil {
			f.NewDevice = p.newDevice
		}
		if f.UnapprovedDevice == nil && p.unapprovedDevice != nil {
			f.UnapprovedDevice = p.unapprovedDevice
		}
		if f.TrafficAnomaly == nil && p.trafficAnomaly != nil {
			f.TrafficAnomaly = p.trafficAnomaly
		}
		if f.OutOfHours == nil && p.outOfHours != nil {
			f.OutOfHours = p.outOfHours
		}
	}
	return f
}

func boolPtr(b bool) *bool { return &b }
