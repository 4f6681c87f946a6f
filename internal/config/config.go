// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the netwarden service configuration.
//
// The main configuration is a YAML document; the approved-device and
// dangerous-country lists live in separate JSON files so they can be
// managed by provisioning tools. Missing optional files fall back to
// defaults silently.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"grimm.is/netwarden/internal/logging"
)

// CaptureConfig controls the dynamic-scan capture sessions.
type CaptureConfig struct {
	Interface string `yaml:"interface"`
	Duration  int    `yaml:"duration"` // seconds per session, 0 = until stopped
	Interval  int    `yaml:"interval"` // seconds between scheduled sessions
	QueueSize int    `yaml:"queue_size"`
}

// HoursConfig is the business-hours window [Start, End) in local time.
type HoursConfig struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// TrafficConfig tunes the per-source anomaly detector.
type TrafficConfig struct {
	SpikeThreshold     int64 `yaml:"spike_threshold"`     // bytes
	ContinuousDuration int   `yaml:"continuous_duration"` // seconds
	ContinuousGap      int   `yaml:"continuous_gap"`      // seconds
	MaxSamples         int   `yaml:"max_samples"`
}

// PathsConfig points at on-disk state and lookup data.
type PathsConfig struct {
	Database           string `yaml:"database"`
	DNSBlacklist       string `yaml:"dns_blacklist"`
	DomainBlacklist    string `yaml:"domain_blacklist"`
	OUI                string `yaml:"oui"`
	GeoIPDB            string `yaml:"geoip_db"`
	ApprovedDevices    string `yaml:"approved_devices"`
	DangerousCountries string `yaml:"dangerous_countries"`
	ReportDir          string `yaml:"report_dir"`
}

// BlacklistConfig controls the remote feed updater.
type BlacklistConfig struct {
	FeedURL             string `yaml:"feed_url"`
	UpdateIntervalHours int    `yaml:"update_interval_hours"`
}

// APIConfig controls the HTTP server.
type APIConfig struct {
	Listen string `yaml:"listen"`
	Token  string `yaml:"token"`
}

// StaticScanConfig controls the static-scan orchestrator.
type StaticScanConfig struct {
	Target        string `yaml:"target"`         // host probed by the built-in modules
	ProbeTimeout  int    `yaml:"probe_timeout"`  // seconds, per probe
	GlobalTimeout int    `yaml:"global_timeout"` // seconds, whole batch
}

// Config is the root service configuration.
type Config struct {
	Capture      CaptureConfig        `yaml:"capture"`
	Hours        HoursConfig          `yaml:"business_hours"`
	Traffic      TrafficConfig        `yaml:"traffic"`
	Paths        PathsConfig          `yaml:"paths"`
	Blacklist    BlacklistConfig      `yaml:"blacklist"`
	API          APIConfig            `yaml:"api"`
	StaticScan   StaticScanConfig     `yaml:"static_scan"`
	RecentBuffer int                  `yaml:"recent_buffer"`
	LogLevel     string               `yaml:"log_level"`
	Syslog       logging.SyslogConfig `yaml:"syslog"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Duration:  60,
			Interval:  3600,
			QueueSize: 1024,
		},
		Hours: HoursConfig{Start: 9, End: 17},
		Traffic: TrafficConfig{
			SpikeThreshold:     1_000_000,
			ContinuousDuration: 60,
			ContinuousGap:      10,
			MaxSamples:         10,
		},
		Paths: PathsConfig{
			Database:           "data/netwarden.db",
			DNSBlacklist:       "data/dns_blacklist.txt",
			DomainBlacklist:    "configs/domain_blacklist.txt",
			OUI:                "data/oui.txt",
			GeoIPDB:            "/usr/share/GeoIP/GeoLite2-Country.mmdb",
			ApprovedDevices:    "configs/approved_devices.json",
			DangerousCountries: "configs/dangerous_countries.json",
			ReportDir:          "/tmp",
		},
		Blacklist: BlacklistConfig{
			UpdateIntervalHours: 12,
		},
		API: APIConfig{Listen: ":8080"},
		StaticScan: StaticScanConfig{
			Target:        "127.0.0.1",
			ProbeTimeout:  5,
			GlobalTimeout: 60,
		},
		RecentBuffer: 100,
		LogLevel:     "info",
		Syslog:       logging.DefaultSyslogConfig(),
	}
}

// Load reads the YAML config at path, applies defaults for absent fields
// and environment overrides on top. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv layers environment variables over the file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("API_TOKEN"); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv("BLACKLIST_FEED_URL"); v != "" {
		c.Blacklist.FeedURL = v
	}
	if v := os.Getenv("BLACKLIST_UPDATE_INTERVAL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Blacklist.UpdateIntervalHours = n
		}
	}
}

// SessionDuration returns the per-session capture duration.
func (c *Config) SessionDuration() time.Duration {
	return time.Duration(c.Capture.Duration) * time.Second
}

// ScanInterval returns the interval between scheduled sessions.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Capture.Interval) * time.Second
}

// LoadApprovedMACs reads the approved-device JSON array, lowercasing each
// address. A missing or unparsable file yields an empty set.
func LoadApprovedMACs(path string) map[string]bool {
	approved := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return approved
	}
	var macs []string
	if err := json.Unmarshal(data, &macs); err != nil {
		logging.Warn("approved devices file unparsable, ignoring", "path", path, "error", err)
		return approved
	}
	for _, m := range macs {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			approved[m] = true
		}
	}
	return approved
}

// LoadDangerousCountries reads the dangerous-country JSON array of
// ISO-3166-1 alpha-2 codes, uppercased. Missing file yields an empty set.
func LoadDangerousCountries(path string) map[string]bool {
	out := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	var codes []string
	if err := json.Unmarshal(data, &codes); err != nil {
		logging.Warn("dangerous countries file unparsable, ignoring", "path", path, "error", err)
		return out
	}
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if len(c) == 2 {
			out[c] = true
		}
	}
	return out
}
