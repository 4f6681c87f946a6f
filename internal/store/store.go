// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package store persists dynamic-scan output to SQLite and fans live
// findings and device alerts out to subscribers.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/netwarden/internal/analyze"
	"grimm.is/netwarden/internal/logging"
	"grimm.is/netwarden/internal/metrics"
)

// TimestampFormat is the stored timestamp layout: ISO-8601 with seconds
// and the local UTC offset.
const TimestampFormat = "2006-01-02T15:04:05-07:00"

// Options tunes a Store.
type Options struct {
	RecentSize int
	QueueSize  int
	Metrics    *metrics.Metrics
}

// DNSEntry is one reverse-DNS history row.
type DNSEntry struct {
	Timestamp   string `json:"timestamp"`
	IP          string `json:"ip"`
	Hostname    string `json:"hostname"`
	Blacklisted bool   `json:"blacklisted"`
}

// Device is one known-device row.
type Device struct {
	MAC       string `json:"mac"`
	FirstSeen string `json:"first_seen"`
}

// HistoryQuery filters persisted findings. Zero values mean "no filter".
// Start and End compare against the stored timestamp lexicographically,
// which matches chronological order for the fixed layout.
type HistoryQuery struct {
	Start    string
	End      string
	Device   string // matches src_ip
	Protocol string
	Limit    int
}

// Store is the history store. It implements the analyzer's Sink.
type Store struct {
	db      *sql.DB
	logger  *logging.Logger
	metrics *metrics.Metrics

	recent   *recentBuffer
	findings *Hub
	alerts   *Hub

	// Timestamps are stamped at persistence time and never go backwards,
	// even across wall-clock adjustments.
	stampMu   sync.Mutex
	lastStamp string

	deviceMu sync.Mutex
	devices  map[string]bool

	now func() time.Time
}

// Open opens or creates the history database at path.
func Open(path string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}

	s := &Store{
		db:       db,
		logger:   logging.WithComponent("store"),
		metrics:  opts.Metrics,
		recent:   newRecentBuffer(opts.RecentSize),
		findings: NewHub(opts.QueueSize, opts.Metrics),
		alerts:   NewHub(opts.QueueSize, opts.Metrics),
		devices:  make(map[string]bool),
		now:      time.Now,
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadDevices(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		src TEXT,
		protocol TEXT,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_results_timestamp ON results(timestamp);
	CREATE INDEX IF NOT EXISTS idx_results_src ON results(src);

	CREATE TABLE IF NOT EXISTS dns_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		ip TEXT NOT NULL,
		hostname TEXT NOT NULL,
		blacklisted BOOLEAN NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dns_timestamp ON dns_history(timestamp);

	CREATE TABLE IF NOT EXISTS devices (
		mac TEXT PRIMARY KEY,
		first_seen TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) loadDevices() error {
	rows, err := s.db.Query(`SELECT mac FROM devices`)
	if err != nil {
		return err
	}
	defer rows.Close()

	s.deviceMu.Lock()
	defer s.deviceMu.Unlock()
	for rows.Next() {
		var mac string
		if err := rows.Scan(&mac); err != nil {
			return err
		}
		s.devices[mac] = true
	}
	return rows.Err()
}

// stamp returns the next persistence timestamp, monotonically
// non-decreasing in string (and chronological) order.
func (s *Store) stamp() string {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()
	candidate := s.now().Format(TimestampFormat)
	if candidate < s.lastStamp {
		candidate = s.lastStamp
	}
	s.lastStamp = candidate
	return candidate
}

// SaveFinding stamps, persists, buffers and broadcasts one finding.
func (s *Store) SaveFinding(f *analyze.Finding) error {
	f.Timestamp = s.stamp()

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode finding: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO results (timestamp, src, protocol, data) VALUES (?, ?, ?, ?)`,
		f.Timestamp, f.SrcIP, f.Protocol, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to persist finding: %w", err)
	}

	s.recent.push(data)
	s.findings.Publish(data)
	if s.metrics != nil {
		s.metrics.FindingsSaved.Inc()
	}
	return nil
}

// SaveDNS records one reverse-DNS resolution.
func (s *Store) SaveDNS(ip, hostname string, blacklisted bool) error {
	_, err := s.db.Exec(
		`INSERT INTO dns_history (timestamp, ip, hostname, blacklisted) VALUES (?, ?, ?, ?)`,
		s.stamp(), ip, hostname, blacklisted,
	)
	if err != nil {
		return fmt.Errorf("failed to persist dns history: %w", err)
	}
	return nil
}

// RecordDevice registers mac, returning true exactly once per MAC for
// the lifetime of the database. First sightings raise a device alert.
func (s *Store) RecordDevice(mac string) (bool, error) {
	s.deviceMu.Lock()
	if s.devices[mac] {
		s.deviceMu.Unlock()
		return false, nil
	}
	s.devices[mac] = true
	s.deviceMu.Unlock()

	firstSeen := s.stamp()
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO devices (mac, first_seen) VALUES (?, ?)`,
		mac, firstSeen,
	)
	if err != nil {
		// Roll the in-memory set back so a later retry can persist it.
		s.deviceMu.Lock()
		delete(s.devices, mac)
		s.deviceMu.Unlock()
		return false, fmt.Errorf("failed to persist device: %w", err)
	}

	alert, _ := json.Marshal(Device{MAC: mac, FirstSeen: firstSeen})
	s.alerts.Publish(alert)
	return true, nil
}

// History returns persisted findings matching q, oldest first, as their
// stored JSON documents.
func (s *Store) History(q HistoryQuery) ([]json.RawMessage, error) {
	query := `SELECT data FROM results`
	var conds []string
	var args []interface{}

	if q.Start != "" {
		conds = append(conds, "timestamp >= ?")
		args = append(args, q.Start)
	}
	if q.End != "" {
		conds = append(conds, "timestamp <= ?")
		args = append(args, q.End)
	}
	if q.Device != "" {
		conds = append(conds, "src = ?")
		args = append(args, q.Device)
	}
	if q.Protocol != "" {
		conds = append(conds, "protocol = ?")
		args = append(args, q.Protocol)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY timestamp ASC, id ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(data))
	}
	return out, rows.Err()
}

// DNSHistory returns reverse-DNS rows, oldest first. Non-empty start
// and end dates (YYYY-MM-DD) bound the result by calendar day,
// inclusive on both ends.
func (s *Store) DNSHistory(start, end string) ([]DNSEntry, error) {
	query := `SELECT timestamp, ip, hostname, blacklisted FROM dns_history`
	var conds []string
	var args []interface{}
	if start != "" {
		conds = append(conds, `substr(timestamp, 1, 10) >= ?`)
		args = append(args, start)
	}
	if end != "" {
		conds = append(conds, `substr(timestamp, 1, 10) <= ?`)
		args = append(args, end)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += ` ORDER BY timestamp ASC, id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DNSEntry
	for rows.Next() {
		var e DNSEntry
		if err := rows.Scan(&e.Timestamp, &e.IP, &e.Hostname, &e.Blacklisted); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Devices returns all known devices ordered by first sighting.
func (s *Store) Devices() ([]Device, error) {
	rows, err := s.db.Query(`SELECT mac, first_seen FROM devices ORDER BY first_seen ASC, mac ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.MAC, &d.FirstSeen); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Recent returns the in-memory buffer of the latest findings, oldest
// first, as their stored JSON documents.
func (s *Store) Recent() []json.RawMessage {
	items := s.recent.snapshot()
	out := make([]json.RawMessage, len(items))
	for i, item := range items {
		out[i] = json.RawMessage(item)
	}
	return out
}

// SubscribeFindings registers a live-findings subscriber.
func (s *Store) SubscribeFindings() *Subscriber { return s.findings.Subscribe() }

// SubscribeAlerts registers a device-alert subscriber.
func (s *Store) SubscribeAlerts() *Subscriber { return s.alerts.Subscribe() }
