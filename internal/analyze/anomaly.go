// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package analyze

import (
	"time"
)

// Default tuning for the per-source traffic anomaly detector.
const (
	// DefaultSpikeThreshold is the byte delta over the running mean that
	// flags a spike.
	DefaultSpikeThreshold = 1_000_000
	// DefaultContinuousDuration flags sources that transmit without pause
	// for longer than this.
	DefaultContinuousDuration = 60 * time.Second
	// DefaultContinuousGap is the silence after which per-source stats
	// reset.
	DefaultContinuousGap = 10 * time.Second
	// DefaultMaxSamples bounds the per-source sample history.
	DefaultMaxSamples = 10
)

// TrafficTuning parameterizes the anomaly detector.
type TrafficTuning struct {
	SpikeThreshold     int64
	ContinuousDuration time.Duration
	ContinuousGap      time.Duration
	MaxSamples         int
}

// DefaultTrafficTuning returns the built-in thresholds.
func DefaultTrafficTuning() TrafficTuning {
	return TrafficTuning{
		SpikeThreshold:     DefaultSpikeThreshold,
		ContinuousDuration: DefaultContinuousDuration,
		ContinuousGap:      DefaultContinuousGap,
		MaxSamples:         DefaultMaxSamples,
	}
}

// sourceStats accumulates traffic for one source key.
type sourceStats struct {
	history   []int64 // bounded ring, newest last
	total     int64
	count     int64
	startTime time.Time
	lastSeen  time.Time
}

// TrafficDetector keeps per-source accumulators and flags spikes and
// sustained activity. It is owned by a single analyzer session and is
// not safe for concurrent use.
type TrafficDetector struct {
	tuning TrafficTuning
	stats  map[string]*sourceStats
}

// NewTrafficDetector creates a detector with the given tuning. Zero
// fields fall back to defaults.
func NewTrafficDetector(tuning TrafficTuning) *TrafficDetector {
	def := DefaultTrafficTuning()
	if tuning.SpikeThreshold <= 0 {
		tuning.SpikeThreshold = def.SpikeThreshold
	}
	if tuning.ContinuousDuration <= 0 {
		tuning.ContinuousDuration = def.ContinuousDuration
	}
	if tuning.ContinuousGap <= 0 {
		tuning.ContinuousGap = def.ContinuousGap
	}
	if tuning.MaxSamples <= 0 {
		tuning.MaxSamples = def.MaxSamples
	}
	return &TrafficDetector{
		tuning: tuning,
		stats:  make(map[string]*sourceStats),
	}
}

// Observe records size bytes for key at time t and reports whether the
// source now looks anomalous. Anomaly means sustained activity beyond
// ContinuousDuration, or a sample exceeding the mean of the previous
// samples by more than SpikeThreshold.
func (d *TrafficDetector) Observe(key string, size int64, t time.Time) bool {
	entry, ok := d.stats[key]
	if !ok {
		entry = &sourceStats{startTime: t, lastSeen: t}
		d.stats[key] = entry
	} else if t.Sub(entry.lastSeen) > d.tuning.ContinuousGap {
		// Source went quiet; start a fresh window.
		entry.history = entry.history[:0]
		entry.total = 0
		entry.count = 0
		entry.startTime = t
	}

	entry.history = append(entry.history, size)
	if len(entry.history) > d.tuning.MaxSamples {
		entry.history = entry.history[1:]
	}
	entry.total += size
	entry.count++
	entry.lastSeen = t

	if t.Sub(entry.startTime) > d.tuning.ContinuousDuration {
		return true
	}
	if entry.count == 1 {
		return size > d.tuning.SpikeThreshold
	}
	prevMean := float64(entry.total-size) / float64(entry.count-1)
	return float64(size) > prevMean+float64(d.tuning.SpikeThreshold)
}
