// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package staticscan runs a battery of independent probes against a
// target host and aggregates their results into a scored report.
package staticscan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"grimm.is/netwarden/internal/logging"
	"grimm.is/netwarden/internal/metrics"
)

// Severity grades a probe result.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Score maps a severity to its risk contribution.
func (s Severity) Score() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 5
	case SeverityHigh:
		return 10
	case SeverityCritical:
		return 20
	default:
		return 0
	}
}

// Result is one probe's outcome. Failed probes report through
// Details["error"] rather than aborting the scan.
type Result struct {
	Category string                 `json:"category"`
	Details  map[string]interface{} `json:"details"`
	Severity Severity               `json:"severity,omitempty"`
	Score    int                    `json:"score"`
}

// Report is the aggregate of one static scan.
type Report struct {
	Target    string   `json:"target"`
	Timestamp string   `json:"timestamp"`
	Results   []Result `json:"results"`
	RiskScore int      `json:"risk_score"`
}

// Probe inspects a target host. Implementations must honor ctx; the
// scanner additionally enforces its own per-probe deadline.
type Probe func(ctx context.Context, target string) (*Result, error)

// Registry holds named probes. Execution order is deterministic: "ports"
// runs first and "os_banner" second when present, the rest keep their
// registration order.
type Registry struct {
	mu     sync.RWMutex
	names  []string
	probes map[string]Probe
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{probes: make(map[string]Probe)}
}

// Register adds or replaces a probe under name.
func (r *Registry) Register(name string, p Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.probes[name]; !exists {
		r.names = append(r.names, name)
	}
	r.probes[name] = p
}

// Names returns the probe names in execution order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := make([]string, 0, len(r.names))
	for _, pinned := range []string{"ports", "os_banner"} {
		if _, ok := r.probes[pinned]; ok {
			ordered = append(ordered, pinned)
		}
	}
	for _, name := range r.names {
		if name == "ports" || name == "os_banner" {
			continue
		}
		ordered = append(ordered, name)
	}
	return ordered
}

func (r *Registry) get(name string) Probe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.probes[name]
}

// Scanner runs every registered probe against a target.
type Scanner struct {
	registry     *Registry
	probeTimeout time.Duration
	logger       *logging.Logger
	metrics      *metrics.Metrics
}

// NewScanner creates a scanner over registry with the given per-probe
// timeout.
func NewScanner(registry *Registry, probeTimeout time.Duration, m *metrics.Metrics) *Scanner {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Scanner{
		registry:     registry,
		probeTimeout: probeTimeout,
		logger:       logging.WithComponent("staticscan"),
		metrics:      m,
	}
}

// Scan dispatches all probes concurrently and collects their results in
// dispatch order. A probe that times out, errors or panics contributes a
// result with Details["error"]; it never takes the scan down.
func (s *Scanner) Scan(ctx context.Context, target string) *Report {
	names := s.registry.Names()
	results := make([]Result, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = s.runProbe(ctx, name, target)
		}(i, name)
	}
	wg.Wait()

	report := &Report{
		Target:    target,
		Timestamp: time.Now().Format("2006-01-02T15:04:05-07:00"),
		Results:   results,
	}
	for _, r := range results {
		report.RiskScore += r.Score
	}
	return report
}

func (s *Scanner) runProbe(ctx context.Context, name, target string) Result {
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("probe panicked: %v", r)}
			}
		}()
		result, err := s.registry.get(name)(probeCtx, target)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-probeCtx.Done():
		s.logger.Warn("probe timed out", "probe", name, "target", target)
		if s.metrics != nil {
			s.metrics.ProbeTimeouts.Inc()
			s.metrics.ProbesRun.WithLabelValues("timeout").Inc()
		}
		return Result{
			Category: name,
			Details:  map[string]interface{}{"error": "timeout"},
		}
	case o := <-done:
		if o.err != nil {
			s.logger.Warn("probe failed", "probe", name, "target", target, "error", o.err)
			if s.metrics != nil {
				s.metrics.ProbesRun.WithLabelValues("error").Inc()
			}
			return Result{
				Category: name,
				Details: map[string]interface{}{"error": o.err.Error()},
			}
		}
		if s.metrics != nil {
			s.metrics.ProbesRun.WithLabelValues("ok").Inc()
		}
		result := o.result
		if result == nil {
			result = &Result{Details: map[string]interface{}{}}
		}
		// Probes may report under a finer-grained category than their
		// registry name; only fill it in when they left it blank.
		if result.Category == "" {
			result.Category = name
		}
		if result.Details == nil {
			result.Details = map[string]interface{}{}
		}
		if result.Score == 0 {
			result.Score = result.Severity.Score()
		}
		return *result
	}
}
