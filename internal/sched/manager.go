// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sched

import (
	"sync"
	"time"
)

// Overrides carries per-start tuning supplied by the API. Zero values
// keep the configured defaults.
type Overrides struct {
	Interface    string
	Duration     time.Duration
	Interval     time.Duration
	ApprovedMACs []string
}

// Manager builds and supervises one scheduler at a time, rebuilding it
// on each start so request overrides take effect.
type Manager struct {
	mu      sync.Mutex
	build   func(Overrides) *Scheduler
	current *Scheduler
}

// NewManager creates a manager around a scheduler builder.
func NewManager(build func(Overrides) *Scheduler) *Manager {
	return &Manager{build: build}
}

// Start builds a scheduler with the given overrides and starts it.
func (m *Manager) Start(o Overrides) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.Running() {
		return StatusAlreadyRunning
	}
	m.current = m.build(o)
	return m.current.Start()
}

// Stop stops the active scheduler, if any.
func (m *Manager) Stop() Status {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	if current == nil {
		return StatusNotRunning
	}
	return current.Stop()
}

// Running reports whether a scheduler is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.Running()
}
