// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package sched supervises the periodic dynamic-scan sessions and the
// blacklist refresh job.
package sched

import (
	"context"
	"sync"
	"time"

	"grimm.is/netwarden/internal/analyze"
	"grimm.is/netwarden/internal/blacklist"
	"grimm.is/netwarden/internal/capture"
	"grimm.is/netwarden/internal/logging"
	"grimm.is/netwarden/internal/metrics"
)

// Status reports the outcome of a start or stop request.
type Status string

const (
	StatusScheduled      Status = "scheduled"
	StatusAlreadyRunning Status = "already_running"
	StatusStopped        Status = "stopped"
	StatusNotRunning     Status = "not_running"
)

const defaultQueueSize = 1024

// Options configures a Scheduler.
type Options struct {
	// Interval between session starts. The first session starts
	// immediately.
	Interval time.Duration
	// Duration bounds each capture session.
	Duration time.Duration
	// QueueSize is the capacity of the source→analyzer channel.
	QueueSize int

	Source capture.Source
	// NewAnalyzer builds a fresh analyzer per session, so per-session
	// traffic state starts clean.
	NewAnalyzer func() *analyze.Analyzer

	// Updater, when set, runs as a second periodic job.
	Updater *blacklist.Updater

	Metrics *metrics.Metrics
	Logger  *logging.Logger
}

// Scheduler owns the scan loop. At most one session runs at a time;
// a session that overruns its slot suppresses the overlapping tick.
type Scheduler struct {
	opts   Options
	logger *logging.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	sessionMu     sync.Mutex
	sessionActive bool
}

// New creates a scheduler.
func New(opts Options) *Scheduler {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent("sched")
	}
	return &Scheduler{opts: opts, logger: logger}
}

// Start moves the scheduler from Idle to Running and kicks off an
// immediate session. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return StatusAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx, s.done)
	if s.opts.Updater != nil {
		go s.opts.Updater.Run(ctx)
	}

	s.logger.Info("scan scheduler started", "interval", s.opts.Interval, "duration", s.opts.Duration)
	return StatusScheduled
}

// Stop cancels the in-flight session and waits for the loop to drain.
// Stopping an idle scheduler is a no-op.
func (s *Scheduler) Stop() Status {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return StatusNotRunning
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("scan scheduler stopped")
	return StatusStopped
}

// Running reports whether the scheduler is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.runSession(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSession(ctx)
		}
	}
}

// runSession runs one capture+analyze session. Panics and errors are
// contained so the next tick still runs.
func (s *Scheduler) runSession(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	s.sessionMu.Lock()
	if s.sessionActive {
		s.sessionMu.Unlock()
		s.logger.Warn("previous session still running, skipping tick")
		return
	}
	s.sessionActive = true
	s.sessionMu.Unlock()
	defer func() {
		s.sessionMu.Lock()
		s.sessionActive = false
		s.sessionMu.Unlock()
	}()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scan session panicked", "panic", r)
			if s.opts.Metrics != nil {
				s.opts.Metrics.SessionsFailed.Inc()
			}
		}
	}()

	if s.opts.Metrics != nil {
		s.opts.Metrics.SessionsStarted.Inc()
	}
	s.logger.Info("scan session starting", "duration", s.opts.Duration)

	sessionCtx := ctx
	var cancel context.CancelFunc
	if s.opts.Duration > 0 {
		sessionCtx, cancel = context.WithTimeout(ctx, s.opts.Duration)
		defer cancel()
	}

	obs := make(chan analyze.Observation, s.opts.QueueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// The channel closes when the source stops, which lets the
		// analyzer drain everything already queued before exiting.
		defer close(obs)
		if err := s.opts.Source.Run(sessionCtx, obs); err != nil && ctx.Err() == nil && sessionCtx.Err() == nil {
			s.logger.Error("packet source failed", "error", err)
			if s.opts.Metrics != nil {
				s.opts.Metrics.SessionsFailed.Inc()
			}
		}
	}()

	analyzer := s.opts.NewAnalyzer()
	if err := analyzer.Run(ctx, obs); err != nil && ctx.Err() == nil {
		s.logger.Error("analyzer failed", "error", err)
	}
	wg.Wait()

	s.logger.Info("scan session finished")
}
