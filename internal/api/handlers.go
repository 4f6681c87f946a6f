// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"grimm.is/netwarden/internal/analyze"
	"grimm.is/netwarden/internal/errors"
	"grimm.is/netwarden/internal/report"
	"grimm.is/netwarden/internal/sched"
	"grimm.is/netwarden/internal/staticscan"
	"grimm.is/netwarden/internal/store"
)

type startRequest struct {
	Interface    string   `json:"interface"`
	Duration     int      `json:"duration"` // seconds
	Interval     int      `json:"interval"` // seconds
	ApprovedMACs []string `json:"approved_macs"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.Wrap(err, errors.KindValidation, "malformed request body"))
			return
		}
	}
	if req.Duration < 0 || req.Interval < 0 {
		writeError(w, errors.New(errors.KindValidation, "duration and interval must be non-negative"))
		return
	}

	status := s.cfg.Controller.Start(sched.Overrides{
		Interface:    req.Interface,
		Duration:     time.Duration(req.Duration) * time.Second,
		Interval:     time.Duration(req.Interval) * time.Second,
		ApprovedMACs: req.ApprovedMACs,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.cfg.Controller.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": string(sched.StatusStopped)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := "idle"
	if s.cfg.Controller.Running() {
		state = "running"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": state})
}

// handleResults aggregates the recent-findings buffer into a risk
// report.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	recent := s.cfg.Store.Recent()
	findings := make([]*analyze.Finding, 0, len(recent))
	for _, raw := range recent {
		var f analyze.Finding
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		findings = append(findings, &f)
	}
	writeJSON(w, http.StatusOK, report.Build(findings))
}

// validTimeBound accepts a YYYY-MM-DD date or a full stored timestamp.
func validTimeBound(v string) bool {
	if v == "" {
		return true
	}
	if _, err := time.Parse("2006-01-02", v); err == nil {
		return true
	}
	if _, err := time.Parse(store.TimestampFormat, v); err == nil {
		return true
	}
	return false
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end := q.Get("start"), q.Get("end")
	if !validTimeBound(start) || !validTimeBound(end) {
		writeError(w, errors.New(errors.KindValidation, "start and end must be YYYY-MM-DD or full timestamps"))
		return
	}

	results, err := s.cfg.Store.History(store.HistoryQuery{
		Start:    start,
		End:      end,
		Device:   q.Get("device"),
		Protocol: q.Get("protocol"),
	})
	if err != nil {
		writeError(w, errors.Wrap(err, errors.KindInternal, "history query failed"))
		return
	}
	if results == nil {
		results = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleDNSHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end := q.Get("start"), q.Get("end")
	for _, v := range []string{start, end} {
		if v == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", v); err != nil {
			writeError(w, errors.New(errors.KindValidation, "start and end must be YYYY-MM-DD"))
			return
		}
	}

	history, err := s.cfg.Store.DNSHistory(start, end)
	if err != nil {
		writeError(w, errors.Wrap(err, errors.KindInternal, "dns history query failed"))
		return
	}
	if history == nil {
		history = []store.DNSEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

type deviceEntry struct {
	MAC       string `json:"mac"`
	FirstSeen string `json:"first_seen"`
	Vendor    string `json:"vendor,omitempty"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.cfg.Store.Devices()
	if err != nil {
		writeError(w, errors.Wrap(err, errors.KindInternal, "device query failed"))
		return
	}

	entries := make([]deviceEntry, 0, len(devices))
	for _, d := range devices {
		e := deviceEntry{MAC: d.MAC, FirstSeen: d.FirstSeen}
		if s.cfg.Vendor != nil {
			e.Vendor = s.cfg.Vendor.Vendor(r.Context(), d.MAC)
		}
		entries = append(entries, e)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": entries})
}

func (s *Server) handleStaticScan(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		target = s.cfg.StaticTarget
	}
	if target == "" {
		writeError(w, errors.New(errors.KindValidation, "no scan target configured"))
		return
	}

	timeout := s.cfg.StaticTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	done := make(chan *staticscan.Report, 1)
	go func() { done <- s.cfg.Scanner.Scan(ctx, target) }()

	select {
	case <-ctx.Done():
		writeJSON(w, http.StatusGatewayTimeout, map[string]interface{}{"status": "timeout"})
		return
	case rep := <-done:
		resp := map[string]interface{}{
			"status":     "ok",
			"target":     rep.Target,
			"findings":   rep.Results,
			"risk_score": rep.RiskScore,
		}
		if wantReport(r.URL.Query().Get("report")) {
			path, err := staticscan.WriteReport(rep, s.cfg.ReportDir)
			if err != nil {
				s.logger.Error("failed to write scan report", "error", err)
				resp["status"] = "error"
			} else {
				resp["report_path"] = path
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func wantReport(v string) bool {
	switch v {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijack not supported")
}
