// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api exposes the service over HTTP and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/netwarden/internal/errors"
	"grimm.is/netwarden/internal/logging"
	"grimm.is/netwarden/internal/resolve"
	"grimm.is/netwarden/internal/sched"
	"grimm.is/netwarden/internal/staticscan"
	"grimm.is/netwarden/internal/store"
)

// ScanController is the dynamic-scan lifecycle surface the server
// drives. The scheduler manager implements it.
type ScanController interface {
	Start(o sched.Overrides) sched.Status
	Stop() sched.Status
	Running() bool
}

// Config wires a Server.
type Config struct {
	Listen string
	// Token enables bearer-token auth on everything but /health and
	// /metrics when non-empty.
	Token string

	Controller ScanController
	Store      *store.Store
	Scanner    *staticscan.Scanner
	// Vendor, when set, annotates /devices rows with the OUI vendor.
	Vendor *resolve.VendorLookup

	// StaticTarget is the default static-scan target host.
	StaticTarget string
	// StaticTimeout bounds a whole static scan; exceeding it returns 504.
	StaticTimeout time.Duration
	// ReportDir receives static-scan report files.
	ReportDir string

	Registry *prometheus.Registry
	Logger   *logging.Logger
}

// Server is the HTTP/WS front end.
type Server struct {
	cfg    Config
	logger *logging.Logger
	router *mux.Router
	http   *http.Server
}

// New creates a server and builds its routes.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.WithComponent("api")
	}
	s := &Server{cfg: cfg, logger: logger}
	s.router = s.buildRouter()
	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("api listening", "addr", s.cfg.Listen)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// dynamicAliases is the set of path prefixes the dynamic-scan endpoints
// answer under.
var dynamicAliases = []string{"/scan/dynamic", "/dynamic-scan", "/dynamic_scan"}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.accessLog)

	// Unauthenticated surface.
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.cfg.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	authed := r.NewRoute().Subrouter()
	authed.Use(s.requireAuth)

	for _, prefix := range dynamicAliases {
		authed.HandleFunc(prefix+"/start", s.handleStart).Methods(http.MethodPost)
		authed.HandleFunc(prefix+"/stop", s.handleStop).Methods(http.MethodPost)
		authed.HandleFunc(prefix+"/status", s.handleStatus).Methods(http.MethodGet)
		authed.HandleFunc(prefix+"/results", s.handleResults).Methods(http.MethodGet)
		authed.HandleFunc(prefix+"/history", s.handleHistory).Methods(http.MethodGet)
		authed.HandleFunc(prefix+"/dns-history", s.handleDNSHistory).Methods(http.MethodGet)
	}
	authed.HandleFunc("/devices", s.handleDevices).Methods(http.MethodGet)
	authed.HandleFunc("/static_scan", s.handleStaticScan).Methods(http.MethodGet)

	authed.HandleFunc("/ws/scan/dynamic", s.handleFindingsWS)
	authed.HandleFunc("/ws/dynamic-scan", s.handleFindingsWS)
	authed.HandleFunc("/ws/device-alerts", s.handleAlertsWS)

	return r
}

// requireAuth enforces the bearer token on every request when one is
// configured.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader != "Bearer "+s.cfg.Token {
				writeError(w, errors.New(errors.KindPermission, "unauthorized"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// accessLog logs one line per request with status and latency.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"remote", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errors.GetKind(err).HTTPStatus(), map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
