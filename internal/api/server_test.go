// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/netwarden/internal/analyze"
	"grimm.is/netwarden/internal/sched"
	"grimm.is/netwarden/internal/staticscan"
	"grimm.is/netwarden/internal/store"
)

type fakeController struct {
	running bool
	started int
	lastO   sched.Overrides
}

func (c *fakeController) Start(o sched.Overrides) sched.Status {
	c.lastO = o
	c.started++
	if c.running {
		return sched.StatusAlreadyRunning
	}
	c.running = true
	return sched.StatusScheduled
}

func (c *fakeController) Stop() sched.Status {
	if !c.running {
		return sched.StatusNotRunning
	}
	c.running = false
	return sched.StatusStopped
}

func (c *fakeController) Running() bool { return c.running }

type serverFixture struct {
	server     *Server
	store      *store.Store
	controller *fakeController
	reportDir  string
}

func newFixture(t *testing.T, token string) *serverFixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "history.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry := staticscan.NewRegistry()
	registry.Register("ports", func(ctx context.Context, target string) (*staticscan.Result, error) {
		return &staticscan.Result{Details: map[string]interface{}{"open_ports": []int{23}}, Score: 1}, nil
	})
	registry.Register("os_banner", func(ctx context.Context, target string) (*staticscan.Result, error) {
		return &staticscan.Result{Details: map[string]interface{}{"banner": ""}}, nil
	})

	controller := &fakeController{}
	reportDir := t.TempDir()
	srv := New(Config{
		Listen:        "127.0.0.1:0",
		Token:         token,
		Controller:    controller,
		Store:         st,
		Scanner:       staticscan.NewScanner(registry, time.Second, nil),
		StaticTarget:  "127.0.0.1",
		StaticTimeout: 5 * time.Second,
		ReportDir:     reportDir,
	})
	return &serverFixture{server: srv, store: st, controller: controller, reportDir: reportDir}
}

func doJSON(t *testing.T, h http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func TestHealthUnauthenticated(t *testing.T) {
	fx := newFixture(t, "secret")
	rec, body := doJSON(t, fx.server.Handler(), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthRequired(t *testing.T) {
	fx := newFixture(t, "secret")

	rec, _ := doJSON(t, fx.server.Handler(), http.MethodGet, "/scan/dynamic/results", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doJSON(t, fx.server.Handler(), http.MethodGet, "/scan/dynamic/results", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doJSON(t, fx.server.Handler(), http.MethodGet, "/scan/dynamic/results", "secret", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNoTokenMeansOpen(t *testing.T) {
	fx := newFixture(t, "")
	rec, _ := doJSON(t, fx.server.Handler(), http.MethodGet, "/scan/dynamic/results", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartStopAliases(t *testing.T) {
	fx := newFixture(t, "")
	h := fx.server.Handler()

	for _, prefix := range []string{"/scan/dynamic", "/dynamic-scan", "/dynamic_scan"} {
		fx.controller.running = false

		rec, body := doJSON(t, h, http.MethodPost, prefix+"/start", "", "")
		assert.Equal(t, http.StatusOK, rec.Code, prefix)
		assert.Equal(t, "scheduled", body["status"], prefix)

		rec, body = doJSON(t, h, http.MethodPost, prefix+"/start", "", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "already_running", body["status"], prefix)

		rec, body = doJSON(t, h, http.MethodPost, prefix+"/stop", "", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "stopped", body["status"], prefix)
	}
}

func TestStartOverrides(t *testing.T) {
	fx := newFixture(t, "")
	rec, _ := doJSON(t, fx.server.Handler(), http.MethodPost, "/scan/dynamic/start", "",
		`{"interface": "eth1", "duration": 30, "interval": 600, "approved_macs": ["aa:bb:cc:dd:ee:ff"]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "eth1", fx.controller.lastO.Interface)
	assert.Equal(t, 30*time.Second, fx.controller.lastO.Duration)
	assert.Equal(t, 10*time.Minute, fx.controller.lastO.Interval)
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:ff"}, fx.controller.lastO.ApprovedMACs)
}

func TestStartRejectsMalformedBody(t *testing.T) {
	fx := newFixture(t, "")
	rec, _ := doJSON(t, fx.server.Handler(), http.MethodPost, "/scan/dynamic/start", "", `{"duration": "x"`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, fx.controller.started)
}

func boolPtr(b bool) *bool { return &b }

func TestResultsAggregatesRecentFindings(t *testing.T) {
	fx := newFixture(t, "")

	for i := 0; i < 5; i++ {
		require.NoError(t, fx.store.SaveFinding(&analyze.Finding{
			Observation:       analyze.Observation{SrcIP: "1.1.1.1", Protocol: "telnet", Size: 100},
			DangerousProtocol: boolPtr(true),
		}))
	}

	rec, body := doJSON(t, fx.server.Handler(), http.MethodGet, "/scan/dynamic/results", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 5, body["risk_score"])

	categories := body["categories"].([]interface{})
	require.Len(t, categories, 1)
	cat := categories[0].(map[string]interface{})
	assert.Equal(t, "protocols", cat["name"])
	assert.Equal(t, "high", cat["severity"])
	assert.Equal(t, []interface{}{"telnet"}, cat["issues"])
}

func TestHistoryEndpointFilters(t *testing.T) {
	fx := newFixture(t, "")
	require.NoError(t, fx.store.SaveFinding(&analyze.Finding{Observation: analyze.Observation{SrcIP: "1.1.1.1", Protocol: "http"}}))
	require.NoError(t, fx.store.SaveFinding(&analyze.Finding{Observation: analyze.Observation{SrcIP: "2.2.2.2", Protocol: "ftp"}}))

	rec, body := doJSON(t, fx.server.Handler(), http.MethodGet, "/scan/dynamic/history?device=2.2.2.2", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	results := body["results"].([]interface{})
	require.Len(t, results, 1)
	assert.Equal(t, "2.2.2.2", results[0].(map[string]interface{})["src_ip"])

	rec, body = doJSON(t, fx.server.Handler(), http.MethodGet, "/scan/dynamic/history?protocol=ftp", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["results"].([]interface{}), 1)

	rec, body = doJSON(t, fx.server.Handler(), http.MethodGet, "/scan/dynamic/history", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["results"].([]interface{}), 2)
}

func TestHistoryRejectsBadDates(t *testing.T) {
	fx := newFixture(t, "")
	rec, _ := doJSON(t, fx.server.Handler(), http.MethodGet, "/scan/dynamic/history?start=notadate", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDNSHistoryEndpoint(t *testing.T) {
	fx := newFixture(t, "")
	require.NoError(t, fx.store.SaveDNS("1.1.1.1", "one.example.com", false))

	rec, body := doJSON(t, fx.server.Handler(), http.MethodGet, "/dynamic-scan/dns-history", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := body["history"].([]interface{})
	require.Len(t, history, 1)
	assert.Equal(t, "one.example.com", history[0].(map[string]interface{})["hostname"])

	rec, _ = doJSON(t, fx.server.Handler(), http.MethodGet, "/dynamic-scan/dns-history?start=03-02-2026", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStaticScanEndpoint(t *testing.T) {
	fx := newFixture(t, "")
	rec, body := doJSON(t, fx.server.Handler(), http.MethodGet, "/static_scan", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["risk_score"])

	findings := body["findings"].([]interface{})
	require.Len(t, findings, 2)
	assert.Equal(t, "ports", findings[0].(map[string]interface{})["category"])
	assert.Equal(t, "os_banner", findings[1].(map[string]interface{})["category"])
	assert.NotContains(t, body, "report_path")
}

func TestStaticScanWritesReport(t *testing.T) {
	fx := newFixture(t, "")
	rec, body := doJSON(t, fx.server.Handler(), http.MethodGet, "/static_scan?report=true", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	path, ok := body["report_path"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(path, fx.reportDir))
}

func TestStaticScanGlobalTimeout(t *testing.T) {
	fx := newFixture(t, "")
	registry := staticscan.NewRegistry()
	registry.Register("hang", func(ctx context.Context, target string) (*staticscan.Result, error) {
		time.Sleep(10 * time.Second)
		return nil, nil
	})
	fx.server.cfg.Scanner = staticscan.NewScanner(registry, 20*time.Second, nil)
	fx.server.cfg.StaticTimeout = 50 * time.Millisecond

	rec, body := doJSON(t, fx.server.Handler(), http.MethodGet, "/static_scan", "", "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "timeout", body["status"])
}

func TestFindingsWebSocketStream(t *testing.T) {
	fx := newFixture(t, "")
	ts := httptest.NewServer(fx.server.Handler())
	defer ts.Close()

	for _, path := range []string{"/ws/scan/dynamic", "/ws/dynamic-scan"} {
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err, path)

		require.NoError(t, fx.store.SaveFinding(&analyze.Finding{Observation: analyze.Observation{SrcIP: "9.9.9.9"}}))

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err, path)
		var f analyze.Finding
		require.NoError(t, json.Unmarshal(msg, &f))
		assert.Equal(t, "9.9.9.9", f.SrcIP)
		conn.Close()
	}
}

func TestDeviceAlertWebSocket(t *testing.T) {
	fx := newFixture(t, "")
	ts := httptest.NewServer(fx.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/device-alerts"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	isNew, err := fx.store.RecordDevice("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	require.True(t, isNew)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var alert store.Device
	require.NoError(t, json.Unmarshal(msg, &alert))
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", alert.MAC)
	assert.NotEmpty(t, alert.FirstSeen)
}

func TestWebSocketAuthEnforced(t *testing.T) {
	fx := newFixture(t, "secret")
	ts := httptest.NewServer(fx.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/scan/dynamic"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set("Authorization", "Bearer secret")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestStatusEndpoint(t *testing.T) {
	fx := newFixture(t, "")
	rec, body := doJSON(t, fx.server.Handler(), http.MethodGet, "/scan/dynamic/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", body["status"])

	fx.controller.running = true
	_, body = doJSON(t, fx.server.Handler(), http.MethodGet, "/scan/dynamic/status", "", "")
	assert.Equal(t, "running", body["status"])
}

func TestDevicesEndpoint(t *testing.T) {
	fx := newFixture(t, "")
	_, err := fx.store.RecordDevice("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	rec, body := doJSON(t, fx.server.Handler(), http.MethodGet, "/devices", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	devices := body["devices"].([]interface{})
	require.Len(t, devices, 1)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", devices[0].(map[string]interface{})["mac"])
}
