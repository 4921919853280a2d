package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"grimm.is/palisade/internal/audit"
	"grimm.is/palisade/internal/clock"
	"grimm.is/palisade/internal/engine"
	"grimm.is/palisade/internal/events"
	"grimm.is/palisade/internal/iptables"
	"grimm.is/palisade/internal/logging"
	"grimm.is/palisade/internal/store"
)

// testServer bundles a Server with the pieces tests poke at directly.
type testServer struct {
	*Server
	eng *engine.Engine
	st  *store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log := logging.New(logging.Config{Level: logging.LevelError, Output: io.Discard})
	st, err := store.New(":memory:", log)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	clk := clock.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	adapter := iptables.New(iptables.Options{MockMode: true, Logger: log})

	rec, err := audit.NewRecorder(st.DB(), log, clk, 30)
	if err != nil {
		t.Fatalf("audit.NewRecorder() error = %v", err)
	}

	eng := engine.New(engine.Options{
		Store:   st,
		Adapter: adapter,
		Audit:   rec,
		Logger:  log,
		Clock:   clk,
	})
	if err := eng.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	srv := NewServer(Options{Engine: eng, Audit: rec, Logger: log})
	t.Cleanup(func() {
		srv.recent.Stop()
		srv.ws.Close()
	})

	return &testServer{Server: srv, eng: eng, st: st}
}

// do runs one request through the full handler stack.
func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("response is not valid JSON: %v\n%s", err, rec.Body.String())
	}
}

const sshRuleBody = `{"table":"filter","chain":"INPUT","action":"ACCEPT","protocol":"tcp","port":"22","enabled":true}`

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var health struct {
		Status    string          `json:"status"`
		Store     string          `json:"store"`
		LastApply json.RawMessage `json:"last_apply"`
	}
	decodeBody(t, rec, &health)
	if health.Status != "ok" || health.Store != "ok" {
		t.Errorf("health = %+v, want ok/ok", health)
	}
	if health.LastApply != nil {
		t.Error("last_apply set before any apply ran")
	}

	// After an apply the outcome shows up.
	ts.do(t, "POST", "/api/firewall/apply", "")
	rec = ts.do(t, "GET", "/healthz", "")
	decodeBody(t, rec, &health)
	if health.LastApply == nil {
		t.Error("last_apply missing after apply")
	}
}

func TestHealthzDegradedWhenStoreDown(t *testing.T) {
	ts := newTestServer(t)
	ts.st.Close()

	rec := ts.do(t, "GET", "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /healthz = %d, want 503", rec.Code)
	}
	var health struct {
		Status string `json:"status"`
	}
	decodeBody(t, rec, &health)
	if health.Status != "degraded" {
		t.Errorf("status = %q, want degraded", health.Status)
	}
}

func TestFirewallStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "POST", "/api/rules", sshRuleBody)

	rec := ts.do(t, "GET", "/api/firewall/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/firewall/status = %d: %s", rec.Code, rec.Body.String())
	}

	var status struct {
		OwnedChains []struct {
			Table string `json:"table"`
			Chain string `json:"chain"`
		} `json:"owned_chains"`
		RulesByTable map[string]int  `json:"rules_by_table"`
		RuleCount    int             `json:"rule_count"`
		MockMode     bool            `json:"mock_mode"`
		LastApply    json.RawMessage `json:"last_apply"`
	}
	decodeBody(t, rec, &status)

	if len(status.OwnedChains) != 13 {
		t.Errorf("owned_chains = %d, want 13", len(status.OwnedChains))
	}
	if status.RuleCount != 1 || status.RulesByTable["filter"] != 1 {
		t.Errorf("rule counts = %d / %v, want 1 filter rule", status.RuleCount, status.RulesByTable)
	}
	if !status.MockMode {
		t.Error("mock_mode = false, want true")
	}
	if status.LastApply == nil {
		t.Error("last_apply missing after create's apply")
	}
}

func TestAuditEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "POST", "/api/rules", sshRuleBody)

	rec := ts.do(t, "GET", "/api/audit", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/audit = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Entries []audit.Entry `json:"entries"`
		Count   int           `json:"count"`
	}
	decodeBody(t, rec, &resp)
	if resp.Count == 0 {
		t.Fatal("no audit entries after a create")
	}

	actions := map[string]bool{}
	for _, e := range resp.Entries {
		actions[e.Action] = true
	}
	if !actions["rule.create"] || !actions["apply"] {
		t.Errorf("audit actions = %v, want rule.create and apply", actions)
	}

	rec = ts.do(t, "GET", "/api/audit?limit=1", "")
	decodeBody(t, rec, &resp)
	if resp.Count != 1 {
		t.Errorf("limited query returned %d entries, want 1", resp.Count)
	}

	if rec := ts.do(t, "GET", "/api/audit?limit=banana", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "POST", "/api/firewall/apply", "")

	rec := ts.do(t, "GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "palisade_applies_total") {
		t.Error("scrape output missing palisade_applies_total")
	}
}

func TestRecentEvents(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "POST", "/api/rules", sshRuleBody)

	var resp struct {
		Events []events.Event `json:"events"`
		Count  int            `json:"count"`
	}

	// The buffer consumes from the hub on its own goroutine, so give the
	// events a moment to land.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec := ts.do(t, "GET", "/api/events/recent", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("GET /api/events/recent = %d: %s", rec.Code, rec.Body.String())
		}
		decodeBody(t, rec, &resp)
		if resp.Count >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d events buffered after create", resp.Count)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Newest first: the create's reconciliation outcome, then the change.
	if resp.Events[0].Type != events.EventApplyCompleted {
		t.Errorf("events[0].Type = %q, want %q", resp.Events[0].Type, events.EventApplyCompleted)
	}
	if resp.Events[1].Type != events.EventRuleCreated {
		t.Errorf("events[1].Type = %q, want %q", resp.Events[1].Type, events.EventRuleCreated)
	}

	rec := ts.do(t, "GET", "/api/events/recent?limit=1", "")
	decodeBody(t, rec, &resp)
	if resp.Count != 1 {
		t.Errorf("limited query returned %d events, want 1", resp.Count)
	}

	if rec := ts.do(t, "GET", "/api/events/recent?limit=-3", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", rec.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	ts := newTestServer(t)
	if rec := ts.do(t, "GET", "/api/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET /api/nope = %d, want 404", rec.Code)
	}
}

func TestMetricsPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/api/rules", "/api/rules"},
		{"/api/rules/export", "/api/rules/export"},
		{"/api/rules/order", "/api/rules/order"},
		{"/api/rules/7b0a4f9e", "/api/rules/{id}"},
		{"/api/rules/7b0a4f9e/reorder", "/api/rules/{id}/reorder"},
		{"/api/chains", "/api/chains"},
		{"/healthz", "/healthz"},
	}
	for _, tt := range tests {
		if got := metricsPath(tt.in); got != tt.want {
			t.Errorf("metricsPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
