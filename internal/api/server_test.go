package api

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AaronLay10/propmodel/internal/definition"
	"github.com/AaronLay10/propmodel/internal/events"
	"github.com/AaronLay10/propmodel/internal/session"
	"github.com/AaronLay10/propmodel/internal/version"
)

const knotYAML = `
version: 1
model: { name: knot }
properties:
  - { name: x, initial: 1 }
  - { name: y }
  - { name: z }
constraints:
  - name: split
    methods:
      - { in: [x], out: [y, z], set: { y: "x", z: "x" } }
      - { in: [y], out: [x], set: { x: "y" } }
`

func withSession(t *testing.T, def *definition.Definition) *session.Session {
	t.Helper()
	resetAuth()
	events.Clear()
	s, err := session.New(def)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	SetSession(s)
	t.Cleanup(func() { SetSession(nil) })
	return s
}

func do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	NewMux().ServeHTTP(w, req)
	return w
}

func decodeAPI(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	SetModelName("abc")
	w := do(t, "GET", "/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", resp.Status)
	}
	if resp.Version != version.Version {
		t.Errorf("expected version %q, got %q", version.Version, resp.Version)
	}
	if resp.Model != "abc" {
		t.Errorf("expected model 'abc', got %q", resp.Model)
	}
}

func setReadiness(sessionReady, mqttUp, mqttOpt, pgUp, pgOpt bool) {
	readiness.mu.Lock()
	readiness.sessionReady = sessionReady
	readiness.mqttConnected = mqttUp
	readiness.mqttOptional = mqttOpt
	readiness.postgresConnected = pgUp
	readiness.postgresOptional = pgOpt
	readiness.mu.Unlock()
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name                          string
		session, mqttUp, mqttOpt      bool
		pgUp, pgOpt                   bool
		wantCode                      int
		wantSession, wantMQTT, wantPG string
	}{
		{"all ready", true, true, false, true, false, http.StatusOK, "ok", "ok", "ok"},
		{"no session", false, true, false, true, false, http.StatusServiceUnavailable, "not_ready", "ok", "ok"},
		{"optional mqtt down", true, false, true, true, false, http.StatusOK, "ok", "unavailable", "ok"},
		{"required mqtt down", true, false, false, true, false, http.StatusServiceUnavailable, "ok", "not_ready", "ok"},
		{"optional postgres down", true, true, false, false, true, http.StatusOK, "ok", "ok", "unavailable"},
		{"several down", false, false, false, true, false, http.StatusServiceUnavailable, "not_ready", "not_ready", "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setReadiness(tt.session, tt.mqttUp, tt.mqttOpt, tt.pgUp, tt.pgOpt)

			w := httptest.NewRecorder()
			readyHandler(w, httptest.NewRequest("GET", "/ready", nil))

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var resp ReadinessResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Ready != (tt.wantCode == http.StatusOK) {
				t.Errorf("ready = %v", resp.Ready)
			}
			if got := resp.Checks["session"].Status; got != tt.wantSession {
				t.Errorf("session = %q, want %q", got, tt.wantSession)
			}
			if got := resp.Checks["mqtt"].Status; got != tt.wantMQTT {
				t.Errorf("mqtt = %q, want %q", got, tt.wantMQTT)
			}
			if got := resp.Checks["postgres"].Status; got != tt.wantPG {
				t.Errorf("postgres = %q, want %q", got, tt.wantPG)
			}
			if !resp.Ready && resp.NotReadyMsg == "" {
				t.Error("expected non-empty message")
			}
		})
	}
}

func TestSetReadinessState(t *testing.T) {
	SetSessionReady(true)
	SetMQTTState(false, true)
	SetPostgresState(true, false)

	readiness.mu.RLock()
	defer readiness.mu.RUnlock()
	if !readiness.sessionReady {
		t.Error("SetSessionReady(true) didn't set state")
	}
	if readiness.mqttConnected || !readiness.mqttOptional {
		t.Error("SetMQTTState(false, true) didn't set state correctly")
	}
	if !readiness.postgresConnected || readiness.postgresOptional {
		t.Error("SetPostgresState(true, false) didn't set state correctly")
	}
}

func TestModelEndpoint(t *testing.T) {
	withSession(t, definition.Example())

	w := do(t, "GET", "/model", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var snap session.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if snap.Model != "abc" {
		t.Errorf("model = %q", snap.Model)
	}
	if len(snap.Properties) != 3 || len(snap.Constraints) != 1 {
		t.Errorf("got %d properties, %d constraints", len(snap.Properties), len(snap.Constraints))
	}
	if snap.Plan.Solver == "" {
		t.Error("expected a plan")
	}

	if w := do(t, "POST", "/model", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /model: expected 405, got %d", w.Code)
	}
}

func TestModelEndpointAfterOverflow(t *testing.T) {
	withSession(t, definition.Example())

	if w := do(t, "POST", "/properties", `{"values": {"A": 1e308, "B": 1e308}}`); w.Code != http.StatusOK {
		t.Fatalf("POST /properties: expected 200, got %d", w.Code)
	}

	w := do(t, "GET", "/model", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var snap session.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	for _, p := range snap.Properties {
		if p.Name == "C" && p.Value != 3 {
			t.Errorf("C = %v, want 3 (unchanged)", p.Value)
		}
	}
}

func TestWriteJSONUnencodable(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]float64{"C": math.Inf(1)})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if resp := decodeAPI(t, w); resp.OK || resp.Error == "" {
		t.Errorf("unexpected body: %+v", resp)
	}
}

func TestModelEndpointWithoutSession(t *testing.T) {
	resetAuth()
	SetSession(nil)
	if w := do(t, "GET", "/model", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestPropertiesEndpoint(t *testing.T) {
	withSession(t, definition.Example())

	w := do(t, "POST", "/properties", `{"values": {"A": 5}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeAPI(t, w)
	if !resp.OK {
		t.Errorf("expected ok, got error %q", resp.Error)
	}
	if resp.Values["A"] != 5 || resp.Values["C"] != 7 {
		t.Errorf("values = %v, want A=5 C=7", resp.Values)
	}

	tests := []struct {
		name     string
		method   string
		body     string
		wantCode int
	}{
		{"invalid json", "POST", `{"values":`, http.StatusBadRequest},
		{"missing values", "POST", `{}`, http.StatusBadRequest},
		{"empty values", "POST", `{"values": {}}`, http.StatusBadRequest},
		{"unknown property", "POST", `{"values": {"Z": 1}}`, http.StatusNotFound},
		{"wrong method", "GET", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, tt.method, "/properties", tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if resp := decodeAPI(t, w); resp.OK || resp.Error == "" {
				t.Errorf("expected error response, got %+v", resp)
			}
		})
	}
}

func TestPropertiesEndpointUnplannable(t *testing.T) {
	def, err := definition.Parse([]byte(knotYAML), "yaml")
	if err != nil {
		t.Fatal(err)
	}
	withSession(t, def)

	w := do(t, "POST", "/properties", `{"values": {"x": 4}}`)
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}
}

func TestConstraintsEndpoint(t *testing.T) {
	s := withSession(t, definition.Example())

	w := do(t, "POST", "/constraints", `{"name": "ABCConstraint", "enabled": false, "importance": 10}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	c := s.Snapshot().Constraints[0]
	if c.Enabled || c.Importance != 10 {
		t.Errorf("constraint = %+v, want disabled with importance 10", c)
	}

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"missing name", `{"enabled": true}`, http.StatusBadRequest},
		{"nothing to change", `{"name": "ABCConstraint"}`, http.StatusBadRequest},
		{"unknown constraint", `{"name": "nope", "enabled": true}`, http.StatusNotFound},
		{"invalid json", `nope`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, "POST", "/constraints", tt.body); w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}

func TestConstraintsEndpointRequiresAdmin(t *testing.T) {
	withSession(t, definition.Example())
	auth = fullAuth()
	defer resetAuth()

	req := httptest.NewRequest("POST", "/constraints", strings.NewReader(`{"name": "ABCConstraint", "enabled": false}`))
	req.SetBasicAuth("operator", "opsecret")
	w := httptest.NewRecorder()
	NewMux().ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestEventsHistoryEndpoint(t *testing.T) {
	resetAuth()
	events.SetPostgresClient(nil)

	if w := do(t, "GET", "/events/history?limit=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}
	if w := do(t, "GET", "/events/history?limit=10", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("no postgres: expected 503, got %d", w.Code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	withSession(t, definition.Example())

	w := do(t, "GET", "/events", "")
	var got []events.Event
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode events: %v", err)
	}
	if len(got) == 0 || got[0].Name != "model.loaded" {
		t.Errorf("expected model.loaded first, got %+v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	resetAuth()
	events.Emit("info", "system.startup", "", nil)

	w := do(t, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "propmodel_events_total") {
		t.Error("expected propmodel_events_total in metrics output")
	}

	if w := do(t, "POST", "/metrics", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestOperatorPage(t *testing.T) {
	resetAuth()

	w := do(t, "GET", "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if w := do(t, "GET", "/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
