package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/AaronLay10/propmodel/internal/metrics"
)

var readiness = &readinessState{}

type readinessState struct {
	mu                sync.RWMutex
	sessionReady      bool
	mqttConnected     bool
	mqttOptional      bool
	postgresConnected bool
	postgresOptional  bool
}

// CheckResult is the state of one readiness dependency.
type CheckResult struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
}

// ReadinessResponse is the body of /ready.
type ReadinessResponse struct {
	Ready       bool                   `json:"ready"`
	Checks      map[string]CheckResult `json:"checks"`
	NotReadyMsg string                 `json:"message,omitempty"`
}

// SetSessionReady marks whether a model session is loaded.
func SetSessionReady(ready bool) {
	readiness.mu.Lock()
	readiness.sessionReady = ready
	readiness.mu.Unlock()
}

// SetMQTTState records broker connectivity. An optional broker never
// blocks readiness.
func SetMQTTState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.mqttConnected = connected
	readiness.mqttOptional = optional
	readiness.mu.Unlock()
	metrics.SetMQTTConnected(connected)
}

// SetPostgresState records database connectivity.
func SetPostgresState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.postgresConnected = connected
	readiness.postgresOptional = optional
	readiness.mu.Unlock()
	metrics.SetPostgresConnected(connected)
}

func connectivity() (mqttUp, pgUp bool) {
	readiness.mu.RLock()
	defer readiness.mu.RUnlock()
	return readiness.mqttConnected, readiness.postgresConnected
}

func dependencyCheck(connected, optional bool) (CheckResult, bool) {
	switch {
	case connected:
		return CheckResult{Status: "ok", Optional: optional}, true
	case optional:
		return CheckResult{Status: "unavailable", Optional: true}, true
	default:
		return CheckResult{Status: "not_ready"}, false
	}
}

func readyHandler(w http.ResponseWriter, r *http.Request) {
	readiness.mu.RLock()
	sessionReady := readiness.sessionReady
	mqttCheck, mqttOK := dependencyCheck(readiness.mqttConnected, readiness.mqttOptional)
	pgCheck, pgOK := dependencyCheck(readiness.postgresConnected, readiness.postgresOptional)
	readiness.mu.RUnlock()

	resp := ReadinessResponse{
		Ready:  true,
		Checks: make(map[string]CheckResult, 3),
	}
	var reasons []string

	if sessionReady {
		resp.Checks["session"] = CheckResult{Status: "ok"}
	} else {
		resp.Checks["session"] = CheckResult{Status: "not_ready"}
		resp.Ready = false
		reasons = append(reasons, "no model loaded")
	}

	resp.Checks["mqtt"] = mqttCheck
	if !mqttOK {
		resp.Ready = false
		reasons = append(reasons, "mqtt not connected")
	}

	resp.Checks["postgres"] = pgCheck
	if !pgOK {
		resp.Ready = false
		reasons = append(reasons, "postgres not connected")
	}

	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		resp.NotReadyMsg = strings.Join(reasons, "; ")
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
