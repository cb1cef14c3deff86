package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var metricsState = &MetricsState{}

// MetricsState holds process details reported next to the collectors.
type MetricsState struct {
	mu        sync.RWMutex
	startTime time.Time
	modelName string
}

// InitMetrics records the start time. Must be called at startup.
func InitMetrics() {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.startTime = time.Now()
}

// SetModelName sets the name of the loaded model.
func SetModelName(name string) {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.modelName = name
}

// GetModelName returns the name of the loaded model.
func GetModelName() string {
	metricsState.mu.RLock()
	defer metricsState.mu.RUnlock()
	return metricsState.modelName
}

// Uptime returns the time since InitMetrics.
func Uptime() time.Duration {
	metricsState.mu.RLock()
	defer metricsState.mu.RUnlock()
	if metricsState.startTime.IsZero() {
		return 0
	}
	return time.Since(metricsState.startTime)
}

var promHandler = promhttp.Handler()

// metricsHandler serves the Prometheus registry.
func metricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	promHandler.ServeHTTP(w, r)
}
