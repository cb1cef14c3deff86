// Package metrics holds the Prometheus collectors of the property model
// service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "propmodel"

var (
	// planCycles counts update cycles.
	// Labels: model, outcome (ok, unplannable, invalid)
	planCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "plan",
		Name:      "cycles_total",
		Help:      "Update cycles by outcome",
	}, []string{"model", "outcome"})

	// planSelections counts which planner produced each accepted plan.
	// Labels: model, solver
	planSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "plan",
		Name:      "selections_total",
		Help:      "Accepted plans by planner",
	}, []string{"model", "solver"})

	// planDuration measures planning plus execution time of a cycle.
	// Labels: model
	planDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "plan",
		Name:      "duration_seconds",
		Help:      "Update cycle duration in seconds",
		Buckets:   []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"model"})

	// propertyWrites counts external property writes.
	// Labels: model, source (api, mqtt, cli)
	propertyWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "property",
		Name:      "writes_total",
		Help:      "External property writes by source",
	}, []string{"model", "source"})

	// constraintsFulfilled is the number of constraints satisfied by the last plan.
	// Labels: model
	constraintsFulfilled = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "constraint",
		Name:      "fulfilled",
		Help:      "Constraints fulfilled by the last plan",
	}, []string{"model"})

	// reloads counts model definition reloads.
	// Labels: outcome (ok, invalid)
	reloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "model",
		Name:      "reloads_total",
		Help:      "Model definition reloads by outcome",
	}, []string{"outcome"})

	// eventsEmitted counts structured events.
	// Labels: level
	eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Structured events emitted since startup",
	}, []string{"level"})

	wsClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_clients",
		Help:      "Active websocket event stream clients",
	})

	mqttConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mqtt_connected",
		Help:      "Whether the MQTT broker is connected (1) or not (0)",
	})

	postgresConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "postgres_connected",
		Help:      "Whether PostgreSQL is connected (1) or not (0)",
	})

	buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build version, always 1",
	}, []string{"version"})
)

// RecordCycle records a successful update cycle.
func RecordCycle(model, solver string, fulfilled int, d time.Duration) {
	planCycles.WithLabelValues(model, "ok").Inc()
	planSelections.WithLabelValues(model, solver).Inc()
	planDuration.WithLabelValues(model).Observe(d.Seconds())
	constraintsFulfilled.WithLabelValues(model).Set(float64(fulfilled))
}

// RecordCycleFailure records a cycle that planned nothing.
// outcome is "unplannable" or "invalid".
func RecordCycleFailure(model, outcome string) {
	planCycles.WithLabelValues(model, outcome).Inc()
}

// RecordPropertyWrite records one external write.
func RecordPropertyWrite(model, source string) {
	propertyWrites.WithLabelValues(model, source).Inc()
}

// RecordReload records a definition reload attempt.
func RecordReload(ok bool) {
	if ok {
		reloads.WithLabelValues("ok").Inc()
		return
	}
	reloads.WithLabelValues("invalid").Inc()
}

// RecordEvent counts one structured event.
func RecordEvent(level string) {
	eventsEmitted.WithLabelValues(level).Inc()
}

// SetWSClients sets the number of websocket clients.
func SetWSClients(n int) {
	wsClients.Set(float64(n))
}

// SetMQTTConnected reports broker connectivity.
func SetMQTTConnected(connected bool) {
	mqttConnected.Set(boolGauge(connected))
}

// SetPostgresConnected reports database connectivity.
func SetPostgresConnected(connected bool) {
	postgresConnected.Set(boolGauge(connected))
}

// SetBuildInfo publishes the running version.
func SetBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
