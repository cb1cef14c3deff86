package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AaronLay10/propmodel/internal/config"
	"github.com/AaronLay10/propmodel/internal/events"
)

// Alert severity levels
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Alert event types
const (
	AlertMQTTDisconnected    = "mqtt_disconnected"
	AlertPostgresUnavailable = "postgres_unavailable"
	AlertUnplannable         = "model_unplannable"
)

// AlertPayload is the JSON structure sent to the webhook.
type AlertPayload struct {
	ModelName string                 `json:"model_name"`
	Event     string                 `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// AlertConfig holds alert configuration.
type AlertConfig struct {
	WebhookURL              string
	MQTTDisconnectDelay     time.Duration // how long MQTT must be down before alerting
	PostgresDisconnectDelay time.Duration // how long Postgres must be down before alerting
}

// outage tracks one dependency between checks.
type outage struct {
	since     time.Time
	alertSent bool
	lastUp    bool
}

var (
	alertConfig = &AlertConfig{
		MQTTDisconnectDelay:     30 * time.Second,
		PostgresDisconnectDelay: 5 * time.Second,
	}
	alertMu     sync.Mutex
	alertClient = &http.Client{Timeout: 10 * time.Second}

	mqttOutage              outage
	postgresOutage          outage
	planFailing             bool
	alertMonitorInitialized bool
)

// InitAlerts reads PROPMODEL_ALERT_WEBHOOK_URL, PROPMODEL_MQTT_ALERT_DELAY
// and PROPMODEL_POSTGRES_ALERT_DELAY.
func InitAlerts() {
	alertMu.Lock()
	defer alertMu.Unlock()

	alertConfig.WebhookURL = os.Getenv("PROPMODEL_ALERT_WEBHOOK_URL")
	alertConfig.MQTTDisconnectDelay = config.EnvDuration("PROPMODEL_MQTT_ALERT_DELAY", 30*time.Second)
	alertConfig.PostgresDisconnectDelay = config.EnvDuration("PROPMODEL_POSTGRES_ALERT_DELAY", 5*time.Second)

	if alertConfig.WebhookURL != "" {
		log.Printf("alerts enabled: webhook URL configured (mqtt_delay=%s, pg_delay=%s)",
			alertConfig.MQTTDisconnectDelay, alertConfig.PostgresDisconnectDelay)
	}

	// Assume dependencies are up at start.
	mqttOutage = outage{lastUp: true}
	postgresOutage = outage{lastUp: true}
	planFailing = false
	alertMonitorInitialized = true
}

// GetAlertWebhookURL returns the configured webhook URL.
func GetAlertWebhookURL() string {
	alertMu.Lock()
	defer alertMu.Unlock()
	return alertConfig.WebhookURL
}

// SendAlert posts an alert to the webhook without blocking. Without a
// webhook the alert is only logged.
func SendAlert(event, severity, message string, details map[string]interface{}) {
	alertMu.Lock()
	webhookURL := alertConfig.WebhookURL
	alertMu.Unlock()

	if webhookURL == "" {
		log.Printf("[ALERT] %s severity=%s msg=%q details=%v", event, severity, message, details)
		return
	}

	modelName := GetModelName()
	if modelName == "" {
		modelName = "unknown"
	}

	payload := AlertPayload{
		ModelName: modelName,
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Severity:  severity,
		Message:   message,
		Details:   details,
	}

	go sendWebhook(webhookURL, payload)
}

func sendWebhook(url string, payload AlertPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("alert: failed to marshal payload: %v", err)
		return
	}

	resp, err := alertClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("alert: webhook POST failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("alert: webhook returned status %d", resp.StatusCode)
	}
}

// checkOutage advances o and reports which alert, if any, is due.
// Caller holds alertMu.
func checkOutage(o *outage, up bool, delay time.Duration, now time.Time) (recovered, down bool) {
	if up {
		recovered = !o.lastUp && o.alertSent
		*o = outage{lastUp: true}
		return recovered, false
	}
	if o.lastUp {
		o.since = now
	}
	o.lastUp = false
	if !o.alertSent && now.Sub(o.since) >= delay {
		o.alertSent = true
		return false, true
	}
	return false, false
}

// CheckAndAlertMQTT alerts once MQTT has been down for the configured
// delay, and again when it recovers.
func CheckAndAlertMQTT(connected bool) {
	alertMu.Lock()
	if !alertMonitorInitialized {
		alertMu.Unlock()
		return
	}
	now := time.Now()
	recovered, down := checkOutage(&mqttOutage, connected, alertConfig.MQTTDisconnectDelay, now)
	since := mqttOutage.since
	alertMu.Unlock()

	switch {
	case recovered:
		SendAlert(AlertMQTTDisconnected, SeverityInfo, "MQTT connection restored", map[string]interface{}{
			"recovered_at": now.UTC().Format(time.RFC3339),
		})
	case down:
		SendAlert(AlertMQTTDisconnected, SeverityWarning, "MQTT broker disconnected", map[string]interface{}{
			"disconnected_since":   since.UTC().Format(time.RFC3339),
			"disconnected_seconds": int(now.Sub(since).Seconds()),
		})
	}
}

// CheckAndAlertPostgres alerts once Postgres has been unavailable for the
// configured delay, and again when it recovers.
func CheckAndAlertPostgres(connected bool) {
	alertMu.Lock()
	if !alertMonitorInitialized {
		alertMu.Unlock()
		return
	}
	now := time.Now()
	recovered, down := checkOutage(&postgresOutage, connected, alertConfig.PostgresDisconnectDelay, now)
	since := postgresOutage.since
	alertMu.Unlock()

	switch {
	case recovered:
		SendAlert(AlertPostgresUnavailable, SeverityInfo, "PostgreSQL connection restored", map[string]interface{}{
			"recovered_at": now.UTC().Format(time.RFC3339),
		})
	case down:
		SendAlert(AlertPostgresUnavailable, SeverityCritical, "PostgreSQL unavailable", map[string]interface{}{
			"disconnected_since":   since.UTC().Format(time.RFC3339),
			"disconnected_seconds": int(now.Sub(since).Seconds()),
		})
	}
}

// CheckAndAlertPlan alerts on the first failed update cycle after a
// successful one, and again when planning succeeds.
func CheckAndAlertPlan(failed bool, details map[string]interface{}) {
	alertMu.Lock()
	if !alertMonitorInitialized || failed == planFailing {
		alertMu.Unlock()
		return
	}
	planFailing = failed
	alertMu.Unlock()

	if failed {
		SendAlert(AlertUnplannable, SeverityCritical, "model cannot be planned", details)
		return
	}
	SendAlert(AlertUnplannable, SeverityInfo, "model planning restored", details)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// handleAlertEvent follows the event stream: plan outcomes drive the plan
// alert and MQTT connection events drive readiness.
func handleAlertEvent(e events.Event) {
	switch e.Name {
	case "plan.failed":
		CheckAndAlertPlan(true, e.Fields)
	case "plan.selected":
		CheckAndAlertPlan(false, map[string]interface{}{"solver": e.Fields["solver"]})
	case "mqtt.connected":
		setMQTTConnected(true)
	case "mqtt.disconnected":
		setMQTTConnected(false)
	}
}

func setMQTTConnected(connected bool) {
	readiness.mu.RLock()
	optional := readiness.mqttOptional
	readiness.mu.RUnlock()
	SetMQTTState(connected, optional)
}

// RunAlertMonitor checks dependencies every interval and follows events
// until ctx ends. pg may be nil when Postgres is disabled.
func RunAlertMonitor(ctx context.Context, interval time.Duration, pg Pinger) error {
	sub := events.Subscribe()
	defer events.Unsubscribe(sub)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case e, ok := <-sub:
			if !ok {
				return nil
			}
			handleAlertEvent(e)

		case <-ticker.C:
			if pg != nil {
				pingCtx, cancel := context.WithTimeout(ctx, interval)
				err := pg.Ping(pingCtx)
				cancel()
				readiness.mu.RLock()
				optional := readiness.postgresOptional
				readiness.mu.RUnlock()
				SetPostgresState(err == nil, optional)
			}

			mqttUp, pgUp := connectivity()
			CheckAndAlertMQTT(mqttUp)
			if pg != nil {
				CheckAndAlertPostgres(pgUp)
			}
		}
	}
}
