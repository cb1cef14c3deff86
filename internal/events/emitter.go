package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/AaronLay10/propmodel/internal/metrics"
	"github.com/AaronLay10/propmodel/internal/storage/postgres"
)

var buffer = NewRingBuffer(256)

var (
	pgClient      *postgres.Client
	pgMu          sync.RWMutex
	pgErrorLogged bool

	sessionMu sync.RWMutex
	sessionID string
)

// SetPostgresClient sets the Postgres client for event persistence.
func SetPostgresClient(client *postgres.Client) {
	pgMu.Lock()
	pgClient = client
	pgErrorLogged = false
	pgMu.Unlock()
}

// GetPostgresClient returns the current Postgres client (for API queries).
func GetPostgresClient() *postgres.Client {
	pgMu.RLock()
	defer pgMu.RUnlock()
	return pgClient
}

// SetSessionID sets the session id stamped on subsequent events.
func SetSessionID(id string) {
	sessionMu.Lock()
	sessionID = id
	sessionMu.Unlock()
}

// SessionID returns the current session id.
func SessionID() string {
	sessionMu.RLock()
	defer sessionMu.RUnlock()
	return sessionID
}

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Session   string                 `json:"session,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	session := SessionID()
	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Session:   session,
		Fields:    fields,
	}

	buffer.Add(e)
	metrics.RecordEvent(level)
	broadcast(e)

	// Persist to Postgres (non-blocking, error-resistant)
	pgMu.RLock()
	client := pgClient
	errorLogged := pgErrorLogged
	pgMu.RUnlock()

	if client != nil {
		if err := client.Append(ts, level, name, msg, fields, session); err != nil {
			// Report once, straight into the buffer: going through Emit
			// would recurse while Postgres keeps failing.
			if !errorLogged {
				pgMu.Lock()
				if !pgErrorLogged {
					pgErrorLogged = true
					pgMu.Unlock()
					errEvent := Event{
						Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
						Level:     "error",
						Name:      "system.error",
						Message:   "postgres append failed",
						Session:   session,
						Fields: map[string]interface{}{
							"error": err.Error(),
						},
					}
					buffer.Add(errEvent)
					broadcast(errEvent)
				} else {
					pgMu.Unlock()
				}
			}
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return b, nil
}

func Snapshot() []Event {
	return buffer.Snapshot()
}

// TotalCount returns the number of events emitted since startup.
func TotalCount() uint64 {
	return buffer.Total()
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	buffer.Clear()
}
