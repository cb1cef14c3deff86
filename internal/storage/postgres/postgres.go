// Package postgres stores the structured event audit trail. Model state
// itself is never persisted.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// EventRow represents an event stored in Postgres.
type EventRow struct {
	EventID   int64                  `json:"event_id"`
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   *string                `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Model     string                 `json:"model"`
	SessionID *string                `json:"session_id,omitempty"`
}

// Client manages the Postgres connection for event storage.
type Client struct {
	db    *sql.DB
	model string

	mu sync.Mutex
}

// New connects using the PG* environment variables and creates the events
// table. Events are tagged with the given model name.
func New(model string) (*Client, error) {
	db, err := sql.Open("postgres", connString())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{
		db:    db,
		model: model,
	}

	if err := client.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}

	return client, nil
}

func connString() string {
	host := getEnv("PGHOST", "127.0.0.1")
	port := getEnv("PGPORT", "5432")
	user := getEnv("PGUSER", "propmodel")
	dbname := getEnv("PGDATABASE", "propmodel")
	password := os.Getenv("PGPASSWORD")

	if password != "" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			host, port, user, password, dbname)
	}
	return fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		host, port, user, dbname)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func (c *Client) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS events (
			event_id   BIGSERIAL PRIMARY KEY,
			ts         TIMESTAMPTZ NOT NULL,
			level      TEXT NOT NULL,
			event      TEXT NOT NULL,
			msg        TEXT,
			fields     JSONB,
			model      TEXT NOT NULL,
			session_id TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_events_model ON events(model);
		CREATE INDEX IF NOT EXISTS idx_events_session_id ON events(session_id);
	`
	_, err := c.db.Exec(query)
	return err
}

// SetModel changes the model name used for subsequent rows. Called when a
// definition is reloaded under a new name.
func (c *Client) SetModel(model string) {
	c.mu.Lock()
	c.model = model
	c.mu.Unlock()
}

func (c *Client) modelName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// Append inserts an event into the database.
func (c *Client) Append(ts time.Time, level, event, msg string, fields map[string]interface{}, sessionID string) error {
	var fieldsJSON []byte
	var err error
	if fields != nil {
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	var msgPtr *string
	if msg != "" {
		msgPtr = &msg
	}

	var sessionPtr *string
	if sessionID != "" {
		sessionPtr = &sessionID
	}

	query := `
		INSERT INTO events (ts, level, event, msg, fields, model, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = c.db.Exec(query, ts, level, event, msgPtr, fieldsJSON, c.modelName(), sessionPtr)
	return err
}

// clampLimit bounds a history query to [1, 10000], defaulting to 200.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 200
	}
	if limit > 10000 {
		return 10000
	}
	return limit
}

// Query returns the last N events of the current model, newest first.
func (c *Client) Query(limit int) ([]EventRow, error) {
	query := `
		SELECT event_id, ts, level, event, msg, fields, model, session_id
		FROM events
		WHERE model = $1
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := c.db.Query(query, c.modelName(), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg, sessionID sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.Model, &sessionID); err != nil {
			return nil, err
		}

		if msg.Valid {
			e.Message = &msg.String
		}
		if sessionID.Valid {
			e.SessionID = &sessionID.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
