package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AaronLay10/propmodel/internal/events"
	"github.com/AaronLay10/propmodel/internal/orchestrator"
	"github.com/AaronLay10/propmodel/internal/session"
	"github.com/AaronLay10/propmodel/internal/version"
)

// Session is the part of *session.Session the handlers use.
type Session interface {
	Snapshot() session.Snapshot
	SetMany(values map[string]float64, source string) error
	UpdateConstraint(name string, upd session.ConstraintUpdate) error
}

var (
	sessMu sync.RWMutex
	sess   Session

	requestValidate = validator.New()
)

// SetSession sets the session served by the model endpoints.
func SetSession(s Session) {
	sessMu.Lock()
	sess = s
	sessMu.Unlock()
	SetSessionReady(s != nil)
}

func currentSession() Session {
	sessMu.RLock()
	defer sessMu.RUnlock()
	return sess
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Model     string `json:"model,omitempty"`
	Hostname  string `json:"hostname"`
	UptimeSec int64  `json:"uptime_seconds"`
	Timestamp string `json:"ts"`
}

// APIResponse is the body of every write endpoint.
type APIResponse struct {
	OK     bool               `json:"ok"`
	Error  string             `json:"error,omitempty"`
	Values map[string]float64 `json:"values,omitempty"`
}

// PropertiesRequest is the body of POST /properties.
type PropertiesRequest struct {
	Values map[string]float64 `json:"values" validate:"required,min=1"`
}

// ConstraintRequest is the body of POST /constraints. At least one of
// Enabled and Importance must be set.
type ConstraintRequest struct {
	Name       string `json:"name" validate:"required"`
	Enabled    *bool  `json:"enabled" validate:"required_without=Importance"`
	Importance *uint  `json:"importance" validate:"required_without=Enabled"`
}

// writeJSON encodes v before writing the header so an unencodable body
// becomes a 500 rather than an empty 200.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("api: encode response: %v", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"ok":false,"error":"response encoding failed"}` + "\n"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_, _ = w.Write(append(b, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{OK: false, Error: msg})
}

// errorStatus maps session errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrUnknownProperty), errors.Is(err, session.ErrUnknownConstraint):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrUnplannable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "propmodel",
		Version:   version.Version,
		Model:     GetModelName(),
		Hostname:  host,
		UptimeSec: int64(Uptime().Seconds()),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func modelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s := currentSession()
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "no model loaded")
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func propertiesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req PropertiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := requestValidate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "values required")
		return
	}

	s := currentSession()
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "no model loaded")
		return
	}
	if err := s.SetMany(req.Values, "api"); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	values := make(map[string]float64)
	for _, p := range s.Snapshot().Properties {
		values[p.Name] = p.Value
	}
	writeJSON(w, http.StatusOK, APIResponse{OK: true, Values: values})
}

func constraintsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ConstraintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := requestValidate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "name and enabled or importance required")
		return
	}

	s := currentSession()
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "no model loaded")
		return
	}
	upd := session.ConstraintUpdate{Enabled: req.Enabled, Importance: req.Importance}
	if err := s.UpdateConstraint(req.Name, upd); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{OK: true})
}

func eventsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, events.Snapshot())
}

// eventsHistoryHandler reads persisted events for the loaded model.
func eventsHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	client := events.GetPostgresClient()
	if client == nil {
		writeError(w, http.StatusServiceUnavailable, "event history unavailable")
		return
	}
	rows, err := client.Query(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// NewMux returns the API routes.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler)
	mux.HandleFunc("/metrics", metricsHandler)
	mux.HandleFunc("/model", RequireAnyRole(modelHandler))
	mux.HandleFunc("/properties", RequireAnyRole(propertiesHandler))
	mux.HandleFunc("/constraints", RequireAdmin(constraintsHandler))
	mux.HandleFunc("/events", RequireAnyRole(eventsHandler))
	mux.HandleFunc("/events/history", RequireAnyRole(eventsHistoryHandler))
	mux.HandleFunc("/ws", RequireAnyRole(wsEventsHandler))
	mux.HandleFunc("/", RequireAnyRole(uiHandler))
	return mux
}

// Serve runs the API server on port until ctx ends, then shuts it down.
func Serve(ctx context.Context, port int) error {
	tlsCfg, err := LoadTLSConfig()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewMux(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if tlsCfg != nil {
			log.Printf("API listening on %s (TLS)", srv.Addr)
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		log.Printf("API listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events.CloseAllSubscribers()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}
