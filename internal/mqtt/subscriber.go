package mqtt

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/propmodel/internal/events"
)

// Setter applies one property write. *session.Session implements it.
type Setter interface {
	Set(name string, value float64, source string) error
}

// SetSubscriber turns messages on <prefix>/set/<name> into property writes.
type SetSubscriber struct {
	mu         sync.Mutex
	conn       Conn
	registry   *Registry
	setter     Setter
	subscribed bool
}

// NewSetSubscriber creates a subscriber. Call Subscribe after connecting.
func NewSetSubscriber(conn Conn, registry *Registry, setter Setter) *SetSubscriber {
	return &SetSubscriber{
		conn:     conn,
		registry: registry,
		setter:   setter,
	}
}

// Subscribe subscribes to the set wildcard. Repeated calls are no-ops until
// ClearSubscriptions.
func (s *SetSubscriber) Subscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribed {
		return nil
	}
	if err := s.conn.Subscribe(s.registry.SetWildcard(), s.handle); err != nil {
		return err
	}
	s.subscribed = true
	return nil
}

// IsSubscribed reports whether the wildcard subscription is active.
func (s *SetSubscriber) IsSubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

// ClearSubscriptions forgets the subscription so the next Subscribe
// re-issues it. Call on disconnect.
func (s *SetSubscriber) ClearSubscriptions() {
	s.mu.Lock()
	s.subscribed = false
	s.mu.Unlock()
}

// Resubscribe clears and re-issues the subscription, logging failures as
// system.error. Suitable as a Client.OnReconnect hook.
func (s *SetSubscriber) Resubscribe() {
	s.ClearSubscriptions()
	if err := s.Subscribe(); err != nil {
		events.Emit("error", "system.error", "mqtt subscribe failed", map[string]interface{}{
			"topic": s.registry.SetWildcard(),
			"error": err.Error(),
		})
	}
}

func (s *SetSubscriber) handle(_ paho.Client, msg paho.Message) {
	topic := msg.Topic()
	name, ok := s.registry.NameFromSetTopic(topic)
	if !ok || !s.registry.Exists(name) {
		s.reject(topic, name, "unknown property")
		return
	}

	value, err := ParseValue(msg.Payload())
	if err != nil {
		s.reject(topic, name, err.Error())
		return
	}

	// Unknown names were filtered above; plan failures are already
	// reported by the session.
	_ = s.setter.Set(name, value, "mqtt")
}

func (s *SetSubscriber) reject(topic, name, reason string) {
	events.Emit("warn", "property.rejected", "", map[string]interface{}{
		"property": name,
		"topic":    topic,
		"source":   "mqtt",
		"reason":   reason,
	})
}

// ParseValue decodes a property value: a JSON number, a JSON string holding
// a number, an object {"value": n}, or a bare decimal. NaN and infinities
// are rejected.
func ParseValue(payload []byte) (float64, error) {
	v, err := parseNumber(payload)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("payload is not a finite number")
	}
	return v, nil
}

func parseNumber(payload []byte) (float64, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return 0, fmt.Errorf("empty payload")
	}

	var raw interface{}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		v, perr := strconv.ParseFloat(text, 64)
		if perr != nil {
			return 0, fmt.Errorf("payload is not a number: %q", text)
		}
		return v, nil
	}

	switch v := raw.(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("payload is not a number: %q", v)
		}
		return f, nil
	case map[string]interface{}:
		if f, ok := v["value"].(float64); ok {
			return f, nil
		}
		return 0, fmt.Errorf("payload object has no numeric value")
	}
	return 0, fmt.Errorf("payload is not a number: %q", text)
}
