package mqtt

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
)

// StatePublisher publishes changed property values as retained JSON numbers
// on <prefix>/state/<name>. It implements session.Publisher.
type StatePublisher struct {
	conn     Conn
	registry *Registry

	mu     sync.Mutex
	failed int
}

// NewStatePublisher creates a publisher.
func NewStatePublisher(conn Conn, registry *Registry) *StatePublisher {
	return &StatePublisher{conn: conn, registry: registry}
}

// Publish sends every changed value. Values are dropped while the broker
// is disconnected; the next change or reconnect republishes.
func (p *StatePublisher) Publish(changed map[string]float64) {
	if !p.conn.IsConnected() {
		return
	}

	names := make([]string, 0, len(changed))
	for name := range changed {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		payload, err := json.Marshal(changed[name])
		if err != nil {
			// NaN and Inf have no JSON form.
			p.recordFailure(name, err)
			continue
		}
		if err := p.conn.Publish(p.registry.StateTopic(name), true, payload); err != nil {
			p.recordFailure(name, err)
		}
	}
}

func (p *StatePublisher) recordFailure(name string, err error) {
	p.mu.Lock()
	p.failed++
	p.mu.Unlock()
	log.Printf("mqtt: failed to publish %s: %v", p.registry.StateTopic(name), err)
}

// Failures returns the number of values that could not be published.
func (p *StatePublisher) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}
