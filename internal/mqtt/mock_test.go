package mqtt

import (
	"errors"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// mockConn records subscriptions and publishes in memory.
type mockConn struct {
	mu            sync.Mutex
	subscriptions map[string]paho.MessageHandler
	published     []publishedMessage
	connected     bool
	failPublish   bool
	subscribeErr  error
	subscribes    int
}

type publishedMessage struct {
	topic    string
	retained bool
	payload  string
}

func newMockConn() *mockConn {
	return &mockConn{
		subscriptions: make(map[string]paho.MessageHandler),
		connected:     true,
	}
}

func (m *mockConn) Subscribe(topic string, handler paho.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribes++
	if m.subscribeErr != nil {
		return m.subscribeErr
	}
	m.subscriptions[topic] = handler
	return nil
}

func (m *mockConn) Publish(topic string, retained bool, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPublish {
		return errors.New("broker unavailable")
	}
	m.published = append(m.published, publishedMessage{topic: topic, retained: retained, payload: string(payload)})
	return nil
}

func (m *mockConn) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockConn) setConnected(c bool) {
	m.mu.Lock()
	m.connected = c
	m.mu.Unlock()
}

func (m *mockConn) messages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMessage(nil), m.published...)
}

// deliver routes a message through the wildcard subscription the way the
// broker would.
func (m *mockConn) deliver(wildcard, topic string, payload []byte) bool {
	m.mu.Lock()
	handler, ok := m.subscriptions[wildcard]
	m.mu.Unlock()
	if ok {
		handler(nil, &mockMessage{topic: topic, payload: payload})
	}
	return ok
}

type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 1 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}
