// Package mqtt bridges a property model to an MQTT broker: property writes
// arrive on set topics and changed values leave on retained state topics.
package mqtt

import (
	"log"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/propmodel/internal/events"
	"github.com/AaronLay10/propmodel/internal/metrics"
)

// Conn is the part of a broker connection the bridge needs.
type Conn interface {
	Subscribe(topic string, handler paho.MessageHandler) error
	Publish(topic string, retained bool, payload []byte) error
	IsConnected() bool
}

// Client wraps the Paho MQTT client.
type Client struct {
	client paho.Client
	mu     sync.Mutex

	hookMu      sync.Mutex
	onReconnect []func()
}

// BrokerURL returns the MQTT broker URL from env or default.
func BrokerURL() string {
	if url := os.Getenv("MQTT_URL"); url != "" {
		return url
	}
	return "tcp://localhost:1883"
}

// NewClient creates a new MQTT client but does not connect. Connection
// changes are reported as mqtt.connected / mqtt.disconnected events.
func NewClient(clientID string) *Client {
	c := &Client{}
	opts := paho.NewClientOptions().
		AddBroker(BrokerURL()).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetOnConnectHandler(func(paho.Client) { c.handleConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { c.handleConnectionLost(err) })

	c.client = paho.NewClient(opts)
	return c
}

// OnReconnect registers fn to run after every successful (re)connect.
// Subscriptions are not restored by the broker for a clean session, so
// subscribers hook in here.
func (c *Client) OnReconnect(fn func()) {
	c.hookMu.Lock()
	c.onReconnect = append(c.onReconnect, fn)
	c.hookMu.Unlock()
}

func (c *Client) handleConnect() {
	metrics.SetMQTTConnected(true)
	events.Emit("info", "mqtt.connected", "", map[string]interface{}{
		"broker": BrokerURL(),
	})

	c.hookMu.Lock()
	hooks := append([]func(){}, c.onReconnect...)
	c.hookMu.Unlock()
	for _, fn := range hooks {
		// Runs on a fresh goroutine: paho blocks its handler until it returns
		// and Subscribe waits on paho.
		go fn()
	}
}

func (c *Client) handleConnectionLost(err error) {
	metrics.SetMQTTConnected(false)
	events.Emit("warn", "mqtt.disconnected", "", map[string]interface{}{
		"broker": BrokerURL(),
		"error":  err.Error(),
	})
}

// Connect attempts to connect to the broker.
// Returns an error if connection fails, but does not block indefinitely.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return &ConnectTimeoutError{}
	}
	return token.Error()
}

// Subscribe subscribes to a topic with the given handler.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Subscribe(topic, 1, handler)
	if !token.WaitTimeout(10 * time.Second) {
		return &SubscribeTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Publish sends payload at QoS 1.
func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	token := c.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return &PublishTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.client.Disconnect(1000)
	metrics.SetMQTTConnected(false)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct{}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout"
}

// SubscribeTimeoutError indicates subscription timed out.
type SubscribeTimeoutError struct {
	Topic string
}

func (e *SubscribeTimeoutError) Error() string {
	return "mqtt subscribe timeout: " + e.Topic
}

// PublishTimeoutError indicates a publish was not acknowledged in time.
type PublishTimeoutError struct {
	Topic string
}

func (e *PublishTimeoutError) Error() string {
	return "mqtt publish timeout: " + e.Topic
}

// StartWithRetry connects, logging instead of failing. Subscriptions are
// made by the OnReconnect hooks. Returns true if connected.
func (c *Client) StartWithRetry() bool {
	if err := c.Connect(); err != nil {
		log.Printf("mqtt: failed to connect to %s: %v", BrokerURL(), err)
		return false
	}
	log.Printf("mqtt: connected to %s", BrokerURL())
	return true
}
