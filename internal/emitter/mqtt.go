// Package emitter publishes capture run events to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/care/oviss/internal/config"
)

// Event types published on the events topic
const (
	EventRunStarted   = "run_started"
	EventSlotArchived = "slot_archived"
	EventRunFinished  = "run_finished"
)

// Event is the JSON envelope of every published message
type Event struct {
	Type      string    `json:"type"`
	StoreID   string    `json:"store_id"`
	RunID     string    `json:"run_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Publisher is the part of an MQTT client used for emitting
type Publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTEmitter publishes run events to the MQTT broker
type MQTTEmitter struct {
	cfg     config.MQTTConfig
	storeID string
	client  mqtt.Client
	pub     Publisher

	mu        sync.RWMutex
	published map[string]uint64 // count per event type
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg.MQTT,
		storeID:   cfg.StoreID,
		published: make(map[string]uint64),
	}
}

// newEmitterWithPublisher wires an already connected publisher
func newEmitterWithPublisher(cfg config.MQTTConfig, storeID string, pub Publisher) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		storeID:   storeID,
		pub:       pub,
		published: make(map[string]uint64),
		connected: pub.IsConnected(),
	}
}

// Connect establishes connection to MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	broker := e.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.ClientID)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker)
	}

	client := mqtt.NewClient(opts)

	// the client keeps retrying in the background after a timeout, and
	// OnConnect flips the connected flag once the broker answers
	e.mu.Lock()
	e.client = client
	e.pub = client
	e.mu.Unlock()

	slog.Info("connecting to mqtt broker", "broker", e.cfg.Broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Client returns the underlying MQTT client for the control plane, or nil
// before Connect.
func (e *MQTTEmitter) Client() mqtt.Client {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client
}

// Publish sends an event of the given type on the events topic
func (e *MQTTEmitter) Publish(eventType, runID string, data any) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(Event{
		Type:      eventType,
		StoreID:   e.storeID,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := e.cfg.Topics.Events
	qos := e.cfg.QoS["events"]

	token := e.pub.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[eventType]++
	e.mu.Unlock()

	slog.Debug("event published",
		"topic", topic,
		"type", eventType,
		"size", len(payload),
	)
	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	client := e.Client()
	if client != nil && client.IsConnected() {
		client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}
	e.setConnected(false)
	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected && e.pub != nil
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
