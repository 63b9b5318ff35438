// Package control accepts operator commands over MQTT and answers on the
// responses topic.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/care/oviss/internal/config"
)

// Command names accepted on the control topic
const (
	CmdRunNow    = "run_now"
	CmdCancelRun = "cancel_run"
	CmdGetStatus = "get_status"
	CmdPause     = "pause"
	CmdResume    = "resume"
)

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Client is the part of an MQTT client the handler needs
type Client interface {
	IsConnected() bool
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnRunNow    func() error
	OnCancelRun func() bool
	OnGetStatus func() map[string]interface{}
	OnPause     func() error
	OnResume    func() error
}

// Handler handles control plane commands
type Handler struct {
	topics   config.MQTTTopics
	qos      byte
	client   Client
	commands chan Command

	mu        sync.RWMutex
	isPaused  bool
	callbacks CommandCallbacks
}

// NewHandler creates a new control plane handler
func NewHandler(cfg config.MQTTConfig, client Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		topics:    cfg.Topics,
		qos:       cfg.QoS["control"],
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
}

// Start subscribes to the control topic and processes commands until ctx
// is cancelled
func (h *Handler) Start(ctx context.Context) error {
	topic := h.topics.Control

	slog.Info("subscribing to control plane", "topic", topic, "qos", h.qos)

	token := h.client.Subscribe(topic, h.qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	go h.processCommands(ctx)
	return nil
}

// Stop unsubscribes from the control topic
func (h *Handler) Stop() error {
	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.topics.Control)
		token.WaitTimeout(2 * time.Second)
	}
	slog.Info("control plane handler stopped")
	return nil
}

func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	h.enqueue(msg.Payload())
}

// enqueue parses a raw command and queues it for processing
func (h *Handler) enqueue(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.handleCommand(cmd)
		}
	}
}

// handleCommand executes a command and publishes the response
func (h *Handler) handleCommand(cmd Command) {
	resp := Response{CommandAck: cmd.Command}

	notImplemented := func() {
		resp.Status = "error"
		resp.Error = cmd.Command + " not implemented"
	}

	switch cmd.Command {
	case CmdRunNow:
		if h.callbacks.OnRunNow == nil {
			notImplemented()
			break
		}
		if err := h.callbacks.OnRunNow(); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
		} else {
			resp.Status = "accepted"
		}

	case CmdCancelRun:
		if h.callbacks.OnCancelRun == nil {
			notImplemented()
			break
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{"cancelled": h.callbacks.OnCancelRun()}

	case CmdGetStatus:
		if h.callbacks.OnGetStatus == nil {
			notImplemented()
			break
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case CmdPause:
		if h.callbacks.OnPause == nil {
			notImplemented()
			break
		}
		if err := h.callbacks.OnPause(); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			break
		}
		h.setPaused(true)
		resp.Status = "paused"
		resp.Data = map[string]interface{}{"schedule_active": false}

	case CmdResume:
		if h.callbacks.OnResume == nil {
			notImplemented()
			break
		}
		if err := h.callbacks.OnResume(); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			break
		}
		h.setPaused(false)
		resp.Status = "resumed"
		resp.Data = map[string]interface{}{"schedule_active": true}

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.topics.Responses, h.qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

func (h *Handler) setPaused(v bool) {
	h.mu.Lock()
	h.isPaused = v
	h.mu.Unlock()
}

// IsPaused returns whether the schedule was paused from the control plane
func (h *Handler) IsPaused() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isPaused
}
