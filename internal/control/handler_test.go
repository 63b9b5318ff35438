package control

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/care/oviss/internal/config"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeClient struct {
	mu         sync.Mutex
	subscribed string
	responses  chan Response
}

func newFakeClient() *fakeClient {
	return &fakeClient{responses: make(chan Response, 16)}
}

func (c *fakeClient) IsConnected() bool { return true }

func (c *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.subscribed = topic
	c.mu.Unlock()
	return doneToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token { return doneToken{} }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var resp Response
	if err := json.Unmarshal(payload.([]byte), &resp); err == nil && topic == "ctl/responses" {
		c.responses <- resp
	}
	return doneToken{}
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Topics: config.MQTTTopics{Control: "ctl", Responses: "ctl/responses"},
		QoS:    map[string]byte{"control": 1},
	}
}

func (c *fakeClient) next(t *testing.T) Response {
	t.Helper()
	select {
	case r := <-c.responses:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no response published")
		return Response{}
	}
}

func TestHandleCommand(t *testing.T) {
	runs := 0
	callbacks := CommandCallbacks{
		OnRunNow: func() error {
			runs++
			if runs > 1 {
				return errors.New("capture run already in progress")
			}
			return nil
		},
		OnCancelRun: func() bool { return true },
		OnGetStatus: func() map[string]interface{} { return map[string]interface{}{"running": false} },
		OnPause:     func() error { return nil },
		OnResume:    func() error { return nil },
	}

	tests := []struct {
		command    string
		wantStatus string
		wantError  bool
	}{
		{CmdRunNow, "accepted", false},
		{CmdRunNow, "error", true},
		{CmdCancelRun, "success", false},
		{CmdGetStatus, "success", false},
		{CmdPause, "paused", false},
		{CmdResume, "resumed", false},
		{"reboot", "error", true},
	}

	client := newFakeClient()
	h := NewHandler(testConfig(), client, callbacks)

	for _, tt := range tests {
		h.handleCommand(Command{Command: tt.command})
		resp := client.next(t)
		if resp.CommandAck != tt.command || resp.Status != tt.wantStatus {
			t.Errorf("%s: response = %+v", tt.command, resp)
		}
		if (resp.Error != "") != tt.wantError {
			t.Errorf("%s: error = %q", tt.command, resp.Error)
		}
		if _, err := time.Parse(time.RFC3339, resp.Timestamp); err != nil {
			t.Errorf("%s: timestamp %q: %v", tt.command, resp.Timestamp, err)
		}
	}
}

func TestPauseResumeState(t *testing.T) {
	client := newFakeClient()
	h := NewHandler(testConfig(), client, CommandCallbacks{
		OnPause:  func() error { return nil },
		OnResume: func() error { return errors.New("no scheduler") },
	})

	h.handleCommand(Command{Command: CmdPause})
	client.next(t)
	if !h.IsPaused() {
		t.Error("handler should be paused")
	}

	h.handleCommand(Command{Command: CmdResume})
	if resp := client.next(t); resp.Status != "error" {
		t.Errorf("resume response = %+v", resp)
	}
	if !h.IsPaused() {
		t.Error("failed resume must keep the paused state")
	}
}

func TestMissingCallback(t *testing.T) {
	client := newFakeClient()
	h := NewHandler(testConfig(), client, CommandCallbacks{})

	h.handleCommand(Command{Command: CmdGetStatus})
	if resp := client.next(t); resp.Status != "error" || resp.Error == "" {
		t.Errorf("response = %+v", resp)
	}
}

func TestStartProcessesQueuedCommands(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newFakeClient()
	h := NewHandler(testConfig(), client, CommandCallbacks{
		OnGetStatus: func() map[string]interface{} { return map[string]interface{}{"ok": true} },
	})
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if client.subscribed != "ctl" {
		t.Errorf("subscribed to %q", client.subscribed)
	}

	h.enqueue([]byte(`{"command":"get_status"}`))
	if resp := client.next(t); resp.CommandAck != CmdGetStatus || resp.Data["ok"] != true {
		t.Errorf("response = %+v", resp)
	}

	h.enqueue([]byte(`not json`))
	if resp := client.next(t); resp.CommandAck != "unknown" || resp.Error != "invalid JSON" {
		t.Errorf("response = %+v", resp)
	}
}
