// Package control implements the MQTT control plane: JSON requests arrive on
// the control topic, are translated into recorder commands and answered on
// the status topic.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/camrecorder/internal/command"
)

// QueueSize bounds the requests waiting to be processed
const QueueSize = 10

// ErrStopped is returned by Start after Stop
var ErrStopped = errors.New("control: handler stopped")

// Request represents a control plane request
type Request struct {
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

// Publisher sends a payload to a topic
type Publisher interface {
	Publish(topic string, payload []byte, qos byte) error
}

// Subscriber delivers payloads published on a topic
type Subscriber interface {
	Subscribe(topic string, qos byte, handler func(payload []byte)) error
	Unsubscribe(topic string) error
}

// Topics configures where requests are read and responses written
type Topics struct {
	Control    string
	Status     string
	ControlQoS byte
	StatusQoS  byte
}

// Callbacks connect the handler to the application
type Callbacks struct {
	// Dispatch delivers a recorder control command
	Dispatch    func(cmd command.Command) error
	OnGetStatus func() map[string]interface{}
	OnSnapshot  func() error
	OnShutdown  func() error
}

// Handler handles control plane requests
type Handler struct {
	topics    Topics
	sub       Subscriber
	pub       Publisher
	callbacks Callbacks
	requests  chan Request
	now       func() time.Time

	// ShutdownDelay lets the shutdown response reach the broker first
	ShutdownDelay time.Duration

	mu      sync.Mutex
	stopped bool
	dropped uint64
}

// NewHandler creates a new control plane handler
func NewHandler(topics Topics, sub Subscriber, pub Publisher, callbacks Callbacks) *Handler {
	return &Handler{
		topics:        topics,
		sub:           sub,
		pub:           pub,
		callbacks:     callbacks,
		requests:      make(chan Request, QueueSize),
		now:           time.Now,
		ShutdownDelay: 500 * time.Millisecond,
	}
}

// Start subscribes to the control topic and processes requests until ctx
// is done or Stop is called.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	stopped := h.stopped
	h.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	slog.Info("control: subscribing", "topic", h.topics.Control, "qos", h.topics.ControlQoS)
	if err := h.sub.Subscribe(h.topics.Control, h.topics.ControlQoS, h.onMessage); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	go h.processRequests(ctx)

	slog.Info("control: handler started")
	return nil
}

// Stop unsubscribes and ends request processing. Safe to call twice.
func (h *Handler) Stop() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	close(h.requests)
	h.mu.Unlock()

	if err := h.sub.Unsubscribe(h.topics.Control); err != nil {
		slog.Warn("control: unsubscribe failed", "error", err)
	}
	slog.Info("control: handler stopped")
	return nil
}

// Dropped returns the number of requests dropped on a full queue
func (h *Handler) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// onMessage runs on the MQTT client goroutine and must not block
func (h *Handler) onMessage(payload []byte) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		slog.Error("control: failed to parse request", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control: request received", "command", req.Command)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	select {
	case h.requests <- req:
	default:
		h.dropped++
		slog.Warn("control: request queue full, dropping request", "command", req.Command)
	}
}

func (h *Handler) processRequests(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-h.requests:
			if !ok {
				return
			}
			h.handleRequest(req)
		}
	}
}

// remoteCommands maps request names onto recorder commands and the name of
// their numeric parameter.
var remoteCommands = map[string]struct {
	id    string
	param string
}{
	"start_record": {id: command.IDPlayResume},
	"stop_record":  {id: command.IDPlayPause},
	"stop":         {id: command.IDPlayStop},
	"seek":         {id: command.IDPlaySeek, param: "seconds"},
	"set_volume":   {id: command.IDPlayVolume, param: "volume"},
	"set_rate":     {id: command.IDPlayRate, param: "rate"},
}

func (h *Handler) handleRequest(req Request) {
	resp := Response{CommandAck: req.Command}

	switch req.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			resp.fail("get_status not implemented")
			break
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "snapshot":
		if h.callbacks.OnSnapshot == nil {
			resp.fail("snapshot not implemented")
			break
		}
		if err := h.callbacks.OnSnapshot(); err != nil {
			resp.fail(err.Error())
			break
		}
		resp.Status = "success"

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			resp.fail("shutdown not implemented")
			break
		}
		slog.Warn("control: shutdown requested")
		resp.Status = "success"
		resp.Data = map[string]interface{}{"shutdown_initiated": true}
		h.sendResponse(resp)

		go func() {
			time.Sleep(h.ShutdownDelay)
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("control: shutdown callback failed", "error", err)
			}
		}()
		return

	default:
		remote, ok := remoteCommands[req.Command]
		if !ok {
			resp.fail(fmt.Sprintf("unknown command: %s", req.Command))
			break
		}
		if h.callbacks.Dispatch == nil {
			resp.fail(req.Command + " not implemented")
			break
		}

		var arg float64
		if remote.param != "" {
			v, ok := req.Params[remote.param].(float64)
			if !ok {
				resp.fail(fmt.Sprintf("missing or invalid '%s' parameter (expected number)", remote.param))
				break
			}
			arg = v
		}

		cmd, err := command.Parse(remote.id, arg)
		if err != nil {
			resp.fail(err.Error())
			break
		}
		if err := h.callbacks.Dispatch(cmd); err != nil {
			resp.fail(err.Error())
			break
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{"command": cmd.ID()}
		if remote.param != "" {
			resp.Data[remote.param] = arg
		}
	}

	h.sendResponse(resp)
}

func (r *Response) fail(msg string) {
	r.Status = "error"
	r.Error = msg
}

// sendResponse publishes a response on the status topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = h.now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	if err := h.pub.Publish(h.topics.Status, payload, h.topics.StatusQoS); err != nil {
		slog.Error("control: failed to publish response", "error", err)
		return
	}

	slog.Debug("control: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
