// Package emitter publishes recorder status and preview snapshots to an
// MQTT broker and carries the control plane subscription.
package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/camrecorder/internal/command"
	"github.com/e7canasta/camrecorder/internal/config"
	"github.com/e7canasta/camrecorder/internal/thumbnail"
	"github.com/e7canasta/camrecorder/internal/types"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// MQTTEmitter publishes recorder status to the MQTT broker
type MQTTEmitter struct {
	cfg       *config.Config
	client    mqtt.Client
	newClient func(*mqtt.ClientOptions) mqtt.Client
	now       func() time.Time

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// PlaybackMessage is the JSON payload published on <status>/playback
type PlaybackMessage struct {
	InstanceID string `json:"instance_id"`
	Event      string `json:"event"`
	Status     string `json:"status,omitempty"`
	Seconds    uint64 `json:"seconds"`
	Message    string `json:"message,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// SnapshotEnvelope is the msgpack payload published on <status>/snapshot
type SnapshotEnvelope struct {
	Seq     uint64 `msgpack:"seq"`
	TraceID string `msgpack:"trace_id"`
	Format  string `msgpack:"format"`
	Width   int    `msgpack:"width"`
	Height  int    `msgpack:"height"`
	PNG     []byte `msgpack:"png"`
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		newClient: mqtt.NewClient,
		now:       time.Now,
		published: make(map[string]uint64),
	}
}

// Connect establishes connection to MQTT broker. The client reconnects on
// its own after a lost connection.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	broker := e.cfg.MQTT.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	// Suffix keeps a recorder and a thumbnail run on the same host apart
	clientID := fmt.Sprintf("%s-%s", e.cfg.MQTT.ClientID, uuid.NewString()[:8])

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("emitter: mqtt connection established",
			"broker", broker,
			"client_id", clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", broker,
			"max_retry_interval", "30s")
	}

	e.client = e.newClient(opts)

	slog.Info("emitter: connecting to mqtt broker", "broker", broker)

	if err := wait(ctx, e.client.Connect(), connectTimeout); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Publish sends payload to topic. It satisfies control.Publisher.
func (e *MQTTEmitter) Publish(topic string, payload []byte, qos byte) error {
	if !e.IsConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	if err := wait(context.Background(), e.client.Publish(topic, qos, false, payload), publishTimeout); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("emitter: published", "topic", topic, "qos", qos, "size", len(payload))
	return nil
}

// Subscribe registers handler for topic. It satisfies control.Subscriber.
func (e *MQTTEmitter) Subscribe(topic string, qos byte, handler func(payload []byte)) error {
	if e.client == nil {
		return fmt.Errorf("mqtt not connected")
	}
	token := e.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	if err := wait(context.Background(), token, connectTimeout); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe removes the subscription on topic
func (e *MQTTEmitter) Unsubscribe(topic string) error {
	if e.client == nil || !e.client.IsConnected() {
		return nil
	}
	return wait(context.Background(), e.client.Unsubscribe(topic), connectTimeout)
}

// PublishPlayback publishes a status command on <status>/playback. Commands
// that carry no playback status are ignored.
func (e *MQTTEmitter) PublishPlayback(cmd command.Command) error {
	msg, ok := NewPlaybackMessage(e.cfg.InstanceID, cmd, e.now())
	if !ok {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal playback status: %w", err)
	}
	return e.Publish(e.cfg.MQTT.Topics.Status+"/playback", payload, e.qos("playback"))
}

// PublishSnapshot encodes frame as a PNG no wider than thumbnail.max_width
// and publishes it on <status>/snapshot.
func (e *MQTTEmitter) PublishSnapshot(frame types.Frame) error {
	env, err := NewSnapshotEnvelope(frame, e.cfg.Thumbnail.MaxWidth)
	if err != nil {
		e.countError()
		return err
	}
	payload, err := msgpack.Marshal(env)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal msgpack snapshot: %w", err)
	}
	return e.Publish(e.cfg.MQTT.Topics.Status+"/snapshot", payload, e.qos("snapshot"))
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250) // 250ms grace period
		slog.Info("emitter: mqtt disconnected")
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

// IsConnected returns connection status
func (e *MQTTEmitter) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
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

func (e *MQTTEmitter) qos(kind string) byte {
	if qos, ok := e.cfg.MQTT.QoS[kind]; ok {
		return qos
	}
	return 0
}

// NewPlaybackMessage converts a playback status command into its wire form
func NewPlaybackMessage(instanceID string, cmd command.Command, now time.Time) (PlaybackMessage, bool) {
	msg := PlaybackMessage{
		InstanceID: instanceID,
		Event:      cmd.ID(),
		Timestamp:  now.UTC().Format(time.RFC3339),
	}

	switch c := cmd.(type) {
	case command.PlaybackPlaying:
		msg.Status = "playing"
		msg.Seconds = uint64(c.Position / time.Second)
	case command.PlaybackResuming:
		msg.Status = "playing"
	case command.PlaybackProgress:
		msg.Seconds = c.Seconds
	case command.PlaybackDuration:
		msg.Seconds = c.Seconds
	case command.PlaybackPausing:
		msg.Status = "paused"
	case command.PlaybackBlocked:
		msg.Status = "blocked"
	case command.PlaybackStopped:
		msg.Status = "stopped"
	case command.PlaybackFailed:
		msg.Status = "stopped"
		msg.Message = c.Message
	default:
		return PlaybackMessage{}, false
	}
	return msg, true
}

// NewSnapshotEnvelope builds the snapshot payload of a preview frame
func NewSnapshotEnvelope(frame types.Frame, maxWidth int) (SnapshotEnvelope, error) {
	img, err := thumbnail.Scale(frame, maxWidth)
	if err != nil {
		return SnapshotEnvelope{}, fmt.Errorf("failed to scale snapshot: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return SnapshotEnvelope{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	b := img.Bounds()
	return SnapshotEnvelope{
		Seq:     frame.Seq,
		TraceID: frame.TraceID,
		Format:  "png",
		Width:   b.Dx(),
		Height:  b.Dy(),
		PNG:     buf.Bytes(),
	}, nil
}

// wait blocks until the token completes, ctx is done or timeout expires
func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout after %s", timeout)
	}
}
