package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/camrecorder/internal/command"
	"github.com/e7canasta/camrecorder/internal/config"
	"github.com/e7canasta/camrecorder/internal/media"
	"github.com/e7canasta/camrecorder/internal/media/mediatest"
	"github.com/e7canasta/camrecorder/internal/types"
)

const previewSink = "preview-sink"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Path = filepath.Join(t.TempDir(), "out.mkv")
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, *mediatest.Pipeline) {
	t.Helper()
	engine := mediatest.NewEngine()
	engine.Configure = func(p *mediatest.Pipeline) { p.PostEOSOnSend = true }

	app, err := New(cfg, engine)
	require.NoError(t, err)
	return app, engine.Last()
}

func rgbaSample(w, h int) media.Sample {
	return media.Sample{
		Data: make([]byte, w*h*4),
		Caps: media.Caps{Format: "RGBA", Width: w, Height: h, Stride: w * 4},
	}
}

// runApp starts Run in the background and returns a function that waits
// for it to return.
func runApp(t *testing.T, app *App, ctx context.Context, opts RunOptions) func() error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx, opts) }()

	return func() error {
		select {
		case err := <-errCh:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return")
			return nil
		}
	}
}

func shutdown(t *testing.T, app *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, app.Shutdown(ctx))
}

func TestNew_ConstructionFailure(t *testing.T) {
	engine := mediatest.NewEngine()
	engine.FailFactories = map[string]bool{"x264enc": true}

	_, err := New(testConfig(t), engine)
	assert.ErrorIs(t, err, media.ErrElementCreate)
}

func TestRun_HeadlessRecordsAndDrainsPreview(t *testing.T) {
	app, pipeline := newTestApp(t, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	wait := runApp(t, app, ctx, RunOptions{Headless: true})

	require.Eventually(t, func() bool {
		return app.Recorder().Status() == types.StatusPlaying
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, media.StatePlaying, pipeline.State())

	_, ok := pipeline.Emit(previewSink, rgbaSample(4, 2), nil)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		_, ok := app.LatestFrame()
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, wait())
	shutdown(t, app)

	assert.Equal(t, 1, pipeline.EOSSent())
	assert.Equal(t, media.StateNull, pipeline.State())
	assert.Equal(t, types.StatusStopped, app.Recorder().Status())
}

func TestRun_HeadlessExitsWhenRecordingEnds(t *testing.T) {
	app, pipeline := newTestApp(t, testConfig(t))

	wait := runApp(t, app, context.Background(), RunOptions{Headless: true})
	require.Eventually(t, func() bool {
		return app.Recorder().Status() == types.StatusPlaying
	}, time.Second, 5*time.Millisecond)

	pipeline.PostType(media.MessageEOS)

	require.NoError(t, wait())
	shutdown(t, app)
}

func TestRun_ForwardsStatusCommands(t *testing.T) {
	app, _ := newTestApp(t, testConfig(t))

	statuses := make(chan command.Command, 16)
	ctx, cancel := context.WithCancel(context.Background())
	wait := runApp(t, app, ctx, RunOptions{Status: func(cmd command.Command) { statuses <- cmd }})

	require.NoError(t, app.Controller().Handle(command.PlayResume{}))
	require.NoError(t, app.Controller().Handle(command.PlayPause{}))

	var got []string
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case cmd := <-statuses:
			got = append(got, cmd.ID())
		case <-timeout:
			t.Fatalf("status commands missing, got %v", got)
		}
	}
	assert.Equal(t, []string{command.IDPlaybackPlaying, command.IDPlaybackPausing}, got)

	cancel()
	require.NoError(t, wait())
	shutdown(t, app)
}

func TestShutdown_WithoutRunReleasesPipeline(t *testing.T) {
	app, pipeline := newTestApp(t, testConfig(t))

	require.NoError(t, app.Shutdown(context.Background()))
	require.NoError(t, app.Shutdown(context.Background()))
	assert.Equal(t, media.StateNull, pipeline.State())
}

type fakePublisher struct {
	mu        sync.Mutex
	handlers  map[string]func([]byte)
	published map[string][][]byte
	playback  []command.Command
	snapshots []types.Frame
	connected bool
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		handlers:  make(map[string]func([]byte)),
		published: make(map[string][][]byte),
	}
}

func (f *fakePublisher) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakePublisher) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePublisher) Publish(topic string, payload []byte, qos byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = append(f.published[topic], payload)
	return nil
}

func (f *fakePublisher) Subscribe(topic string, qos byte, handler func(payload []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakePublisher) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakePublisher) PublishPlayback(cmd command.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playback = append(f.playback, cmd)
	return nil
}

func (f *fakePublisher) PublishSnapshot(frame types.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, frame)
	return nil
}

func (f *fakePublisher) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	var h func([]byte)
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		h = f.handlers[topic]
		return h != nil
	}, time.Second, 5*time.Millisecond)
	h([]byte(payload))
}

func (f *fakePublisher) responses(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published[topic])
}

func TestRun_RemoteControl(t *testing.T) {
	cfg := testConfig(t)
	app, _ := newTestApp(t, cfg)
	pub := newFakePublisher()
	app.emitter = pub

	ctx, cancel := context.WithCancel(context.Background())
	wait := runApp(t, app, ctx, RunOptions{})

	pub.deliver(t, cfg.MQTT.Topics.Control, `{"command":"start_record"}`)
	require.Eventually(t, func() bool {
		return app.Recorder().Status() == types.StatusPlaying
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.playback) > 0
	}, time.Second, 5*time.Millisecond)
	pub.mu.Lock()
	assert.Equal(t, command.IDPlaybackPlaying, pub.playback[0].ID())
	pub.mu.Unlock()

	// no preview frame yet
	pub.deliver(t, cfg.MQTT.Topics.Control, `{"command":"snapshot"}`)
	require.Eventually(t, func() bool {
		return pub.responses(cfg.MQTT.Topics.Status) == 2
	}, time.Second, 5*time.Millisecond)
	app.ObserveFrame(types.Frame{Seq: 9, Format: types.FormatRGBA, Width: 1, Height: 1, Stride: 4, Data: make([]byte, 4)})
	pub.deliver(t, cfg.MQTT.Topics.Control, `{"command":"snapshot"}`)

	require.Eventually(t, func() bool {
		return pub.responses(cfg.MQTT.Topics.Status) == 3
	}, time.Second, 5*time.Millisecond)

	pub.mu.Lock()
	require.Len(t, pub.snapshots, 1)
	assert.Equal(t, uint64(9), pub.snapshots[0].Seq)
	var resp struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(pub.published[cfg.MQTT.Topics.Status][1], &resp))
	pub.mu.Unlock()
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrNoFrame.Error(), resp.Error)

	cancel()
	require.NoError(t, wait())
	shutdown(t, app)
	assert.False(t, pub.IsConnected())
}

func TestRun_ShutdownCommandEndsRun(t *testing.T) {
	cfg := testConfig(t)
	app, _ := newTestApp(t, cfg)
	pub := newFakePublisher()
	app.emitter = pub

	wait := runApp(t, app, context.Background(), RunOptions{})
	pub.deliver(t, cfg.MQTT.Topics.Control, `{"command":"shutdown"}`)

	require.NoError(t, wait())
	shutdown(t, app)
}

func TestHealthEndpoints(t *testing.T) {
	app, _ := newTestApp(t, testConfig(t))
	mux := app.HealthMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "not running yet")

	ctx, cancel := context.WithCancel(context.Background())
	wait := runApp(t, app, ctx, RunOptions{Headless: true})
	require.Eventually(t, func() bool {
		return app.HealthCheck().Playback == "playing"
	}, time.Second, 5*time.Millisecond)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.False(t, health.MQTTEnabled)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alive"`)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `camrecorder_playing{instance="camrecorder"} 1`)
	assert.Contains(t, body, `camrecorder_pipeline_errors_total{instance="camrecorder",category="codec"} 0`)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))

	cancel()
	require.NoError(t, wait())
	shutdown(t, app)
}

func TestGetStatus(t *testing.T) {
	app, _ := newTestApp(t, testConfig(t))

	status := app.GetStatus()
	assert.Equal(t, "camrecorder", status["instance_id"])
	assert.Equal(t, "stopped", status["status"])
	assert.Equal(t, false, status["running"])
	assert.Equal(t, 1.0, status["rate"])
	assert.Equal(t, 1.0, status["volume"])
	assert.Equal(t, false, status["muted"])
	require.NoError(t, app.Shutdown(context.Background()))
}
