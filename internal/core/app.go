// Package core wires the recorder, the frame bridge, the command controller
// and the optional MQTT and health services into one application.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/camrecorder/internal/command"
	"github.com/e7canasta/camrecorder/internal/config"
	"github.com/e7canasta/camrecorder/internal/control"
	"github.com/e7canasta/camrecorder/internal/emitter"
	"github.com/e7canasta/camrecorder/internal/framebridge"
	"github.com/e7canasta/camrecorder/internal/media"
	"github.com/e7canasta/camrecorder/internal/recorder"
	"github.com/e7canasta/camrecorder/internal/types"
)

// ErrNoFrame is returned by a snapshot request before any preview frame
var ErrNoFrame = errors.New("core: no preview frame yet")

// StatusPublisher is the part of the MQTT emitter the app publishes through
type StatusPublisher interface {
	control.Publisher
	control.Subscriber
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	PublishPlayback(cmd command.Command) error
	PublishSnapshot(frame types.Frame) error
}

// RunOptions select how the app is driven
type RunOptions struct {
	// Status receives every status command in event order. The terminal UI
	// passes a function that forwards to its program.
	Status func(command.Command)
	// Remote delivers commands from the control plane. Nil dispatches them
	// to the controller directly.
	Remote func(command.Command) error
	// Headless starts recording immediately, drains the preview frames and
	// ends Run when the recording stops.
	Headless bool
}

// App is the camrecorder service orchestrator
type App struct {
	cfg *config.Config

	bridge         *framebridge.Bridge
	recorder       *recorder.Recorder
	controller     *command.Controller
	emitter        StatusPublisher
	controlHandler *control.Handler
	health         *http.Server

	latest atomic.Pointer[types.Frame]

	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	bgCancel  context.CancelFunc // background goroutines outlive Run until Shutdown
	cancelRun context.CancelFunc // shutdown command and headless stop
}

// New builds the recorder graph and the services enabled in cfg. Pipeline
// construction errors are returned as is and are fatal for the caller.
func New(cfg *config.Config, engine media.Engine) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("core: config is required")
	}

	bridge := framebridge.New()
	rec, err := recorder.New(engine, cfg.Recorder(), bridge)
	if err != nil {
		return nil, fmt.Errorf("failed to create recorder: %w", err)
	}

	a := &App{
		cfg:        cfg,
		bridge:     bridge,
		recorder:   rec,
		controller: command.NewController(rec),
	}
	if cfg.MQTT.Enabled {
		a.emitter = emitter.NewMQTTEmitter(cfg)
	}

	slog.Info("core: app created",
		"instance_id", cfg.InstanceID,
		"output", cfg.Output.Path,
		"mqtt", cfg.MQTT.Enabled,
		"health", cfg.Health.Enabled,
	)
	return a, nil
}

// Controller returns the command controller driving the recorder
func (a *App) Controller() *command.Controller {
	return a.controller
}

// Bridge returns the preview frame bridge
func (a *App) Bridge() *framebridge.Bridge {
	return a.bridge
}

// Recorder returns the recording pipeline
func (a *App) Recorder() *recorder.Recorder {
	return a.recorder
}

// ObserveFrame remembers the latest preview frame for snapshots
func (a *App) ObserveFrame(frame types.Frame) {
	a.latest.Store(&frame)
}

// LatestFrame returns the last preview frame seen
func (a *App) LatestFrame() (types.Frame, bool) {
	f := a.latest.Load()
	if f == nil {
		return types.Frame{}, false
	}
	return *f, true
}

// Run starts the services and blocks until ctx is cancelled, a shutdown
// command arrives or, in headless mode, the recording stops.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	a.mu.Lock()
	if a.isRunning {
		a.mu.Unlock()
		return fmt.Errorf("core: app is already running")
	}
	a.isRunning = true
	a.started = time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	bgCtx, bgCancel := context.WithCancel(context.Background())
	a.cancelRun = cancel
	a.bgCancel = bgCancel
	a.mu.Unlock()

	slog.Info("core: app starting", "instance_id", a.cfg.InstanceID, "headless", opts.Headless)

	if a.cfg.Health.Enabled {
		if err := a.StartHealthServer(a.cfg.Health.Port); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
	}

	if a.emitter != nil {
		if err := a.emitter.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}

		remote := opts.Remote
		if remote == nil {
			remote = a.controller.Handle
		}
		handler := control.NewHandler(control.Topics{
			Control:    a.cfg.MQTT.Topics.Control,
			Status:     a.cfg.MQTT.Topics.Status,
			ControlQoS: a.cfg.MQTT.QoS["control"],
			StatusQoS:  a.cfg.MQTT.QoS["status"],
		}, a.emitter, a.emitter, control.Callbacks{
			Dispatch:    remote,
			OnGetStatus: a.GetStatus,
			OnSnapshot:  a.publishSnapshot,
			OnShutdown:  a.shutdownViaControl,
		})
		a.mu.Lock()
		a.controlHandler = handler
		a.mu.Unlock()
		if err := handler.Start(bgCtx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.recorder.Run(bgCtx); err != nil {
			slog.Error("core: bus monitor failed", "error", err)
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.forwardEvents(bgCtx, opts)
	}()

	if opts.Headless {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.drainFrames(bgCtx)
		}()

		if err := a.recorder.Play(); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
	}

	slog.Info("core: app running")

	<-ctx.Done()

	slog.Info("core: run loop exiting")
	return nil
}

// Shutdown finalizes the recording and stops every service. The timeout of
// ctx bounds the wait for the app's own goroutines.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if !a.isRunning {
		a.mu.Unlock()
		return a.recorder.Close()
	}
	a.isRunning = false
	bgCancel := a.bgCancel
	controlHandler, health := a.controlHandler, a.health
	a.mu.Unlock()

	slog.Info("core: shutting down")

	// 1. Finish the file while the bus monitor still runs
	if err := a.recorder.Stop(); err != nil {
		slog.Error("core: failed to stop recording", "error", err)
	}

	// 2. Stop the control plane
	if controlHandler != nil {
		if err := controlHandler.Stop(); err != nil {
			slog.Error("core: failed to stop control handler", "error", err)
		}
	}

	// 3. Wait for goroutines to finish
	bgCancel()
	a.bridge.Disconnect()
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	var shutdownErr error
	select {
	case <-done:
	case <-ctx.Done():
		shutdownErr = fmt.Errorf("core: shutdown timed out waiting for goroutines: %w", ctx.Err())
		slog.Warn("core: shutdown timed out waiting for goroutines")
	}

	// 4. Release the pipeline
	if err := a.recorder.Close(); err != nil {
		slog.Error("core: failed to close recorder", "error", err)
		shutdownErr = errors.Join(shutdownErr, err)
	}

	// 5. Disconnect MQTT and the health server
	if a.emitter != nil {
		if err := a.emitter.Disconnect(); err != nil {
			slog.Error("core: failed to disconnect mqtt", "error", err)
		}
	}
	if health != nil {
		if err := health.Shutdown(ctx); err != nil {
			slog.Error("core: failed to stop health server", "error", err)
		}
	}

	stats := a.recorder.Stats()
	slog.Info("core: shutdown complete",
		"uptime", time.Since(a.started),
		"frames_sent", stats.FramesSent,
		"frames_dropped", stats.FramesDropped,
	)
	return shutdownErr
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (a *App) ShutdownTimeout() time.Duration {
	if t := a.cfg.ShutdownTimeout(); t > 0 {
		return t
	}
	return 5 * time.Second
}

// GetStatus returns the current status of the service
func (a *App) GetStatus() map[string]interface{} {
	a.mu.RLock()
	running, started := a.isRunning, a.started
	a.mu.RUnlock()

	stats := a.recorder.Stats()
	bridge := a.bridge.Stats()
	status := map[string]interface{}{
		"instance_id":    a.cfg.InstanceID,
		"running":        running,
		"status":         stats.Status.String(),
		"output":         a.cfg.Output.Path,
		"frames_sent":    stats.FramesSent,
		"frames_dropped": stats.FramesDropped,
		"drop_rate":      bridge.DropRate,
		"preview_fps":    stats.Preview.Mean,
	}
	if running {
		status["uptime_s"] = time.Since(started).Seconds()
	}
	if pos, err := a.recorder.Position(); err == nil {
		status["position_s"] = pos.Seconds()
	}
	vol, muted := a.recorder.Volume()
	status["volume"] = vol
	status["muted"] = muted
	status["rate"] = a.recorder.Rate()
	return status
}

// forwardEvents turns recorder events into status commands for the UI and
// the MQTT status topic.
func (a *App) forwardEvents(ctx context.Context, opts RunOptions) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.recorder.Events():
			cmd, ok := command.FromEvent(ev)
			if !ok {
				continue
			}

			if opts.Status != nil {
				opts.Status(cmd)
			} else {
				slog.Info("core: playback status", "event", cmd.ID(), "position", ev.Position)
			}

			if a.emitter != nil && a.emitter.IsConnected() {
				if err := a.emitter.PublishPlayback(cmd); err != nil {
					slog.Debug("core: failed to publish playback status", "error", err)
				}
			}

			if opts.Headless && ev.Kind == recorder.EventStopped {
				slog.Info("core: recording stopped, exiting")
				a.requestStop()
			}
		}
	}
}

// drainFrames keeps the preview moving when no UI consumes it
func (a *App) drainFrames(ctx context.Context) {
	for {
		frame, err := a.bridge.Receive(ctx)
		if err != nil {
			return
		}
		a.ObserveFrame(frame)
	}
}

func (a *App) publishSnapshot() error {
	frame, ok := a.LatestFrame()
	if !ok {
		return ErrNoFrame
	}
	if a.emitter == nil {
		return fmt.Errorf("core: mqtt disabled")
	}
	return a.emitter.PublishSnapshot(frame)
}

func (a *App) shutdownViaControl() error {
	slog.Warn("core: shutdown requested via control plane")
	a.requestStop()
	return nil
}

func (a *App) requestStop() {
	a.mu.RLock()
	cancel := a.cancelRun
	a.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}
