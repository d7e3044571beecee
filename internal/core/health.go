package core

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/e7canasta/camrecorder/internal/types"
)

// HealthStatus represents the health state of the recorder service
type HealthStatus struct {
	Status        string  `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64   `json:"uptime_seconds"`
	Playback      string  `json:"playback"`
	MQTTEnabled   bool    `json:"mqtt_enabled"`
	MQTTConnected bool    `json:"mqtt_connected"`
	FramesSent    uint64  `json:"frames_sent"`
	FramesDropped uint64  `json:"frames_dropped"`
	DropRate      float64 `json:"drop_rate"`
	PreviewFPS    float64 `json:"preview_fps"`
	PipelineErrs  uint64  `json:"pipeline_errors"`
}

// HealthCheck returns the current health status of the service
func (a *App) HealthCheck() HealthStatus {
	a.mu.RLock()
	running, started := a.isRunning, a.started
	a.mu.RUnlock()

	stats := a.recorder.Stats()
	bridge := a.bridge.Stats()

	status := HealthStatus{
		Status:        "healthy",
		Playback:      stats.Status.String(),
		MQTTEnabled:   a.emitter != nil,
		FramesSent:    stats.FramesSent,
		FramesDropped: stats.FramesDropped,
		DropRate:      bridge.DropRate,
		PreviewFPS:    stats.Preview.Mean,
		PipelineErrs:  stats.ErrorsCodec + stats.ErrorsRes + stats.ErrorsNetwork + stats.ErrorsUnknown,
	}
	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	if a.emitter != nil {
		status.MQTTConnected = a.emitter.IsConnected()
	}

	switch {
	case !running:
		status.Status = "unhealthy"
	case status.MQTTEnabled && !status.MQTTConnected:
		status.Status = "degraded"
	case status.PipelineErrs > 0 && stats.Status == types.StatusStopped:
		status.Status = "degraded"
	}
	return status
}

// LivenessHandler handles /health: 200 while the process serves requests
func (a *App) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	started := a.started
	a.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(started).Seconds()),
	})
}

// ReadinessHandler handles /readiness: 503 when unhealthy, 200 otherwise
func (a *App) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	health := a.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// MetricsHandler handles /metrics in the Prometheus text format
func (a *App) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	stats := a.recorder.Stats()
	bridge := a.bridge.Stats()
	instance := a.cfg.InstanceID

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)

	metric := func(name string, value interface{}, labels ...string) {
		l := fmt.Sprintf(`instance=%q`, instance)
		for i := 0; i+1 < len(labels); i += 2 {
			l += fmt.Sprintf(`,%s=%q`, labels[i], labels[i+1])
		}
		fmt.Fprintf(w, "camrecorder_%s{%s} %v\n", name, l, value)
	}

	a.mu.RLock()
	started := a.started
	a.mu.RUnlock()
	if !started.IsZero() {
		metric("uptime_seconds", int64(time.Since(started).Seconds()))
	}
	metric("playing", boolMetric(stats.Status == types.StatusPlaying))
	metric("frames_sent_total", stats.FramesSent)
	metric("frames_dropped_total", stats.FramesDropped)
	metric("events_dropped_total", stats.EventsDropped)
	metric("preview_fps", fmt.Sprintf("%.2f", stats.Preview.Mean))
	metric("preview_stable", boolMetric(stats.Preview.Stable))
	metric("bridge_received_total", bridge.Received)
	metric("bridge_disconnected_total", bridge.Disconnected)
	metric("pipeline_errors_total", stats.ErrorsCodec, "category", "codec")
	metric("pipeline_errors_total", stats.ErrorsRes, "category", "resource")
	metric("pipeline_errors_total", stats.ErrorsNetwork, "category", "network")
	metric("pipeline_errors_total", stats.ErrorsUnknown, "category", "unknown")
}

func boolMetric(v bool) int {
	if v {
		return 1
	}
	return 0
}

// HealthMux returns the handler serving the health endpoints
func (a *App) HealthMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.LivenessHandler)
	mux.HandleFunc("/readiness", a.ReadinessHandler)
	mux.HandleFunc("/metrics", a.MetricsHandler)
	return mux
}

// StartHealthServer starts the HTTP health check server on port. The listen
// error is reported synchronously; serving runs in the background.
func (a *App) StartHealthServer(port int) error {
	addr := net.JoinHostPort("", strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("health server listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:      a.HealthMux(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	a.mu.Lock()
	a.health = server
	a.mu.Unlock()

	slog.Info("core: starting health check server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("core: health check server failed", "error", err)
		}
	}()
	return nil
}
