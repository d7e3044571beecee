// Package recorder assembles the recording graph and owns the live pipeline.
//
// A Recorder previews the camera through a frame bridge and, while playing,
// encodes video (and optionally audio) into a matroska file. It is created in
// NULL; Play starts both preview and recording.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/camrecorder/internal/framebridge"
	"github.com/e7canasta/camrecorder/internal/media"
	"github.com/e7canasta/camrecorder/internal/types"
)

// MaxVolume is the upper bound accepted by the volume element
const MaxVolume = 10.0

var (
	// ErrClosed is returned by operations on a closed recorder
	ErrClosed = errors.New("recorder: closed")
	// ErrNoAudio is returned by volume operations when the audio branch is disabled
	ErrNoAudio = errors.New("recorder: audio branch disabled")
	// ErrLiveSource is returned by Duration for live sources
	ErrLiveSource = errors.New("recorder: live source has no duration")
)

// EventKind is the kind of a recorder event
type EventKind int

const (
	EventPlaying EventKind = iota
	EventPaused
	EventResumed
	EventStopped
	EventProgress
	EventDuration
	EventBlocked
	EventError
)

// String returns a human-readable representation of the event kind
func (k EventKind) String() string {
	switch k {
	case EventPlaying:
		return "playing"
	case EventPaused:
		return "paused"
	case EventResumed:
		return "resumed"
	case EventStopped:
		return "stopped"
	case EventProgress:
		return "progress"
	case EventDuration:
		return "duration"
	case EventBlocked:
		return "blocked"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a playback status change published by the recorder
type Event struct {
	Kind EventKind
	// Position is set for EventPlaying and EventProgress
	Position time.Duration
	// Duration is set for EventDuration
	Duration time.Duration
	// Err is set for EventError
	Err error
}

// Stats contains recorder counters
type Stats struct {
	Status        types.PlaybackStatus
	FramesSent    uint64
	FramesDropped uint64
	EventsDropped uint64
	ErrorsCodec   uint64
	ErrorsRes     uint64
	ErrorsNetwork uint64
	ErrorsUnknown uint64
	StartedAt     time.Time
	Preview       FPSStats
}

// Recorder owns the recording pipeline
type Recorder struct {
	cfg      Config
	pipeline media.Pipeline
	graph    *graph
	bridge   *framebridge.Bridge

	mu        sync.Mutex
	status    types.PlaybackStatus
	volume    float64
	muted     bool
	rate      float64
	closed    bool
	startedAt time.Time
	stopping  chan struct{} // closed by the bus monitor on EOS during Stop

	events     chan Event
	monitoring atomic.Bool

	fps           fpsMeter
	frameSeq      atomic.Uint64
	framesSent    atomic.Uint64
	framesDropped atomic.Uint64
	eventsDropped atomic.Uint64

	errorsCodec    atomic.Uint64
	errorsResource atomic.Uint64
	errorsNetwork  atomic.Uint64
	errorsUnknown  atomic.Uint64
}

// New builds the recording graph in NULL and registers the preview callback.
//
// Construction failures (missing plugins, link errors) are returned wrapped
// in the media error taxonomy and are meant to be fatal at startup.
func New(engine media.Engine, cfg Config, bridge *framebridge.Bridge) (*Recorder, error) {
	if engine == nil {
		return nil, fmt.Errorf("recorder: engine is required")
	}
	if bridge == nil {
		return nil, fmt.Errorf("recorder: frame bridge is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("recorder: invalid config: %w", err)
	}

	if dir := filepath.Dir(cfg.OutputPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("recorder: failed to create output directory: %w", err)
		}
	}

	pipeline, err := engine.NewPipeline("camrecorder")
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	g, err := assemble(pipeline, cfg)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}

	r := &Recorder{
		cfg:      cfg,
		pipeline: pipeline,
		graph:    g,
		bridge:   bridge,
		status:   types.StatusStopped,
		volume:   cfg.Audio.Volume,
		rate:     1.0,
		events:   make(chan Event, 32),
	}

	if err := pipeline.OnSample(g.previewSink, r.onSample); err != nil {
		return nil, fmt.Errorf("recorder: failed to register preview callback: %w", err)
	}

	slog.Info("recorder: created",
		"pipeline", pipeline.Name(),
		"output", cfg.OutputPath,
		"live", cfg.Live,
	)
	return r, nil
}

// Events returns the channel of status events. Events are dropped when
// nobody drains it.
func (r *Recorder) Events() <-chan Event {
	return r.events
}

// Status returns the current playback status
func (r *Recorder) Status() types.PlaybackStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Play starts preview and recording from NULL/Stopped, or resumes a paused
// pipeline.
func (r *Recorder) Play() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	prev := r.status
	if prev == types.StatusPlaying {
		return nil
	}
	if err := r.pipeline.SetState(media.StatePlaying); err != nil {
		r.emit(Event{Kind: EventBlocked})
		return fmt.Errorf("recorder: failed to play: %w", err)
	}
	r.status = types.StatusPlaying

	if prev == types.StatusPaused {
		slog.Info("recorder: resumed")
		r.emit(Event{Kind: EventResumed})
		return nil
	}

	r.startedAt = time.Now()
	r.fps.reset()
	pos, _ := r.pipeline.QueryPosition()
	slog.Info("recorder: playing", "output", r.cfg.OutputPath)
	r.emit(Event{Kind: EventPlaying, Position: pos})
	return nil
}

// Resume is Play under the name used by the UI's toggle
func (r *Recorder) Resume() error {
	return r.Play()
}

// Pause moves a playing pipeline to PAUSED
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.status != types.StatusPlaying {
		return nil
	}
	if err := r.pipeline.SetState(media.StatePaused); err != nil {
		return fmt.Errorf("recorder: failed to pause: %w", err)
	}
	r.status = types.StatusPaused
	slog.Info("recorder: paused")
	r.emit(Event{Kind: EventPaused})
	return nil
}

// Stop finalizes the file and returns the pipeline to NULL.
//
// An EOS event is injected so the muxer can write its index; when the bus
// monitor is running Stop waits up to EOSTimeout for the EOS to reach the
// bus. A paused pipeline is set to PLAYING first so the EOS can flow. Play may be called again afterwards, which overwrites the output.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.status == types.StatusStopped {
		r.mu.Unlock()
		return nil
	}

	var wait chan struct{}
	if r.monitoring.Load() {
		flowing := r.status == types.StatusPlaying
		if r.status == types.StatusPaused {
			// EOS only travels to the muxer while the streaming threads run
			if err := r.pipeline.SetState(media.StatePlaying); err != nil {
				slog.Warn("recorder: failed to leave PAUSED for EOS, file may not be finalized", "error", err)
			} else {
				flowing = true
			}
		}
		if flowing {
			wait = make(chan struct{})
			r.stopping = wait
		}
	}
	if !r.pipeline.SendEOS() {
		slog.Warn("recorder: failed to send EOS, file may not be finalized")
		wait = nil
	}
	r.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
			slog.Debug("recorder: EOS reached the bus")
		case <-time.After(r.cfg.EOSTimeout):
			slog.Warn("recorder: timed out waiting for EOS", "timeout", r.cfg.EOSTimeout)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopping = nil
	return r.toStoppedLocked()
}

// toStoppedLocked must be called with mu held
func (r *Recorder) toStoppedLocked() error {
	if r.status == types.StatusStopped {
		return nil
	}
	if err := r.pipeline.SetState(media.StateNull); err != nil {
		return fmt.Errorf("recorder: failed to stop: %w", err)
	}
	r.status = types.StatusStopped
	slog.Info("recorder: stopped",
		"uptime", time.Since(r.startedAt),
		"frames_sent", r.framesSent.Load(),
	)
	r.emit(Event{Kind: EventStopped})
	return nil
}

// Seek moves to a time offset or a frame number
func (r *Recorder) Seek(pos types.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	var ok bool
	switch pos.Kind {
	case types.PositionFrame:
		ok = r.pipeline.SeekFrame(pos.Frame)
	default:
		ok = r.pipeline.SeekSimple(pos.Time)
	}
	if !ok {
		return fmt.Errorf("recorder: seek to %s: %w", pos, media.ErrSeek)
	}
	slog.Debug("recorder: seeked", "position", pos.String())
	return nil
}

// SetVolume sets the audio volume, within [0, MaxVolume]
func (r *Recorder) SetVolume(volume float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.graph.volume == nil {
		return ErrNoAudio
	}
	if volume < 0 || volume > MaxVolume {
		return fmt.Errorf("recorder: volume %g out of range [0, %g]", volume, MaxVolume)
	}
	if err := r.graph.volume.SetProperty("volume", volume); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	r.volume = volume
	return nil
}

// SetMuted mutes or unmutes the audio branch
func (r *Recorder) SetMuted(muted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.graph.volume == nil {
		return ErrNoAudio
	}
	if err := r.graph.volume.SetProperty("mute", muted); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	r.muted = muted
	return nil
}

// Volume returns the current volume and mute flag
func (r *Recorder) Volume() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.volume, r.muted
}

// SetRate changes the playback rate with a flushing seek at the current
// position. Rate must be non-zero.
func (r *Recorder) SetRate(rate float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if rate == 0 {
		return fmt.Errorf("recorder: rate must be non-zero")
	}
	pos, _ := r.pipeline.QueryPosition()
	if !r.pipeline.SeekRate(rate, pos) {
		return fmt.Errorf("recorder: set rate %g: %w", rate, media.ErrSeek)
	}
	r.rate = rate
	return nil
}

// Rate returns the last rate applied
func (r *Recorder) Rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rate
}

// Position returns the current stream position
func (r *Recorder) Position() (time.Duration, error) {
	pos, ok := r.pipeline.QueryPosition()
	if !ok {
		return 0, fmt.Errorf("recorder: %w", media.ErrDuration)
	}
	return pos, nil
}

// Duration returns the stream duration. Live sources have none.
func (r *Recorder) Duration() (time.Duration, error) {
	if r.cfg.Live {
		return 0, ErrLiveSource
	}
	d, ok := r.pipeline.QueryDuration()
	if !ok {
		return 0, fmt.Errorf("recorder: %w", media.ErrDuration)
	}
	return d, nil
}

// Stats returns a snapshot of the recorder counters
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	status, started := r.status, r.startedAt
	r.mu.Unlock()

	return Stats{
		Status:        status,
		FramesSent:    r.framesSent.Load(),
		FramesDropped: r.framesDropped.Load(),
		EventsDropped: r.eventsDropped.Load(),
		ErrorsCodec:   r.errorsCodec.Load(),
		ErrorsRes:     r.errorsResource.Load(),
		ErrorsNetwork: r.errorsNetwork.Load(),
		ErrorsUnknown: r.errorsUnknown.Load(),
		StartedAt:     started,
		Preview:       r.fps.stats(),
	}
}

// Close returns the pipeline to NULL and releases it. The producer side of
// the bridge is closed so a blocked consumer wakes up. Idempotent: only the
// first call can return an error.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.bridge.CloseSender()

	if err := r.pipeline.SetState(media.StateNull); err != nil {
		return fmt.Errorf("recorder: failed to release pipeline: %w", err)
	}
	if r.status != types.StatusStopped {
		r.status = types.StatusStopped
		r.emit(Event{Kind: EventStopped})
	}
	slog.Info("recorder: closed", "frames_sent", r.framesSent.Load())
	return nil
}

// Run monitors the pipeline bus until ctx is cancelled.
//
// EOS and errors move the recorder to Stopped and are published as events.
// There is no retry: an errored pipeline stays stopped until Play is called.
func (r *Recorder) Run(ctx context.Context) error {
	r.monitoring.Store(true)
	defer r.monitoring.Store(false)

	lastProgress := time.Now()
	durationSent := false

	for {
		select {
		case <-ctx.Done():
			slog.Debug("recorder: context cancelled, stopping bus monitor")
			return nil
		default:
		}

		if r.Status() == types.StatusPlaying && time.Since(lastProgress) >= r.cfg.ProgressInterval {
			lastProgress = time.Now()
			if pos, ok := r.pipeline.QueryPosition(); ok {
				r.publish(Event{Kind: EventProgress, Position: pos})
			}
		}

		// Poll with a short timeout for responsive shutdown
		msg := r.pipeline.PopMessage(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type {
		case media.MessageEOS:
			r.onEOS()
			durationSent = false

		case media.MessageError:
			r.onError(msg.Err)
			durationSent = false

		case media.MessageStateChanged:
			if msg.Source != r.pipeline.Name() {
				continue
			}
			slog.Debug("recorder: pipeline state changed",
				"from", msg.OldState.String(),
				"to", msg.NewState.String(),
			)
			if msg.NewState == media.StatePlaying && !durationSent && !r.cfg.Live {
				if d, ok := r.pipeline.QueryDuration(); ok {
					durationSent = true
					r.publish(Event{Kind: EventDuration, Duration: d})
				}
			}
		}
	}
}

func (r *Recorder) onEOS() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopping != nil {
		close(r.stopping)
		r.stopping = nil
		return
	}

	slog.Info("recorder: end of stream received",
		"uptime", time.Since(r.startedAt),
		"frames_sent", r.framesSent.Load(),
	)
	if err := r.toStoppedLocked(); err != nil {
		slog.Error("recorder: failed to stop after EOS", "error", err)
	}
}

func (r *Recorder) onError(engineErr *media.EngineError) {
	if engineErr == nil {
		engineErr = media.NewEngineError(r.pipeline.Name(), "unknown error", "")
	}

	switch engineErr.Category {
	case media.ErrCategoryCodec:
		r.errorsCodec.Add(1)
	case media.ErrCategoryResource:
		r.errorsResource.Add(1)
	case media.ErrCategoryNetwork:
		r.errorsNetwork.Add(1)
	default:
		r.errorsUnknown.Add(1)
	}

	slog.Error("recorder: pipeline error",
		"source", engineErr.Source,
		"error", engineErr.Message,
		"debug", engineErr.Debug,
		"category", engineErr.Category.String(),
		"frames_sent", r.framesSent.Load(),
	)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.emit(Event{Kind: EventError, Err: engineErr})
	if r.stopping != nil {
		close(r.stopping)
		r.stopping = nil
	}
	if err := r.toStoppedLocked(); err != nil {
		slog.Error("recorder: failed to stop after error", "error", err)
	}
}

// onSample runs on the streaming thread. Per-frame failures end the stream
// instead of propagating.
func (r *Recorder) onSample(s media.Sample, err error) media.FlowResult {
	if err != nil {
		slog.Warn("recorder: failed to read preview sample, ending stream", "error", err)
		return media.FlowEOS
	}

	frame := types.Frame{
		Seq:       r.frameSeq.Add(1),
		Timestamp: time.Now(),
		Format:    types.ParsePixelFormat(s.Caps.Format),
		Width:     s.Caps.Width,
		Height:    s.Caps.Height,
		Stride:    s.Caps.Stride,
		Data:      s.Data,
		TraceID:   uuid.New().String(),
	}
	if err := frame.Validate(); err != nil {
		slog.Warn("recorder: invalid preview frame, ending stream", "error", err, "seq", frame.Seq)
		return media.FlowEOS
	}

	r.fps.observe(frame.Timestamp)

	switch r.bridge.TrySend(frame) {
	case framebridge.Delivered:
		r.framesSent.Add(1)
	case framebridge.DroppedFull:
		r.framesDropped.Add(1)
		slog.Debug("recorder: dropping preview frame, slot full",
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
		)
	case framebridge.Disconnected:
		slog.Debug("recorder: preview consumer gone, ending stream", "seq", frame.Seq)
		return media.FlowEOS
	}
	return media.FlowOK
}

func (r *Recorder) publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emit(ev)
}

// emit must be called with mu held
func (r *Recorder) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.eventsDropped.Add(1)
		slog.Debug("recorder: dropping event, channel full", "kind", ev.Kind.String())
	}
}
