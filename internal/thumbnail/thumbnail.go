// Package thumbnail grabs a single raw frame from a media file at a given
// position.
//
//	uridecodebin → videoconvert → appsink
//
// The pipeline prerolls in PAUSED, seeks on the first ASYNC_DONE, plays until
// the sink has captured one frame and returns EOS.
package thumbnail

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/camrecorder/internal/framebridge"
	"github.com/e7canasta/camrecorder/internal/media"
	"github.com/e7canasta/camrecorder/internal/types"
)

// Options tunes the extraction
type Options struct {
	// Format is the raw format requested from the sink (RGBA by default)
	Format string
	// PollInterval bounds each bus wait
	PollInterval time.Duration
}

func (o *Options) withDefaults() {
	if o.Format == "" {
		o.Format = "RGBA"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
}

// Thumbnail is an extracted frame plus the media duration. It owns the
// pipeline until Close.
type Thumbnail struct {
	bridge   *framebridge.Bridge
	pipeline media.Pipeline
	// Duration of the media
	Duration time.Duration

	closeOnce sync.Once
	closeErr  error
}

// DurationSeconds returns the whole-second duration
func (t *Thumbnail) DurationSeconds() uint64 {
	return uint64(t.Duration / time.Second)
}

// Frame returns the captured frame. It returns framebridge.ErrDisconnected
// when no frame was captured and ctx.Err() when ctx is done first.
func (t *Thumbnail) Frame(ctx context.Context) (types.Frame, error) {
	return t.bridge.Receive(ctx)
}

// Close stops the pipeline. Safe to call more than once; only the first call
// can return an error.
func (t *Thumbnail) Close() error {
	t.closeOnce.Do(func() {
		t.bridge.Disconnect()
		if err := t.pipeline.SetState(media.StateNull); err != nil {
			slog.Error("thumbnail: could not stop pipeline", "error", err)
			t.closeErr = fmt.Errorf("thumbnail: %w", err)
			return
		}
		slog.Debug("thumbnail: pipeline stopped")
	})
	return t.closeErr
}

// NormalizeURI accepts a URI or a plain file path and returns a URI usable
// by uridecodebin.
func NormalizeURI(input string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("thumbnail: empty uri")
	}
	if strings.Contains(input, "://") {
		return input, nil
	}
	abs, err := filepath.Abs(input)
	if err != nil {
		return "", fmt.Errorf("thumbnail: resolve path %q: %w", input, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}

var launchEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// launchQuote quotes a parse-launch property value so spaces, '!' and quotes
// in it stay part of the value
func launchQuote(v string) string {
	return `"` + launchEscaper.Replace(v) + `"`
}

// Extract captures one frame of uri at position.
//
// A failed seek is not fatal: the first decoded frame is taken instead.
// Media without a known duration and bus errors are fatal; in both cases the
// pipeline is returned to NULL before the error is returned.
func Extract(ctx context.Context, engine media.Engine, uri string, position time.Duration, opts Options) (*Thumbnail, error) {
	opts.withDefaults()

	uri, err := NormalizeURI(uri)
	if err != nil {
		return nil, err
	}

	desc := fmt.Sprintf(`uridecodebin uri=%s ! videoconvert ! appsink name=sink caps="video/x-raw, format=%s"`, launchQuote(uri), opts.Format)
	pipeline, err := engine.ParseLaunch(desc)
	if err != nil {
		return nil, fmt.Errorf("thumbnail: %w", err)
	}

	sink, err := pipeline.ElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("thumbnail: %w", err)
	}
	// Don't synchronize on the clock, a snapshot is wanted asap
	if err := sink.SetProperty("sync", false); err != nil {
		return nil, fmt.Errorf("thumbnail: %w", err)
	}

	bridge := framebridge.New()
	var captured atomic.Bool
	err = pipeline.OnSample(sink, func(s media.Sample, err error) media.FlowResult {
		if err != nil {
			slog.Warn("thumbnail: failed to read sample, ending stream", "error", err)
			return media.FlowEOS
		}
		// Only a single buffer is wanted
		if !captured.CompareAndSwap(false, true) {
			return media.FlowEOS
		}

		frame := types.Frame{
			Seq:       1,
			Timestamp: time.Now(),
			Format:    types.ParsePixelFormat(s.Caps.Format),
			Width:     s.Caps.Width,
			Height:    s.Caps.Height,
			Stride:    s.Caps.Stride,
			Data:      s.Data,
		}
		switch bridge.TrySend(frame) {
		case framebridge.DroppedFull:
			slog.Debug("thumbnail: slot is full, discarded frame")
		case framebridge.Disconnected:
			slog.Debug("thumbnail: consumer gone, returning EOS")
		}
		return media.FlowEOS
	})
	if err != nil {
		return nil, fmt.Errorf("thumbnail: %w", err)
	}

	t := &Thumbnail{bridge: bridge, pipeline: pipeline}

	if err := pipeline.SetState(media.StatePaused); err != nil {
		return nil, fmt.Errorf("thumbnail: %w", err)
	}

	if err := t.run(ctx, position, opts.PollInterval); err != nil {
		if stopErr := pipeline.SetState(media.StateNull); stopErr != nil {
			slog.Error("thumbnail: could not stop pipeline", "error", stopErr)
		}
		bridge.Disconnect()
		return nil, err
	}

	bridge.CloseSender()
	return t, nil
}

func (t *Thumbnail) run(ctx context.Context, position time.Duration, poll time.Duration) error {
	seeked := false

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("thumbnail: %w", ctx.Err())
		default:
		}

		msg := t.pipeline.PopMessage(poll)
		if msg == nil {
			continue
		}

		switch msg.Type {
		case media.MessageAsyncDone:
			if seeked {
				slog.Debug("thumbnail: second async-done, seek finished")
				continue
			}

			d, ok := t.pipeline.QueryDuration()
			if !ok {
				return fmt.Errorf("thumbnail: %w", media.ErrDuration)
			}
			t.Duration = d

			// The pipeline prerolled, seeking is now possible
			slog.Debug("thumbnail: prerolled, seeking", "position", position, "duration", d)
			if !t.pipeline.SeekSimple(position) {
				slog.Warn("thumbnail: failed to seek, taking first frame", "position", position)
			}
			if err := t.pipeline.SetState(media.StatePlaying); err != nil {
				return fmt.Errorf("thumbnail: %w", err)
			}
			seeked = true

		case media.MessageEOS:
			// Posted right after the sink returned EOS
			slog.Debug("thumbnail: end of stream, done")
			return nil

		case media.MessageError:
			if msg.Err == nil {
				return fmt.Errorf("thumbnail: unknown pipeline error from %s", msg.Source)
			}
			return fmt.Errorf("thumbnail: %w", msg.Err)
		}
	}
}
