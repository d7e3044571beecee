// Package command defines the named, typed commands exchanged between the
// widget tree and the live pipeline, and the controller that forwards
// control commands to the pipeline.
package command

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/e7canasta/camrecorder/internal/recorder"
	"github.com/e7canasta/camrecorder/internal/types"
)

// Command identifiers. Every command has a distinct id.
const (
	IDPlaybackPlaying  = "app.playback-playing"
	IDPlaybackProgress = "app.playback-progress"
	IDPlaybackDuration = "app.playback-duration"
	IDPlaybackPausing  = "app.playback-pausing"
	IDPlaybackResuming = "app.playback-resuming"
	IDPlaybackBlocked  = "app.playback-blocked"
	IDPlaybackStopped  = "app.playback-stopped"
	IDPlaybackFailed   = "app.playback-failed"

	IDPlayIndex    = "app.play-index"
	IDPlayPrevious = "app.play-previous"
	IDPlayNext     = "app.play-next"
	IDPlayPause    = "app.play-pause"
	IDPlayResume   = "app.play-resume"
	IDPlayStop     = "app.play-stop"
	IDPlaySeek     = "app.play-seek"
	IDPlayVolume   = "app.play-volume"
	IDPlayRate     = "app.play-rate"

	IDVideoFrame = "app.video-frame"
)

// ErrUnknown is returned by Parse for ids that are not control commands
var ErrUnknown = errors.New("command: unknown control command")

// Command is a named message carrying a typed payload
type Command interface {
	ID() string
}

// Pipeline → UI

// PlaybackPlaying reports that playback started at Position
type PlaybackPlaying struct{ Position time.Duration }

// PlaybackProgress reports the position in whole seconds
type PlaybackProgress struct{ Seconds uint64 }

// PlaybackDuration reports the media duration in whole seconds
type PlaybackDuration struct{ Seconds uint64 }

type PlaybackPausing struct{}
type PlaybackResuming struct{}
type PlaybackBlocked struct{}
type PlaybackStopped struct{}

// PlaybackFailed reports a pipeline error; playback is stopped
type PlaybackFailed struct{ Message string }

// VideoFrame carries a preview frame
type VideoFrame struct{ Frame types.Frame }

// UI → pipeline

// PlayIndex selects a playlist entry
type PlayIndex struct{ Index int }

type PlayPrevious struct{}
type PlayNext struct{}
type PlayPause struct{}
type PlayResume struct{}
type PlayStop struct{}

// PlaySeek seeks to an offset in whole seconds
type PlaySeek struct{ Seconds uint64 }

// PlayVolume sets the audio volume
type PlayVolume struct{ Volume float64 }

// PlayRate sets the playback rate
type PlayRate struct{ Rate float64 }

func (PlaybackPlaying) ID() string  { return IDPlaybackPlaying }
func (PlaybackProgress) ID() string { return IDPlaybackProgress }
func (PlaybackDuration) ID() string { return IDPlaybackDuration }
func (PlaybackPausing) ID() string  { return IDPlaybackPausing }
func (PlaybackResuming) ID() string { return IDPlaybackResuming }
func (PlaybackBlocked) ID() string  { return IDPlaybackBlocked }
func (PlaybackStopped) ID() string  { return IDPlaybackStopped }
func (PlaybackFailed) ID() string   { return IDPlaybackFailed }
func (VideoFrame) ID() string       { return IDVideoFrame }
func (PlayIndex) ID() string        { return IDPlayIndex }
func (PlayPrevious) ID() string     { return IDPlayPrevious }
func (PlayNext) ID() string         { return IDPlayNext }
func (PlayPause) ID() string        { return IDPlayPause }
func (PlayResume) ID() string       { return IDPlayResume }
func (PlayStop) ID() string         { return IDPlayStop }
func (PlaySeek) ID() string         { return IDPlaySeek }
func (PlayVolume) ID() string       { return IDPlayVolume }
func (PlayRate) ID() string         { return IDPlayRate }

// IsControl reports whether cmd flows from the UI to the pipeline
func IsControl(cmd Command) bool {
	switch cmd.(type) {
	case PlayIndex, PlayPrevious, PlayNext, PlayPause, PlayResume, PlayStop,
		PlaySeek, PlayVolume, PlayRate:
		return true
	default:
		return false
	}
}

// Parse builds a control command from its id and numeric argument. The
// argument is ignored by commands without payload.
func Parse(id string, arg float64) (Command, error) {
	switch id {
	case IDPlayIndex:
		if arg < 0 || arg != math.Trunc(arg) {
			return nil, fmt.Errorf("command: %s needs a non-negative integer, got %g", id, arg)
		}
		return PlayIndex{Index: int(arg)}, nil
	case IDPlayPrevious:
		return PlayPrevious{}, nil
	case IDPlayNext:
		return PlayNext{}, nil
	case IDPlayPause:
		return PlayPause{}, nil
	case IDPlayResume:
		return PlayResume{}, nil
	case IDPlayStop:
		return PlayStop{}, nil
	case IDPlaySeek:
		if arg < 0 || math.IsNaN(arg) || math.IsInf(arg, 0) {
			return nil, fmt.Errorf("command: %s needs non-negative seconds, got %g", id, arg)
		}
		return PlaySeek{Seconds: uint64(arg)}, nil
	case IDPlayVolume:
		return PlayVolume{Volume: arg}, nil
	case IDPlayRate:
		return PlayRate{Rate: arg}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknown, id)
	}
}

// FromEvent maps a recorder event to the status command shown by the UI
func FromEvent(ev recorder.Event) (Command, bool) {
	switch ev.Kind {
	case recorder.EventPlaying:
		return PlaybackPlaying{Position: ev.Position}, true
	case recorder.EventProgress:
		return PlaybackProgress{Seconds: uint64(ev.Position / time.Second)}, true
	case recorder.EventDuration:
		return PlaybackDuration{Seconds: uint64(ev.Duration / time.Second)}, true
	case recorder.EventPaused:
		return PlaybackPausing{}, true
	case recorder.EventResumed:
		return PlaybackResuming{}, true
	case recorder.EventBlocked:
		return PlaybackBlocked{}, true
	case recorder.EventStopped:
		return PlaybackStopped{}, true
	case recorder.EventError:
		msg := "unknown error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return PlaybackFailed{Message: msg}, true
	default:
		return nil, false
	}
}
