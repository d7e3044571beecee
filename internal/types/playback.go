package types

import (
	"fmt"
	"time"
)

// PlaybackStatus is the state of the live pipeline as seen by the UI
type PlaybackStatus int

const (
	// StatusStopped is the initial state and the state after Stop
	StatusStopped PlaybackStatus = iota
	// StatusPlaying means the pipeline is running (recording and previewing)
	StatusPlaying
	// StatusPaused means the pipeline is prerolled but not running
	StatusPaused
)

// String returns a human-readable representation of the status
func (s PlaybackStatus) String() string {
	switch s {
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PositionKind selects how a Position is interpreted
type PositionKind int

const (
	// PositionTime is a time offset. Not the most accurate format for videos.
	PositionTime PositionKind = iota
	// PositionFrame is the nth frame of the stream
	PositionFrame
)

// Position is a point in the media, either a time offset or a frame number
type Position struct {
	Kind  PositionKind
	Time  time.Duration
	Frame uint64
}

// AtTime returns a time-based position
func AtTime(d time.Duration) Position {
	return Position{Kind: PositionTime, Time: d}
}

// AtFrame returns a frame-based position
func AtFrame(n uint64) Position {
	return Position{Kind: PositionFrame, Frame: n}
}

// String returns a human-readable representation of the position
func (p Position) String() string {
	if p.Kind == PositionFrame {
		return fmt.Sprintf("frame %d", p.Frame)
	}
	return p.Time.String()
}

// FrameRate is one of the supported capture rates
type FrameRate int

const (
	// FrameRate24 is the default capture rate
	FrameRate24 FrameRate = 24
	// FrameRate30 is the alternative capture rate
	FrameRate30 FrameRate = 30
)

// ParseFrameRate validates an fps value from configuration
func ParseFrameRate(fps int) (FrameRate, error) {
	switch FrameRate(fps) {
	case FrameRate24, FrameRate30:
		return FrameRate(fps), nil
	case 0:
		return FrameRate24, nil
	default:
		return 0, fmt.Errorf("unsupported frame rate %d (must be 24 or 30)", fps)
	}
}

// Fraction returns the caps representation "N/1"
func (r FrameRate) Fraction() string {
	return fmt.Sprintf("%d/1", int(r))
}
