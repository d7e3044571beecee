package command

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/camrecorder/internal/types"
)

// ErrUnsupported is returned for commands that need a playlist, which a live
// recorder does not have.
var ErrUnsupported = errors.New("command: not supported by a live recorder")

// Player is the subset of the recorder the controller drives
type Player interface {
	Resume() error
	Pause() error
	Stop() error
	Seek(pos types.Position) error
	SetVolume(volume float64) error
	SetRate(rate float64) error
}

// Controller forwards control commands to the live pipeline. Status changes
// come back asynchronously as recorder events.
type Controller struct {
	player Player
}

// NewController creates a controller for player
func NewController(player Player) *Controller {
	return &Controller{player: player}
}

// Handle forwards a control command. Status commands and frames are
// rejected; they flow the other way.
func (c *Controller) Handle(cmd Command) error {
	if cmd == nil {
		return fmt.Errorf("command: nil command")
	}

	var err error
	switch v := cmd.(type) {
	case PlayResume:
		err = c.player.Resume()
	case PlayPause:
		err = c.player.Pause()
	case PlayStop:
		err = c.player.Stop()
	case PlaySeek:
		err = c.player.Seek(types.AtTime(time.Duration(v.Seconds) * time.Second))
	case PlayVolume:
		err = c.player.SetVolume(v.Volume)
	case PlayRate:
		err = c.player.SetRate(v.Rate)
	case PlayIndex, PlayPrevious, PlayNext:
		err = ErrUnsupported
	default:
		return fmt.Errorf("command: %s is not a control command", cmd.ID())
	}

	if err != nil {
		slog.Warn("command: failed", "id", cmd.ID(), "error", err)
		return fmt.Errorf("command %s: %w", cmd.ID(), err)
	}
	slog.Debug("command: handled", "id", cmd.ID())
	return nil
}
