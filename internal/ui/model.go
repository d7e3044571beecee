// Package ui is the recorder window: a video region showing the preview
// stacked over a fixed-height control panel, inside a bordered box.
package ui

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/e7canasta/camrecorder/internal/command"
	"github.com/e7canasta/camrecorder/internal/types"
)

// VideoViewState is the state of the video view
type VideoViewState struct {
	Recording bool
}

// AppState is the root application state
type AppState struct {
	Video VideoViewState
	Theme Theme
}

// Dispatcher receives the control commands emitted by the widgets
type Dispatcher interface {
	Handle(cmd command.Command) error
}

// FrameSource is polled once per tick for the latest preview frame
type FrameSource interface {
	TryReceive() (types.Frame, bool)
}

// CommandMsg carries a command through the UI event loop. Widgets emit
// control commands this way, and status commands from the pipeline or remote
// control commands are injected with Program.Send.
type CommandMsg struct {
	Cmd command.Command
	// Result, when set, receives the dispatch error of a control command.
	// It must be buffered.
	Result chan<- error
}

// ErrNoReply is returned by a remote dispatch the UI loop did not answer
var ErrNoReply = errors.New("ui: no reply from the event loop")

// Sender injects messages into a running program, as tea.Program does
type Sender interface {
	Send(msg tea.Msg)
}

// RemoteDispatch returns a dispatcher that runs commands through the UI
// event loop and reports the controller's answer. A send to a program that
// already quit is dropped, so the wait is bounded by ctx and timeout.
func RemoteDispatch(ctx context.Context, s Sender, timeout time.Duration) func(command.Command) error {
	return func(cmd command.Command) error {
		result := make(chan error, 1)
		s.Send(CommandMsg{Cmd: cmd, Result: result})

		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case err := <-result:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrNoReply
		}
	}
}

type tickMsg time.Time

// Options configures the model
type Options struct {
	// Tick is the frame polling period
	Tick  time.Duration
	Theme Theme
	// OnFrame observes every frame shown by the video view
	OnFrame func(types.Frame)
}

// Model is the bubbletea model of the recorder window
type Model struct {
	State AppState

	keys       KeyMap
	help       help.Model
	styles     styles
	dispatcher Dispatcher
	frames     FrameSource
	onFrame    func(types.Frame)
	tick       time.Duration

	frame    *types.Frame
	playback types.PlaybackStatus
	progress uint64
	duration uint64
	lastErr  string

	width    int
	height   int
	quitting bool
}

// New creates the root model
func New(dispatcher Dispatcher, frames FrameSource, opts Options) Model {
	if opts.Tick <= 0 {
		opts.Tick = 40 * time.Millisecond
	}
	return Model{
		State:      AppState{Theme: opts.Theme},
		keys:       DefaultKeyMap(),
		help:       help.New(),
		styles:     newStyles(opts.Theme),
		dispatcher: dispatcher,
		frames:     frames,
		onFrame:    opts.OnFrame,
		tick:       opts.Tick,
		playback:   types.StatusStopped,
	}
}

// Init starts the frame polling tick
func (m Model) Init() tea.Cmd {
	return m.tickCmd()
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.tick, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles keys, ticks and commands
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Toggle):
			return m.toggle()
		case key.Matches(msg, m.keys.Theme):
			m.State.Theme = m.State.Theme.Next()
			m.styles = newStyles(m.State.Theme)
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tickMsg:
		if m.frames != nil {
			if f, ok := m.frames.TryReceive(); ok {
				m = m.apply(command.VideoFrame{Frame: f})
			}
		}
		return m, m.tickCmd()

	case CommandMsg:
		var err error
		switch {
		case msg.Cmd == nil:
		case command.IsControl(msg.Cmd):
			err = m.forward(msg.Cmd)
		default:
			m = m.apply(msg.Cmd)
		}
		if msg.Result != nil {
			select {
			case msg.Result <- err:
			default:
			}
		}
		return m, nil
	}

	return m, nil
}

// toggle flips the recording flag and emits exactly one control command
func (m Model) toggle() (tea.Model, tea.Cmd) {
	var cmd command.Command
	if m.State.Video.Recording {
		m.State.Video.Recording = false
		cmd = command.PlayPause{}
	} else {
		m.State.Video.Recording = true
		cmd = command.PlayResume{}
	}
	slog.Debug("ui: toggle", "recording", m.State.Video.Recording, "command", cmd.ID())
	return m, func() tea.Msg { return CommandMsg{Cmd: cmd} }
}

func (m *Model) forward(cmd command.Command) error {
	if m.dispatcher == nil {
		return nil
	}
	if err := m.dispatcher.Handle(cmd); err != nil {
		m.lastErr = err.Error()
		return err
	}
	m.lastErr = ""
	return nil
}

// apply updates the view state from a status command
func (m Model) apply(cmd command.Command) Model {
	switch c := cmd.(type) {
	case command.VideoFrame:
		f := c.Frame
		m.frame = &f
		if m.onFrame != nil {
			m.onFrame(f)
		}
	case command.PlaybackPlaying:
		m.playback = types.StatusPlaying
		m.State.Video.Recording = true
		m.progress = uint64(c.Position / time.Second)
		m.lastErr = ""
	case command.PlaybackResuming:
		m.playback = types.StatusPlaying
		m.State.Video.Recording = true
	case command.PlaybackPausing:
		m.playback = types.StatusPaused
		m.State.Video.Recording = false
	case command.PlaybackStopped:
		m.playback = types.StatusStopped
		m.State.Video.Recording = false
	case command.PlaybackBlocked:
		m.State.Video.Recording = false
		m.lastErr = "pipeline blocked"
	case command.PlaybackFailed:
		m.playback = types.StatusStopped
		m.State.Video.Recording = false
		m.lastErr = c.Message
	case command.PlaybackProgress:
		m.progress = c.Seconds
	case command.PlaybackDuration:
		m.duration = c.Seconds
	}
	return m
}

// Playback returns the last status reported by the pipeline
func (m Model) Playback() types.PlaybackStatus {
	return m.playback
}

// Err returns the last error shown in the panel
func (m Model) Err() string {
	return m.lastErr
}
