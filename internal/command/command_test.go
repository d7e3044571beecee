package command

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/camrecorder/internal/recorder"
	"github.com/e7canasta/camrecorder/internal/types"
)

type fakePlayer struct {
	calls  []string
	seek   types.Position
	volume float64
	rate   float64
	err    error
}

func (p *fakePlayer) Resume() error { p.calls = append(p.calls, "resume"); return p.err }
func (p *fakePlayer) Pause() error  { p.calls = append(p.calls, "pause"); return p.err }
func (p *fakePlayer) Stop() error   { p.calls = append(p.calls, "stop"); return p.err }

func (p *fakePlayer) Seek(pos types.Position) error {
	p.calls = append(p.calls, "seek")
	p.seek = pos
	return p.err
}

func (p *fakePlayer) SetVolume(v float64) error {
	p.calls = append(p.calls, "volume")
	p.volume = v
	return p.err
}

func (p *fakePlayer) SetRate(r float64) error {
	p.calls = append(p.calls, "rate")
	p.rate = r
	return p.err
}

func TestIdentifiersAreDistinct(t *testing.T) {
	all := []Command{
		PlaybackPlaying{}, PlaybackProgress{}, PlaybackDuration{}, PlaybackPausing{},
		PlaybackResuming{}, PlaybackBlocked{}, PlaybackStopped{}, PlaybackFailed{},
		VideoFrame{}, PlayIndex{}, PlayPrevious{}, PlayNext{}, PlayPause{}, PlayResume{},
		PlayStop{}, PlaySeek{}, PlayVolume{}, PlayRate{},
	}
	seen := make(map[string]bool)
	for _, c := range all {
		assert.False(t, seen[c.ID()], "duplicate id %s", c.ID())
		seen[c.ID()] = true
	}
	assert.NotEqual(t, PlaybackProgress{}.ID(), PlaybackDuration{}.ID())
}

func TestController_Forwards(t *testing.T) {
	p := &fakePlayer{}
	c := NewController(p)

	require.NoError(t, c.Handle(PlayResume{}))
	require.NoError(t, c.Handle(PlayPause{}))
	require.NoError(t, c.Handle(PlaySeek{Seconds: 12}))
	require.NoError(t, c.Handle(PlayVolume{Volume: 0.5}))
	require.NoError(t, c.Handle(PlayRate{Rate: 2}))
	require.NoError(t, c.Handle(PlayStop{}))

	assert.Equal(t, []string{"resume", "pause", "seek", "volume", "rate", "stop"}, p.calls)
	assert.Equal(t, types.AtTime(12*time.Second), p.seek)
	assert.Equal(t, 0.5, p.volume)
	assert.Equal(t, 2.0, p.rate)
}

func TestController_Rejects(t *testing.T) {
	p := &fakePlayer{}
	c := NewController(p)

	for _, cmd := range []Command{PlayIndex{Index: 1}, PlayPrevious{}, PlayNext{}} {
		assert.ErrorIs(t, c.Handle(cmd), ErrUnsupported, cmd.ID())
	}
	assert.Error(t, c.Handle(PlaybackStopped{}), "status commands flow the other way")
	assert.Error(t, c.Handle(nil))
	assert.Empty(t, p.calls)

	boom := errors.New("boom")
	p.err = boom
	assert.ErrorIs(t, c.Handle(PlayResume{}), boom)
}

func TestParse(t *testing.T) {
	cmd, err := Parse(IDPlaySeek, 30)
	require.NoError(t, err)
	assert.Equal(t, PlaySeek{Seconds: 30}, cmd)

	cmd, err = Parse(IDPlayResume, 0)
	require.NoError(t, err)
	assert.True(t, IsControl(cmd))

	_, err = Parse(IDPlaySeek, -1)
	assert.Error(t, err)

	_, err = Parse(IDPlayIndex, 1.5)
	assert.Error(t, err)

	_, err = Parse(IDPlaybackStopped, 0)
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestFromEvent(t *testing.T) {
	tests := []struct {
		ev   recorder.Event
		want Command
	}{
		{recorder.Event{Kind: recorder.EventPlaying, Position: time.Second}, PlaybackPlaying{Position: time.Second}},
		{recorder.Event{Kind: recorder.EventProgress, Position: 2500 * time.Millisecond}, PlaybackProgress{Seconds: 2}},
		{recorder.Event{Kind: recorder.EventDuration, Duration: time.Minute}, PlaybackDuration{Seconds: 60}},
		{recorder.Event{Kind: recorder.EventPaused}, PlaybackPausing{}},
		{recorder.Event{Kind: recorder.EventResumed}, PlaybackResuming{}},
		{recorder.Event{Kind: recorder.EventBlocked}, PlaybackBlocked{}},
		{recorder.Event{Kind: recorder.EventStopped}, PlaybackStopped{}},
		{recorder.Event{Kind: recorder.EventError, Err: errors.New("device busy")}, PlaybackFailed{Message: "device busy"}},
	}
	for _, tt := range tests {
		t.Run(tt.ev.Kind.String(), func(t *testing.T) {
			got, ok := FromEvent(tt.ev)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
			assert.False(t, IsControl(got))
		})
	}
}
