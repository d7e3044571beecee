package recorder

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/camrecorder/internal/framebridge"
	"github.com/e7canasta/camrecorder/internal/media"
	"github.com/e7canasta/camrecorder/internal/media/mediatest"
	"github.com/e7canasta/camrecorder/internal/types"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SourceElement = "videotestsrc"
	cfg.Audio.Element = "audiotestsrc"
	cfg.OutputPath = filepath.Join(t.TempDir(), "media", "out.mkv")
	cfg.EOSTimeout = 500 * time.Millisecond
	cfg.ProgressInterval = 10 * time.Millisecond
	return cfg
}

func newTestRecorder(t *testing.T, cfg Config) (*Recorder, *mediatest.Pipeline, *framebridge.Bridge) {
	t.Helper()
	engine := mediatest.NewEngine()
	bridge := framebridge.New()
	r, err := New(engine, cfg, bridge)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, engine.Last(), bridge
}

func rgbaSample(w, h int) media.Sample {
	return media.Sample{
		Data: make([]byte, w*h*4),
		Caps: media.Caps{Format: "RGBA", Width: w, Height: h, Stride: w * 4},
	}
}

func drainEvent(t *testing.T, r *Recorder, want EventKind) Event {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-r.Events():
			if ev.Kind == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("event %s not received", want)
			return Event{}
		}
	}
}

func TestNew_AssemblesGraph(t *testing.T) {
	r, p, _ := newTestRecorder(t, testConfig(t))

	assert.Equal(t, types.StatusStopped, r.Status())
	assert.Empty(t, p.States(), "graph is built in NULL without state changes")

	names := p.ElementNames()
	for _, want := range []string{
		nameSource, nameTee, nameEncQueue, nameEncoder, nameH264Caps, nameMuxQueue,
		namePreviewQueue, namePreviewSink, nameAudioSource, nameVolume, nameAudioEncoder,
		nameMuxer, nameFileSink,
	} {
		assert.Contains(t, names, want)
	}

	links := p.Links()
	assert.Contains(t, links, mediatest.Link{Src: nameTee, Pad: "src_0", Dst: nameEncQueue})
	assert.Contains(t, links, mediatest.Link{Src: nameTee, Pad: "src_1", Dst: namePreviewQueue})
	assert.Contains(t, links, mediatest.Link{Src: nameMuxQueue, Pad: "src", Dst: nameMuxer})
	assert.Contains(t, links, mediatest.Link{Src: nameAudioEncoder, Pad: "src", Dst: nameMuxer})
	assert.Contains(t, links, mediatest.Link{Src: nameMuxer, Pad: "src", Dst: nameFileSink})

	assert.Equal(t, "video/x-raw,framerate=24/1", p.Caps(nameEncCaps))
	assert.Equal(t, "video/x-h264,profile=constrained-baseline", p.Caps(nameH264Caps))
	assert.Equal(t, PreviewCaps, p.Caps(namePreviewSink))
	assert.Equal(t, "audio/x-raw,channels=1,rate=48000", p.Caps(nameAudioCaps))

	enc := p.Element(nameEncoder)
	v, _ := enc.Property("key-int-max")
	assert.Equal(t, uint(36), v)
	v, _ = enc.Property("qp-min")
	assert.Equal(t, uint(30), v)
	v, _ = enc.Property("intra-refresh")
	assert.Equal(t, true, v)

	v, _ = p.Element(namePreviewQueue).Property("max-size-bytes")
	assert.Equal(t, uint(512000000), v)
	v, _ = p.Element(nameMuxQueue).Property("max-size-bytes")
	assert.Equal(t, uint(0), v)

	_, hasLimit := p.Element(nameSource).Property("num-buffers")
	assert.False(t, hasLimit, "unlimited by default")
}

func TestNew_OptionalBranchesAndLimits(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audio.Enabled = false
	cfg.NumBuffers = 3000
	cfg.Device = "/dev/video2"
	cfg.FrameRate = types.FrameRate30

	r, p, _ := newTestRecorder(t, cfg)

	assert.NotContains(t, p.ElementNames(), nameAudioSource)
	assert.Equal(t, "video/x-raw,framerate=30/1", p.Caps(nameEncCaps))

	v, _ := p.Element(nameSource).Property("num-buffers")
	assert.Equal(t, 3000, v)
	v, _ = p.Element(nameSource).Property("device")
	assert.Equal(t, "/dev/video2", v)

	assert.ErrorIs(t, r.SetVolume(0.5), ErrNoAudio)
}

func TestNew_ConstructionFailures(t *testing.T) {
	t.Run("missing plugin", func(t *testing.T) {
		engine := mediatest.NewEngine()
		engine.FailFactories["x264enc"] = true
		_, err := New(engine, testConfig(t), framebridge.New())
		assert.ErrorIs(t, err, media.ErrElementCreate)
	})

	t.Run("link failure", func(t *testing.T) {
		engine := mediatest.NewEngine()
		engine.Configure = func(p *mediatest.Pipeline) { p.FailLink = true }
		_, err := New(engine, testConfig(t), framebridge.New())
		assert.ErrorIs(t, err, media.ErrLink)
	})

	t.Run("bad frame rate", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.FrameRate = 25
		_, err := New(mediatest.NewEngine(), cfg, framebridge.New())
		assert.Error(t, err)
	})
}

func TestPlaybackTransitions(t *testing.T) {
	r, p, _ := newTestRecorder(t, testConfig(t))

	require.NoError(t, r.Play())
	assert.Equal(t, types.StatusPlaying, r.Status())
	drainEvent(t, r, EventPlaying)

	require.NoError(t, r.Pause())
	assert.Equal(t, types.StatusPaused, r.Status())
	drainEvent(t, r, EventPaused)

	require.NoError(t, r.Resume())
	assert.Equal(t, types.StatusPlaying, r.Status())
	drainEvent(t, r, EventResumed)

	require.NoError(t, r.Stop())
	assert.Equal(t, types.StatusStopped, r.Status())
	drainEvent(t, r, EventStopped)
	assert.Equal(t, 1, p.EOSSent())

	// Stopped may go back to Playing
	require.NoError(t, r.Play())
	assert.Equal(t, types.StatusPlaying, r.Status())

	assert.Equal(t, []media.State{
		media.StatePlaying, media.StatePaused, media.StatePlaying, media.StateNull, media.StatePlaying,
	}, p.States())
}

func TestPlay_StateChangeFailureBlocks(t *testing.T) {
	r, p, _ := newTestRecorder(t, testConfig(t))
	p.FailStates = map[media.State]bool{media.StatePlaying: true}

	err := r.Play()
	assert.ErrorIs(t, err, media.ErrStateChange)
	assert.Equal(t, types.StatusStopped, r.Status())
	drainEvent(t, r, EventBlocked)
}

func TestClose_Idempotent(t *testing.T) {
	r, p, bridge := newTestRecorder(t, testConfig(t))
	require.NoError(t, r.Play())

	require.NoError(t, r.Close())
	assert.NoError(t, r.Close(), "second close is a no-op")

	states := p.States()
	assert.Equal(t, media.StateNull, states[len(states)-1])
	assert.Equal(t, types.StatusStopped, r.Status())
	assert.ErrorIs(t, r.Play(), ErrClosed)

	_, err := bridge.Receive(context.Background())
	assert.ErrorIs(t, err, framebridge.ErrDisconnected)
}

func TestOnSample(t *testing.T) {
	r, p, bridge := newTestRecorder(t, testConfig(t))

	res, ok := p.Emit(namePreviewSink, rgbaSample(4, 2), nil)
	require.True(t, ok)
	assert.Equal(t, media.FlowOK, res)

	// Slot is full: the frame is dropped but the stream continues
	res, _ = p.Emit(namePreviewSink, rgbaSample(4, 2), nil)
	assert.Equal(t, media.FlowOK, res)

	f, ok := bridge.TryReceive()
	require.True(t, ok)
	assert.Equal(t, uint64(1), f.Seq)
	assert.Equal(t, types.FormatRGBA, f.Format)
	assert.Equal(t, 4, f.Width)
	assert.NotEmpty(t, f.TraceID)

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.FramesSent)
	assert.Equal(t, uint64(1), stats.FramesDropped)

	t.Run("sample error ends stream", func(t *testing.T) {
		res, _ := p.Emit(namePreviewSink, media.Sample{}, errors.New("no buffer"))
		assert.Equal(t, media.FlowEOS, res)
	})

	t.Run("truncated buffer ends stream", func(t *testing.T) {
		s := rgbaSample(4, 2)
		s.Data = s.Data[:5]
		res, _ := p.Emit(namePreviewSink, s, nil)
		assert.Equal(t, media.FlowEOS, res)
	})

	t.Run("disconnected consumer ends stream", func(t *testing.T) {
		bridge.Disconnect()
		res, _ := p.Emit(namePreviewSink, rgbaSample(4, 2), nil)
		assert.Equal(t, media.FlowEOS, res)
	})
}

func TestSeekAndRate(t *testing.T) {
	r, p, _ := newTestRecorder(t, testConfig(t))

	require.NoError(t, r.Seek(types.AtTime(5*time.Second)))
	require.NoError(t, r.Seek(types.AtFrame(120)))

	p.SetPosition(2 * time.Second)
	require.NoError(t, r.SetRate(2.0))
	assert.Equal(t, 2.0, r.Rate())

	seeks := p.Seeks()
	require.Len(t, seeks, 3)
	assert.Equal(t, 5*time.Second, seeks[0].Position)
	assert.True(t, seeks[1].ByFrame)
	assert.Equal(t, uint64(120), seeks[1].Frame)
	assert.Equal(t, 2.0, seeks[2].Rate)
	assert.Equal(t, 2*time.Second, seeks[2].Position)

	assert.Error(t, r.SetRate(0))

	p.SeekOK = false
	assert.ErrorIs(t, r.Seek(types.AtTime(time.Second)), media.ErrSeek)
}

func TestVolume(t *testing.T) {
	r, p, _ := newTestRecorder(t, testConfig(t))

	require.NoError(t, r.SetVolume(0.25))
	require.NoError(t, r.SetMuted(true))

	v, _ := p.Element(nameVolume).Property("volume")
	assert.Equal(t, 0.25, v)
	m, _ := p.Element(nameVolume).Property("mute")
	assert.Equal(t, true, m)

	vol, muted := r.Volume()
	assert.Equal(t, 0.25, vol)
	assert.True(t, muted)

	assert.Error(t, r.SetVolume(MaxVolume+1))
	assert.Error(t, r.SetVolume(-1))
}

func TestDuration(t *testing.T) {
	r, _, _ := newTestRecorder(t, testConfig(t))
	_, err := r.Duration()
	assert.ErrorIs(t, err, ErrLiveSource)

	cfg := testConfig(t)
	cfg.Live = false
	r2, p2, _ := newTestRecorder(t, cfg)
	_, err = r2.Duration()
	assert.ErrorIs(t, err, media.ErrDuration)

	p2.SetDuration(90 * time.Second)
	d, err := r2.Duration()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)
}

func TestRun_ErrorStopsWithoutRetry(t *testing.T) {
	r, p, _ := newTestRecorder(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.NoError(t, r.Play())
	p.Post(&media.Message{
		Type:   media.MessageError,
		Source: nameSource,
		Err:    media.NewEngineError(nameSource, "Device '/dev/video0' is busy", ""),
	})

	ev := drainEvent(t, r, EventError)
	var engineErr *media.EngineError
	require.True(t, errors.As(ev.Err, &engineErr))
	assert.Equal(t, media.ErrCategoryResource, engineErr.Category)
	drainEvent(t, r, EventStopped)

	assert.Equal(t, types.StatusStopped, r.Status())
	assert.Equal(t, uint64(1), r.Stats().ErrorsRes)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ProgressAndEOS(t *testing.T) {
	r, p, _ := newTestRecorder(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	p.SetPosition(3 * time.Second)
	require.NoError(t, r.Play())

	ev := drainEvent(t, r, EventProgress)
	assert.Equal(t, 3*time.Second, ev.Position)

	p.PostType(media.MessageEOS)
	drainEvent(t, r, EventStopped)
	assert.Equal(t, types.StatusStopped, r.Status())
}

func TestStop_WaitsForEOSWhenMonitored(t *testing.T) {
	r, p, _ := newTestRecorder(t, testConfig(t))
	p.PostEOSOnSend = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	require.Eventually(t, r.monitoring.Load, time.Second, 5*time.Millisecond)
	require.NoError(t, r.Play())

	start := time.Now()
	require.NoError(t, r.Stop())
	assert.Less(t, time.Since(start), r.cfg.EOSTimeout, "EOS observed before the timeout")
	assert.Equal(t, types.StatusStopped, r.Status())
}

func TestStop_FromPausedLetsEOSFlow(t *testing.T) {
	r, p, _ := newTestRecorder(t, testConfig(t))

	// EOS reaches the bus only once the pipeline runs again
	p.OnStateChange = func(p *mediatest.Pipeline, s media.State) {
		p.PostEOSOnSend = s == media.StatePlaying
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	require.Eventually(t, r.monitoring.Load, time.Second, 5*time.Millisecond)
	require.NoError(t, r.Play())
	require.NoError(t, r.Pause())

	start := time.Now()
	require.NoError(t, r.Stop())
	assert.Less(t, time.Since(start), r.cfg.EOSTimeout, "EOS observed before the timeout")
	assert.Equal(t, 1, p.EOSSent())
	assert.Equal(t, types.StatusStopped, r.Status())
	assert.Equal(t, []media.State{
		media.StatePlaying, media.StatePaused, media.StatePlaying, media.StateNull,
	}, p.States())
}
