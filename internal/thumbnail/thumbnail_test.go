package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/camrecorder/internal/framebridge"
	"github.com/e7canasta/camrecorder/internal/media"
	"github.com/e7canasta/camrecorder/internal/media/mediatest"
	"github.com/e7canasta/camrecorder/internal/types"
)

func sample(w, h int, fill byte) media.Sample {
	data := bytes.Repeat([]byte{fill}, w*h*4)
	return media.Sample{Data: data, Caps: media.Caps{Format: "RGBA", Width: w, Height: h, Stride: w * 4}}
}

// prerollingEngine behaves like a decodable file: PAUSED prerolls, PLAYING
// pushes samples into the sink and the sink's EOS reaches the bus.
func prerollingEngine(duration time.Duration, samples ...media.Sample) *mediatest.Engine {
	engine := mediatest.NewEngine()
	engine.Configure = func(p *mediatest.Pipeline) {
		if duration > 0 {
			p.SetDuration(duration)
		}
		p.OnStateChange = func(p *mediatest.Pipeline, s media.State) {
			switch s {
			case media.StatePaused:
				p.PostType(media.MessageAsyncDone)
			case media.StatePlaying:
				p.PostType(media.MessageAsyncDone)
				for _, smp := range samples {
					if res, _ := p.Emit("sink", smp, nil); res == media.FlowEOS {
						p.PostType(media.MessageEOS)
						return
					}
				}
			}
		}
	}
	return engine
}

func TestExtract_CapturesFrameAtPosition(t *testing.T) {
	engine := prerollingEngine(90*time.Second, sample(4, 2, 7), sample(4, 2, 9))

	thumb, err := Extract(context.Background(), engine, "file:///videos/clip.mkv", 10*time.Second, Options{})
	require.NoError(t, err)

	p := engine.Last()
	assert.Contains(t, p.Description, `uridecodebin uri="file:///videos/clip.mkv"`)
	assert.Contains(t, p.Description, `caps="video/x-raw, format=RGBA"`)

	syncProp, _ := p.Element("sink").Property("sync")
	assert.Equal(t, false, syncProp)

	seeks := p.Seeks()
	require.Len(t, seeks, 1)
	assert.Equal(t, 10*time.Second, seeks[0].Position)
	assert.Equal(t, uint64(90), thumb.DurationSeconds())

	f, err := thumb.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, f.Width)
	assert.Equal(t, byte(7), f.Data[0], "only the first sample is kept")

	_, err = thumb.Frame(context.Background())
	assert.ErrorIs(t, err, framebridge.ErrDisconnected)

	require.NoError(t, thumb.Close())
	assert.NoError(t, thumb.Close(), "second close is a no-op")
	assert.Equal(t, media.StateNull, p.State())
}

func TestExtract_SeekFailureTakesFirstFrame(t *testing.T) {
	engine := prerollingEngine(time.Minute, sample(2, 2, 1))
	engine.Configure = wrapConfigure(engine.Configure, func(p *mediatest.Pipeline) { p.SeekOK = false })

	thumb, err := Extract(context.Background(), engine, "file:///videos/clip.mkv", time.Hour, Options{})
	require.NoError(t, err)
	defer thumb.Close()

	f, err := thumb.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.Width)
}

func TestExtract_UnknownDurationFails(t *testing.T) {
	engine := prerollingEngine(0, sample(2, 2, 1))

	_, err := Extract(context.Background(), engine, "file:///videos/stream.ts", 0, Options{})
	assert.ErrorIs(t, err, media.ErrDuration)
	assert.Equal(t, media.StateNull, engine.Last().State())
}

func TestExtract_BusErrorSetsNull(t *testing.T) {
	engine := mediatest.NewEngine()
	engine.Configure = func(p *mediatest.Pipeline) {
		p.OnStateChange = func(p *mediatest.Pipeline, s media.State) {
			if s == media.StatePaused {
				p.Post(&media.Message{
					Type:   media.MessageError,
					Source: "uridecodebin0",
					Err:    media.NewEngineError("uridecodebin0", "Resource not found.", "No such file"),
				})
			}
		}
	}

	_, err := Extract(context.Background(), engine, "file:///missing.mkv", 0, Options{})
	var engineErr *media.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, "uridecodebin0", engineErr.Source)
	assert.Equal(t, media.StateNull, engine.Last().State())
}

func TestExtract_SampleFailureEndsStream(t *testing.T) {
	results := make(chan media.FlowResult, 1)
	engine := mediatest.NewEngine()
	engine.Configure = func(p *mediatest.Pipeline) {
		p.SetDuration(time.Minute)
		p.OnStateChange = func(p *mediatest.Pipeline, s media.State) {
			switch s {
			case media.StatePaused:
				p.PostType(media.MessageAsyncDone)
			case media.StatePlaying:
				res, _ := p.Emit("sink", media.Sample{}, errors.New("pull sample returned nil"))
				results <- res
				if res == media.FlowEOS {
					p.PostType(media.MessageEOS)
				} else {
					p.Post(&media.Message{
						Type:   media.MessageError,
						Source: "sink",
						Err:    media.NewEngineError("sink", "Internal data stream error.", "flow error"),
					})
				}
			}
		}
	}

	thumb, err := Extract(context.Background(), engine, "file:///videos/clip.mkv", 0, Options{})
	require.NoError(t, err)
	defer thumb.Close()
	assert.Equal(t, media.FlowEOS, <-results)

	_, err = thumb.Frame(context.Background())
	assert.ErrorIs(t, err, framebridge.ErrDisconnected, "no frame was captured")
}

func TestLaunchQuote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"file:///videos/clip.mkv", `"file:///videos/clip.mkv"`},
		{"file:///tmp/a b ! c.mp4", `"file:///tmp/a b ! c.mp4"`},
		{`file:///tmp/say "hi".mp4`, `"file:///tmp/say \"hi\".mp4"`},
		{`file:///tmp/back\slash.mp4`, `"file:///tmp/back\\slash.mp4"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, launchQuote(tt.in), tt.in)
	}

	engine := prerollingEngine(time.Minute, sample(2, 2, 1))
	thumb, err := Extract(context.Background(), engine, "file:///tmp/a b ! c.mp4", 0, Options{})
	require.NoError(t, err)
	defer thumb.Close()
	assert.Contains(t, engine.Last().Description, `uri="file:///tmp/a b ! c.mp4" ! videoconvert`)
}

func TestExtract_ContextCancelled(t *testing.T) {
	engine := mediatest.NewEngine() // never prerolls
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Extract(ctx, engine, "file:///slow.mkv", 0, Options{PollInterval: 10 * time.Millisecond})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExtract_LaunchFailure(t *testing.T) {
	engine := mediatest.NewEngine()
	engine.FailLaunch = true
	_, err := Extract(context.Background(), engine, "file:///x.mkv", 0, Options{})
	assert.ErrorIs(t, err, media.ErrElementCreate)
}

func TestNormalizeURI(t *testing.T) {
	u, err := NormalizeURI("https://example.com/a.mp4")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a.mp4", u)

	u, err = NormalizeURI("/tmp/my clip.mkv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "file:///"))
	assert.Contains(t, u, "my%20clip.mkv")

	_, err = NormalizeURI("")
	assert.Error(t, err)
}

func TestEncodePNG_Downscales(t *testing.T) {
	frame := types.Frame{
		Format: types.FormatRGBA,
		Width:  8,
		Height: 4,
		Data:   bytes.Repeat([]byte{200, 100, 50, 255}, 8*4),
	}

	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, frame, 4))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())

	r, g, b, _ := img.At(1, 1).RGBA()
	assert.InDelta(t, 200, int(r>>8), 1)
	assert.InDelta(t, 100, int(g>>8), 1)
	assert.InDelta(t, 50, int(b>>8), 1)

	buf.Reset()
	require.NoError(t, EncodePNG(&buf, frame, 0))
	img, err = png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
}

func wrapConfigure(first, then func(*mediatest.Pipeline)) func(*mediatest.Pipeline) {
	return func(p *mediatest.Pipeline) {
		first(p)
		then(p)
	}
}
