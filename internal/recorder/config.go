package recorder

import (
	"fmt"
	"runtime"
	"time"

	"github.com/e7canasta/camrecorder/internal/types"
)

// EncoderConfig holds the x264enc knobs
type EncoderConfig struct {
	IntraRefresh   bool
	VBVBufCapacity uint // milliseconds, 0 disables the VBV buffer
	QPMin          uint
	KeyIntMax      uint
}

// AudioConfig configures the optional audio branch
type AudioConfig struct {
	Enabled  bool
	Element  string
	Rate     int
	Channels int
	Volume   float64
}

// Config contains configuration for the recording pipeline
type Config struct {
	// SourceElement overrides the video source factory. Empty selects
	// v4l2src on Linux and autovideosrc elsewhere.
	SourceElement string
	// Device is set as the "device" property of the source when non-empty
	Device string
	// Live marks the source as live; live sources have no duration
	Live bool
	// NumBuffers limits the source to N buffers. 0 means unlimited.
	NumBuffers int

	FrameRate types.FrameRate
	// TeeQueueMaxBytes bounds the queues right after the tee
	TeeQueueMaxBytes uint

	Encoder EncoderConfig
	Audio   AudioConfig

	OutputPath string
	Muxer      string

	// ProgressInterval is the period of progress events while playing
	ProgressInterval time.Duration
	// EOSTimeout bounds how long Stop waits for the muxer to finalize
	EOSTimeout time.Duration
}

// DefaultConfig returns the recording defaults
func DefaultConfig() Config {
	return Config{
		Live:             true,
		FrameRate:        types.FrameRate24,
		TeeQueueMaxBytes: 512000000,
		Encoder: EncoderConfig{
			IntraRefresh:   true,
			VBVBufCapacity: 0,
			QPMin:          30,
			KeyIntMax:      36,
		},
		Audio: AudioConfig{
			Enabled:  true,
			Element:  "alsasrc",
			Rate:     48000,
			Channels: 1,
			Volume:   1.0,
		},
		OutputPath:       ".media/camrecorder.mkv",
		Muxer:            "matroskamux",
		ProgressInterval: time.Second,
		EOSTimeout:       3 * time.Second,
	}
}

// Validate checks the configuration, filling unset fields with defaults
func (c *Config) Validate() error {
	def := DefaultConfig()

	if c.SourceElement == "" {
		c.SourceElement = DefaultSourceElement()
	}
	if c.NumBuffers < 0 {
		return fmt.Errorf("num_buffers must be >= 0, got %d", c.NumBuffers)
	}
	rate, err := types.ParseFrameRate(int(c.FrameRate))
	if err != nil {
		return err
	}
	c.FrameRate = rate
	if c.TeeQueueMaxBytes == 0 {
		c.TeeQueueMaxBytes = def.TeeQueueMaxBytes
	}
	if c.OutputPath == "" {
		return fmt.Errorf("output path is required")
	}
	if c.Muxer == "" {
		c.Muxer = def.Muxer
	}
	if c.Audio.Enabled {
		if c.Audio.Element == "" {
			c.Audio.Element = def.Audio.Element
		}
		if c.Audio.Rate <= 0 {
			c.Audio.Rate = def.Audio.Rate
		}
		if c.Audio.Channels <= 0 {
			c.Audio.Channels = def.Audio.Channels
		}
		if c.Audio.Volume < 0 || c.Audio.Volume > MaxVolume {
			return fmt.Errorf("audio volume must be within [0, %g], got %g", MaxVolume, c.Audio.Volume)
		}
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = def.ProgressInterval
	}
	if c.EOSTimeout <= 0 {
		c.EOSTimeout = def.EOSTimeout
	}
	return nil
}

// DefaultSourceElement returns the OS-specific video source factory
func DefaultSourceElement() string {
	if runtime.GOOS == "linux" {
		return "v4l2src"
	}
	return "autovideosrc"
}
