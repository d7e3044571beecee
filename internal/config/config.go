package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/e7canasta/camrecorder/internal/recorder"
	"github.com/e7canasta/camrecorder/internal/types"
)

// EnvPrefix prefixes every environment override, e.g. CAMRECORDER_MQTT_BROKER
const EnvPrefix = "CAMRECORDER"

// Config represents the complete camrecorder configuration
type Config struct {
	InstanceID       string          `yaml:"instance_id" split_words:"true"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s" split_words:"true"` // Graceful shutdown timeout in seconds (default: 5)
	Source           SourceConfig    `yaml:"source"`
	Video            VideoConfig     `yaml:"video"`
	Audio            AudioConfig     `yaml:"audio"`
	Output           OutputConfig    `yaml:"output"`
	UI               UIConfig        `yaml:"ui"`
	MQTT             MQTTConfig      `yaml:"mqtt"`
	Health           HealthConfig    `yaml:"health"`
	Thumbnail        ThumbnailConfig `yaml:"thumbnail"`
}

// SourceConfig selects the capture source
type SourceConfig struct {
	Element    string `yaml:"element"` // empty: v4l2src on linux, autovideosrc elsewhere
	Device     string `yaml:"device"`  // e.g. /dev/video0
	Live       *bool  `yaml:"live"`    // default true
	NumBuffers int    `yaml:"num_buffers" split_words:"true"`
}

// VideoConfig contains capture and encoding settings
type VideoConfig struct {
	FPS              int           `yaml:"fps"` // 24 or 30
	TeeQueueMaxBytes uint          `yaml:"tee_queue_max_bytes" split_words:"true"`
	Encoder          EncoderConfig `yaml:"encoder"`
}

// EncoderConfig contains x264 settings
type EncoderConfig struct {
	IntraRefresh   *bool `yaml:"intra_refresh" split_words:"true"` // default true
	VBVBufCapacity uint  `yaml:"vbv_buf_capacity" split_words:"true"`
	QPMin          uint  `yaml:"qp_min" split_words:"true"`
	KeyIntMax      uint  `yaml:"key_int_max" split_words:"true"`
}

// AudioConfig contains the optional audio branch settings
type AudioConfig struct {
	Enabled  *bool    `yaml:"enabled"` // default true
	Element  string   `yaml:"element"`
	Rate     int      `yaml:"rate"`
	Channels int      `yaml:"channels"`
	Volume   *float64 `yaml:"volume"` // default 1.0
}

// OutputConfig contains the recording destination
type OutputConfig struct {
	Path  string `yaml:"path"`
	Muxer string `yaml:"muxer"`
}

// UIConfig contains terminal UI settings
type UIConfig struct {
	TickMS  int    `yaml:"tick_ms" split_words:"true"`
	Theme   string `yaml:"theme"` // light, dark
	LogFile string `yaml:"log_file" split_words:"true"` // log destination while the UI owns the terminal
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Broker   string          `yaml:"broker"`
	ClientID string          `yaml:"client_id" split_words:"true"`
	Topics   MQTTTopics      `yaml:"topics"`
	QoS      map[string]byte `yaml:"qos" ignored:"true"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control string `yaml:"control"`
	Status  string `yaml:"status"`
}

// HealthConfig contains the HTTP health server settings
type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// ThumbnailConfig contains thumbnail extraction settings
type ThumbnailConfig struct {
	MaxWidth int    `yaml:"max_width" split_words:"true"`
	Format   string `yaml:"format"`
}

// Default returns a configuration that records the default camera with
// every optional service disabled.
func Default() *Config {
	cfg := &Config{InstanceID: "camrecorder"}
	if err := Validate(cfg); err != nil {
		panic(fmt.Sprintf("config: default configuration is invalid: %v", err))
	}
	return cfg
}

// Load reads a YAML configuration file, applies environment overrides and
// validates the result. An empty path starts from an empty configuration.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyEnv overrides fields from CAMRECORDER_* environment variables. Unset
// variables keep the current value.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}
	return nil
}

// ShutdownTimeout returns the graceful shutdown timeout
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// UITick returns the frame polling period of the UI
func (c *Config) UITick() time.Duration {
	return time.Duration(c.UI.TickMS) * time.Millisecond
}

// Recorder maps the configuration onto the recording pipeline settings.
// Call it on a validated configuration.
func (c *Config) Recorder() recorder.Config {
	rc := recorder.DefaultConfig()

	rc.SourceElement = c.Source.Element
	rc.Device = c.Source.Device
	rc.Live = boolOr(c.Source.Live, true)
	rc.NumBuffers = c.Source.NumBuffers

	rc.FrameRate = types.FrameRate(c.Video.FPS)
	rc.TeeQueueMaxBytes = c.Video.TeeQueueMaxBytes
	rc.Encoder = recorder.EncoderConfig{
		IntraRefresh:   boolOr(c.Video.Encoder.IntraRefresh, true),
		VBVBufCapacity: c.Video.Encoder.VBVBufCapacity,
		QPMin:          c.Video.Encoder.QPMin,
		KeyIntMax:      c.Video.Encoder.KeyIntMax,
	}

	rc.Audio = recorder.AudioConfig{
		Enabled:  boolOr(c.Audio.Enabled, true),
		Element:  c.Audio.Element,
		Rate:     c.Audio.Rate,
		Channels: c.Audio.Channels,
		Volume:   1.0,
	}
	if c.Audio.Volume != nil {
		rc.Audio.Volume = *c.Audio.Volume
	}

	rc.OutputPath = c.Output.Path
	rc.Muxer = c.Output.Muxer
	return rc
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
