package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/e7canasta/camrecorder/internal/types"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

var validThumbnailFormats = map[string]bool{"RGBA": true, "BGRA": true, "RGBx": true, "BGRx": true}

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	// Source
	if cfg.Source.NumBuffers < 0 {
		return fmt.Errorf("source.num_buffers must be >= 0")
	}

	// Video
	fps, err := types.ParseFrameRate(cfg.Video.FPS)
	if err != nil {
		return fmt.Errorf("video.fps: %w", err)
	}
	cfg.Video.FPS = int(fps)
	if cfg.Video.TeeQueueMaxBytes == 0 {
		cfg.Video.TeeQueueMaxBytes = 512000000
	}
	if cfg.Video.Encoder.QPMin == 0 {
		cfg.Video.Encoder.QPMin = 30
	}
	if cfg.Video.Encoder.KeyIntMax == 0 {
		cfg.Video.Encoder.KeyIntMax = 36
	}

	// Audio
	if cfg.Audio.Element == "" {
		cfg.Audio.Element = "alsasrc"
	}
	if cfg.Audio.Rate <= 0 {
		cfg.Audio.Rate = 48000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if v := cfg.Audio.Volume; v != nil && (*v < 0 || *v > 10) {
		return fmt.Errorf("audio.volume must be within [0, 10]")
	}

	// Output
	if cfg.Output.Path == "" {
		cfg.Output.Path = ".media/camrecorder.mkv"
	}
	if cfg.Output.Muxer == "" {
		cfg.Output.Muxer = "matroskamux"
	}

	// UI
	if cfg.UI.TickMS <= 0 {
		cfg.UI.TickMS = 40
	}
	switch strings.ToLower(cfg.UI.Theme) {
	case "":
		cfg.UI.Theme = "light"
	case "light", "dark":
	default:
		return fmt.Errorf("ui.theme must be light or dark, got %q", cfg.UI.Theme)
	}
	if cfg.UI.LogFile == "" {
		cfg.UI.LogFile = "camrecorder.log"
	}

	// MQTT
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = cfg.InstanceID
	}

	// Set default topics if not provided
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("camrecorder/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Status == "" {
		cfg.MQTT.Topics.Status = fmt.Sprintf("camrecorder/status/%s", cfg.InstanceID)
	}

	// Set default QoS if not provided
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"control":  1,
			"status":   0,
			"playback": 0,
			"snapshot": 0,
		}
	}
	for name, qos := range cfg.MQTT.QoS {
		if qos > 2 {
			return fmt.Errorf("mqtt.qos.%s must be 0, 1 or 2", name)
		}
	}

	// Health
	if cfg.Health.Port == 0 {
		cfg.Health.Port = 8090
	}
	if cfg.Health.Port < 0 || cfg.Health.Port > 65535 {
		return fmt.Errorf("health.port out of range: %d", cfg.Health.Port)
	}

	// Thumbnail
	if cfg.Thumbnail.MaxWidth < 0 {
		return fmt.Errorf("thumbnail.max_width must be >= 0")
	}
	if cfg.Thumbnail.MaxWidth == 0 {
		cfg.Thumbnail.MaxWidth = 320
	}
	if cfg.Thumbnail.Format == "" {
		cfg.Thumbnail.Format = "RGBA"
	}
	if !validThumbnailFormats[cfg.Thumbnail.Format] {
		return fmt.Errorf("thumbnail.format must be one of RGBA, BGRA, RGBx, BGRx")
	}

	return nil
}
