// Package config loads the YAML-driven receiver configuration: audio
// format, timing cadence, and queue bounds.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"raopcore/pcm"
	"raopcore/queue"
)

const (
	defaultSampleRate      = 44100
	defaultChannels        = 2
	defaultBitDepth        = 16
	defaultFramesPerPacket = 352

	defaultRequestIntervalMs = 3000
	defaultPrecisionSeconds  = 0.001

	defaultQueueMaxLengthSeconds = 10.0
	defaultBufferSeconds         = 0.05
)

// Config is the fully resolved, validated receiver configuration.
type Config struct {
	Format      pcm.AudioFormat
	ChannelMode queue.ChannelMode
	BitDepth    int

	RequestIntervalMs int
	PrecisionSeconds  float64

	QueueMaxLengthSeconds float64
	BufferSeconds         float64
}

type yamlConfig struct {
	Audio struct {
		SampleRate      int    `yaml:"sample_rate"`
		Channels        int    `yaml:"channels"`
		BitDepth        int    `yaml:"bit_depth"`
		FramesPerPacket int    `yaml:"frames_per_packet"`
		ChannelMode     string `yaml:"channel_mode"`
	} `yaml:"audio"`
	Timing struct {
		RequestIntervalMs int     `yaml:"request_interval_ms"`
		PrecisionSeconds  float64 `yaml:"precision_seconds"`
	} `yaml:"timing"`
	Queue struct {
		MaxLengthSeconds float64 `yaml:"max_length_seconds"`
		BufferSeconds    float64 `yaml:"buffer_seconds"`
	} `yaml:"queue"`
}

// Load reads and validates the YAML configuration at path, filling in the
// bit-exact defaults for any field that is omitted or zero.
func Load(path string) (Config, error) {
	cfg := Config{
		Format: pcm.AudioFormat{
			SampleRate:      defaultSampleRate,
			Channels:        defaultChannels,
			FramesPerPacket: defaultFramesPerPacket,
		},
		ChannelMode:           queue.Stereo,
		BitDepth:              defaultBitDepth,
		RequestIntervalMs:     defaultRequestIntervalMs,
		PrecisionSeconds:      defaultPrecisionSeconds,
		QueueMaxLengthSeconds: defaultQueueMaxLengthSeconds,
		BufferSeconds:         defaultBufferSeconds,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Audio
	if yc.Audio.SampleRate > 0 {
		cfg.Format.SampleRate = yc.Audio.SampleRate
	}
	if yc.Audio.Channels > 0 {
		cfg.Format.Channels = yc.Audio.Channels
	}
	if cfg.Format.Channels != 1 && cfg.Format.Channels != 2 {
		return Config{}, fmt.Errorf("audio.channels must be 1 or 2, got %d", cfg.Format.Channels)
	}
	if yc.Audio.BitDepth > 0 {
		cfg.BitDepth = yc.Audio.BitDepth
	}
	if cfg.BitDepth != 16 {
		return Config{}, fmt.Errorf("audio.bit_depth must be 16, got %d", cfg.BitDepth)
	}
	if yc.Audio.FramesPerPacket > 0 {
		cfg.Format.FramesPerPacket = yc.Audio.FramesPerPacket
	}

	mode := strings.ToLower(strings.TrimSpace(yc.Audio.ChannelMode))
	switch mode {
	case "", "stereo":
		cfg.ChannelMode = queue.Stereo
	case "only_left":
		cfg.ChannelMode = queue.OnlyLeft
	case "only_right":
		cfg.ChannelMode = queue.OnlyRight
	default:
		return Config{}, fmt.Errorf("audio.channel_mode must be stereo, only_left, or only_right, got %q", yc.Audio.ChannelMode)
	}
	if cfg.ChannelMode != queue.Stereo && cfg.Format.Channels != 2 {
		return Config{}, errors.New("audio.channel_mode other than stereo requires audio.channels: 2")
	}

	// Timing
	if yc.Timing.RequestIntervalMs > 0 {
		cfg.RequestIntervalMs = yc.Timing.RequestIntervalMs
	}
	if yc.Timing.PrecisionSeconds > 0 {
		cfg.PrecisionSeconds = yc.Timing.PrecisionSeconds
	}

	// Queue
	if yc.Queue.MaxLengthSeconds > 0 {
		cfg.QueueMaxLengthSeconds = yc.Queue.MaxLengthSeconds
	}
	if yc.Queue.BufferSeconds > 0 {
		cfg.BufferSeconds = yc.Queue.BufferSeconds
	}

	return cfg, nil
}
