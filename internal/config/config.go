// Package config loads the desktop client configuration. Settings come from
// a YAML file with environment expansion; a missing file falls back to
// defaults so the app runs against a local backend out of the box.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Audio    AudioConfig    `yaml:"audio"`
	Playback PlaybackConfig `yaml:"playback"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host      string `yaml:"host"`
	TLS       bool   `yaml:"tls"`
	VoicePath string `yaml:"voice_path"`
}

type AudioConfig struct {
	Backend          string `yaml:"backend"`
	SampleRate       int    `yaml:"sample_rate"`
	Channels         int    `yaml:"channels"`
	FramesPerBlock   int    `yaml:"frames_per_block"`
	EchoCancellation bool   `yaml:"echo_cancellation"`
	NoiseSuppression bool   `yaml:"noise_suppression"`
	FFmpegCommand    string `yaml:"ffmpeg_command"`
	InputFormat      string `yaml:"input_format"`
	InputDevice      string `yaml:"input_device"`
}

type PlaybackConfig struct {
	BufferFrames int `yaml:"buffer_frames"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BaseURL is the backend HTTP origin derived from the server settings.
func (c ServerConfig) BaseURL() string {
	scheme := "http"
	if c.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Host)
}

// DefaultPath returns the per-user config location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "voicecrm.yaml"
	}
	return filepath.Join(dir, "voicecrm", "config.yaml")
}

// Load reads the YAML file at path, expanding ${VAR} references from the
// environment. A missing file is not an error.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost:8000"
	}
	if c.Server.VoicePath == "" {
		c.Server.VoicePath = "/ws/voice-agent/"
	}
	if c.Audio.Backend == "" {
		c.Audio.Backend = "portaudio"
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 24000
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.FramesPerBlock <= 0 {
		c.Audio.FramesPerBlock = 480
	}
	if c.Audio.FFmpegCommand == "" {
		c.Audio.FFmpegCommand = "ffmpeg"
	}
	if c.Audio.InputFormat == "" {
		c.Audio.InputFormat = "pulse"
	}
	if c.Audio.InputDevice == "" {
		c.Audio.InputDevice = "default"
	}
	if c.Playback.BufferFrames <= 0 {
		c.Playback.BufferFrames = 1024
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}
