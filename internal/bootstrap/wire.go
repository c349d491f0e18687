package bootstrap

import (
	"os"
	"strings"

	"github.com/rs/zerolog"

	"voicecrm/internal/audio"
	"voicecrm/internal/config"
	"voicecrm/internal/crm"
	"voicecrm/internal/ports"
	"voicecrm/internal/providers/agent"
	"voicecrm/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	CRM        *crm.Client
	Config     *config.Config
	Log        zerolog.Logger
}

// Build wires all backend dependencies for the current runtime. It performs
// no device I/O; microphones and output streams are opened lazily when a
// voice session starts.
func Build(configPath string, events ports.EventSink) (Services, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return Services{}, err
	}

	log := newLogger(cfg.Log)

	crmClient, err := crm.NewClient(crm.Config{BaseURL: cfg.Server.BaseURL()}, log)
	if err != nil {
		return Services{}, err
	}

	controller := usecase.NewSessionController(
		agent.NewDialer(agent.Config{
			Host: cfg.Server.Host,
			TLS:  cfg.Server.TLS,
			Path: cfg.Server.VoicePath,
		}, log),
		newCapture(cfg.Audio, log),
		audio.NewPortAudioPlayerFactory(cfg.Playback.BufferFrames, log),
		events,
		log,
		usecase.Config{
			Capture: ports.CaptureConfig{
				SampleRate:       cfg.Audio.SampleRate,
				Channels:         cfg.Audio.Channels,
				FramesPerBlock:   cfg.Audio.FramesPerBlock,
				EchoCancellation: cfg.Audio.EchoCancellation,
				NoiseSuppression: cfg.Audio.NoiseSuppression,
				Command:          cfg.Audio.FFmpegCommand,
				InputFormat:      cfg.Audio.InputFormat,
				InputDevice:      cfg.Audio.InputDevice,
			},
			SampleRate: cfg.Audio.SampleRate,
		},
	)

	return Services{Controller: controller, CRM: crmClient, Config: cfg, Log: log}, nil
}

func newCapture(cfg config.AudioConfig, log zerolog.Logger) ports.AudioCapture {
	if strings.EqualFold(cfg.Backend, "ffmpeg") {
		return audio.NewFFmpegCapture(cfg.FFmpegCommand, log)
	}
	return audio.NewPortAudioCapture(log)
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
