package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"voicecrm/internal/domain"
	"voicecrm/internal/ports"
)

// PortAudioCapture opens microphone sessions through PortAudio. It is the
// default capture backend.
type PortAudioCapture struct {
	log zerolog.Logger
}

func NewPortAudioCapture(log zerolog.Logger) *PortAudioCapture {
	return &PortAudioCapture{log: log}
}

func (c *PortAudioCapture) Open(ctx context.Context, cfg ports.CaptureConfig) (ports.CaptureSession, error) {
	applyCaptureDefaults(&cfg)

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInitializationFailed, err)
	}

	if _, err := portaudio.DefaultInputDevice(); err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	// Device acquisition may have raced a session teardown; do not hand a
	// live device to a dead session.
	if err := ctx.Err(); err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	buffer := make([]float32, cfg.FramesPerBlock*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.FramesPerBlock, buffer)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", domain.ErrInitializationFailed, err)
	}

	session := &portAudioSession{
		stream: stream,
		buffer: buffer,
		blocks: make(chan []float32, 8),
		done:   make(chan struct{}),
		log:    c.log,
	}
	go session.run()

	c.log.Debug().
		Int("sample_rate", cfg.SampleRate).
		Int("frames_per_block", cfg.FramesPerBlock).
		Msg("portaudio capture started")
	return session, nil
}

func applyCaptureDefaults(cfg *ports.CaptureConfig) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FramesPerBlock <= 0 {
		cfg.FramesPerBlock = 480
	}
}

type portAudioSession struct {
	stream *portaudio.Stream
	buffer []float32
	blocks chan []float32
	done   chan struct{}
	log    zerolog.Logger

	mu    sync.Mutex
	muted bool
	level float64

	closeOnce sync.Once
}

func (s *portAudioSession) run() {
	defer close(s.blocks)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			select {
			case <-s.done:
			default:
				s.log.Warn().Err(err).Msg("portaudio read failed")
			}
			return
		}

		block := make([]float32, len(s.buffer))
		copy(block, s.buffer)

		s.mu.Lock()
		muted := s.muted
		s.mu.Unlock()
		if muted {
			// The device keeps running while muted; only silence leaves it.
			for i := range block {
				block[i] = 0
			}
		}
		s.setLevel(rmsLevel(block))

		select {
		case s.blocks <- block:
		case <-s.done:
			return
		}
	}
}

func (s *portAudioSession) Blocks() <-chan []float32 { return s.blocks }

func (s *portAudioSession) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

func (s *portAudioSession) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *portAudioSession) setLevel(level float64) {
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
}

func (s *portAudioSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.stream.Abort()
		_ = s.stream.Close()
		_ = portaudio.Terminate()
	})
	return nil
}
