package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"voicecrm/internal/domain"
	"voicecrm/internal/playback"
	"voicecrm/internal/ports"
)

// PortAudioPlayerFactory creates one playback scheduler per voice session,
// each owning its own PortAudio output stream.
type PortAudioPlayerFactory struct {
	bufferFrames int
	log          zerolog.Logger
}

func NewPortAudioPlayerFactory(bufferFrames int, log zerolog.Logger) *PortAudioPlayerFactory {
	if bufferFrames <= 0 {
		bufferFrames = 1024
	}
	return &PortAudioPlayerFactory{bufferFrames: bufferFrames, log: log}
}

func (f *PortAudioPlayerFactory) NewPlayer(sampleRate int) (ports.Player, error) {
	if sampleRate <= 0 {
		sampleRate = 24000
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInitializationFailed, err)
	}

	buffer := make([]float32, f.bufferFrames)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), f.bufferFrames, buffer)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", domain.ErrInitializationFailed, err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", domain.ErrInitializationFailed, err)
	}

	sink := &portAudioSink{stream: stream, buffer: buffer}
	return playback.NewScheduler(sink, playback.SystemClock(), f.log), nil
}

type portAudioSink struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buffer []float32

	closeOnce sync.Once
	closeErr  error
}

func (s *portAudioSink) Write(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for offset := 0; offset < len(samples); offset += len(s.buffer) {
		end := offset + len(s.buffer)
		if end > len(samples) {
			end = len(samples)
		}
		n := copy(s.buffer, samples[offset:end])
		// Zero-pad the final partial buffer so no stale tail plays.
		for i := n; i < len(s.buffer); i++ {
			s.buffer[i] = 0
		}
		if err := s.stream.Write(); err != nil {
			return err
		}
	}
	return nil
}

func (s *portAudioSink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.stream.Abort(); err != nil {
		return err
	}
	return s.stream.Start()
}

func (s *portAudioSink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		_ = s.stream.Abort()
		s.closeErr = s.stream.Close()
		_ = portaudio.Terminate()
	})
	return s.closeErr
}
