package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voicecrm/internal/codec"
	"voicecrm/internal/domain"
	"voicecrm/internal/ports"
)

// FFmpegCapture streams microphone PCM audio through an ffmpeg child process.
// It is the fallback backend for hosts without a usable PortAudio install.
type FFmpegCapture struct {
	command string
	log     zerolog.Logger
}

func NewFFmpegCapture(command string, log zerolog.Logger) *FFmpegCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpegCapture{command: command, log: log}
}

func (c *FFmpegCapture) Open(ctx context.Context, cfg ports.CaptureConfig) (ports.CaptureSession, error) {
	applyCaptureDefaults(&cfg)
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInitializationFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInitializationFailed, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// ffmpeg exits immediately when the input device is missing or busy.
	select {
	case err := <-waitErr:
		detail := bytes.TrimSpace(stderr.Bytes())
		if err != nil {
			return nil, fmt.Errorf("%w: %v: %s", domain.ErrDeviceUnavailable, err, detail)
		}
		return nil, fmt.Errorf("%w: ffmpeg exited before capture started: %s", domain.ErrDeviceUnavailable, detail)
	case <-time.After(250 * time.Millisecond):
	}

	session := &ffmpegSession{
		stdout:    stdout,
		stderr:    &stderr,
		process:   cmd.Process,
		waitErr:   waitErr,
		blockSize: cfg.FramesPerBlock * cfg.Channels * 2,
		blocks:    make(chan []float32, 8),
		done:      make(chan struct{}),
		log:       c.log,
	}
	go session.run()
	return session, nil
}

type ffmpegSession struct {
	stdout    io.ReadCloser
	stderr    *bytes.Buffer
	process   *os.Process
	waitErr   <-chan error
	blockSize int
	blocks    chan []float32
	done      chan struct{}
	log       zerolog.Logger

	mu    sync.Mutex
	muted bool
	level float64

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) run() {
	defer close(s.blocks)

	buf := make([]byte, s.blockSize)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if _, err := io.ReadFull(s.stdout, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				s.log.Warn().Err(err).Msg("ffmpeg capture read failed")
			}
			return
		}

		block, err := codec.DecodePCM16(buf)
		if err != nil {
			s.log.Warn().Err(err).Msg("ffmpeg produced a malformed pcm block")
			return
		}

		s.mu.Lock()
		muted := s.muted
		s.mu.Unlock()
		if muted {
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

func (s *ffmpegSession) Blocks() <-chan []float32 { return s.blocks }

func (s *ffmpegSession) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

func (s *ffmpegSession) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *ffmpegSession) setLevel(level float64) {
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
}

func (s *ffmpegSession) Close() error {
	s.stopOnce.Do(func() {
		close(s.done)

		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, bytes.TrimSpace(s.stderr.Bytes()))
		}
	})

	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
