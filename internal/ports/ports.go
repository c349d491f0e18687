package ports

import (
	"context"

	"voicecrm/internal/domain"
)

// CaptureConfig describes how the microphone should be opened.
type CaptureConfig struct {
	SampleRate       int
	Channels         int
	FramesPerBlock   int
	EchoCancellation bool
	NoiseSuppression bool

	// Used by the ffmpeg backend only.
	Command     string
	InputFormat string
	InputDevice string
}

// CaptureSession is an open microphone pipeline. Blocks delivers fixed-size
// float32 sample blocks until the session is closed; the channel is closed
// when the underlying device stops.
type CaptureSession interface {
	Blocks() <-chan []float32
	SetMuted(muted bool)
	Level() float64
	Close() error
}

// AudioCapture opens microphone capture sessions. Open may block on device
// acquisition for as long as the user takes to grant access; it honors ctx.
type AudioCapture interface {
	Open(ctx context.Context, cfg CaptureConfig) (CaptureSession, error)
}

// VoiceConn is an open bidirectional message connection to the voice agent.
// Messages are delivered in arrival order; the channel closes when the
// connection ends, after which Err reports the terminal error, if any.
// Send fails with domain.ErrNotConnected once the connection is closed.
type VoiceConn interface {
	Send(payload []byte) error
	Messages() <-chan []byte
	Err() error
	Close() error
}

// VoiceDialer opens voice agent connections.
type VoiceDialer interface {
	Dial(ctx context.Context) (VoiceConn, error)
}

// Player schedules decoded audio chunks for gapless sequential output.
type Player interface {
	Enqueue(samples []float32, sampleRate int) error
	Flush()
	Pending() int
	Shutdown() error
}

// PlayerFactory creates one Player per session.
type PlayerFactory interface {
	NewPlayer(sampleRate int) (Player, error)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	ConversationAppended(entry domain.ConversationEntry)
	SessionError(code domain.ErrorCode, detail string)
}
