package usecase

import (
	"context"

	"voicecrm/internal/ports"
)

// voiceSession holds the resources belonging to one session epoch. Fields
// other than epoch and cancel are set by asynchronous continuations and are
// only read or written while holding the controller's lock.
type voiceSession struct {
	epoch  uint64
	cancel context.CancelFunc

	player  ports.Player
	conn    ports.VoiceConn
	capture ports.CaptureSession
}
