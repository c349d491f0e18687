package domain

import (
	"errors"
	"time"
)

// SessionState models the voice session lifecycle.
type SessionState string

const (
	SessionStateIdle     SessionState = "idle"
	SessionStateStarting SessionState = "starting"
	SessionStateActive   SessionState = "active"
	SessionStateStopping SessionState = "stopping"
	SessionStateError    SessionState = "error"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonBoot           SessionStateReason = "boot"
	SessionReasonSessionStarted SessionStateReason = "session_started"
	SessionReasonConnected      SessionStateReason = "connected"
	SessionReasonStoppedByUser  SessionStateReason = "stopped_by_user"
	SessionReasonConnectFailed  SessionStateReason = "connect_failed"
	SessionReasonConnectionLost SessionStateReason = "connection_lost"
	SessionReasonCaptureFailed  SessionStateReason = "capture_failed"
	SessionReasonPlaybackFailed SessionStateReason = "playback_failed"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup   ErrorCode = "startup"
	ErrorCodeCapture   ErrorCode = "capture"
	ErrorCodeTransport ErrorCode = "transport"
	ErrorCodePlayback  ErrorCode = "playback"
	ErrorCodeAuth      ErrorCode = "auth"
)

// Sentinel errors for the capture, transport and codec layers.
var (
	ErrPermissionDenied     = errors.New("microphone permission denied")
	ErrDeviceUnavailable    = errors.New("no audio input device available")
	ErrInitializationFailed = errors.New("audio engine initialization failed")
	ErrNotConnected         = errors.New("voice connection is not open")
	ErrDecode               = errors.New("malformed audio payload")
)

// Role identifies the speaker of a conversation entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationEntry is one line of the conversation log. Entries are
// append-only and never mutated after creation.
type ConversationEntry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// Status summarizes the current runtime status.
type Status struct {
	State   SessionState `json:"state"`
	Active  bool         `json:"active"`
	Muted   bool         `json:"muted"`
	Message string       `json:"message,omitempty"`
}
