package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"voicecrm/internal/domain"
	"voicecrm/internal/ports"
)

var (
	ErrSessionActive = errors.New("a voice session is already running")
	ErrNotActive     = errors.New("voice session is not active")
)

// Config controls voice session behavior.
type Config struct {
	Capture    ports.CaptureConfig
	SampleRate int
}

// SessionController owns the voice session lifecycle. Every start and stop
// increments the session epoch; asynchronous continuations capture the epoch
// they were issued under and re-check it before touching shared state, so
// work belonging to a superseded session only cleans up after itself.
type SessionController struct {
	dialer  ports.VoiceDialer
	capture ports.AudioCapture
	players ports.PlayerFactory
	events  ports.EventSink
	entries *conversationLog
	log     zerolog.Logger
	cfg     Config

	mu      sync.Mutex
	epoch   uint64
	state   domain.SessionState
	muted   bool
	current *voiceSession
}

func NewSessionController(
	dialer ports.VoiceDialer,
	capture ports.AudioCapture,
	players ports.PlayerFactory,
	events ports.EventSink,
	log zerolog.Logger,
	cfg Config,
) *SessionController {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	return &SessionController{
		dialer:  dialer,
		capture: capture,
		players: players,
		events:  events,
		entries: newConversationLog(),
		log:     log,
		cfg:     cfg,
		state:   domain.SessionStateIdle,
	}
}

// Start begins a new voice session. Valid only while idle; the transport
// connection and microphone acquisition proceed concurrently and neither
// blocks the other.
func (c *SessionController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.SessionStateIdle {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.epoch++
	epoch := c.epoch
	c.muted = false
	c.state = domain.SessionStateStarting

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &voiceSession{epoch: epoch, cancel: cancel}
	c.current = sess
	c.mu.Unlock()

	c.events.SessionStateChanged(domain.SessionStateStarting, domain.SessionReasonSessionStarted)

	player, err := c.players.NewPlayer(c.cfg.SampleRate)
	if err != nil {
		c.events.SessionError(domain.ErrorCodePlayback, err.Error())
		c.teardown(epoch, domain.SessionReasonPlaybackFailed)
		return err
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		_ = player.Shutdown()
		return nil
	}
	sess.player = player
	c.mu.Unlock()

	go c.openTransport(sessCtx, sess)
	go c.openCapture(sessCtx, sess)
	return nil
}

// Stop ends the current session. Safe to call twice; the second call is a
// no-op.
func (c *SessionController) Stop() error {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return nil
	}
	epoch := c.current.epoch
	c.mu.Unlock()

	c.teardown(epoch, domain.SessionReasonStoppedByUser)
	return nil
}

// ToggleMute flips the mute flag without tearing down the capture pipeline;
// the device keeps running and only its transmitted effect is suppressed.
func (c *SessionController) ToggleMute() (bool, error) {
	c.mu.Lock()
	if c.state != domain.SessionStateActive || c.current == nil {
		c.mu.Unlock()
		return false, ErrNotActive
	}
	c.muted = !c.muted
	muted := c.muted
	capture := c.current.capture
	c.mu.Unlock()

	if capture != nil {
		capture.SetMuted(muted)
	}
	return muted, nil
}

// Status returns the current session status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Status{
		State:  c.state,
		Active: c.state == domain.SessionStateStarting || c.state == domain.SessionStateActive,
		Muted:  c.muted,
	}
}

// Conversation returns the transcript history in append order. The history
// survives session stops.
func (c *SessionController) Conversation() []domain.ConversationEntry {
	return c.entries.Snapshot()
}

// InputLevel reports the RMS energy of the most recent capture block, or
// zero when no capture is running. The waveform view polls this.
func (c *SessionController) InputLevel() float64 {
	c.mu.Lock()
	var capture ports.CaptureSession
	if c.current != nil {
		capture = c.current.capture
	}
	c.mu.Unlock()

	if capture == nil {
		return 0
	}
	return capture.Level()
}

func (c *SessionController) isCurrent(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

// openTransport dials the voice agent. On success the session transitions
// to active and inbound messages start flowing to the dispatcher.
func (c *SessionController) openTransport(ctx context.Context, sess *voiceSession) {
	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		if c.isCurrent(sess.epoch) {
			c.events.SessionError(domain.ErrorCodeTransport, err.Error())
			c.teardown(sess.epoch, domain.SessionReasonConnectFailed)
		}
		return
	}

	c.mu.Lock()
	if c.epoch != sess.epoch {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	sess.conn = conn
	c.state = domain.SessionStateActive
	c.mu.Unlock()

	c.events.SessionStateChanged(domain.SessionStateActive, domain.SessionReasonConnected)
	go c.readMessages(sess, conn)
}

// openCapture acquires the microphone. Acquisition can outlive the session
// that requested it; a handle resolving into a dead epoch is closed on the
// spot and never exposed.
func (c *SessionController) openCapture(ctx context.Context, sess *voiceSession) {
	capture, err := c.capture.Open(ctx, c.cfg.Capture)
	if err != nil {
		if c.isCurrent(sess.epoch) {
			c.events.SessionError(domain.ErrorCodeCapture, err.Error())
			c.teardown(sess.epoch, domain.SessionReasonCaptureFailed)
		}
		return
	}

	c.mu.Lock()
	if c.epoch != sess.epoch {
		c.mu.Unlock()
		_ = capture.Close()
		return
	}
	sess.capture = capture
	muted := c.muted
	c.mu.Unlock()

	capture.SetMuted(muted)
	go c.pumpAudio(sess, capture)
}

// readMessages consumes the inbound event stream in arrival order. The
// stream ending while the session is still current means the remote side
// hung up: run the same cleanup as a user stop.
func (c *SessionController) readMessages(sess *voiceSession, conn ports.VoiceConn) {
	disp := newDispatcher(sess.player, c.entries, c.events, c.cfg.SampleRate, c.log)

	for raw := range conn.Messages() {
		if !c.isCurrent(sess.epoch) {
			return
		}
		disp.Dispatch(raw)
	}

	if !c.isCurrent(sess.epoch) {
		return
	}
	if err := conn.Err(); err != nil {
		c.events.SessionError(domain.ErrorCodeTransport, err.Error())
	}
	c.teardown(sess.epoch, domain.SessionReasonConnectionLost)
}

// teardown releases every resource belonging to the given epoch and returns
// the controller to idle. It is a no-op for superseded epochs, which makes
// stop, transport loss and capture failure safe to race.
func (c *SessionController) teardown(epoch uint64, reason domain.SessionStateReason) {
	c.mu.Lock()
	if c.epoch != epoch || c.current == nil {
		c.mu.Unlock()
		return
	}
	sess := c.current
	c.current = nil
	c.epoch++
	c.state = domain.SessionStateStopping
	c.muted = false
	conn := sess.conn
	capture := sess.capture
	player := sess.player
	c.mu.Unlock()

	c.events.SessionStateChanged(domain.SessionStateStopping, reason)

	sess.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	if player != nil {
		player.Flush()
		_ = player.Shutdown()
	}
	if capture != nil {
		_ = capture.Close()
	}

	c.mu.Lock()
	c.state = domain.SessionStateIdle
	c.mu.Unlock()
	c.events.SessionStateChanged(domain.SessionStateIdle, reason)
}
