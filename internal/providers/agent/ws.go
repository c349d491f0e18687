package agent

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voicecrm/internal/domain"
	"voicecrm/internal/ports"
)

// Config controls the voice agent websocket endpoint.
type Config struct {
	Host string
	TLS  bool
	Path string
}

// Dialer implements ports.VoiceDialer against the CRM backend's voice agent
// websocket endpoint.
type Dialer struct {
	cfg Config
	log zerolog.Logger
}

func NewDialer(cfg Config, log zerolog.Logger) *Dialer {
	if cfg.Host == "" {
		cfg.Host = "localhost:8000"
	}
	if cfg.Path == "" {
		cfg.Path = "/ws/voice-agent/"
	}
	return &Dialer{cfg: cfg, log: log}
}

func (d *Dialer) Dial(ctx context.Context) (ports.VoiceConn, error) {
	wsURL := buildVoiceURL(d.cfg)

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to voice agent: %w", err)
	}
	d.log.Debug().Str("url", wsURL).Msg("voice agent connected")

	c := &conn{
		ws:       ws,
		messages: make(chan []byte, 64),
		closed:   make(chan struct{}),
		log:      d.log,
	}
	go c.readLoop()
	return c, nil
}

func buildVoiceURL(cfg Config) string {
	scheme := "ws"
	if cfg.TLS {
		scheme = "wss"
	}
	path := cfg.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{Scheme: scheme, Host: cfg.Host, Path: path}
	return u.String()
}

type conn struct {
	ws       *websocket.Conn
	messages chan []byte
	closed   chan struct{}
	log      zerolog.Logger

	writeMu sync.Mutex

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
	sendMu    sync.RWMutex
	sendDown  bool
}

func (c *conn) Send(payload []byte) error {
	c.sendMu.RLock()
	down := c.sendDown
	c.sendMu.RUnlock()
	if down {
		return domain.ErrNotConnected
	}

	c.writeMu.Lock()
	err := c.ws.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.setErr(fmt.Errorf("failed to send voice frame: %w", err))
		return fmt.Errorf("%w: %v", domain.ErrNotConnected, err)
	}
	return nil
}

func (c *conn) Messages() <-chan []byte { return c.messages }

func (c *conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		c.sendDown = true
		c.sendMu.Unlock()
		close(c.closed)
		_ = c.ws.Close()
	})
	return nil
}

func (c *conn) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *conn) readLoop() {
	defer close(c.messages)

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				// Local close; nothing to record.
			default:
				c.setErr(err)
			}
			c.sendMu.Lock()
			c.sendDown = true
			c.sendMu.Unlock()
			return
		}

		select {
		case c.messages <- payload:
		case <-c.closed:
			return
		}
	}
}
