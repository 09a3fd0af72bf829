// Package transport owns the persistent duplex connections to the server: one
// per logical channel (chat, notifications). Each Conn dials a websocket,
// publishes every inbound frame to an in-process watermill topic for the
// channel's dispatcher, and reconnects with exponential backoff after unclean
// closes. Transport failures are logged, never surfaced to the UI.
package transport

import (
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/agencydesk/deskchat/pkg/wire"
)

// State is the connection lifecycle state.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// ErrNotConnected is returned by Send when the socket is not open. Senders
// treat it as a logged no-op; there is no outbound queue.
var ErrNotConnected = errors.New("transport: not connected")

// Config configures a Conn.
type Config struct {
	// Name labels the channel in logs ("chat", "notify").
	Name string

	// URL is the full socket endpoint including the bearer credential. When
	// empty (no credential), Connect is a logged no-op.
	URL string

	// Publisher receives one watermill message per inbound frame on Topic.
	Publisher message.Publisher
	Topic     string

	// OnOpen runs after every successful open, before the read loop starts
	// delivering frames. The chat channel announces USER_ONLINE here.
	OnOpen func()

	Backoff Backoff

	// MaxRetries bounds consecutive failed reconnects; after that the channel
	// silently degrades to "no live updates". Zero means retry forever.
	MaxRetries int

	Dialer *websocket.Dialer
}

// Conn maintains one persistent connection for a channel.
type Conn struct {
	cfg    Config
	dialer *websocket.Dialer

	mu      sync.Mutex
	ws      *websocket.Conn
	state   State
	attempt int
	retry   *time.Timer
	closed  bool
}

func New(cfg Config) (*Conn, error) {
	if cfg.Publisher == nil {
		return nil, errors.New("transport: publisher is nil")
	}
	if cfg.Topic == "" {
		return nil, errors.New("transport: empty topic")
	}
	if cfg.Name == "" {
		cfg.Name = "conn"
	}
	d := cfg.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	return &Conn{cfg: cfg, dialer: d}, nil
}

// Connect opens the connection if it is closed. Dial failures schedule a
// retry; they are never returned to the caller.
func (c *Conn) Connect() {
	if c == nil {
		return
	}
	if c.cfg.URL == "" {
		log.Info().Str("component", "transport").Str("channel", c.cfg.Name).Msg("no credential, skipping connect")
		return
	}

	c.mu.Lock()
	if c.closed || c.state != StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	ws, resp, err := c.dialer.Dial(c.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		log.Warn().Err(err).Str("component", "transport").Str("channel", c.cfg.Name).Msg("dial failed")
		c.mu.Lock()
		c.state = StateClosed
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.closed {
		// torn down while dialing
		c.state = StateClosed
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = ws
	c.state = StateOpen
	c.attempt = 0
	c.mu.Unlock()

	log.Info().Str("component", "transport").Str("channel", c.cfg.Name).Msg("connected")
	if c.cfg.OnOpen != nil {
		c.cfg.OnOpen()
	}
	go c.readLoop(ws)
}

// Send transmits one frame. It fails fast with ErrNotConnected when the
// socket is not open.
func (c *Conn) Send(ev wire.Event) error {
	if c == nil {
		return ErrNotConnected
	}
	b, err := ev.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.ws == nil {
		log.Debug().Str("component", "transport").Str("channel", c.cfg.Name).Str("type", string(ev.Type)).Msg("send while disconnected, dropping")
		return ErrNotConnected
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return errors.Wrapf(err, "transport: %s send", c.cfg.Name)
	}
	return nil
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	if c == nil {
		return StateClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close tears the connection down intentionally: a normal-closure frame is
// sent so the far side sees a clean shutdown, and no reconnect is scheduled.
func (c *Conn) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.closed = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	ws := c.ws
	c.ws = nil
	c.state = StateClosed
	c.mu.Unlock()

	if ws != nil {
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = ws.Close()
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		msg := message.NewMessage(watermill.NewUUID(), data)
		if err := c.cfg.Publisher.Publish(c.cfg.Topic, msg); err != nil {
			log.Warn().Err(err).Str("component", "transport").Str("channel", c.cfg.Name).Msg("failed to publish inbound frame")
		}
	}
	_ = ws.Close()

	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
		c.state = StateClosed
	}
	if c.closed {
		c.mu.Unlock()
		log.Debug().Str("component", "transport").Str("channel", c.cfg.Name).Msg("connection closed")
		return
	}
	log.Warn().Str("component", "transport").Str("channel", c.cfg.Name).Msg("connection dropped")
	c.scheduleReconnectLocked()
	c.mu.Unlock()
}

func (c *Conn) scheduleReconnectLocked() {
	if c.closed {
		return
	}
	c.attempt++
	if c.cfg.MaxRetries > 0 && c.attempt > c.cfg.MaxRetries {
		log.Warn().
			Str("component", "transport").
			Str("channel", c.cfg.Name).
			Int("attempts", c.attempt-1).
			Msg("giving up on reconnect, live updates disabled")
		return
	}
	d := c.cfg.Backoff.Delay(c.attempt - 1)
	log.Info().
		Str("component", "transport").
		Str("channel", c.cfg.Name).
		Int("attempt", c.attempt).
		Dur("delay", d).
		Msg("scheduling reconnect")
	c.retry = time.AfterFunc(d, c.Connect)
}
