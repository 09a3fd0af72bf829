// Package chat is the real-time messaging core: a connection-backed message
// store with optimistic sends and idempotent merge, plus presence, typing and
// the conversation directory. One Client is constructed per login session and
// torn down on logout.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/agencydesk/deskchat/pkg/session"
	"github.com/agencydesk/deskchat/pkg/transport"
	"github.com/agencydesk/deskchat/pkg/wire"
)

const inboundTopic = "chat:inbound"

// API is the REST surface the chat core consumes. Satisfied by *rest.Client.
type API interface {
	HistoryAPI
	DirectoryAPI
}

// Config configures a Client.
type Config struct {
	Session *session.Session
	API     API

	// Cache is an optional local history cache.
	Cache *HistoryCache

	// TypingWindow defaults to DefaultTypingWindow.
	TypingWindow time.Duration

	// Backoff defaults to transport.DefaultBackoff. The chat channel retries
	// forever (capped delay, no give-up); MaxRetries can bound it for tests.
	Backoff    transport.Backoff
	MaxRetries int

	Dialer *websocket.Dialer
}

// Client owns the chat connection and routes every inbound event to the
// message store, presence tracker, typing indicator, or directory. State
// accessors are read-only from the UI's perspective.
type Client struct {
	sess      *session.Session
	conn      *transport.Conn
	bus       *gochannel.GoChannel
	store     *MessageStore
	presence  *PresenceTracker
	typing    *TypingIndicator
	directory *Directory

	mu      sync.Mutex
	onEvent func(wire.Event)
	cancel  context.CancelFunc
	started bool
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Session == nil {
		return nil, errors.New("chat: config has no session")
	}
	if cfg.API == nil {
		return nil, errors.New("chat: config has no api")
	}

	bus := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})

	// connect with an empty URL (a logged no-op) when unauthenticated
	var socketURL string
	if cfg.Session.Authenticated() {
		var err error
		socketURL, err = cfg.Session.SocketURL(cfg.Session.ChatSocketURL)
		if err != nil {
			return nil, err
		}
	}

	c := &Client{
		sess:      cfg.Session,
		bus:       bus,
		presence:  NewPresenceTracker(),
		typing:    NewTypingIndicator(cfg.TypingWindow),
		directory: NewDirectory(cfg.API),
	}

	conn, err := transport.New(transport.Config{
		Name:      "chat",
		URL:       socketURL,
		Publisher: bus,
		Topic:     inboundTopic,
		OnOpen:    func() { c.announce() },
		Backoff:   cfg.Backoff,
		// chat channel: unbounded reconnect at capped delay unless overridden
		MaxRetries: cfg.MaxRetries,
		Dialer:     cfg.Dialer,
	})
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.store = NewMessageStore(cfg.Session.UserID, conn, cfg.API)
	c.store.SetCache(cfg.Cache)
	return c, nil
}

// announce sends the local "I am online" event right after the socket opens;
// the server answers with the full ONLINE_USERS snapshot.
func (c *Client) announce() {
	if err := c.conn.Send(wire.NewUserOnline(c.sess.UserID)); err != nil {
		log.Warn().Err(err).Str("component", "chat").Msg("presence announce failed")
	}
}

// Start subscribes the dispatcher to the inbound topic and opens the
// connection. The directory is loaded in the same call; a directory failure
// aborts Start, a connect failure does not (the transport retries on its own).
func (c *Client) Start(ctx context.Context) error {
	if c == nil {
		return errors.New("chat: client is nil")
	}
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("chat: client already started")
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	if err := c.directory.Load(ctx); err != nil {
		return err
	}

	frames, err := c.bus.Subscribe(ctx, inboundTopic)
	if err != nil {
		return errors.Wrap(err, "chat: subscribe inbound topic")
	}
	go c.dispatchLoop(frames)

	c.conn.Connect()
	return nil
}

func (c *Client) dispatchLoop(frames <-chan *message.Message) {
	for msg := range frames {
		ev, err := wire.Parse(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("component", "chat").Msg("dropping malformed frame")
			msg.Ack()
			continue
		}
		c.dispatch(ev)
		msg.Ack()

		c.mu.Lock()
		cb := c.onEvent
		c.mu.Unlock()
		if cb != nil {
			cb(ev)
		}
	}
	log.Debug().Str("component", "chat").Msg("dispatcher stopped")
}

func (c *Client) dispatch(ev wire.Event) {
	switch ev.Type {
	case wire.EventOnlineUsers, wire.EventUserOnline, wire.EventUserOffline:
		c.presence.Handle(ev)

	case wire.EventPrivateMessage, wire.EventGroupMessage:
		c.store.HandleInbound(ev)

	case wire.EventGroupCreated:
		if c.directory.AddGroup(*ev.Group) {
			c.store.EnsureConversation(GroupKey(ev.Group.ID))
			log.Info().
				Str("component", "chat").
				Str("group_id", ev.Group.ID).
				Str("created_by", ev.CreatedBy).
				Msg("group created remotely")
		}

	case wire.EventTyping:
		if ev.UserID != c.sess.UserID {
			c.typing.Handle(ev)
		}

	default:
		log.Debug().Str("component", "chat").Str("type", string(ev.Type)).Msg("ignoring event")
	}
}

// SetOnEvent registers a hook invoked after each dispatched event, used by
// the UI to trigger re-renders. Set it before Start.
func (c *Client) SetOnEvent(f func(wire.Event)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.onEvent = f
	c.mu.Unlock()
}

// NotifyTyping sends a TYPING frame for the conversation. Called on every
// keystroke that leaves a non-empty input; a dropped frame is irrelevant, the
// next keystroke resends.
func (c *Client) NotifyTyping(chatType wire.ChatType, chatID string) {
	if c == nil {
		return
	}
	if err := c.conn.Send(wire.NewTyping(chatID, chatType, c.sess.UserID)); err != nil {
		log.Debug().Err(err).Str("component", "chat").Msg("typing notify dropped")
	}
}

// Store exposes the message store.
func (c *Client) Store() *MessageStore { return c.store }

// Presence exposes the presence tracker.
func (c *Client) Presence() *PresenceTracker { return c.presence }

// Typing exposes the typing indicator.
func (c *Client) Typing() *TypingIndicator { return c.typing }

// Directory exposes the conversation directory.
func (c *Client) Directory() *Directory { return c.directory }

// ConnState reports the chat connection's lifecycle state.
func (c *Client) ConnState() transport.State { return c.conn.State() }

// Close tears the client down: the socket closes cleanly (no reconnect), the
// dispatcher drains, and typing timers stop.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	c.conn.Close()
	if cancel != nil {
		cancel()
	}
	_ = c.bus.Close()
	c.typing.Stop()
}
