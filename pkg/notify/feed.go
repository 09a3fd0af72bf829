// Package notify is the task/assignment notification feed: a second, fully
// independent real-time channel with its own bounded reconnect loop. It may
// silently degrade to "no live updates" without affecting chat.
package notify

import (
	"context"
	"sync"
	"sync/atomic"

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

const inboundTopic = "notify:inbound"

// DefaultMaxRetries bounds the reconnect loop; after that the feed degrades
// silently.
const DefaultMaxRetries = 5

// API covers the notification REST endpoints. Satisfied by *rest.Client.
type API interface {
	Notifications(ctx context.Context) ([]wire.Notification, error)
	MarkNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
}

// Alerter plays the audible cue for assignment notifications. It must not
// fire before Prime has unlocked it via an explicit user gesture.
type Alerter interface {
	Alert()
}

// AlerterFunc adapts a function to Alerter.
type AlerterFunc func()

func (f AlerterFunc) Alert() { f() }

// assignmentCategories are the notification categories that trigger the
// audio cue.
var assignmentCategories = map[string]struct{}{
	"task_assigned": {},
	"mention":       {},
}

// Config configures a Feed.
type Config struct {
	Session *session.Session
	API     API
	Alerter Alerter

	Backoff transport.Backoff
	// MaxRetries defaults to DefaultMaxRetries.
	MaxRetries int

	Dialer *websocket.Dialer
}

// Feed maintains the newest-first notification list and its unread counter.
type Feed struct {
	api     API
	alerter Alerter
	conn    *transport.Conn
	bus     *gochannel.GoChannel

	primed atomic.Bool

	mu       sync.Mutex
	items    []wire.Notification
	onChange func()
	cancel   context.CancelFunc
	started  bool
}

func NewFeed(cfg Config) (*Feed, error) {
	if cfg.Session == nil {
		return nil, errors.New("notify: config has no session")
	}
	if cfg.API == nil {
		return nil, errors.New("notify: config has no api")
	}

	bus := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})

	var socketURL string
	if cfg.Session.Authenticated() {
		var err error
		socketURL, err = cfg.Session.SocketURL(cfg.Session.NotifySocketURL)
		if err != nil {
			return nil, err
		}
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}

	f := &Feed{api: cfg.API, alerter: cfg.Alerter, bus: bus}
	conn, err := transport.New(transport.Config{
		Name:       "notify",
		URL:        socketURL,
		Publisher:  bus,
		Topic:      inboundTopic,
		Backoff:    cfg.Backoff,
		MaxRetries: maxRetries,
		Dialer:     cfg.Dialer,
	})
	if err != nil {
		return nil, err
	}
	f.conn = conn
	return f, nil
}

// Start loads the stored feed, subscribes the dispatcher, and connects. A
// failed initial fetch is logged and the feed starts empty; this is a
// background fetch, not a user action.
func (f *Feed) Start(ctx context.Context) error {
	if f == nil {
		return errors.New("notify: feed is nil")
	}
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return errors.New("notify: feed already started")
	}
	f.started = true
	ctx, f.cancel = context.WithCancel(ctx)
	f.mu.Unlock()

	if items, err := f.api.Notifications(ctx); err != nil {
		log.Warn().Err(err).Str("component", "notify").Msg("initial feed fetch failed, starting empty")
	} else {
		f.mu.Lock()
		f.items = items
		f.mu.Unlock()
	}

	frames, err := f.bus.Subscribe(ctx, inboundTopic)
	if err != nil {
		return errors.Wrap(err, "notify: subscribe inbound topic")
	}
	go f.dispatchLoop(frames)

	f.conn.Connect()
	return nil
}

func (f *Feed) dispatchLoop(frames <-chan *message.Message) {
	for msg := range frames {
		ev, err := wire.Parse(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("component", "notify").Msg("dropping malformed frame")
			msg.Ack()
			continue
		}
		if ev.Type == wire.EventNewNotification {
			f.handle(*ev.Data)
		}
		msg.Ack()
	}
}

func (f *Feed) handle(n wire.Notification) {
	f.mu.Lock()
	// newest first
	f.items = append([]wire.Notification{n}, f.items...)
	onChange := f.onChange
	f.mu.Unlock()

	log.Info().Str("component", "notify").Str("id", n.ID).Str("category", n.Category).Msg("notification received")

	if _, ok := assignmentCategories[n.Category]; ok {
		f.alert()
	}
	if onChange != nil {
		onChange()
	}
}

func (f *Feed) alert() {
	if f.alerter == nil {
		return
	}
	if !f.primed.Load() {
		log.Debug().Str("component", "notify").Msg("alert suppressed, audio not primed")
		return
	}
	f.alerter.Alert()
}

// Prime unlocks the audio cue. Call it from the first user interaction.
func (f *Feed) Prime() {
	if f == nil {
		return
	}
	f.primed.Store(true)
}

// SetOnChange registers a hook invoked after each inbound notification. Set
// it before Start.
func (f *Feed) SetOnChange(fn func()) {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.onChange = fn
	f.mu.Unlock()
}

// Items returns the notifications, newest first.
func (f *Feed) Items() []wire.Notification {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Notification(nil), f.items...)
}

// Unread derives the unread count from the list.
func (f *Feed) Unread() int {
	if f == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, it := range f.items {
		if !it.Read {
			n++
		}
	}
	return n
}

// MarkAllRead flips every notification to read, remotely then locally.
func (f *Feed) MarkAllRead(ctx context.Context) error {
	if f == nil || f.api == nil {
		return errors.New("notify: feed has no api")
	}
	if err := f.api.MarkNotificationsRead(ctx); err != nil {
		return errors.Wrap(err, "notify: mark all read")
	}
	f.mu.Lock()
	for i := range f.items {
		f.items[i].Read = true
	}
	f.mu.Unlock()
	return nil
}

// Delete removes one notification, remotely then locally.
func (f *Feed) Delete(ctx context.Context, id string) error {
	if f == nil || f.api == nil {
		return errors.New("notify: feed has no api")
	}
	if err := f.api.DeleteNotification(ctx, id); err != nil {
		return errors.Wrapf(err, "notify: delete %s", id)
	}
	f.mu.Lock()
	for i, it := range f.items {
		if it.ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			break
		}
	}
	f.mu.Unlock()
	return nil
}

// ConnState reports the notification connection's lifecycle state.
func (f *Feed) ConnState() transport.State { return f.conn.State() }

// Close tears the feed down without triggering a reconnect.
func (f *Feed) Close() {
	if f == nil {
		return
	}
	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()

	f.conn.Close()
	if cancel != nil {
		cancel()
	}
	_ = f.bus.Close()
}
