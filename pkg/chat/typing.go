package chat

import (
	"sync"
	"time"

	"github.com/agencydesk/deskchat/pkg/wire"
)

// DefaultTypingWindow is how long a typing entry lives without a refresh.
const DefaultTypingWindow = 1500 * time.Millisecond

type typingKey struct {
	ChatType wire.ChatType
	ChatID   string
}

type typingEntry struct {
	userID string
	timer  *time.Timer
}

// TypingIndicator holds short-lived "who is typing" state per conversation.
// One slot per conversation, last writer wins; entries self-expire after the
// window unless refreshed by another TYPING event.
type TypingIndicator struct {
	window time.Duration

	mu      sync.Mutex
	entries map[typingKey]*typingEntry
}

func NewTypingIndicator(window time.Duration) *TypingIndicator {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	return &TypingIndicator{
		window:  window,
		entries: map[typingKey]*typingEntry{},
	}
}

// Handle records the typer for the event's conversation and (re)starts the
// expiry timer.
func (ti *TypingIndicator) Handle(ev wire.Event) {
	if ti == nil || ev.Type != wire.EventTyping {
		return
	}
	k := typingKey{ChatType: ev.ChatType, ChatID: ev.ChatID}

	ti.mu.Lock()
	defer ti.mu.Unlock()
	if e, ok := ti.entries[k]; ok {
		e.userID = ev.UserID
		e.timer.Reset(ti.window)
		return
	}
	e := &typingEntry{userID: ev.UserID}
	e.timer = time.AfterFunc(ti.window, func() { ti.expire(k) })
	ti.entries[k] = e
}

func (ti *TypingIndicator) expire(k typingKey) {
	ti.mu.Lock()
	delete(ti.entries, k)
	ti.mu.Unlock()
}

// Typist returns the user currently typing in the conversation, if any.
func (ti *TypingIndicator) Typist(chatType wire.ChatType, chatID string) (string, bool) {
	if ti == nil {
		return "", false
	}
	ti.mu.Lock()
	defer ti.mu.Unlock()
	e, ok := ti.entries[typingKey{ChatType: chatType, ChatID: chatID}]
	if !ok {
		return "", false
	}
	return e.userID, true
}

// Stop cancels all pending expiry timers. Called on teardown.
func (ti *TypingIndicator) Stop() {
	if ti == nil {
		return
	}
	ti.mu.Lock()
	defer ti.mu.Unlock()
	for k, e := range ti.entries {
		e.timer.Stop()
		delete(ti.entries, k)
	}
}
