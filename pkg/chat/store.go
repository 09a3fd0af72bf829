package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/agencydesk/deskchat/pkg/wire"
)

// TempIDPrefix namespaces client-generated message ids. The server never
// issues ids in this namespace, so the merge pass can tell an optimistic
// local insert apart from a genuinely new message.
const TempIDPrefix = "temp-"

// Sender transmits outbound frames. Satisfied by *transport.Conn.
type Sender interface {
	Send(wire.Event) error
}

// HistoryAPI fetches conversation history over REST. Satisfied by *rest.Client.
type HistoryAPI interface {
	PrivateHistory(ctx context.Context, withUserID string) ([]wire.Message, error)
	GroupHistory(ctx context.Context, groupID string) ([]wire.Message, error)
}

type conversation struct {
	messages []wire.Message
	unread   int
}

// MessageStore holds the per-conversation message lists, keyed by conversation
// key. Sends are optimistic: the message appears locally with a temporary id
// before the server's echo arrives; the echo is merged by adopting the server
// identity in place. Inbound messages are deduplicated by server-assigned id,
// which makes delivery idempotent under replays.
type MessageStore struct {
	selfID string
	sender Sender
	api    HistoryAPI
	cache  *HistoryCache

	mu    sync.Mutex
	convs map[string]*conversation
}

func NewMessageStore(selfID string, sender Sender, api HistoryAPI) *MessageStore {
	return &MessageStore{
		selfID: selfID,
		sender: sender,
		api:    api,
		convs:  map[string]*conversation{},
	}
}

// SetCache attaches an optional local history cache. Confirmed messages are
// persisted there best-effort; the cache never participates in dedup.
func (s *MessageStore) SetCache(c *HistoryCache) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.cache = c
	s.mu.Unlock()
}

// Messages returns a copy of the ordered message list for key.
func (s *MessageStore) Messages(key string) []wire.Message {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.convs[key]
	if !ok {
		return nil
	}
	return append([]wire.Message(nil), cs.messages...)
}

// Unread returns the current unread count for key.
func (s *MessageStore) Unread(key string) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, ok := s.convs[key]; ok {
		return cs.unread
	}
	return 0
}

// TotalUnread sums unread counts across every conversation.
func (s *MessageStore) TotalUnread() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, cs := range s.convs {
		total += cs.unread
	}
	return total
}

// HasConversation reports whether a message list exists for key.
func (s *MessageStore) HasConversation(key string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.convs[key]
	return ok
}

// EnsureConversation initializes an empty message list for key if none exists,
// so a freshly created group is immediately selectable.
func (s *MessageStore) EnsureConversation(key string) {
	if s == nil || key == "" {
		return
	}
	s.mu.Lock()
	s.ensureLocked(key)
	s.mu.Unlock()
}

// FetchPrivateHistory replaces the 1:1 list with the server's view. A fetch
// racing an unconfirmed optimistic send can transiently drop that entry from
// view until the echo arrives.
func (s *MessageStore) FetchPrivateHistory(ctx context.Context, withUserID string) error {
	if s == nil || s.api == nil {
		return errors.New("chat: message store has no history api")
	}
	msgs, err := s.api.PrivateHistory(ctx, withUserID)
	if err != nil {
		return errors.Wrapf(err, "chat: fetch private history with %s", withUserID)
	}
	s.replaceHistory(Key(s.selfID, withUserID), msgs)
	return nil
}

// FetchGroupHistory replaces the group's list with the server's view.
func (s *MessageStore) FetchGroupHistory(ctx context.Context, groupID string) error {
	if s == nil || s.api == nil {
		return errors.New("chat: message store has no history api")
	}
	msgs, err := s.api.GroupHistory(ctx, groupID)
	if err != nil {
		return errors.Wrapf(err, "chat: fetch group history %s", groupID)
	}
	s.replaceHistory(GroupKey(groupID), msgs)
	return nil
}

func (s *MessageStore) replaceHistory(key string, msgs []wire.Message) {
	s.mu.Lock()
	cs := s.ensureLocked(key)
	cs.messages = append([]wire.Message(nil), msgs...)
	s.recomputeUnreadLocked(cs)
	s.mu.Unlock()
}

// PrimeFromCache fills an empty conversation from the local cache so the UI
// has something to show while the REST fetch is in flight. A non-empty list
// is left untouched.
func (s *MessageStore) PrimeFromCache(ctx context.Context, key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	cache := s.cache
	s.mu.Unlock()
	if cache == nil {
		return
	}
	msgs, err := cache.Load(ctx, key, 0)
	if err != nil {
		log.Warn().Err(err).Str("component", "chat").Str("conv_key", key).Msg("history cache load failed")
		return
	}
	if len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	cs := s.ensureLocked(key)
	if len(cs.messages) == 0 {
		cs.messages = msgs
		s.recomputeUnreadLocked(cs)
	}
	s.mu.Unlock()
}

// SendPrivate transmits a 1:1 message and appends the optimistic local copy.
// Without an open connection the send is a logged no-op: no message appears
// and nothing is queued for retry.
func (s *MessageStore) SendPrivate(toUserID, content string) (wire.Message, error) {
	return s.send(Key(s.selfID, toUserID), wire.NewPrivateMessage(toUserID, content), content)
}

// SendGroup transmits a group message and appends the optimistic local copy.
func (s *MessageStore) SendGroup(groupID, content string) (wire.Message, error) {
	return s.send(GroupKey(groupID), wire.NewGroupMessage(groupID, content), content)
}

func (s *MessageStore) send(key string, ev wire.Event, content string) (wire.Message, error) {
	if s == nil || s.sender == nil {
		return wire.Message{}, errors.New("chat: message store has no sender")
	}
	if err := s.sender.Send(ev); err != nil {
		log.Warn().Err(err).Str("component", "chat").Str("conv_key", key).Msg("send failed, message dropped")
		return wire.Message{}, err
	}

	msg := wire.Message{
		ID:         fmt.Sprintf("%s%d-%s", TempIDPrefix, time.Now().UnixMilli(), uuid.NewString()),
		FromUserID: s.selfID,
		Content:    content,
		Timestamp:  time.Now(),
		Read:       true,
	}
	s.mu.Lock()
	cs := s.ensureLocked(key)
	cs.messages = append(cs.messages, msg)
	s.recomputeUnreadLocked(cs)
	s.mu.Unlock()
	return msg, nil
}

// HandleInbound merges a PRIVATE_MESSAGE or GROUP_MESSAGE event into the
// store. The conversation key is computed from the event's participant or
// group data; the sender's own echo replaces the matching optimistic entry
// in place, keeping its position.
func (s *MessageStore) HandleInbound(ev wire.Event) {
	if s == nil || ev.Message == nil {
		return
	}
	var key string
	switch ev.Type {
	case wire.EventPrivateMessage:
		other := ev.Message.FromUserID
		if other == s.selfID {
			other = ev.ToUserID
		}
		if other == "" {
			log.Warn().Str("component", "chat").Msg("private message without a counterpart, dropping")
			return
		}
		key = Key(s.selfID, other)
	case wire.EventGroupMessage:
		key = GroupKey(ev.GroupID)
	default:
		return
	}
	s.merge(key, *ev.Message)
}

func (s *MessageStore) merge(key string, msg wire.Message) {
	s.mu.Lock()
	cs := s.ensureLocked(key)

	// dedup by server-assigned id: a replayed echo is ignored
	if msg.ID != "" {
		for _, m := range cs.messages {
			if m.ID == msg.ID {
				s.mu.Unlock()
				return
			}
		}
	}

	if msg.FromUserID == s.selfID {
		msg.Read = true
		// reconcile with our optimistic insert: adopt the server identity in
		// place, preserving the position the optimistic append chose
		for i, m := range cs.messages {
			if strings.HasPrefix(m.ID, TempIDPrefix) && m.FromUserID == s.selfID && m.Content == msg.Content {
				cs.messages[i] = msg
				s.recomputeUnreadLocked(cs)
				s.mu.Unlock()
				s.cacheSave(key, msg)
				return
			}
		}
	}

	cs.messages = append(cs.messages, msg)
	s.recomputeUnreadLocked(cs)
	s.mu.Unlock()
	s.cacheSave(key, msg)
}

// MarkRead flips every message in the conversation to read and zeroes its
// unread count. Called when the user opens the conversation.
func (s *MessageStore) MarkRead(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.convs[key]
	if !ok {
		return
	}
	for i := range cs.messages {
		cs.messages[i].Read = true
	}
	cs.unread = 0
}

func (s *MessageStore) ensureLocked(key string) *conversation {
	cs, ok := s.convs[key]
	if !ok {
		cs = &conversation{}
		s.convs[key] = cs
	}
	return cs
}

// recomputeUnreadLocked rederives the counter from the list instead of
// tracking increments, so it cannot drift.
func (s *MessageStore) recomputeUnreadLocked(cs *conversation) {
	n := 0
	for _, m := range cs.messages {
		if !m.Read && m.FromUserID != s.selfID {
			n++
		}
	}
	cs.unread = n
}

func (s *MessageStore) cacheSave(key string, msg wire.Message) {
	s.mu.Lock()
	cache := s.cache
	s.mu.Unlock()
	if cache == nil || strings.HasPrefix(msg.ID, TempIDPrefix) {
		return
	}
	if err := cache.Save(context.Background(), key, msg); err != nil {
		log.Warn().Err(err).Str("component", "chat").Str("conv_key", key).Msg("history cache save failed")
	}
}
