package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agencydesk/deskchat/pkg/wire"
)

func typingEvent(chatID, userID string) wire.Event {
	return wire.Event{Type: wire.EventTyping, ChatID: chatID, ChatType: wire.ChatTypePrivate, UserID: userID}
}

func TestTypingEntryAutoExpires(t *testing.T) {
	ti := NewTypingIndicator(40 * time.Millisecond)
	defer ti.Stop()

	ti.Handle(typingEvent("u1-u2", "u2"))

	who, ok := ti.Typist(wire.ChatTypePrivate, "u1-u2")
	require.True(t, ok)
	require.Equal(t, "u2", who)

	require.Eventually(t, func() bool {
		_, ok := ti.Typist(wire.ChatTypePrivate, "u1-u2")
		return !ok
	}, time.Second, 5*time.Millisecond, "entry must expire without a refresh")
}

func TestTypingRefreshExtendsWindow(t *testing.T) {
	ti := NewTypingIndicator(60 * time.Millisecond)
	defer ti.Stop()

	ti.Handle(typingEvent("u1-u2", "u2"))
	time.Sleep(35 * time.Millisecond)
	ti.Handle(typingEvent("u1-u2", "u2"))
	time.Sleep(35 * time.Millisecond)

	// 70ms after the first event but only 35ms after the refresh
	_, ok := ti.Typist(wire.ChatTypePrivate, "u1-u2")
	require.True(t, ok)
}

func TestTypingLastWriterWins(t *testing.T) {
	ti := NewTypingIndicator(time.Second)
	defer ti.Stop()

	ti.Handle(typingEvent("g1", "u2"))
	ti.Handle(typingEvent("g1", "u3"))

	who, ok := ti.Typist(wire.ChatTypePrivate, "g1")
	require.True(t, ok)
	require.Equal(t, "u3", who, "single slot per conversation, last writer wins")
}

func TestTypingEntriesAreKeyedPerConversation(t *testing.T) {
	ti := NewTypingIndicator(time.Second)
	defer ti.Stop()

	ti.Handle(typingEvent("u1-u2", "u2"))

	_, ok := ti.Typist(wire.ChatTypePrivate, "u1-u3")
	require.False(t, ok)

	_, ok = ti.Typist(wire.ChatTypeGroup, "u1-u2")
	require.False(t, ok, "chat type is part of the key")
}
