package chat

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agencydesk/deskchat/pkg/wire"
)

func newTestCache(t *testing.T) *HistoryCache {
	t.Helper()
	c, err := NewHistoryCache(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheSaveAndLoad(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.Save(ctx, "u1-u2", wire.Message{
		ID: "m2", FromUserID: "u2", FromDisplayName: "Grace", Content: "second", Timestamp: ts.Add(time.Minute), Read: false,
	}))
	require.NoError(t, c.Save(ctx, "u1-u2", wire.Message{
		ID: "m1", FromUserID: "u1", FromDisplayName: "Ada", Content: "first", Timestamp: ts, Read: true,
	}))
	require.NoError(t, c.Save(ctx, "g1", wire.Message{
		ID: "m3", FromUserID: "u3", FromDisplayName: "Lin", Content: "elsewhere", Timestamp: ts,
	}))

	msgs, err := c.Load(ctx, "u1-u2", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "m1", msgs[0].ID, "timestamp order")
	require.Equal(t, "m2", msgs[1].ID)
	require.True(t, msgs[0].Read)
	require.Equal(t, ts, msgs[0].Timestamp)
}

func TestCacheUpsertByID(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	m := wire.Message{ID: "m1", FromUserID: "u2", Content: "hello", Timestamp: time.Now()}
	require.NoError(t, c.Save(ctx, "u1-u2", m))
	m.Read = true
	require.NoError(t, c.Save(ctx, "u1-u2", m))

	msgs, err := c.Load(ctx, "u1-u2", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].Read)
}

func TestCacheRejectsTempIDs(t *testing.T) {
	c := newTestCache(t)
	err := c.Save(context.Background(), "u1-u2", wire.Message{ID: TempIDPrefix + "123", FromUserID: "u1", Content: "x"})
	require.Error(t, err)
}

func TestStorePrimesFromCache(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Save(ctx, "u1-u2", wire.Message{
		ID: "m1", FromUserID: "u2", Content: "cached", Timestamp: time.Now(), Read: true,
	}))

	s := NewMessageStore("u1", &fakeSender{}, &fakeHistory{})
	s.SetCache(c)

	s.PrimeFromCache(ctx, "u1-u2")
	msgs := s.Messages("u1-u2")
	require.Len(t, msgs, 1)
	require.Equal(t, "m1", msgs[0].ID)

	// a non-empty list is left untouched
	s.HandleInbound(inboundPrivate(wire.Message{ID: "m2", FromUserID: "u2", Content: "live"}, "u1"))
	s.PrimeFromCache(ctx, "u1-u2")
	require.Len(t, s.Messages("u1-u2"), 2)
}

func TestStoreWritesConfirmedMessagesToCache(t *testing.T) {
	c := newTestCache(t)
	s := NewMessageStore("u1", &fakeSender{}, &fakeHistory{})
	s.SetCache(c)

	// optimistic send: temp id, not cached
	_, err := s.SendPrivate("u2", "hello")
	require.NoError(t, err)
	msgs, err := c.Load(context.Background(), "u1-u2", 0)
	require.NoError(t, err)
	require.Empty(t, msgs)

	// the confirmed echo is cached
	s.HandleInbound(inboundPrivate(wire.Message{ID: "m100", FromUserID: "u1", Content: "hello", Timestamp: time.Now()}, "u2"))
	msgs, err = c.Load(context.Background(), "u1-u2", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "m100", msgs[0].ID)
}
