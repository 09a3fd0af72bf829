package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/agencydesk/deskchat/pkg/wire"
)

var upgrader = websocket.Upgrader{}

// newWSServer runs onConn in a goroutine per accepted websocket.
func newWSServer(t *testing.T, onConn func(*websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		onConn(ws)
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newBus(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	bus := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func waitForState(t *testing.T, c *Conn, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connection never reached state %s (currently %s)", want, c.State())
}

func TestConnectPublishesInboundFrames(t *testing.T) {
	srv, url := newWSServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"USER_ONLINE","userId":"u9"}`))
		// keep the connection open until the test ends
		_, _, _ = ws.ReadMessage()
	})
	defer srv.Close()

	bus := newBus(t)
	frames, err := bus.Subscribe(context.Background(), "chat:inbound")
	require.NoError(t, err)

	c, err := New(Config{Name: "chat", URL: url, Publisher: bus, Topic: "chat:inbound"})
	require.NoError(t, err)
	defer c.Close()

	c.Connect()
	waitForState(t, c, StateOpen)

	select {
	case msg := <-frames:
		msg.Ack()
		ev, err := wire.Parse(msg.Payload)
		require.NoError(t, err)
		require.Equal(t, wire.EventUserOnline, ev.Type)
		require.Equal(t, "u9", ev.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound frame never reached the bus")
	}
}

func TestOnOpenRunsBeforeFrameDelivery(t *testing.T) {
	got := make(chan []byte, 1)
	srv, url := newWSServer(t, func(ws *websocket.Conn) {
		_, data, err := ws.ReadMessage()
		if err == nil {
			got <- data
		}
	})
	defer srv.Close()

	bus := newBus(t)
	var c *Conn
	var err error
	c, err = New(Config{
		Name:      "chat",
		URL:       url,
		Publisher: bus,
		Topic:     "chat:inbound",
		OnOpen:    func() { _ = c.Send(wire.NewUserOnline("u1")) },
	})
	require.NoError(t, err)
	defer c.Close()

	c.Connect()

	select {
	case data := <-got:
		ev, err := wire.Parse(data)
		require.NoError(t, err)
		require.Equal(t, wire.EventUserOnline, ev.Type)
		require.Equal(t, "u1", ev.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the presence announce")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	bus := newBus(t)
	c, err := New(Config{Name: "chat", URL: "ws://127.0.0.1:1/ws", Publisher: bus, Topic: "chat:inbound"})
	require.NoError(t, err)
	defer c.Close()

	err = c.Send(wire.NewPrivateMessage("u2", "hello"))
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestCleanCloseDoesNotReconnect(t *testing.T) {
	var conns atomic.Int32
	sawNormalClose := make(chan bool, 4)
	srv, url := newWSServer(t, func(ws *websocket.Conn) {
		conns.Add(1)
		_, _, err := ws.ReadMessage()
		sawNormalClose <- websocket.IsCloseError(err, websocket.CloseNormalClosure)
	})
	defer srv.Close()

	bus := newBus(t)
	c, err := New(Config{
		Name:      "chat",
		URL:       url,
		Publisher: bus,
		Topic:     "chat:inbound",
		Backoff:   Backoff{Base: 5 * time.Millisecond, Cap: 20 * time.Millisecond},
	})
	require.NoError(t, err)

	c.Connect()
	waitForState(t, c, StateOpen)
	c.Close()

	select {
	case normal := <-sawNormalClose:
		require.True(t, normal, "server should see a normal-closure code")
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed the close")
	}

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(1), conns.Load(), "intentional close must not reconnect")
	require.Equal(t, StateClosed, c.State())
}

func TestUncleanCloseReconnects(t *testing.T) {
	var conns atomic.Int32
	srv, url := newWSServer(t, func(ws *websocket.Conn) {
		n := conns.Add(1)
		if n == 1 {
			// drop the first connection without a close handshake
			_ = ws.UnderlyingConn().Close()
			return
		}
		_, _, _ = ws.ReadMessage()
	})
	defer srv.Close()

	bus := newBus(t)
	c, err := New(Config{
		Name:      "chat",
		URL:       url,
		Publisher: bus,
		Topic:     "chat:inbound",
		Backoff:   Backoff{Base: 5 * time.Millisecond, Cap: 20 * time.Millisecond},
	})
	require.NoError(t, err)
	defer c.Close()

	c.Connect()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && conns.Load() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	require.GreaterOrEqual(t, conns.Load(), int32(2), "unclean close must trigger a reconnect")
	waitForState(t, c, StateOpen)
}

func TestBoundedRetriesGiveUp(t *testing.T) {
	// a bare TCP listener that never completes the websocket handshake
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	var dials atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			dials.Add(1)
			_ = conn.Close()
		}
	}()

	bus := newBus(t)
	c, err := New(Config{
		Name:       "notify",
		URL:        "ws://" + ln.Addr().String() + "/ws",
		Publisher:  bus,
		Topic:      "notify:inbound",
		Backoff:    Backoff{Base: 5 * time.Millisecond, Cap: 10 * time.Millisecond},
		MaxRetries: 2,
	})
	require.NoError(t, err)
	defer c.Close()

	c.Connect()
	time.Sleep(300 * time.Millisecond)

	// initial attempt plus two retries, then silence
	require.Equal(t, int32(3), dials.Load())
	require.Equal(t, StateClosed, c.State())
}

func TestConnectWithoutCredentialIsNoOp(t *testing.T) {
	bus := newBus(t)
	c, err := New(Config{Name: "chat", URL: "", Publisher: bus, Topic: "chat:inbound"})
	require.NoError(t, err)

	c.Connect()
	require.Equal(t, StateClosed, c.State())
}
