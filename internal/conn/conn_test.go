package conn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"erebus/pubsub/internal/codec"
	"erebus/pubsub/internal/grant"
)

var upgrader = websocket.Upgrader{}

func newTestServers(t *testing.T, onGatewayConn func(*websocket.Conn)) (wsURL string, grants *grant.Provider, closeAll func()) {
	t.Helper()

	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"grant_jwt":"tok-123"}`))
	}))

	gatewaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if onGatewayConn != nil {
			onGatewayConn(c)
		}
	}))

	grants = grant.New(authSrv.URL, grant.NewMemoryCache(), nil)
	wsURL = "ws" + strings.TrimPrefix(gatewaySrv.URL, "http")

	return wsURL, grants, func() {
		authSrv.Close()
		gatewaySrv.Close()
	}
}

func TestOpenTransitionsToOpenAndInvokesOnOpen(t *testing.T) {
	wsURL, grants, closeAll := newTestServers(t, nil)
	defer closeAll()

	opened := make(chan struct{}, 1)
	m := New(Config{
		WSUrl:  wsURL,
		Grants: grants,
		Callbacks: Callbacks{
			OnOpen: func() { opened <- struct{}{} },
		},
	})
	m.SetChannel("room")

	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-opened:
	case <-time.After(time.Second):
		t.Fatal("expected OnOpen to fire")
	}
	if got := m.State(); got != Open {
		t.Fatalf("expected Open state, got %v", got)
	}
	_ = m.Close()
}

func TestOpenWithoutChannelFails(t *testing.T) {
	wsURL, grants, closeAll := newTestServers(t, nil)
	defer closeAll()

	m := New(Config{WSUrl: wsURL, Grants: grants})
	if err := m.Open(context.Background()); err == nil {
		t.Fatal("expected error when channel is unset")
	}
}

func TestSendQueuesWhileNotOpenAndFlushesOnOpen(t *testing.T) {
	received := make(chan string, 4)
	wsURL, grants, closeAll := newTestServers(t, func(c *websocket.Conn) {
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
		}
	})
	defer closeAll()

	m := New(Config{WSUrl: wsURL, Grants: grants})
	m.SetChannel("room")

	if err := m.Send(&codec.Envelope{Type: codec.PacketHeartbeat}); err != nil {
		t.Fatalf("unexpected error queuing frame: %v", err)
	}

	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected queued frame to be flushed on open")
	}
	_ = m.Close()
}

func TestSendFailsWithBackpressureWhenQueueFull(t *testing.T) {
	wsURL, grants, closeAll := newTestServers(t, nil)
	defer closeAll()

	m := New(Config{WSUrl: wsURL, Grants: grants})
	m.SetChannel("room")

	for i := 0; i < sendQueueCapacity; i++ {
		if err := m.Send(&codec.Envelope{Type: codec.PacketHeartbeat}); err != nil {
			t.Fatalf("unexpected error at %d: %v", i, err)
		}
	}
	if err := m.Send(&codec.Envelope{Type: codec.PacketHeartbeat}); err != ErrBackpressure {
		t.Fatalf("expected ErrBackpressure, got %v", err)
	}
}

func TestSetChannelIsIdempotent(t *testing.T) {
	m := New(Config{WSUrl: "ws://example.com"})
	m.SetChannel("room")
	m.SetChannel("room")
	if m.channel != "room" {
		t.Fatalf("expected channel to remain room, got %q", m.channel)
	}
}
