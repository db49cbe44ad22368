package pubsub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"erebus/pubsub/internal/codec"
)

var testUpgrader = websocket.Upgrader{}

// fakeGateway is a minimal in-process stand-in for the gateway: it acks every
// subscribe/unsubscribe/publish frame it receives and can echo a publish
// frame back out to exercise the dispatch path.
type fakeGateway struct {
	mu    sync.Mutex
	conns []*websocket.Conn
}

func (g *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	c, err := testUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.conns = append(g.conns, c)
	g.mu.Unlock()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		g.onFrame(c, data)
	}
}

func (g *fakeGateway) onFrame(c *websocket.Conn, data []byte) {
	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		return
	}
	switch wire["packetType"] {
	case "subscribe":
		ack, _ := json.Marshal(map[string]any{
			"packetType":  "ack",
			"clientMsgId": wire["clientMsgId"],
			"result": map[string]any{
				"path":   "subscribe",
				"topic":  wire["topic"],
				"result": map[string]any{"ok": true},
			},
		})
		_ = c.WriteMessage(websocket.TextMessage, ack)
	case "unsubscribe":
		ack, _ := json.Marshal(map[string]any{
			"packetType":  "ack",
			"clientMsgId": wire["clientMsgId"],
			"result": map[string]any{
				"path":   "unsubscribe",
				"topic":  wire["topic"],
				"result": map[string]any{"ok": true},
			},
		})
		_ = c.WriteMessage(websocket.TextMessage, ack)
	case "publish":
		payload, _ := wire["payload"].(map[string]any)
		ack, _ := json.Marshal(map[string]any{
			"packetType":  "ack",
			"clientMsgId": payload["clientMsgId"],
			"result": map[string]any{
				"path":   "publish",
				"topic":  wire["topic"],
				"result": map[string]any{"ok": true},
			},
		})
		_ = c.WriteMessage(websocket.TextMessage, ack)
		// Echo the publish back out so subscribers on this same connection
		// observe the broadcast, mirroring the gateway's fan-out behaviour.
		_ = c.WriteMessage(websocket.TextMessage, data)
	}
}

func newTestClient(t *testing.T, gateway *fakeGateway) (*Client, func()) {
	t.Helper()

	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"grant_jwt":"tok-123"}`))
	}))
	gatewaySrv := httptest.NewServer(http.HandlerFunc(gateway.handle))
	wsURL := "ws" + strings.TrimPrefix(gatewaySrv.URL, "http")

	client, err := New(Config{
		WSUrl:         wsURL,
		AuthBaseURL:   authSrv.URL,
		TokenProvider: func(context.Context) (string, error) { return "caller-jwt", nil },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return client, func() {
		_ = client.Close()
		authSrv.Close()
		gatewaySrv.Close()
	}
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	gateway := &fakeGateway{}
	client, cleanup := newTestClient(t, gateway)
	defer cleanup()

	if err := client.JoinChannel("room"); err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}
	if err := client.Connect(context.Background(), time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	received := make(chan string, 1)
	if _, err := client.Subscribe("T1", func(payload string, meta MessageMeta) {
		received <- payload
	}, nil, time.Second, SubscribeOptions{}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := client.WaitForSubscriptionReady(context.Background(), "T1", time.Second); err != nil {
		t.Fatalf("WaitForSubscriptionReady: %v", err)
	}

	if _, err := client.Publish("T1", "hello"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-received:
		if got != "hello" {
			t.Fatalf("unexpected payload %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected dispatched publish")
	}
}

func TestPublishWithAckResolvesSuccess(t *testing.T) {
	gateway := &fakeGateway{}
	client, cleanup := newTestClient(t, gateway)
	defer cleanup()

	if err := client.JoinChannel("room"); err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}
	if err := client.Connect(context.Background(), time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	results := make(chan AckResult, 1)
	if _, err := client.PublishWithAck("T1", "hi", func(r AckResult) { results <- r }, time.Second); err != nil {
		t.Fatalf("PublishWithAck: %v", err)
	}

	select {
	case r := <-results:
		if r.Outcome != AckSuccess {
			t.Fatalf("expected AckSuccess, got %v", r.Outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected ack resolution")
	}
}

func TestPublishBeforeJoinChannelFails(t *testing.T) {
	gateway := &fakeGateway{}
	client, cleanup := newTestClient(t, gateway)
	defer cleanup()

	if _, err := client.Publish("T1", "hi"); err == nil {
		t.Fatal("expected NotJoinedError")
	}
}

func TestDuplicatePublishIsSuppressedOnDispatch(t *testing.T) {
	gateway := &fakeGateway{}
	client, cleanup := newTestClient(t, gateway)
	defer cleanup()

	if err := client.JoinChannel("room"); err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}
	if err := client.Connect(context.Background(), time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var count int
	var mu sync.Mutex
	done := make(chan struct{}, 1)
	if _, err := client.Subscribe("T1", func(payload string, meta MessageMeta) {
		mu.Lock()
		count++
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	}, nil, time.Second, SubscribeOptions{}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := client.WaitForSubscriptionReady(context.Background(), "T1", time.Second); err != nil {
		t.Fatalf("WaitForSubscriptionReady: %v", err)
	}

	// Manually inject the same envelope twice through the processor's
	// duplicate-suppression path by publishing the same body ID.
	env := &codec.Envelope{Type: codec.PacketPublish, Publish: &codec.MessageBody{ID: "dup-1", Topic: "T1", Payload: "x"}}
	client.proc.Process(env)
	client.proc.Process(env)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected at least one dispatch")
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected duplicate suppression to leave count at 1, got %d", count)
	}
}
