package websocket

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"marscast/pkg/logging"
	"marscast/pkg/metrics"
)

func newTestHub(t *testing.T) (*Hub, *metrics.Collector) {
	t.Helper()
	logger := logging.NewStructuredLogger("test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	mc := metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry())
	hub := NewHub(logger, mc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub, mc
}

// newTestServer upgrades every request and binds it to the session query parameter.
func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, r.URL.Query().Get("session"))
		if !hub.Join(client) {
			_ = conn.Close()
			return
		}
		client.Start()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, session string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session=" + session
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return msg
}

func TestHub_PublishRoutesBySession(t *testing.T) {
	hub, mc := newTestHub(t)
	srv := newTestServer(t, hub)

	alpha := dial(t, srv, "alpha")
	beta := dial(t, srv, "beta")
	waitForClients(t, hub, 2)

	if got := testutil.ToFloat64(mc.ActiveConnections); got != 2 {
		t.Errorf("active connections = %v, want 2", got)
	}

	hub.Publish("beta", MessageTypeSnapshot, map[string]int{"count": 1})
	hub.Publish("alpha", MessageTypeSnapshot, map[string]int{"count": 4})

	msg := readMessage(t, alpha)
	if msg.SessionID != "alpha" || msg.Type != MessageTypeSnapshot {
		t.Errorf("alpha received %+v", msg)
	}
	data, ok := msg.Data.(map[string]interface{})
	if !ok || data["count"] != float64(4) {
		t.Errorf("alpha data = %#v", msg.Data)
	}

	if msg := readMessage(t, beta); msg.SessionID != "beta" {
		t.Errorf("beta received %+v", msg)
	}
}

func TestHub_PingPong(t *testing.T) {
	hub, _ := newTestHub(t)
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "alpha")
	waitForClients(t, hub, 1)

	ping, err := MarshalMessage(Message{Type: MessageTypePing})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MessageTypePong {
		t.Errorf("type = %q, want pong", msg.Type)
	}
}

func TestHub_Unregister(t *testing.T) {
	hub, mc := newTestHub(t)
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "alpha")
	waitForClients(t, hub, 1)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	waitForClients(t, hub, 0)

	if got := testutil.ToFloat64(mc.ActiveConnections); got != 0 {
		t.Errorf("active connections = %v, want 0", got)
	}
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	logger := logging.NewStructuredLogger("test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	hub := NewHub(logger, metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry()))

	// Serve is not running, so the queue fills up and further messages drop.
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(hub.broadcast)+10; i++ {
			hub.Publish("alpha", MessageTypeSnapshot, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish() blocked on a full queue")
	}
}

func TestHub_PingAfterUnregister(t *testing.T) {
	hub, _ := newTestHub(t)

	// Only the read side runs, so a ping reply stays queued and nothing
	// drains the send buffer after the hub drops the client.
	clients := make(chan *Client, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, "alpha")
		if !hub.Join(client) {
			_ = conn.Close()
			return
		}
		clients <- client
		go client.readPump()
	}))
	t.Cleanup(srv.Close)

	conn := dial(t, srv, "alpha")
	client := <-clients
	waitForClients(t, hub, 1)

	hub.Unregister <- client
	waitForClients(t, hub, 0)

	ping, err := MarshalMessage(Message{Type: MessageTypePing})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	// The dropped client stops reading and closes its connection.
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage() succeeded on a dropped client")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("client count = %d, want 0", hub.ClientCount())
	}

	// The hub keeps serving other clients.
	other := dial(t, newTestServer(t, hub), "beta")
	waitForClients(t, hub, 1)
	if err := other.WriteMessage(websocket.TextMessage, ping); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if msg := readMessage(t, other); msg.Type != MessageTypePong {
		t.Errorf("type = %q, want pong", msg.Type)
	}
}

func TestHub_CloseSession(t *testing.T) {
	hub, mc := newTestHub(t)
	srv := newTestServer(t, hub)

	alpha := dial(t, srv, "alpha")
	beta := dial(t, srv, "beta")
	waitForClients(t, hub, 2)

	hub.CloseSession("alpha")
	waitForClients(t, hub, 1)

	if err := alpha.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	_, _, err := alpha.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("ReadMessage() error = %v, want normal close", err)
	}
	if got := testutil.ToFloat64(mc.ActiveConnections); got != 1 {
		t.Errorf("active connections = %v, want 1", got)
	}

	hub.Publish("beta", MessageTypeSnapshot, nil)
	if msg := readMessage(t, beta); msg.SessionID != "beta" {
		t.Errorf("beta received %+v", msg)
	}
}

func TestHub_JoinAfterStop(t *testing.T) {
	logger := logging.NewStructuredLogger("test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	hub := NewHub(logger, metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = hub.Serve(ctx)

	tests := []struct {
		name string
		act  func() bool
	}{
		{name: "join is refused", act: func() bool { return !hub.Join(NewClient(hub, nil, "alpha")) }},
		{name: "close session returns", act: func() bool { hub.CloseSession("alpha"); return true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := make(chan bool, 1)
			go func() { result <- tt.act() }()
			select {
			case ok := <-result:
				if !ok {
					t.Error("Join() = true on a stopped hub")
				}
			case <-time.After(2 * time.Second):
				t.Fatal("call blocked on a stopped hub")
			}
		})
	}
}
