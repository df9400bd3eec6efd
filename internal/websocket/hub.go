// Package websocket pushes dashboard snapshots to connected presentation
// clients. Each client is bound to one dashboard session.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"marscast/pkg/logging"
	"marscast/pkg/metrics"
)

// Message types
const (
	MessageTypeSnapshot = "snapshot"
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
)

// Message is the wire envelope for every websocket frame
type Message struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data"`
}

// Hub maintains the set of active clients and routes session messages to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	closing    chan string
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// NewHub creates a new Hub
func NewHub(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		closing:    make(chan string),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
		metrics:    metricsCollector,
	}
}

// Serve runs the hub until ctx is cancelled, then closes every client
func (h *Hub) Serve(ctx context.Context) error {
	for {
		// Lifecycle events take priority over pending broadcasts
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.add(ctx, client)
			continue
		case client := <-h.Unregister:
			h.remove(ctx, client)
			continue
		case sessionID := <-h.closing:
			h.dropSession(ctx, sessionID)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.add(ctx, client)
		case client := <-h.Unregister:
			h.remove(ctx, client)
		case sessionID := <-h.closing:
			h.dropSession(ctx, sessionID)
		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// String identifies the hub in supervisor logs
func (h *Hub) String() string {
	return "websocket-hub"
}

func (h *Hub) add(ctx context.Context, client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.ActiveConnections.Set(float64(count))
	h.logger.Info(logging.WithSessionID(ctx, client.sessionID), "[WS_CONNECT] Websocket client connected", logging.Fields{
		"total_clients": count,
	})
}

func (h *Hub) remove(ctx context.Context, client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.close()
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.ActiveConnections.Set(float64(count))
	h.logger.Info(logging.WithSessionID(ctx, client.sessionID), "[WS_DISCONNECT] Websocket client disconnected", logging.Fields{
		"total_clients": count,
	})
}

// dropSession disconnects every client bound to sessionID
func (h *Hub) dropSession(ctx context.Context, sessionID string) {
	h.mu.Lock()
	dropped := 0
	for client := range h.clients {
		if client.sessionID == sessionID {
			client.close()
			delete(h.clients, client)
			dropped++
		}
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.ActiveConnections.Set(float64(count))
	if dropped > 0 {
		h.logger.Info(logging.WithSessionID(ctx, sessionID), "[WS_SESSION_CLOSED] Session closed, clients disconnected", logging.Fields{
			"clients_closed": dropped,
			"total_clients":  count,
		})
	}
}

// deliver sends message to the clients of its session, in client ID order.
// A message without a session goes to every client. Clients whose buffer is
// full are dropped.
func (h *Hub) deliver(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if message.SessionID == "" || client.sessionID == message.SessionID {
			clients = append(clients, client)
		}
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			client.close()
			delete(h.clients, client)
		}
	}
	h.metrics.ActiveConnections.Set(float64(len(h.clients)))
}

func (h *Hub) shutdown(ctx context.Context) {
	h.stopOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	count := len(h.clients)
	for client := range h.clients {
		client.close()
		delete(h.clients, client)
	}
	h.mu.Unlock()

	h.metrics.ActiveConnections.Set(0)
	h.logger.Info(context.Background(), "[WS_SHUTDOWN] Websocket hub stopped", logging.Fields{
		"clients_closed": count,
		"reason":         ctx.Err().Error(),
	})
}

// Publish queues a message for every client of sessionID. It never blocks;
// when the queue is full the message is dropped.
func (h *Hub) Publish(sessionID, messageType string, data interface{}) {
	message := Message{
		Type:      messageType,
		SessionID: sessionID,
		Data:      data,
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn(logging.WithSessionID(context.Background(), sessionID), "[WS_DROP] Broadcast channel full, dropping message", logging.Fields{
			"message_type": messageType,
		})
	}
}

// Join registers client with the running hub. It returns false once the hub
// has stopped.
func (h *Hub) Join(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

// CloseSession disconnects the clients of a closed dashboard session
func (h *Hub) CloseSession(sessionID string) {
	select {
	case h.closing <- sessionID:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MarshalMessage converts a message to JSON
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
