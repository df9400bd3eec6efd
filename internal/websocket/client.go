package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"marscast/pkg/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// clientIDCounter orders clients for delivery
var clientIDCounter atomic.Uint64

// Client is a middleman between the websocket connection and the hub.
// send is never closed; the hub closes done instead, so both pumps may keep
// queueing after the client has been dropped.
type Client struct {
	id        uint64
	sessionID string
	hub       *Hub
	conn      *websocket.Conn
	send      chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client bound to one dashboard session
func NewClient(hub *Hub, conn *websocket.Conn, sessionID string) *Client {
	return &Client{
		id:        clientIDCounter.Add(1),
		sessionID: sessionID,
		hub:       hub,
		conn:      conn,
		send:      make(chan Message, 64),
		done:      make(chan struct{}),
	}
}

// ID returns the client's identifier
func (c *Client) ID() uint64 {
	return c.id
}

// Enqueue queues a message for this client only, e.g. the initial snapshot.
// It must be called before the client is registered.
func (c *Client) Enqueue(msg Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close tells writePump to send a close frame and stop. Safe to call more
// than once.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	ctx := logging.WithSessionID(context.Background(), c.sessionID)
	defer func() {
		select {
		case c.hub.Unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.logger.Error(ctx, "[WS_READ_ERROR] Failed to set read deadline", logging.Fields{}, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn(ctx, "[WS_READ_ERROR] Unexpected websocket close", logging.Fields{
					"error": err.Error(),
				})
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != MessageTypePing {
			continue
		}
		select {
		case <-c.done:
			return
		default:
		}
		select {
		case c.send <- Message{Type: MessageTypePong, SessionID: c.sessionID}:
		default:
		}
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ctx := logging.WithSessionID(context.Background(), c.sessionID)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}

			data, err := MarshalMessage(message)
			if err != nil {
				c.hub.logger.Error(ctx, "[WS_WRITE_ERROR] Failed to encode message", logging.Fields{
					"message_type": message.Type,
				}, err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
