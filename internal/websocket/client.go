package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// Client is a middleman between the websocket connection and the hub
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	live *LiveSubscriptions
	log  *logrus.Entry

	mu     sync.Mutex
	send   chan *Message
	closed bool

	// User ID associated with this client
	UserID string
}

func NewClient(hub *Hub, conn *websocket.Conn, live *LiveSubscriptions, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		live:   live,
		send:   make(chan *Message, sendBuffer),
		UserID: userID,
		log:    logrus.WithFields(logrus.Fields{"component": "ws_client", "user_id": userID}),
	}
}

// enqueue queues m without blocking. It reports false when the client is
// closed or its buffer is full.
func (c *Client) enqueue(m *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- m:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump handles client frames until the connection drops
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.live.StopAll()
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("WebSocket error")
			}
			return
		}

		var req ClientRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			c.enqueue(errorMessage("", "malformed message"))
			continue
		}
		switch req.Type {
		case "ping":
			c.enqueue(&Message{Type: TypePong, Payload: map[string]interface{}{"timestamp": time.Now().Unix()}})
		case "subscribe":
			if err := c.live.Start(ctx, c, req); err != nil {
				c.enqueue(errorMessage(req.ID, err.Error()))
				continue
			}
			c.enqueue(&Message{Type: TypeSubscribed, ID: req.ID, Payload: map[string]interface{}{}})
		case "unsubscribe":
			c.live.Stop(req.ID)
			c.enqueue(&Message{Type: TypeUnsubscribed, ID: req.ID, Payload: map[string]interface{}{}})
		default:
			c.enqueue(errorMessage(req.ID, "unknown message type"))
		}
	}
}

// writePump pumps queued messages to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(message)
			if err != nil {
				c.log.WithError(err).Error("Error marshaling message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start runs the pumps until the connection closes
func (c *Client) Start(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func errorMessage(id, msg string) *Message {
	return &Message{Type: TypeError, ID: id, Payload: map[string]interface{}{"message": msg}}
}
