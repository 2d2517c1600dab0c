package websocket

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Message types pushed to clients
const (
	TypeNotification = "notification"
	TypeSnapshot     = "snapshot"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeError        = "error"
	TypePong         = "pong"
)

// Hub maintains the set of active clients and routes messages to them
type Hub struct {
	// Registered clients by user ID
	clients map[string]map[*Client]bool

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu  sync.RWMutex
	log *logrus.Entry
}

// Message is one websocket frame. ID echoes the subscription a snapshot
// belongs to.
type Message struct {
	UserID  string                 `json:"user_id,omitempty"`
	Type    string                 `json:"type"`
	ID      string                 `json:"id,omitempty"`
	Payload map[string]interface{} `json:"payload"`
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        logrus.WithField("component", "ws_hub"),
	}
}

// Run routes register, unregister and broadcast requests until ctx ends,
// then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for uid, clients := range h.clients {
				for client := range clients {
					client.close()
				}
				delete(h.clients, uid)
			}
			h.mu.Unlock()
			h.log.Info("WebSocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.UserID] == nil {
				h.clients[client.UserID] = make(map[*Client]bool)
			}
			h.clients[client.UserID][client] = true
			n := len(h.clients[client.UserID])
			h.mu.Unlock()
			h.log.WithFields(logrus.Fields{"user_id": client.UserID, "connections": n}).Debug("Client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.UserID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					client.close()
					if len(clients) == 0 {
						delete(h.clients, client.UserID)
					}
				}
			}
			h.mu.Unlock()
			h.log.WithField("user_id", client.UserID).Debug("Client unregistered")

		case message := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[message.UserID]; ok {
				for client := range clients {
					if !client.enqueue(message) {
						// slow consumer; drop the connection
						client.close()
						delete(clients, client)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, message.UserID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Done is closed once Run has returned
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.close()
	}
}

// BroadcastToUser pushes a notification to every connection of a user
func (h *Hub) BroadcastToUser(userID string, payload map[string]interface{}) {
	message := &Message{
		UserID:  userID,
		Type:    TypeNotification,
		Payload: payload,
	}

	select {
	case h.broadcast <- message:
	default:
		h.log.WithField("user_id", userID).Warn("Broadcast channel full, dropping message")
	}
}

// GetClientCount returns the number of connected clients for a user
func (h *Hub) GetClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// GetTotalClientCount returns the total number of connected clients
func (h *Hub) GetTotalClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}
