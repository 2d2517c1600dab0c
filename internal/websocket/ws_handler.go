package websocket

import (
	"context"
	"net/http"
	"strings"

	"swipeskills/internal/docstore"
	"swipeskills/internal/util"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// tokens, not cookies, authenticate the socket
		return true
	},
}

// ConnectHook runs for every accepted connection with a context that ends
// when the connection closes.
type ConnectHook func(ctx context.Context, userID string)

// ServeWS authenticates the bearer token (query parameter or header),
// upgrades the connection and serves it until it closes.
func ServeWS(hub *Hub, store docstore.Store, jwtSecret string, hooks ...ConnectHook) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			if parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
				token = parts[1]
			}
		}
		if token == "" {
			http.Error(w, "Authorization token required", http.StatusUnauthorized)
			return
		}

		claims, err := util.ValidateToken(token, jwtSecret)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.WithError(err).Warn("WebSocket upgrade error")
			return
		}

		// live subscriptions end with the connection or the hub
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-hub.Done():
				cancel()
			case <-ctx.Done():
			}
		}()

		client := NewClient(hub, conn, NewLiveSubscriptions(store, claims.UserID), claims.UserID)
		if !hub.add(client) {
			conn.Close()
			return
		}
		for _, hook := range hooks {
			hook(ctx, claims.UserID)
		}
		client.Start(ctx)
	}
}
