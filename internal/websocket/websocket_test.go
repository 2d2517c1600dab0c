package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"swipeskills/internal/docstore"
	"swipeskills/internal/docstore/memory"
	"swipeskills/internal/model"
	"swipeskills/internal/util"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type recordingSink struct {
	mu   sync.Mutex
	msgs []*Message
}

func (s *recordingSink) enqueue(m *Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return true
}

func (s *recordingSink) snapshots() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Message
	for _, m := range s.msgs {
		if m.Type == TypeSnapshot {
			out = append(out, m)
		}
	}
	return out
}

func TestBuildQuery(t *testing.T) {
	l := NewLiveSubscriptions(memory.New(), "u1")

	q, err := l.BuildQuery(ClientRequest{Collection: model.CollectionVideos, DocID: "v1"})
	require.NoError(t, err)
	require.Len(t, q.Filters, 1)
	assert.Equal(t, docstore.FieldID, q.Filters[0].Path)
	assert.Equal(t, defaultLiveLimit, q.Limit)

	q, err = l.BuildQuery(ClientRequest{Collection: model.CollectionNotifications, Limit: 1000})
	require.NoError(t, err)
	require.Len(t, q.Filters, 1)
	assert.Equal(t, model.FieldUserID, q.Filters[0].Path)
	assert.Equal(t, "u1", q.Filters[0].Value)
	assert.Equal(t, maxLiveLimit, q.Limit)

	_, err = l.BuildQuery(ClientRequest{Collection: "payments"})
	assert.Error(t, err)
	_, err = l.BuildQuery(ClientRequest{Collection: model.CollectionVideos, Filters: []docstore.Filter{{Path: "likes", Op: ">"}}})
	assert.Error(t, err)
}

func TestLiveSubscriptionStreamsChanges(t *testing.T) {
	store := memory.New()
	defer store.Close()
	ctx := context.Background()
	ref := docstore.Doc(model.CollectionVideos, "v1")
	require.NoError(t, store.Set(ctx, ref, docstore.Data{"title": "intro", "likes": 5}))

	l := NewLiveSubscriptions(store, "u1")
	out := &recordingSink{}
	req := ClientRequest{Type: "subscribe", ID: "s1", Collection: model.CollectionVideos, DocID: "v1"}
	require.NoError(t, l.Start(ctx, out, req))
	assert.Error(t, l.Start(ctx, out, req))

	require.Eventually(t, func() bool { return len(out.snapshots()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, store.Update(ctx, ref, docstore.Update{Path: "likes", Value: docstore.Increment(1)}))
	require.Eventually(t, func() bool { return len(out.snapshots()) == 2 }, time.Second, 5*time.Millisecond)

	last := out.snapshots()[1]
	assert.Equal(t, "s1", last.ID)
	docs := last.Payload["docs"].([]map[string]interface{})
	require.Len(t, docs, 1)
	assert.EqualValues(t, 6, docstore.Int(docs[0]["data"].(docstore.Data)["likes"]))

	l.Stop("s1")
	assert.Zero(t, l.Count())
	require.NoError(t, store.Update(ctx, ref, docstore.Update{Path: "likes", Value: docstore.Increment(1)}))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, out.snapshots(), 2)
}

func TestLiveSubscriptionStopAllIsImmediate(t *testing.T) {
	store := memory.New()
	defer store.Close()
	ctx := context.Background()
	ref := docstore.Doc(model.CollectionVideos, "v1")
	require.NoError(t, store.Set(ctx, ref, docstore.Data{"likes": 0}))

	l := NewLiveSubscriptions(store, "u1")
	out := &recordingSink{}
	for _, id := range []string{"s1", "s2"} {
		require.NoError(t, l.Start(ctx, out, ClientRequest{ID: id, Collection: model.CollectionVideos, DocID: "v1"}))
	}
	require.Eventually(t, func() bool { return len(out.snapshots()) == 2 }, time.Second, 5*time.Millisecond)

	// updates racing with StopAll must not reach the client afterwards
	for i := 0; i < 20; i++ {
		require.NoError(t, store.Update(ctx, ref, docstore.Update{Path: "likes", Value: docstore.Increment(1)}))
	}
	l.StopAll()
	seen := len(out.snapshots())
	assert.Zero(t, l.Count())

	require.NoError(t, store.Update(ctx, ref, docstore.Update{Path: "likes", Value: docstore.Increment(1)}))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, out.snapshots(), seen)
}

func TestUserSubscriptionsHidePrivateFields(t *testing.T) {
	store := memory.New()
	defer store.Close()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, docstore.Doc(model.CollectionUsers, "u1"), docstore.Data{
		"name": "Ana", "email": "ana@example.com", "likedVideos": []string{"v1"},
	}))
	require.NoError(t, store.Set(ctx, docstore.Doc(model.CollectionUsers, "u2"), docstore.Data{
		"name": "Ben", "email": "ben@example.com", "likedVideos": []string{"v2"}, "favorites": []string{"v3"},
	}))

	l := NewLiveSubscriptions(store, "u1")

	_, err := l.BuildQuery(ClientRequest{Collection: model.CollectionUsers,
		Filters: []docstore.Filter{{Path: model.FieldLikedVideos, Op: docstore.OpArrayContains, Value: "v2"}}})
	assert.Error(t, err)
	_, err = l.BuildQuery(ClientRequest{Collection: model.CollectionUsers, DocID: "u2", OrderBy: model.FieldEmail})
	assert.Error(t, err)
	_, err = l.BuildQuery(ClientRequest{Collection: model.CollectionUsers, DocID: "u1",
		Filters: []docstore.Filter{{Path: model.FieldLikedVideos, Op: docstore.OpArrayContains, Value: "v1"}}})
	assert.NoError(t, err)

	out := &recordingSink{}
	require.NoError(t, l.Start(ctx, out, ClientRequest{ID: "other", Collection: model.CollectionUsers, DocID: "u2"}))
	require.NoError(t, l.Start(ctx, out, ClientRequest{ID: "self", Collection: model.CollectionUsers, DocID: "u1"}))
	require.Eventually(t, func() bool { return len(out.snapshots()) == 2 }, time.Second, 5*time.Millisecond)
	l.StopAll()

	byID := map[string]docstore.Data{}
	for _, m := range out.snapshots() {
		docs := m.Payload["docs"].([]map[string]interface{})
		require.Len(t, docs, 1)
		byID[m.ID] = docs[0]["data"].(docstore.Data)
	}
	assert.Equal(t, "Ben", byID["other"]["name"])
	for _, p := range model.PrivateUserFields {
		assert.NotContains(t, byID["other"], p)
	}
	assert.Equal(t, "ana@example.com", byID["self"]["email"])
	assert.Contains(t, byID["self"], "likedVideos")
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) *Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var m Message
		require.NoError(t, conn.ReadJSON(&m))
		if m.Type == typ {
			return &m
		}
	}
}

func TestServeWSDeliversNotificationsAndSnapshots(t *testing.T) {
	store := memory.New()
	defer store.Close()
	require.NoError(t, store.Set(context.Background(), docstore.Doc(model.CollectionVideos, "v1"), docstore.Data{"likes": 1}))

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(ServeWS(hub, store, testSecret))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := util.GenerateToken("u1", "u1@example.com", testSecret, time.Minute)
	require.NoError(t, err)
	conn := dial(t, srv, token)
	require.Eventually(t, func() bool { return hub.GetClientCount("u1") == 1 }, time.Second, 5*time.Millisecond)

	hub.BroadcastToUser("u1", map[string]interface{}{"type": "like"})
	m := readUntil(t, conn, TypeNotification)
	assert.Equal(t, "like", m.Payload["type"])

	require.NoError(t, conn.WriteJSON(ClientRequest{Type: "subscribe", ID: "watch-v1", Collection: model.CollectionVideos, DocID: "v1"}))
	m = readUntil(t, conn, TypeSnapshot)
	assert.Equal(t, "watch-v1", m.ID)

	require.NoError(t, conn.WriteJSON(ClientRequest{Type: "unsubscribe", ID: "watch-v1"}))
	m = readUntil(t, conn, TypeUnsubscribed)
	assert.Equal(t, "watch-v1", m.ID)

	require.NoError(t, conn.WriteJSON(ClientRequest{Type: "bogus"}))
	readUntil(t, conn, TypeError)

	conn.Close()
	require.Eventually(t, func() bool { return hub.GetClientCount("u1") == 0 }, time.Second, 5*time.Millisecond)
}
