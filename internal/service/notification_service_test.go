package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"swipeskills/internal/model"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu     sync.Mutex
	err    error
	bodies [][]byte
	keys   []string
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, exchange+"/"+routingKey)
	p.bodies = append(p.bodies, body)
	return nil
}

func notify(t *testing.T, e *testEnv, to, from, typ string) {
	t.Helper()
	e.notifications.Notify(e.ctx, &model.Notification{UserID: to, FromUserID: from, Type: typ})
}

func TestNotifySkipsSelf(t *testing.T) {
	e := newTestEnv(t)

	notify(t, e, "u1", "u1", model.NotificationTypeLike)
	notify(t, e, "", "u1", model.NotificationTypeLike)
	e.notifications.Notify(e.ctx, nil)

	assert.Equal(t, 0, e.countDocs(t, model.CollectionNotifications))
	assert.Equal(t, 0, e.hub.count("u1"))
}

func TestNotifyPublishesThroughBroker(t *testing.T) {
	pub := &fakePublisher{}
	e := newTestEnvWith(t, pub, nil)

	notify(t, e, "u1", "u2", model.NotificationTypeFollow)

	require.Len(t, pub.bodies, 1)
	assert.Equal(t, []string{NotificationExchange + "/" + NotificationRoutingKey}, pub.keys)
	var msg NotificationMessage
	require.NoError(t, json.Unmarshal(pub.bodies[0], &msg))
	assert.Equal(t, "u1", msg.Notification.UserID)
	assert.Equal(t, model.NotificationTypeFollow, msg.Notification.Type)
	assert.NotEmpty(t, msg.Notification.ID)

	// the worker pushes broker messages, so no direct push here
	assert.Equal(t, 0, e.hub.count("u1"))
	assert.Len(t, e.notificationsFor(t, "u1"), 1)
}

func TestNotifyFallsBackToHubWhenPublishFails(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	e := newTestEnvWith(t, pub, nil)

	notify(t, e, "u1", "u2", model.NotificationTypeShare)

	assert.Equal(t, 1, e.hub.count("u1"))
	assert.Len(t, e.notificationsFor(t, "u1"), 1)
}

func TestNotificationInbox(t *testing.T) {
	e := newTestEnv(t)
	for i := 0; i < 3; i++ {
		notify(t, e, "u1", "u2", model.NotificationTypeLike)
	}
	notify(t, e, "u3", "u2", model.NotificationTypeLike)

	list, err := e.notifications.GetNotificationsByUserID(e.ctx, "u1", 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)

	count, err := e.notifications.GetUnreadCount(e.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	assert.ErrorIs(t, e.notifications.MarkAsRead(e.ctx, list[0].ID, "u3"), ErrForbidden)
	assert.ErrorIs(t, e.notifications.MarkAsRead(e.ctx, "missing", "u1"), ErrNotFound)
	require.NoError(t, e.notifications.MarkAsRead(e.ctx, list[0].ID, "u1"))
	require.NoError(t, e.notifications.MarkAsRead(e.ctx, list[0].ID, "u1"))

	count, err = e.notifications.GetUnreadCount(e.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	n, err := e.notifications.MarkAllAsRead(e.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	count, err = e.notifications.GetUnreadCount(e.ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.ErrorIs(t, e.notifications.DeleteNotification(e.ctx, list[1].ID, "u3"), ErrForbidden)
	require.NoError(t, e.notifications.DeleteNotification(e.ctx, list[1].ID, "u1"))
	assert.Len(t, e.notificationsFor(t, "u1"), 2)

	unread, err := e.notifications.GetUnreadCount(e.ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
}

func TestWorkerDecodesBrokerMessages(t *testing.T) {
	hub := &recordingHub{}
	w := NewNotificationWorker(nil, hub)

	body, err := json.Marshal(NotificationMessage{Notification: &model.Notification{ID: "n1", UserID: "u1", Type: model.NotificationTypeLike}})
	require.NoError(t, err)
	require.NoError(t, w.processNotificationMessage(body))
	assert.Equal(t, 1, hub.count("u1"))

	assert.Error(t, w.processNotificationMessage([]byte("{not json")))
	assert.Error(t, w.processNotificationMessage([]byte(`{"timestamp":"2024-01-01T00:00:00Z"}`)))

	require.NoError(t, w.Start())
	w.Stop()
	w.Stop()
}
