package service

import (
	"context"
	"encoding/json"
	"time"

	"swipeskills/internal/logging"
	"swipeskills/internal/model"
	"swipeskills/internal/repository"
	"swipeskills/internal/util"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Notifier delivers the best-effort side effect of an interaction. It never
// reports failure to the caller.
type Notifier interface {
	Notify(ctx context.Context, notification *model.Notification)
}

// Broadcaster pushes a payload to every live connection of a user
type Broadcaster interface {
	BroadcastToUser(userID string, payload map[string]interface{})
}

// Publisher sends a message to a broker exchange
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

type NotificationService interface {
	Notifier
	GetNotificationsByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.Notification, error)
	GetUnreadCount(ctx context.Context, userID string) (int64, error)
	MarkAsRead(ctx context.Context, notificationID, userID string) error
	MarkAllAsRead(ctx context.Context, userID string) (int, error)
	DeleteNotification(ctx context.Context, notificationID, userID string) error
	SetWSHub(hub Broadcaster)
}

type notificationService struct {
	notifRepo repository.NotificationRepository
	publisher Publisher
	wsHub     Broadcaster
}

// NotificationMessage is the broker payload for one notification
type NotificationMessage struct {
	Notification *model.Notification `json:"notification"`
	Timestamp    time.Time           `json:"timestamp"`
}

const (
	NotificationQueueName  = "notification_queue"
	NotificationExchange   = "notification_exchange"
	NotificationRoutingKey = "notification"
)

// NewNotificationService builds the service. publisher may be nil, in which
// case notifications are pushed to the hub directly.
func NewNotificationService(notifRepo repository.NotificationRepository, publisher Publisher) NotificationService {
	return &notificationService{
		notifRepo: notifRepo,
		publisher: publisher,
	}
}

// NewRabbitPublisher adapts a possibly nil RabbitMQ client to Publisher
func NewRabbitPublisher(client *util.RabbitMQClient) Publisher {
	if client == nil {
		return nil
	}
	return client
}

// SetWSHub sets the WebSocket hub for realtime notifications
func (s *notificationService) SetWSHub(hub Broadcaster) {
	s.wsHub = hub
}

// Notify stores the notification, then hands it to the broker (or the hub
// when no broker is configured). Self-notifications are skipped. Failures
// are logged and swallowed so the interaction that triggered them stands.
func (s *notificationService) Notify(ctx context.Context, notification *model.Notification) {
	if notification == nil || notification.UserID == "" || notification.UserID == notification.FromUserID {
		return
	}
	log := logging.FromContext(ctx).WithFields(logrus.Fields{
		"notification_type": notification.Type,
		"user_id":           notification.UserID,
		"from_user_id":      notification.FromUserID,
	})

	if err := s.notifRepo.Create(ctx, notification); err != nil {
		log.WithError(err).Warn("failed to write notification")
		return
	}

	if s.publisher != nil {
		body, err := json.Marshal(NotificationMessage{Notification: notification, Timestamp: time.Now().UTC()})
		if err == nil {
			err = s.publisher.Publish(ctx, NotificationExchange, NotificationRoutingKey, body)
		}
		if err == nil {
			return
		}
		log.WithError(err).Warn("failed to publish notification, pushing directly")
	}

	s.push(notification)
}

func (s *notificationService) push(notification *model.Notification) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.BroadcastToUser(notification.UserID, NotificationPayload(notification))
}

// NotificationPayload renders a notification for websocket delivery
func NotificationPayload(n *model.Notification) map[string]interface{} {
	payload := map[string]interface{}{
		"id":           n.ID,
		"userId":       n.UserID,
		"fromUserId":   n.FromUserID,
		"fromUserName": n.FromUserName,
		"type":         n.Type,
		"read":         n.Read,
		"createdAt":    n.CreatedAt.Format(time.RFC3339),
	}
	if n.VideoID != "" {
		payload["videoId"] = n.VideoID
	}
	if n.CommentID != "" {
		payload["commentId"] = n.CommentID
	}
	if n.Comment != "" {
		payload["comment"] = n.Comment
	}
	return payload
}

// GetNotificationsByUserID gets notifications for a user with pagination
func (s *notificationService) GetNotificationsByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.Notification, error) {
	if err := requireActor(userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	notifications, err := s.notifRepo.FindByUserID(ctx, userID, limit, offset)
	return notifications, classify(err)
}

// GetUnreadCount gets unread notification count for a user
func (s *notificationService) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	if err := requireActor(userID); err != nil {
		return 0, err
	}
	count, err := s.notifRepo.CountUnreadByUserID(ctx, userID)
	return count, classify(err)
}

// MarkAsRead marks a notification as read
func (s *notificationService) MarkAsRead(ctx context.Context, notificationID, userID string) error {
	notification, err := s.owned(ctx, notificationID, userID)
	if err != nil {
		return err
	}
	if notification.Read {
		return nil
	}
	return classify(s.notifRepo.MarkAsRead(ctx, notification))
}

// MarkAllAsRead marks all notifications as read for a user
func (s *notificationService) MarkAllAsRead(ctx context.Context, userID string) (int, error) {
	if err := requireActor(userID); err != nil {
		return 0, err
	}
	n, err := s.notifRepo.MarkAllAsRead(ctx, userID)
	return n, classify(err)
}

// DeleteNotification deletes a notification
func (s *notificationService) DeleteNotification(ctx context.Context, notificationID, userID string) error {
	notification, err := s.owned(ctx, notificationID, userID)
	if err != nil {
		return err
	}
	return classify(s.notifRepo.Delete(ctx, notification))
}

// owned loads a notification and verifies it belongs to userID
func (s *notificationService) owned(ctx context.Context, notificationID, userID string) (*model.Notification, error) {
	if err := requireActor(userID); err != nil {
		return nil, err
	}
	notification, err := s.notifRepo.FindByID(ctx, notificationID)
	if err != nil {
		return nil, classify(notFound(err, "notification"))
	}
	if notification.UserID != userID {
		return nil, errors.Wrap(ErrForbidden, "notification belongs to another user")
	}
	return notification, nil
}
