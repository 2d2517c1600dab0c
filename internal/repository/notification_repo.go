package repository

import (
	"context"
	"strconv"
	"time"

	"swipeskills/internal/docstore"
	"swipeskills/internal/logging"
	"swipeskills/internal/model"
	"swipeskills/internal/util"
)

type NotificationRepository interface {
	Ref(id string) docstore.Ref
	Create(ctx context.Context, notification *model.Notification) error
	FindByID(ctx context.Context, id string) (*model.Notification, error)
	FindByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.Notification, error)
	FindUnreadByUserID(ctx context.Context, userID string) ([]*model.Notification, error)
	CountUnreadByUserID(ctx context.Context, userID string) (int64, error)
	MarkAsRead(ctx context.Context, notification *model.Notification) error
	MarkAllAsRead(ctx context.Context, userID string) (int, error)
	Delete(ctx context.Context, notification *model.Notification) error
}

type notificationRepository struct {
	store docstore.Store
	redis *util.RedisClient
}

const (
	notificationUnreadCachePrefix = "notification:unread:"
	notificationCacheExpiration   = 10 * time.Minute
)

func NewNotificationRepository(store docstore.Store, redis *util.RedisClient) NotificationRepository {
	return &notificationRepository{
		store: store,
		redis: redis,
	}
}

func (r *notificationRepository) Ref(id string) docstore.Ref {
	return docstore.Doc(model.CollectionNotifications, id)
}

// Create appends a notification
func (r *notificationRepository) Create(ctx context.Context, notification *model.Notification) error {
	notification.BeforeCreate()
	data, err := docstore.ToData(notification)
	if err != nil {
		return err
	}
	if err := r.store.Create(ctx, r.Ref(notification.ID), data); err != nil {
		return err
	}
	r.invalidateUnreadCache(ctx, notification.UserID)
	return nil
}

func (r *notificationRepository) FindByID(ctx context.Context, id string) (*model.Notification, error) {
	snap, err := r.store.Get(ctx, r.Ref(id))
	if err != nil {
		return nil, err
	}
	return decodeOne[model.Notification](snap)
}

// FindByUserID returns a page of the user's notifications, newest first
func (r *notificationRepository) FindByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.Notification, error) {
	q := forUser(userID).
		Order(model.FieldCreatedAt, true).
		Page(offset, limit)
	return r.query(ctx, q)
}

func (r *notificationRepository) FindUnreadByUserID(ctx context.Context, userID string) ([]*model.Notification, error) {
	q := forUser(userID).
		Where(model.FieldRead, docstore.OpEqual, false).
		Order(model.FieldCreatedAt, true)
	return r.query(ctx, q)
}

// CountUnreadByUserID counts unread notifications, checking cache first
func (r *notificationRepository) CountUnreadByUserID(ctx context.Context, userID string) (int64, error) {
	key := notificationUnreadCachePrefix + userID
	if r.redis != nil {
		if cached, err := r.redis.Get(ctx, key); err == nil {
			if n, err := strconv.ParseInt(cached, 10, 64); err == nil {
				return n, nil
			}
		}
	}

	unread, err := r.FindUnreadByUserID(ctx, userID)
	if err != nil {
		return 0, err
	}
	count := int64(len(unread))

	if r.redis != nil {
		if err := r.redis.Set(ctx, key, strconv.FormatInt(count, 10), notificationCacheExpiration); err != nil {
			logging.FromContext(ctx).WithError(err).Debug("failed to cache unread count")
		}
	}
	return count, nil
}

func (r *notificationRepository) MarkAsRead(ctx context.Context, notification *model.Notification) error {
	if err := r.store.Update(ctx, r.Ref(notification.ID), docstore.Update{Path: model.FieldRead, Value: true}); err != nil {
		return err
	}
	r.invalidateUnreadCache(ctx, notification.UserID)
	return nil
}

// MarkAllAsRead flips every unread notification of the user in one batch
// and returns how many changed
func (r *notificationRepository) MarkAllAsRead(ctx context.Context, userID string) (int, error) {
	unread, err := r.FindUnreadByUserID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(unread) == 0 {
		return 0, nil
	}
	writes := make([]docstore.Write, 0, len(unread))
	for _, n := range unread {
		writes = append(writes, docstore.WriteUpdate(r.Ref(n.ID), docstore.Update{Path: model.FieldRead, Value: true}))
	}
	if err := r.store.Batch(ctx, writes...); err != nil {
		return 0, err
	}
	r.invalidateUnreadCache(ctx, userID)
	return len(unread), nil
}

func (r *notificationRepository) Delete(ctx context.Context, notification *model.Notification) error {
	if err := r.store.Delete(ctx, r.Ref(notification.ID)); err != nil {
		return err
	}
	r.invalidateUnreadCache(ctx, notification.UserID)
	return nil
}

func (r *notificationRepository) query(ctx context.Context, q docstore.Query) ([]*model.Notification, error) {
	snaps, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return decodeAll[model.Notification](snaps)
}

func (r *notificationRepository) invalidateUnreadCache(ctx context.Context, userID string) {
	if r.redis == nil {
		return
	}
	if err := r.redis.Delete(ctx, notificationUnreadCachePrefix+userID); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("failed to invalidate unread count")
	}
}

func forUser(userID string) docstore.Query {
	return docstore.From(model.CollectionNotifications).
		Where(model.FieldUserID, docstore.OpEqual, userID)
}
