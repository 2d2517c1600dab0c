package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"swipeskills/internal/docstore"
	"swipeskills/internal/docstore/memory"
	"swipeskills/internal/model"
	"swipeskills/internal/repository"
	"swipeskills/internal/storage"

	"github.com/stretchr/testify/require"
)

type recordingHub struct {
	mu       sync.Mutex
	messages map[string][]map[string]interface{}
}

func (h *recordingHub) BroadcastToUser(userID string, payload map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.messages == nil {
		h.messages = make(map[string][]map[string]interface{})
	}
	h.messages[userID] = append(h.messages[userID], payload)
}

func (h *recordingHub) count(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages[userID])
}

type testEnv struct {
	ctx   context.Context
	store *memory.Store
	hub   *recordingHub
	cache *MembershipCache

	users    repository.UserRepository
	videos   repository.VideoRepository
	comments repository.CommentRepository
	follows  repository.FollowRepository
	shares   repository.ShareRepository
	notifs   repository.NotificationRepository

	notifications NotificationService
	likeSvc       LikeService
	followSvc     FollowService
	shareSvc      ShareService
	commentSvc    CommentService
	feedSvc       FeedService
	userSvc       UserService
	videoSvc      VideoService
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, nil, nil)
}

func newTestEnvWith(t *testing.T, publisher Publisher, media storage.MediaStorage) *testEnv {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })

	e := &testEnv{
		ctx:      context.Background(),
		store:    store,
		hub:      &recordingHub{},
		cache:    NewMembershipCache(store),
		users:    repository.NewUserRepository(store, nil),
		videos:   repository.NewVideoRepository(store),
		comments: repository.NewCommentRepository(store),
		follows:  repository.NewFollowRepository(store),
		shares:   repository.NewShareRepository(store),
		notifs:   repository.NewNotificationRepository(store, nil),
	}
	e.notifications = NewNotificationService(e.notifs, publisher)
	e.notifications.SetWSHub(e.hub)
	e.likeSvc = NewLikeService(store, e.users, e.videos, e.cache, e.notifications)
	e.followSvc = NewFollowService(store, e.users, e.follows, e.notifications)
	e.shareSvc = NewShareService(store, e.users, e.videos, e.shares, e.notifications)
	e.commentSvc = NewCommentService(store, e.users, e.videos, e.comments, e.notifications)
	e.feedSvc = NewFeedService(e.users, e.videos, e.cache, 0, 0)
	e.userSvc = NewUserService(store, e.users, e.videos, e.follows, e.cache)
	e.videoSvc = NewVideoService(store, e.users, e.videos, media)
	return e
}

func (e *testEnv) seedUser(t *testing.T, uid, name, role string, mutate ...func(*model.User)) {
	t.Helper()
	u := &model.User{UID: uid, Name: name, Role: role}
	u.BeforeCreate()
	for _, m := range mutate {
		m(u)
	}
	require.NoError(t, e.store.Set(e.ctx, docstore.Doc(model.CollectionUsers, uid), docstore.MustData(u)))
}

func (e *testEnv) seedVideo(t *testing.T, id, creatorID string, mutate ...func(*model.Video)) {
	t.Helper()
	v := &model.Video{ID: id, Title: "video " + id, CreatorID: creatorID, MediaURL: "https://cdn.example/" + id}
	v.BeforeCreate()
	for _, m := range mutate {
		m(v)
	}
	require.NoError(t, e.store.Set(e.ctx, docstore.Doc(model.CollectionVideos, id), docstore.MustData(v)))
}

func (e *testEnv) user(t *testing.T, uid string) *model.User {
	t.Helper()
	snap, err := e.store.Get(e.ctx, docstore.Doc(model.CollectionUsers, uid))
	require.NoError(t, err)
	var u model.User
	require.NoError(t, snap.DataTo(&u))
	return &u
}

func (e *testEnv) video(t *testing.T, id string) *model.Video {
	t.Helper()
	snap, err := e.store.Get(e.ctx, docstore.Doc(model.CollectionVideos, id))
	require.NoError(t, err)
	var v model.Video
	require.NoError(t, snap.DataTo(&v))
	return &v
}

func (e *testEnv) notificationsFor(t *testing.T, uid string) []*model.Notification {
	t.Helper()
	list, err := e.notifs.FindByUserID(e.ctx, uid, 100, 0)
	require.NoError(t, err)
	return list
}

func (e *testEnv) countDocs(t *testing.T, collection string) int {
	t.Helper()
	docs, err := e.store.Query(e.ctx, docstore.From(collection))
	require.NoError(t, err)
	return len(docs)
}

func withLikes(n int64) func(*model.Video) {
	return func(v *model.Video) { v.Likes = n }
}

func createdAt(ts time.Time) func(*model.Video) {
	return func(v *model.Video) { v.CreatedAt = ts }
}
