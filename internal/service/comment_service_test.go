package service

import (
	"strings"
	"testing"
	"time"

	"swipeskills/internal/docstore"
	"swipeskills/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedComment(t *testing.T, e *testEnv, c *model.Comment) {
	t.Helper()
	c.BeforeCreate()
	require.NoError(t, e.store.Set(e.ctx, docstore.Doc(model.CollectionComments, c.ID), docstore.MustData(c)))
}

func seedCommentEnv(t *testing.T) *testEnv {
	e := newTestEnv(t)
	e.seedUser(t, "c1", "Creator", model.RoleCreator)
	e.seedUser(t, "a1", "Ana", model.RoleLearner)
	e.seedUser(t, "b1", "Ben", model.RoleLearner)
	e.seedVideo(t, "v1", "c1")
	return e
}

func notificationTypes(list []*model.Notification) []string {
	types := make([]string, 0, len(list))
	for _, n := range list {
		types = append(types, n.Type)
	}
	return types
}

func TestAddCommentBumpsCounters(t *testing.T) {
	e := seedCommentEnv(t)

	c, err := e.commentSvc.AddComment(e.ctx, "a1", "v1", "  great explanation  ")
	require.NoError(t, err)
	assert.Equal(t, "great explanation", c.Text)
	assert.Equal(t, "Ana", c.UserName)
	assert.False(t, c.IsReply())

	assert.Equal(t, int64(1), e.video(t, "v1").Comments)
	assert.Equal(t, int64(1), e.user(t, "a1").Stats.CommentsCount)

	notes := e.notificationsFor(t, "c1")
	require.Len(t, notes, 1)
	assert.Equal(t, model.NotificationTypeComment, notes[0].Type)
	assert.Equal(t, c.ID, notes[0].CommentID)
	assert.Equal(t, "great explanation", notes[0].Comment)
}

func TestAddCommentValidatesText(t *testing.T) {
	e := seedCommentEnv(t)

	_, err := e.commentSvc.AddComment(e.ctx, "a1", "v1", "   ")
	assert.ErrorIs(t, err, ErrInvalidOperation)

	_, err = e.commentSvc.AddComment(e.ctx, "a1", "v1", strings.Repeat("x", MaxCommentLength+1))
	assert.ErrorIs(t, err, ErrInvalidOperation)

	_, err = e.commentSvc.AddComment(e.ctx, "a1", "missing", "hello")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, int64(0), e.video(t, "v1").Comments)
	assert.Equal(t, 0, e.countDocs(t, model.CollectionComments))
}

func TestRepliesStayOneLevelDeep(t *testing.T) {
	e := seedCommentEnv(t)

	top, err := e.commentSvc.AddComment(e.ctx, "a1", "v1", "question")
	require.NoError(t, err)
	r1, err := e.commentSvc.AddReply(e.ctx, "b1", top.ID, "answer")
	require.NoError(t, err)
	r2, err := e.commentSvc.AddReply(e.ctx, "a1", r1.ID, "thanks")
	require.NoError(t, err)

	assert.Equal(t, top.ID, r1.ReplyToID)
	assert.Equal(t, top.ID, r2.ReplyToID)
	assert.Equal(t, "v1", r2.VideoID)
	assert.Equal(t, int64(3), e.video(t, "v1").Comments)

	// parent authors hear about replies; the owner hears about every comment
	assert.Equal(t, []string{model.NotificationTypeReply}, notificationTypes(e.notificationsFor(t, "a1")))
	assert.Equal(t, []string{model.NotificationTypeReply}, notificationTypes(e.notificationsFor(t, "b1")))
	assert.Len(t, e.notificationsFor(t, "c1"), 3)
}

func TestOwnerReplyNotifiesOnlyParentAuthor(t *testing.T) {
	e := seedCommentEnv(t)

	top, err := e.commentSvc.AddComment(e.ctx, "a1", "v1", "question")
	require.NoError(t, err)
	_, err = e.commentSvc.AddReply(e.ctx, "c1", top.ID, "answer")
	require.NoError(t, err)

	assert.Len(t, e.notificationsFor(t, "c1"), 1)
	assert.Equal(t, []string{model.NotificationTypeReply}, notificationTypes(e.notificationsFor(t, "a1")))
}

func TestDeleteTopLevelRemovesThread(t *testing.T) {
	e := seedCommentEnv(t)

	top, err := e.commentSvc.AddComment(e.ctx, "a1", "v1", "question")
	require.NoError(t, err)
	r1, err := e.commentSvc.AddReply(e.ctx, "b1", top.ID, "answer")
	require.NoError(t, err)
	_, err = e.commentSvc.AddReply(e.ctx, "a1", r1.ID, "thanks")
	require.NoError(t, err)

	// an older client embedded one more reply in the parent
	stored, err := e.comments.FindByID(e.ctx, top.ID)
	require.NoError(t, err)
	stored.Replies = []model.LegacyReply{{ID: "legacy-1", UserID: "b1", Text: "old style", CreatedAt: time.Now().UTC()}}
	require.NoError(t, e.store.Set(e.ctx, e.comments.Ref(top.ID), docstore.MustData(stored)))
	require.NoError(t, e.store.Update(e.ctx, e.videos.Ref("v1"), increment(model.FieldVideoComments)))
	require.NoError(t, e.store.Update(e.ctx, e.users.Ref("b1"), increment(model.FieldCommentsCount)))
	require.Equal(t, int64(4), e.video(t, "v1").Comments)

	_, err = e.commentSvc.DeleteComment(e.ctx, "b1", top.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	removed, err := e.commentSvc.DeleteComment(e.ctx, "c1", top.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), removed)
	assert.Equal(t, int64(0), e.video(t, "v1").Comments)
	assert.Equal(t, int64(0), e.user(t, "a1").Stats.CommentsCount)
	assert.Equal(t, int64(0), e.user(t, "b1").Stats.CommentsCount)
	assert.Equal(t, 0, e.countDocs(t, model.CollectionComments))
}

func TestDeleteReplyRemovesOne(t *testing.T) {
	e := seedCommentEnv(t)

	top, err := e.commentSvc.AddComment(e.ctx, "a1", "v1", "question")
	require.NoError(t, err)
	reply, err := e.commentSvc.AddReply(e.ctx, "b1", top.ID, "answer")
	require.NoError(t, err)

	removed, err := e.commentSvc.DeleteComment(e.ctx, "b1", reply.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Equal(t, int64(1), e.video(t, "v1").Comments)
	assert.Equal(t, int64(0), e.user(t, "b1").Stats.CommentsCount)
	assert.Equal(t, 1, e.countDocs(t, model.CollectionComments))

	_, err = e.commentSvc.DeleteComment(e.ctx, "b1", reply.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEditComment(t *testing.T) {
	e := seedCommentEnv(t)

	c, err := e.commentSvc.AddComment(e.ctx, "a1", "v1", "first draft")
	require.NoError(t, err)

	_, err = e.commentSvc.EditComment(e.ctx, "b1", c.ID, "hijack")
	assert.ErrorIs(t, err, ErrForbidden)

	edited, err := e.commentSvc.EditComment(e.ctx, "a1", c.ID, "final text")
	require.NoError(t, err)
	assert.Equal(t, "final text", edited.Text)
	require.NotNil(t, edited.EditedAt)

	stored, err := e.comments.FindByID(e.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "final text", stored.Text)
	assert.NotNil(t, stored.EditedAt)
}

func TestLikeComment(t *testing.T) {
	e := seedCommentEnv(t)

	c, err := e.commentSvc.AddComment(e.ctx, "a1", "v1", "question")
	require.NoError(t, err)

	require.NoError(t, e.commentSvc.LikeComment(e.ctx, "b1", c.ID))
	assert.ErrorIs(t, e.commentSvc.LikeComment(e.ctx, "b1", c.ID), ErrAlreadyExists)

	stored, err := e.comments.FindByID(e.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Likes)
	assert.Equal(t, []string{"b1"}, stored.LikedBy)
	assert.Equal(t, []string{model.NotificationTypeCommentLike}, notificationTypes(e.notificationsFor(t, "a1")))

	require.NoError(t, e.commentSvc.UnlikeComment(e.ctx, "b1", c.ID))
	assert.ErrorIs(t, e.commentSvc.UnlikeComment(e.ctx, "b1", c.ID), ErrNotFound)

	stored, err = e.comments.FindByID(e.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Likes)
	assert.Empty(t, stored.LikedBy)
}

func TestListThreadOrdering(t *testing.T) {
	e := seedCommentEnv(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	older := &model.Comment{ID: "top-old", VideoID: "v1", UserID: "a1", Text: "first", CreatedAt: base,
		Replies: []model.LegacyReply{{ID: "legacy", UserID: "b1", Text: "embedded", CreatedAt: base.Add(90 * time.Second)}}}
	newer := &model.Comment{ID: "top-new", VideoID: "v1", UserID: "b1", Text: "second", CreatedAt: base.Add(time.Minute)}
	late := &model.Comment{ID: "reply-late", VideoID: "v1", UserID: "c1", Text: "late", ReplyToID: "top-old", CreatedAt: base.Add(3 * time.Minute)}
	early := &model.Comment{ID: "reply-early", VideoID: "v1", UserID: "b1", Text: "early", ReplyToID: "top-old", CreatedAt: base.Add(2 * time.Minute)}
	for _, c := range []*model.Comment{older, newer, late, early} {
		seedComment(t, e, c)
	}

	threads, err := e.commentSvc.ListThread(e.ctx, "v1")
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "top-new", threads[0].ID)
	assert.Empty(t, threads[0].Replies)
	assert.Equal(t, "top-old", threads[1].ID)

	var ids []string
	for _, r := range threads[1].Replies {
		ids = append(ids, r.ID)
		assert.Equal(t, "top-old", r.ReplyToID)
	}
	assert.Equal(t, []string{"legacy", "reply-early", "reply-late"}, ids)
}

func TestMigrateLegacyReplies(t *testing.T) {
	e := seedCommentEnv(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	seedComment(t, e, &model.Comment{ID: "top", VideoID: "v1", UserID: "a1", Text: "question", CreatedAt: base,
		Replies: []model.LegacyReply{
			{ID: "kept-id", UserID: "b1", Text: "one", CreatedAt: base.Add(time.Minute)},
			{UserID: "c1", Text: "two", Likes: 2, LikedBy: []string{"a1", "b1"}, CreatedAt: base.Add(2 * time.Minute)},
		}})
	require.NoError(t, e.store.Update(e.ctx, e.videos.Ref("v1"), docstore.Update{Path: model.FieldVideoComments, Value: int64(3)}))

	before, err := e.commentSvc.ListThread(e.ctx, "v1")
	require.NoError(t, err)
	require.Len(t, before, 1)
	require.Len(t, before[0].Replies, 2)

	n, err := e.commentSvc.MigrateLegacyReplies(e.ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, e.countDocs(t, model.CollectionComments))
	assert.Equal(t, int64(3), e.video(t, "v1").Comments)

	parent, err := e.comments.FindByID(e.ctx, "top")
	require.NoError(t, err)
	assert.Empty(t, parent.Replies)

	after, err := e.commentSvc.ListThread(e.ctx, "v1")
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Len(t, after[0].Replies, 2)
	for i := range before[0].Replies {
		assert.Equal(t, before[0].Replies[i].ID, after[0].Replies[i].ID)
	}
	assert.Equal(t, int64(2), after[0].Replies[1].Likes)

	n, err = e.commentSvc.MigrateLegacyReplies(e.ctx, "v1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMigrateLegacyRepliesWithoutIDsOrTimestamps(t *testing.T) {
	e := seedCommentEnv(t)
	seedComment(t, e, &model.Comment{ID: "top", VideoID: "v1", UserID: "a1", Text: "question", CreatedAt: time.Now().UTC(),
		Replies: []model.LegacyReply{
			{UserID: "b1", Text: "same"},
			{UserID: "b1", Text: "same"},
			{UserID: "b1", Text: "other"},
		}})

	threads, err := e.commentSvc.ListThread(e.ctx, "v1")
	require.NoError(t, err)
	require.Len(t, threads, 1)
	require.Len(t, threads[0].Replies, 3)
	ids := map[string]bool{}
	for _, r := range threads[0].Replies {
		ids[r.ID] = true
	}
	assert.Len(t, ids, 3)

	n, err := e.commentSvc.MigrateLegacyReplies(e.ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 4, e.countDocs(t, model.CollectionComments))

	after, err := e.commentSvc.ListThread(e.ctx, "v1")
	require.NoError(t, err)
	require.Len(t, after[0].Replies, 3)
	for _, r := range after[0].Replies {
		assert.True(t, ids[r.ID], r.ID)
	}
}
