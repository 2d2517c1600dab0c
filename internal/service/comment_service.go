package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"swipeskills/internal/docstore"
	"swipeskills/internal/logging"
	"swipeskills/internal/model"
	"swipeskills/internal/repository"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MaxCommentLength bounds comment text in runes
const MaxCommentLength = 2000

// Thread is a top-level comment with its replies, oldest reply first
type Thread struct {
	*model.Comment
	Replies []*model.Comment `json:"replies"`
}

type CommentService interface {
	AddComment(ctx context.Context, actorID, videoID, text string) (*model.Comment, error)
	AddReply(ctx context.Context, actorID, parentID, text string) (*model.Comment, error)
	EditComment(ctx context.Context, actorID, commentID, text string) (*model.Comment, error)
	DeleteComment(ctx context.Context, actorID, commentID string) (int64, error)
	LikeComment(ctx context.Context, actorID, commentID string) error
	UnlikeComment(ctx context.Context, actorID, commentID string) error
	ListThread(ctx context.Context, videoID string) ([]*Thread, error)
	MigrateLegacyReplies(ctx context.Context, videoID string) (int, error)
}

type commentService struct {
	store       docstore.Store
	userRepo    repository.UserRepository
	videoRepo   repository.VideoRepository
	commentRepo repository.CommentRepository
	notifier    Notifier
}

func NewCommentService(
	store docstore.Store,
	userRepo repository.UserRepository,
	videoRepo repository.VideoRepository,
	commentRepo repository.CommentRepository,
	notifier Notifier,
) CommentService {
	return &commentService{
		store:       store,
		userRepo:    userRepo,
		videoRepo:   videoRepo,
		commentRepo: commentRepo,
		notifier:    notifier,
	}
}

func cleanText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.Wrap(ErrInvalidOperation, "comment text is required")
	}
	if utf8.RuneCountInString(text) > MaxCommentLength {
		return "", errors.Wrapf(ErrInvalidOperation, "comment text exceeds %d characters", MaxCommentLength)
	}
	return text, nil
}

// AddComment creates a top-level comment and bumps the video's comment
// counter and the author's commentsCount
func (s *commentService) AddComment(ctx context.Context, actorID, videoID, text string) (*model.Comment, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	text, err := cleanText(text)
	if err != nil {
		return nil, err
	}

	comment := &model.Comment{VideoID: videoID, UserID: actorID, Text: text}
	comment.BeforeCreate()
	var ownerID string

	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		actor, err := tx.Get(s.userRepo.Ref(actorID))
		if err != nil {
			return notFound(err, "user profile")
		}
		video, err := tx.Get(s.videoRepo.Ref(videoID))
		if err != nil {
			return notFound(err, "video")
		}
		ownerID, _ = video.Field(model.FieldCreatorID).(string)
		comment.UserName, _ = actor.Field(model.FieldName).(string)
		comment.UserAvatar, _ = actor.Field(model.FieldAvatarURL).(string)

		if err := tx.Create(s.commentRepo.Ref(comment.ID), docstore.MustData(comment)); err != nil {
			return err
		}
		if err := tx.Update(video.Ref, increment(model.FieldVideoComments)); err != nil {
			return err
		}
		return tx.Update(actor.Ref, increment(model.FieldCommentsCount))
	})
	if err != nil {
		return nil, classify(err)
	}
	s.userRepo.Invalidate(ctx, actorID)

	s.notifier.Notify(ctx, &model.Notification{
		UserID:       ownerID,
		FromUserID:   actorID,
		FromUserName: comment.UserName,
		Type:         model.NotificationTypeComment,
		VideoID:      videoID,
		CommentID:    comment.ID,
		Comment:      comment.Text,
	})
	return comment, nil
}

// AddReply creates a flat reply. Replies to replies attach to the top-level
// comment so threads stay one level deep.
func (s *commentService) AddReply(ctx context.Context, actorID, parentID, text string) (*model.Comment, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	text, err := cleanText(text)
	if err != nil {
		return nil, err
	}

	reply := &model.Comment{UserID: actorID, Text: text}
	reply.BeforeCreate()
	var ownerID, parentAuthorID string

	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		parentSnap, err := tx.Get(s.commentRepo.Ref(parentID))
		if err != nil {
			return notFound(err, "comment")
		}
		var parent model.Comment
		if err := parentSnap.DataTo(&parent); err != nil {
			return err
		}
		parentAuthorID = parent.UserID

		top := parent
		if parent.IsReply() {
			topSnap, err := tx.Get(s.commentRepo.Ref(parent.ReplyToID))
			if err != nil {
				return notFound(err, "parent comment")
			}
			top = model.Comment{}
			if err := topSnap.DataTo(&top); err != nil {
				return err
			}
		}

		video, err := tx.Get(s.videoRepo.Ref(top.VideoID))
		if err != nil {
			return notFound(err, "video")
		}
		actor, err := tx.Get(s.userRepo.Ref(actorID))
		if err != nil {
			return notFound(err, "user profile")
		}
		ownerID, _ = video.Field(model.FieldCreatorID).(string)
		reply.VideoID = top.VideoID
		reply.ReplyToID = top.ID
		reply.UserName, _ = actor.Field(model.FieldName).(string)
		reply.UserAvatar, _ = actor.Field(model.FieldAvatarURL).(string)

		if err := tx.Create(s.commentRepo.Ref(reply.ID), docstore.MustData(reply)); err != nil {
			return err
		}
		if err := tx.Update(video.Ref, increment(model.FieldVideoComments)); err != nil {
			return err
		}
		return tx.Update(actor.Ref, increment(model.FieldCommentsCount))
	})
	if err != nil {
		return nil, classify(err)
	}
	s.userRepo.Invalidate(ctx, actorID)

	if parentAuthorID != actorID && parentAuthorID != ownerID {
		s.notifier.Notify(ctx, &model.Notification{
			UserID:       parentAuthorID,
			FromUserID:   actorID,
			FromUserName: reply.UserName,
			Type:         model.NotificationTypeReply,
			VideoID:      reply.VideoID,
			CommentID:    reply.ID,
			Comment:      reply.Text,
		})
	}
	s.notifier.Notify(ctx, &model.Notification{
		UserID:       ownerID,
		FromUserID:   actorID,
		FromUserName: reply.UserName,
		Type:         model.NotificationTypeComment,
		VideoID:      reply.VideoID,
		CommentID:    reply.ID,
		Comment:      reply.Text,
	})
	return reply, nil
}

// EditComment replaces the text of the actor's own comment
func (s *commentService) EditComment(ctx context.Context, actorID, commentID, text string) (*model.Comment, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	text, err := cleanText(text)
	if err != nil {
		return nil, err
	}

	var edited model.Comment
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(s.commentRepo.Ref(commentID))
		if err != nil {
			return notFound(err, "comment")
		}
		edited = model.Comment{}
		if err := snap.DataTo(&edited); err != nil {
			return err
		}
		if edited.UserID != actorID {
			return errors.Wrap(ErrForbidden, "only the author can edit a comment")
		}
		now := time.Now().UTC()
		edited.Text, edited.EditedAt = text, &now
		return tx.Update(snap.Ref,
			docstore.Update{Path: model.FieldCommentText, Value: text},
			docstore.Update{Path: model.FieldEditedAt, Value: now},
		)
	})
	if err != nil {
		return nil, classify(err)
	}
	return &edited, nil
}

// DeleteComment removes a comment as its author or the video owner. A
// top-level comment takes its flat and embedded replies with it and the
// video counter drops by 1+R; a reply drops it by 1. Returns the number of
// comments removed.
func (s *commentService) DeleteComment(ctx context.Context, actorID, commentID string) (int64, error) {
	if err := requireActor(actorID); err != nil {
		return 0, err
	}

	var removed int64
	var authors []string
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(s.commentRepo.Ref(commentID))
		if err != nil {
			return notFound(err, "comment")
		}
		var comment model.Comment
		if err := snap.DataTo(&comment); err != nil {
			return err
		}
		video, err := getOptional(tx, s.videoRepo.Ref(comment.VideoID))
		if err != nil {
			return err
		}
		ownerID, _ := video.Field(model.FieldCreatorID).(string)
		if actorID != comment.UserID && actorID != ownerID {
			return errors.Wrap(ErrForbidden, "only the author or the video owner can delete a comment")
		}

		// per-author count of removed comments
		perAuthor := map[string]int64{comment.UserID: 1}
		deletes := []docstore.Ref{snap.Ref}
		if !comment.IsReply() {
			replies, err := tx.Query(repository.RepliesQuery(comment.ID))
			if err != nil {
				return err
			}
			for _, r := range replies {
				uid, _ := r.Field(model.FieldUserID).(string)
				perAuthor[uid]++
				deletes = append(deletes, r.Ref)
			}
			for _, legacy := range comment.Replies {
				perAuthor[legacy.UserID]++
			}
		}
		removed = int64(len(deletes))
		if !comment.IsReply() {
			removed += int64(len(comment.Replies))
		}

		authors = authors[:0]
		authorSnaps := make([]*docstore.Snapshot, 0, len(perAuthor))
		for uid := range perAuthor {
			if uid == "" {
				continue
			}
			a, err := getOptional(tx, s.userRepo.Ref(uid))
			if err != nil {
				return err
			}
			authors = append(authors, uid)
			if a.Exists {
				authorSnaps = append(authorSnaps, a)
			}
		}

		for _, ref := range deletes {
			if err := tx.Delete(ref); err != nil {
				return err
			}
		}
		if video.Exists {
			if err := tx.Update(video.Ref, decrement(ctx, video, model.FieldVideoComments, removed)); err != nil {
				return err
			}
		}
		for _, a := range authorSnaps {
			if err := tx.Update(a.Ref, decrement(ctx, a, model.FieldCommentsCount, perAuthor[a.Ref.ID])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}
	s.userRepo.Invalidate(ctx, authors...)
	return removed, nil
}

// LikeComment adds the actor to likedBy and bumps the comment's likes
func (s *commentService) LikeComment(ctx context.Context, actorID, commentID string) error {
	return s.toggleLike(ctx, actorID, commentID, true)
}

func (s *commentService) UnlikeComment(ctx context.Context, actorID, commentID string) error {
	return s.toggleLike(ctx, actorID, commentID, false)
}

func (s *commentService) toggleLike(ctx context.Context, actorID, commentID string, add bool) error {
	if err := requireActor(actorID); err != nil {
		return err
	}

	var authorID, videoID, actorName string
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(s.commentRepo.Ref(commentID))
		if err != nil {
			return notFound(err, "comment")
		}
		actor, err := getOptional(tx, s.userRepo.Ref(actorID))
		if err != nil {
			return err
		}
		authorID, _ = snap.Field(model.FieldUserID).(string)
		videoID, _ = snap.Field(model.FieldVideoID).(string)
		actorName, _ = actor.Field(model.FieldName).(string)

		member := docstore.Contains(snap.Field(model.FieldCommentLikedBy), actorID)
		if add && member {
			return errors.Wrap(ErrAlreadyExists, "comment already liked")
		}
		if !add && !member {
			return errors.Wrap(ErrNotFound, "comment not liked")
		}
		return tx.Update(snap.Ref,
			membershipUpdate(model.FieldCommentLikedBy, actorID, add),
			counterUpdate(ctx, snap, model.FieldCommentLikes, add),
		)
	})
	if err != nil {
		return classify(err)
	}

	if add {
		s.notifier.Notify(ctx, &model.Notification{
			UserID:       authorID,
			FromUserID:   actorID,
			FromUserName: actorName,
			Type:         model.NotificationTypeCommentLike,
			VideoID:      videoID,
			CommentID:    commentID,
		})
	}
	return nil
}

// ListThread groups a video's comments into threads: newest top-level
// comment first, replies oldest first. Embedded legacy replies are surfaced
// as flat replies.
func (s *commentService) ListThread(ctx context.Context, videoID string) ([]*Thread, error) {
	comments, err := s.commentRepo.FindByVideoID(ctx, videoID)
	if err != nil {
		return nil, classify(err)
	}

	var threads []*Thread
	byID := make(map[string]*Thread)
	for _, c := range comments {
		if c.IsReply() {
			continue
		}
		t := &Thread{Comment: c, Replies: []*model.Comment{}}
		for i, legacy := range c.Replies {
			t.Replies = append(t.Replies, fromLegacy(c, i, legacy))
		}
		c.Replies = nil
		threads = append(threads, t)
		byID[c.ID] = t
	}
	for _, c := range comments {
		if !c.IsReply() {
			continue
		}
		if t, ok := byID[c.ReplyToID]; ok {
			t.Replies = append(t.Replies, c)
		}
	}

	for _, t := range threads {
		sort.SliceStable(t.Replies, func(i, j int) bool {
			return t.Replies[i].CreatedAt.Before(t.Replies[j].CreatedAt)
		})
	}
	// comments arrive oldest first; newest thread goes on top
	for i, j := 0, len(threads)-1; i < j; i, j = i+1, j-1 {
		threads[i], threads[j] = threads[j], threads[i]
	}
	return threads, nil
}

// MigrateLegacyReplies moves embedded replies of a video's comments into
// flat reply documents, one transaction per parent. Counters are untouched
// because embedded replies were already counted.
func (s *commentService) MigrateLegacyReplies(ctx context.Context, videoID string) (int, error) {
	comments, err := s.commentRepo.FindByVideoID(ctx, videoID)
	if err != nil {
		return 0, classify(err)
	}

	migrated := 0
	for _, c := range comments {
		if c.IsReply() || len(c.Replies) == 0 {
			continue
		}
		n, err := s.migrateParent(ctx, c.ID)
		if err != nil {
			return migrated, classify(err)
		}
		migrated += n
	}
	if migrated > 0 {
		logging.FromContext(ctx).WithField("video_id", videoID).
			WithField("replies", migrated).Info("migrated embedded replies")
	}
	return migrated, nil
}

func (s *commentService) migrateParent(ctx context.Context, parentID string) (int, error) {
	var n int
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(s.commentRepo.Ref(parentID))
		if err != nil {
			return notFound(err, "comment")
		}
		var parent model.Comment
		if err := snap.DataTo(&parent); err != nil {
			return err
		}

		flat := make([]*model.Comment, 0, len(parent.Replies))
		for i, legacy := range parent.Replies {
			reply := fromLegacy(&parent, i, legacy)
			existing, err := getOptional(tx, s.commentRepo.Ref(reply.ID))
			if err != nil {
				return err
			}
			if existing.Exists {
				continue
			}
			flat = append(flat, reply)
		}

		for _, reply := range flat {
			if err := tx.Create(s.commentRepo.Ref(reply.ID), docstore.MustData(reply)); err != nil {
				return err
			}
		}
		n = len(flat)
		return tx.Update(snap.Ref, docstore.Update{Path: model.FieldReplies, Value: docstore.DeleteField})
	})
	return n, err
}

// fromLegacy converts the embedded reply at index i of parent. Replies
// without an id get one derived from their position and content, so
// repeated reads and migration agree.
func fromLegacy(parent *model.Comment, i int, legacy model.LegacyReply) *model.Comment {
	id := legacy.ID
	if id == "" {
		name := strings.Join([]string{
			parent.ID,
			strconv.Itoa(i),
			legacy.UserID,
			legacy.CreatedAt.UTC().Format(time.RFC3339Nano),
			legacy.Text,
		}, "\x00")
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
	}
	likedBy := legacy.LikedBy
	if likedBy == nil {
		likedBy = []string{}
	}
	return &model.Comment{
		ID:        id,
		VideoID:   parent.VideoID,
		UserID:    legacy.UserID,
		UserName:  legacy.UserName,
		Text:      legacy.Text,
		ReplyToID: parent.ID,
		Likes:     legacy.Likes,
		LikedBy:   likedBy,
		CreatedAt: legacy.CreatedAt,
	}
}
