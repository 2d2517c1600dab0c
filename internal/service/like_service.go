package service

import (
	"context"

	"swipeskills/internal/docstore"
	"swipeskills/internal/model"
	"swipeskills/internal/repository"

	"github.com/pkg/errors"
)

type LikeService interface {
	LikeVideo(ctx context.Context, actorID, videoID string) error
	UnlikeVideo(ctx context.Context, actorID, videoID string) error
	SaveVideo(ctx context.Context, actorID, videoID string) error
	UnsaveVideo(ctx context.Context, actorID, videoID string) error
	IsLiked(ctx context.Context, actorID, videoID string) (bool, error)
	IsSaved(ctx context.Context, actorID, videoID string) (bool, error)
}

type likeService struct {
	store     docstore.Store
	userRepo  repository.UserRepository
	videoRepo repository.VideoRepository
	cache     *MembershipCache
	notifier  Notifier
}

func NewLikeService(
	store docstore.Store,
	userRepo repository.UserRepository,
	videoRepo repository.VideoRepository,
	cache *MembershipCache,
	notifier Notifier,
) LikeService {
	return &likeService{
		store:     store,
		userRepo:  userRepo,
		videoRepo: videoRepo,
		cache:     cache,
		notifier:  notifier,
	}
}

// membershipChange describes one toggle of a user's video set and the
// counters that move with it
type membershipChange struct {
	field        string // array on the actor's user document
	add          bool
	videoCounter string // counter on the video, optional
	actorCounter string // counter on the actor, optional
	ownerCounter string // counter on the video creator, optional
	notifyType   string
}

var (
	likeChange = membershipChange{
		field:        model.FieldLikedVideos,
		add:          true,
		videoCounter: model.FieldVideoLikes,
		ownerCounter: model.FieldLikesCount,
		notifyType:   model.NotificationTypeLike,
	}
	saveChange = membershipChange{
		field:        model.FieldFavorites,
		add:          true,
		actorCounter: model.FieldSavedCount,
		notifyType:   model.NotificationTypeSave,
	}
)

func (c membershipChange) reversed() membershipChange {
	c.add = !c.add
	return c
}

// LikeVideo adds the video to likedVideos and bumps the video's likes and
// the creator's likesCount
func (s *likeService) LikeVideo(ctx context.Context, actorID, videoID string) error {
	return s.toggle(ctx, actorID, videoID, likeChange)
}

func (s *likeService) UnlikeVideo(ctx context.Context, actorID, videoID string) error {
	return s.toggle(ctx, actorID, videoID, likeChange.reversed())
}

// SaveVideo adds the video to favorites and bumps the actor's savedCount
func (s *likeService) SaveVideo(ctx context.Context, actorID, videoID string) error {
	return s.toggle(ctx, actorID, videoID, saveChange)
}

func (s *likeService) UnsaveVideo(ctx context.Context, actorID, videoID string) error {
	return s.toggle(ctx, actorID, videoID, saveChange.reversed())
}

func (s *likeService) IsLiked(ctx context.Context, actorID, videoID string) (bool, error) {
	if err := requireActor(actorID); err != nil {
		return false, err
	}
	m, err := s.cache.Get(ctx, actorID)
	if err != nil {
		return false, err
	}
	return m.IsLiked(videoID), nil
}

func (s *likeService) IsSaved(ctx context.Context, actorID, videoID string) (bool, error) {
	if err := requireActor(actorID); err != nil {
		return false, err
	}
	m, err := s.cache.Get(ctx, actorID)
	if err != nil {
		return false, err
	}
	return m.IsSaved(videoID), nil
}

// toggle checks membership and applies the change with its counters in one
// transaction, then notifies the creator on additions
func (s *likeService) toggle(ctx context.Context, actorID, videoID string, change membershipChange) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	if videoID == "" {
		return errors.Wrap(ErrNotFound, "video not found")
	}

	userRef, videoRef := s.userRepo.Ref(actorID), s.videoRepo.Ref(videoID)
	var creatorID, actorName string

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		actor, err := tx.Get(userRef)
		if err != nil {
			return notFound(err, "user profile")
		}
		video, err := tx.Get(videoRef)
		if err != nil {
			return notFound(err, "video")
		}
		creatorID, _ = video.Field(model.FieldCreatorID).(string)
		actorName, _ = actor.Field(model.FieldName).(string)

		member := docstore.Contains(actor.Field(change.field), videoID)
		if change.add && member {
			return errors.Wrapf(ErrAlreadyExists, "video already in %s", change.field)
		}
		if !change.add && !member {
			return errors.Wrapf(ErrNotFound, "video not in %s", change.field)
		}

		var owner *docstore.Snapshot
		if change.ownerCounter != "" && creatorID != "" && creatorID != actorID {
			if owner, err = getOptional(tx, s.userRepo.Ref(creatorID)); err != nil {
				return err
			}
		}

		actorUpdates := []docstore.Update{membershipUpdate(change.field, videoID, change.add)}
		if change.actorCounter != "" {
			actorUpdates = append(actorUpdates, counterUpdate(ctx, actor, change.actorCounter, change.add))
		}
		if change.ownerCounter != "" && creatorID == actorID {
			actorUpdates = append(actorUpdates, counterUpdate(ctx, actor, change.ownerCounter, change.add))
		}
		if err := tx.Update(userRef, actorUpdates...); err != nil {
			return err
		}
		if change.videoCounter != "" {
			if err := tx.Update(videoRef, counterUpdate(ctx, video, change.videoCounter, change.add)); err != nil {
				return err
			}
		}
		if owner != nil && owner.Exists {
			return tx.Update(owner.Ref, counterUpdate(ctx, owner, change.ownerCounter, change.add))
		}
		return nil
	})
	if err != nil {
		return classify(err)
	}

	s.cache.apply(actorID, change.field, videoID, change.add)
	s.userRepo.Invalidate(ctx, actorID, creatorID)

	if change.add && change.notifyType != "" {
		s.notifier.Notify(ctx, &model.Notification{
			UserID:       creatorID,
			FromUserID:   actorID,
			FromUserName: actorName,
			Type:         change.notifyType,
			VideoID:      videoID,
		})
	}
	return nil
}

func membershipUpdate(field, id string, add bool) docstore.Update {
	if add {
		return docstore.Update{Path: field, Value: docstore.ArrayUnion(id)}
	}
	return docstore.Update{Path: field, Value: docstore.ArrayRemove(id)}
}

func counterUpdate(ctx context.Context, snap *docstore.Snapshot, path string, add bool) docstore.Update {
	if add {
		return increment(path)
	}
	return decrement(ctx, snap, path, 1)
}
