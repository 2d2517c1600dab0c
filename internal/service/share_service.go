package service

import (
	"context"
	"strings"

	"swipeskills/internal/docstore"
	"swipeskills/internal/model"
	"swipeskills/internal/repository"

	"github.com/pkg/errors"
)

type ShareService interface {
	ShareVideo(ctx context.Context, actorID, videoID, channel string) (*model.Share, error)
	RecordView(ctx context.Context, actorID, videoID string) error
}

type shareService struct {
	store     docstore.Store
	userRepo  repository.UserRepository
	videoRepo repository.VideoRepository
	shareRepo repository.ShareRepository
	notifier  Notifier
}

func NewShareService(
	store docstore.Store,
	userRepo repository.UserRepository,
	videoRepo repository.VideoRepository,
	shareRepo repository.ShareRepository,
	notifier Notifier,
) ShareService {
	return &shareService{
		store:     store,
		userRepo:  userRepo,
		videoRepo: videoRepo,
		shareRepo: shareRepo,
		notifier:  notifier,
	}
}

// ShareVideo records a share and bumps the video's shares counter
func (s *shareService) ShareVideo(ctx context.Context, actorID, videoID, channel string) (*model.Share, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	share := &model.Share{
		UserID:  actorID,
		VideoID: videoID,
		Channel: strings.ToLower(strings.TrimSpace(channel)),
	}
	share.BeforeCreate()

	videoRef := s.videoRepo.Ref(videoID)
	var creatorID, actorName string

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		video, err := tx.Get(videoRef)
		if err != nil {
			return notFound(err, "video")
		}
		actor, err := getOptional(tx, s.userRepo.Ref(actorID))
		if err != nil {
			return err
		}
		creatorID, _ = video.Field(model.FieldCreatorID).(string)
		actorName, _ = actor.Field(model.FieldName).(string)

		if err := tx.Create(s.shareRepo.Ref(share.ID), docstore.MustData(share)); err != nil {
			return err
		}
		return tx.Update(videoRef, increment(model.FieldVideoShares))
	})
	if err != nil {
		return nil, classify(err)
	}

	s.notifier.Notify(ctx, &model.Notification{
		UserID:       creatorID,
		FromUserID:   actorID,
		FromUserName: actorName,
		Type:         model.NotificationTypeShare,
		VideoID:      videoID,
	})
	return share, nil
}

// RecordView bumps the view counter and appends the video to the viewer's
// watch history
func (s *shareService) RecordView(ctx context.Context, actorID, videoID string) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	if videoID == "" {
		return errors.Wrap(ErrNotFound, "video not found")
	}

	userRef, videoRef := s.userRepo.Ref(actorID), s.videoRepo.Ref(videoID)
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(videoRef); err != nil {
			return notFound(err, "video")
		}
		if _, err := tx.Get(userRef); err != nil {
			return notFound(err, "user profile")
		}
		if err := tx.Update(videoRef, increment(model.FieldVideoViews)); err != nil {
			return err
		}
		return tx.Update(userRef, docstore.Update{Path: model.FieldWatchHistory, Value: docstore.ArrayUnion(videoID)})
	})
	if err != nil {
		return classify(err)
	}
	s.userRepo.Invalidate(ctx, actorID)
	return nil
}
