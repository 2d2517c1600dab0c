package service

import (
	"context"
	"time"

	"swipeskills/internal/docstore"
	"swipeskills/internal/model"
	"swipeskills/internal/repository"

	"github.com/pkg/errors"
)

type FollowService interface {
	Follow(ctx context.Context, actorID, targetID string) error
	Unfollow(ctx context.Context, actorID, targetID string) error
	IsFollowing(ctx context.Context, actorID, targetID string) (bool, error)
	ListFollowing(ctx context.Context, userID string) ([]string, error)
	ListFollowers(ctx context.Context, userID string) ([]string, error)
}

type followService struct {
	store      docstore.Store
	userRepo   repository.UserRepository
	followRepo repository.FollowRepository
	notifier   Notifier
}

func NewFollowService(
	store docstore.Store,
	userRepo repository.UserRepository,
	followRepo repository.FollowRepository,
	notifier Notifier,
) FollowService {
	return &followService{
		store:      store,
		userRepo:   userRepo,
		followRepo: followRepo,
		notifier:   notifier,
	}
}

// Follow creates the follow edge and bumps both counters in one transaction
func (s *followService) Follow(ctx context.Context, actorID, targetID string) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	if actorID == targetID {
		return errors.Wrap(ErrInvalidOperation, "cannot follow yourself")
	}

	actorRef, targetRef := s.userRepo.Ref(actorID), s.userRepo.Ref(targetID)
	edgeRef := s.followRepo.Ref(actorID, targetID)
	var actorName string

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(targetRef); err != nil {
			return notFound(err, "user")
		}
		actor, err := tx.Get(actorRef)
		if err != nil {
			return notFound(err, "user profile")
		}
		if _, err := tx.Get(edgeRef); err == nil {
			return errors.Wrap(ErrAlreadyExists, "already following")
		} else if !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		actorName, _ = actor.Field(model.FieldName).(string)

		edge := model.Follow{FollowerID: actorID, FolloweeID: targetID, FollowedAt: time.Now().UTC()}
		if err := tx.Create(edgeRef, docstore.MustData(edge)); err != nil {
			return err
		}
		if err := tx.Update(actorRef, increment(model.FieldFollowingCount)); err != nil {
			return err
		}
		return tx.Update(targetRef, increment(model.FieldFollowersCount))
	})
	if err != nil {
		return classify(err)
	}
	s.userRepo.Invalidate(ctx, actorID, targetID)

	s.notifier.Notify(ctx, &model.Notification{
		UserID:       targetID,
		FromUserID:   actorID,
		FromUserName: actorName,
		Type:         model.NotificationTypeFollow,
	})
	return nil
}

// Unfollow removes the edge and lowers both counters in one transaction
func (s *followService) Unfollow(ctx context.Context, actorID, targetID string) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	if actorID == targetID {
		return errors.Wrap(ErrInvalidOperation, "cannot unfollow yourself")
	}

	actorRef, targetRef := s.userRepo.Ref(actorID), s.userRepo.Ref(targetID)
	edgeRef := s.followRepo.Ref(actorID, targetID)

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(edgeRef); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return errors.Wrap(ErrNotFound, "not following")
			}
			return err
		}
		actor, err := getOptional(tx, actorRef)
		if err != nil {
			return err
		}
		target, err := getOptional(tx, targetRef)
		if err != nil {
			return err
		}

		if err := tx.Delete(edgeRef); err != nil {
			return err
		}
		if actor.Exists {
			if err := tx.Update(actorRef, decrement(ctx, actor, model.FieldFollowingCount, 1)); err != nil {
				return err
			}
		}
		if target.Exists {
			return tx.Update(targetRef, decrement(ctx, target, model.FieldFollowersCount, 1))
		}
		return nil
	})
	if err != nil {
		return classify(err)
	}
	s.userRepo.Invalidate(ctx, actorID, targetID)
	return nil
}

func (s *followService) IsFollowing(ctx context.Context, actorID, targetID string) (bool, error) {
	if err := requireActor(actorID); err != nil {
		return false, err
	}
	ok, err := s.followRepo.Exists(ctx, actorID, targetID)
	return ok, classify(err)
}

func (s *followService) ListFollowing(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.followRepo.FindFollowing(ctx, userID)
	return ids, classify(err)
}

func (s *followService) ListFollowers(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.followRepo.FindFollowers(ctx, userID)
	return ids, classify(err)
}
