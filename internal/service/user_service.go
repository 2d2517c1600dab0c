package service

import (
	"context"
	"strings"

	"swipeskills/internal/docstore"
	"swipeskills/internal/model"
	"swipeskills/internal/repository"

	"github.com/pkg/errors"
)

// Profile is a user with the follow lists projected from the ledger
type Profile struct {
	*model.User
	Following []string `json:"following"`
	Followers []string `json:"followers"`
}

type UserService interface {
	CreateProfile(ctx context.Context, uid, name, email, role string) (*model.User, error)
	UpdatePreferences(ctx context.Context, uid string, interests, badges []string) (*model.User, error)
	Profile(ctx context.Context, uid string) (*Profile, error)
	DeleteAccount(ctx context.Context, uid string) error
}

type userService struct {
	store      docstore.Store
	userRepo   repository.UserRepository
	videoRepo  repository.VideoRepository
	followRepo repository.FollowRepository
	cache      *MembershipCache
}

func NewUserService(
	store docstore.Store,
	userRepo repository.UserRepository,
	videoRepo repository.VideoRepository,
	followRepo repository.FollowRepository,
	cache *MembershipCache,
) UserService {
	return &userService{
		store:      store,
		userRepo:   userRepo,
		videoRepo:  videoRepo,
		followRepo: followRepo,
		cache:      cache,
	}
}

// CreateProfile writes the profile document at sign-up
func (s *userService) CreateProfile(ctx context.Context, uid, name, email, role string) (*model.User, error) {
	if err := requireActor(uid); err != nil {
		return nil, err
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		role = model.RoleLearner
	}
	if role != model.RoleLearner && role != model.RoleCreator {
		return nil, errors.Wrapf(ErrInvalidOperation, "unknown role %q", role)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.Wrap(ErrInvalidOperation, "name is required")
	}

	user := &model.User{
		UID:   uid,
		Name:  name,
		Email: strings.TrimSpace(email),
		Role:  role,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			return nil, errors.Wrap(ErrAlreadyExists, "profile already exists")
		}
		return nil, classify(err)
	}
	return user, nil
}

// UpdatePreferences stores onboarding choices and marks the user onboarded
func (s *userService) UpdatePreferences(ctx context.Context, uid string, interests, badges []string) (*model.User, error) {
	if err := requireActor(uid); err != nil {
		return nil, err
	}
	updates := []docstore.Update{
		{Path: model.FieldInterests, Value: cleanTags(interests)},
		{Path: model.FieldOnboarded, Value: true},
	}
	if badges != nil {
		updates = append(updates, docstore.Update{Path: model.FieldBadges, Value: cleanTags(badges)})
	}
	if err := s.userRepo.Update(ctx, uid, updates...); err != nil {
		return nil, classify(notFound(err, "user profile"))
	}
	user, err := s.userRepo.FindByID(ctx, uid)
	if err != nil {
		return nil, classify(notFound(err, "user profile"))
	}
	return user, nil
}

// Profile returns the user with following and followers projected from
// the follows collection
func (s *userService) Profile(ctx context.Context, uid string) (*Profile, error) {
	user, err := s.userRepo.FindByID(ctx, uid)
	if err != nil {
		return nil, classify(notFound(err, "user"))
	}
	following, err := s.followRepo.FindFollowing(ctx, uid)
	if err != nil {
		return nil, classify(err)
	}
	followers, err := s.followRepo.FindFollowers(ctx, uid)
	if err != nil {
		return nil, classify(err)
	}
	return &Profile{User: user, Following: following, Followers: followers}, nil
}

// DeleteAccount removes the profile in one transaction together with every
// follow edge touching it and the likes it holds, lowering the counterparts'
// follow counters, each liked video's likes and its creator's likesCount
func (s *userService) DeleteAccount(ctx context.Context, uid string) error {
	if err := requireActor(uid); err != nil {
		return err
	}

	var touched []string
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(s.userRepo.Ref(uid))
		if err != nil {
			return notFound(err, "user profile")
		}
		var user model.User
		if err := snap.DataTo(&user); err != nil {
			return err
		}
		following, err := tx.Query(repository.FollowingQuery(uid))
		if err != nil {
			return err
		}
		followers, err := tx.Query(repository.FollowersQuery(uid))
		if err != nil {
			return err
		}

		adj := newAdjustments(tx)
		for _, e := range following {
			followee, _ := e.Field(model.FieldFolloweeID).(string)
			if followee != uid {
				if err := adj.lower(s.userRepo.Ref(followee), model.FieldFollowersCount, 1); err != nil {
					return err
				}
			}
		}
		for _, e := range followers {
			follower, _ := e.Field(model.FieldFollowerID).(string)
			if follower != uid {
				if err := adj.lower(s.userRepo.Ref(follower), model.FieldFollowingCount, 1); err != nil {
					return err
				}
			}
		}

		for _, videoID := range uniqueStrings(user.LikedVideos) {
			video, err := getOptional(tx, s.videoRepo.Ref(videoID))
			if err != nil {
				return err
			}
			if !video.Exists {
				continue
			}
			if err := adj.lowerSnap(video, model.FieldVideoLikes, 1); err != nil {
				return err
			}
			creatorID, _ := video.Field(model.FieldCreatorID).(string)
			if creatorID != "" && creatorID != uid {
				if err := adj.lower(s.userRepo.Ref(creatorID), model.FieldLikesCount, 1); err != nil {
					return err
				}
			}
		}

		for _, e := range append(following, followers...) {
			if err := tx.Delete(e.Ref); err != nil {
				return err
			}
		}
		applied, err := adj.apply(ctx)
		if err != nil {
			return err
		}
		touched = touched[:0]
		for _, ref := range applied {
			if ref.Collection == model.CollectionUsers {
				touched = append(touched, ref.ID)
			}
		}
		return tx.Delete(snap.Ref)
	})
	if err != nil {
		return classify(err)
	}

	s.userRepo.Invalidate(ctx, append(touched, uid)...)
	s.cache.Forget(uid)
	return nil
}
