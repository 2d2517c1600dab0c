package repository

import (
	"context"

	"swipeskills/internal/docstore"
	"swipeskills/internal/model"
)

type FollowRepository interface {
	Ref(followerID, followeeID string) docstore.Ref
	Exists(ctx context.Context, followerID, followeeID string) (bool, error)
	FindFollowing(ctx context.Context, userID string) ([]string, error)
	FindFollowers(ctx context.Context, userID string) ([]string, error)
}

type followRepository struct {
	store docstore.Store
}

func NewFollowRepository(store docstore.Store) FollowRepository {
	return &followRepository{store: store}
}

func (r *followRepository) Ref(followerID, followeeID string) docstore.Ref {
	return docstore.Doc(model.CollectionFollows, model.FollowID(followerID, followeeID))
}

func (r *followRepository) Exists(ctx context.Context, followerID, followeeID string) (bool, error) {
	_, err := r.store.Get(ctx, r.Ref(followerID, followeeID))
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FindFollowing projects the ids userID follows, oldest edge first
func (r *followRepository) FindFollowing(ctx context.Context, userID string) ([]string, error) {
	follows, err := r.query(ctx, FollowingQuery(userID))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(follows))
	for _, f := range follows {
		ids = append(ids, f.FolloweeID)
	}
	return ids, nil
}

// FindFollowers projects the ids following userID, oldest edge first
func (r *followRepository) FindFollowers(ctx context.Context, userID string) ([]string, error) {
	follows, err := r.query(ctx, FollowersQuery(userID))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(follows))
	for _, f := range follows {
		ids = append(ids, f.FollowerID)
	}
	return ids, nil
}

func (r *followRepository) query(ctx context.Context, q docstore.Query) ([]*model.Follow, error) {
	snaps, err := r.store.Query(ctx, q.Order(model.FieldFollowedAt, false))
	if err != nil {
		return nil, err
	}
	return decodeAll[model.Follow](snaps)
}

// FollowingQuery selects edges whose follower is userID
func FollowingQuery(userID string) docstore.Query {
	return docstore.From(model.CollectionFollows).
		Where(model.FieldFollowerID, docstore.OpEqual, userID)
}

// FollowersQuery selects edges whose followee is userID
func FollowersQuery(userID string) docstore.Query {
	return docstore.From(model.CollectionFollows).
		Where(model.FieldFolloweeID, docstore.OpEqual, userID)
}
