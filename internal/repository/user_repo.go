package repository

import (
	"context"
	"time"

	"swipeskills/internal/docstore"
	"swipeskills/internal/logging"
	"swipeskills/internal/model"
	"swipeskills/internal/util"

	"github.com/pkg/errors"
)

type UserRepository interface {
	Ref(uid string) docstore.Ref
	Create(ctx context.Context, user *model.User) error
	FindByID(ctx context.Context, uid string) (*model.User, error)
	FindByIDs(ctx context.Context, uids []string) (map[string]*model.User, error)
	Update(ctx context.Context, uid string, updates ...docstore.Update) error
	Delete(ctx context.Context, uid string) error
	Invalidate(ctx context.Context, uids ...string)
}

// userCache is the slice of util.RedisClient the profile cache needs
type userCache interface {
	GetJSON(ctx context.Context, key string, v any) error
	MGet(ctx context.Context, keys ...string) ([]string, error)
	Incr(ctx context.Context, expiration time.Duration, keys ...string) error
	SetIfUnchanged(ctx context.Context, guardKey, guard, key string, value any, expiration time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

type userRepository struct {
	store docstore.Store
	redis userCache
}

const (
	userCachePrefix     = "user:"
	userGenPrefix       = "user:gen:"
	userCacheExpiration = 15 * time.Minute
)

func NewUserRepository(store docstore.Store, redis *util.RedisClient) UserRepository {
	if redis == nil {
		return newUserRepository(store, nil)
	}
	return newUserRepository(store, redis)
}

func newUserRepository(store docstore.Store, cache userCache) *userRepository {
	return &userRepository{
		store: store,
		redis: cache,
	}
}

func (r *userRepository) Ref(uid string) docstore.Ref {
	return docstore.Doc(model.CollectionUsers, uid)
}

// Create stores a new profile; fails with docstore.ErrAlreadyExists when present
func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	user.BeforeCreate()
	data, err := docstore.ToData(user)
	if err != nil {
		return err
	}
	if err := r.store.Create(ctx, r.Ref(user.UID), data); err != nil {
		return err
	}
	r.Invalidate(ctx, user.UID)
	return nil
}

// FindByID finds a user by uid, checking cache first
func (r *userRepository) FindByID(ctx context.Context, uid string) (*model.User, error) {
	if r.redis != nil {
		var cached model.User
		if err := r.redis.GetJSON(ctx, userCachePrefix+uid, &cached); err == nil {
			return &cached, nil
		}
	}

	gens := r.generations(ctx, uid)
	snap, err := r.store.Get(ctx, r.Ref(uid))
	if err != nil {
		return nil, err
	}
	user, err := decodeOne[model.User](snap)
	if err != nil {
		return nil, err
	}

	r.cacheUser(ctx, user, gens)
	return user, nil
}

// FindByIDs loads several users; missing ids are left out of the result
func (r *userRepository) FindByIDs(ctx context.Context, uids []string) (map[string]*model.User, error) {
	result := make(map[string]*model.User, len(uids))
	var misses []docstore.Ref
	seen := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		if uid == "" {
			continue
		}
		if _, ok := seen[uid]; ok {
			continue
		}
		seen[uid] = struct{}{}
		if r.redis != nil {
			var cached model.User
			if err := r.redis.GetJSON(ctx, userCachePrefix+uid, &cached); err == nil {
				result[uid] = &cached
				continue
			}
		}
		misses = append(misses, r.Ref(uid))
	}
	if len(misses) == 0 {
		return result, nil
	}

	ids := make([]string, len(misses))
	for i, ref := range misses {
		ids[i] = ref.ID
	}
	gens := r.generations(ctx, ids...)
	snaps, err := r.store.GetAll(ctx, misses...)
	if err != nil {
		return nil, err
	}
	users, err := decodeAll[model.User](snaps)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		result[u.UID] = u
		r.cacheUser(ctx, u, gens)
	}
	return result, nil
}

// Update applies field updates and drops the cached profile
func (r *userRepository) Update(ctx context.Context, uid string, updates ...docstore.Update) error {
	updates = append(updates, docstore.Update{Path: model.FieldUpdatedAt, Value: time.Now().UTC()})
	if err := r.store.Update(ctx, r.Ref(uid), updates...); err != nil {
		return err
	}
	r.Invalidate(ctx, uid)
	return nil
}

func (r *userRepository) Delete(ctx context.Context, uid string) error {
	if err := r.store.Delete(ctx, r.Ref(uid)); err != nil {
		return err
	}
	r.Invalidate(ctx, uid)
	return nil
}

// Invalidate drops cached profiles. Services call it after transactions that
// write user documents directly. Each uid's generation is bumped first so a
// read that started earlier cannot put its stale copy back.
func (r *userRepository) Invalidate(ctx context.Context, uids ...string) {
	if r.redis == nil || len(uids) == 0 {
		return
	}
	keys := make([]string, 0, len(uids))
	gens := make([]string, 0, len(uids))
	for _, uid := range uids {
		if uid != "" {
			keys = append(keys, userCachePrefix+uid)
			gens = append(gens, userGenPrefix+uid)
		}
	}
	log := logging.FromContext(ctx)
	if err := r.redis.Incr(ctx, 2*userCacheExpiration, gens...); err != nil {
		log.WithError(err).Warn("failed to bump user cache generation")
	}
	if err := r.redis.Delete(ctx, keys...); err != nil {
		log.WithError(err).Warn("failed to invalidate user cache")
	}
}

// generations reads the invalidation counters of uids before a store read.
// A nil result means they are unknown and nothing read now may be cached.
func (r *userRepository) generations(ctx context.Context, uids ...string) map[string]string {
	if r.redis == nil {
		return nil
	}
	keys := make([]string, len(uids))
	for i, uid := range uids {
		keys[i] = userGenPrefix + uid
	}
	vals, err := r.redis.MGet(ctx, keys...)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Debug("failed to read user cache generations")
		return nil
	}
	gens := make(map[string]string, len(uids))
	for i, uid := range uids {
		gens[uid] = vals[i]
	}
	return gens
}

// cacheUser stores user unless it was invalidated since gens were read
func (r *userRepository) cacheUser(ctx context.Context, user *model.User, gens map[string]string) {
	if r.redis == nil {
		return
	}
	gen, ok := gens[user.UID]
	if !ok {
		return
	}
	stored, err := r.redis.SetIfUnchanged(ctx, userGenPrefix+user.UID, gen, userCachePrefix+user.UID, user, userCacheExpiration)
	if err != nil {
		logging.FromContext(ctx).WithError(errors.WithStack(err)).Debug("failed to cache user")
		return
	}
	if !stored {
		logging.FromContext(ctx).WithField("uid", user.UID).Debug("user changed while loading, not cached")
	}
}
