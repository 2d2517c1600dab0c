package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"swipeskills/internal/docstore"
	"swipeskills/internal/docstore/memory"
	"swipeskills/internal/model"
	"swipeskills/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCache mimics the Redis commands the profile cache uses
type memCache struct {
	mu   sync.Mutex
	vals map[string]string
}

func newMemCache() *memCache {
	return &memCache{vals: map[string]string{}}
}

func (c *memCache) GetJSON(_ context.Context, key string, v any) error {
	c.mu.Lock()
	val, ok := c.vals[key]
	c.mu.Unlock()
	if !ok {
		return util.ErrCacheMiss
	}
	return json.Unmarshal([]byte(val), v)
}

func (c *memCache) MGet(_ context.Context, keys ...string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = c.vals[k]
	}
	return out, nil
}

func (c *memCache) Incr(_ context.Context, _ time.Duration, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		n, _ := strconv.Atoi(c.vals[k])
		c.vals[k] = strconv.Itoa(n + 1)
	}
	return nil
}

func (c *memCache) SetIfUnchanged(_ context.Context, guardKey, guard, key string, value any, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vals[guardKey] != guard {
		return false, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	c.vals[key] = string(b)
	return true, nil
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.vals, k)
	}
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.vals[key]
	return ok
}

// hookStore runs afterGet once, after the first user read completes
type hookStore struct {
	docstore.Store
	once     sync.Once
	afterGet func()
}

func (s *hookStore) Get(ctx context.Context, ref docstore.Ref) (*docstore.Snapshot, error) {
	snap, err := s.Store.Get(ctx, ref)
	if s.afterGet != nil {
		s.once.Do(s.afterGet)
	}
	return snap, err
}

func (s *hookStore) GetAll(ctx context.Context, refs ...docstore.Ref) ([]*docstore.Snapshot, error) {
	snaps, err := s.Store.GetAll(ctx, refs...)
	if s.afterGet != nil {
		s.once.Do(s.afterGet)
	}
	return snaps, err
}

func TestUserRepositoryCachesProfiles(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	defer store.Close()
	cache := newMemCache()
	repo := newUserRepository(store, cache)

	require.NoError(t, repo.Create(ctx, &model.User{UID: "u1", Name: "Ana"}))
	u, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", u.Name)
	assert.True(t, cache.has(userCachePrefix+"u1"))

	require.NoError(t, repo.Update(ctx, "u1", docstore.Update{Path: model.FieldName, Value: "Ann"}))
	assert.False(t, cache.has(userCachePrefix+"u1"))

	u, err = repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", u.Name)
}

func TestUserRepositoryDoesNotCacheReadRacingAnUpdate(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	defer mem.Close()
	cache := newMemCache()
	store := &hookStore{Store: mem}
	repo := newUserRepository(store, cache)
	require.NoError(t, repo.Create(ctx, &model.User{UID: "u1", Name: "Ana"}))

	// another writer commits and invalidates while the read is in flight
	store.afterGet = func() {
		require.NoError(t, repo.Update(ctx, "u1", docstore.Update{Path: model.FieldName, Value: "Ann"}))
	}

	u, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", u.Name)
	assert.False(t, cache.has(userCachePrefix+"u1"))

	u, err = repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", u.Name)
}

func TestUserRepositoryBatchReadSkipsInvalidatedUsers(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	defer mem.Close()
	cache := newMemCache()
	store := &hookStore{Store: mem}
	repo := newUserRepository(store, cache)
	require.NoError(t, repo.Create(ctx, &model.User{UID: "u1", Name: "Ana"}))
	require.NoError(t, repo.Create(ctx, &model.User{UID: "u2", Name: "Ben"}))

	store.afterGet = func() { repo.Invalidate(ctx, "u2") }

	users, err := repo.FindByIDs(ctx, []string{"u1", "u2", "missing"})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.True(t, cache.has(userCachePrefix+"u1"))
	assert.False(t, cache.has(userCachePrefix+"u2"))
}

func TestUserRepositoryWithoutRedis(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	defer store.Close()
	repo := NewUserRepository(store, nil)

	require.NoError(t, repo.Create(ctx, &model.User{UID: "u1", Name: "Ana"}))
	u, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", u.Name)
	repo.Invalidate(ctx, "u1")
}
