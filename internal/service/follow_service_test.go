package service

import (
	"sync"
	"testing"

	"swipeskills/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollowAndUnfollow(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "a1", "Ana", model.RoleLearner)
	e.seedUser(t, "c1", "Creator", model.RoleCreator)

	require.NoError(t, e.followSvc.Follow(e.ctx, "a1", "c1"))

	assert.Equal(t, int64(1), e.user(t, "a1").Stats.FollowingCount)
	assert.Equal(t, int64(1), e.user(t, "c1").Stats.FollowersCount)
	ok, err := e.followSvc.IsFollowing(e.ctx, "a1", "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	following, err := e.followSvc.ListFollowing(e.ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, following)
	followers, err := e.followSvc.ListFollowers(e.ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, followers)

	notes := e.notificationsFor(t, "c1")
	require.Len(t, notes, 1)
	assert.Equal(t, model.NotificationTypeFollow, notes[0].Type)
	assert.Equal(t, "Ana", notes[0].FromUserName)

	assert.ErrorIs(t, e.followSvc.Follow(e.ctx, "a1", "c1"), ErrAlreadyExists)

	require.NoError(t, e.followSvc.Unfollow(e.ctx, "a1", "c1"))
	assert.Equal(t, int64(0), e.user(t, "a1").Stats.FollowingCount)
	assert.Equal(t, int64(0), e.user(t, "c1").Stats.FollowersCount)
	assert.Equal(t, 0, e.countDocs(t, model.CollectionFollows))
	assert.Len(t, e.notificationsFor(t, "c1"), 1)

	assert.ErrorIs(t, e.followSvc.Unfollow(e.ctx, "a1", "c1"), ErrNotFound)
}

func TestFollowGuards(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "a1", "Ana", model.RoleLearner)

	assert.ErrorIs(t, e.followSvc.Follow(e.ctx, "a1", "a1"), ErrInvalidOperation)
	assert.ErrorIs(t, e.followSvc.Unfollow(e.ctx, "a1", "a1"), ErrInvalidOperation)
	assert.ErrorIs(t, e.followSvc.Follow(e.ctx, "", "a1"), ErrUnauthenticated)
	assert.ErrorIs(t, e.followSvc.Follow(e.ctx, "a1", "ghost"), ErrNotFound)
	assert.ErrorIs(t, e.followSvc.Follow(e.ctx, "ghost", "a1"), ErrNotFound)

	assert.Equal(t, int64(0), e.user(t, "a1").Stats.FollowingCount)
	assert.Equal(t, int64(0), e.user(t, "a1").Stats.FollowersCount)
	assert.Equal(t, 0, e.countDocs(t, model.CollectionFollows))
}

func TestConcurrentFollowCreatesOneEdge(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "a1", "Ana", model.RoleLearner)
	e.seedUser(t, "c1", "Creator", model.RoleCreator)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.followSvc.Follow(e.ctx, "a1", "c1")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, e.countDocs(t, model.CollectionFollows))
	assert.Equal(t, int64(1), e.user(t, "a1").Stats.FollowingCount)
	assert.Equal(t, int64(1), e.user(t, "c1").Stats.FollowersCount)
}

func TestFollowEdgesWithUnderscoreUIDs(t *testing.T) {
	e := newTestEnv(t)
	for _, uid := range []string{"a_b", "c", "a", "b_c"} {
		e.seedUser(t, uid, uid, model.RoleLearner)
	}

	require.NoError(t, e.followSvc.Follow(e.ctx, "a_b", "c"))
	require.NoError(t, e.followSvc.Follow(e.ctx, "a", "b_c"))

	ok, err := e.followSvc.IsFollowing(e.ctx, "a", "c")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, e.followSvc.Unfollow(e.ctx, "a", "b_c"))

	ok, err = e.followSvc.IsFollowing(e.ctx, "a_b", "c")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), e.user(t, "a_b").Stats.FollowingCount)
	assert.Equal(t, int64(1), e.user(t, "c").Stats.FollowersCount)
	assert.Zero(t, e.user(t, "a").Stats.FollowingCount)
	assert.Zero(t, e.user(t, "b_c").Stats.FollowersCount)
	assert.Equal(t, 1, e.countDocs(t, model.CollectionFollows))
}
