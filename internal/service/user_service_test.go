package service

import (
	"testing"

	"swipeskills/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProfile(t *testing.T) {
	e := newTestEnv(t)

	u, err := e.userSvc.CreateProfile(e.ctx, "u1", "  Ana  ", "ana@example.com", "Creator")
	require.NoError(t, err)
	assert.Equal(t, "Ana", u.Name)
	assert.Equal(t, model.RoleCreator, u.Role)
	assert.Equal(t, model.RoleCreator, e.user(t, "u1").Role)

	_, err = e.userSvc.CreateProfile(e.ctx, "u1", "Ana", "", "")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = e.userSvc.CreateProfile(e.ctx, "u2", "Ben", "", "admin")
	assert.ErrorIs(t, err, ErrInvalidOperation)
	_, err = e.userSvc.CreateProfile(e.ctx, "u2", " ", "", "")
	assert.ErrorIs(t, err, ErrInvalidOperation)

	u, err = e.userSvc.CreateProfile(e.ctx, "u2", "Ben", "", "")
	require.NoError(t, err)
	assert.Equal(t, model.RoleLearner, u.Role)
}

func TestUpdatePreferences(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "u1", "Ana", model.RoleLearner)

	u, err := e.userSvc.UpdatePreferences(e.ctx, "u1", []string{"Go", " go ", "design", ""}, []string{"early-bird"})
	require.NoError(t, err)
	assert.True(t, u.Onboarded)
	assert.Equal(t, []string{"Go", "design"}, u.Interests)
	assert.Equal(t, []string{"early-bird"}, u.Badges)

	_, err = e.userSvc.UpdatePreferences(e.ctx, "ghost", []string{"go"}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProfileProjectsFollowLists(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "a1", "Ana", model.RoleLearner)
	e.seedUser(t, "b1", "Ben", model.RoleLearner)
	e.seedUser(t, "c1", "Creator", model.RoleCreator)
	require.NoError(t, e.followSvc.Follow(e.ctx, "a1", "c1"))
	require.NoError(t, e.followSvc.Follow(e.ctx, "b1", "c1"))
	require.NoError(t, e.followSvc.Follow(e.ctx, "c1", "a1"))

	p, err := e.userSvc.Profile(e.ctx, "c1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1", "b1"}, p.Followers)
	assert.Equal(t, []string{"a1"}, p.Following)
	assert.Equal(t, int64(2), p.Stats.FollowersCount)

	_, err = e.userSvc.Profile(e.ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAccountReleasesEdges(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "a1", "Ana", model.RoleLearner)
	e.seedUser(t, "b1", "Ben", model.RoleLearner)
	e.seedUser(t, "c1", "Creator", model.RoleCreator)
	require.NoError(t, e.followSvc.Follow(e.ctx, "a1", "c1"))
	require.NoError(t, e.followSvc.Follow(e.ctx, "c1", "a1"))
	require.NoError(t, e.followSvc.Follow(e.ctx, "b1", "a1"))

	_, err := e.cache.Get(e.ctx, "a1")
	require.NoError(t, err)

	require.NoError(t, e.userSvc.DeleteAccount(e.ctx, "a1"))

	assert.Equal(t, 0, e.countDocs(t, model.CollectionFollows))
	c1 := e.user(t, "c1")
	assert.Equal(t, int64(0), c1.Stats.FollowersCount)
	assert.Equal(t, int64(0), c1.Stats.FollowingCount)
	assert.Equal(t, int64(0), e.user(t, "b1").Stats.FollowingCount)

	_, err = e.userSvc.Profile(e.ctx, "a1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, e.userSvc.DeleteAccount(e.ctx, "a1"), ErrNotFound)

	m, err := e.cache.Get(e.ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, m.Liked)
}

func TestDeleteAccountReleasesLikes(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "a1", "Ana", model.RoleLearner)
	e.seedUser(t, "b1", "Ben", model.RoleLearner)
	e.seedUser(t, "c1", "Creator", model.RoleCreator)
	e.seedVideo(t, "v1", "c1")
	e.seedVideo(t, "v2", "c1")
	require.NoError(t, e.likeSvc.LikeVideo(e.ctx, "a1", "v1"))
	require.NoError(t, e.likeSvc.LikeVideo(e.ctx, "a1", "v2"))
	require.NoError(t, e.likeSvc.LikeVideo(e.ctx, "b1", "v1"))
	require.NoError(t, e.followSvc.Follow(e.ctx, "a1", "c1"))

	require.NoError(t, e.userSvc.DeleteAccount(e.ctx, "a1"))

	assert.Equal(t, int64(1), e.video(t, "v1").Likes)
	assert.Equal(t, int64(0), e.video(t, "v2").Likes)
	c1 := e.user(t, "c1")
	assert.Equal(t, int64(1), c1.Stats.LikesCount)
	assert.Equal(t, int64(0), c1.Stats.FollowersCount)
}

func TestDeleteAccountSkipsMissingLikedVideos(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "a1", "Ana", model.RoleLearner, func(u *model.User) {
		u.LikedVideos = []string{"gone", "gone"}
	})

	require.NoError(t, e.userSvc.DeleteAccount(e.ctx, "a1"))
	_, err := e.userSvc.Profile(e.ctx, "a1")
	assert.ErrorIs(t, err, ErrNotFound)
}
