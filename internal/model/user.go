package model

import (
	"time"
)

// User is the profile document at users/{uid}. Follow relationships are not
// stored here; following/followers lists are projected from the follows
// collection when a profile is read.
type User struct {
	UID          string    `json:"uid"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         string    `json:"role"` // learner, creator
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	Bio          string    `json:"bio,omitempty"`
	Badge        string    `json:"badge,omitempty"`
	Level        string    `json:"level,omitempty"`
	Status       string    `json:"status,omitempty"`
	Interests    []string  `json:"interests"`
	Badges       []string  `json:"badges"`
	LikedVideos  []string  `json:"likedVideos"`
	Favorites    []string  `json:"favorites"`
	WatchHistory []string  `json:"watchHistory"`
	Stats        UserStats `json:"stats"`
	Onboarded    bool      `json:"onboarded"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserStats are denormalized counters kept in step with the ledger entries.
// LikesCount counts likes received by the user's videos.
type UserStats struct {
	FollowersCount int64 `json:"followersCount"`
	FollowingCount int64 `json:"followingCount"`
	LikesCount     int64 `json:"likesCount"`
	VideosCount    int64 `json:"videosCount"`
	CommentsCount  int64 `json:"commentsCount"`
	SavedCount     int64 `json:"savedCount"`
}

// BeforeCreate fills timestamps and empty sets
func (u *User) BeforeCreate() {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.Role == "" {
		u.Role = RoleLearner
	}
	for _, s := range []*[]string{&u.Interests, &u.Badges, &u.LikedVideos, &u.Favorites, &u.WatchHistory} {
		if *s == nil {
			*s = []string{}
		}
	}
}

// Collection returns the collection name
func (User) Collection() string {
	return CollectionUsers
}

// IsCreator reports whether the user publishes videos
func (u *User) IsCreator() bool {
	return u.Role == RoleCreator
}

// DisplayBadge resolves the badge shown next to a creator: explicit badge,
// then level, then status, then "expert" for creators, else "learner".
func (u *User) DisplayBadge() string {
	switch {
	case u.Badge != "":
		return u.Badge
	case u.Level != "":
		return u.Level
	case u.Status != "":
		return u.Status
	case u.IsCreator():
		return BadgeExpert
	}
	return BadgeLearner
}

// Role constants
const (
	RoleLearner = "learner"
	RoleCreator = "creator"
)

// Badge fallbacks
const (
	BadgeExpert  = "expert"
	BadgeLearner = "learner"
)

// PrivateUserFields are the profile paths only the owner may read or filter on
var PrivateUserFields = []string{FieldEmail, FieldLikedVideos, FieldFavorites, FieldWatchHistory}

// User field paths
const (
	FieldName           = "name"
	FieldEmail          = "email"
	FieldAvatarURL      = "avatarUrl"
	FieldRole           = "role"
	FieldLikedVideos    = "likedVideos"
	FieldFavorites      = "favorites"
	FieldWatchHistory   = "watchHistory"
	FieldInterests      = "interests"
	FieldBadges         = "badges"
	FieldOnboarded      = "onboarded"
	FieldUpdatedAt      = "updatedAt"
	FieldFollowersCount = "stats.followersCount"
	FieldFollowingCount = "stats.followingCount"
	FieldLikesCount     = "stats.likesCount"
	FieldVideosCount    = "stats.videosCount"
	FieldCommentsCount  = "stats.commentsCount"
	FieldSavedCount     = "stats.savedCount"
)
