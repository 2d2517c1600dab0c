package model

import (
	"strings"
	"time"
)

// Follow is the keyed ledger entry follows/{followerId}_{followeeId}. Its
// existence is the only source of truth for "follower follows followee".
type Follow struct {
	FollowerID string    `json:"followerId"`
	FolloweeID string    `json:"followeeId"`
	FollowedAt time.Time `json:"followedAt"`
}

var followIDEscaper = strings.NewReplacer("%", "%25", "_", "%5F")

// FollowID builds the document ID for a follow edge. Each part is escaped so
// the separator only appears between them and distinct pairs never collide.
func FollowID(followerID, followeeID string) string {
	return followIDEscaper.Replace(followerID) + "_" + followIDEscaper.Replace(followeeID)
}

// ID returns the document ID
func (f *Follow) ID() string {
	return FollowID(f.FollowerID, f.FolloweeID)
}

// Collection returns the collection name
func (Follow) Collection() string {
	return CollectionFollows
}

// Follow field paths
const (
	FieldFollowerID = "followerId"
	FieldFolloweeID = "followeeId"
	FieldFollowedAt = "followedAt"
)
