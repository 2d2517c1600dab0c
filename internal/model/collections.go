package model

// Collection names
const (
	CollectionUsers         = "users"
	CollectionVideos        = "videos"
	CollectionComments      = "comments"
	CollectionNotifications = "notifications"
	CollectionFollows       = "follows"
	CollectionShares        = "shares"
)
