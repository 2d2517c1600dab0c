package model

import (
	"time"

	"github.com/google/uuid"
)

type Video struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Category     string    `json:"category,omitempty"`
	Tags         []string  `json:"tags"`
	CreatorID    string    `json:"creatorId"`
	MediaURL     string    `json:"mediaUrl"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	StorageKeys  []string  `json:"storageKeys,omitempty"` // objects removed with the video
	Likes        int64     `json:"likes"`
	Views        int64     `json:"views"`
	Comments     int64     `json:"comments"`
	Shares       int64     `json:"shares"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// BeforeCreate assigns an ID and timestamps
func (v *Video) BeforeCreate() {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	if v.Tags == nil {
		v.Tags = []string{}
	}
}

// Collection returns the collection name
func (Video) Collection() string {
	return CollectionVideos
}

// Popularity is the search ranking score
func (v *Video) Popularity() int64 {
	return v.Likes + v.Views
}

// Video field paths
const (
	FieldVideoLikes    = "likes"
	FieldVideoViews    = "views"
	FieldVideoComments = "comments"
	FieldVideoShares   = "shares"
	FieldCreatedAt     = "createdAt"
	FieldCreatorID     = "creatorId"
	FieldVideoID       = "videoId"
)
