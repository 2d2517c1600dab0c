package model

import (
	"time"

	"github.com/google/uuid"
)

// Share records one share of a video to an external channel.
type Share struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	VideoID   string    `json:"videoId"`
	Channel   string    `json:"channel"` // link, whatsapp, instagram, ...
	CreatedAt time.Time `json:"createdAt"`
}

// BeforeCreate assigns an ID and timestamp
func (s *Share) BeforeCreate() {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.Channel == "" {
		s.Channel = ShareChannelLink
	}
}

// Collection returns the collection name
func (Share) Collection() string {
	return CollectionShares
}

const ShareChannelLink = "link"
