package model

import (
	"time"

	"github.com/google/uuid"
)

// Notification is an append-only record; only Read changes after creation.
type Notification struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	FromUserID   string    `json:"fromUserId"`
	FromUserName string    `json:"fromUserName,omitempty"`
	Type         string    `json:"type"`
	VideoID      string    `json:"videoId,omitempty"`
	CommentID    string    `json:"commentId,omitempty"`
	Comment      string    `json:"comment,omitempty"`
	Read         bool      `json:"read"`
	CreatedAt    time.Time `json:"createdAt"`
}

// BeforeCreate assigns an ID and timestamp
func (n *Notification) BeforeCreate() {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
}

// Collection returns the collection name
func (Notification) Collection() string {
	return CollectionNotifications
}

// Notification type constants
const (
	NotificationTypeLike        = "like"
	NotificationTypeSave        = "save"
	NotificationTypeFollow      = "follow"
	NotificationTypeComment     = "comment"
	NotificationTypeReply       = "reply"
	NotificationTypeShare       = "share"
	NotificationTypeCommentLike = "comment_like"
)

// Notification field paths
const (
	FieldRead = "read"
)
