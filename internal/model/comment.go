package model

import (
	"time"

	"github.com/google/uuid"
)

// Comment is a top-level comment (ReplyToID empty) or a reply. Replies are
// flat documents pointing at their top-level parent.
type Comment struct {
	ID         string     `json:"id"`
	VideoID    string     `json:"videoId"`
	UserID     string     `json:"userId"`
	UserName   string     `json:"userName,omitempty"`
	UserAvatar string     `json:"userAvatar,omitempty"`
	Text       string     `json:"text"`
	ReplyToID  string     `json:"replyToId,omitempty"`
	Likes      int64      `json:"likes"`
	LikedBy    []string   `json:"likedBy"`
	CreatedAt  time.Time  `json:"createdAt"`
	EditedAt   *time.Time `json:"editedAt,omitempty"`

	// Replies holds the legacy embedded representation. New replies are never
	// written here; MigrateLegacyReplies moves existing ones out.
	Replies []LegacyReply `json:"replies,omitempty"`
}

// LegacyReply is a reply embedded in its parent comment.
type LegacyReply struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	Text      string    `json:"text"`
	Likes     int64     `json:"likes"`
	LikedBy   []string  `json:"likedBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// BeforeCreate assigns an ID and timestamps
func (c *Comment) BeforeCreate() {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.LikedBy == nil {
		c.LikedBy = []string{}
	}
}

// Collection returns the collection name
func (Comment) Collection() string {
	return CollectionComments
}

// IsReply reports whether the comment answers another comment
func (c *Comment) IsReply() bool {
	return c.ReplyToID != ""
}

// Comment field paths
const (
	FieldReplyToID      = "replyToId"
	FieldCommentText    = "text"
	FieldCommentLikes   = "likes"
	FieldCommentLikedBy = "likedBy"
	FieldEditedAt       = "editedAt"
	FieldReplies        = "replies"
	FieldUserID         = "userId"
)
