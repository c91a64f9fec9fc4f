package models

import "time"

// NotificationType - вид уведомления.
type NotificationType string

const (
	NotificationNewPost    NotificationType = "new_post"
	NotificationNewComment NotificationType = "new_comment"
	NotificationNewReply   NotificationType = "new_reply"
)

// Notification - уведомление получателю UserID. После создания меняется только Read.
type Notification struct {
	ID          string           `bson:"_id,omitempty" json:"id"`
	UserID      string           `bson:"user_id" json:"user_id"`
	Type        NotificationType `bson:"type" json:"type"`
	CommunityID string           `bson:"community_id,omitempty" json:"community_id,omitempty"`
	PostID      string           `bson:"post_id,omitempty" json:"post_id,omitempty"`
	CommentID   string           `bson:"comment_id,omitempty" json:"comment_id,omitempty"`
	Title       string           `bson:"title" json:"title"`
	Message     string           `bson:"message" json:"message"`
	Read        bool             `bson:"read" json:"read"`
	CreatedAt   time.Time        `bson:"created_at" json:"created_at"`
}
