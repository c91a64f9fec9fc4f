package models

import "time"

// Post - пост в сообществе или в общей ленте (CommunityID == "").
// Автор денормализован на момент создания. Upvotes/Downvotes ведёт только журнал голосов,
// CommentCount - только создание/удаление комментариев.
type Post struct {
	ID             string    `bson:"_id,omitempty" json:"id"`
	Title          string    `bson:"title" json:"title"`
	Content        string    `bson:"content,omitempty" json:"content,omitempty"`
	Category       Category  `bson:"category" json:"category"`
	CommunityID    string    `bson:"community_id,omitempty" json:"community_id,omitempty"`
	AuthorID       string    `bson:"author_id" json:"author_id"`
	AuthorName     string    `bson:"author_name" json:"author_name"`
	AuthorPhotoURL string    `bson:"author_photo_url,omitempty" json:"author_photo_url,omitempty"`
	ImageURL       string    `bson:"image_url,omitempty" json:"image_url,omitempty"`
	Upvotes        int64     `bson:"upvotes" json:"upvotes"`
	Downvotes      int64     `bson:"downvotes" json:"downvotes"`
	CommentCount   int64     `bson:"comment_count" json:"comment_count"`
	Tags           []string  `bson:"tags,omitempty" json:"tags,omitempty"`
	IsTip          bool      `bson:"is_tip" json:"is_tip"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
}

// Score - производная оценка, в хранилище не пишется.
func (p Post) Score() int64 {
	return p.Upvotes - p.Downvotes
}
