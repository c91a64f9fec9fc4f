package models

import "time"

// Comment - комментарий к посту. Хранится плоско, дерево собирается при чтении по ParentID.
// Replies заполняется только сборщиком дерева и в хранилище не пишется.
type Comment struct {
	ID             string     `bson:"_id,omitempty" json:"id"`
	PostID         string     `bson:"post_id" json:"post_id"`
	Content        string     `bson:"content" json:"content"`
	AuthorID       string     `bson:"author_id" json:"author_id"`
	AuthorName     string     `bson:"author_name" json:"author_name"`
	AuthorPhotoURL string     `bson:"author_photo_url,omitempty" json:"author_photo_url,omitempty"`
	Upvotes        int64      `bson:"upvotes" json:"upvotes"`
	Downvotes      int64      `bson:"downvotes" json:"downvotes"`
	ParentID       string     `bson:"parent_id,omitempty" json:"parent_id,omitempty"`
	ReplyCount     int64      `bson:"reply_count" json:"reply_count"`
	CreatedAt      time.Time  `bson:"created_at" json:"created_at"`
	Replies        []*Comment `bson:"-" json:"replies"`
}
