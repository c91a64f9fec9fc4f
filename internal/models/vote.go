package models

import "time"

// VoteType - направление голоса. VoteNone - «надгробие»: запись остаётся, голос снят.
type VoteType string

const (
	VoteNone VoteType = ""
	VoteUp   VoteType = "upvote"
	VoteDown VoteType = "downvote"
)

// Valid проверяет, что тип голоса можно запросить (none запросить нельзя).
func (t VoteType) Valid() bool {
	return t == VoteUp || t == VoteDown
}

// CounterField - поле счётчика поста, соответствующее типу голоса.
func (t VoteType) CounterField() string {
	switch t {
	case VoteUp:
		return "upvotes"
	case VoteDown:
		return "downvotes"
	}

	return ""
}

// Vote - единственная запись голоса на пару (пост, пользователь); ID = VoteKey(PostID, UserID).
type Vote struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	PostID    string    `bson:"post_id" json:"post_id"`
	UserID    string    `bson:"user_id" json:"user_id"`
	Type      VoteType  `bson:"type" json:"type"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
