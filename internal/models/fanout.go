package models

import "time"

// FanoutStatus - состояние события в outbox.
type FanoutStatus string

const (
	FanoutPending    FanoutStatus = "pending"
	FanoutProcessing FanoutStatus = "processing"
	FanoutDone       FanoutStatus = "done"
	FanoutFailed     FanoutStatus = "failed"
)

// FanoutEvent - запись outbox о новом посте в сообществе.
// Воркер захватывает событие переводом pending -> processing и рассылает уведомления участникам.
type FanoutEvent struct {
	ID          string       `bson:"_id,omitempty" json:"id"`
	CommunityID string       `bson:"community_id" json:"community_id"`
	PostID      string       `bson:"post_id" json:"post_id"`
	PostTitle   string       `bson:"post_title" json:"post_title"`
	ActorID     string       `bson:"actor_id" json:"actor_id"`
	Status      FanoutStatus `bson:"status" json:"status"`
	Attempts    int64        `bson:"attempts" json:"attempts"`
	LastError   string       `bson:"last_error,omitempty" json:"last_error,omitempty"`
	ClaimedAt   *time.Time   `bson:"claimed_at" json:"claimed_at,omitempty"`
	CreatedAt   time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `bson:"updated_at" json:"updated_at"`
}
