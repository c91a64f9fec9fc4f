package models

import "time"

// NotificationPreference - настройка уведомлений участника сообщества.
type NotificationPreference string

// Рассылку о новых постах отсекает только PreferenceMute. Остальные значения хранятся
// для клиента и на рассылку не влияют.
const (
	PreferenceAll     NotificationPreference = "all"
	PreferencePopular NotificationPreference = "popular"
	// PreferenceOff - клиентская настройка: уведомления о новых постах всё равно создаются.
	// Чтобы их не получать, нужен PreferenceMute.
	PreferenceOff     NotificationPreference = "off"
	// PreferenceMute исключает участника из рассылки о новых постах.
	PreferenceMute    NotificationPreference = "mute"
)

// Valid проверяет, что настройка входит в допустимый набор.
func (p NotificationPreference) Valid() bool {
	switch p {
	case PreferenceAll, PreferencePopular, PreferenceOff, PreferenceMute:
		return true
	}

	return false
}

// Membership - участие пользователя в сообществе; ID = MembershipKey(CommunityID, UserID).
// Наличие LeftAt означает, что пользователь вышел (мягкое удаление).
type Membership struct {
	ID                     string                 `bson:"_id,omitempty" json:"id"`
	CommunityID            string                 `bson:"community_id" json:"community_id"`
	UserID                 string                 `bson:"user_id" json:"user_id"`
	JoinedAt               time.Time              `bson:"joined_at" json:"joined_at"`
	LeftAt                 *time.Time             `bson:"left_at" json:"left_at,omitempty"`
	NotificationPreference NotificationPreference `bson:"notification_preference" json:"notification_preference"`
}

// Active сообщает, что участие действующее.
func (m Membership) Active() bool {
	return m.LeftAt == nil
}
