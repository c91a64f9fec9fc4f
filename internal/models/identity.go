// Package models содержит доменные сущности сервиса сообществ.
package models

import (
	"strings"

	"github.com/google/uuid"
)

// keyNamespace - пространство имён UUIDv5 для составных ключей.
// Менять нельзя: от него зависят идентификаторы уже сохранённых голосов и участников.
var keyNamespace = uuid.MustParse("6f1d3c8e-2b7a-4d59-9a61-3f0c5e8b7d24")

// Identity - аутентифицированный пользователь, переданный вызывающей стороной.
// Сервис не проверяет личность, только сохраняет снимок и сравнивает UserID для проверок владения.
type Identity struct {
	UserID      string
	DisplayName string
	PhotoURL    string
}

// Valid сообщает, что идентификатор пользователя задан.
func (i Identity) Valid() bool {
	return strings.TrimSpace(i.UserID) != ""
}

// CompositeKey детерминированно выводит идентификатор документа из пары естественных ключей.
// Одинаковые (kind, a, b) всегда дают один и тот же id, поэтому повторная запись
// попадает в тот же слот, а не создаёт дубликат.
func CompositeKey(kind, a, b string) string {
	return uuid.NewSHA1(keyNamespace, []byte(kind+"\x00"+a+"\x00"+b)).String()
}

// VoteKey - идентификатор голоса пользователя за пост.
func VoteKey(postID, userID string) string {
	return CompositeKey("vote", postID, userID)
}

// MembershipKey - идентификатор участия пользователя в сообществе.
func MembershipKey(communityID, userID string) string {
	return CompositeKey("membership", communityID, userID)
}

// NotificationKey - идентификатор уведомления получателю по событию.
func NotificationKey(eventID, recipientID string) string {
	return CompositeKey("notification", eventID, recipientID)
}
