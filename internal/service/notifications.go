package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pribylovaa/recycle-communities/internal/models"
	"github.com/pribylovaa/recycle-communities/internal/pkg/log"
	"github.com/pribylovaa/recycle-communities/internal/storage"
)

// previewLen - длина цитаты комментария в тексте уведомления (в рунах).
const previewLen = 120

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewLen {
		return s
	}

	r := []rune(s)
	return string(r[:previewLen]) + "…"
}

func newPostNotification(c models.Community, ev models.FanoutEvent, recipient string, now time.Time) models.Notification {
	return models.Notification{
		UserID:      recipient,
		Type:        models.NotificationNewPost,
		CommunityID: c.ID,
		PostID:      ev.PostID,
		Title:       "New post in " + c.Name,
		Message:     ev.PostTitle,
		CreatedAt:   now,
	}
}

func commentNotification(p models.Post, c models.Comment, now time.Time) models.Notification {
	return models.Notification{
		UserID:      p.AuthorID,
		Type:        models.NotificationNewComment,
		CommunityID: p.CommunityID,
		PostID:      p.ID,
		CommentID:   c.ID,
		Title:       c.AuthorName + " commented on " + p.Title,
		Message:     preview(c.Content),
		CreatedAt:   now,
	}
}

func replyNotification(p models.Post, c models.Comment, recipient string, now time.Time) models.Notification {
	return models.Notification{
		UserID:      recipient,
		Type:        models.NotificationNewReply,
		CommunityID: p.CommunityID,
		PostID:      p.ID,
		CommentID:   c.ID,
		Title:       c.AuthorName + " replied to your comment",
		Message:     preview(c.Content),
		CreatedAt:   now,
	}
}

func (s *Service) notificationsQuery(userID string, limit int64) storage.Query {
	return storage.Query{
		Filters: []storage.Filter{storage.Eq("user_id", userID)},
		OrderBy: "created_at",
		Desc:    true,
		Limit:   s.limitOrDefault(limit),
	}
}

// GetUserNotifications возвращает последние уведомления пользователя, новые первыми.
func (s *Service) GetUserNotifications(ctx context.Context, userID string, limit int64) ([]models.Notification, error) {
	const op = "service/notifications/GetUserNotifications"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	out := make([]models.Notification, 0)
	if err := s.store.Query(ctx, storage.Notifications, s.notificationsQuery(userID, limit), &out); err != nil {
		log.From(ctx).Error("storage error on list notifications", "op", op, "user_id", userID, "err", err)
		return nil, fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	return out, nil
}

// GetUnreadCount возвращает число непрочитанных уведомлений.
// Сначала смотрит в кэш, при промахе считает в хранилище и кладёт результат в кэш,
// если за время подсчёта счётчик не сбрасывали. Ошибки кэша не фатальны.
func (s *Service) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	const op = "service/notifications/GetUnreadCount"

	userID = strings.TrimSpace(userID)
	lg := log.From(ctx).With("op", op, "user_id", userID)

	if userID == "" {
		return 0, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	cached, cacheErr := s.cache.Get(ctx, userID)
	if cacheErr != nil {
		lg.Warn("unread_cache_get_failed", "err", cacheErr)
	}
	if cached.Hit {
		return cached.Count, nil
	}

	n, err := s.store.Count(ctx, storage.Notifications, storage.Eq("user_id", userID), storage.Eq("read", false))
	if err != nil {
		lg.Error("storage error on count unread", "err", err)
		return 0, fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	// Поколение неизвестно, если Get не удался: такой Set мог бы перекрыть сброс.
	if cacheErr == nil {
		if _, err := s.cache.Set(ctx, userID, n, cached.Gen); err != nil {
			lg.Warn("unread_cache_set_failed", "err", err)
		}
	}

	return n, nil
}

// MarkAsRead помечает уведомление прочитанным. Повторный вызов ничего не меняет.
func (s *Service) MarkAsRead(ctx context.Context, notificationID string) error {
	const op = "service/notifications/MarkAsRead"

	notificationID = strings.TrimSpace(notificationID)
	lg := log.From(ctx).With("op", op, "notification_id", notificationID)

	if notificationID == "" {
		lg.Warn("invalid argument: empty notification_id")
		return fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	var n models.Notification
	if err := s.store.Get(ctx, storage.Notifications, notificationID, &n); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			lg.Error("storage error on get notification", "err", err)
		}
		return fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	flipped, err := s.store.UpdateIf(ctx, storage.Notifications, notificationID,
		[]storage.Filter{storage.Eq("read", false)}, storage.Fields{"read": true})
	if err != nil {
		lg.Error("storage error on mark read", "err", err)
		return fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	if flipped {
		if err := s.cache.Invalidate(ctx, n.UserID); err != nil {
			lg.Warn("unread_cache_invalidate_failed", "err", err)
		}
	}

	return nil
}

// MarkAllAsRead помечает прочитанными все непрочитанные уведомления пользователя.
// Возвращает число изменённых.
func (s *Service) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	const op = "service/notifications/MarkAllAsRead"

	userID = strings.TrimSpace(userID)
	lg := log.From(ctx).With("op", op, "user_id", userID)

	if userID == "" {
		lg.Warn("invalid argument: empty user_id")
		return 0, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	n, err := s.store.UpdateWhere(ctx, storage.Notifications,
		[]storage.Filter{storage.Eq("user_id", userID), storage.Eq("read", false)},
		storage.Fields{"read": true})
	if err != nil {
		lg.Error("storage error on mark all read", "err", err)
		return 0, fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	if err := s.cache.Invalidate(ctx, userID); err != nil {
		lg.Warn("unread_cache_invalidate_failed", "err", err)
	}

	return n, nil
}

// Subscribe - живая выборка последних limit уведомлений пользователя.
// fn вызывается сразу и после каждого изменения (новое уведомление, смена прочитанности)
// с полной страницей, новые первыми. Возвращённая функция отменяет подписку.
// Если хранилище не смогло продолжить подписку, вызывается onErr (ErrUnavailable),
// и fn больше не вызывается.
func (s *Service) Subscribe(ctx context.Context, userID string, limit int64, fn func([]models.Notification), onErr func(error)) (func(), error) {
	const op = "service/notifications/Subscribe"

	userID = strings.TrimSpace(userID)
	lg := log.From(ctx).With("op", op, "user_id", userID)

	if userID == "" || fn == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	cancel, err := s.store.Subscribe(ctx, storage.Notifications, s.notificationsQuery(userID, limit),
		func(snap storage.Snapshot) {
			if err := snap.Err(); err != nil {
				lg.Error("notification subscription broken", "err", err)
				if onErr != nil {
					onErr(fmt.Errorf("%s: %w", op, mapStoreErr(err)))
				}
				return
			}

			page := make([]models.Notification, 0)
			if err := snap.Decode(&page); err != nil {
				lg.Error("notification snapshot decode failed", "err", err)
				return
			}
			fn(page)
		})
	if err != nil {
		lg.Error("storage error on subscribe", "err", err)
		return nil, fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	return cancel, nil
}
