package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pribylovaa/recycle-communities/internal/metrics"
	"github.com/pribylovaa/recycle-communities/internal/models"
	"github.com/pribylovaa/recycle-communities/internal/pkg/log"
	"github.com/pribylovaa/recycle-communities/internal/storage"
)

// outboxBatch - сколько событий outbox забирается за один проход воркера.
const outboxBatch = 100

// NotifyCommunityMembers пишет уведомление new_post каждому действующему участнику
// сообщества, кроме автора поста и участников с настройкой mute.
// Идентификатор уведомления выводится из (postID, получатель), поэтому повторный
// вызов для того же поста не создаёт дублей и не сбрасывает прочитанность.
// Возвращает число реально созданных уведомлений.
func (s *Service) NotifyCommunityMembers(ctx context.Context, communityID, postID, postTitle, actorID string) (int64, error) {
	const op = "service/fanout/NotifyCommunityMembers"

	communityID, postID = strings.TrimSpace(communityID), strings.TrimSpace(postID)
	if communityID == "" || postID == "" {
		return 0, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	n, err := s.notifyMembers(ctx, models.FanoutEvent{
		ID:          postID,
		CommunityID: communityID,
		PostID:      postID,
		PostTitle:   postTitle,
		ActorID:     strings.TrimSpace(actorID),
	})
	if err != nil {
		return n, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func (s *Service) notifyMembers(ctx context.Context, ev models.FanoutEvent) (int64, error) {
	var community models.Community
	if err := s.store.Get(ctx, storage.Communities, ev.CommunityID, &community); err != nil {
		return 0, mapStoreErr(err)
	}

	var members []models.Membership
	err := s.store.Query(ctx, storage.Memberships, storage.Query{
		Filters: []storage.Filter{
			storage.Eq("community_id", ev.CommunityID),
			storage.IsNull("left_at"),
			storage.Ne("user_id", ev.ActorID),
			storage.Ne("notification_preference", models.PreferenceMute),
		},
		OrderBy: "joined_at",
	}, &members)
	if err != nil {
		return 0, mapStoreErr(err)
	}

	now := s.timestamp()
	batch := make([]models.Notification, 0, len(members))
	for _, m := range members {
		batch = append(batch, newPostNotification(community, ev, m.UserID, now))
	}

	return s.writeNotifications(ctx, ev.ID, "fanout", batch)
}

// writeNotifications пишет уведомления пакетами не больше fanout.batch_size, пакеты - по очереди.
// Идентификатор = NotificationKey(eventID, получатель), уже существующие пропускаются.
func (s *Service) writeNotifications(ctx context.Context, eventID, source string, batch []models.Notification) (int64, error) {
	size := s.cfg.Fanout.BatchSize
	if size <= 0 || size > storage.MaxBatchSize {
		size = storage.MaxBatchSize
	}

	var total int64
	for start := 0; start < len(batch); start += size {
		end := min(start+size, len(batch))

		docs := make([]storage.Keyed, 0, end-start)
		recipients := make([]string, 0, end-start)
		for _, n := range batch[start:end] {
			docs = append(docs, storage.Keyed{ID: models.NotificationKey(eventID, n.UserID), Doc: n})
			recipients = append(recipients, n.UserID)
		}

		inserted, err := s.store.InsertMany(ctx, storage.Notifications, docs)
		if err != nil {
			return total, mapStoreErr(err)
		}
		total += inserted
		metrics.NotificationsWritten.WithLabelValues(source).Add(float64(inserted))

		if err := s.cache.Invalidate(ctx, recipients...); err != nil {
			log.From(ctx).Warn("unread_cache_invalidate_failed", "event_id", eventID, "err", err)
		}
	}

	return total, nil
}

// enqueueFanout записывает событие рассылки в outbox. Id события совпадает с id поста,
// поэтому на пост приходится ровно одно событие.
func (s *Service) enqueueFanout(ctx context.Context, post models.Post) (models.FanoutEvent, error) {
	now := s.timestamp()
	ev := models.FanoutEvent{
		ID:          post.ID,
		CommunityID: post.CommunityID,
		PostID:      post.ID,
		PostTitle:   post.Title,
		ActorID:     post.AuthorID,
		Status:      models.FanoutPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.store.Insert(ctx, storage.FanoutEvents, ev.ID, ev)
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		return ev, err
	}

	return ev, nil
}

// claim захватывает событие compare-and-set'ом по статусу (и claimed_at для просроченных).
func (s *Service) claim(ctx context.Context, ev models.FanoutEvent) (models.FanoutEvent, bool, error) {
	cond := []storage.Filter{storage.Eq("status", ev.Status)}
	if ev.Status == models.FanoutProcessing && ev.ClaimedAt != nil {
		cond = append(cond, storage.Eq("claimed_at", *ev.ClaimedAt))
	}

	now := s.timestamp()
	ok, err := s.store.UpdateIf(ctx, storage.FanoutEvents, ev.ID, cond, storage.Fields{
		"status":     models.FanoutProcessing,
		"claimed_at": now,
		"updated_at": now,
	})
	if err != nil || !ok {
		return ev, false, err
	}

	ev.Status = models.FanoutProcessing
	ev.ClaimedAt = &now

	return ev, true, nil
}

// dispatch захватывает и обрабатывает одно событие. Занятое другим воркером событие пропускается.
func (s *Service) dispatch(ctx context.Context, ev models.FanoutEvent) error {
	claimed, ok, err := s.claim(ctx, ev)
	if err != nil {
		return mapStoreErr(err)
	}

	if !ok {
		return nil
	}

	return s.process(ctx, claimed)
}

// process выполняет рассылку захваченного события и фиксирует итог.
// Ошибка возвращает событие в pending до fanout.max_attempts попыток, затем failed.
func (s *Service) process(ctx context.Context, ev models.FanoutEvent) error {
	lg := log.From(ctx).With("event_id", ev.ID, "community_id", ev.CommunityID, "attempt", ev.Attempts+1)
	started := time.Now()

	n, err := s.fanOutEvent(ctx, ev)
	metrics.FanoutDuration.Observe(time.Since(started).Seconds())

	fields := storage.Fields{"updated_at": s.timestamp(), "claimed_at": nil}
	outcome := "done"

	if err == nil {
		fields["status"] = models.FanoutDone
		fields["last_error"] = ""
	} else {
		attempts := ev.Attempts + 1
		fields["attempts"] = attempts
		fields["last_error"] = err.Error()
		fields["status"] = models.FanoutPending
		outcome = "retry"

		if attempts >= s.cfg.Fanout.MaxAttempts {
			fields["status"] = models.FanoutFailed
			outcome = "failed"
		}
	}

	metrics.FanoutEvents.WithLabelValues(outcome).Inc()

	ok, uerr := s.store.UpdateIf(ctx, storage.FanoutEvents, ev.ID, []storage.Filter{
		storage.Eq("status", models.FanoutProcessing),
		storage.Eq("claimed_at", *ev.ClaimedAt),
	}, fields)
	if uerr != nil || !ok {
		lg.Warn("fanout_status_update_failed", "ok", ok, "err", uerr)
	}

	if err != nil {
		lg.Warn("fanout_failed", "outcome", outcome, "err", err)
		return err
	}

	lg.Info("fanout_done", "recipients", n, "dur", time.Since(started))
	return nil
}

// fanOutEvent рассылает событие; удалённый пост или сообщество - пустая рассылка без ошибки.
func (s *Service) fanOutEvent(ctx context.Context, ev models.FanoutEvent) (int64, error) {
	var post models.Post
	if err := s.store.Get(ctx, storage.Posts, ev.PostID, &post); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, mapStoreErr(err)
	}

	n, err := s.notifyMembers(ctx, ev)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}

	return n, err
}

// ProcessOutbox обрабатывает пачку ожидающих событий и событий с истёкшей арендой.
// Возвращает число успешно обработанных событий.
func (s *Service) ProcessOutbox(ctx context.Context) (int, error) {
	const op = "service/fanout/ProcessOutbox"

	var pending []models.FanoutEvent
	err := s.store.Query(ctx, storage.FanoutEvents, storage.Query{
		Filters: []storage.Filter{storage.Eq("status", models.FanoutPending)},
		OrderBy: "created_at",
		Limit:   outboxBatch,
	}, &pending)
	if err != nil {
		return 0, fmt.Errorf("%s: pending: %w", op, mapStoreErr(err))
	}

	var stale []models.FanoutEvent
	err = s.store.Query(ctx, storage.FanoutEvents, storage.Query{
		Filters: []storage.Filter{
			storage.Eq("status", models.FanoutProcessing),
			storage.Lt("claimed_at", s.timestamp().Add(-s.cfg.Fanout.Lease)),
		},
		OrderBy: "created_at",
		Limit:   outboxBatch,
	}, &stale)
	if err != nil {
		return 0, fmt.Errorf("%s: stale: %w", op, mapStoreErr(err))
	}

	var done int
	for _, ev := range append(pending, stale...) {
		if ctx.Err() != nil {
			break
		}

		if err := s.dispatch(ctx, ev); err == nil {
			done++
		}
	}

	return done, nil
}

// StartFanout периодически разбирает outbox до отмены ctx.
func (s *Service) StartFanout(ctx context.Context) error {
	const op = "service/fanout/StartFanout"

	interval := s.cfg.Fanout.Interval
	if interval <= 0 {
		return fmt.Errorf("%s: non-positive interval", op)
	}

	lg := log.From(ctx)
	lg.Info("fanout_start",
		slog.String("op", op),
		slog.Duration("interval", interval),
		slog.Int("batch_size", s.cfg.Fanout.BatchSize),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.ProcessOutbox(ctx); err != nil && ctx.Err() == nil {
			lg.Warn("fanout_tick_error",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			lg.Info("fanout_stop", slog.String("op", op))
			return nil
		case <-ticker.C:
		}
	}
}
