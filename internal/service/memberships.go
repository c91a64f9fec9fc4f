package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pribylovaa/recycle-communities/internal/models"
	"github.com/pribylovaa/recycle-communities/internal/pkg/log"
	"github.com/pribylovaa/recycle-communities/internal/storage"
)

// Join добавляет пользователя в сообщество и увеличивает member_count.
// Повторный вызов для действующего участника ничего не меняет.
// Пустая preference означает "all" для нового участника и сохранение прежней при возвращении.
func (s *Service) Join(ctx context.Context, communityID, userID string, pref models.NotificationPreference) error {
	const op = "service/memberships/Join"

	communityID, userID = strings.TrimSpace(communityID), strings.TrimSpace(userID)
	lg := log.From(ctx).With("op", op, "community_id", communityID, "user_id", userID)

	if communityID == "" || userID == "" {
		lg.Warn("invalid argument: empty community_id or user_id")
		return fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	if pref != "" && !pref.Valid() {
		lg.Warn("invalid argument: bad notification preference", "preference", pref)
		return fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	var community models.Community
	if err := s.store.Get(ctx, storage.Communities, communityID, &community); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			lg.Error("storage error on get community", "err", err)
		}
		return fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	if _, err := s.join(ctx, communityID, userID, pref, true); err != nil {
		lg.Error("join failed", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// join переводит участие в действующее compare-and-set'ом по left_at.
// countIt=false используется при создании сообщества: member_count уже засеян единицей.
// Возвращает true, если переход произошёл.
func (s *Service) join(ctx context.Context, communityID, userID string, pref models.NotificationPreference, countIt bool) (bool, error) {
	key := models.MembershipKey(communityID, userID)

	for attempt := 0; attempt < s.maxRetries(); attempt++ {
		now := s.timestamp()

		var current models.Membership
		err := s.store.Get(ctx, storage.Memberships, key, &current)

		var (
			joined     bool
			prevLeftAt *time.Time
		)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			if pref == "" {
				pref = models.PreferenceAll
			}

			err = s.store.Insert(ctx, storage.Memberships, key, models.Membership{
				CommunityID:            communityID,
				UserID:                 userID,
				JoinedAt:               now,
				NotificationPreference: pref,
			})
			if errors.Is(err, storage.ErrConflict) {
				continue
			}
			if err != nil {
				return false, mapStoreErr(err)
			}
			joined = true
		case err != nil:
			return false, mapStoreErr(err)
		case current.Active():
			return false, nil
		default:
			prevLeftAt = current.LeftAt
			fields := storage.Fields{"left_at": nil, "joined_at": now}
			if pref != "" {
				fields["notification_preference"] = pref
			}

			joined, err = s.store.UpdateIf(ctx, storage.Memberships, key,
				[]storage.Filter{storage.Ne("left_at", nil)}, fields)
			if err != nil {
				return false, mapStoreErr(err)
			}
			if !joined {
				continue
			}
		}

		if countIt {
			if err := s.store.Increment(ctx, storage.Communities, communityID, storage.Deltas{"member_count": 1}); err != nil {
				left := now
				if prevLeftAt != nil {
					left = *prevLeftAt
				}
				s.revertMembership(ctx, key, storage.IsNull("left_at"), left)
				return false, mapStoreErr(err)
			}
		}

		return true, nil
	}

	return false, ErrAborted
}

// Leave помечает участие завершённым (left_at) и уменьшает member_count.
// Если пользователь не участник, ничего не происходит.
func (s *Service) Leave(ctx context.Context, communityID, userID string) error {
	const op = "service/memberships/Leave"

	communityID, userID = strings.TrimSpace(communityID), strings.TrimSpace(userID)
	lg := log.From(ctx).With("op", op, "community_id", communityID, "user_id", userID)

	if communityID == "" || userID == "" {
		lg.Warn("invalid argument: empty community_id or user_id")
		return fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	key := models.MembershipKey(communityID, userID)
	left, err := s.store.UpdateIf(ctx, storage.Memberships, key,
		[]storage.Filter{storage.IsNull("left_at")},
		storage.Fields{"left_at": s.timestamp()},
	)
	if err != nil {
		lg.Error("storage error on leave", "err", err)
		return fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	if !left {
		return nil
	}

	if err := s.store.Increment(ctx, storage.Communities, communityID, storage.Deltas{"member_count": -1}); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}

		lg.Error("member_count decrement failed", "err", err)
		s.revertMembership(ctx, key, storage.Ne("left_at", nil), nil)
		return fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	return nil
}

// revertMembership возвращает left_at прежнее значение после неудачного сдвига member_count.
// cond - состояние, в которое запись перевёл неудавшийся вызов.
func (s *Service) revertMembership(ctx context.Context, key string, cond storage.Filter, leftAt any) {
	ok, err := s.store.UpdateIf(ctx, storage.Memberships, key,
		[]storage.Filter{cond},
		storage.Fields{"left_at": leftAt},
	)
	if err != nil || !ok {
		log.From(ctx).Error("membership revert failed", "key", key, "ok", ok, "err", err)
	}
}

// IsMember сообщает, есть ли у пользователя действующее участие.
func (s *Service) IsMember(ctx context.Context, communityID, userID string) (bool, error) {
	const op = "service/memberships/IsMember"

	m, err := s.membership(ctx, communityID, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return m.Active(), nil
}

// GetMembership возвращает запись участия (в том числе завершённую).
func (s *Service) GetMembership(ctx context.Context, communityID, userID string) (*models.Membership, error) {
	const op = "service/memberships/GetMembership"

	m, err := s.membership(ctx, communityID, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return m, nil
}

func (s *Service) membership(ctx context.Context, communityID, userID string) (*models.Membership, error) {
	communityID, userID = strings.TrimSpace(communityID), strings.TrimSpace(userID)
	if communityID == "" || userID == "" {
		return nil, ErrInvalidArgument
	}

	var m models.Membership
	if err := s.store.Get(ctx, storage.Memberships, models.MembershipKey(communityID, userID), &m); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.From(ctx).Error("storage error on get membership", "err", err)
		}
		return nil, mapStoreErr(err)
	}

	return &m, nil
}

// SetNotificationPreference меняет настройку уведомлений действующего участника.
// Не участник - ErrNotFound.
func (s *Service) SetNotificationPreference(ctx context.Context, communityID, userID string, pref models.NotificationPreference) error {
	const op = "service/memberships/SetNotificationPreference"

	communityID, userID = strings.TrimSpace(communityID), strings.TrimSpace(userID)
	lg := log.From(ctx).With("op", op, "community_id", communityID, "user_id", userID, "preference", pref)

	if communityID == "" || userID == "" || !pref.Valid() {
		lg.Warn("invalid argument")
		return fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	ok, err := s.store.UpdateIf(ctx, storage.Memberships, models.MembershipKey(communityID, userID),
		[]storage.Filter{storage.IsNull("left_at")},
		storage.Fields{"notification_preference": pref},
	)
	if err != nil {
		lg.Error("storage error on set preference", "err", err)
		return fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	if !ok {
		lg.Warn("not a member")
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	return nil
}

// ListMembers возвращает действующих участников в порядке вступления.
func (s *Service) ListMembers(ctx context.Context, communityID string, limit int64) ([]models.Membership, error) {
	const op = "service/memberships/ListMembers"

	communityID = strings.TrimSpace(communityID)
	if communityID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	var out []models.Membership
	err := s.store.Query(ctx, storage.Memberships, storage.Query{
		Filters: []storage.Filter{storage.Eq("community_id", communityID), storage.IsNull("left_at")},
		OrderBy: "joined_at",
		Limit:   s.limitOrDefault(limit),
	}, &out)
	if err != nil {
		log.From(ctx).Error("storage error on list members", "op", op, "err", err)
		return nil, fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	return out, nil
}

// ListUserCommunities возвращает сообщества, где пользователь - действующий участник.
// Сообщества, удалённые между выборками, пропускаются.
func (s *Service) ListUserCommunities(ctx context.Context, userID string) ([]models.Community, error) {
	const op = "service/memberships/ListUserCommunities"

	userID = strings.TrimSpace(userID)
	lg := log.From(ctx).With("op", op, "user_id", userID)

	if userID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	var memberships []models.Membership
	err := s.store.Query(ctx, storage.Memberships, storage.Query{
		Filters: []storage.Filter{storage.Eq("user_id", userID), storage.IsNull("left_at")},
		OrderBy: "joined_at",
		Limit:   s.cfg.Limits.Max,
	}, &memberships)
	if err != nil {
		lg.Error("storage error on list memberships", "err", err)
		return nil, fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	out := make([]models.Community, 0, len(memberships))
	for _, m := range memberships {
		var c models.Community
		if err := s.store.Get(ctx, storage.Communities, m.CommunityID, &c); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}

			lg.Error("storage error on get community", "community_id", m.CommunityID, "err", err)
			return nil, fmt.Errorf("%s: %w", op, mapStoreErr(err))
		}
		out = append(out, c)
	}

	return out, nil
}
