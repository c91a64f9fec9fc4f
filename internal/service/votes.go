package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pribylovaa/recycle-communities/internal/metrics"
	"github.com/pribylovaa/recycle-communities/internal/models"
	"github.com/pribylovaa/recycle-communities/internal/pkg/log"
	"github.com/pribylovaa/recycle-communities/internal/storage"
)

// voteTransition - результат применения запрошенного голоса к текущему.
type voteTransition struct {
	prev   models.VoteType
	next   models.VoteType
	deltas storage.Deltas
	kind   string
}

// transition вычисляет новое состояние голоса и сдвиги счётчиков поста:
//   - голоса не было: +1 к счётчику type;
//   - тот же type: голос снимается, -1 к его счётчику;
//   - другой type: -1 к старому и +1 к новому одним $inc.
func transition(prev, requested models.VoteType) voteTransition {
	switch prev {
	case models.VoteNone:
		return voteTransition{
			prev:   prev,
			next:   requested,
			deltas: storage.Deltas{requested.CounterField(): 1},
			kind:   string(requested),
		}
	case requested:
		return voteTransition{
			prev:   prev,
			next:   models.VoteNone,
			deltas: storage.Deltas{requested.CounterField(): -1},
			kind:   "retract",
		}
	default:
		return voteTransition{
			prev:   prev,
			next:   requested,
			deltas: storage.Deltas{prev.CounterField(): -1, requested.CounterField(): 1},
			kind:   "switch",
		}
	}
}

// Vote применяет голос пользователя за пост.
//
// Запись голоса живёт под составным ключом VoteKey(postID, userID) и меняется только
// compare-and-set по её текущему типу, поэтому два конкурентных голоса одного
// пользователя не могут оба пройти ветку «голоса нет». Счётчики поста двигаются
// атомарным $inc только после успешного перехода записи.
//
// Ошибки:
//   - ErrInvalidArgument - пустые id или type не upvote/downvote;
//   - ErrNotFound - поста нет (ничего не пишется);
//   - ErrAborted - конкурентные записи не дали выполнить переход за vote.max_retries попыток;
//   - ErrUnavailable - ошибка хранилища.
func (s *Service) Vote(ctx context.Context, postID, userID string, voteType models.VoteType) error {
	const op = "service/votes/Vote"

	postID, userID = strings.TrimSpace(postID), strings.TrimSpace(userID)
	lg := log.From(ctx).With("op", op, "post_id", postID, "user_id", userID, "type", voteType)

	if postID == "" || userID == "" {
		lg.Warn("invalid argument: empty post_id or user_id")
		return fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	if !voteType.Valid() {
		lg.Warn("invalid argument: bad vote type")
		return fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	var post models.Post
	if err := s.store.Get(ctx, storage.Posts, postID, &post); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("post not found")
		} else {
			lg.Error("storage error on get post", "err", err)
		}

		return fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	key := models.VoteKey(postID, userID)

	for attempt := 0; attempt < s.maxRetries(); attempt++ {
		if attempt > 0 {
			metrics.VoteRetries.Inc()
		}

		tr, applied, err := s.applyVote(ctx, key, postID, userID, voteType)
		if err != nil {
			lg.Error("storage error on vote record", "err", err)
			return fmt.Errorf("%s: %w", op, mapStoreErr(err))
		}

		if !applied {
			continue
		}

		if err := s.store.Increment(ctx, storage.Posts, postID, tr.deltas); err != nil {
			lg.Error("storage error on counters, reverting vote record", "err", err)
			s.revertVote(ctx, key, tr.next, tr.prev)
			return fmt.Errorf("%s: %w", op, mapStoreErr(err))
		}

		metrics.Votes.WithLabelValues(tr.kind).Inc()
		return nil
	}

	lg.Warn("vote aborted: too many concurrent writers", "attempts", s.maxRetries())
	return fmt.Errorf("%s: %w", op, ErrAborted)
}

// applyVote выполняет одну попытку перехода записи голоса.
// applied=false означает, что запись изменили конкурентно и попытку нужно повторить.
func (s *Service) applyVote(ctx context.Context, key, postID, userID string, requested models.VoteType) (voteTransition, bool, error) {
	now := s.timestamp()

	var current models.Vote
	err := s.store.Get(ctx, storage.Votes, key, &current)

	switch {
	case errors.Is(err, storage.ErrNotFound):
		tr := transition(models.VoteNone, requested)
		err := s.store.Insert(ctx, storage.Votes, key, models.Vote{
			PostID:    postID,
			UserID:    userID,
			Type:      tr.next,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if errors.Is(err, storage.ErrConflict) {
			return voteTransition{}, false, nil
		}
		if err != nil {
			return voteTransition{}, false, err
		}

		return tr, true, nil
	case err != nil:
		return voteTransition{}, false, err
	}

	tr := transition(current.Type, requested)
	ok, err := s.store.UpdateIf(ctx, storage.Votes, key,
		[]storage.Filter{storage.Eq("type", current.Type)},
		storage.Fields{"type": tr.next, "updated_at": now},
	)
	if err != nil {
		return voteTransition{}, false, err
	}

	return tr, ok, nil
}

// revertVote возвращает запись голоса в исходное состояние, если счётчики не удалось сдвинуть.
func (s *Service) revertVote(ctx context.Context, key string, from, to models.VoteType) {
	ok, err := s.store.UpdateIf(ctx, storage.Votes, key,
		[]storage.Filter{storage.Eq("type", from)},
		storage.Fields{"type": to, "updated_at": s.timestamp()},
	)
	if err != nil || !ok {
		log.From(ctx).Error("vote record revert failed", "key", key, "ok", ok, "err", err)
	}
}

// GetUserVote возвращает текущий голос пользователя за пост или VoteNone.
// Только чтение для отрисовки состояния; Vote сам перечитывает запись.
func (s *Service) GetUserVote(ctx context.Context, postID, userID string) (models.VoteType, error) {
	const op = "service/votes/GetUserVote"

	postID, userID = strings.TrimSpace(postID), strings.TrimSpace(userID)
	if postID == "" || userID == "" {
		return models.VoteNone, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	var v models.Vote
	if err := s.store.Get(ctx, storage.Votes, models.VoteKey(postID, userID), &v); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.VoteNone, nil
		}

		log.From(ctx).Error("storage error on get vote", "op", op, "err", err)
		return models.VoteNone, fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	return v.Type, nil
}
