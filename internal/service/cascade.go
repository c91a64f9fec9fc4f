package service

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/pribylovaa/recycle-communities/internal/metrics"
	"github.com/pribylovaa/recycle-communities/internal/pkg/log"
	"github.com/pribylovaa/recycle-communities/internal/storage"
)

// leaf - зависимый документ, удаляемый каскадом.
type leaf struct {
	collection string
	id         string
}

// deleteLeaves удаляет документы независимыми операциями с ограниченным параллелизмом
// и дожидается всех. Сбой отдельного удаления логируется и не прерывает остальные:
// осиротевшие листья предпочтительнее заблокированного основного удаления.
// Возвращает число неудачных удалений.
func (s *Service) deleteLeaves(ctx context.Context, leaves []leaf) int64 {
	lg := log.From(ctx)

	var failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.cascadeParallel())

	for _, l := range leaves {
		g.Go(func() error {
			err := s.store.Delete(ctx, l.collection, l.id)
			if err == nil || errors.Is(err, storage.ErrNotFound) {
				return nil
			}

			failed.Add(1)
			metrics.CascadeFailures.WithLabelValues(l.collection).Inc()
			lg.Error("cascade_item_failed", "collection", l.collection, "id", l.id, "err", err)
			return nil
		})
	}

	_ = g.Wait()

	return failed.Load()
}

func (s *Service) cascadeParallel() int {
	if s.cfg.Limits.CascadeParallel <= 0 {
		return 1
	}

	return s.cfg.Limits.CascadeParallel
}

// collectIDs выбирает идентификаторы всех документов коллекции по фильтрам.
func (s *Service) collectIDs(ctx context.Context, collection string, filters ...storage.Filter) ([]leaf, error) {
	var docs []idOnly
	if err := s.store.Query(ctx, collection, storage.Query{Filters: filters}, &docs); err != nil {
		return nil, err
	}

	out := make([]leaf, 0, len(docs))
	for _, d := range docs {
		out = append(out, leaf{collection: collection, id: d.ID})
	}

	return out, nil
}

// postLeaves собирает комментарии и голоса поста.
// Ошибка выборки одной коллекции логируется: каскад продолжается по тому, что удалось найти.
func (s *Service) postLeaves(ctx context.Context, postID string) []leaf {
	var out []leaf

	for _, coll := range []string{storage.Comments, storage.Votes} {
		ids, err := s.collectIDs(ctx, coll, storage.Eq("post_id", postID))
		if err != nil {
			metrics.CascadeFailures.WithLabelValues(coll).Inc()
			log.From(ctx).Error("cascade_query_failed", "collection", coll, "post_id", postID, "err", err)
			continue
		}
		out = append(out, ids...)
	}

	return out
}
