package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pribylovaa/recycle-communities/internal/models"
	"github.com/pribylovaa/recycle-communities/internal/pkg/log"
	"github.com/pribylovaa/recycle-communities/internal/storage"
)

// BuildThread собирает лес из плоского списка комментариев одного поста.
//
// Порядок - по created_at (затем по id), поэтому братья всегда идут в порядке создания,
// а повторная сборка того же набора даёт тот же результат. У каждого узла Replies не nil.
// Комментарий, чей родитель отсутствует в наборе, в лес не попадает.
func BuildThread(comments []models.Comment) []*models.Comment {
	nodes := make([]*models.Comment, len(comments))
	for i := range comments {
		c := comments[i]
		c.Replies = make([]*models.Comment, 0)
		nodes[i] = &c
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		if !nodes[i].CreatedAt.Equal(nodes[j].CreatedAt) {
			return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
		}
		return nodes[i].ID < nodes[j].ID
	})

	byID := make(map[string]*models.Comment, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	roots := make([]*models.Comment, 0)
	for _, n := range nodes {
		if n.ParentID == "" {
			roots = append(roots, n)
			continue
		}

		if parent, ok := byID[n.ParentID]; ok && parent != n {
			parent.Replies = append(parent.Replies, n)
		}
	}

	return roots
}

// GetThreadedComments возвращает комментарии поста деревом.
func (s *Service) GetThreadedComments(ctx context.Context, postID string) ([]*models.Comment, error) {
	const op = "service/tree/GetThreadedComments"

	postID = strings.TrimSpace(postID)
	lg := log.From(ctx).With("op", op, "post_id", postID)

	if postID == "" {
		lg.Warn("invalid argument: empty post_id")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	var flat []models.Comment
	err := s.store.Query(ctx, storage.Comments, storage.Query{
		Filters: []storage.Filter{storage.Eq("post_id", postID)},
		OrderBy: "created_at",
	}, &flat)
	if err != nil {
		lg.Error("storage error on list comments", "err", err)
		return nil, fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	return BuildThread(flat), nil
}
