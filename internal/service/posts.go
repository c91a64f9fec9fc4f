package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pribylovaa/recycle-communities/internal/models"
	"github.com/pribylovaa/recycle-communities/internal/pkg/log"
	"github.com/pribylovaa/recycle-communities/internal/storage"
)

// CreatePostInput - новый пост. Пустой CommunityID - пост в общую ленту.
type CreatePostInput struct {
	Title       string
	Content     string
	Category    models.Category
	CommunityID string
	ImageURL    string
	Tags        []string
	IsTip       bool
}

// PostFilter - параметры ленты постов.
type PostFilter struct {
	// CommunityID пустой - общая лента (посты без сообщества).
	CommunityID string
	Category    models.Category
	Limit       int64
}

// CreatePost создаёт пост от имени автора.
//
// Валидация до любых записей: автор, непустой title, известная category (ErrInvalidArgument);
// указанное сообщество должно существовать (ErrNotFound). Для поста в сообществе атомарно
// растёт post_count и в outbox пишется событие рассылки (id события = id поста).
// При fanout.inline событие обрабатывается сразу. Ни сбой счётчика, ни сбой рассылки
// не откатывают пост и не возвращаются вызывающему.
func (s *Service) CreatePost(ctx context.Context, author models.Identity, in CreatePostInput) (*models.Post, error) {
	const op = "service/posts/CreatePost"

	in.Title = strings.TrimSpace(in.Title)
	in.CommunityID = strings.TrimSpace(in.CommunityID)

	lg := log.From(ctx).With("op", op, "user_id", author.UserID, "community_id", in.CommunityID)

	if !author.Valid() {
		lg.Warn("invalid argument: empty user_id")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	if in.Title == "" {
		lg.Warn("invalid argument: empty title")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	if !in.Category.Valid() {
		lg.Warn("invalid argument: missing or unknown category", "category", in.Category)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	if in.CommunityID != "" {
		var c models.Community
		if err := s.store.Get(ctx, storage.Communities, in.CommunityID, &c); err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				lg.Error("storage error on get community", "err", err)
			}
			return nil, fmt.Errorf("%s: community: %w", op, mapStoreErr(err))
		}
	}

	now := s.timestamp()
	post := models.Post{
		Title:          in.Title,
		Content:        strings.TrimSpace(in.Content),
		Category:       in.Category,
		CommunityID:    in.CommunityID,
		AuthorID:       strings.TrimSpace(author.UserID),
		AuthorName:     strings.TrimSpace(author.DisplayName),
		AuthorPhotoURL: strings.TrimSpace(author.PhotoURL),
		ImageURL:       strings.TrimSpace(in.ImageURL),
		Tags:           normalizeSet(in.Tags),
		IsTip:          in.IsTip,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	id, err := s.store.Create(ctx, storage.Posts, post)
	if err != nil {
		lg.Error("storage error on create post", "err", err)
		return nil, fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}
	post.ID = id

	if post.CommunityID == "" {
		return &post, nil
	}

	if err := s.store.Increment(ctx, storage.Communities, post.CommunityID, storage.Deltas{"post_count": 1}); err != nil {
		lg.Error("post_count increment failed", "post_id", id, "err", err)
	}

	ev, err := s.enqueueFanout(ctx, post)
	if err != nil {
		lg.Error("fanout_enqueue_failed", "post_id", id, "err", err)
		return &post, nil
	}

	if s.cfg.Fanout.Inline {
		if err := s.dispatch(ctx, ev); err != nil {
			lg.Warn("fanout_inline_failed", "post_id", id, "err", err)
		}
	}

	return &post, nil
}

// GetPost возвращает пост по id.
func (s *Service) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	const op = "service/posts/GetPost"

	postID = strings.TrimSpace(postID)
	if postID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	var p models.Post
	if err := s.store.Get(ctx, storage.Posts, postID, &p); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.From(ctx).Error("storage error on get post", "op", op, "err", err)
		}
		return nil, fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	return &p, nil
}

// ListPosts возвращает ленту сообщества или общую ленту, новые первыми.
func (s *Service) ListPosts(ctx context.Context, f PostFilter) ([]models.Post, error) {
	const op = "service/posts/ListPosts"

	if f.Category != "" && !f.Category.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	q := storage.Query{OrderBy: "created_at", Desc: true, Limit: s.limitOrDefault(f.Limit)}
	if id := strings.TrimSpace(f.CommunityID); id != "" {
		q.Filters = append(q.Filters, storage.Eq("community_id", id))
	} else {
		q.Filters = append(q.Filters, storage.IsNull("community_id"))
	}

	if f.Category != "" {
		q.Filters = append(q.Filters, storage.Eq("category", f.Category))
	}

	var out []models.Post
	if err := s.store.Query(ctx, storage.Posts, q, &out); err != nil {
		log.From(ctx).Error("storage error on list posts", "op", op, "err", err)
		return nil, fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	return out, nil
}

// DeletePost удаляет пост автора, уменьшает post_count сообщества и каскадом
// удаляет комментарии и голоса поста.
func (s *Service) DeletePost(ctx context.Context, postID, userID string) error {
	const op = "service/posts/DeletePost"

	postID, userID = strings.TrimSpace(postID), strings.TrimSpace(userID)
	lg := log.From(ctx).With("op", op, "post_id", postID, "user_id", userID)

	if postID == "" || userID == "" {
		lg.Warn("invalid argument: empty post_id or user_id")
		return fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	var post models.Post
	if err := s.store.Get(ctx, storage.Posts, postID, &post); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			lg.Error("storage error on get post", "err", err)
		}
		return fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	if post.AuthorID != userID {
		lg.Warn("permission denied: not the author")
		return fmt.Errorf("%s: %w", op, ErrPermissionDenied)
	}

	if err := s.store.Delete(ctx, storage.Posts, postID); err != nil {
		lg.Error("storage error on delete post", "err", err)
		return fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	if post.CommunityID != "" {
		s.decrementIgnoringMissing(ctx, storage.Communities, post.CommunityID, "post_count")
	}

	leaves := s.postLeaves(ctx, postID)
	if failed := s.deleteLeaves(ctx, leaves); failed > 0 {
		lg.Warn("post cascade incomplete", "leaves", len(leaves), "failed", failed)
	}

	return nil
}
