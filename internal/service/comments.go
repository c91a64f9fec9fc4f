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

// AddCommentInput - комментарий к посту или ответ на комментарий (ParentID).
type AddCommentInput struct {
	PostID   string
	ParentID string
	Content  string
}

// AddComment создаёт комментарий.
//
// Валидация: автор и content обязательны; пост должен существовать, родитель -
// существовать и принадлежать тому же посту (иначе ErrNotFound).
// После вставки атомарно растут comment_count поста и reply_count родителя, автору поста
// и автору родителя уходят уведомления new_comment / new_reply (себе не пишем).
// Сбои счётчиков и уведомлений логируются и не откатывают комментарий.
func (s *Service) AddComment(ctx context.Context, author models.Identity, in AddCommentInput) (*models.Comment, error) {
	const op = "service/comments/AddComment"

	in.PostID = strings.TrimSpace(in.PostID)
	in.ParentID = strings.TrimSpace(in.ParentID)
	in.Content = strings.TrimSpace(in.Content)

	lg := log.From(ctx).With("op", op, "post_id", in.PostID, "parent_id", in.ParentID, "user_id", author.UserID)

	if !author.Valid() || in.PostID == "" {
		lg.Warn("invalid argument: empty user_id or post_id")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	if in.Content == "" {
		lg.Warn("invalid argument: empty content")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	var post models.Post
	if err := s.store.Get(ctx, storage.Posts, in.PostID, &post); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			lg.Error("storage error on get post", "err", err)
		}
		return nil, fmt.Errorf("%s: post: %w", op, mapStoreErr(err))
	}

	var parent models.Comment
	if in.ParentID != "" {
		if err := s.store.Get(ctx, storage.Comments, in.ParentID, &parent); err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				lg.Error("storage error on get parent", "err", err)
			}
			return nil, fmt.Errorf("%s: parent: %w", op, mapStoreErr(err))
		}

		if parent.PostID != in.PostID {
			lg.Warn("parent belongs to another post", "parent_post_id", parent.PostID)
			return nil, fmt.Errorf("%s: parent: %w", op, ErrNotFound)
		}
	}

	comment := models.Comment{
		PostID:         in.PostID,
		Content:        in.Content,
		AuthorID:       strings.TrimSpace(author.UserID),
		AuthorName:     strings.TrimSpace(author.DisplayName),
		AuthorPhotoURL: strings.TrimSpace(author.PhotoURL),
		ParentID:       in.ParentID,
		CreatedAt:      s.timestamp(),
	}

	id, err := s.store.Create(ctx, storage.Comments, comment)
	if err != nil {
		lg.Error("storage error on create comment", "err", err)
		return nil, fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}
	comment.ID = id
	comment.Replies = make([]*models.Comment, 0)

	if err := s.store.Increment(ctx, storage.Posts, post.ID, storage.Deltas{"comment_count": 1}); err != nil {
		lg.Error("comment_count increment failed", "err", err)
	}

	if parent.ID != "" {
		if err := s.store.Increment(ctx, storage.Comments, parent.ID, storage.Deltas{"reply_count": 1}); err != nil {
			lg.Error("reply_count increment failed", "err", err)
		}
	}

	s.notifyComment(ctx, post, parent, comment)

	return &comment, nil
}

// notifyComment пишет уведомления о новом комментарии. Автор родителя получает new_reply,
// автор поста - new_comment, если он не получил new_reply за этот же комментарий.
func (s *Service) notifyComment(ctx context.Context, post models.Post, parent, comment models.Comment) {
	now := s.timestamp()
	var batch []models.Notification

	if parent.ID != "" && parent.AuthorID != comment.AuthorID {
		batch = append(batch, replyNotification(post, comment, parent.AuthorID, now))
	}

	if post.AuthorID != comment.AuthorID && (parent.ID == "" || parent.AuthorID != post.AuthorID) {
		batch = append(batch, commentNotification(post, comment, now))
	}

	if len(batch) == 0 {
		return
	}

	if _, err := s.writeNotifications(ctx, comment.ID, "comment", batch); err != nil {
		log.From(ctx).Warn("comment_notify_failed", "comment_id", comment.ID, "err", err)
	}
}

// DeleteComment удаляет комментарий автора и уменьшает счётчики поста и родителя.
// Ответы удалённого комментария остаются в хранилище и выпадают из дерева.
func (s *Service) DeleteComment(ctx context.Context, commentID, userID string) error {
	const op = "service/comments/DeleteComment"

	commentID, userID = strings.TrimSpace(commentID), strings.TrimSpace(userID)
	lg := log.From(ctx).With("op", op, "comment_id", commentID, "user_id", userID)

	if commentID == "" || userID == "" {
		lg.Warn("invalid argument: empty comment_id or user_id")
		return fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	var comment models.Comment
	if err := s.store.Get(ctx, storage.Comments, commentID, &comment); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			lg.Error("storage error on get comment", "err", err)
		}
		return fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	if comment.AuthorID != userID {
		lg.Warn("permission denied: not the author")
		return fmt.Errorf("%s: %w", op, ErrPermissionDenied)
	}

	if err := s.store.Delete(ctx, storage.Comments, commentID); err != nil {
		lg.Error("storage error on delete comment", "err", err)
		return fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	s.decrementIgnoringMissing(ctx, storage.Posts, comment.PostID, "comment_count")
	if comment.ParentID != "" {
		s.decrementIgnoringMissing(ctx, storage.Comments, comment.ParentID, "reply_count")
	}

	return nil
}

// decrementIgnoringMissing уменьшает счётчик на 1; отсутствие документа не ошибка.
func (s *Service) decrementIgnoringMissing(ctx context.Context, collection, id, field string) {
	err := s.store.Increment(ctx, collection, id, storage.Deltas{field: -1})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.From(ctx).Error("counter decrement failed",
			"collection", collection, "id", id, "field", field, "err", err)
	}
}
