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

// CreateCommunityInput - параметры нового сообщества.
type CreateCommunityInput struct {
	Name        string
	Description string
	Category    models.Category
	Type        models.CommunityType
	Rules       []string
	Tags        []string
	BannerURL   string
	IconURL     string
}

// CommunityPatch - изменяемые создателем поля; nil - поле не трогаем.
type CommunityPatch struct {
	Description *string
	Rules       *[]string
	Tags        *[]string
	BannerURL   *string
	IconURL     *string
	Type        *models.CommunityType
}

// CreateCommunity создаёт сообщество и вступает в него от имени создателя.
//
// Slug выводится из имени (см. Slugify) и служит фактическим идентификатором имени:
// занятый slug - ErrAlreadyExists без каких-либо записей. Проверка запросом перед вставкой
// дополнена уникальным индексом, поэтому проигравший гонку тоже получит ErrAlreadyExists.
// Сообщество создаётся с member_count=1, post_count=0; участие создателя записывается
// без повторного инкремента.
func (s *Service) CreateCommunity(ctx context.Context, creatorID string, in CreateCommunityInput) (*models.Community, error) {
	const op = "service/communities/CreateCommunity"

	creatorID = strings.TrimSpace(creatorID)
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)

	lg := log.From(ctx).With("op", op, "creator_id", creatorID, "name", in.Name)

	if creatorID == "" {
		lg.Warn("invalid argument: empty creator_id")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	if in.Name == "" || in.Description == "" {
		lg.Warn("invalid argument: empty name or description")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	if in.Category != "" && !in.Category.Valid() {
		lg.Warn("invalid argument: unknown category", "category", in.Category)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	if in.Type == "" {
		in.Type = models.CommunityPublic
	}

	if !in.Type.Valid() {
		lg.Warn("invalid argument: unknown community type", "type", in.Type)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	slug := Slugify(in.Name)
	if slug == "" {
		lg.Warn("invalid argument: name has no alphanumerics")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	taken, err := s.store.Count(ctx, storage.Communities, storage.Eq("slug", slug))
	if err != nil {
		lg.Error("storage error on slug check", "err", err)
		return nil, fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	if taken > 0 {
		lg.Warn("slug already exists", "slug", slug)
		return nil, fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	}

	now := s.timestamp()
	community := models.Community{
		Name:        in.Name,
		Slug:        slug,
		Description: in.Description,
		Category:    in.Category,
		CreatorID:   creatorID,
		MemberCount: 1,
		PostCount:   0,
		BannerURL:   strings.TrimSpace(in.BannerURL),
		IconURL:     strings.TrimSpace(in.IconURL),
		Rules:       normalizeList(in.Rules),
		Tags:        normalizeSet(in.Tags),
		Type:        in.Type,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	id, err := s.store.Create(ctx, storage.Communities, community)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			lg.Warn("slug already exists (lost race)", "slug", slug)
		} else {
			lg.Error("storage error on create community", "err", err)
		}
		return nil, fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}
	community.ID = id

	if _, err := s.join(ctx, id, creatorID, models.PreferenceAll, false); err != nil {
		lg.Error("creator join failed, removing community", "community_id", id, "err", err)
		if derr := s.store.Delete(ctx, storage.Communities, id); derr != nil {
			lg.Error("community rollback failed", "community_id", id, "err", derr)
		}
		return nil, fmt.Errorf("%s: creator join: %w", op, err)
	}

	return &community, nil
}

// GetCommunity возвращает сообщество по id.
func (s *Service) GetCommunity(ctx context.Context, communityID string) (*models.Community, error) {
	const op = "service/communities/GetCommunity"

	communityID = strings.TrimSpace(communityID)
	if communityID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	var c models.Community
	if err := s.store.Get(ctx, storage.Communities, communityID, &c); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.From(ctx).Error("storage error on get community", "op", op, "err", err)
		}
		return nil, fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	return &c, nil
}

// GetCommunityBySlug ищет сообщество по slug; принимает и исходное имя.
func (s *Service) GetCommunityBySlug(ctx context.Context, slug string) (*models.Community, error) {
	const op = "service/communities/GetCommunityBySlug"

	slug = Slugify(slug)
	if slug == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	var found []models.Community
	err := s.store.Query(ctx, storage.Communities, storage.Query{
		Filters: []storage.Filter{storage.Eq("slug", slug)},
		Limit:   1,
	}, &found)
	if err != nil {
		log.From(ctx).Error("storage error on find by slug", "op", op, "err", err)
		return nil, fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	if len(found) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	return &found[0], nil
}

// ListCommunities возвращает сообщества, новые первыми; category фильтрует, если задана.
func (s *Service) ListCommunities(ctx context.Context, category models.Category, limit int64) ([]models.Community, error) {
	const op = "service/communities/ListCommunities"

	if category != "" && !category.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	q := storage.Query{OrderBy: "created_at", Desc: true, Limit: s.limitOrDefault(limit)}
	if category != "" {
		q.Filters = append(q.Filters, storage.Eq("category", category))
	}

	var out []models.Community
	if err := s.store.Query(ctx, storage.Communities, q, &out); err != nil {
		log.From(ctx).Error("storage error on list communities", "op", op, "err", err)
		return nil, fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	return out, nil
}

// UpdateCommunity меняет описание, правила, теги, изображения и тип. Только создатель.
// Заменённые или убранные изображения удаляются из хранилища по возможности.
func (s *Service) UpdateCommunity(ctx context.Context, communityID, userID string, patch CommunityPatch) (*models.Community, error) {
	const op = "service/communities/UpdateCommunity"

	communityID, userID = strings.TrimSpace(communityID), strings.TrimSpace(userID)
	lg := log.From(ctx).With("op", op, "community_id", communityID, "user_id", userID)

	if communityID == "" || userID == "" {
		lg.Warn("invalid argument: empty community_id or user_id")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	var c models.Community
	if err := s.store.Get(ctx, storage.Communities, communityID, &c); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			lg.Error("storage error on get community", "err", err)
		}
		return nil, fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	if c.CreatorID != userID {
		lg.Warn("permission denied: not the creator")
		return nil, fmt.Errorf("%s: %w", op, ErrPermissionDenied)
	}

	fields := storage.Fields{}
	var staleImages []string

	if patch.Description != nil {
		d := strings.TrimSpace(*patch.Description)
		if d == "" {
			lg.Warn("invalid argument: empty description")
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
		}
		fields["description"], c.Description = d, d
	}

	if patch.Type != nil {
		if !patch.Type.Valid() {
			lg.Warn("invalid argument: unknown community type", "type", *patch.Type)
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidArgument)
		}
		fields["community_type"], c.Type = *patch.Type, *patch.Type
	}

	if patch.Rules != nil {
		rules := normalizeList(*patch.Rules)
		fields["rules"], c.Rules = rules, rules
	}

	if patch.Tags != nil {
		tags := normalizeSet(*patch.Tags)
		fields["tags"], c.Tags = tags, tags
	}

	if patch.BannerURL != nil {
		u := strings.TrimSpace(*patch.BannerURL)
		if c.BannerURL != "" && c.BannerURL != u {
			staleImages = append(staleImages, c.BannerURL)
		}
		fields["banner_url"], c.BannerURL = u, u
	}

	if patch.IconURL != nil {
		u := strings.TrimSpace(*patch.IconURL)
		if c.IconURL != "" && c.IconURL != u {
			staleImages = append(staleImages, c.IconURL)
		}
		fields["icon_url"], c.IconURL = u, u
	}

	if len(fields) == 0 {
		return &c, nil
	}

	c.UpdatedAt = s.timestamp()
	fields["updated_at"] = c.UpdatedAt

	if err := s.store.Update(ctx, storage.Communities, communityID, fields); err != nil {
		lg.Error("storage error on update community", "err", err)
		return nil, fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	s.deleteImages(ctx, staleImages...)

	return &c, nil
}

// DeleteCommunity удаляет сообщество создателя и каскадом его посты (с комментариями
// и голосами), все записи участия, события рассылки и изображения. Каскад - набор
// независимых удалений, ожидаемых вместе; сбой отдельного листа только логируется.
func (s *Service) DeleteCommunity(ctx context.Context, communityID, userID string) error {
	const op = "service/communities/DeleteCommunity"

	communityID, userID = strings.TrimSpace(communityID), strings.TrimSpace(userID)
	lg := log.From(ctx).With("op", op, "community_id", communityID, "user_id", userID)

	if communityID == "" || userID == "" {
		lg.Warn("invalid argument: empty community_id or user_id")
		return fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	}

	var c models.Community
	if err := s.store.Get(ctx, storage.Communities, communityID, &c); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			lg.Error("storage error on get community", "err", err)
		}
		return fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	if c.CreatorID != userID {
		lg.Warn("permission denied: not the creator")
		return fmt.Errorf("%s: %w", op, ErrPermissionDenied)
	}

	if err := s.store.Delete(ctx, storage.Communities, communityID); err != nil {
		lg.Error("storage error on delete community", "err", err)
		return fmt.Errorf("%s: %w", op, mapStoreErr(err))
	}

	var leaves []leaf
	for _, coll := range []string{storage.Posts, storage.Memberships, storage.FanoutEvents} {
		ids, err := s.collectIDs(ctx, coll, storage.Eq("community_id", communityID))
		if err != nil {
			lg.Error("cascade_query_failed", "collection", coll, "err", err)
			continue
		}

		if coll == storage.Posts {
			for _, p := range ids {
				leaves = append(leaves, s.postLeaves(ctx, p.id)...)
			}
		}
		leaves = append(leaves, ids...)
	}

	failed := s.deleteLeaves(ctx, leaves)
	s.deleteImages(ctx, c.BannerURL, c.IconURL)

	lg.Info("community_deleted", "leaves", len(leaves), "failed", failed)
	return nil
}

// deleteImages удаляет изображения по возможности; ошибки только логируются.
func (s *Service) deleteImages(ctx context.Context, urls ...string) {
	if s.images == nil {
		return
	}

	for _, u := range urls {
		if u == "" {
			continue
		}

		if err := s.images.DeleteImage(ctx, u); err != nil {
			log.From(ctx).Warn("image_delete_failed", "url", u, "err", err)
		}
	}
}
