// service содержит бизнес-логику сервиса сообществ: голоса, дерево комментариев,
// участие в сообществах, жизненный цикл постов/сообществ и рассылку уведомлений.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pribylovaa/recycle-communities/internal/cache"
	"github.com/pribylovaa/recycle-communities/internal/config"
	"github.com/pribylovaa/recycle-communities/internal/storage"
)

var (
	// ErrInvalidArgument - неверные входные параметры.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound - пост, сообщество, комментарий или уведомление отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied - операцию выполняет не владелец.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrAlreadyExists - slug сообщества уже занят.
	ErrAlreadyExists = errors.New("already exists")
	// ErrUnavailable - хранилище не смогло выполнить операцию.
	ErrUnavailable = errors.New("unavailable")
	// ErrAborted - исчерпан лимит оптимистичных повторов при конкурентной записи.
	ErrAborted = errors.New("aborted")
)

// Service - бизнес-логика сервиса сообществ.
type Service struct {
	store  storage.Store
	cache  cache.UnreadCache
	images storage.Images
	cfg    config.Config
	now    func() time.Time
}

// Option настраивает необязательные зависимости Service.
type Option func(*Service)

// WithUnreadCache подключает кэш счётчиков непрочитанного.
func WithUnreadCache(c cache.UnreadCache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithImages подключает хранилище изображений для удаления баннеров и иконок.
func WithImages(i storage.Images) Option {
	return func(s *Service) { s.images = i }
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New создаёт новый экземпляр Service.
func New(store storage.Store, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		store: store,
		cache: cache.Noop{},
		cfg:   cfg,
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// timestamp - текущее время в UTC с точностью MongoDB (миллисекунды).
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// limitOrDefault приводит запрошенный размер выборки к [1, Max], 0 - Default.
func (s *Service) limitOrDefault(limit int64) int64 {
	if limit <= 0 {
		limit = s.cfg.Limits.Default
	}

	if limit > s.cfg.Limits.Max {
		limit = s.cfg.Limits.Max
	}

	return limit
}

func (s *Service) maxRetries() int {
	if s.cfg.Vote.MaxRetries <= 0 {
		return 1
	}

	return s.cfg.Vote.MaxRetries
}

// mapStoreErr переводит ошибку хранилища в ошибку сервисного слоя.
func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrConflict):
		return ErrAlreadyExists
	case errors.Is(err, storage.ErrInvalidArgument):
		return ErrInvalidArgument
	case errors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return context.Canceled
	default:
		return ErrUnavailable
	}
}

// normalizeSet обрезает пробелы, выбрасывает пустые значения и дубликаты, сохраняя порядок.
func normalizeSet(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))

	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}

		if _, ok := seen[v]; ok {
			continue
		}

		seen[v] = struct{}{}
		out = append(out, v)
	}

	return out
}

// normalizeList обрезает пробелы и выбрасывает пустые строки; порядок и повторы сохраняются.
func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}

	return out
}

// idOnly - проекция документа на идентификатор для каскадных выборок.
type idOnly struct {
	ID string `bson:"_id"`
}
