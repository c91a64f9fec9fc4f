package service

// Тесты сервисного слоя communities-service.
//
//  Проверяем:
//  - маппинг ошибок storage -> service (NotFound / AlreadyExists / InvalidArgument / Unavailable);
//  - что при сбое хранилища сервис не делает лишних записей (строгие моки);
//  - поведение операций на in-memory хранилище (votes/tree/comments/memberships/...*_test.go).
//
// Подготовка окружения:
//   # 1) Сгенерировать моки интерфейса хранилища:
//   mockgen -source=./internal/storage/storage.go -destination=./mocks/store.go -package=mocks
//
//   # 2) Запустить тесты:
//   go test ./internal/service -v -race -count=1

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/recycle-communities/internal/config"
	"github.com/pribylovaa/recycle-communities/internal/models"
	"github.com/pribylovaa/recycle-communities/internal/storage"
	"github.com/pribylovaa/recycle-communities/internal/storage/memory"
	"github.com/pribylovaa/recycle-communities/mocks"
)

var errBoom = errors.New("boom")

// testConfig - валидная конфигурация без рассылки inline.
func testConfig() config.Config {
	return config.Config{
		Limits: config.LimitsConfig{Default: 20, Max: 100, CascadeParallel: 4},
		Fanout: config.FanoutConfig{
			BatchSize:   500,
			Interval:    10 * time.Millisecond,
			MaxAttempts: 3,
			Lease:       time.Minute,
		},
		Vote: config.VoteConfig{MaxRetries: 5},
	}
}

// steppingClock - часы, которые сдвигаются на секунду при каждом чтении:
// порядок по created_at/joined_at в тестах не зависит от разрешения таймера.
func steppingClock() func() time.Time {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var tick atomic.Int64

	return func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Second)
	}
}

// newTestService - сервис поверх in-memory хранилища со ступенчатыми часами.
func newTestService(t *testing.T, opts ...Option) (*Service, *memory.Store) {
	t.Helper()

	st := memory.New()
	opts = append([]Option{WithClock(steppingClock())}, opts...)
	return New(st, testConfig(), opts...), st
}

// newServiceWithMocks - сервис с моком хранилища; неожиданный вызов валит тест.
func newServiceWithMocks(t *testing.T) (*Service, *mocks.MockStore) {
	t.Helper()

	ctrl := gomock.NewController(t)
	ms := mocks.NewMockStore(ctrl)
	return New(ms, testConfig()), ms
}

func user(id string) models.Identity {
	return models.Identity{UserID: id, DisplayName: "User " + id}
}

// mustCommunity создаёт сообщество от имени creatorID.
func mustCommunity(t *testing.T, s *Service, creatorID, name string) *models.Community {
	t.Helper()

	c, err := s.CreateCommunity(context.Background(), creatorID, CreateCommunityInput{
		Name:        name,
		Description: "about " + name,
		Category:    models.CategoryPlastic,
	})
	require.NoError(t, err)
	return c
}

// mustPost создаёт пост; пустой communityID - пост в общую ленту.
func mustPost(t *testing.T, s *Service, author models.Identity, communityID, title string) *models.Post {
	t.Helper()

	p, err := s.CreatePost(context.Background(), author, CreatePostInput{
		Title:       title,
		Content:     "content of " + title,
		Category:    models.CategoryPlastic,
		CommunityID: communityID,
	})
	require.NoError(t, err)
	return p
}

func mustGetPost(t *testing.T, st storage.Store, id string) models.Post {
	t.Helper()

	var p models.Post
	require.NoError(t, st.Get(context.Background(), storage.Posts, id, &p))
	return p
}

func mustGetCommunity(t *testing.T, st storage.Store, id string) models.Community {
	t.Helper()

	var c models.Community
	require.NoError(t, st.Get(context.Background(), storage.Communities, id, &c))
	return c
}

func mustCount(t *testing.T, st storage.Store, collection string, filters ...storage.Filter) int64 {
	t.Helper()

	n, err := st.Count(context.Background(), collection, filters...)
	require.NoError(t, err)
	return n
}

func TestMapStoreErr(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   error
		want error
	}{
		{fmt.Errorf("x: %w", storage.ErrNotFound), ErrNotFound},
		{fmt.Errorf("x: %w", storage.ErrConflict), ErrAlreadyExists},
		{fmt.Errorf("x: %w", storage.ErrInvalidArgument), ErrInvalidArgument},
		{fmt.Errorf("x: %w", context.DeadlineExceeded), context.DeadlineExceeded},
		{context.Canceled, context.Canceled},
		{errBoom, ErrUnavailable},
	}

	for _, tc := range cases {
		require.ErrorIs(t, mapStoreErr(tc.in), tc.want, "in=%v", tc.in)
	}
}

func TestLimitOrDefault(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)

	require.EqualValues(t, 20, s.limitOrDefault(0))
	require.EqualValues(t, 20, s.limitOrDefault(-5))
	require.EqualValues(t, 7, s.limitOrDefault(7))
	require.EqualValues(t, 100, s.limitOrDefault(1000))
}

func TestNormalizeSetAndList(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"caps", "pet"}, normalizeSet([]string{" caps", "", "pet", "caps "}))
	require.Equal(t, []string{"rinse", "rinse"}, normalizeList([]string{"rinse", "  ", "rinse"}))
}

// Сбой чтения поста - ErrUnavailable, запись голоса не трогается.
func TestVote_StoreFailureMapsToUnavailable(t *testing.T) {
	s, ms := newServiceWithMocks(t)

	ms.EXPECT().Get(gomock.Any(), storage.Posts, "p1", gomock.Any()).Return(errBoom)

	err := s.Vote(context.Background(), "p1", "u1", models.VoteUp)
	require.ErrorIs(t, err, ErrUnavailable)
}

// Сбой $inc по посту откатывает запись голоса к исходному состоянию.
func TestVote_CounterFailureRevertsRecord(t *testing.T) {
	s, ms := newServiceWithMocks(t)
	key := models.VoteKey("p1", "u1")

	gomock.InOrder(
		ms.EXPECT().Get(gomock.Any(), storage.Posts, "p1", gomock.Any()).Return(nil),
		ms.EXPECT().Get(gomock.Any(), storage.Votes, key, gomock.Any()).Return(storage.ErrNotFound),
		ms.EXPECT().Insert(gomock.Any(), storage.Votes, key, gomock.Any()).Return(nil),
		ms.EXPECT().Increment(gomock.Any(), storage.Posts, "p1", storage.Deltas{"upvotes": 1}).Return(errBoom),
		ms.EXPECT().UpdateIf(gomock.Any(), storage.Votes, key,
			[]storage.Filter{storage.Eq("type", models.VoteUp)}, gomock.Any()).
			DoAndReturn(func(_ context.Context, _, _ string, _ []storage.Filter, f storage.Fields) (bool, error) {
				require.Equal(t, models.VoteNone, f["type"])
				return true, nil
			}),
	)

	err := s.Vote(context.Background(), "p1", "u1", models.VoteUp)
	require.ErrorIs(t, err, ErrUnavailable)
}

// Сбой проверки slug - ErrUnavailable без вставки сообщества.
func TestCreateCommunity_SlugCheckFailureWritesNothing(t *testing.T) {
	s, ms := newServiceWithMocks(t)

	ms.EXPECT().Count(gomock.Any(), storage.Communities, storage.Eq("slug", "plastic-recyclers")).Return(int64(0), errBoom)

	_, err := s.CreateCommunity(context.Background(), "u1", CreateCommunityInput{
		Name:        "Plastic Recyclers",
		Description: "d",
	})
	require.ErrorIs(t, err, ErrUnavailable)
}

// Сбой каскадного удаления листа не прерывает удаление поста.
func TestDeletePost_LeafFailureIsBestEffort(t *testing.T) {
	s, ms := newServiceWithMocks(t)

	ms.EXPECT().Get(gomock.Any(), storage.Posts, "p1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, out any) error {
			*out.(*models.Post) = models.Post{ID: "p1", AuthorID: "u1"}
			return nil
		})
	ms.EXPECT().Delete(gomock.Any(), storage.Posts, "p1").Return(nil)
	ms.EXPECT().Query(gomock.Any(), storage.Comments, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ storage.Query, out any) error {
			*out.(*[]idOnly) = []idOnly{{ID: "c1"}, {ID: "c2"}}
			return nil
		})
	ms.EXPECT().Query(gomock.Any(), storage.Votes, gomock.Any(), gomock.Any()).Return(errBoom)
	ms.EXPECT().Delete(gomock.Any(), storage.Comments, "c1").Return(errBoom)
	ms.EXPECT().Delete(gomock.Any(), storage.Comments, "c2").Return(nil)

	require.NoError(t, s.DeletePost(context.Background(), "p1", "u1"))
}

func TestGetUnreadCount_StoreFailure(t *testing.T) {
	s, ms := newServiceWithMocks(t)

	ms.EXPECT().Count(gomock.Any(), storage.Notifications, gomock.Any(), gomock.Any()).Return(int64(0), errBoom)

	_, err := s.GetUnreadCount(context.Background(), "u1")
	require.ErrorIs(t, err, ErrUnavailable)
}
