package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/recycle-communities/internal/config"
	"github.com/pribylovaa/recycle-communities/internal/models"
	"github.com/pribylovaa/recycle-communities/internal/storage"
	"github.com/pribylovaa/recycle-communities/internal/storage/memory"
)

// recordingStore запоминает размеры пакетов InsertMany и умеет их ронять.
type recordingStore struct {
	*memory.Store

	mu      sync.Mutex
	batches []int
	fail    error
}

func (r *recordingStore) InsertMany(ctx context.Context, collection string, docs []storage.Keyed) (int64, error) {
	r.mu.Lock()
	r.batches = append(r.batches, len(docs))
	fail := r.fail
	r.mu.Unlock()

	if fail != nil {
		return 0, fail
	}

	return r.Store.InsertMany(ctx, collection, docs)
}

func (r *recordingStore) setFail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

func (r *recordingStore) batchSizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.batches...)
}

// newFanoutService - сервис поверх recordingStore с поправленной конфигурацией.
func newFanoutService(t *testing.T, tune func(*config.Config)) (*Service, *recordingStore) {
	t.Helper()

	cfg := testConfig()
	if tune != nil {
		tune(&cfg)
	}

	st := &recordingStore{Store: memory.New()}
	return New(st, cfg, WithClock(steppingClock())), st
}

func mustEvent(t *testing.T, st storage.Store, id string) models.FanoutEvent {
	t.Helper()

	var ev models.FanoutEvent
	require.NoError(t, st.Get(context.Background(), storage.FanoutEvents, id, &ev))
	return ev
}

// Получают все действующие участники, кроме автора и muted; "off" рассылку не отключает.
func TestProcessOutbox_NotifiesLiveMembers(t *testing.T) {
	t.Parallel()

	s, st := newTestService(t)
	ctx := context.Background()
	c := mustCommunity(t, s, "owner", "Plastic")

	require.NoError(t, s.Join(ctx, c.ID, "bob", ""))
	require.NoError(t, s.Join(ctx, c.ID, "carol", models.PreferenceMute))
	require.NoError(t, s.Join(ctx, c.ID, "dave", ""))
	require.NoError(t, s.Leave(ctx, c.ID, "dave"))
	require.NoError(t, s.Join(ctx, c.ID, "erin", models.PreferencePopular))
	require.NoError(t, s.Join(ctx, c.ID, "frank", models.PreferenceOff))

	p := mustPost(t, s, user("owner"), c.ID, "Lids")

	// До прохода воркера уведомлений нет.
	require.Empty(t, notificationsOf(t, s, "bob"))

	done, err := s.ProcessOutbox(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, done)

	for _, uid := range []string{"bob", "erin", "frank"} {
		got := notificationsOf(t, s, uid)
		require.Len(t, got, 1, uid)
		require.Equal(t, models.NotificationNewPost, got[0].Type)
		require.Equal(t, p.ID, got[0].PostID)
		require.Equal(t, c.ID, got[0].CommunityID)
		require.Equal(t, "New post in Plastic", got[0].Title)
		require.Equal(t, "Lids", got[0].Message)
		require.Equal(t, models.NotificationKey(p.ID, uid), got[0].ID)
	}

	for _, uid := range []string{"owner", "carol", "dave"} {
		require.Empty(t, notificationsOf(t, s, uid), uid)
	}

	ev := mustEvent(t, st, p.ID)
	require.Equal(t, models.FanoutDone, ev.Status)
	require.Nil(t, ev.ClaimedAt)

	done, err = s.ProcessOutbox(ctx)
	require.NoError(t, err)
	require.Zero(t, done)
}

// Повторная рассылка того же поста не дублирует уведомления и не сбрасывает прочитанность.
func TestNotifyCommunityMembers_Idempotent(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()
	c := mustCommunity(t, s, "owner", "Glass")
	require.NoError(t, s.Join(ctx, c.ID, "bob", ""))
	require.NoError(t, s.Join(ctx, c.ID, "carol", ""))

	n, err := s.NotifyCommunityMembers(ctx, c.ID, "post-1", "Jars", "owner")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	require.NoError(t, s.MarkAsRead(ctx, models.NotificationKey("post-1", "bob")))

	n, err = s.NotifyCommunityMembers(ctx, c.ID, "post-1", "Jars", "owner")
	require.NoError(t, err)
	require.Zero(t, n)

	bob := notificationsOf(t, s, "bob")
	require.Len(t, bob, 1)
	require.True(t, bob[0].Read)

	_, err = s.NotifyCommunityMembers(ctx, "missing", "post-1", "Jars", "owner")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.NotifyCommunityMembers(ctx, "", "post-1", "Jars", "owner")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCreatePost_InlineFanout(t *testing.T) {
	t.Parallel()

	s, st := newFanoutService(t, func(cfg *config.Config) { cfg.Fanout.Inline = true })
	ctx := context.Background()
	c := mustCommunity(t, s, "owner", "Metal")
	require.NoError(t, s.Join(ctx, c.ID, "bob", ""))

	p := mustPost(t, s, user("owner"), c.ID, "Cans")

	require.Len(t, notificationsOf(t, s, "bob"), 1)
	require.Equal(t, models.FanoutDone, mustEvent(t, st, p.ID).Status)
}

// Сбой рассылки не затрагивает создание поста.
func TestCreatePost_InlineFanoutFailureIsHidden(t *testing.T) {
	t.Parallel()

	s, st := newFanoutService(t, func(cfg *config.Config) { cfg.Fanout.Inline = true })
	ctx := context.Background()
	c := mustCommunity(t, s, "owner", "Metal")
	require.NoError(t, s.Join(ctx, c.ID, "bob", ""))

	st.setFail(errBoom)
	p, err := s.CreatePost(ctx, user("owner"), CreatePostInput{Title: "Cans", Category: models.CategoryMetal, CommunityID: c.ID})
	require.NoError(t, err)

	ev := mustEvent(t, st, p.ID)
	require.Equal(t, models.FanoutPending, ev.Status)
	require.EqualValues(t, 1, ev.Attempts)
	require.NotEmpty(t, ev.LastError)
}

func TestFanout_WritesInBatches(t *testing.T) {
	t.Parallel()

	s, st := newFanoutService(t, func(cfg *config.Config) { cfg.Fanout.BatchSize = 2 })
	ctx := context.Background()
	c := mustCommunity(t, s, "owner", "Paper")

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Join(ctx, c.ID, fmt.Sprintf("m%d", i), ""))
	}

	n, err := s.NotifyCommunityMembers(ctx, c.ID, "post-1", "Boxes", "owner")
	require.NoError(t, err)
	require.EqualValues(t, 5, n)
	require.Equal(t, []int{2, 2, 1}, st.batchSizes())
	require.EqualValues(t, 5, mustCount(t, st, storage.Notifications))
}

// Ошибка возвращает событие в pending, после max_attempts оно помечается failed.
func TestProcessOutbox_RetriesThenFails(t *testing.T) {
	t.Parallel()

	s, st := newFanoutService(t, nil)
	ctx := context.Background()
	c := mustCommunity(t, s, "owner", "Organic")
	require.NoError(t, s.Join(ctx, c.ID, "bob", ""))
	p := mustPost(t, s, user("owner"), c.ID, "Peels")

	st.setFail(errBoom)

	for attempt := int64(1); attempt <= 3; attempt++ {
		done, err := s.ProcessOutbox(ctx)
		require.NoError(t, err)
		require.Zero(t, done)

		ev := mustEvent(t, st, p.ID)
		require.Equal(t, attempt, ev.Attempts)
		require.NotEmpty(t, ev.LastError)
		if attempt < 3 {
			require.Equal(t, models.FanoutPending, ev.Status)
		} else {
			require.Equal(t, models.FanoutFailed, ev.Status)
		}
	}

	st.setFail(nil)
	done, err := s.ProcessOutbox(ctx)
	require.NoError(t, err)
	require.Zero(t, done)
	require.Empty(t, notificationsOf(t, s, "bob"))
}

// Повтор после частичного сбоя дописывает только недостающие уведомления.
func TestProcessOutbox_RetryAfterPartialWrite(t *testing.T) {
	t.Parallel()

	s, _ := newFanoutService(t, func(cfg *config.Config) { cfg.Fanout.BatchSize = 1 })
	ctx := context.Background()
	c := mustCommunity(t, s, "owner", "Glass")
	require.NoError(t, s.Join(ctx, c.ID, "bob", ""))
	require.NoError(t, s.Join(ctx, c.ID, "carol", ""))
	p := mustPost(t, s, user("owner"), c.ID, "Bottles")

	// Первый пакет (bob) уже записан прошлой попыткой.
	n, err := s.writeNotifications(ctx, p.ID, "fanout", []models.Notification{{UserID: "bob", Type: models.NotificationNewPost}})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	done, err := s.ProcessOutbox(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, done)

	require.Len(t, notificationsOf(t, s, "bob"), 1)
	require.Len(t, notificationsOf(t, s, "carol"), 1)
}

// Событие с истёкшей арендой перехватывается, свежезахваченное - нет.
func TestProcessOutbox_ReclaimsExpiredLease(t *testing.T) {
	t.Parallel()

	s, st := newTestService(t)
	ctx := context.Background()
	c := mustCommunity(t, s, "owner", "Textiles")
	require.NoError(t, s.Join(ctx, c.ID, "bob", ""))
	p := mustPost(t, s, user("owner"), c.ID, "Socks")

	fresh := s.timestamp()
	require.NoError(t, st.Update(ctx, storage.FanoutEvents, p.ID, storage.Fields{
		"status":     models.FanoutProcessing,
		"claimed_at": fresh,
	}))

	done, err := s.ProcessOutbox(ctx)
	require.NoError(t, err)
	require.Zero(t, done)
	require.Equal(t, models.FanoutProcessing, mustEvent(t, st, p.ID).Status)

	require.NoError(t, st.Update(ctx, storage.FanoutEvents, p.ID, storage.Fields{
		"claimed_at": fresh.Add(-10 * time.Minute),
	}))

	done, err = s.ProcessOutbox(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, done)
	require.Equal(t, models.FanoutDone, mustEvent(t, st, p.ID).Status)
	require.Len(t, notificationsOf(t, s, "bob"), 1)
}

// Пост, удалённый до прохода воркера, закрывает событие без уведомлений.
func TestProcessOutbox_DeletedPostIsNoop(t *testing.T) {
	t.Parallel()

	s, st := newTestService(t)
	ctx := context.Background()
	c := mustCommunity(t, s, "owner", "Metal")
	require.NoError(t, s.Join(ctx, c.ID, "bob", ""))
	p := mustPost(t, s, user("owner"), c.ID, "Foil")

	require.NoError(t, st.Delete(ctx, storage.Posts, p.ID))

	done, err := s.ProcessOutbox(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, done)
	require.Equal(t, models.FanoutDone, mustEvent(t, st, p.ID).Status)
	require.Empty(t, notificationsOf(t, s, "bob"))
}

func TestStartFanout(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := mustCommunity(t, s, "owner", "Paper")
	require.NoError(t, s.Join(ctx, c.ID, "bob", ""))

	errCh := make(chan error, 1)
	go func() { errCh <- s.StartFanout(ctx) }()

	mustPost(t, s, user("owner"), c.ID, "Newspapers")

	require.Eventually(t, func() bool {
		n, err := s.GetUnreadCount(context.Background(), "bob")
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StartFanout did not stop after cancel")
	}
}

func TestStartFanout_RejectsNonPositiveInterval(t *testing.T) {
	t.Parallel()

	s, _ := newFanoutService(t, func(cfg *config.Config) { cfg.Fanout.Interval = 0 })
	require.Error(t, s.StartFanout(context.Background()))
}
