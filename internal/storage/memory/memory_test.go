package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/recycle-communities/internal/models"
	"github.com/pribylovaa/recycle-communities/internal/storage"
)

func TestGet_RoundTripsThroughBSON(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	id, err := s.Create(ctx, storage.Posts, models.Post{
		Title:     "Bottle caps",
		Category:  models.CategoryPlastic,
		Tags:      []string{"caps"},
		CreatedAt: now,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	var p models.Post
	require.NoError(t, s.Get(ctx, storage.Posts, id, &p))
	require.Equal(t, id, p.ID)
	require.Equal(t, "Bottle caps", p.Title)
	require.Equal(t, []string{"caps"}, p.Tags)
	require.True(t, now.Equal(p.CreatedAt))

	require.ErrorIs(t, s.Get(ctx, storage.Posts, "missing", &p), storage.ErrNotFound)
}

func TestInsert_Conflict(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, storage.Votes, "v1", models.Vote{Type: models.VoteUp}))
	require.ErrorIs(t, s.Insert(ctx, storage.Votes, "v1", models.Vote{Type: models.VoteDown}), storage.ErrConflict)
	require.ErrorIs(t, s.Insert(ctx, storage.Votes, "", models.Vote{}), storage.ErrInvalidArgument)
}

func TestSet_MergeAndReplace(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, storage.Communities, "c1", models.Community{Name: "A", Description: "d"}, false))
	require.NoError(t, s.Set(ctx, storage.Communities, "c1", map[string]any{"name": "B"}, true))

	var c models.Community
	require.NoError(t, s.Get(ctx, storage.Communities, "c1", &c))
	require.Equal(t, "B", c.Name)
	require.Equal(t, "d", c.Description)

	require.NoError(t, s.Set(ctx, storage.Communities, "c1", map[string]any{"name": "C"}, false))
	c = models.Community{}
	require.NoError(t, s.Get(ctx, storage.Communities, "c1", &c))
	require.Equal(t, "C", c.Name)
	require.Empty(t, c.Description)
}

func TestQuery_FiltersOrderLimit(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Now().UTC()

	left := base
	for i := 0; i < 4; i++ {
		m := models.Membership{
			CommunityID: "c1",
			UserID:      fmt.Sprintf("u%d", i),
			JoinedAt:    base.Add(time.Duration(i) * time.Second),
		}
		if i == 3 {
			m.LeftAt = &left
		}
		require.NoError(t, s.Insert(ctx, storage.Memberships, fmt.Sprintf("m%d", i), m))
	}

	var active []models.Membership
	require.NoError(t, s.Query(ctx, storage.Memberships, storage.Query{
		Filters: []storage.Filter{
			storage.Eq("community_id", "c1"),
			storage.IsNull("left_at"),
			storage.Ne("user_id", "u0"),
		},
		OrderBy: "joined_at",
		Desc:    true,
	}, &active))
	require.Len(t, active, 2)
	require.Equal(t, "u2", active[0].UserID)
	require.Equal(t, "u1", active[1].UserID)
	require.True(t, active[0].Active())

	var first []models.Membership
	require.NoError(t, s.Query(ctx, storage.Memberships, storage.Query{OrderBy: "joined_at", Limit: 1}, &first))
	require.Len(t, first, 1)
	require.Equal(t, "u0", first[0].UserID)

	var before []models.Membership
	require.NoError(t, s.Query(ctx, storage.Memberships, storage.Query{
		Filters: []storage.Filter{storage.Lt("joined_at", base.Add(2*time.Second))},
	}, &before))
	require.Len(t, before, 2)

	n, err := s.Count(ctx, storage.Memberships, storage.Eq("community_id", "c1"))
	require.NoError(t, err)
	require.EqualValues(t, 4, n)
}

func TestUpdateIf_CompareAndSet(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, storage.Votes, "v1", models.Vote{Type: models.VoteUp}))

	ok, err := s.UpdateIf(ctx, storage.Votes, "v1",
		[]storage.Filter{storage.Eq("type", models.VoteDown)}, storage.Fields{"type": models.VoteNone})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.UpdateIf(ctx, storage.Votes, "v1",
		[]storage.Filter{storage.Eq("type", models.VoteUp)}, storage.Fields{"type": models.VoteDown})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.UpdateIf(ctx, storage.Votes, "missing", nil, storage.Fields{"type": models.VoteDown})
	require.NoError(t, err)
	require.False(t, ok)

	require.ErrorIs(t, s.Update(ctx, storage.Votes, "missing", storage.Fields{"type": models.VoteUp}), storage.ErrNotFound)
}

func TestIncrement_ConcurrentIsAtomic(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	id, err := s.Create(ctx, storage.Posts, models.Post{Title: "t"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Increment(ctx, storage.Posts, id, storage.Deltas{"upvotes": 1, "downvotes": -1})
		}()
	}
	wg.Wait()

	var p models.Post
	require.NoError(t, s.Get(ctx, storage.Posts, id, &p))
	require.EqualValues(t, 50, p.Upvotes)
	require.EqualValues(t, -50, p.Downvotes)

	require.ErrorIs(t, s.Increment(ctx, storage.Posts, "missing", storage.Deltas{"upvotes": 1}), storage.ErrNotFound)
}

func TestInsertMany_InsertIfAbsent(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	batch := []storage.Keyed{
		{ID: "n1", Doc: models.Notification{UserID: "u1"}},
		{ID: "n2", Doc: models.Notification{UserID: "u2"}},
	}

	n, err := s.InsertMany(ctx, storage.Notifications, batch)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	require.NoError(t, s.Update(ctx, storage.Notifications, "n1", storage.Fields{"read": true}))

	n, err = s.InsertMany(ctx, storage.Notifications, batch)
	require.NoError(t, err)
	require.Zero(t, n)

	var got models.Notification
	require.NoError(t, s.Get(ctx, storage.Notifications, "n1", &got))
	require.True(t, got.Read)

	_, err = s.InsertMany(ctx, storage.Notifications, make([]storage.Keyed, storage.MaxBatchSize+1))
	require.ErrorIs(t, err, storage.ErrInvalidArgument)
}

func TestUpdateWhereAndDelete(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Insert(ctx, storage.Notifications, fmt.Sprintf("n%d", i), models.Notification{UserID: "u1"}))
	}

	n, err := s.UpdateWhere(ctx, storage.Notifications,
		[]storage.Filter{storage.Eq("user_id", "u1"), storage.Eq("read", false)}, storage.Fields{"read": true})
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	unread, err := s.Count(ctx, storage.Notifications, storage.Eq("read", false))
	require.NoError(t, err)
	require.Zero(t, unread)

	require.NoError(t, s.Delete(ctx, storage.Notifications, "n0"))
	require.ErrorIs(t, s.Delete(ctx, storage.Notifications, "n0"), storage.ErrNotFound)
}

func TestSubscribe_PushesOnMatchingWrites(t *testing.T) {
	t.Parallel()

	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		pages [][]models.Notification
	)

	unsubscribe, err := s.Subscribe(ctx, storage.Notifications, storage.Query{
		Filters: []storage.Filter{storage.Eq("user_id", "u1")},
		OrderBy: "created_at",
		Desc:    true,
	}, func(snap storage.Snapshot) {
		var page []models.Notification
		require.NoError(t, snap.Decode(&page))
		mu.Lock()
		pages = append(pages, page)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, s.Insert(ctx, storage.Notifications, "other", models.Notification{UserID: "u2"}))
	require.NoError(t, s.Insert(ctx, storage.Notifications, "mine", models.Notification{UserID: "u1"}))

	mu.Lock()
	require.Len(t, pages, 2)
	require.Empty(t, pages[0])
	require.Len(t, pages[1], 1)
	require.Equal(t, "mine", pages[1][0].ID)
	mu.Unlock()

	unsubscribe()
	require.NoError(t, s.Insert(ctx, storage.Notifications, "late", models.Notification{UserID: "u1"}))

	mu.Lock()
	require.Len(t, pages, 2)
	mu.Unlock()
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()

	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Create(ctx, storage.Posts, models.Post{})
	require.ErrorIs(t, err, context.Canceled)
}
