package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/notifyhub/internal/apperr"
	"github.com/nhle/notifyhub/internal/model"
	"github.com/nhle/notifyhub/internal/store"
	"github.com/nhle/notifyhub/tests/testutil"
)

func TestServiceConfigLifecycle(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	exp := testutil.Epoch.Add(time.Hour)
	cfg := model.ServiceConfig{
		ID:          "svc-1",
		Name:        "github",
		ServiceType: model.ServiceTypeGithub,
		Auth: &model.OAuth2Auth{
			ClientID:       "client",
			TokenURL:       "https://github.com/login/oauth/access_token",
			AccessToken:    "access",
			RefreshToken:   "refresh",
			TokenExpiresAt: &exp,
		},
		Endpoints: model.Endpoints{BaseURL: "https://api.github.com"},
		Enabled:   true,
		Metadata:  map[string]string{"org": "acme"},
		CreatedAt: testutil.Epoch,
		UpdatedAt: testutil.Epoch,
	}
	require.NoError(t, s.InsertService(ctx, cfg))

	got, err := s.GetService(ctx, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, cfg, *got)

	got.Enabled = false
	got.NeedsReauth = true
	synced := testutil.Epoch.Add(2 * time.Hour)
	got.LastSync = &synced
	fetched := testutil.Epoch.Add(time.Hour)
	got.LastFetch = &fetched
	require.NoError(t, s.UpdateService(ctx, *got))

	again, err := s.GetService(ctx, "svc-1")
	require.NoError(t, err)
	assert.False(t, again.Enabled)
	assert.True(t, again.NeedsReauth)
	require.NotNil(t, again.LastSync)
	assert.True(t, synced.Equal(*again.LastSync))
	require.NotNil(t, again.LastFetch)
	assert.True(t, fetched.Equal(*again.LastFetch))

	list, err := s.ListServices(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteService(ctx, "svc-1"))
	_, err = s.GetService(ctx, "svc-1")
	assert.True(t, apperr.IsNotFound(err))
	assert.True(t, apperr.IsNotFound(s.DeleteService(ctx, "svc-1")))
}

func TestUpdateNotificationStateIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	n := testutil.Notification(model.ServiceTypeGithub, testutil.Epoch)
	require.NoError(t, s.InsertNotification(ctx, n))

	first := n
	_, err := first.Transition(model.StatusRead, testutil.Epoch.Add(time.Minute))
	require.NoError(t, err)
	ok, err := s.UpdateNotificationState(ctx, first)
	require.NoError(t, err)
	assert.True(t, ok)

	stale := n
	_, err = stale.Transition(model.StatusArchived, testutil.Epoch.Add(time.Minute))
	require.NoError(t, err)
	ok, err = s.UpdateNotificationState(ctx, stale)
	require.NoError(t, err)
	assert.False(t, ok, "write against an old version must be rejected")

	got, err := s.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRead, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestInsertNotificationRejectsDuplicateExternalID(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	ext := "PROJ-1"
	a := testutil.Notification(model.ServiceTypeJira, testutil.Epoch)
	a.Metadata.ExternalID = &ext
	b := testutil.Notification(model.ServiceTypeJira, testutil.Epoch)
	b.Metadata.ExternalID = &ext

	require.NoError(t, s.InsertNotification(ctx, a))
	assert.ErrorIs(t, s.InsertNotification(ctx, b), store.ErrDuplicateExternalID)

	found, err := s.FindNotificationByExternalID(ctx, model.ServiceTypeJira, ext)
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)
}

func TestQueryNotificationsFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	for i := 0; i < 5; i++ {
		n := testutil.Notification(model.ServiceTypeGithub, testutil.Epoch.Add(time.Duration(i)*time.Hour), "review")
		require.NoError(t, s.InsertNotification(ctx, n))
	}
	jira := testutil.Notification(model.ServiceTypeJira, testutil.Epoch.Add(10*time.Hour), "bug", "urgent")
	require.NoError(t, s.InsertNotification(ctx, jira))

	deleted := testutil.Notification(model.ServiceTypeJira, testutil.Epoch.Add(11*time.Hour))
	deleted.Status = model.StatusDeleted
	require.NoError(t, s.InsertNotification(ctx, deleted))

	page, total, err := s.QueryNotifications(ctx, store.NotificationQuery{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	require.Len(t, page, 2)
	assert.Equal(t, jira.ID, page[0].ID)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	_, total, err = s.QueryNotifications(ctx, store.NotificationQuery{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Equal(t, 7, total)

	status := model.StatusDeleted
	got, total, err := s.QueryNotifications(ctx, store.NotificationQuery{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, deleted.ID, got[0].ID)

	got, total, err = s.QueryNotifications(ctx, store.NotificationQuery{Tags: []string{"urgent", "nope"}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"bug", "urgent"}, got[0].Metadata.Tags)

	source := model.ServiceTypeGithub
	from := testutil.Epoch.Add(time.Hour)
	to := testutil.Epoch.Add(3 * time.Hour)
	_, total, err = s.QueryNotifications(ctx, store.NotificationQuery{Source: &source, From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestBulkTransitionsSkipRecordsPastRead(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	fresh := testutil.Notification(model.ServiceTypeGithub, testutil.Epoch)
	taken := testutil.Notification(model.ServiceTypeGithub, testutil.Epoch)
	taken.Status = model.StatusActionTaken
	for _, n := range []model.Notification{fresh, taken} {
		require.NoError(t, s.InsertNotification(ctx, n))
	}

	now := testutil.Epoch.Add(time.Hour)
	ids, err := s.MarkAllNewRead(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{fresh.ID}, ids)

	got, err := s.GetNotification(ctx, taken.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActionTaken, got.Status)

	got, err = s.GetNotification(ctx, fresh.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ReadAt)
	assert.True(t, now.Equal(*got.ReadAt))

	ids, err = s.ArchiveAllRead(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{fresh.ID}, ids)

	status := model.StatusRead
	_, total, err := s.QueryNotifications(ctx, store.NotificationQuery{Status: &status})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCacheEntriesEvictOldestInsertion(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	put := func(key string, at time.Time) {
		require.NoError(t, s.PutCacheEntry(ctx, store.CacheEntry{
			Key:        key,
			Value:      []byte(`"` + key + `"`),
			TTLClass:   "short",
			InsertedAt: at,
			ExpiresAt:  at.Add(time.Hour),
		}, 2))
	}
	put("a", testutil.Epoch)
	put("b", testutil.Epoch.Add(time.Second))
	put("c", testutil.Epoch.Add(2*time.Second))

	a, err := s.GetCacheEntry(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, a)

	c, err := s.GetCacheEntry(ctx, "c")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, []byte(`"c"`), c.Value)

	n, err := s.CountCacheEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.ClearCache(ctx))
	n, err = s.CountCacheEntries(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentWritesOnMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n := testutil.Notification(model.ServiceTypeGithub, testutil.Epoch.Add(time.Duration(i)*time.Second))
			assert.NoError(t, s.InsertNotification(ctx, n))
		}(i)
	}
	wg.Wait()

	_, total, err := s.QueryNotifications(ctx, store.NotificationQuery{})
	require.NoError(t, err)
	assert.Equal(t, 20, total)
}
