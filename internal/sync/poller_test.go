package sync_test

import (
	"context"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/nhle/notifyhub/internal/apperr"
	"github.com/nhle/notifyhub/internal/credential"
	"github.com/nhle/notifyhub/internal/model"
	"github.com/nhle/notifyhub/internal/notification"
	"github.com/nhle/notifyhub/internal/source"
	"github.com/nhle/notifyhub/internal/store"
	"github.com/nhle/notifyhub/internal/sync"
	"github.com/nhle/notifyhub/tests/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubSource struct {
	mu     gosync.Mutex
	st     model.ServiceType
	drafts []source.Draft
	err    error
	since  []time.Time
}

func (s *stubSource) Type() model.ServiceType { return s.st }

func (s *stubSource) ValidateConnection(context.Context) (string, error) { return "ok", nil }

func (s *stubSource) FetchNotifications(_ context.Context, since time.Time) ([]source.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.since = append(s.since, since)
	return s.drafts, s.err
}

type fixture struct {
	store    *store.SQLiteStore
	creds    *credential.Manager
	notes    *notification.Service
	poller   *sync.Poller
	adapters map[string]*stubSource
	built    []string
	mu       gosync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    testutil.NewTestStore(t),
		adapters: map[string]*stubSource{},
	}
	f.creds = credential.NewManager(f.store, zap.NewNop())
	f.notes = notification.NewService(f.store, nil, zap.NewNop())
	f.poller = sync.New(f.creds, f.notes, func(cfg model.ServiceConfig) (source.Source, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.built = append(f.built, cfg.ID)
		src, ok := f.adapters[cfg.ID]
		if !ok {
			return nil, fmt.Errorf("%w %s", source.ErrUnsupported, cfg.ServiceType)
		}
		return src, nil
	}, model.SyncConfig{Interval: 20 * time.Millisecond, FetchTimeout: time.Second}, zap.NewNop())
	return f
}

func (f *fixture) addService(t *testing.T, cfg model.ServiceConfig, src *stubSource) {
	t.Helper()
	require.NoError(t, f.store.InsertService(context.Background(), cfg))
	if src != nil {
		f.adapters[cfg.ID] = src
	}
}

func drafts() []source.Draft {
	return []source.Draft{
		{
			ExternalID: "PROJ-1",
			Title:      "Fix login",
			Content:    "Assigned to you",
			Priority:   model.PriorityHigh,
			URL:        "https://jira.example.com/browse/PROJ-1",
			Tags:       []string{"bug", "bug", ""},
			CustomData: map[string]any{"project": "PROJ"},
			OccurredAt: testutil.Epoch,
		},
		{
			ExternalID: "PROJ-2",
			Title:      "Write docs",
			Priority:   model.PriorityLow,
			OccurredAt: testutil.Epoch.Add(time.Hour),
		},
	}
}

func TestRunOnceIngestsIdempotently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := testutil.APIKeyService(model.ServiceTypeJira, "jira-key")
	src := &stubSource{st: model.ServiceTypeJira, drafts: drafts()}
	f.addService(t, svc, src)

	reports, err := f.poller.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.NoError(t, reports[0].Err)
	assert.Equal(t, 2, reports[0].Fetched)
	assert.Equal(t, 2, reports[0].Created)

	page, err := f.notes.List(ctx, notification.Filter{})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)

	first := page.Notifications[1]
	assert.Equal(t, "Fix login", first.Title)
	assert.Equal(t, model.PriorityHigh, first.Priority)
	assert.Equal(t, model.ServiceTypeJira, first.Metadata.Source)
	assert.Equal(t, []string{"bug"}, first.Metadata.Tags)
	assert.True(t, first.CreatedAt.Equal(testutil.Epoch))
	require.NotNil(t, first.Metadata.URL)
	assert.Equal(t, "https://jira.example.com/browse/PROJ-1", *first.Metadata.URL)

	stored, err := f.creds.Get(ctx, svc.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastSync)
	require.NotNil(t, stored.LastFetch)

	reports, err = f.poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, reports[0].Created)

	page, err = f.notes.List(ctx, notification.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	require.Len(t, src.since, 2)
	assert.True(t, src.since[0].IsZero())
	assert.True(t, src.since[1].Equal(*stored.LastFetch))
}

func TestConnectionTestDoesNotAdvanceFetchCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := testutil.APIKeyService(model.ServiceTypeJira, "jira-key")
	src := &stubSource{st: model.ServiceTypeJira, drafts: drafts()}
	f.addService(t, svc, src)

	creds := credential.NewManager(f.store, zap.NewNop(), credential.WithSourceFactory(
		func(model.ServiceConfig) (source.Source, error) { return src, nil },
	))
	_, err := creds.TestConnection(ctx, svc.ID)
	require.NoError(t, err)

	tested, err := f.creds.Get(ctx, svc.ID)
	require.NoError(t, err)
	require.NotNil(t, tested.LastSync)
	assert.Nil(t, tested.LastFetch)

	reports, err := f.poller.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 2, reports[0].Created)

	require.Len(t, src.since, 1)
	assert.True(t, src.since[0].IsZero())
}

func TestServiceWithoutAdapterIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := testutil.APIKeyService(model.ServiceTypeLinkedIn, "li-key")
	f.addService(t, svc, nil)

	reports, err := f.poller.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Skipped)
	assert.NoError(t, reports[0].Err)

	stored, err := f.creds.Get(ctx, svc.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastFetch)
	assert.False(t, stored.NeedsReauth)
}

func TestRunOnceSkipsDisabledServices(t *testing.T) {
	f := newFixture(t)
	svc := testutil.APIKeyService(model.ServiceTypeGithub, "gh-key")
	svc.Enabled = false
	f.addService(t, svc, &stubSource{st: model.ServiceTypeGithub, drafts: drafts()})

	reports, err := f.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reports)
	assert.Empty(t, f.built)
}

func TestAuthFailureStopsOnlyThatService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rejected := testutil.APIKeyService(model.ServiceTypeGithub, "revoked")
	f.addService(t, rejected, &stubSource{
		st:  model.ServiceTypeGithub,
		err: &source.AuthError{ServiceType: model.ServiceTypeGithub, Message: "401"},
	})
	healthy := testutil.APIKeyService(model.ServiceTypeJira, "jira-key")
	f.addService(t, healthy, &stubSource{st: model.ServiceTypeJira, drafts: drafts()})

	reports, err := f.poller.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	byID := map[string]sync.Report{}
	for _, r := range reports {
		byID[r.ServiceID] = r
	}
	assert.True(t, apperr.IsAuth(byID[rejected.ID].Err))
	assert.NoError(t, byID[healthy.ID].Err)
	assert.Equal(t, 2, byID[healthy.ID].Created)

	stored, err := f.creds.Get(ctx, rejected.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastSync)
}

func TestExpiredTokenWithoutRefreshIsFlagged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expired := testutil.Epoch.Add(-time.Hour)
	svc := testutil.APIKeyService(model.ServiceTypeGithub, "")
	svc.Auth = &model.OAuth2Auth{
		ClientID:       "client",
		TokenURL:       "https://auth.example.com/token",
		AccessToken:    "stale",
		TokenExpiresAt: &expired,
	}
	f.addService(t, svc, &stubSource{st: model.ServiceTypeGithub, drafts: drafts()})

	reports, err := f.poller.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, apperr.IsAuth(reports[0].Err))
	assert.Empty(t, f.built)

	stored, err := f.creds.Get(ctx, svc.ID)
	require.NoError(t, err)
	assert.True(t, stored.NeedsReauth)
}

func TestInvalidDraftsAreSkipped(t *testing.T) {
	f := newFixture(t)
	svc := testutil.APIKeyService(model.ServiceTypeJira, "jira-key")
	items := append(drafts(), source.Draft{ExternalID: "PROJ-3", Title: "   "})
	f.addService(t, svc, &stubSource{st: model.ServiceTypeJira, drafts: items})

	reports, err := f.poller.RunOnce(context.Background())
	require.NoError(t, err)
	require.NoError(t, reports[0].Err)
	assert.Equal(t, 3, reports[0].Fetched)
	assert.Equal(t, 2, reports[0].Created)
}

func TestLongFieldsAreClipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := testutil.APIKeyService(model.ServiceTypeJira, "jira-key")
	long := make([]rune, 300)
	for i := range long {
		long[i] = 'é'
	}
	f.addService(t, svc, &stubSource{st: model.ServiceTypeJira, drafts: []source.Draft{
		{ExternalID: "PROJ-9", Title: string(long)},
	}})

	reports, err := f.poller.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, reports[0].Created)

	page, err := f.notes.List(ctx, notification.Filter{})
	require.NoError(t, err)
	assert.Len(t, []rune(page.Notifications[0].Title), 200)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	svc := testutil.APIKeyService(model.ServiceTypeJira, "jira-key")
	src := &stubSource{st: model.ServiceTypeJira}
	f.addService(t, svc, src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.poller.Run(ctx) }()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.since) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
