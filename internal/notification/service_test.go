package notification_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/notifyhub/internal/apperr"
	"github.com/nhle/notifyhub/internal/events"
	"github.com/nhle/notifyhub/internal/model"
	"github.com/nhle/notifyhub/internal/notification"
	"github.com/nhle/notifyhub/tests/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newService(t *testing.T) (*notification.Service, *recorder) {
	t.Helper()
	rec := &recorder{}
	return notification.NewService(testutil.NewTestStore(t), rec, zap.NewNop()), rec
}

func ptr[T any](v T) *T {
	return &v
}

func create(t *testing.T, svc *notification.Service, title string, source model.ServiceType, tags ...string) *model.Notification {
	t.Helper()
	n, err := svc.Create(context.Background(), notification.CreateRequest{
		Title:    title,
		Priority: model.PriorityHigh,
		Metadata: model.Metadata{Source: source, Tags: tags},
	})
	require.NoError(t, err)
	return n
}

func TestCreateReadArchive(t *testing.T) {
	ctx := context.Background()
	svc, rec := newService(t)

	n := create(t, svc, "PR review", model.ServiceTypeGithub)
	assert.Equal(t, model.StatusNew, n.Status)
	assert.Nil(t, n.ReadAt)

	read, err := svc.MarkRead(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRead, read.Status)
	require.NotNil(t, read.ReadAt)
	assert.False(t, read.ReadAt.Before(n.CreatedAt))

	archived, err := svc.Archive(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusArchived, archived.Status)
	assert.Equal(t, *read.ReadAt, *archived.ReadAt)

	assert.Equal(t, []events.Type{
		events.NotificationCreated,
		events.NotificationRead,
		events.NotificationArchived,
	}, rec.types())
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   notification.CreateRequest
		field string
	}{
		{"missing title", notification.CreateRequest{Metadata: model.Metadata{Source: model.ServiceTypeJira}}, "title"},
		{"blank title", notification.CreateRequest{Title: "  ", Metadata: model.Metadata{Source: model.ServiceTypeJira}}, "title"},
		{"unknown source", notification.CreateRequest{Title: "x", Metadata: model.Metadata{Source: "Fax"}}, "metadata.source"},
		{"bad priority", notification.CreateRequest{Title: "x", Priority: "Urgent", Metadata: model.Metadata{Source: model.ServiceTypeJira}}, "priority"},
		{
			"too many tags",
			notification.CreateRequest{Title: "x", Metadata: model.Metadata{
				Source: model.ServiceTypeJira,
				Tags:   []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11"},
			}},
			"metadata.tags",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.req)
			var verr *apperr.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, rec := newService(t)

	req := notification.CreateRequest{
		Title:    "PROJ-1 Fix login",
		Metadata: model.Metadata{Source: model.ServiceTypeJira, ExternalID: ptr("PROJ-1")},
	}
	first, created, err := svc.Ingest(ctx, req)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := svc.Ingest(ctx, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, err = svc.Create(ctx, req)
	assert.True(t, apperr.IsValidation(err))
	assert.Len(t, rec.types(), 1)
}

func TestBlankExternalIDIsNotAnIdentity(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	req := notification.CreateRequest{
		Title: "Build failed",
		Metadata: model.Metadata{
			Source:     model.ServiceTypeGithub,
			ExternalID: ptr(""),
			URL:        ptr("  "),
		},
	}
	for range 2 {
		n, err := svc.Create(ctx, req)
		require.NoError(t, err)
		assert.Nil(t, n.Metadata.ExternalID)
		assert.Nil(t, n.Metadata.URL)
	}

	req.Metadata.ExternalID = ptr("   ")
	for range 2 {
		_, created, err := svc.Ingest(ctx, req)
		require.NoError(t, err)
		assert.True(t, created)
	}

	page, err := svc.List(ctx, notification.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
}

func TestTransitionRules(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	n := create(t, svc, "deploy", model.ServiceTypeGitlab)

	_, err := svc.MarkActionTaken(ctx, n.ID)
	assert.True(t, apperr.IsInvalidState(err), "New -> ActionTaken must fail")

	ar, err := svc.MarkActionRequired(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActionRequired, ar.Status)

	taken, err := svc.MarkActionTaken(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, taken.ActionTakenAt)
	require.NotNil(t, taken.ReadAt)

	again, err := svc.MarkActionTaken(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, *taken.ActionTakenAt, *again.ActionTakenAt)
	assert.Equal(t, taken.UpdatedAt, again.UpdatedAt)

	deleted, err := svc.Delete(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeleted, deleted.Status)

	for _, op := range []func(context.Context, string) (*model.Notification, error){
		svc.MarkRead, svc.MarkActionRequired, svc.MarkActionTaken, svc.Archive,
	} {
		_, err := op(ctx, n.ID)
		assert.True(t, apperr.IsInvalidState(err))
	}

	_, err = svc.Delete(ctx, n.ID)
	assert.NoError(t, err)

	_, err = svc.MarkRead(ctx, "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestArchivedCannotBeRead(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	n := create(t, svc, "newsletter", model.ServiceTypeEmail)

	_, err := svc.Archive(ctx, n.ID)
	require.NoError(t, err)

	_, err = svc.MarkRead(ctx, n.ID)
	var serr *apperr.InvalidStateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "Archived", serr.From)
	assert.Equal(t, "Read", serr.To)
}

func TestConcurrentTransitionsOnOneNotification(t *testing.T) {
	ctx := context.Background()
	svc, rec := newService(t)
	n := create(t, svc, "incident", model.ServiceTypeMicrosoft)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.MarkRead(ctx, n.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := svc.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRead, got.Status)
	// One Created and exactly one Read event.
	assert.Len(t, rec.types(), 2)
}

func TestBulkOperations(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	a := create(t, svc, "a", model.ServiceTypeGithub)
	b := create(t, svc, "b", model.ServiceTypeGithub)
	c := create(t, svc, "c", model.ServiceTypeGithub)

	_, err := svc.MarkActionRequired(ctx, c.ID)
	require.NoError(t, err)

	count, err := svc.MarkAllRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActionRequired, got.Status)

	count, err = svc.ArchiveAllRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	page, err := svc.List(ctx, notification.Filter{Status: ptr(model.StatusRead)})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	for _, id := range []string{a.ID, b.ID} {
		got, err := svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusArchived, got.Status)
		assert.NotNil(t, got.ReadAt)
	}
}

func TestListFiltersAndPaging(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	base := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	for i := range 25 {
		source := model.ServiceTypeGithub
		if i%5 == 0 {
			source = model.ServiceTypeJira
		}
		created := base.AddDate(0, 0, i)
		_, err := svc.Create(ctx, notification.CreateRequest{
			Title:     "item",
			Metadata:  model.Metadata{Source: source, Tags: []string{"team"}},
			CreatedAt: &created,
		})
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, notification.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 25, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PerPage)
	assert.Len(t, page.Notifications, 20)
	assert.True(t, page.HasMore)
	assert.True(t, page.Notifications[0].CreatedAt.After(page.Notifications[1].CreatedAt))

	page, err = svc.List(ctx, notification.Filter{Page: ptr(2)})
	require.NoError(t, err)
	assert.Len(t, page.Notifications, 5)
	assert.False(t, page.HasMore)

	page, err = svc.List(ctx, notification.Filter{Source: ptr(model.ServiceTypeJira)})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)

	page, err = svc.List(ctx, notification.Filter{
		FromDate: notification.Day(2024, 1, 10),
		ToDate:   notification.Day(2024, 1, 12),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
}

func TestListValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	var f notification.Filter
	require.NoError(t, json.Unmarshal([]byte(`{"fromDate":"2024-02-01","toDate":"2024-01-01"}`), &f))
	_, err := svc.List(ctx, f)
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "fromDate", verr.Field)

	_, err = svc.List(ctx, notification.Filter{Page: ptr(0)})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.List(ctx, notification.Filter{PerPage: ptr(101)})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "perPage", verr.Field)

	_, err = svc.List(ctx, notification.Filter{PerPage: ptr(-1)})
	assert.True(t, apperr.IsValidation(err))
}

func TestListExcludesDeletedByDefault(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	create(t, svc, "keep", model.ServiceTypeGithub)
	gone := create(t, svc, "gone", model.ServiceTypeGithub)
	_, err := svc.Delete(ctx, gone.ID)
	require.NoError(t, err)

	page, err := svc.List(ctx, notification.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	page, err = svc.List(ctx, notification.Filter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = svc.List(ctx, notification.Filter{Status: ptr(model.StatusDeleted)})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}
