package gitlab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/notifyhub/internal/model"
	"github.com/nhle/notifyhub/internal/source"
)

func newTestAdapter(t *testing.T, auth model.AuthMaterial, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := NewAdapter(model.ServiceConfig{
		ServiceType: model.ServiceTypeGitlab,
		Auth:        auth,
		Endpoints:   model.Endpoints{BaseURL: srv.URL},
	})
	require.NoError(t, err)
	return a
}

const todosBody = `[
	{"id":501,"action_name":"review_requested","target_type":"MergeRequest",
	 "target_url":"https://gitlab.com/acme/api/-/merge_requests/12",
	 "body":"PROJ-7 Add retries","state":"pending",
	 "updated_at":"2024-03-02T10:00:00Z",
	 "project":{"path_with_namespace":"acme/api","web_url":"https://gitlab.com/acme/api"},
	 "author":{"username":"jdoe"},
	 "target":{"iid":12,"title":"PROJ-7 Add retries"}},
	{"id":400,"action_name":"marked","target_type":"Issue",
	 "target_url":"https://gitlab.com/acme/api/-/issues/3","state":"pending",
	 "updated_at":"2024-02-01T10:00:00Z",
	 "author":{"username":"jdoe"},
	 "target":{"iid":3,"title":"Old issue"}}
]`

func TestFetchNotifications(t *testing.T) {
	a := newTestAdapter(t, &model.APIKeyAuth{Key: "glpat-token"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/todos", r.URL.Path)
		assert.Equal(t, "pending", r.URL.Query().Get("state"))
		assert.Equal(t, "glpat-token", r.Header.Get("PRIVATE-TOKEN"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(todosBody))
	})

	drafts, err := a.FetchNotifications(context.Background(), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, drafts, 1)

	d := drafts[0]
	assert.Equal(t, "501", d.ExternalID)
	assert.Equal(t, "PROJ-7 Add retries", d.Title)
	assert.Equal(t, "jdoe review requested in acme/api (MergeRequest)", d.Content)
	assert.Equal(t, model.PriorityHigh, d.Priority)
	assert.Equal(t, "https://gitlab.com/acme/api/-/merge_requests/12", d.URL)
	assert.Equal(t, []string{"review_requested", "mergerequest", "jira:PROJ-7"}, d.Tags)
	assert.Equal(t, "acme/api", d.CustomData["project"])
}

func TestFetchNotificationsWithOAuthToken(t *testing.T) {
	a := newTestAdapter(t, &model.OAuth2Auth{AccessToken: "oauth-token"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer oauth-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	})

	drafts, err := a.FetchNotifications(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestActionPriority(t *testing.T) {
	assert.Equal(t, model.PriorityCritical, actionPriority("build_failed"))
	assert.Equal(t, model.PriorityHigh, actionPriority("mentioned"))
	assert.Equal(t, model.PriorityLow, actionPriority("marked"))
	assert.Equal(t, model.PriorityMedium, actionPriority("member_access_requested"))
}

func TestValidateConnection(t *testing.T) {
	a := newTestAdapter(t, &model.APIKeyAuth{Key: "glpat-token"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/user", r.URL.Path)
		_, _ = w.Write([]byte(`{"username":"jdoe","name":"J Doe"}`))
	})

	who, err := a.ValidateConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "jdoe", who)
}

func TestValidateConnectionUnauthorized(t *testing.T) {
	a := newTestAdapter(t, &model.APIKeyAuth{Key: "revoked"}, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"401 Unauthorized"}`))
	})

	_, err := a.ValidateConnection(context.Background())
	assert.True(t, source.IsAuthError(err))
}

func TestAPIErrorMessage(t *testing.T) {
	a := newTestAdapter(t, &model.APIKeyAuth{Key: "k"}, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"403 Forbidden"}`))
	})

	_, err := a.FetchNotifications(context.Background(), time.Time{})
	require.Error(t, err)
	assert.False(t, source.IsAuthError(err))
	assert.Contains(t, err.Error(), "403 Forbidden")
}
