package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBraveSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "incident runbook", r.URL.Query().Get("q"))
		assert.Equal(t, "brave-key", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"web":{"results":[
			{"title":"Runbook basics","description":" How to run an incident ","url":"https://example.com/runbook"},
			{"title":"On-call","url":"https://example.com/oncall"}
		]}}`))
	}))
	t.Cleanup(srv.Close)

	results, err := NewBraveSearch(srv.URL, "brave-key").Search(context.Background(), "incident runbook")
	require.NoError(t, err)
	assert.Equal(t, []SearchResult{
		{Title: "Runbook basics", Description: "How to run an incident", URL: "https://example.com/runbook"},
		{Title: "On-call", URL: "https://example.com/oncall"},
	}, results)
}

func TestBraveSearchWithoutWebSection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"type":"search","query":{"original":"zzz"}}`))
	}))
	t.Cleanup(srv.Close)

	results, err := NewBraveSearch(srv.URL, "brave-key").Search(context.Background(), "zzz")
	require.NoError(t, err)
	assert.Equal(t, []SearchResult{}, results)
}

func TestBraveSearchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		auth   bool
	}{
		{name: "rejected token", status: http.StatusUnauthorized, auth: true},
		{name: "rate limited", status: http.StatusTooManyRequests},
		{name: "result without url", status: http.StatusOK, body: `{"web":{"results":[{"title":"x"}]}}`},
		{name: "not json", status: http.StatusOK, body: `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			_, err := NewBraveSearch(srv.URL, "brave-key").Search(context.Background(), "q")
			require.Error(t, err)
			assert.Equal(t, tt.auth, errors.Is(err, ErrUnauthorized))
		})
	}
}

func TestBraveSearchNeedsKey(t *testing.T) {
	_, err := NewBraveSearch("", "").Search(context.Background(), "q")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}
