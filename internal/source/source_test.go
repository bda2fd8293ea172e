package source

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/notifyhub/internal/model"
)

func TestHeaderAuthorizer(t *testing.T) {
	cases := []struct {
		name   string
		auth   model.AuthMaterial
		header string
		want   string
	}{
		{"api key default header", &model.APIKeyAuth{Key: "k"}, "Authorization", "Bearer k"},
		{"api key custom header", &model.APIKeyAuth{Key: "k", HeaderName: "X-Api-Key"}, "X-Api-Key", "k"},
		{"oauth2", &model.OAuth2Auth{AccessToken: "tok"}, "Authorization", "Bearer tok"},
		{"basic", &model.BasicAuth{Username: "u", Password: "p"}, "Authorization", "Basic dTpw"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			authorize, err := HeaderAuthorizer(model.ServiceTypeJira, tc.auth)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			authorize(req)
			assert.Equal(t, tc.want, req.Header.Get(tc.header))
		})
	}
}

func TestHeaderAuthorizerRejectsMissingToken(t *testing.T) {
	_, err := HeaderAuthorizer(model.ServiceTypeGithub, &model.OAuth2Auth{})
	assert.True(t, IsAuthError(err))

	_, err = HeaderAuthorizer(model.ServiceTypeGithub, &model.CustomAuth{})
	assert.Error(t, err)
}

func TestLimitTags(t *testing.T) {
	tags := []string{"a", "", "a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"}
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}, LimitTags(tags))
}
