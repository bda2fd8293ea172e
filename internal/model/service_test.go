package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceTypeValid(t *testing.T) {
	assert.True(t, ServiceTypeJira.Valid())
	assert.True(t, CustomServiceType("slack").Valid())
	assert.False(t, CustomServiceType(" ").Valid())
	assert.False(t, ServiceType("Bitbucket").Valid())
	assert.Equal(t, "slack", CustomServiceType("slack").CustomTag())
}

func TestServiceTypeSupports(t *testing.T) {
	assert.True(t, ServiceTypeEmail.Supports(AuthTypeBasicAuth))
	assert.False(t, ServiceTypeEmail.Supports(AuthTypeAPIKey))
	assert.True(t, ServiceTypeJira.Supports(AuthTypeAPIKey))
	assert.False(t, ServiceTypeGoogle.Supports(AuthTypeBasicAuth))
	assert.True(t, CustomServiceType("x").Supports(AuthTypeCustom))
	assert.False(t, CustomServiceType("x").Supports(AuthType("Kerberos")))
}

func TestRedactedMasksSecretsWithoutTouchingOriginal(t *testing.T) {
	cfg := ServiceConfig{
		ID:          "s1",
		ServiceType: ServiceTypeGithub,
		Auth: &OAuth2Auth{
			ClientID:     "client",
			ClientSecret: "secret",
			TokenURL:     "https://github.com/login/oauth/access_token",
			AccessToken:  "access",
		},
	}

	red := cfg.Redacted()
	oauth := red.Auth.(*OAuth2Auth)
	assert.Equal(t, "client", oauth.ClientID)
	assert.Equal(t, RedactedSecret, oauth.ClientSecret)
	assert.Equal(t, RedactedSecret, oauth.AccessToken)
	assert.Empty(t, oauth.RefreshToken)

	assert.Equal(t, "secret", cfg.Auth.(*OAuth2Auth).ClientSecret)
}

func TestServiceConfigJSONCarriesAuthVariant(t *testing.T) {
	exp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cfg := ServiceConfig{
		ID:          "s1",
		Name:        "work jira",
		ServiceType: ServiceTypeJira,
		Auth:        &APIKeyAuth{Key: "k", HeaderName: "Authorization"},
		Endpoints:   Endpoints{BaseURL: "https://jira.example.com"},
		Enabled:     true,
		CreatedAt:   exp,
		UpdatedAt:   exp,
	}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"authType":"ApiKey"`)
	assert.Contains(t, string(data), `"authConfig":{"key":"k","headerName":"Authorization"}`)

	var back ServiceConfig
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, cfg, back)
}

func TestEndpointsPath(t *testing.T) {
	e := Endpoints{Paths: map[string]string{"search": "/rest/api/3/search"}}
	assert.Equal(t, "/rest/api/3/search", e.Path("search", "/rest/api/2/search"))
	assert.Equal(t, "/rest/api/2/myself", e.Path("myself", "/rest/api/2/myself"))
}
