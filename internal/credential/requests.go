package credential

import (
	"strings"
	"time"

	"github.com/nhle/notifyhub/internal/apperr"
	"github.com/nhle/notifyhub/internal/model"
)

// CreateServiceRequest describes a new service config. Exactly one of the
// auth material fields must be set, and it must match AuthType.
type CreateServiceRequest struct {
	Name        string            `json:"name" validate:"required,max=100"`
	ServiceType model.ServiceType `json:"serviceType" validate:"required,servicetype"`
	AuthType    model.AuthType    `json:"authType" validate:"required,authtype"`

	OAuth2    *model.OAuth2Auth `json:"oauth2,omitempty"`
	BasicAuth *model.BasicAuth  `json:"basicAuth,omitempty"`
	APIKey    *model.APIKeyAuth `json:"apiKey,omitempty"`
	Custom    *model.CustomAuth `json:"custom,omitempty"`

	Endpoints model.Endpoints   `json:"endpoints"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	// Enabled defaults to true.
	Enabled *bool `json:"enabled,omitempty"`
}

// authMaterial returns the single populated variant.
func (r CreateServiceRequest) authMaterial() (model.AuthMaterial, error) {
	var found []model.AuthMaterial
	if r.OAuth2 != nil {
		found = append(found, r.OAuth2)
	}
	if r.BasicAuth != nil {
		found = append(found, r.BasicAuth)
	}
	if r.APIKey != nil {
		found = append(found, r.APIKey)
	}
	if r.Custom != nil {
		found = append(found, r.Custom)
	}

	if len(found) != 1 {
		return nil, apperr.Validation("authConfig",
			"exactly one auth material variant is required, got %d", len(found))
	}
	if found[0].AuthType() != r.AuthType {
		return nil, apperr.Validation("authConfig",
			"%s material does not match auth type %s", found[0].AuthType(), r.AuthType)
	}
	return model.CloneAuth(found[0]), nil
}

// AuthUpdate carries the auth fields to change. Nil fields are left as
// they are; every supplied field must belong to the stored auth type.
type AuthUpdate struct {
	ClientID       *string    `json:"clientId,omitempty"`
	ClientSecret   *string    `json:"clientSecret,omitempty"`
	RedirectURI    *string    `json:"redirectUri,omitempty"`
	AuthURL        *string    `json:"authUrl,omitempty"`
	TokenURL       *string    `json:"tokenUrl,omitempty"`
	Scopes         []string   `json:"scopes,omitempty"`
	AccessToken    *string    `json:"accessToken,omitempty"`
	RefreshToken   *string    `json:"refreshToken,omitempty"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`

	Username *string `json:"username,omitempty"`
	Password *string `json:"password,omitempty"`

	Key        *string `json:"key,omitempty"`
	HeaderName *string `json:"headerName,omitempty"`

	Fields map[string]string `json:"fields,omitempty"`
}

type updateField struct {
	name     string
	authType model.AuthType
	set      bool
}

func (u AuthUpdate) fields() []updateField {
	return []updateField{
		{"clientId", model.AuthTypeOAuth2, u.ClientID != nil},
		{"clientSecret", model.AuthTypeOAuth2, u.ClientSecret != nil},
		{"redirectUri", model.AuthTypeOAuth2, u.RedirectURI != nil},
		{"authUrl", model.AuthTypeOAuth2, u.AuthURL != nil},
		{"tokenUrl", model.AuthTypeOAuth2, u.TokenURL != nil},
		{"scopes", model.AuthTypeOAuth2, u.Scopes != nil},
		{"accessToken", model.AuthTypeOAuth2, u.AccessToken != nil},
		{"refreshToken", model.AuthTypeOAuth2, u.RefreshToken != nil},
		{"tokenExpiresAt", model.AuthTypeOAuth2, u.TokenExpiresAt != nil},
		{"username", model.AuthTypeBasicAuth, u.Username != nil},
		{"password", model.AuthTypeBasicAuth, u.Password != nil},
		{"key", model.AuthTypeAPIKey, u.Key != nil},
		{"headerName", model.AuthTypeAPIKey, u.HeaderName != nil},
		{"fields", model.AuthTypeCustom, u.Fields != nil},
	}
}

// rotatesTokens reports whether u supplies a new access or refresh token.
func (u AuthUpdate) rotatesTokens() bool {
	return (u.AccessToken != nil && *u.AccessToken != "") ||
		(u.RefreshToken != nil && *u.RefreshToken != "")
}

// apply merges u into a copy of current.
func (u AuthUpdate) apply(current model.AuthMaterial) (model.AuthMaterial, error) {
	supplied := 0
	for _, f := range u.fields() {
		if !f.set {
			continue
		}
		if f.authType != current.AuthType() {
			return nil, apperr.Validation(f.name,
				"field belongs to %s auth, service uses %s", f.authType, current.AuthType())
		}
		supplied++
	}
	if supplied == 0 {
		return nil, apperr.Validation("", "auth update supplies no fields")
	}

	merged := model.CloneAuth(current)
	switch a := merged.(type) {
	case *model.OAuth2Auth:
		setString(&a.ClientID, u.ClientID)
		setString(&a.ClientSecret, u.ClientSecret)
		setString(&a.RedirectURI, u.RedirectURI)
		setString(&a.AuthURL, u.AuthURL)
		setString(&a.TokenURL, u.TokenURL)
		setString(&a.AccessToken, u.AccessToken)
		setString(&a.RefreshToken, u.RefreshToken)
		if u.Scopes != nil {
			a.Scopes = append([]string(nil), u.Scopes...)
		}
		if u.TokenExpiresAt != nil {
			exp := u.TokenExpiresAt.UTC()
			a.TokenExpiresAt = &exp
		}
	case *model.BasicAuth:
		setString(&a.Username, u.Username)
		setString(&a.Password, u.Password)
	case *model.APIKeyAuth:
		setString(&a.Key, u.Key)
		setString(&a.HeaderName, u.HeaderName)
	case *model.CustomAuth:
		for k, v := range u.Fields {
			if strings.TrimSpace(k) == "" {
				return nil, apperr.Validation("fields", "field names must not be empty")
			}
			a.Fields[k] = v
		}
	}
	return merged, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
