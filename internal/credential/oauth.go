package credential

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/nhle/notifyhub/internal/apperr"
	"github.com/nhle/notifyhub/internal/model"
)

// provider holds the well-known OAuth2 settings of a built-in service.
type provider struct {
	authURL  string
	tokenURL string
	scopes   []string

	// authParams are added to the authorization URL.
	authParams []oauth2.AuthCodeOption

	// scopeOnExchange sends the scopes again with the code exchange.
	scopeOnExchange bool
}

var providers = map[model.ServiceType]provider{
	model.ServiceTypeGithub: {
		authURL:  "https://github.com/login/oauth/authorize",
		tokenURL: "https://github.com/login/oauth/access_token",
		scopes:   []string{"repo", "user", "notifications"},
	},
	model.ServiceTypeGoogle: {
		authURL:    "https://accounts.google.com/o/oauth2/v2/auth",
		tokenURL:   "https://oauth2.googleapis.com/token",
		scopes:     []string{"email", "profile", "https://www.googleapis.com/auth/gmail.modify"},
		authParams: []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce},
	},
	model.ServiceTypeMicrosoft: {
		authURL:         "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
		tokenURL:        "https://login.microsoftonline.com/common/oauth2/v2.0/token",
		scopes:          []string{"offline_access", "User.Read", "Mail.ReadWrite"},
		authParams:      []oauth2.AuthCodeOption{oauth2.ApprovalForce},
		scopeOnExchange: true,
	},
	model.ServiceTypeGitlab: {
		authURL:  "https://gitlab.com/oauth/authorize",
		tokenURL: "https://gitlab.com/oauth/token",
		scopes:   []string{"api", "read_user"},
	},
	model.ServiceTypeLinkedIn: {
		authURL:         "https://www.linkedin.com/oauth/v2/authorization",
		tokenURL:        "https://www.linkedin.com/oauth/v2/accessToken",
		scopes:          []string{"r_liteprofile", "r_emailaddress", "w_member_social"},
		scopeOnExchange: true,
	},
}

// withProviderDefaults returns a copy of auth with the provider's
// endpoints and scopes filled in where they were left empty.
func withProviderDefaults(st model.ServiceType, auth *model.OAuth2Auth) *model.OAuth2Auth {
	out := model.CloneAuth(auth).(*model.OAuth2Auth)
	p, ok := providers[st]
	if !ok {
		return out
	}
	if out.AuthURL == "" {
		out.AuthURL = p.authURL
	}
	if out.TokenURL == "" {
		out.TokenURL = p.tokenURL
	}
	if len(out.Scopes) == 0 {
		out.Scopes = append([]string(nil), p.scopes...)
	}
	return out
}

func oauthConfig(auth *model.OAuth2Auth) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		RedirectURL:  auth.RedirectURI,
		Scopes:       auth.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  auth.AuthURL,
			TokenURL: auth.TokenURL,
		},
	}
}

// storeToken copies a token response into auth. A response without a
// refresh token keeps the stored one.
func storeToken(auth *model.OAuth2Auth, tok *oauth2.Token) {
	auth.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		auth.RefreshToken = tok.RefreshToken
	}
	auth.TokenExpiresAt = nil
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		auth.TokenExpiresAt = &exp
	}
}

func oauth2Material(cfg *model.ServiceConfig) (*model.OAuth2Auth, error) {
	auth, ok := cfg.Auth.(*model.OAuth2Auth)
	if !ok {
		return nil, apperr.Validation("authType", "%s auth has no authorization flow", cfg.AuthType())
	}
	return auth, nil
}

// AuthorizationURL returns the provider URL the user visits to grant
// access to an OAuth2 service. state is echoed back to the redirect URI.
func (m *Manager) AuthorizationURL(ctx context.Context, id, state string) (string, error) {
	if strings.TrimSpace(state) == "" {
		return "", apperr.Validation("state", "must not be empty")
	}
	cfg, err := m.store.GetService(ctx, id)
	if err != nil {
		return "", err
	}
	auth, err := oauth2Material(cfg)
	if err != nil {
		return "", err
	}
	if auth.AuthURL == "" {
		return "", apperr.Validation("authUrl", "must be set to start authorization")
	}
	return oauthConfig(auth).AuthCodeURL(state, providers[cfg.ServiceType].authParams...), nil
}

// CompleteAuthorization exchanges an authorization code for tokens, stores
// them and clears the re-authorization flag. A rejected code returns an
// *apperr.AuthError and leaves the stored tokens untouched.
func (m *Manager) CompleteAuthorization(ctx context.Context, id, code string) (*model.ServiceConfig, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperr.Validation("code", "must not be empty")
	}
	cfg, err := m.mutate(ctx, id, func(cfg *model.ServiceConfig) error {
		auth, err := oauth2Material(cfg)
		if err != nil {
			return err
		}

		var opts []oauth2.AuthCodeOption
		if providers[cfg.ServiceType].scopeOnExchange && len(auth.Scopes) > 0 {
			opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(auth.Scopes, " ")))
		}

		tctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
		defer cancel()
		tctx = context.WithValue(tctx, oauth2.HTTPClient, m.httpClient)

		tok, err := oauthConfig(auth).Exchange(tctx, code, opts...)
		if err != nil {
			return &apperr.AuthError{ServiceID: id, Message: "authorization code exchange failed", Err: err}
		}

		storeToken(auth, tok)
		cfg.NeedsReauth = false
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("service authorized", zap.String("service_id", id))
	return cfg, nil
}
