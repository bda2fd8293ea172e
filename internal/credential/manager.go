// Package credential manages service configs and their auth material:
// creation, partial auth updates, OAuth2 token refresh and the keyring
// vault for secrets that belong to no service.
package credential

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/nhle/notifyhub/internal/apperr"
	"github.com/nhle/notifyhub/internal/keyedmutex"
	"github.com/nhle/notifyhub/internal/model"
	"github.com/nhle/notifyhub/internal/source"
	"github.com/nhle/notifyhub/internal/source/registry"
	"github.com/nhle/notifyhub/internal/store"
	"github.com/nhle/notifyhub/internal/validation"
)

const (
	defaultRefreshMargin  = 5 * time.Minute
	defaultRefreshTimeout = 30 * time.Second
)

// SourceFactory builds the source adapter for a service config.
type SourceFactory func(cfg model.ServiceConfig) (source.Source, error)

// Manager is the credential store. Writes for one service id are
// serialized; concurrent refreshes of one id share a single token request.
type Manager struct {
	store     store.ServiceStore
	validator *validation.Validator
	logger    *zap.Logger

	locks   keyedmutex.Map
	refresh singleflight.Group

	httpClient     *http.Client
	refreshMargin  time.Duration
	refreshTimeout time.Duration
	sources        SourceFactory
	now            func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for token requests.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// WithRefreshMargin sets how long before expiry a token is refreshed.
func WithRefreshMargin(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.refreshMargin = d
		}
	}
}

// WithRefreshTimeout bounds a single token request.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.refreshTimeout = d
		}
	}
}

// WithSourceFactory replaces the adapter registry used by TestConnection.
func WithSourceFactory(f SourceFactory) Option {
	return func(m *Manager) { m.sources = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a credential manager over s.
func NewManager(s store.ServiceStore, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:          s,
		validator:      validation.New(),
		logger:         logger.Named("credential"),
		httpClient:     &http.Client{Timeout: defaultRefreshTimeout},
		refreshMargin:  defaultRefreshMargin,
		refreshTimeout: defaultRefreshTimeout,
		sources:        registry.Build,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) clock() time.Time {
	return m.now().UTC()
}

// Create validates req, stores a new service config and returns it with
// secrets redacted.
func (m *Manager) Create(ctx context.Context, req CreateServiceRequest) (*model.ServiceConfig, error) {
	if req.OAuth2 != nil {
		req.OAuth2 = withProviderDefaults(req.ServiceType, req.OAuth2)
	}
	if err := m.validator.Struct(req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperr.Validation("name", "must not be blank")
	}
	if !req.ServiceType.Supports(req.AuthType) {
		return nil, apperr.Validation("authType",
			"%s does not support %s auth", req.ServiceType, req.AuthType)
	}
	auth, err := req.authMaterial()
	if err != nil {
		return nil, err
	}

	now := m.clock()
	cfg := model.ServiceConfig{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(req.Name),
		ServiceType: req.ServiceType,
		Auth:        auth,
		Endpoints:   req.Endpoints,
		Enabled:     req.Enabled == nil || *req.Enabled,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if cfg.Metadata == nil {
		cfg.Metadata = map[string]string{}
	}
	cfg = cfg.Clone()

	if err := m.store.InsertService(ctx, cfg); err != nil {
		return nil, fmt.Errorf("creating service %q: %w", cfg.Name, err)
	}

	m.logger.Info("service created",
		zap.String("service_id", cfg.ID),
		zap.String("service_type", string(cfg.ServiceType)),
		zap.String("auth_type", string(cfg.AuthType())))

	out := cfg.Redacted()
	return &out, nil
}

// Get returns a copy of the service config with id.
func (m *Manager) Get(ctx context.Context, id string) (*model.ServiceConfig, error) {
	return m.store.GetService(ctx, id)
}

// List returns copies of every service config.
func (m *Manager) List(ctx context.Context) ([]model.ServiceConfig, error) {
	return m.store.ListServices(ctx)
}

// UpdateAuth merges the supplied auth fields into the stored material.
// The update is applied entirely or not at all.
func (m *Manager) UpdateAuth(ctx context.Context, id string, update AuthUpdate) (*model.ServiceConfig, error) {
	return m.mutate(ctx, id, func(cfg *model.ServiceConfig) error {
		merged, err := update.apply(cfg.Auth)
		if err != nil {
			return err
		}
		if err := m.validator.Struct(merged); err != nil {
			return err
		}
		cfg.Auth = merged
		if update.rotatesTokens() {
			cfg.NeedsReauth = false
		}
		return nil
	})
}

// Enable marks the service as enabled.
func (m *Manager) Enable(ctx context.Context, id string) (*model.ServiceConfig, error) {
	return m.setEnabled(ctx, id, true)
}

// Disable marks the service as disabled. Its tokens are kept.
func (m *Manager) Disable(ctx context.Context, id string) (*model.ServiceConfig, error) {
	return m.setEnabled(ctx, id, false)
}

func (m *Manager) setEnabled(ctx context.Context, id string, enabled bool) (*model.ServiceConfig, error) {
	return m.mutate(ctx, id, func(cfg *model.ServiceConfig) error {
		cfg.Enabled = enabled
		return nil
	})
}

// Delete removes the service config and its auth material.
func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock := m.locks.Lock(id)
	defer unlock()

	if err := m.store.DeleteService(ctx, id); err != nil {
		return err
	}
	m.logger.Info("service deleted", zap.String("service_id", id))
	return nil
}

// MarkSynced records a successful connectivity test at time at.
func (m *Manager) MarkSynced(ctx context.Context, id string, at time.Time) error {
	return m.markSynced(ctx, id, at, false)
}

// MarkFetched records a completed sync run that started at time at. The
// next run fetches items from that point on.
func (m *Manager) MarkFetched(ctx context.Context, id string, at time.Time) error {
	return m.markSynced(ctx, id, at, true)
}

func (m *Manager) markSynced(ctx context.Context, id string, at time.Time, fetched bool) error {
	unlock := m.locks.Lock(id)
	defer unlock()

	cfg, err := m.store.GetService(ctx, id)
	if err != nil {
		return err
	}
	synced := at.UTC()
	cfg.LastSync = &synced
	if fetched {
		cfg.LastFetch = &synced
	}
	if err := m.store.UpdateService(ctx, *cfg); err != nil {
		return fmt.Errorf("marking service %s synced: %w", id, err)
	}
	return nil
}

// mutate applies fn to the stored config under the per-id lock and writes
// the result back in one statement.
func (m *Manager) mutate(
	ctx context.Context,
	id string,
	fn func(cfg *model.ServiceConfig) error,
) (*model.ServiceConfig, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	cfg, err := m.store.GetService(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(cfg); err != nil {
		return nil, err
	}
	cfg.UpdatedAt = m.clock()

	if err := m.store.UpdateService(ctx, *cfg); err != nil {
		return nil, fmt.Errorf("updating service %s: %w", id, err)
	}
	return cfg, nil
}

// RefreshIfNeeded exchanges the refresh token of an OAuth2 service whose
// access token is missing or expires within the refresh margin. Other auth
// types are returned unchanged. A failed exchange flags the service for
// re-authorization and returns an *apperr.AuthError.
func (m *Manager) RefreshIfNeeded(ctx context.Context, id string) (*model.ServiceConfig, error) {
	ch := m.refresh.DoChan(id, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return m.refreshLocked(rctx, id)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		cfg := res.Val.(model.ServiceConfig).Clone()
		return &cfg, nil
	}
}

func (m *Manager) refreshLocked(ctx context.Context, id string) (model.ServiceConfig, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	cfg, err := m.store.GetService(ctx, id)
	if err != nil {
		return model.ServiceConfig{}, err
	}
	auth, ok := cfg.Auth.(*model.OAuth2Auth)
	if !ok || !m.expiring(auth) {
		return *cfg, nil
	}

	if auth.RefreshToken == "" {
		return *cfg, m.flagReauth(ctx, cfg, "no refresh token available", nil)
	}

	tctx := context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	tok, err := oauthConfig(auth).TokenSource(tctx, &oauth2.Token{RefreshToken: auth.RefreshToken}).Token()
	if err != nil {
		return *cfg, m.flagReauth(ctx, cfg, "token refresh failed", err)
	}

	storeToken(auth, tok)
	cfg.NeedsReauth = false
	cfg.UpdatedAt = m.clock()

	if err := m.store.UpdateService(ctx, *cfg); err != nil {
		return model.ServiceConfig{}, fmt.Errorf("storing refreshed token for service %s: %w", id, err)
	}

	m.logger.Info("token refreshed", zap.String("service_id", id))
	return *cfg, nil
}

// expiring reports whether the access token must be refreshed now.
func (m *Manager) expiring(auth *model.OAuth2Auth) bool {
	if auth.AccessToken == "" {
		return true
	}
	if auth.TokenExpiresAt == nil {
		return false
	}
	return !m.clock().Add(m.refreshMargin).Before(*auth.TokenExpiresAt)
}

func (m *Manager) flagReauth(ctx context.Context, cfg *model.ServiceConfig, msg string, cause error) error {
	m.logger.Warn("service needs re-authorization",
		zap.String("service_id", cfg.ID), zap.String("reason", msg), zap.Error(cause))

	cfg.NeedsReauth = true
	cfg.UpdatedAt = m.clock()
	if err := m.store.UpdateService(ctx, *cfg); err != nil {
		return fmt.Errorf("flagging service %s for re-authorization: %w", cfg.ID, err)
	}
	return &apperr.AuthError{ServiceID: cfg.ID, Message: msg, Err: cause}
}

// ResolveAPIKey returns the secret that AI requests scoped to the service
// send upstream: the key of an ApiKey service or the (refreshed) access
// token of an OAuth2 service.
func (m *Manager) ResolveAPIKey(ctx context.Context, id string) (string, error) {
	cfg, err := m.store.GetService(ctx, id)
	if err != nil {
		return "", err
	}
	if !cfg.Enabled {
		return "", &apperr.AuthError{ServiceID: id, Message: "service is disabled"}
	}

	switch a := cfg.Auth.(type) {
	case *model.APIKeyAuth:
		if a.Key == "" {
			return "", &apperr.AuthError{ServiceID: id, Message: "no API key stored"}
		}
		return a.Key, nil
	case *model.OAuth2Auth:
		refreshed, err := m.RefreshIfNeeded(ctx, id)
		if err != nil {
			return "", err
		}
		tok := refreshed.Auth.(*model.OAuth2Auth).AccessToken
		if refreshed.NeedsReauth || tok == "" {
			return "", &apperr.AuthError{ServiceID: id, Message: "re-authorization required"}
		}
		return tok, nil
	}
	return "", &apperr.AuthError{
		ServiceID: id,
		Message:   fmt.Sprintf("%s auth cannot supply an API key", cfg.AuthType()),
	}
}

// TestConnection refreshes the service's token if needed, asks its source
// adapter to validate connectivity and records the contact as lastSync.
func (m *Manager) TestConnection(ctx context.Context, id string) (string, error) {
	cfg, err := m.RefreshIfNeeded(ctx, id)
	if err != nil {
		return "", err
	}

	src, err := m.sources(*cfg)
	if err != nil {
		if source.IsAuthError(err) {
			return "", &apperr.AuthError{ServiceID: id, Message: "credentials rejected", Err: err}
		}
		return "", apperr.Validation("serviceType", "%v", err)
	}

	msg, err := src.ValidateConnection(ctx)
	if err != nil {
		if source.IsAuthError(err) {
			return "", &apperr.AuthError{ServiceID: id, Message: "credentials rejected", Err: err}
		}
		return "", &apperr.ServiceError{Failures: []apperr.BackendFailure{
			{Backend: string(cfg.ServiceType), Reason: err.Error()},
		}}
	}

	if err := m.MarkSynced(ctx, id, m.clock()); err != nil {
		return "", err
	}
	return msg, nil
}
