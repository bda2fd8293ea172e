// Package app wires configuration, persistence, the credential and
// notification stores, the AI router, the poller and the HTTP surface into
// one runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/notifyhub/internal/ai"
	"github.com/nhle/notifyhub/internal/cache"
	"github.com/nhle/notifyhub/internal/credential"
	"github.com/nhle/notifyhub/internal/events"
	"github.com/nhle/notifyhub/internal/hub"
	"github.com/nhle/notifyhub/internal/logging"
	"github.com/nhle/notifyhub/internal/model"
	"github.com/nhle/notifyhub/internal/notification"
	"github.com/nhle/notifyhub/internal/server"
	"github.com/nhle/notifyhub/internal/source/registry"
	"github.com/nhle/notifyhub/internal/store"
	appsync "github.com/nhle/notifyhub/internal/sync"
	"github.com/nhle/notifyhub/internal/telemetry"
)

// apiKeyEnv overrides the global AI API key stored in the keyring.
const apiKeyEnv = "ANTHROPIC_API_KEY"

// App holds every long-lived component.
type App struct {
	Config *model.AppConfig
	Logger *zap.Logger

	Store         *store.SQLiteStore
	Bus           *events.Bus
	Vault         *credential.Vault
	Credentials   *credential.Manager
	Notifications *notification.Service
	Cache         cache.Cache
	Router        *ai.Router
	Poller        *appsync.Poller
	Hub           *hub.Hub
	Server        *server.Server

	shutdownTracing telemetry.Shutdown
}

// Option customizes New.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	ring      keyring.Keyring
	configDir string
}

// WithLogger replaces the logger built from the config.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithKeyring replaces the system keyring.
func WithKeyring(r keyring.Keyring) Option {
	return func(o *options) { o.ring = r }
}

// WithConfigDir sets the directory of the file keyring fallback.
func WithConfigDir(dir string) Option {
	return func(o *options) { o.configDir = dir }
}

// New builds the application from cfg. On error every component created so
// far is closed.
func New(ctx context.Context, cfg *model.AppConfig, opts ...Option) (_ *App, err error) {
	o := options{configDir: model.DefaultConfigDir()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: o.logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	if a.Logger == nil {
		if a.Logger, err = logging.New(cfg.Log.Level, cfg.Log.Development); err != nil {
			return nil, err
		}
	}

	if a.shutdownTracing, err = telemetry.Setup(ctx, cfg.Telemetry); err != nil {
		return nil, err
	}

	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	if a.Store, err = store.NewSQLiteStore(cfg.Database.Path); err != nil {
		return nil, err
	}

	if o.ring != nil {
		a.Vault = credential.NewVault(o.ring)
	} else if a.Vault, err = credential.OpenVault(o.configDir); err != nil {
		return nil, err
	}

	a.Bus = events.NewBus(a.Logger.Named("events"))
	a.Credentials = credential.NewManager(a.Store, a.Logger,
		credential.WithRefreshMargin(cfg.Credentials.RefreshMargin),
		credential.WithRefreshTimeout(cfg.Credentials.RefreshTimeout),
	)
	a.Notifications = notification.NewService(a.Store, a.Bus, a.Logger)

	if a.Cache, err = cache.New(cfg.Cache, a.Store); err != nil {
		return nil, err
	}

	routerCfg := ai.Config{
		Local:           ai.NewOllama(cfg.AI.Local.BaseURL, cfg.AI.Local.Model),
		Remote:          ai.NewClaude(cfg.AI.Remote.BaseURL, cfg.AI.Remote.Model, cfg.AI.Remote.MaxTokens),
		LocalTimeout:    cfg.AI.Local.Timeout,
		RemoteTimeout:   cfg.AI.Remote.Timeout,
		FallbackEnabled: cfg.AI.FallbackEnabled,
		SearchTimeout:   cfg.AI.Search.Timeout,
	}
	if cfg.AI.Search.APIKey != "" {
		routerCfg.Search = ai.NewBraveSearch(cfg.AI.Search.BaseURL, cfg.AI.Search.APIKey)
	}
	a.Router = ai.NewRouter(routerCfg, a.Cache, a.Credentials, globalKey{vault: a.Vault}, a.Logger)

	a.Poller = appsync.New(a.Credentials, a.Notifications, registry.Build, cfg.Sync, a.Logger)
	a.Hub = hub.New(a.Credentials, a.Notifications, a.Router, a.Logger)
	a.Server = server.New(a.Hub, a.Logger)

	return a, nil
}

// Serve runs the HTTP surface, the poller and the event log until ctx is
// done or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Server.Run(gctx, a.Config.Server.Addr)
	})
	g.Go(func() error {
		return a.Poller.Run(gctx)
	})
	g.Go(func() error {
		return a.logEvents(gctx)
	})

	return g.Wait()
}

// logEvents writes every domain event to the debug log.
func (a *App) logEvents(ctx context.Context) error {
	stream, err := a.Bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	log := a.Logger.Named("events")
	for e := range stream {
		log.Debug("notification event",
			zap.String("type", string(e.Type)),
			zap.String("notification_id", e.NotificationID),
			zap.String("status", string(e.Status)))
	}
	return nil
}

// Close releases every component in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if closer, ok := a.Cache.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if a.Bus != nil {
		errs = append(errs, a.Bus.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.shutdownTracing != nil {
		errs = append(errs, a.shutdownTracing(ctx))
	}
	if a.Logger != nil {
		// Sync fails on non-syncable outputs such as a terminal.
		_ = a.Logger.Sync()
	}
	return errors.Join(errs...)
}

// globalKey prefers the environment over the keyring.
type globalKey struct {
	vault *credential.Vault
}

func (k globalKey) GlobalAPIKey() (string, error) {
	if key := os.Getenv(apiKeyEnv); key != "" {
		return key, nil
	}
	return k.vault.GlobalAPIKey()
}
