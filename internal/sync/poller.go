// Package sync pulls new items from every enabled service into the
// notification store on an interval.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/notifyhub/internal/apperr"
	"github.com/nhle/notifyhub/internal/model"
	"github.com/nhle/notifyhub/internal/notification"
	"github.com/nhle/notifyhub/internal/source"
	"github.com/nhle/notifyhub/internal/telemetry"
)

const (
	defaultInterval     = 2 * time.Minute
	defaultFetchTimeout = 30 * time.Second

	// maxConcurrentSyncs bounds the services fetched at the same time.
	maxConcurrentSyncs = 4

	maxTitleLen   = 200
	maxContentLen = 5000
)

// Credentials is the part of the credential manager the poller needs.
type Credentials interface {
	List(ctx context.Context) ([]model.ServiceConfig, error)
	RefreshIfNeeded(ctx context.Context, id string) (*model.ServiceConfig, error)
	MarkFetched(ctx context.Context, id string, at time.Time) error
}

// Ingester stores fetched items idempotently.
type Ingester interface {
	Ingest(ctx context.Context, req notification.CreateRequest) (*model.Notification, bool, error)
}

// SourceFactory builds the adapter for a service config.
type SourceFactory func(cfg model.ServiceConfig) (source.Source, error)

// Report is the outcome of syncing one service.
type Report struct {
	ServiceID   string
	ServiceType model.ServiceType
	Fetched     int
	Created     int
	Err         error

	// Skipped is set for service types without a source adapter.
	Skipped bool
}

// Poller syncs enabled services. One round fetches every service at most
// once; a service whose credentials are rejected is skipped until the
// next round.
type Poller struct {
	creds   Credentials
	ingest  Ingester
	sources SourceFactory
	logger  *zap.Logger
	tracer  trace.Tracer

	interval     time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	// round serializes RunOnce so ticks never overlap a manual sync.
	round gosync.Mutex
}

// New creates a poller.
func New(
	creds Credentials,
	ingest Ingester,
	sources SourceFactory,
	cfg model.SyncConfig,
	logger *zap.Logger,
) *Poller {
	p := &Poller{
		creds:        creds,
		ingest:       ingest,
		sources:      sources,
		logger:       logger.Named("sync"),
		tracer:       otel.Tracer("notifyhub/sync"),
		interval:     cfg.Interval,
		fetchTimeout: cfg.FetchTimeout,
		now:          time.Now,
	}
	if p.interval <= 0 {
		p.interval = defaultInterval
	}
	if p.fetchTimeout <= 0 {
		p.fetchTimeout = defaultFetchTimeout
	}
	return p
}

// Run syncs immediately and then on every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("poller started", zap.Duration("interval", p.interval))
	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("sync round failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce syncs every enabled service and returns one report per service.
// Per-service failures are reported, not returned; the error is non-nil
// only when the service list cannot be read.
func (p *Poller) RunOnce(ctx context.Context) ([]Report, error) {
	p.round.Lock()
	defer p.round.Unlock()

	services, err := p.creds.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}

	var enabled []model.ServiceConfig
	for _, svc := range services {
		if svc.Enabled {
			enabled = append(enabled, svc)
		}
	}

	reports := make([]Report, len(enabled))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSyncs)
	for i, svc := range enabled {
		g.Go(func() error {
			reports[i] = p.syncService(gctx, svc)
			return nil
		})
	}
	_ = g.Wait()

	return reports, nil
}

func (p *Poller) syncService(ctx context.Context, svc model.ServiceConfig) Report {
	ctx, span := p.tracer.Start(ctx, "sync.service",
		trace.WithAttributes(attribute.String(telemetry.ServiceIDKey, svc.ID)))
	defer span.End()

	report := Report{ServiceID: svc.ID, ServiceType: svc.ServiceType}
	log := p.logger.With(zap.String("service_id", svc.ID), zap.String("service_type", string(svc.ServiceType)))

	fail := func(err error) Report {
		report.Err = err
		telemetry.SetError(span, err)
		if apperr.IsAuth(err) {
			log.Warn("service needs re-authorization", zap.Error(err))
		} else {
			log.Error("service sync failed", zap.Error(err))
		}
		return report
	}

	cfg, err := p.creds.RefreshIfNeeded(ctx, svc.ID)
	if err != nil {
		return fail(err)
	}
	if cfg.NeedsReauth {
		return fail(&apperr.AuthError{ServiceID: svc.ID, Message: "re-authorization required"})
	}

	src, err := p.sources(*cfg)
	if errors.Is(err, source.ErrUnsupported) {
		log.Debug("no adapter for service type, skipping")
		report.Skipped = true
		return report
	}
	if err != nil {
		return fail(fmt.Errorf("building source: %w", err))
	}

	// A service that never completed a sync run starts from the adapter's
	// look-back window.
	var since time.Time
	if cfg.LastFetch != nil {
		since = *cfg.LastFetch
	}
	started := p.now()

	fctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	drafts, err := src.FetchNotifications(fctx, since)
	cancel()
	if err != nil {
		if source.IsAuthError(err) {
			return fail(&apperr.AuthError{ServiceID: svc.ID, Message: "credentials rejected", Err: err})
		}
		return fail(fmt.Errorf("fetching from %s: %w", svc.ServiceType, err))
	}
	report.Fetched = len(drafts)

	for _, d := range drafts {
		_, created, err := p.ingest.Ingest(ctx, toRequest(svc.ServiceType, d))
		if err != nil {
			if apperr.IsValidation(err) {
				log.Warn("skipping invalid item", zap.String("external_id", d.ExternalID), zap.Error(err))
				continue
			}
			return fail(fmt.Errorf("ingesting %s: %w", d.ExternalID, err))
		}
		if created {
			report.Created++
		}
	}

	if err := p.creds.MarkFetched(ctx, svc.ID, started); err != nil {
		return fail(err)
	}

	span.SetAttributes(attribute.Int("notifyhub.sync.created", report.Created))
	log.Info("service synced", zap.Int("fetched", report.Fetched), zap.Int("created", report.Created))
	return report
}

func toRequest(st model.ServiceType, d source.Draft) notification.CreateRequest {
	meta := model.Metadata{
		Source:     st,
		Tags:       source.LimitTags(d.Tags),
		CustomData: d.CustomData,
	}
	if d.ExternalID != "" {
		ext := d.ExternalID
		meta.ExternalID = &ext
	}
	if d.URL != "" {
		u := d.URL
		meta.URL = &u
	}

	req := notification.CreateRequest{
		Title:    clip(d.Title, maxTitleLen),
		Content:  clip(d.Content, maxContentLen),
		Priority: d.Priority,
		Metadata: meta,
	}
	if !d.OccurredAt.IsZero() {
		at := d.OccurredAt
		req.CreatedAt = &at
	}
	return req
}

// clip shortens s to at most n characters.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
