package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nhle/notifyhub/internal/apperr"
	"github.com/nhle/notifyhub/internal/model"
)

type serviceRow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	ServiceType string         `db:"service_type"`
	AuthType    string         `db:"auth_type"`
	AuthConfig  string         `db:"auth_config"`
	Endpoints   string         `db:"endpoints"`
	Enabled     int            `db:"enabled"`
	NeedsReauth int            `db:"needs_reauth"`
	Metadata    string         `db:"metadata"`
	CreatedAt   string         `db:"created_at"`
	UpdatedAt   string         `db:"updated_at"`
	LastSync    sql.NullString `db:"last_sync"`
	LastFetch   sql.NullString `db:"last_fetch"`
}

const serviceColumns = `id, name, service_type, auth_type, auth_config, endpoints,
	enabled, needs_reauth, metadata, created_at, updated_at, last_sync, last_fetch`

func toServiceRow(cfg model.ServiceConfig) (serviceRow, error) {
	auth, err := model.MarshalAuth(cfg.Auth)
	if err != nil {
		return serviceRow{}, fmt.Errorf("encoding auth for service %s: %w", cfg.ID, err)
	}
	endpoints, err := json.Marshal(cfg.Endpoints)
	if err != nil {
		return serviceRow{}, fmt.Errorf("encoding endpoints for service %s: %w", cfg.ID, err)
	}
	metadata := cfg.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return serviceRow{}, fmt.Errorf("encoding metadata for service %s: %w", cfg.ID, err)
	}

	row := serviceRow{
		ID:          cfg.ID,
		Name:        cfg.Name,
		ServiceType: string(cfg.ServiceType),
		AuthType:    string(cfg.AuthType()),
		AuthConfig:  string(auth),
		Endpoints:   string(endpoints),
		Enabled:     boolToInt(cfg.Enabled),
		NeedsReauth: boolToInt(cfg.NeedsReauth),
		Metadata:    string(meta),
		CreatedAt:   formatTime(cfg.CreatedAt),
		UpdatedAt:   formatTime(cfg.UpdatedAt),
	}
	if cfg.LastSync != nil {
		row.LastSync = sql.NullString{String: formatTime(*cfg.LastSync), Valid: true}
	}
	if cfg.LastFetch != nil {
		row.LastFetch = sql.NullString{String: formatTime(*cfg.LastFetch), Valid: true}
	}
	return row, nil
}

func (r serviceRow) toModel() (model.ServiceConfig, error) {
	auth, err := model.UnmarshalAuth(model.AuthType(r.AuthType), []byte(r.AuthConfig))
	if err != nil {
		return model.ServiceConfig{}, fmt.Errorf("decoding service %s: %w", r.ID, err)
	}

	cfg := model.ServiceConfig{
		ID:          r.ID,
		Name:        r.Name,
		ServiceType: model.ServiceType(r.ServiceType),
		Auth:        auth,
		Enabled:     r.Enabled != 0,
		NeedsReauth: r.NeedsReauth != 0,
	}
	if err := json.Unmarshal([]byte(r.Endpoints), &cfg.Endpoints); err != nil {
		return model.ServiceConfig{}, fmt.Errorf("decoding endpoints of service %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Metadata), &cfg.Metadata); err != nil {
		return model.ServiceConfig{}, fmt.Errorf("decoding metadata of service %s: %w", r.ID, err)
	}
	if cfg.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return model.ServiceConfig{}, err
	}
	if cfg.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return model.ServiceConfig{}, err
	}
	if cfg.LastSync, err = parseTimePtr(r.LastSync); err != nil {
		return model.ServiceConfig{}, err
	}
	if cfg.LastFetch, err = parseTimePtr(r.LastFetch); err != nil {
		return model.ServiceConfig{}, err
	}
	return cfg, nil
}

// InsertService stores a new service config.
func (s *SQLiteStore) InsertService(ctx context.Context, cfg model.ServiceConfig) error {
	row, err := toServiceRow(cfg)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO service_configs (`+serviceColumns+`)
		VALUES (
			:id, :name, :service_type, :auth_type, :auth_config, :endpoints,
			:enabled, :needs_reauth, :metadata, :created_at, :updated_at, :last_sync, :last_fetch
		)`, row)
	if err != nil {
		return fmt.Errorf("inserting service %s: %w", cfg.ID, err)
	}
	return nil
}

// GetService retrieves a service config by ID.
func (s *SQLiteStore) GetService(ctx context.Context, id string) (*model.ServiceConfig, error) {
	var row serviceRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+serviceColumns+" FROM service_configs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperr.NotFoundError{Kind: "service config", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("getting service %s: %w", id, err)
	}

	cfg, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListServices retrieves every service config ordered by name.
func (s *SQLiteStore) ListServices(ctx context.Context) ([]model.ServiceConfig, error) {
	var rows []serviceRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+serviceColumns+" FROM service_configs ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("querying services: %w", err)
	}

	out := make([]model.ServiceConfig, 0, len(rows))
	for _, row := range rows {
		cfg, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// UpdateService rewrites every mutable column of a stored service config in
// a single statement.
func (s *SQLiteStore) UpdateService(ctx context.Context, cfg model.ServiceConfig) error {
	row, err := toServiceRow(cfg)
	if err != nil {
		return err
	}

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE service_configs SET
			name = :name,
			auth_type = :auth_type,
			auth_config = :auth_config,
			endpoints = :endpoints,
			enabled = :enabled,
			needs_reauth = :needs_reauth,
			metadata = :metadata,
			updated_at = :updated_at,
			last_sync = :last_sync,
			last_fetch = :last_fetch
		WHERE id = :id`, row)
	if err != nil {
		return fmt.Errorf("updating service %s: %w", cfg.ID, err)
	}
	return requireAffected(res, "service config", cfg.ID)
}

// DeleteService removes a service config and its auth material.
func (s *SQLiteStore) DeleteService(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM service_configs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting service %s: %w", id, err)
	}
	return requireAffected(res, "service config", id)
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows for %s %s: %w", kind, id, err)
	}
	if n == 0 {
		return &apperr.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}
