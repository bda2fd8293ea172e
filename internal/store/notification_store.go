package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/notifyhub/internal/apperr"
	"github.com/nhle/notifyhub/internal/model"
)

type notificationRow struct {
	ID            string         `db:"id"`
	Title         string         `db:"title"`
	Content       string         `db:"content"`
	Priority      string         `db:"priority"`
	Status        string         `db:"status"`
	Source        string         `db:"source"`
	ExternalID    sql.NullString `db:"external_id"`
	URL           sql.NullString `db:"url"`
	Tags          string         `db:"tags"`
	CustomData    sql.NullString `db:"custom_data"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     string         `db:"updated_at"`
	ReadAt        sql.NullString `db:"read_at"`
	ActionTakenAt sql.NullString `db:"action_taken_at"`
	Version       int64          `db:"version"`
}

const notificationColumns = `id, title, content, priority, status, source, external_id, url,
	tags, custom_data, created_at, updated_at, read_at, action_taken_at, version`

func (r notificationRow) toModel() (model.Notification, error) {
	n := model.Notification{
		ID:       r.ID,
		Title:    r.Title,
		Content:  r.Content,
		Priority: model.Priority(r.Priority),
		Status:   model.Status(r.Status),
		Metadata: model.Metadata{
			Source:     model.ServiceType(r.Source),
			ExternalID: stringPtr(r.ExternalID),
			URL:        stringPtr(r.URL),
		},
		Version: r.Version,
	}

	if err := json.Unmarshal([]byte(r.Tags), &n.Metadata.Tags); err != nil {
		return model.Notification{}, fmt.Errorf("decoding tags of notification %s: %w", r.ID, err)
	}
	if r.CustomData.Valid {
		if err := json.Unmarshal([]byte(r.CustomData.String), &n.Metadata.CustomData); err != nil {
			return model.Notification{}, fmt.Errorf("decoding custom data of notification %s: %w", r.ID, err)
		}
	}

	var err error
	if n.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return model.Notification{}, err
	}
	if n.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return model.Notification{}, err
	}
	if n.ReadAt, err = parseTimePtr(r.ReadAt); err != nil {
		return model.Notification{}, err
	}
	if n.ActionTakenAt, err = parseTimePtr(r.ActionTakenAt); err != nil {
		return model.Notification{}, err
	}
	return n, nil
}

// InsertNotification stores a new notification and its tags. It returns
// ErrDuplicateExternalID when the source already delivered the same item.
func (s *SQLiteStore) InsertNotification(ctx context.Context, n model.Notification) error {
	tags := n.Metadata.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encoding tags of notification %s: %w", n.ID, err)
	}

	var customData any
	if n.Metadata.CustomData != nil {
		raw, err := json.Marshal(n.Metadata.CustomData)
		if err != nil {
			return fmt.Errorf("encoding custom data of notification %s: %w", n.ID, err)
		}
		customData = string(raw)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Title, n.Content, string(n.Priority), string(n.Status),
		string(n.Metadata.Source), nullString(n.Metadata.ExternalID), nullString(n.Metadata.URL),
		string(tagsJSON), customData,
		formatTime(n.CreatedAt), formatTime(n.UpdatedAt),
		formatTimePtr(n.ReadAt), formatTimePtr(n.ActionTakenAt), n.Version,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateExternalID
	}
	if err != nil {
		return fmt.Errorf("inserting notification %s: %w", n.ID, err)
	}

	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO notification_tags (notification_id, tag) VALUES (?, ?)",
			n.ID, tag,
		); err != nil {
			return fmt.Errorf("tagging notification %s: %w", n.ID, err)
		}
	}

	return tx.Commit()
}

// GetNotification retrieves a notification by ID, including deleted ones.
func (s *SQLiteStore) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	var row notificationRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+notificationColumns+" FROM notifications WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperr.NotFoundError{Kind: "notification", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification %s: %w", id, err)
	}

	n, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// FindNotificationByExternalID looks up a notification by its origin.
// It returns a NotFoundError when the source item was never ingested.
func (s *SQLiteStore) FindNotificationByExternalID(
	ctx context.Context,
	source model.ServiceType,
	externalID string,
) (*model.Notification, error) {
	var row notificationRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+notificationColumns+" FROM notifications WHERE source = ? AND external_id = ?",
		string(source), externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperr.NotFoundError{Kind: "notification", ID: string(source) + "/" + externalID}
	}
	if err != nil {
		return nil, fmt.Errorf("finding notification %s/%s: %w", source, externalID, err)
	}

	n, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// UpdateNotificationState performs a version compare-and-swap write of the
// status fields of n.
func (s *SQLiteStore) UpdateNotificationState(ctx context.Context, n model.Notification) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET
			status = ?,
			updated_at = ?,
			read_at = ?,
			action_taken_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		string(n.Status), formatTime(n.UpdatedAt),
		formatTimePtr(n.ReadAt), formatTimePtr(n.ActionTakenAt),
		n.ID, n.Version,
	)
	if err != nil {
		return false, fmt.Errorf("updating notification %s: %w", n.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows for notification %s: %w", n.ID, err)
	}
	return affected == 1, nil
}

func notificationConditions(q NotificationQuery) (string, []any) {
	var conditions []string
	var args []any

	if q.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*q.Status))
	} else if !q.IncludeDeleted {
		conditions = append(conditions, "status <> ?")
		args = append(args, string(model.StatusDeleted))
	}
	if q.Source != nil {
		conditions = append(conditions, "source = ?")
		args = append(args, string(*q.Source))
	}
	if q.Priority != nil {
		conditions = append(conditions, "priority = ?")
		args = append(args, string(*q.Priority))
	}
	if len(q.Tags) > 0 {
		conditions = append(conditions,
			"id IN (SELECT notification_id FROM notification_tags WHERE tag IN (?))")
		args = append(args, q.Tags)
	}
	if q.From != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, formatTime(*q.From))
	}
	if q.To != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, formatTime(*q.To))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// QueryNotifications returns the page of notifications matching q, newest
// first, together with the total number of matches. Both reads run in one
// transaction so the count and the page agree.
func (s *SQLiteStore) QueryNotifications(
	ctx context.Context,
	q NotificationQuery,
) ([]model.Notification, int, error) {
	where, args := notificationConditions(q)

	countQuery, countArgs, err := sqlx.In("SELECT COUNT(*) FROM notifications"+where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("building notification count query: %w", err)
	}

	pageQuery := "SELECT " + notificationColumns + " FROM notifications" + where +
		" ORDER BY created_at DESC, id DESC"
	pageArgs := append([]any{}, args...)
	if q.Limit > 0 {
		pageQuery += " LIMIT ? OFFSET ?"
		pageArgs = append(pageArgs, q.Limit, q.Offset)
	}
	pageQuery, pageArgs, err = sqlx.In(pageQuery, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("building notification page query: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.GetContext(ctx, &total, tx.Rebind(countQuery), countArgs...); err != nil {
		return nil, 0, fmt.Errorf("counting notifications: %w", err)
	}

	var rows []notificationRow
	if err := tx.SelectContext(ctx, &rows, tx.Rebind(pageQuery), pageArgs...); err != nil {
		return nil, 0, fmt.Errorf("querying notifications: %w", err)
	}

	out := make([]model.Notification, 0, len(rows))
	for _, row := range rows {
		n, err := row.toModel()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}

	return out, total, tx.Commit()
}

// MarkAllNewRead moves every New notification to Read.
func (s *SQLiteStore) MarkAllNewRead(ctx context.Context, now time.Time) ([]string, error) {
	ts := formatTime(now)
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		UPDATE notifications SET
			status = ?,
			read_at = COALESCE(read_at, ?),
			updated_at = ?,
			version = version + 1
		WHERE status = ?
		RETURNING id`,
		string(model.StatusRead), ts, ts, string(model.StatusNew),
	)
	if err != nil {
		return nil, fmt.Errorf("marking all notifications read: %w", err)
	}
	return ids, nil
}

// ArchiveAllRead moves every Read notification to Archived.
func (s *SQLiteStore) ArchiveAllRead(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		UPDATE notifications SET
			status = ?,
			updated_at = ?,
			version = version + 1
		WHERE status = ?
		RETURNING id`,
		string(model.StatusArchived), formatTime(now), string(model.StatusRead),
	)
	if err != nil {
		return nil, fmt.Errorf("archiving read notifications: %w", err)
	}
	return ids, nil
}
