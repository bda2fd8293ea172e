package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/notifyhub/internal/model"
)

// ErrDuplicateExternalID is returned when a notification with the same
// source and external id is already stored.
var ErrDuplicateExternalID = errors.New("duplicate notification external id")

// NotificationQuery controls filtering and pagination for notification
// queries. Nil fields do not constrain the result.
type NotificationQuery struct {
	Status   *model.Status
	Source   *model.ServiceType
	Priority *model.Priority

	// Tags matches notifications carrying any of the listed tags.
	Tags []string

	From *time.Time
	To   *time.Time

	// IncludeDeleted keeps Deleted notifications in the result when no
	// status filter is set.
	IncludeDeleted bool

	Limit  int
	Offset int
}

// CacheEntry is a persisted response cache entry.
type CacheEntry struct {
	Key        string
	Value      []byte
	TTLClass   string
	InsertedAt time.Time
	ExpiresAt  time.Time
}

// ServiceStore persists service configs.
type ServiceStore interface {
	InsertService(ctx context.Context, cfg model.ServiceConfig) error
	GetService(ctx context.Context, id string) (*model.ServiceConfig, error)
	ListServices(ctx context.Context) ([]model.ServiceConfig, error)
	UpdateService(ctx context.Context, cfg model.ServiceConfig) error
	DeleteService(ctx context.Context, id string) error
}

// NotificationStore persists notifications.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n model.Notification) error
	GetNotification(ctx context.Context, id string) (*model.Notification, error)
	FindNotificationByExternalID(
		ctx context.Context,
		source model.ServiceType,
		externalID string,
	) (*model.Notification, error)

	// UpdateNotificationState writes the status and timestamps of n if the
	// stored version still equals n.Version. It reports whether the row
	// was written.
	UpdateNotificationState(ctx context.Context, n model.Notification) (bool, error)

	QueryNotifications(ctx context.Context, q NotificationQuery) ([]model.Notification, int, error)

	// MarkAllNewRead moves every New notification to Read in one statement
	// and returns the ids it changed.
	MarkAllNewRead(ctx context.Context, now time.Time) ([]string, error)

	// ArchiveAllRead moves every Read notification to Archived in one
	// statement and returns the ids it changed.
	ArchiveAllRead(ctx context.Context, now time.Time) ([]string, error)
}

// CacheStore persists response cache entries.
type CacheStore interface {
	GetCacheEntry(ctx context.Context, key string) (*CacheEntry, error)
	PutCacheEntry(ctx context.Context, e CacheEntry, maxEntries int) error
	DeleteCacheEntry(ctx context.Context, key string) error
	ClearCache(ctx context.Context) error
}

// Store is the full persistence interface backed by SQLite.
type Store interface {
	ServiceStore
	NotificationStore
	CacheStore
	Close() error
}
