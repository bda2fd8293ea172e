// Package source defines the contract every external integration
// implements to feed notifications into the hub.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/notifyhub/internal/model"
)

// ErrUnsupported is returned when no adapter exists for a service type.
var ErrUnsupported = errors.New("no source adapter for service type")

// AuthError indicates that authentication has failed or expired for a source.
// It is returned by source clients when a 401 response is received.
type AuthError struct {
	ServiceType model.ServiceType
	Message     string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.ServiceType, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Draft is a notification as delivered by a source, before it is stored.
type Draft struct {
	// ExternalID is the item's identifier within its source system and
	// makes repeated deliveries idempotent.
	ExternalID string

	Title    string
	Content  string
	Priority model.Priority
	URL      string
	Tags     []string

	// CustomData holds source-specific fields worth keeping.
	CustomData map[string]any

	// OccurredAt is when the item was created or last updated upstream.
	OccurredAt time.Time
}

// Source defines the contract that every external integration must implement.
type Source interface {
	// Type returns the service type this source serves.
	Type() model.ServiceType

	// ValidateConnection verifies credentials and connectivity.
	// Returns a human-readable status message on success.
	ValidateConnection(ctx context.Context) (string, error)

	// FetchNotifications returns the items changed since the given time.
	// A zero since means the adapter's default look-back window.
	FetchNotifications(ctx context.Context, since time.Time) ([]Draft, error)
}

// MaxTags bounds the tags a draft may carry.
const MaxTags = 10

// LimitTags drops empty and duplicate tags and keeps at most MaxTags.
func LimitTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		if t == "" || seen[t] || len(t) > 50 {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == MaxTags {
			break
		}
	}
	return out
}
