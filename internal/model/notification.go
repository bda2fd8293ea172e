package model

import (
	"time"

	"github.com/nhle/notifyhub/internal/apperr"
)

// Priority is the urgency of a notification.
type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Status is the lifecycle state of a notification.
type Status string

const (
	StatusNew            Status = "New"
	StatusRead           Status = "Read"
	StatusActionRequired Status = "ActionRequired"
	StatusActionTaken    Status = "ActionTaken"
	StatusArchived       Status = "Archived"
	StatusDeleted        Status = "Deleted"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusRead, StatusActionRequired, StatusActionTaken, StatusArchived, StatusDeleted:
		return true
	}
	return false
}

// Metadata describes where a notification came from.
type Metadata struct {
	// Source mirrors the service type of the originating integration.
	Source ServiceType `json:"source" validate:"required,servicetype"`

	// ExternalID is the item's identifier within its source system.
	ExternalID *string `json:"externalId,omitempty" validate:"omitempty,max=255"`

	// URL links back to the item in its source system.
	URL *string `json:"url,omitempty" validate:"omitempty,url"`

	Tags []string `json:"tags" validate:"max=10,dive,required,max=50"`

	// CustomData holds source-specific free-form data.
	CustomData map[string]any `json:"customData,omitempty"`
}

// Notification is a unit of actionable or informational content.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id"`

	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Priority Priority `json:"priority"`
	Status   Status   `json:"status"`
	Metadata Metadata `json:"metadata"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// ReadAt is set the first time the notification is surfaced to the user.
	ReadAt *time.Time `json:"readAt,omitempty"`

	// ActionTakenAt is set when the user acted on the notification.
	ActionTakenAt *time.Time `json:"actionTakenAt,omitempty"`

	// Version is the optimistic concurrency counter of the stored row.
	Version int64 `json:"-"`
}

// Transition moves n to target at time now. It reports whether n changed;
// repeating a transition into the current state is a no-op. Illegal
// transitions return an *apperr.InvalidStateError and leave n untouched.
func (n *Notification) Transition(target Status, now time.Time) (bool, error) {
	if !allowed(n.Status, target) {
		return false, &apperr.InvalidStateError{From: string(n.Status), To: string(target)}
	}
	if n.Status == target {
		return false, nil
	}

	switch target {
	case StatusRead:
		if n.ReadAt == nil {
			n.ReadAt = stamp(now)
		}
	case StatusActionTaken:
		if n.ReadAt == nil {
			n.ReadAt = stamp(now)
		}
		if n.ActionTakenAt == nil {
			n.ActionTakenAt = stamp(now)
		}
	}
	n.Status = target
	n.UpdatedAt = now
	return true, nil
}

func allowed(from, to Status) bool {
	if from == StatusDeleted {
		return to == StatusDeleted
	}
	switch to {
	case StatusRead, StatusActionRequired:
		return from != StatusArchived
	case StatusActionTaken:
		return from == StatusRead || from == StatusActionRequired || from == StatusActionTaken
	case StatusArchived, StatusDeleted:
		return true
	}
	return false
}

func stamp(t time.Time) *time.Time {
	return &t
}
