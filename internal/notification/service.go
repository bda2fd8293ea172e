// Package notification owns notification records: creation, idempotent
// ingestion, status transitions, filtered listing and bulk passes.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/notifyhub/internal/apperr"
	"github.com/nhle/notifyhub/internal/events"
	"github.com/nhle/notifyhub/internal/keyedmutex"
	"github.com/nhle/notifyhub/internal/model"
	"github.com/nhle/notifyhub/internal/store"
	"github.com/nhle/notifyhub/internal/validation"
)

// maxWriteAttempts bounds compare-and-swap retries of one transition.
const maxWriteAttempts = 5

// CreateRequest describes a notification to store.
type CreateRequest struct {
	Title    string         `json:"title" validate:"required,max=200"`
	Content  string         `json:"content" validate:"max=5000"`
	Priority model.Priority `json:"priority" validate:"omitempty,priority"`
	Metadata model.Metadata `json:"metadata"`

	// CreatedAt overrides the creation time, e.g. with the upstream
	// timestamp of an ingested item.
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// Service is the notification store. Transitions of one notification are
// serialized and written with a version compare-and-swap.
type Service struct {
	store     store.NotificationStore
	publisher events.Publisher
	validator *validation.Validator
	logger    *zap.Logger
	locks     keyedmutex.Map
	now       func() time.Time
}

// NewService creates a notification service. A nil publisher drops events.
func NewService(s store.NotificationStore, publisher events.Publisher, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Service{
		store:     s,
		publisher: publisher,
		validator: validation.New(),
		logger:    logger.Named("notification"),
		now:       time.Now,
	}
}

// SetClock replaces time.Now. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// Create validates req and stores a New notification.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Notification, error) {
	n, err := s.build(req)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertNotification(ctx, *n); err != nil {
		if errors.Is(err, store.ErrDuplicateExternalID) {
			return nil, apperr.Validation("metadata.externalId",
				"notification %s/%s already exists", n.Metadata.Source, *n.Metadata.ExternalID)
		}
		return nil, fmt.Errorf("creating notification: %w", err)
	}

	s.publish(ctx, events.Event{
		Type:           events.NotificationCreated,
		NotificationID: n.ID,
		Source:         n.Metadata.Source,
		Status:         n.Status,
		OccurredAt:     n.CreatedAt,
	})
	return n, nil
}

// Ingest stores req unless a notification with the same source and
// external id exists, in which case the stored one is returned. The bool
// reports whether a new notification was created.
func (s *Service) Ingest(ctx context.Context, req CreateRequest) (*model.Notification, bool, error) {
	ext := blankToNil(req.Metadata.ExternalID)
	if ext == nil {
		n, err := s.Create(ctx, req)
		return n, err == nil, err
	}

	existing, err := s.store.FindNotificationByExternalID(ctx, req.Metadata.Source, *ext)
	if err == nil {
		return existing, false, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, false, err
	}

	n, err := s.Create(ctx, req)
	if apperr.IsValidation(err) {
		// Lost a race with a concurrent ingest of the same item.
		if existing, ferr := s.store.FindNotificationByExternalID(ctx, req.Metadata.Source, *ext); ferr == nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}

func (s *Service) build(req CreateRequest) (*model.Notification, error) {
	req.Metadata.ExternalID = blankToNil(req.Metadata.ExternalID)
	req.Metadata.URL = blankToNil(req.Metadata.URL)
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperr.Validation("title", "must not be blank")
	}

	priority := req.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}

	now := s.clock()
	created := now
	if req.CreatedAt != nil && !req.CreatedAt.IsZero() {
		created = req.CreatedAt.UTC()
	}

	meta := req.Metadata
	meta.Tags = append([]string{}, meta.Tags...)

	return &model.Notification{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   req.Content,
		Priority:  priority,
		Status:    model.StatusNew,
		Metadata:  meta,
		CreatedAt: created,
		UpdatedAt: now,
		Version:   1,
	}, nil
}

// blankToNil treats an empty optional string as absent.
func blankToNil(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}

// Get returns the notification with id.
func (s *Service) Get(ctx context.Context, id string) (*model.Notification, error) {
	return s.store.GetNotification(ctx, id)
}

// List returns the page of notifications matching f, newest first.
func (s *Service) List(ctx context.Context, f Filter) (*Page, error) {
	if err := s.validator.Struct(f); err != nil {
		return nil, err
	}
	q, err := f.query()
	if err != nil {
		return nil, err
	}

	items, total, err := s.store.QueryNotifications(ctx, q)
	if err != nil {
		return nil, err
	}

	page, perPage := f.pagination()
	return &Page{
		Notifications: items,
		Total:         total,
		Page:          page,
		PerPage:       perPage,
		HasMore:       q.Offset+len(items) < total,
	}, nil
}

// MarkRead records that the notification was surfaced to the user.
func (s *Service) MarkRead(ctx context.Context, id string) (*model.Notification, error) {
	return s.transition(ctx, id, model.StatusRead)
}

// MarkActionRequired flags the notification as needing user action.
func (s *Service) MarkActionRequired(ctx context.Context, id string) (*model.Notification, error) {
	return s.transition(ctx, id, model.StatusActionRequired)
}

// MarkActionTaken records that the user acted on the notification.
func (s *Service) MarkActionTaken(ctx context.Context, id string) (*model.Notification, error) {
	return s.transition(ctx, id, model.StatusActionTaken)
}

// Archive moves the notification out of the active views.
func (s *Service) Archive(ctx context.Context, id string) (*model.Notification, error) {
	return s.transition(ctx, id, model.StatusArchived)
}

// Delete marks the notification Deleted. The record is kept.
func (s *Service) Delete(ctx context.Context, id string) (*model.Notification, error) {
	return s.transition(ctx, id, model.StatusDeleted)
}

func (s *Service) transition(ctx context.Context, id string, target model.Status) (*model.Notification, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	for range maxWriteAttempts {
		n, err := s.store.GetNotification(ctx, id)
		if err != nil {
			return nil, err
		}

		changed, err := n.Transition(target, s.clock())
		if err != nil {
			return nil, err
		}
		if !changed {
			return n, nil
		}

		written, err := s.store.UpdateNotificationState(ctx, *n)
		if err != nil {
			return nil, err
		}
		if !written {
			// A bulk pass changed the row since it was read.
			continue
		}
		n.Version++

		s.publish(ctx, events.Event{
			Type:           events.ForStatus(n.Status),
			NotificationID: n.ID,
			Source:         n.Metadata.Source,
			Status:         n.Status,
			OccurredAt:     n.UpdatedAt,
		})
		return n, nil
	}
	return nil, fmt.Errorf("transitioning notification %s to %s: too many concurrent writes", id, target)
}

// MarkAllRead moves every New notification to Read in one statement and
// returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context) (int, error) {
	now := s.clock()
	ids, err := s.store.MarkAllNewRead(ctx, now)
	if err != nil {
		return 0, err
	}
	s.publishBulk(ctx, ids, model.StatusRead, now)
	return len(ids), nil
}

// ArchiveAllRead moves every Read notification to Archived in one
// statement and returns how many changed.
func (s *Service) ArchiveAllRead(ctx context.Context) (int, error) {
	now := s.clock()
	ids, err := s.store.ArchiveAllRead(ctx, now)
	if err != nil {
		return 0, err
	}
	s.publishBulk(ctx, ids, model.StatusArchived, now)
	return len(ids), nil
}

func (s *Service) publishBulk(ctx context.Context, ids []string, status model.Status, at time.Time) {
	for _, id := range ids {
		s.publish(ctx, events.Event{
			Type:           events.ForStatus(status),
			NotificationID: id,
			Status:         status,
			OccurredAt:     at,
		})
	}
	s.logger.Info("bulk transition",
		zap.String("status", string(status)), zap.Int("count", len(ids)))
}

// PublishProcessed announces the outcome of an AI triage of a notification.
func (s *Service) PublishProcessed(ctx context.Context, n *model.Notification, requiresAction bool) {
	s.publish(ctx, events.Event{
		Type:           events.NotificationProcessed,
		NotificationID: n.ID,
		Source:         n.Metadata.Source,
		Status:         n.Status,
		RequiresAction: &requiresAction,
		OccurredAt:     s.clock(),
	})
}

// publish never fails the operation that triggered the event.
func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("publishing event failed",
			zap.String("event_type", string(e.Type)),
			zap.String("notification_id", e.NotificationID),
			zap.Error(err))
	}
}
