package notification

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/notifyhub/internal/apperr"
	"github.com/nhle/notifyhub/internal/model"
	"github.com/nhle/notifyhub/internal/store"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

const dateLayout = "2006-01-02"

// Bound is a date-range endpoint. It decodes from an RFC 3339 timestamp or
// a plain date; a plain date used as an upper bound covers the whole day.
type Bound struct {
	time.Time
	dateOnly bool
}

// Day returns the bound for a plain date.
func Day(year int, month time.Month, day int) *Bound {
	return &Bound{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), dateOnly: true}
}

// At returns the bound for an exact instant.
func At(t time.Time) *Bound {
	return &Bound{Time: t.UTC()}
}

func (b *Bound) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date bound must be a string: %w", err)
	}
	s = strings.TrimSpace(s)

	if t, err := time.Parse(dateLayout, s); err == nil {
		*b = Bound{Time: t, dateOnly: true}
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parsing date bound %q: expected YYYY-MM-DD or RFC 3339", s)
	}
	*b = Bound{Time: t.UTC()}
	return nil
}

func (b Bound) MarshalJSON() ([]byte, error) {
	if b.dateOnly {
		return json.Marshal(b.Time.Format(dateLayout))
	}
	return json.Marshal(b.Time.Format(time.RFC3339Nano))
}

// upper returns the last instant covered by b as an upper bound.
func (b Bound) upper() time.Time {
	if b.dateOnly {
		return b.Time.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return b.Time
}

// Filter selects notifications. Every set field narrows the result.
type Filter struct {
	Status   *model.Status      `json:"status,omitempty" validate:"omitempty,status"`
	Source   *model.ServiceType `json:"source,omitempty" validate:"omitempty,servicetype"`
	Priority *model.Priority    `json:"priority,omitempty" validate:"omitempty,priority"`

	// Tags matches notifications carrying any of the listed tags.
	Tags []string `json:"tags,omitempty" validate:"max=10,dive,required,max=50"`

	FromDate *Bound `json:"fromDate,omitempty"`
	ToDate   *Bound `json:"toDate,omitempty"`

	// IncludeDeleted keeps Deleted notifications in the result. A status
	// filter of Deleted implies it.
	IncludeDeleted bool `json:"includeDeleted,omitempty"`

	Page    *int `json:"page,omitempty" validate:"omitempty,min=1"`
	PerPage *int `json:"perPage,omitempty" validate:"omitempty,min=1,max=100"`
}

// Page is one page of a notification listing.
type Page struct {
	Notifications []model.Notification `json:"notifications"`
	Total         int                  `json:"total"`
	Page          int                  `json:"page"`
	PerPage       int                  `json:"perPage"`
	HasMore       bool                 `json:"hasMore"`
}

func (f Filter) pagination() (page, perPage int) {
	page, perPage = 1, DefaultPerPage
	if f.Page != nil {
		page = *f.Page
	}
	if f.PerPage != nil {
		perPage = *f.PerPage
	}
	return page, perPage
}

// query checks the cross-field rules and converts f to a store query.
func (f Filter) query() (store.NotificationQuery, error) {
	if f.FromDate != nil && f.ToDate != nil && f.FromDate.Time.After(f.ToDate.Time) {
		return store.NotificationQuery{}, apperr.Validation("fromDate", "must not be after toDate")
	}

	page, perPage := f.pagination()
	q := store.NotificationQuery{
		Status:         f.Status,
		Source:         f.Source,
		Priority:       f.Priority,
		Tags:           f.Tags,
		IncludeDeleted: f.IncludeDeleted,
		Limit:          perPage,
		Offset:         (page - 1) * perPage,
	}
	if f.FromDate != nil {
		from := f.FromDate.Time
		q.From = &from
	}
	if f.ToDate != nil {
		to := f.ToDate.upper()
		q.To = &to
	}
	return q, nil
}
