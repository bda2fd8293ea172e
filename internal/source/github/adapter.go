package github

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nhle/notifyhub/internal/crossref"
	"github.com/nhle/notifyhub/internal/model"
	"github.com/nhle/notifyhub/internal/source"
)

const defaultLookback = 7 * 24 * time.Hour

// Adapter implements source.Source for GitHub notifications.
type Adapter struct {
	client *Client
	paths  model.Endpoints
}

// NewAdapter creates a GitHub source adapter for a stored service config.
func NewAdapter(cfg model.ServiceConfig) (*Adapter, error) {
	authorize, err := source.HeaderAuthorizer(model.ServiceTypeGithub, cfg.Auth)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		client: NewClient(cfg.Endpoints.BaseURL, authorize),
		paths:  cfg.Endpoints,
	}, nil
}

// Type returns the service type served by this adapter.
func (a *Adapter) Type() model.ServiceType {
	return model.ServiceTypeGithub
}

// ValidateConnection calls GET /user and returns the login.
func (a *Adapter) ValidateConnection(ctx context.Context) (string, error) {
	var me User
	if err := a.client.Get(ctx, a.paths.Path("user", "/user"), &me); err != nil {
		return "", fmt.Errorf("validating GitHub connection: %w", err)
	}
	return me.Login, nil
}

// FetchNotifications returns the notification threads updated since the
// given time, read or unread.
func (a *Adapter) FetchNotifications(ctx context.Context, since time.Time) ([]source.Draft, error) {
	if since.IsZero() {
		since = time.Now().Add(-defaultLookback)
	}

	q := url.Values{}
	q.Set("all", "true")
	q.Set("since", since.UTC().Format(time.RFC3339))
	q.Set("per_page", "50")

	var threads []Thread
	path := a.paths.Path("notifications", "/notifications") + "?" + q.Encode()
	if err := a.client.Get(ctx, path, &threads); err != nil {
		return nil, fmt.Errorf("fetching GitHub notifications: %w", err)
	}

	drafts := make([]source.Draft, 0, len(threads))
	for _, t := range threads {
		drafts = append(drafts, threadToDraft(t))
	}
	return drafts, nil
}

// threadToDraft converts a notification thread to a notification draft.
func threadToDraft(t Thread) source.Draft {
	tags := []string{t.Reason, strings.ToLower(t.Subject.Type)}
	if t.Unread {
		tags = append(tags, "unread")
	}
	tags = append(tags, crossref.Tags(t.Subject.Title)...)

	return source.Draft{
		ExternalID: t.ID,
		Title:      t.Subject.Title,
		Content:    fmt.Sprintf("%s in %s (%s)", t.Subject.Type, t.Repository.FullName, humanReason(t.Reason)),
		Priority:   reasonPriority(t.Reason),
		URL:        t.Repository.HTMLURL,
		Tags:       source.LimitTags(tags),
		CustomData: map[string]any{
			"repository": t.Repository.FullName,
			"subjectUrl": t.Subject.URL,
		},
		OccurredAt: t.UpdatedAt,
	}
}

// reasonPriority ranks a thread by why the user was notified.
func reasonPriority(reason string) model.Priority {
	switch reason {
	case "security_alert":
		return model.PriorityCritical
	case "review_requested", "assign", "mention", "team_mention", "ci_activity":
		return model.PriorityHigh
	case "subscribed", "manual":
		return model.PriorityLow
	}
	return model.PriorityMedium
}

func humanReason(reason string) string {
	return strings.ReplaceAll(reason, "_", " ")
}
