// Package gitlab reads the pending to-do list of a GitLab account.
package gitlab

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/notifyhub/internal/crossref"
	"github.com/nhle/notifyhub/internal/model"
	"github.com/nhle/notifyhub/internal/source"
)

const (
	defaultLookback = 7 * 24 * time.Hour

	// tokenHeader carries personal access tokens.
	tokenHeader = "PRIVATE-TOKEN"
)

// Adapter implements source.Source for GitLab to-do items.
type Adapter struct {
	client *Client
	paths  model.Endpoints
}

// NewAdapter creates a GitLab source adapter for a stored service config.
// API keys without a configured header are sent as PRIVATE-TOKEN.
func NewAdapter(cfg model.ServiceConfig) (*Adapter, error) {
	auth := cfg.Auth
	if k, ok := auth.(*model.APIKeyAuth); ok && k.HeaderName == "" {
		auth = &model.APIKeyAuth{Key: k.Key, HeaderName: tokenHeader}
	}
	authorize, err := source.HeaderAuthorizer(model.ServiceTypeGitlab, auth)
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
	return model.ServiceTypeGitlab
}

// ValidateConnection calls GET /api/v4/user and returns the username.
func (a *Adapter) ValidateConnection(ctx context.Context) (string, error) {
	var me User
	if err := a.client.Get(ctx, a.paths.Path("user", "/api/v4/user"), &me); err != nil {
		return "", fmt.Errorf("validating GitLab connection: %w", err)
	}
	return me.Username, nil
}

// FetchNotifications returns the pending to-do items updated since the
// given time. The API has no time filter, so older items are dropped here.
func (a *Adapter) FetchNotifications(ctx context.Context, since time.Time) ([]source.Draft, error) {
	if since.IsZero() {
		since = time.Now().Add(-defaultLookback)
	}

	q := url.Values{}
	q.Set("state", "pending")
	q.Set("per_page", "50")

	var todos []Todo
	path := a.paths.Path("todos", "/api/v4/todos") + "?" + q.Encode()
	if err := a.client.Get(ctx, path, &todos); err != nil {
		return nil, fmt.Errorf("fetching GitLab todos: %w", err)
	}

	drafts := make([]source.Draft, 0, len(todos))
	for _, t := range todos {
		if t.UpdatedAt.Before(since) {
			continue
		}
		drafts = append(drafts, todoToDraft(t))
	}
	return drafts, nil
}

// todoToDraft converts a to-do item to a notification draft.
func todoToDraft(t Todo) source.Draft {
	title := t.Target.Title
	if title == "" {
		title = t.Body
	}

	project, projectURL := "", ""
	if t.Project != nil {
		project, projectURL = t.Project.PathWithNamespace, t.Project.WebURL
	}

	link := t.TargetURL
	if link == "" {
		link = projectURL
	}

	tags := []string{t.ActionName, strings.ToLower(t.TargetType)}
	tags = append(tags, crossref.Tags(t.Target.Title, t.Body)...)

	where := ""
	if project != "" {
		where = " in " + project
	}

	return source.Draft{
		ExternalID: strconv.FormatInt(t.ID, 10),
		Title:      title,
		Content:    fmt.Sprintf("%s %s%s (%s)", t.Author.Username, humanAction(t.ActionName), where, t.TargetType),
		Priority:   actionPriority(t.ActionName),
		URL:        link,
		Tags:       source.LimitTags(tags),
		CustomData: map[string]any{
			"project":    project,
			"targetType": t.TargetType,
			"targetIid":  t.Target.IID,
			"author":     t.Author.Username,
		},
		OccurredAt: t.UpdatedAt,
	}
}

// actionPriority ranks a to-do by the action that created it.
func actionPriority(action string) model.Priority {
	switch action {
	case "build_failed", "unmergeable":
		return model.PriorityCritical
	case "assigned", "review_requested", "approval_required", "directly_addressed", "mentioned":
		return model.PriorityHigh
	case "marked":
		return model.PriorityLow
	}
	return model.PriorityMedium
}

func humanAction(action string) string {
	return strings.ReplaceAll(action, "_", " ")
}
