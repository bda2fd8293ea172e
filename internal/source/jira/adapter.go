package jira

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/notifyhub/internal/model"
	"github.com/nhle/notifyhub/internal/source"
)

// defaultJQL is used when the service metadata carries no "jql" entry.
const defaultJQL = "assignee=currentUser() AND resolution=Unresolved"

// defaultLookback bounds the first sync of a service.
const defaultLookback = 7 * 24 * time.Hour

// maxResults caps the issues fetched per sync.
const maxResults = 50

// fetchFields are the Jira fields requested during searches.
var fetchFields = []string{
	"summary", "status", "priority", "assignee", "reporter", "issuetype",
	"project", "created", "updated", "labels", "description",
}

// Adapter implements source.Source for Jira Server/DC.
type Adapter struct {
	client  *Client
	baseURL string
	jql     string
	paths   model.Endpoints
}

// NewAdapter creates a Jira source adapter for a stored service config.
func NewAdapter(cfg model.ServiceConfig) (*Adapter, error) {
	if cfg.Endpoints.BaseURL == "" {
		return nil, fmt.Errorf("jira service %s has no base URL", cfg.ID)
	}

	authorize, err := source.HeaderAuthorizer(model.ServiceTypeJira, cfg.Auth)
	if err != nil {
		return nil, err
	}

	jql := cfg.Metadata["jql"]
	if jql == "" {
		jql = defaultJQL
	}

	return &Adapter{
		client:  NewClient(cfg.Endpoints.BaseURL, authorize),
		baseURL: strings.TrimRight(cfg.Endpoints.BaseURL, "/"),
		jql:     stripOrderBy(jql),
		paths:   cfg.Endpoints,
	}, nil
}

// Type returns the service type served by this adapter.
func (a *Adapter) Type() model.ServiceType {
	return model.ServiceTypeJira
}

// ValidateConnection verifies credentials by calling GET /rest/api/2/myself.
// Returns the user's display name on success.
func (a *Adapter) ValidateConnection(ctx context.Context) (string, error) {
	var me Myself
	path := a.paths.Path("myself", "/rest/api/2/myself")
	if err := a.client.Get(ctx, path, &me); err != nil {
		return "", fmt.Errorf("validating Jira connection: %w", err)
	}
	return me.DisplayName, nil
}

// FetchNotifications returns the issues matching the configured JQL that
// were updated since the given time.
func (a *Adapter) FetchNotifications(ctx context.Context, since time.Time) ([]source.Draft, error) {
	if since.IsZero() {
		since = time.Now().Add(-defaultLookback)
	}

	jql := fmt.Sprintf(`(%s) AND updated >= "%s" ORDER BY updated DESC`,
		a.jql, since.UTC().Format("2006/01/02 15:04"))

	body := map[string]any{
		"jql":        jql,
		"fields":     fetchFields,
		"expand":     []string{"renderedFields"},
		"startAt":    0,
		"maxResults": maxResults,
	}

	var searchResp SearchResponse
	path := a.paths.Path("search", "/rest/api/2/search")
	if err := a.client.Post(ctx, path, body, &searchResp); err != nil {
		return nil, fmt.Errorf("fetching Jira issues: %w", err)
	}

	drafts := make([]source.Draft, 0, len(searchResp.Issues))
	for _, issue := range searchResp.Issues {
		drafts = append(drafts, a.issueToDraft(issue))
	}
	return drafts, nil
}

// issueToDraft converts a Jira Issue to a notification draft.
func (a *Adapter) issueToDraft(issue Issue) source.Draft {
	content := ""
	if issue.RenderedFields != nil {
		content = stripHTML(issue.RenderedFields.Description)
	}
	if content == "" {
		content = issue.Fields.Description
	}

	tags := []string{strings.ToLower(issue.Fields.IssueType.Name), issue.Fields.Project.Key}
	tags = append(tags, issue.Fields.Labels...)

	custom := map[string]any{
		"status":  issue.Fields.Status.Name,
		"project": issue.Fields.Project.Name,
	}
	if issue.Fields.Assignee != nil {
		custom["assignee"] = issue.Fields.Assignee.DisplayName
	}
	if issue.Fields.Reporter != nil {
		custom["reporter"] = issue.Fields.Reporter.DisplayName
	}

	occurred := parseJiraTime(issue.Fields.Updated)
	if occurred.IsZero() {
		occurred = parseJiraTime(issue.Fields.Created)
	}

	return source.Draft{
		ExternalID: issue.Key,
		Title:      issue.Key + ": " + issue.Fields.Summary,
		Content:    content,
		Priority:   normalizePriority(issue.Fields.Priority),
		URL:        a.baseURL + "/browse/" + issue.Key,
		Tags:       source.LimitTags(tags),
		CustomData: custom,
		OccurredAt: occurred,
	}
}

// normalizePriority maps a Jira priority to a notification priority.
// Numeric ids follow the stock scheme (1 Highest .. 5 Lowest); unknown ids
// fall back to the priority name.
func normalizePriority(p *Priority) model.Priority {
	if p == nil {
		return model.PriorityMedium
	}

	if id, err := strconv.Atoi(p.ID); err == nil {
		switch {
		case id <= 1:
			return model.PriorityCritical
		case id == 2:
			return model.PriorityHigh
		case id == 3:
			return model.PriorityMedium
		default:
			return model.PriorityLow
		}
	}

	switch strings.ToLower(p.Name) {
	case "highest", "blocker", "critical":
		return model.PriorityCritical
	case "high", "major":
		return model.PriorityHigh
	case "low", "lowest", "minor", "trivial":
		return model.PriorityLow
	}
	return model.PriorityMedium
}

// parseJiraTime parses a Jira timestamp string. Jira uses the format
// "2006-01-02T15:04:05.000+0000".
func parseJiraTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	layouts := []string{
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05-0700",
		time.RFC3339,
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}

	return time.Time{}
}

var orderByPattern = regexp.MustCompile(`(?i)\s+ORDER\s+BY\s+.*$`)

// stripOrderBy removes a trailing ORDER BY clause so the JQL can be
// combined with the sync window.
func stripOrderBy(jql string) string {
	return strings.TrimSpace(orderByPattern.ReplaceAllString(jql, ""))
}

// htmlTagPattern matches HTML tags for stripping.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML removes HTML tags from a string and collapses whitespace.
func stripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := html
	for _, tag := range []string{"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>"} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagPattern.ReplaceAllString(result, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", "\"",
		"&#39;", "'",
		"&nbsp;", " ",
	)
	result = replacer.Replace(result)

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}
