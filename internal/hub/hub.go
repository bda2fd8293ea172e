// Package hub is the command surface of notifyhub. Every command returns a
// Result whose error, if any, is mapped onto the shared taxonomy; service
// records leave the hub with their secrets redacted.
package hub

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/notifyhub/internal/ai"
	"github.com/nhle/notifyhub/internal/credential"
	"github.com/nhle/notifyhub/internal/model"
	"github.com/nhle/notifyhub/internal/notification"
)

// Hub routes commands to the credential store, the notification store and
// the AI router.
type Hub struct {
	creds  *credential.Manager
	notes  *notification.Service
	router *ai.Router
	logger *zap.Logger
}

// New creates a hub.
func New(
	creds *credential.Manager,
	notes *notification.Service,
	router *ai.Router,
	logger *zap.Logger,
) *Hub {
	return &Hub{
		creds:  creds,
		notes:  notes,
		router: router,
		logger: logger.Named("hub"),
	}
}

// Deleted acknowledges the removal of a service.
type Deleted struct {
	ID string `json:"id"`
}

// Connection is the outcome of a connectivity test.
type Connection struct {
	Message string `json:"message"`
}

// Authorization is the start of an OAuth2 authorization-code flow.
type Authorization struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// Affected counts the records changed by a bulk command.
type Affected struct {
	Count int `json:"count"`
}

// ProcessRequest names a stored notification to triage and, optionally,
// the key to triage it with.
type ProcessRequest struct {
	NotificationID string `json:"notificationId"`
	ServiceID      string `json:"serviceId,omitempty"`
	APIKey         string `json:"apiKey,omitempty"`
}

// Processed is the outcome of ProcessNotification.
type Processed struct {
	Notification *model.Notification `json:"notification"`
	Analysis     *ai.Analysis        `json:"analysis"`
}

func redacted(cfg *model.ServiceConfig, err error) (*model.ServiceConfig, error) {
	if err != nil {
		return nil, err
	}
	out := cfg.Redacted()
	return &out, nil
}

// --- Services ---

// CreateService validates and stores a new service config.
func (h *Hub) CreateService(ctx context.Context, req credential.CreateServiceRequest) Result[model.ServiceConfig] {
	cfg, err := redacted(h.creds.Create(ctx, req))
	return result(h.logger, "CreateService", cfg, err)
}

// GetService returns one service config with its secrets redacted.
func (h *Hub) GetService(ctx context.Context, id string) Result[model.ServiceConfig] {
	cfg, err := redacted(h.creds.Get(ctx, id))
	return result(h.logger, "GetService", cfg, err)
}

// ListServices returns every service config, redacted.
func (h *Hub) ListServices(ctx context.Context) Result[[]model.ServiceConfig] {
	services, err := h.creds.List(ctx)
	if err != nil {
		return result[[]model.ServiceConfig](h.logger, "ListServices", nil, err)
	}
	out := make([]model.ServiceConfig, 0, len(services))
	for _, svc := range services {
		out = append(out, svc.Redacted())
	}
	return Result[[]model.ServiceConfig]{Data: &out}
}

// DeleteService removes a service config.
func (h *Hub) DeleteService(ctx context.Context, id string) Result[Deleted] {
	if err := h.creds.Delete(ctx, id); err != nil {
		return result[Deleted](h.logger, "DeleteService", nil, err)
	}
	return Result[Deleted]{Data: &Deleted{ID: id}}
}

// EnableService includes the service in sync rounds.
func (h *Hub) EnableService(ctx context.Context, id string) Result[model.ServiceConfig] {
	cfg, err := redacted(h.creds.Enable(ctx, id))
	return result(h.logger, "EnableService", cfg, err)
}

// DisableService excludes the service from sync rounds.
func (h *Hub) DisableService(ctx context.Context, id string) Result[model.ServiceConfig] {
	cfg, err := redacted(h.creds.Disable(ctx, id))
	return result(h.logger, "DisableService", cfg, err)
}

// UpdateServiceAuth replaces the service's auth material.
func (h *Hub) UpdateServiceAuth(
	ctx context.Context,
	id string,
	update credential.AuthUpdate,
) Result[model.ServiceConfig] {
	cfg, err := redacted(h.creds.UpdateAuth(ctx, id, update))
	return result(h.logger, "UpdateServiceAuth", cfg, err)
}

// RefreshServiceToken refreshes an OAuth2 token that is about to expire.
func (h *Hub) RefreshServiceToken(ctx context.Context, id string) Result[model.ServiceConfig] {
	cfg, err := redacted(h.creds.RefreshIfNeeded(ctx, id))
	return result(h.logger, "RefreshServiceToken", cfg, err)
}

// AuthorizeService returns the provider URL that grants access to an
// OAuth2 service. An empty state is replaced by a random one.
func (h *Hub) AuthorizeService(ctx context.Context, id, state string) Result[Authorization] {
	if state == "" {
		state = uuid.NewString()
	}
	u, err := h.creds.AuthorizationURL(ctx, id, state)
	if err != nil {
		return result[Authorization](h.logger, "AuthorizeService", nil, err)
	}
	return Result[Authorization]{Data: &Authorization{URL: u, State: state}}
}

// CompleteServiceAuthorization exchanges the code the provider redirected
// back with for tokens.
func (h *Hub) CompleteServiceAuthorization(ctx context.Context, id, code string) Result[model.ServiceConfig] {
	cfg, err := redacted(h.creds.CompleteAuthorization(ctx, id, code))
	return result(h.logger, "CompleteServiceAuthorization", cfg, err)
}

// TestServiceConnection validates the service's credentials against its
// upstream and records the contact as lastSync.
func (h *Hub) TestServiceConnection(ctx context.Context, id string) Result[Connection] {
	msg, err := h.creds.TestConnection(ctx, id)
	if err != nil {
		return result[Connection](h.logger, "TestServiceConnection", nil, err)
	}
	return Result[Connection]{Data: &Connection{Message: msg}}
}

// --- Notifications ---

// CreateNotification stores a notification in the New state.
func (h *Hub) CreateNotification(ctx context.Context, req notification.CreateRequest) Result[model.Notification] {
	n, err := h.notes.Create(ctx, req)
	return result(h.logger, "CreateNotification", n, err)
}

// GetNotification returns one notification.
func (h *Hub) GetNotification(ctx context.Context, id string) Result[model.Notification] {
	n, err := h.notes.Get(ctx, id)
	return result(h.logger, "GetNotification", n, err)
}

// ListNotifications returns the page of notifications matching f.
func (h *Hub) ListNotifications(ctx context.Context, f notification.Filter) Result[notification.Page] {
	page, err := h.notes.List(ctx, f)
	return result(h.logger, "ListNotifications", page, err)
}

// MarkRead moves a notification to Read.
func (h *Hub) MarkRead(ctx context.Context, id string) Result[model.Notification] {
	n, err := h.notes.MarkRead(ctx, id)
	return result(h.logger, "MarkRead", n, err)
}

// MarkActionRequired flags a notification as needing user action.
func (h *Hub) MarkActionRequired(ctx context.Context, id string) Result[model.Notification] {
	n, err := h.notes.MarkActionRequired(ctx, id)
	return result(h.logger, "MarkActionRequired", n, err)
}

// MarkActionTaken records that the user acted on a notification.
func (h *Hub) MarkActionTaken(ctx context.Context, id string) Result[model.Notification] {
	n, err := h.notes.MarkActionTaken(ctx, id)
	return result(h.logger, "MarkActionTaken", n, err)
}

// Archive moves a notification out of the active views.
func (h *Hub) Archive(ctx context.Context, id string) Result[model.Notification] {
	n, err := h.notes.Archive(ctx, id)
	return result(h.logger, "Archive", n, err)
}

// Delete marks a notification Deleted; the record is kept.
func (h *Hub) Delete(ctx context.Context, id string) Result[model.Notification] {
	n, err := h.notes.Delete(ctx, id)
	return result(h.logger, "Delete", n, err)
}

// MarkAllRead moves every New notification to Read.
func (h *Hub) MarkAllRead(ctx context.Context) Result[Affected] {
	count, err := h.notes.MarkAllRead(ctx)
	if err != nil {
		return result[Affected](h.logger, "MarkAllRead", nil, err)
	}
	return Result[Affected]{Data: &Affected{Count: count}}
}

// ArchiveAllRead archives every Read notification.
func (h *Hub) ArchiveAllRead(ctx context.Context) Result[Affected] {
	count, err := h.notes.ArchiveAllRead(ctx)
	if err != nil {
		return result[Affected](h.logger, "ArchiveAllRead", nil, err)
	}
	return Result[Affected]{Data: &Affected{Count: count}}
}

// --- AI ---

// Analyze classifies content through the AI router.
func (h *Hub) Analyze(ctx context.Context, req ai.Request) Result[ai.Analysis] {
	a, err := h.router.Analyze(ctx, req)
	return result(h.logger, "Analyze", a, err)
}

// Generate produces free text through the AI router.
func (h *Hub) Generate(ctx context.Context, req ai.Request) Result[string] {
	text, err := h.router.Generate(ctx, req)
	return result(h.logger, "Generate", text, err)
}

// Search runs a web search, falling back to the local model when enabled.
func (h *Hub) Search(ctx context.Context, req ai.Request) Result[[]ai.SearchResult] {
	results, err := h.router.Search(ctx, req)
	if err != nil {
		return result[[]ai.SearchResult](h.logger, "Search", nil, err)
	}
	return Result[[]ai.SearchResult]{Data: &results}
}

// Health reports the AI backends. It never fails.
func (h *Hub) Health(ctx context.Context) Result[ai.Health] {
	health := h.router.Health(ctx)
	return Result[ai.Health]{Data: &health}
}

// ProcessNotification triages a stored notification. When the verdict
// requires action the notification is flagged ActionRequired; either way a
// Processed event is published.
func (h *Hub) ProcessNotification(ctx context.Context, req ProcessRequest) Result[Processed] {
	out, err := h.process(ctx, req)
	return result(h.logger, "ProcessNotification", out, err)
}

func (h *Hub) process(ctx context.Context, req ProcessRequest) (*Processed, error) {
	n, err := h.notes.Get(ctx, req.NotificationID)
	if err != nil {
		return nil, err
	}
	// Archived and Deleted notifications are not worth a backend call.
	candidate := *n
	if _, err := candidate.Transition(model.StatusActionRequired, n.UpdatedAt); err != nil {
		return nil, err
	}

	content := n.Title
	if body := strings.TrimSpace(n.Content); body != "" {
		content += "\n\n" + body
	}
	analysis, err := h.router.Analyze(ctx, ai.Request{
		Content:   content,
		ServiceID: req.ServiceID,
		APIKey:    req.APIKey,
	})
	if err != nil {
		return nil, err
	}

	if analysis.RequiresAction {
		n, err = h.notes.MarkActionRequired(ctx, n.ID)
		if err != nil {
			return nil, err
		}
	}
	h.notes.PublishProcessed(ctx, n, analysis.RequiresAction)

	return &Processed{Notification: n, Analysis: analysis}, nil
}
