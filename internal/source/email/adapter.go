package email

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/notifyhub/internal/crossref"
	"github.com/nhle/notifyhub/internal/model"
	"github.com/nhle/notifyhub/internal/source"
)

const (
	defaultLookback = 7 * 24 * time.Hour
	fetchLimit      = 50
	maxContentLen   = 2000
)

// Adapter implements source.Source for an IMAP mailbox.
type Adapter struct {
	imapClient *IMAPClient
	username   string
}

// NewAdapter creates an email source adapter for a stored service config.
// The endpoint base URL has the form imaps://host:993 (implicit TLS) or
// imap://host:143 (STARTTLS); metadata "mailbox" overrides INBOX.
func NewAdapter(cfg model.ServiceConfig) (*Adapter, error) {
	basic, ok := cfg.Auth.(*model.BasicAuth)
	if !ok {
		return nil, &source.AuthError{
			ServiceType: model.ServiceTypeEmail,
			Message:     fmt.Sprintf("IMAP sync supports BasicAuth only, got %s", cfg.AuthType()),
		}
	}

	addr, useTLS, err := parseIMAPURL(cfg.Endpoints.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("email service %s: %w", cfg.ID, err)
	}

	return &Adapter{
		imapClient: NewIMAPClient(addr, basic.Username, basic.Password, useTLS, cfg.Metadata["mailbox"]),
		username:   basic.Username,
	}, nil
}

// parseIMAPURL splits an imap(s):// URL into a dial address and TLS mode.
func parseIMAPURL(raw string) (addr string, useTLS bool, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parsing IMAP URL %q: %w", raw, err)
	}

	switch u.Scheme {
	case "imaps":
		useTLS = true
	case "imap":
	default:
		return "", false, fmt.Errorf("unsupported IMAP URL scheme %q", u.Scheme)
	}

	host, port := u.Hostname(), u.Port()
	if host == "" {
		return "", false, fmt.Errorf("IMAP URL %q has no host", raw)
	}
	if port == "" {
		port = "143"
		if useTLS {
			port = "993"
		}
	}
	return net.JoinHostPort(host, port), useTLS, nil
}

// Type returns the service type served by this adapter.
func (a *Adapter) Type() model.ServiceType {
	return model.ServiceTypeEmail
}

// ValidateConnection verifies IMAP credentials by connecting,
// authenticating, and selecting the mailbox. Returns the username on success.
func (a *Adapter) ValidateConnection(ctx context.Context) (string, error) {
	client, release, err := a.imapClient.Connect(ctx)
	if err != nil {
		return "", fmt.Errorf("validating email connection: %w", err)
	}
	defer release()

	if _, err := client.Select(a.imapClient.mailbox, nil).Wait(); err != nil {
		return "", fmt.Errorf("selecting %s: %w", a.imapClient.mailbox, err)
	}

	return a.username, nil
}

// FetchNotifications returns the messages received since the given time.
func (a *Adapter) FetchNotifications(ctx context.Context, since time.Time) ([]source.Draft, error) {
	if since.IsZero() {
		since = time.Now().Add(-defaultLookback)
	}

	messages, err := a.imapClient.FetchMessages(ctx, since, fetchLimit)
	if err != nil {
		return nil, fmt.Errorf("fetching email: %w", err)
	}

	drafts := make([]source.Draft, 0, len(messages))
	for _, msg := range messages {
		drafts = append(drafts, messageToDraft(msg))
	}
	return drafts, nil
}

// messageToDraft converts a parsed message to a notification draft.
func messageToDraft(msg ParsedMessage) source.Draft {
	env := msg.Envelope

	externalID := env.MessageID
	if externalID == "" {
		externalID = fmt.Sprintf("uid-%d", env.UID)
	}

	title := strings.TrimSpace(env.Subject)
	if title == "" {
		title = "(no subject)"
	}
	if len(title) > 200 {
		title = title[:200]
	}

	content := strings.TrimSpace(msg.TextBody)
	if content == "" {
		content = htmlToText(msg.HTMLBody)
	}
	if len(content) > maxContentLen {
		content = content[:maxContentLen]
	}

	priority := model.PriorityMedium
	if env.HasFlag(string(imap.FlagFlagged)) {
		priority = model.PriorityHigh
	}

	tags := []string{"email"}
	if !env.HasFlag(string(imap.FlagSeen)) {
		tags = append(tags, "unread")
	}
	if len(msg.Attachments) > 0 {
		tags = append(tags, "attachment")
	}
	tags = append(tags, crossref.Tags(title)...)

	return source.Draft{
		ExternalID: externalID,
		Title:      title,
		Content:    content,
		Priority:   priority,
		Tags:       tags,
		CustomData: map[string]any{
			"from": env.From,
			"to":   env.To,
			"uid":  env.UID,
		},
		OccurredAt: env.Date,
	}
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func htmlToText(html string) string {
	text := tagPattern.ReplaceAllString(html, " ")
	return strings.Join(strings.Fields(text), " ")
}
