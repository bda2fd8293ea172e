package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nhle/notifyhub/internal/model"
	"github.com/nhle/notifyhub/internal/source"
)

const defaultBaseURL = "https://gitlab.com"

// Client is a minimal GitLab REST API v4 client.
type Client struct {
	baseURL    string
	authorize  source.Authorizer
	httpClient *http.Client
}

// NewClient creates a GitLab client. An empty baseURL targets gitlab.com;
// self-managed instances pass their root URL without /api/v4.
func NewClient(baseURL string, authorize source.Authorizer) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authorize: authorize,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Get performs an HTTP GET request and unmarshals the JSON response.
func (c *Client) Get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	c.authorize(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &source.AuthError{
			ServiceType: model.ServiceTypeGitlab,
			Message:     "authentication failed (401)",
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		var apiErr ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil {
			if msg := apiErr.text(); msg != "" {
				return fmt.Errorf("gitlab API error (%d) on GET %s: %s", resp.StatusCode, path, msg)
			}
		}
		return fmt.Errorf("unexpected status %d on GET %s", resp.StatusCode, path)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshaling response from GET %s: %w", path, err)
	}
	return nil
}

func (e ErrorResponse) text() string {
	switch m := e.Message.(type) {
	case string:
		return m
	case nil:
		return e.Error
	default:
		b, _ := json.Marshal(m)
		return string(b)
	}
}
