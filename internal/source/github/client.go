package github

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

const defaultBaseURL = "https://api.github.com"

// Client is a minimal GitHub REST API client.
type Client struct {
	baseURL    string
	authorize  source.Authorizer
	httpClient *http.Client
}

// NewClient creates a GitHub client. An empty baseURL targets github.com.
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
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

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
			ServiceType: model.ServiceTypeGithub,
			Message:     "authentication failed (401)",
		}
	case resp.StatusCode == http.StatusNotModified:
		return nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		var apiErr ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("github API error (%d) on GET %s: %s", resp.StatusCode, path, apiErr.Message)
		}
		return fmt.Errorf("unexpected status %d on GET %s", resp.StatusCode, path)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshaling response from GET %s: %w", path, err)
	}
	return nil
}
