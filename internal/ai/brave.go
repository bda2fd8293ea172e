package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultSearchURL = "https://api.search.brave.com/res/v1/web/search"

// BraveSearch queries the Brave Search web API.
type BraveSearch struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewBraveSearch creates a web searcher. Timeouts come from the request
// context.
func NewBraveSearch(baseURL, apiKey string) *BraveSearch {
	if baseURL == "" {
		baseURL = defaultSearchURL
	}
	return &BraveSearch{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

func (b *BraveSearch) Name() string {
	return BackendSearch
}

type braveResponse struct {
	Web *struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

type braveResult struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// Search returns the web results for query. A response without a web
// section has no hits.
func (b *BraveSearch) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if b.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	u, err := url.Parse(b.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing search URL: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling search API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: search API error (%d)", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("search API error (%d)", resp.StatusCode)
	}

	var parsed braveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	out := []SearchResult{}
	if parsed.Web == nil {
		return out, nil
	}
	for _, r := range parsed.Web.Results {
		title := strings.TrimSpace(r.Title)
		link := strings.TrimSpace(r.URL)
		if title == "" || link == "" {
			return nil, errors.New("search result without title or url")
		}
		out = append(out, SearchResult{
			Title:       title,
			Description: strings.TrimSpace(r.Description),
			URL:         link,
		})
	}
	return out, nil
}
