package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/evident/internal/config"
)

// searchSleep is overridable in tests to avoid real backoff delays
var searchSleep = time.Sleep

// Result is one hit from the metasearch backend
type Result struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"` // preview text shown on the results page
	Engine  string  `json:"engine,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

type searxResponse struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

// Client queries a SearXNG instance over its JSON API
type Client struct {
	baseURL    string
	numResults int
	httpClient *http.Client
}

// NewClient creates a search client for the configured backend
func NewClient(cfg config.SearchConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	numResults := cfg.NumResults
	if numResults <= 0 {
		numResults = 10
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		numResults: numResults,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Search runs one query and returns up to the configured number of
// results. Transient failures are retried once; the caller treats a
// failed query as exhausted and moves on to the next one.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	results, err := c.search(ctx, query)
	if err != nil && isRetryable(err) && ctx.Err() == nil {
		searchSleep(500 * time.Millisecond)
		results, err = c.search(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) search(ctx context.Context, query string) ([]Result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	endpoint := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &searchError{retryable: true, err: fmt.Errorf("execute search: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &searchError{retryable: true, err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &searchError{
			retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			err:       fmt.Errorf("search backend returned %d", resp.StatusCode),
		}
	}

	var parsed searxResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal search response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, r)
		if len(results) >= c.numResults {
			break
		}
	}
	return results, nil
}

// IsAvailable checks that the search backend answers queries
func (c *Client) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?q=ping&format=json", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

type searchError struct {
	retryable bool
	err       error
}

func (e *searchError) Error() string { return e.err.Error() }
func (e *searchError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	if se, ok := err.(*searchError); ok {
		return se.retryable
	}
	return false
}
