package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/evident/internal/config"
	"github.com/ppiankov/evident/internal/tier"
)

// fetchSleepFunc is overridable in tests to avoid real backoff delays
var fetchSleepFunc = time.Sleep

// Sentinel errors for exclusions that are not fetch failures.
var (
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	ErrDomainBlocked    = errors.New("domain failure cap reached")
)

// Fetcher retrieves page content under the run's fetch policy: robots
// compliance, per-domain rate limits and failure caps, retry-once on
// transient failures.
type Fetcher struct {
	httpClient *http.Client
	robots     *Robots
	limiter    *Limiter
	userAgent  string
	maxBytes   int64
}

// Result contains one fetched page, reduced to visible text
type Result struct {
	URL        string
	FinalURL   string
	Title      string
	Text       string
	StatusCode int
}

// NewFetcher creates a fetcher from the fetch configuration
func NewFetcher(cfg config.FetchConfig) *Fetcher {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 25 * time.Second
	}

	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 2_000_000
	}

	transport := newTransport(cfg)

	var robots *Robots
	if cfg.RespectRobots {
		robots = NewRobots(cfg.UserAgent, timeout, transport)
	}

	return &Fetcher{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		robots:    robots,
		limiter:   NewLimiter(cfg.RequestsPerSecond, cfg.Burst, cfg.MaxFailuresPerDomain),
		userAgent: cfg.UserAgent,
		maxBytes:  maxBytes,
	}
}

// Limiter exposes the per-domain failure counts for reporting
func (f *Fetcher) Limiter() *Limiter {
	return f.limiter
}

// Fetch retrieves and extracts one page. Robots exclusions and blocked
// domains return sentinel errors without an attempt; transient failures
// are retried once and then counted against the domain.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	domain := tier.Domain(rawURL)

	if f.limiter.Blocked(domain) {
		return nil, ErrDomainBlocked
	}
	if f.robots != nil && !f.robots.Allowed(ctx, rawURL) {
		return nil, ErrRobotsDisallowed
	}
	if err := f.limiter.Wait(ctx, domain); err != nil {
		return nil, err
	}

	result, err := f.fetchOnce(ctx, rawURL)
	if err != nil && isRetryable(err) && ctx.Err() == nil {
		fetchSleepFunc(time.Second)
		result, err = f.fetchOnce(ctx, rawURL)
	}
	if err != nil {
		f.limiter.RecordFailure(domain)
		return nil, err
	}
	return result, nil
}

// fetchOnce performs a single fetch attempt
func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &fetchError{retryable: true, err: fmt.Errorf("fetch: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &fetchError{
			status:    resp.StatusCode,
			retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			err:       fmt.Errorf("unexpected status: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	title, text, err := reduceBody(contentType, string(body))
	if err != nil {
		return nil, err
	}

	return &Result{
		URL:        rawURL,
		FinalURL:   resp.Request.URL.String(),
		Title:      title,
		Text:       text,
		StatusCode: resp.StatusCode,
	}, nil
}

// reduceBody converts a response body to title and visible text
func reduceBody(contentType, body string) (string, string, error) {
	switch {
	case contentType == "" || strings.Contains(contentType, "text/html"),
		strings.Contains(contentType, "application/xhtml"):
		title, text := ExtractText(body)
		return title, text, nil
	case strings.Contains(contentType, "text/plain"):
		return "", strings.TrimSpace(body), nil
	default:
		return "", "", fmt.Errorf("unsupported content type: %s", contentType)
	}
}

type fetchError struct {
	status    int
	retryable bool
	err       error
}

func (e *fetchError) Error() string { return e.err.Error() }
func (e *fetchError) Unwrap() error { return e.err }

// isRetryable reports whether a failed attempt is worth one retry:
// network errors, 5xx and 429. Client errors and body/parse failures
// are permanent.
func isRetryable(err error) bool {
	var fe *fetchError
	if errors.As(err, &fe) {
		return fe.retryable
	}
	return false
}
