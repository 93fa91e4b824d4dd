package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultReportingBaseURL = "https://api.siteimprove.com/v2"
	sitesPageSize           = 100
	accessibilityProduct    = "accessibility"

	maxRateLimitRetries = 5
	rateLimitBaseDelay  = 2 * time.Second
	rateLimitMaxDelay   = time.Minute
)

// ErrRateLimitExceeded means the upstream kept returning 429 until the retry
// budget ran out.
var ErrRateLimitExceeded = errors.New("reporting api rate limit retries exhausted")

// UpstreamError is any non-throttle HTTP failure from the reporting API. It is
// never retried.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("reporting api error: status %d body %s", e.StatusCode, e.Body)
}

// Site is one monitored website from the upstream directory. Sites are
// re-fetched every run and never persisted.
type Site struct {
	ID       string
	Name     string
	URL      string
	Products []string
}

// HasAccessibility reports whether the accessibility product is enabled for the site.
func (s Site) HasAccessibility() bool {
	for _, p := range s.Products {
		if strings.EqualFold(strings.TrimSpace(p), accessibilityProduct) {
			return true
		}
	}
	return false
}

// ReportingClient issues authenticated GETs against the accessibility
// reporting API, retrying rate-limited responses with exponential backoff.
type ReportingClient struct {
	baseURL    string
	groupID    string
	authHeader string
	client     *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewReportingClient builds a client from API_USERNAME/API_KEY. The optional
// base URL override (API_BASE_URL) exists for tests and staging.
func NewReportingClient(client *http.Client) *ReportingClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("API_BASE_URL")), "/")
	if baseURL == "" {
		baseURL = defaultReportingBaseURL
	}
	return &ReportingClient{
		baseURL:    baseURL,
		groupID:    strings.TrimSpace(os.Getenv("SYNC_GROUP_ID")),
		authHeader: basicAuthHeader(os.Getenv("API_USERNAME"), os.Getenv("API_KEY")),
		client:     client,
		sleep:      sleepContext,
	}
}

func basicAuthHeader(username, apiKey string) string {
	token := base64.StdEncoding.EncodeToString([]byte(username + ":" + apiKey))
	return "Basic " + token
}

// retryDelay maps a zero-based attempt number to a backoff wait. Pure so the
// schedule can be verified without sleeping.
func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := rateLimitBaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= rateLimitMaxDelay {
			return rateLimitMaxDelay
		}
	}
	if delay > rateLimitMaxDelay {
		return rateLimitMaxDelay
	}
	return delay
}

// retryAfterDelay parses a Retry-After header value given in seconds.
func retryAfterDelay(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// apiGet performs one authenticated GET. Only 429 responses are retried; the
// server-provided Retry-After wins over the computed backoff when present.
func (c *ReportingClient) apiGet(ctx context.Context, path string, query url.Values) ([]byte, error) {
	reqURL, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, err
	}
	if query != nil {
		reqURL.RawQuery = query.Encode()
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", c.authHeader)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			if readErr != nil {
				return nil, fmt.Errorf("read reporting response: %w", readErr)
			}
			return body, nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			if attempt >= maxRateLimitRetries {
				return nil, fmt.Errorf("%s: %w", reqURL.Path, ErrRateLimitExceeded)
			}
			wait := retryDelay(attempt)
			if serverWait := retryAfterDelay(resp.Header.Get("Retry-After")); serverWait > 0 {
				wait = serverWait
			}
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: truncateBody(body)}
	}
}

func truncateBody(body []byte) string {
	const limit = 4096
	if len(body) > limit {
		body = body[:limit]
	}
	return string(body)
}

type sitesPage struct {
	Items []struct {
		ID       json.Number `json:"id"`
		SiteName string      `json:"site_name"`
		URL      string      `json:"url"`
		Products []string    `json:"products"`
	} `json:"items"`
	TotalItems int `json:"total_items"`
}

// ListAccessibilitySites pages through the site directory and returns the
// sites with the accessibility product enabled, in upstream order. An empty
// result is valid; only a fetch failure is an error.
func (c *ReportingClient) ListAccessibilitySites(ctx context.Context) ([]Site, error) {
	var sites []Site

	page := 1
	seen := 0
	for {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("page_size", strconv.Itoa(sitesPageSize))
		if c.groupID != "" {
			query.Set("group_id", c.groupID)
		}

		body, err := c.apiGet(ctx, "/sites", query)
		if err != nil {
			return nil, fmt.Errorf("list sites page %d: %w", page, err)
		}

		var decoded sitesPage
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, fmt.Errorf("decode sites page %d: %w", page, err)
		}

		for _, item := range decoded.Items {
			site := Site{
				ID:       strings.TrimSpace(item.ID.String()),
				Name:     strings.TrimSpace(item.SiteName),
				URL:      strings.TrimSpace(item.URL),
				Products: item.Products,
			}
			if site.ID == "" {
				continue
			}
			if site.HasAccessibility() {
				sites = append(sites, site)
			}
		}

		seen += len(decoded.Items)
		if len(decoded.Items) == 0 || (decoded.TotalItems > 0 && seen >= decoded.TotalItems) {
			break
		}
		page++
	}

	return sites, nil
}
