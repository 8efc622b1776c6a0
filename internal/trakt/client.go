package trakt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is the production Trakt API endpoint.
	DefaultBaseURL = "https://api.trakt.tv"

	apiVersion     = "2"
	defaultTimeout = 30 * time.Second

	// HistoryPageSize is the fixed page size used for history pagination.
	HistoryPageSize = 500

	headerRateRemaining = "X-Ratelimit-Remaining"
	headerRateReset     = "X-Ratelimit-Reset"
	headerPageCount     = "X-Pagination-Page-Count"

	// resetMargin is added past the reported reset instant before sending
	// again, so a slightly skewed clock doesn't trip the limit twice.
	resetMargin = time.Second

	// defaultRetryAfter is used when a 429 carries no usable Retry-After.
	defaultRetryAfter = time.Second

	// pagePacingDelay is inserted between sequential history page fetches
	// regardless of the observed remaining quota.
	pagePacingDelay = 200 * time.Millisecond
)

// TokenState is the persisted OAuth token triple. ExpiresAt is a Unix
// timestamp in seconds. The triple is only ever replaced whole.
// CreatedAt is advisory: it bounds the expiry margin for tokens whose
// lifetime is shorter than the margin itself, and is not persisted.
type TokenState struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
	CreatedAt    int64
}

// ClientConfig contains configuration for creating a Trakt client.
type ClientConfig struct {
	ClientID     string
	ClientSecret string

	// BaseURL overrides the API base URL. Empty selects DefaultBaseURL.
	BaseURL string

	// Timeout is the transport timeout in seconds. Zero selects a default.
	Timeout int

	Logger zerolog.Logger

	// OnTokenUpdate, when set, is invoked with the new token state after
	// every successful authorization or refresh so the caller can persist it.
	OnTokenUpdate func(TokenState)
}

// Client talks to the Trakt API. All data calls share one rolling
// rate-limit budget; the read-quota, wait, send, update-quota sequence
// runs as a single critical section so concurrent callers cannot act on
// stale quota state.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	clientID      string
	clientSecret  string
	logger        zerolog.Logger
	onTokenUpdate func(TokenState)

	now func() time.Time

	// reqMu serializes the rate-limited request path and guards the budget.
	reqMu     chan struct{}
	remaining int // last observed remaining quota, -1 when unknown
	resetAt   int64

	auth authState
}

// NewClient creates a new Trakt API client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	c := &Client{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       baseURL,
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		logger:        cfg.Logger.With().Str("component", "trakt-client").Logger(),
		onTokenUpdate: cfg.OnTokenUpdate,
		now:           time.Now,
		reqMu:         make(chan struct{}, 1),
		remaining:     -1,
	}
	return c
}

// HasCredentials reports whether a client id and secret are configured.
func (c *Client) HasCredentials() bool {
	return c.clientID != "" && c.clientSecret != ""
}

// Close releases idle transport connections. The client must not be used
// after Close; the provider calls this when configuration is replaced.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// setHeaders applies the fixed Trakt API headers plus the bearer token
// when one is supplied.
func (c *Client) setHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trakt-api-version", apiVersion)
	req.Header.Set("trakt-api-key", c.clientID)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
}

// lockRequests acquires the request critical section, honoring cancellation.
func (c *Client) lockRequests(ctx context.Context) error {
	select {
	case c.reqMu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) unlockRequests() {
	<-c.reqMu
}

// waitForBudget suspends until the cached reset instant when the last
// observed remaining quota is zero. Called with the request lock held.
func (c *Client) waitForBudget(ctx context.Context) error {
	if c.remaining != 0 {
		return nil
	}

	wait := time.Unix(c.resetAt, 0).Sub(c.now()) + resetMargin
	if wait <= 0 {
		return nil
	}

	c.logger.Debug().
		Dur("wait", wait).
		Int64("resetAt", c.resetAt).
		Msg("rate limit budget exhausted, waiting for reset")

	return sleepContext(ctx, wait)
}

// updateBudget refreshes the cached quota from response headers. Applied
// unconditionally, including on error responses; the remote service is
// the source of truth.
func (c *Client) updateBudget(h http.Header) {
	if v := h.Get(headerRateRemaining); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.remaining = n
		}
	}
	if v := h.Get(headerRateReset); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.resetAt = n
		}
	}
}

// send issues a single GET without any rate-limit bookkeeping.
func (c *Client) send(ctx context.Context, accessToken, path string, query url.Values) (*http.Response, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trakt api request: %w", err)
	}
	return resp, nil
}

// authGet performs an authenticated GET under the rate-limit discipline:
// ensure the token is usable, wait out an exhausted budget, send, update
// the budget from the response, and retry exactly once on 429.
func (c *Client) authGet(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	accessToken, err := c.ensureValidToken(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.lockRequests(ctx); err != nil {
		return nil, err
	}
	defer c.unlockRequests()

	if err := c.waitForBudget(ctx); err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, accessToken, path, query)
	if err != nil {
		return nil, err
	}
	c.updateBudget(resp.Header)

	if resp.StatusCode != http.StatusTooManyRequests {
		return resp, nil
	}

	// The local budget was stale. Honor the remote's explicit delay and
	// retry once; a second rejection is surfaced to the caller.
	delay := retryAfterDelay(resp.Header)
	drainBody(resp)

	c.logger.Warn().
		Dur("retryAfter", delay).
		Str("path", path).
		Msg("rate limited despite local budget, retrying once")

	if err := sleepContext(ctx, delay); err != nil {
		return nil, err
	}

	resp, err = c.send(ctx, accessToken, path, query)
	if err != nil {
		return nil, err
	}
	c.updateBudget(resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		drainBody(resp)
		return nil, ErrRateLimited
	}
	return resp, nil
}

// getJSON runs an authenticated GET and decodes the body into result,
// returning the response headers for pagination callers.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, result interface{}) (http.Header, error) {
	resp, err := c.authGet(ctx, path, query)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrReauthRequired
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("trakt %s failed with status %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	return resp.Header, nil
}

// postJSON issues an unauthenticated POST used by the OAuth endpoints.
// OAuth calls are outside the sync rate budget.
func (c *Client) postJSON(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trakt api request: %w", err)
	}
	return resp, nil
}

// GetHistoryPage fetches a single page of watch history. When since is
// non-nil only entries watched at or after it are returned. The second
// return value is the total page count reported by the API; a missing or
// malformed pagination header counts as one page rather than an error.
func (c *Client) GetHistoryPage(ctx context.Context, since *time.Time, page int) ([]HistoryItem, int, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(HistoryPageSize))
	if since != nil {
		query.Set("start_at", since.UTC().Format(time.RFC3339))
	}

	var items []HistoryItem
	header, err := c.getJSON(ctx, "/sync/history", query, &items)
	if err != nil {
		return nil, 0, err
	}

	pageCount := 1
	if v := header.Get(headerPageCount); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pageCount = n
		}
	}
	return items, pageCount, nil
}

// GetHistoryAll fetches the complete watch history, page by page, until a
// short or empty page signals the end. A fixed pacing delay runs between
// pages as a courtesy to the shared quota.
func (c *Client) GetHistoryAll(ctx context.Context, since *time.Time) ([]HistoryItem, error) {
	var all []HistoryItem
	for page := 1; ; page++ {
		if page > 1 {
			if err := sleepContext(ctx, pagePacingDelay); err != nil {
				return nil, err
			}
		}

		items, _, err := c.GetHistoryPage(ctx, since, page)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)

		if len(items) < HistoryPageSize {
			break
		}
	}

	c.logger.Debug().Int("items", len(all)).Msg("history fetch complete")
	return all, nil
}

// GetRatings fetches the user's complete ratings. The endpoint is not
// paginated.
func (c *Client) GetRatings(ctx context.Context) ([]RatingItem, error) {
	var items []RatingItem
	if _, err := c.getJSON(ctx, "/sync/ratings", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// GetWatchlist fetches the user's complete watchlist. The endpoint is not
// paginated.
func (c *Client) GetWatchlist(ctx context.Context) ([]WatchlistItem, error) {
	var items []WatchlistItem
	if _, err := c.getJSON(ctx, "/sync/watchlist", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// HealthCheck probes an authenticated endpoint to confirm the token works
// and the API is reachable. Any failure maps to false.
func (c *Client) HealthCheck(ctx context.Context) bool {
	var activities LastActivities
	if _, err := c.getJSON(ctx, "/sync/last_activities", nil, &activities); err != nil {
		c.logger.Debug().Err(err).Msg("health check failed")
		return false
	}
	return true
}

// retryAfterDelay extracts the delay to wait from a 429 response.
func retryAfterDelay(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}

// sleepContext sleeps for d or until the context is cancelled, whichever
// comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
