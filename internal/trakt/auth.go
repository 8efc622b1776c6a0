package trakt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	// tokenExpiryMargin is the window before expiry inside which the token
	// is treated as due for refresh, so imports never race expiry mid-run.
	tokenExpiryMargin = 24 * time.Hour

	// maxPollAttempts caps polling per device code. Unrecognized statuses
	// are treated as pending, and without a cap a misbehaving remote could
	// keep a caller polling forever.
	maxPollAttempts = 360
)

// AuthStatus is the outcome of a single device-token poll. Expired,
// Denied and AlreadyUsed are terminal; the caller must restart the flow.
type AuthStatus string

const (
	AuthPending     AuthStatus = "pending"
	AuthAuthorized  AuthStatus = "authorized"
	AuthExpired     AuthStatus = "expired"
	AuthDenied      AuthStatus = "denied"
	AuthSlowDown    AuthStatus = "slow_down"
	AuthAlreadyUsed AuthStatus = "already_used"
)

// DeviceAuthorization is the result of starting the device flow.
// UserCode and VerificationURL are for display; DeviceCode is the opaque
// poll secret and must never be shown to the user.
type DeviceAuthorization struct {
	UserCode        string `json:"userCode"`
	VerificationURL string `json:"verificationUrl"`
	ExpiresIn       int    `json:"expiresIn"`
	Interval        int    `json:"interval"`
	DeviceCode      string `json:"deviceCode"`
}

// PollResult is the outcome of one poll attempt. Token is set only when
// Status is AuthAuthorized and carries the values the caller should persist.
type PollResult struct {
	Status AuthStatus
	Token  *TokenState
}

// authState holds the token triple and device-flow bookkeeping. Guarded by
// its own mutex; the token is only written by the serialized auth/refresh
// path and read everywhere else.
type authState struct {
	mu             sync.RWMutex
	token          TokenState
	activeCode     string
	pollAttempts   int
	authorizedCode string
}

// SetToken restores a previously persisted token triple, replacing any
// stored state wholesale.
func (c *Client) SetToken(state TokenState) {
	c.auth.mu.Lock()
	c.auth.token = state
	c.auth.mu.Unlock()
}

// Token returns a copy of the stored token triple.
func (c *Client) Token() TokenState {
	c.auth.mu.RLock()
	defer c.auth.mu.RUnlock()
	return c.auth.token
}

// IsAuthenticated reports whether an access token is stored and not yet
// inside the expiry margin.
func (c *Client) IsAuthenticated() bool {
	c.auth.mu.RLock()
	defer c.auth.mu.RUnlock()
	if c.auth.token.AccessToken == "" {
		return false
	}
	return c.now().Unix() < authDeadline(c.auth.token)
}

// authDeadline is the instant a token stops counting as authenticated:
// one day before expiry, except for tokens whose whole lifetime is
// shorter than that margin, which stay usable until they actually expire.
func authDeadline(t TokenState) int64 {
	deadline := t.ExpiresAt - int64(tokenExpiryMargin.Seconds())
	if deadline < t.CreatedAt {
		return t.ExpiresAt
	}
	return deadline
}

// StartDeviceAuth begins the device authorization flow by requesting a
// device code. The caller shows the user code and verification URL to the
// user and polls with the returned device code at the suggested interval.
func (c *Client) StartDeviceAuth(ctx context.Context) (*DeviceAuthorization, error) {
	if !c.HasCredentials() {
		return nil, ErrCredentialsMissing
	}

	resp, err := c.postJSON(ctx, "/oauth/device/code", map[string]string{
		"client_id": c.clientID,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("trakt device code request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var dc DeviceCodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&dc); err != nil {
		return nil, fmt.Errorf("decode device code response: %w", err)
	}

	c.auth.mu.Lock()
	c.auth.activeCode = dc.DeviceCode
	c.auth.pollAttempts = 0
	c.auth.mu.Unlock()

	c.logger.Info().
		Str("userCode", dc.UserCode).
		Str("verificationUrl", dc.VerificationURL).
		Int("expiresIn", dc.ExpiresIn).
		Msg("device authorization started")

	return &DeviceAuthorization{
		UserCode:        dc.UserCode,
		VerificationURL: dc.VerificationURL,
		ExpiresIn:       dc.ExpiresIn,
		Interval:        dc.Interval,
		DeviceCode:      dc.DeviceCode,
	}, nil
}

// PollDeviceAuth performs one poll attempt for the given device code.
// Expected flow outcomes (pending, slow down, expired, denied, already
// used) are reported as result values, never as errors; only transport
// failures and an unknown device code produce an error.
func (c *Client) PollDeviceAuth(ctx context.Context, deviceCode string) (*PollResult, error) {
	if !c.HasCredentials() {
		return nil, ErrCredentialsMissing
	}

	c.auth.mu.Lock()
	if deviceCode != "" && deviceCode == c.auth.authorizedCode && c.auth.token.AccessToken != "" {
		// Already resolved; report the stored state without re-applying.
		token := c.auth.token
		c.auth.mu.Unlock()
		return &PollResult{Status: AuthAuthorized, Token: &token}, nil
	}
	c.auth.pollAttempts++
	attempts := c.auth.pollAttempts
	c.auth.mu.Unlock()

	if attempts > maxPollAttempts {
		c.logger.Warn().Int("attempts", attempts).Msg("device code poll attempt cap reached")
		return &PollResult{Status: AuthExpired}, nil
	}

	resp, err := c.postJSON(ctx, "/oauth/device/token", map[string]string{
		"code":          deviceCode,
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var tr TokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
			return nil, fmt.Errorf("decode token response: %w", err)
		}
		state := c.applyToken(tr, deviceCode)
		c.logger.Info().Int64("expiresAt", state.ExpiresAt).Msg("device authorization granted")
		return &PollResult{Status: AuthAuthorized, Token: &state}, nil
	case http.StatusBadRequest:
		return &PollResult{Status: AuthPending}, nil
	case http.StatusNotFound:
		return nil, ErrInvalidDeviceCode
	case http.StatusConflict:
		return &PollResult{Status: AuthAlreadyUsed}, nil
	case http.StatusGone:
		return &PollResult{Status: AuthExpired}, nil
	case http.StatusTeapot:
		return &PollResult{Status: AuthDenied}, nil
	case http.StatusTooManyRequests:
		return &PollResult{Status: AuthSlowDown}, nil
	default:
		c.logger.Warn().Int("status", resp.StatusCode).Msg("unrecognized device token status, treating as pending")
		return &PollResult{Status: AuthPending}, nil
	}
}

// Refresh exchanges the stored refresh token for a new token pair. It
// returns an error rather than panicking on any failure so the expiry
// check in ensureValidToken can decide what to do next.
func (c *Client) Refresh(ctx context.Context) error {
	c.auth.mu.RLock()
	refreshToken := c.auth.token.RefreshToken
	c.auth.mu.RUnlock()

	if refreshToken == "" {
		return fmt.Errorf("no refresh token available")
	}

	resp, err := c.postJSON(ctx, "/oauth/token", map[string]string{
		"refresh_token": refreshToken,
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"redirect_uri":  "urn:ietf:wg:oauth:2.0:oob",
		"grant_type":    "refresh_token",
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("trakt token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tr TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("decode refresh response: %w", err)
	}

	c.applyToken(tr, "")
	c.logger.Info().Msg("access token refreshed")
	return nil
}

// ensureValidToken is the precondition for every data call. Inside the
// refresh margin it attempts exactly one silent refresh; a failed refresh
// falls through to the hard expiry check.
func (c *Client) ensureValidToken(ctx context.Context) (string, error) {
	c.auth.mu.RLock()
	token := c.auth.token
	c.auth.mu.RUnlock()

	if token.AccessToken == "" {
		return "", ErrNotAuthenticated
	}

	nowUnix := c.now().Unix()
	if nowUnix >= authDeadline(token) {
		if err := c.Refresh(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("silent token refresh failed")
		}

		c.auth.mu.RLock()
		token = c.auth.token
		c.auth.mu.RUnlock()

		if nowUnix >= token.ExpiresAt {
			return "", ErrReauthRequired
		}
	}
	return token.AccessToken, nil
}

// applyToken replaces the stored token triple atomically and notifies the
// persistence callback. An absent created_at means the token was issued now.
func (c *Client) applyToken(tr TokenResponse, deviceCode string) TokenState {
	createdAt := tr.CreatedAt
	if createdAt == 0 {
		createdAt = c.now().Unix()
	}

	state := TokenState{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    createdAt + tr.ExpiresIn,
		CreatedAt:    createdAt,
	}

	c.auth.mu.Lock()
	c.auth.token = state
	if deviceCode != "" {
		c.auth.authorizedCode = deviceCode
	}
	c.auth.mu.Unlock()

	if c.onTokenUpdate != nil {
		c.onTokenUpdate(state)
	}
	return state
}
