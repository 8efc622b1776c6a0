package trakt

import "errors"

var (
	// ErrCredentialsMissing indicates the client id or secret is not configured.
	ErrCredentialsMissing = errors.New("trakt client credentials are not configured")

	// ErrNotAuthenticated indicates no access token is stored; the caller
	// must run the device authorization flow.
	ErrNotAuthenticated = errors.New("not authenticated with trakt: run device authorization")

	// ErrReauthRequired indicates the stored token has expired and could not
	// be refreshed; the caller must re-run the device authorization flow.
	ErrReauthRequired = errors.New("trakt token expired and refresh failed: re-run device authorization")

	// ErrRateLimited indicates the API rejected the request with 429 even
	// after the single bounded retry.
	ErrRateLimited = errors.New("trakt API rate limit exceeded")

	// ErrInvalidDeviceCode indicates polling was attempted with a device code
	// the API does not recognize.
	ErrInvalidDeviceCode = errors.New("trakt device code is not valid")
)
