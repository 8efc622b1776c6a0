package importer

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/driftwave/driftsync/internal/trakt"
)

// Handlers provides HTTP handlers for the Trakt import provider.
type Handlers struct {
	provider *Provider
	store    SettingsStore
}

// NewHandlers creates new import handlers.
func NewHandlers(provider *Provider, store SettingsStore) *Handlers {
	return &Handlers{provider: provider, store: store}
}

// RegisterRoutes registers the Trakt import routes.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	tr := g.Group("/trakt")
	tr.GET("", h.GetStatus)
	tr.PUT("", h.UpdateConfig)
	tr.POST("/test", h.TestConnection)
	tr.POST("/auth/start", h.StartAuth)
	tr.POST("/auth/poll", h.PollAuth)
	tr.GET("/auth/status", h.AuthStatus)
	tr.GET("/import/history", h.ImportHistory)
	tr.GET("/import/ratings", h.ImportRatings)
	tr.GET("/import/watchlist", h.ImportWatchlist)
}

// GetStatus returns provider capabilities and configuration state.
// GET /api/v1/trakt
func (h *Handlers) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"configured":    h.provider.IsConfigured(),
		"authenticated": h.provider.IsAuthenticated(),
		"capabilities":  h.provider.Capabilities(),
	})
}

// ConfigInput is the body for updating Trakt credentials.
type ConfigInput struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// UpdateConfig stores new client credentials and reconfigures the provider.
// Changing credentials discards any stored token; the user must
// re-authorize.
// PUT /api/v1/trakt
func (h *Handlers) UpdateConfig(c echo.Context) error {
	var input ConfigInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if input.ClientID == "" || input.ClientSecret == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "clientId and clientSecret are required")
	}

	ctx := c.Request().Context()
	settings := map[string]string{
		SettingClientID:     input.ClientID,
		SettingClientSecret: input.ClientSecret,
	}
	for key, value := range settings {
		if err := h.store.Set(ctx, key, value); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	for _, key := range []string{SettingAccessToken, SettingRefreshToken, SettingExpiresAt} {
		if err := h.store.Delete(ctx, key); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	if err := h.provider.Configure(settings); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"configured": true})
}

// TestConnection probes the API with the stored token.
// POST /api/v1/trakt/test
func (h *Handlers) TestConnection(c echo.Context) error {
	ok := h.provider.HealthCheck(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]bool{"ok": ok})
}

// StartAuth begins the device authorization flow.
// POST /api/v1/trakt/auth/start
func (h *Handlers) StartAuth(c echo.Context) error {
	auth, err := h.provider.StartAuth(c.Request().Context())
	if err != nil {
		return importError(err)
	}
	return c.JSON(http.StatusOK, auth)
}

// PollInput is the body for a device-token poll attempt.
type PollInput struct {
	DeviceCode string `json:"deviceCode"`
}

// PollAuth performs one poll attempt for the given device code.
// POST /api/v1/trakt/auth/poll
func (h *Handlers) PollAuth(c echo.Context) error {
	var input PollInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if input.DeviceCode == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "deviceCode is required")
	}

	result, err := h.provider.PollAuth(c.Request().Context(), input.DeviceCode)
	if err != nil {
		if errors.Is(err, trakt.ErrInvalidDeviceCode) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return importError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":        result.Status,
		"authenticated": result.Status == trakt.AuthAuthorized,
	})
}

// AuthStatus reports whether a usable token is stored.
// GET /api/v1/trakt/auth/status
func (h *Handlers) AuthStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{
		"authenticated": h.provider.IsAuthenticated(),
	})
}

// ImportHistory returns the normalized watch history. An optional since
// query parameter (RFC 3339) limits the import to newer entries.
// GET /api/v1/trakt/import/history
func (h *Handlers) ImportHistory(c echo.Context) error {
	var since *time.Time
	if raw := c.QueryParam("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be an RFC 3339 timestamp")
		}
		since = &parsed
	}

	events, err := h.provider.ImportHistory(c.Request().Context(), since)
	if err != nil {
		return importError(err)
	}
	return c.JSON(http.StatusOK, events)
}

// ImportRatings returns the normalized ratings.
// GET /api/v1/trakt/import/ratings
func (h *Handlers) ImportRatings(c echo.Context) error {
	entries, err := h.provider.ImportRatings(c.Request().Context())
	if err != nil {
		return importError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

// ImportWatchlist returns the normalized watchlist.
// GET /api/v1/trakt/import/watchlist
func (h *Handlers) ImportWatchlist(c echo.Context) error {
	entries, err := h.provider.ImportWatchlist(c.Request().Context())
	if err != nil {
		return importError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

// importError maps provider failures to HTTP errors with actionable
// messages.
func importError(err error) error {
	switch {
	case errors.Is(err, ErrNotConfigured), errors.Is(err, trakt.ErrCredentialsMissing):
		return echo.NewHTTPError(http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, trakt.ErrNotAuthenticated), errors.Is(err, trakt.ErrReauthRequired):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, trakt.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}
