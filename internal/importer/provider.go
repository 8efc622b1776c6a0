package importer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftwave/driftsync/internal/trakt"
)

// SettingsStore is the caller-owned flat key-value store tokens are
// persisted to. Satisfied by settings.Store.
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	All(ctx context.Context) (map[string]string, error)
}

// Provider is the facade the rest of the application talks to. It owns at
// most one trakt.Client at a time; reconfiguration tears the previous
// client down before publishing the new one, so no caller can ever reach
// both.
type Provider struct {
	store   SettingsStore
	logger  zerolog.Logger
	baseURL string
	timeout int

	mu     sync.RWMutex
	client *trakt.Client
}

// ProviderConfig contains configuration for creating a Provider.
type ProviderConfig struct {
	Store  SettingsStore
	Logger zerolog.Logger

	// BaseURL overrides the Trakt API endpoint. Empty selects the default.
	BaseURL string

	// Timeout is the transport timeout in seconds. Zero selects a default.
	Timeout int
}

// NewProvider creates an import provider backed by the given settings store.
func NewProvider(cfg ProviderConfig) *Provider {
	return &Provider{
		store:   cfg.Store,
		logger:  cfg.Logger.With().Str("component", "trakt-importer").Logger(),
		baseURL: cfg.BaseURL,
		timeout: cfg.Timeout,
	}
}

// Capabilities reports what this provider supports. Trakt requires the
// device authorization flow; all three collections are available.
func (p *Provider) Capabilities() Capabilities {
	return Capabilities{
		History:            true,
		Ratings:            true,
		Watchlist:          true,
		DeviceAuthRequired: true,
	}
}

// LoadFromStore configures the provider from persisted settings. Missing
// credentials leave the provider unconfigured without error.
func (p *Provider) LoadFromStore(ctx context.Context) error {
	settings, err := p.store.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	if settings[SettingClientID] == "" {
		return nil
	}
	return p.Configure(settings)
}

// Configure replaces the provider's client from a flat settings mapping.
// Credentials and any persisted token are read from the map; the previous
// client's connections are released before the new client is published.
func (p *Provider) Configure(settings map[string]string) error {
	clientID := settings[SettingClientID]
	clientSecret := settings[SettingClientSecret]
	if clientID == "" || clientSecret == "" {
		return trakt.ErrCredentialsMissing
	}

	client := trakt.NewClient(trakt.ClientConfig{
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		BaseURL:       p.baseURL,
		Timeout:       p.timeout,
		Logger:        p.logger,
		OnTokenUpdate: p.persistToken,
	})

	if accessToken := settings[SettingAccessToken]; accessToken != "" {
		expiresAt, _ := strconv.ParseInt(settings[SettingExpiresAt], 10, 64)
		client.SetToken(trakt.TokenState{
			AccessToken:  accessToken,
			RefreshToken: settings[SettingRefreshToken],
			ExpiresAt:    expiresAt,
		})
	}

	p.mu.Lock()
	old := p.client
	p.client = client
	p.mu.Unlock()

	if old != nil {
		old.Close()
	}

	p.logger.Info().Bool("hasToken", settings[SettingAccessToken] != "").Msg("trakt importer configured")
	return nil
}

// persistToken writes a fresh token triple back to the settings store.
// Runs on every successful authorization and silent refresh.
func (p *Provider) persistToken(state trakt.TokenState) {
	ctx := context.Background()
	pairs := map[string]string{
		SettingAccessToken:  state.AccessToken,
		SettingRefreshToken: state.RefreshToken,
		SettingExpiresAt:    strconv.FormatInt(state.ExpiresAt, 10),
	}
	for key, value := range pairs {
		if err := p.store.Set(ctx, key, value); err != nil {
			p.logger.Error().Err(err).Str("key", key).Msg("failed to persist token state")
		}
	}
}

// activeClient returns the current client, or ErrNotConfigured.
func (p *Provider) activeClient() (*trakt.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil, ErrNotConfigured
	}
	return p.client, nil
}

// IsConfigured reports whether client credentials are present.
func (p *Provider) IsConfigured() bool {
	_, err := p.activeClient()
	return err == nil
}

// IsAuthenticated reports whether a usable access token is stored.
func (p *Provider) IsAuthenticated() bool {
	client, err := p.activeClient()
	if err != nil {
		return false
	}
	return client.IsAuthenticated()
}

// StartAuth begins the device authorization flow.
func (p *Provider) StartAuth(ctx context.Context) (*trakt.DeviceAuthorization, error) {
	client, err := p.activeClient()
	if err != nil {
		return nil, err
	}
	return client.StartDeviceAuth(ctx)
}

// PollAuth performs one device-token poll attempt.
func (p *Provider) PollAuth(ctx context.Context, deviceCode string) (*trakt.PollResult, error) {
	client, err := p.activeClient()
	if err != nil {
		return nil, err
	}
	return client.PollDeviceAuth(ctx, deviceCode)
}

// HealthCheck probes the API with the stored token. Never returns an
// error; any failure is false.
func (p *Provider) HealthCheck(ctx context.Context) bool {
	client, err := p.activeClient()
	if err != nil {
		return false
	}
	return client.HealthCheck(ctx)
}

// ImportHistory fetches and normalizes the complete watch history,
// optionally limited to entries watched at or after since. The returned
// list is complete or the call fails outright; unmappable entries are
// dropped, never partial-failed.
func (p *Provider) ImportHistory(ctx context.Context, since *time.Time) ([]WatchEvent, error) {
	client, err := p.requireAuthenticated()
	if err != nil {
		return nil, err
	}

	items, err := client.GetHistoryAll(ctx, since)
	if err != nil {
		return nil, err
	}

	events := make([]WatchEvent, 0, len(items))
	for _, item := range items {
		if event := MapHistoryItem(item); event != nil {
			events = append(events, *event)
		}
	}

	p.logger.Info().
		Int("fetched", len(items)).
		Int("mapped", len(events)).
		Msg("history import complete")
	return events, nil
}

// ImportRatings fetches and normalizes all user ratings.
func (p *Provider) ImportRatings(ctx context.Context) ([]RatingEntry, error) {
	client, err := p.requireAuthenticated()
	if err != nil {
		return nil, err
	}

	items, err := client.GetRatings(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]RatingEntry, 0, len(items))
	for _, item := range items {
		if entry := MapRatingItem(item); entry != nil {
			entries = append(entries, *entry)
		}
	}

	p.logger.Info().
		Int("fetched", len(items)).
		Int("mapped", len(entries)).
		Msg("ratings import complete")
	return entries, nil
}

// ImportWatchlist fetches and normalizes the watchlist.
func (p *Provider) ImportWatchlist(ctx context.Context) ([]WatchlistEntry, error) {
	client, err := p.requireAuthenticated()
	if err != nil {
		return nil, err
	}

	items, err := client.GetWatchlist(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]WatchlistEntry, 0, len(items))
	for _, item := range items {
		if entry := MapWatchlistItem(item); entry != nil {
			entries = append(entries, *entry)
		}
	}

	p.logger.Info().
		Int("fetched", len(items)).
		Int("mapped", len(entries)).
		Msg("watchlist import complete")
	return entries, nil
}

// requireAuthenticated asserts the import precondition: a configured
// client holding some token. Expiry and refresh are the client's concern.
func (p *Provider) requireAuthenticated() (*trakt.Client, error) {
	client, err := p.activeClient()
	if err != nil {
		return nil, err
	}
	if client.Token().AccessToken == "" {
		return nil, trakt.ErrNotAuthenticated
	}
	return client, nil
}
