package importer

import (
	"errors"
	"time"
)

// Settings keys for the flat string-keyed configuration mapping shared
// with the settings store. Token values are written back after every
// successful authorization or refresh; expires_at is a decimal string.
const (
	SettingClientID     = "trakt.client_id"
	SettingClientSecret = "trakt.client_secret"
	SettingAccessToken  = "trakt.access_token"
	SettingRefreshToken = "trakt.refresh_token"
	SettingExpiresAt    = "trakt.expires_at"
)

// ErrNotConfigured indicates no client credentials have been supplied yet.
var ErrNotConfigured = errors.New("trakt import is not configured")

// MediaType classifies a normalized record.
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeTV      MediaType = "tv"
	MediaTypeEpisode MediaType = "tv_episode"
)

// Media is the shared portion of every normalized import record.
// ExternalID is a stable string derived from the primary Trakt numeric ID
// and a type tag; downstream consumers use it as their deduplication key.
type Media struct {
	ExternalID    string            `json:"externalId"`
	AdditionalIDs map[string]string `json:"additionalIds,omitempty"`
	MediaType     MediaType         `json:"mediaType"`
	Title         string            `json:"title"`
	Year          int               `json:"year,omitempty"`
}

// WatchEvent is a normalized watch-history entry.
type WatchEvent struct {
	Media
	WatchedAt time.Time `json:"watchedAt"`
	Action    string    `json:"action,omitempty"`
}

// RatingEntry is a normalized user rating.
type RatingEntry struct {
	Media
	RatedAt time.Time `json:"ratedAt"`
	Rating  int       `json:"rating"`
}

// WatchlistEntry is a normalized watchlist entry.
type WatchlistEntry struct {
	Media
	ListedAt time.Time `json:"listedAt"`
	Rank     int       `json:"rank,omitempty"`
}

// Capabilities describes what this import provider supports.
type Capabilities struct {
	History            bool `json:"history"`
	Ratings            bool `json:"ratings"`
	Watchlist          bool `json:"watchlist"`
	DeviceAuthRequired bool `json:"deviceAuthRequired"`
}
