package importer

import (
	"fmt"
	"strconv"

	"github.com/driftwave/driftsync/internal/trakt"
)

// showIDPrefix namespaces a parent show's IDs when they are merged
// alongside an episode's own IDs.
const showIDPrefix = "show_"

// MapHistoryItem converts one remote history entry to a watch event.
// A nil result means the entry does not map to a known shape and should
// be skipped; a single malformed entry never fails a batch.
func MapHistoryItem(item trakt.HistoryItem) *WatchEvent {
	media := mapMedia(item.Type, item.Movie, item.Show, item.Episode)
	if media == nil {
		return nil
	}
	return &WatchEvent{
		Media:     *media,
		WatchedAt: item.WatchedAt,
		Action:    item.Action,
	}
}

// MapRatingItem converts one remote rating entry to a rating record.
func MapRatingItem(item trakt.RatingItem) *RatingEntry {
	media := mapMedia(item.Type, item.Movie, item.Show, item.Episode)
	if media == nil {
		return nil
	}
	return &RatingEntry{
		Media:   *media,
		RatedAt: item.RatedAt,
		Rating:  item.Rating,
	}
}

// MapWatchlistItem converts one remote watchlist entry. The watchlist
// carries movies and shows only; the episode arm of the dispatch is
// unreachable here but harmless.
func MapWatchlistItem(item trakt.WatchlistItem) *WatchlistEntry {
	media := mapMedia(item.Type, item.Movie, item.Show, nil)
	if media == nil {
		return nil
	}
	return &WatchlistEntry{
		Media:    *media,
		ListedAt: item.ListedAt,
		Rank:     item.Rank,
	}
}

// mapMedia dispatches on the remote type tag. Each arm requires its
// sub-object(s); unrecognized tags and missing sub-objects yield nil.
func mapMedia(typeTag string, movie *trakt.Movie, show *trakt.Show, episode *trakt.Episode) *Media {
	switch typeTag {
	case "movie":
		if movie == nil {
			return nil
		}
		return &Media{
			ExternalID:    externalID("movie", movie.IDs.Trakt),
			AdditionalIDs: idsToMap(movie.IDs),
			MediaType:     MediaTypeMovie,
			Title:         movie.Title,
			Year:          movie.Year,
		}
	case "show":
		if show == nil {
			return nil
		}
		return &Media{
			ExternalID:    externalID("show", show.IDs.Trakt),
			AdditionalIDs: idsToMap(show.IDs),
			MediaType:     MediaTypeTV,
			Title:         show.Title,
			Year:          show.Year,
		}
	case "episode":
		if show == nil || episode == nil {
			return nil
		}
		return &Media{
			ExternalID:    externalID("episode", episode.IDs.Trakt),
			AdditionalIDs: mergeIDs(episode.IDs, show.IDs, showIDPrefix),
			MediaType:     MediaTypeEpisode,
			Title:         episodeTitle(show, episode),
			Year:          show.Year,
		}
	default:
		return nil
	}
}

// episodeTitle formats "<show> S01E02", appending the episode's own title
// when the remote supplies one.
func episodeTitle(show *trakt.Show, episode *trakt.Episode) string {
	title := fmt.Sprintf("%s S%02dE%02d", show.Title, episode.Season, episode.Number)
	if episode.Title != "" {
		title += " - " + episode.Title
	}
	return title
}

func externalID(kind string, id int64) string {
	return fmt.Sprintf("trakt:%s:%d", kind, id)
}

// idsToMap serializes the cross-reference ID set. Numeric IDs become
// decimal strings; absent IDs are omitted rather than mapped to empties.
func idsToMap(ids trakt.IDs) map[string]string {
	out := make(map[string]string)
	if ids.Trakt != 0 {
		out["trakt"] = strconv.FormatInt(ids.Trakt, 10)
	}
	if ids.Slug != "" {
		out["slug"] = ids.Slug
	}
	if ids.IMDB != "" {
		out["imdb"] = ids.IMDB
	}
	if ids.TMDB != 0 {
		out["tmdb"] = strconv.FormatInt(ids.TMDB, 10)
	}
	if ids.TVDB != 0 {
		out["tvdb"] = strconv.FormatInt(ids.TVDB, 10)
	}
	return out
}

// mergeIDs combines a primary ID set with a secondary one, namespacing the
// secondary's keys with prefix so the two sets cannot collide.
func mergeIDs(primary, secondary trakt.IDs, prefix string) map[string]string {
	out := idsToMap(primary)
	for key, value := range idsToMap(secondary) {
		out[prefix+key] = value
	}
	return out
}
