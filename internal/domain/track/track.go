// Package track provides the Track domain entity.
package track

import (
	"strings"
	"time"
)

// Track represents a playable item with the metadata shown to observers.
type Track struct {
	ID          string        // Spotify Track ID
	URI         string        // spotify:track:<ID>
	Name        string        // Track name
	Artists     []string      // Artist names
	Album       string        // Album name
	AlbumArtURL string        // Album art URL
	Duration    time.Duration // Track duration
	URL         string        // Spotify URL
	Markets     []string      // Available markets
	IsPlayable  *bool         // Playable in the specified market (nil if market not specified)
}

// ArtistLine joins the artist names for single-line display.
func (t *Track) ArtistLine() string {
	return strings.Join(t.Artists, ", ")
}

// IsAvailableInMarket checks if the track is available in the specified market.
func (t *Track) IsAvailableInMarket(market string) bool {
	// If IsPlayable is set, it takes precedence (Track Relinking support)
	if t.IsPlayable != nil {
		return *t.IsPlayable
	}

	// Fallback to checking markets list
	for _, m := range t.Markets {
		if m == market {
			return true
		}
	}
	return false
}

// ClampOffset limits a playback offset to [0, Duration].
// A track with unknown duration only clamps the lower bound.
func (t *Track) ClampOffset(offset time.Duration) time.Duration {
	if offset < 0 {
		return 0
	}
	if t.Duration > 0 && offset > t.Duration {
		return t.Duration
	}
	return offset
}
