package track

import "strings"

// Ref identifies an item to play. It accepts a bare ID, a spotify:track: URI or an
// open.spotify.com track URL.
type Ref string

// ID extracts the track ID from the reference.
func (r Ref) ID() string {
	input := strings.TrimSpace(string(r))
	// Handle Spotify URI format: spotify:track:TRACK_ID
	if strings.HasPrefix(input, "spotify:track:") {
		return strings.TrimPrefix(input, "spotify:track:")
	}

	// Handle URL format: https://open.spotify.com/track/TRACK_ID or https://open.spotify.com/intl-XX/track/TRACK_ID
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/") {
		parts := strings.Split(input, "/track/")
		if len(parts) >= 2 {
			// Remove query parameters and trailing slashes
			id := strings.Split(parts[len(parts)-1], "?")[0]
			id = strings.TrimRight(id, "/")
			return id
		}
	}

	// Assume it's already a track ID
	return input
}

// URI returns the canonical spotify:track: URI for the reference.
func (r Ref) URI() string {
	id := r.ID()
	if id == "" {
		return ""
	}
	return "spotify:track:" + id
}

// Matches reports whether the reference points at the given track.
func (r Ref) Matches(t Track) bool {
	id := r.ID()
	return id != "" && id == t.ID
}
