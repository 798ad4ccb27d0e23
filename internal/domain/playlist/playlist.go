// Package playlist provides the Playlist domain entity.
// A playlist is the externally supplied ordered sequence the coordinator walks with its cursor.
package playlist

import "github.com/osa030/tapedeck/internal/domain/track"

// Playlist represents an ordered list of playable items.
type Playlist struct {
	ID    string      // Spotify Playlist ID (empty for ad-hoc queues)
	Name  string      // Playlist name
	URL   string      // Spotify URL
	Items []track.Ref // Items in play order
}

// New creates an ad-hoc playlist from item references.
func New(name string, items ...track.Ref) *Playlist {
	return &Playlist{Name: name, Items: items}
}

// FromTracks creates a playlist from resolved tracks.
func FromTracks(id, name, url string, tracks []track.Track) *Playlist {
	items := make([]track.Ref, len(tracks))
	for i, t := range tracks {
		items[i] = track.Ref(t.ID)
	}
	return &Playlist{ID: id, Name: name, URL: url, Items: items}
}

// Len returns the number of items.
func (p *Playlist) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Items)
}

// At returns the item at index i.
func (p *Playlist) At(i int) track.Ref {
	return p.Items[i]
}

// IndexOf returns the index of the first item pointing at the same track as ref, or -1.
func (p *Playlist) IndexOf(ref track.Ref) int {
	id := ref.ID()
	for i, item := range p.Items {
		if item.ID() == id {
			return i
		}
	}
	return -1
}

// TrackIDs returns all track IDs in the playlist.
func (p *Playlist) TrackIDs() []string {
	ids := make([]string, len(p.Items))
	for i, item := range p.Items {
		ids[i] = item.ID()
	}
	return ids
}
