package playlist

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osa030/tapedeck/internal/domain/track"
)

func TestPlaylist_TrackIDs(t *testing.T) {
	tests := []struct {
		name     string
		items    []track.Ref
		expected []string
	}{
		{
			name:     "empty playlist",
			items:    []track.Ref{},
			expected: []string{},
		},
		{
			name:     "single item",
			items:    []track.Ref{"track-1"},
			expected: []string{"track-1"},
		},
		{
			name:     "mixed reference formats",
			items:    []track.Ref{"spotify:track:track-1", "https://open.spotify.com/track/track-2", "track-3"},
			expected: []string{"track-1", "track-2", "track-3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New("test", tt.items...)
			assert.Equal(t, tt.expected, p.TrackIDs())
			assert.Equal(t, len(tt.items), p.Len())
		})
	}
}

func TestPlaylist_IndexOf(t *testing.T) {
	p := New("test", "a", "spotify:track:b", "c")

	assert.Equal(t, 0, p.IndexOf("a"))
	assert.Equal(t, 1, p.IndexOf("b"))
	assert.Equal(t, 1, p.IndexOf("https://open.spotify.com/track/b"))
	assert.Equal(t, -1, p.IndexOf("missing"))
}

func TestPlaylist_FromTracks(t *testing.T) {
	p := FromTracks("pl", "Mix", "https://open.spotify.com/playlist/pl", []track.Track{{ID: "x"}, {ID: "y"}})

	assert.Equal(t, "pl", p.ID)
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, track.Ref("y"), p.At(1))
}

func TestPlaylist_NilLen(t *testing.T) {
	var p *Playlist
	assert.Equal(t, 0, p.Len())
}
