package mpris

import (
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"

	"github.com/osa030/tapedeck/internal/app/session/state"
	"github.com/osa030/tapedeck/internal/domain/track"
)

func playingState(id string, pos time.Duration) state.PlaybackState {
	s := state.Initial(0.5)
	s.Status = state.StatusPlaying
	s.Item = &track.Track{
		ID:       id,
		Name:     "Song " + id,
		Artists:  []string{"Artist"},
		Album:    "Album",
		Duration: 3 * time.Minute,
		URL:      "https://open.spotify.com/track/" + id,
	}
	s.Position = pos
	return s
}

func TestTrackPath(t *testing.T) {
	assert.Equal(t, noTrack, trackPath(state.Initial(0)))
	assert.Equal(t, dbus.ObjectPath("/org/tapedeck/track/abc123"), trackPath(playingState("abc123", 0)))
	assert.Equal(t, dbus.ObjectPath("/org/tapedeck/track/a_b"), trackPath(playingState("a-b", 0)))
	assert.True(t, trackPath(playingState("a-b", 0)).IsValid())
}

func TestMetadataOf(t *testing.T) {
	md := metadataOf(playingState("abc", 0))

	assert.Equal(t, dbus.ObjectPath("/org/tapedeck/track/abc"), md["mpris:trackid"].Value())
	assert.Equal(t, int64(180_000_000), md["mpris:length"].Value())
	assert.Equal(t, "Song abc", md["xesam:title"].Value())
	assert.Equal(t, []string{"Artist"}, md["xesam:artist"].Value())
	assert.Equal(t, "https://open.spotify.com/track/abc", md["xesam:url"].Value())
	assert.NotContains(t, md, "mpris:artUrl")

	empty := metadataOf(state.Initial(0))
	assert.Len(t, empty, 1)
	assert.Equal(t, noTrack, empty["mpris:trackid"].Value())
}

func TestChangedProperties(t *testing.T) {
	prev := playingState("a", time.Second)

	t.Run("position only", func(t *testing.T) {
		next := playingState("a", 2*time.Second)
		assert.Empty(t, changedProperties(prev, next))
	})

	t.Run("paused", func(t *testing.T) {
		next := playingState("a", time.Second)
		next.Status = state.StatusPaused
		changes := changedProperties(prev, next)
		assert.Equal(t, map[string]any{"PlaybackStatus": "Paused"}, changes)
	})

	t.Run("track changed", func(t *testing.T) {
		next := playingState("b", 0)
		changes := changedProperties(prev, next)
		assert.Contains(t, changes, "Metadata")
		assert.NotContains(t, changes, "PlaybackStatus")
	})

	t.Run("volume", func(t *testing.T) {
		next := playingState("a", time.Second)
		next.Volume = 0.9
		assert.Equal(t, map[string]any{"Volume": 0.9}, changedProperties(prev, next))
	})

	t.Run("idle", func(t *testing.T) {
		changes := changedProperties(prev, state.Initial(0.5))
		assert.Equal(t, "Stopped", changes["PlaybackStatus"])
		assert.Equal(t, false, changes["CanPause"])
		assert.Contains(t, changes, "Metadata")
	})
}

func TestSeekJump(t *testing.T) {
	tolerance := 1500 * time.Millisecond
	tests := []struct {
		name    string
		prev    state.PlaybackState
		next    state.PlaybackState
		elapsed time.Duration
		want    bool
	}{
		{
			name:    "normal progress",
			prev:    playingState("a", 10*time.Second),
			next:    playingState("a", 11*time.Second),
			elapsed: time.Second,
			want:    false,
		},
		{
			name:    "forward jump",
			prev:    playingState("a", 10*time.Second),
			next:    playingState("a", 60*time.Second),
			elapsed: time.Second,
			want:    true,
		},
		{
			name:    "backward jump",
			prev:    playingState("a", 60*time.Second),
			next:    playingState("a", 5*time.Second),
			elapsed: time.Second,
			want:    true,
		},
		{
			name:    "different track",
			prev:    playingState("a", 60*time.Second),
			next:    playingState("b", 0),
			elapsed: time.Second,
			want:    false,
		},
		{
			name:    "no item",
			prev:    state.Initial(0),
			next:    playingState("a", 30*time.Second),
			elapsed: time.Second,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, seekJump(tt.prev, tt.next, tt.elapsed, tolerance))
		})
	}

	t.Run("paused does not advance", func(t *testing.T) {
		prev := playingState("a", 10*time.Second)
		prev.Status = state.StatusPaused
		next := prev
		assert.False(t, seekJump(prev, next, 10*time.Second, tolerance))
	})
}
