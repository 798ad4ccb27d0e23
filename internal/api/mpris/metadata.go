package mpris

import (
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/osa030/tapedeck/internal/app/session/state"
)

const noTrack = dbus.ObjectPath("/org/mpris/MediaPlayer2/TrackList/NoTrack")

// microseconds converts a duration to the MPRIS time unit.
func microseconds(d time.Duration) int64 {
	return d.Microseconds()
}

// trackPath returns the object path identifying the current track.
func trackPath(s state.PlaybackState) dbus.ObjectPath {
	if s.Item == nil || s.Item.ID == "" {
		return noTrack
	}
	var b strings.Builder
	for _, r := range s.Item.ID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return dbus.ObjectPath("/org/tapedeck/track/" + b.String())
}

// metadataOf builds the xesam/mpris metadata map for a snapshot.
func metadataOf(s state.PlaybackState) map[string]dbus.Variant {
	md := map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(trackPath(s)),
	}
	if s.Item == nil {
		return md
	}
	md["mpris:length"] = dbus.MakeVariant(microseconds(s.Item.Duration))
	md["xesam:title"] = dbus.MakeVariant(s.Item.Name)
	md["xesam:artist"] = dbus.MakeVariant(append([]string{}, s.Item.Artists...))
	md["xesam:album"] = dbus.MakeVariant(s.Item.Album)
	if s.Item.AlbumArtURL != "" {
		md["mpris:artUrl"] = dbus.MakeVariant(s.Item.AlbumArtURL)
	}
	if s.Item.URL != "" {
		md["xesam:url"] = dbus.MakeVariant(s.Item.URL)
	}
	return md
}

// playerProperties returns the org.mpris.MediaPlayer2.Player property values for a snapshot.
func playerProperties(s state.PlaybackState) map[string]any {
	hasItem := s.Item != nil
	return map[string]any{
		"PlaybackStatus": s.Status.MPRISStatus(),
		"Metadata":       metadataOf(s),
		"Volume":         s.Volume,
		"Position":       microseconds(s.Position),
		"CanGoNext":      s.QueueCursor >= 0,
		"CanGoPrevious":  s.QueueCursor >= 0,
		"CanPlay":        hasItem || s.QueueCursor >= 0,
		"CanPause":       hasItem,
		"CanSeek":        hasItem,
	}
}

// changedProperties returns the player properties whose value differs between two snapshots.
// Position is left out; it is never signalled.
func changedProperties(prev, next state.PlaybackState) map[string]any {
	before := playerProperties(prev)
	after := playerProperties(next)
	out := make(map[string]any)
	for name, v := range after {
		switch name {
		case "Position":
			continue
		case "Metadata":
			if trackPath(prev) != trackPath(next) || prev.Title() != next.Title() || prev.Duration() != next.Duration() {
				out[name] = v
			}
		default:
			if before[name] != v {
				out[name] = v
			}
		}
	}
	return out
}

// seekJump reports whether next's position cannot be explained by playback since prev.
func seekJump(prev, next state.PlaybackState, elapsed, tolerance time.Duration) bool {
	if prev.Item == nil || next.Item == nil || prev.Item.ID != next.Item.ID {
		return false
	}
	expected := prev.Position
	if prev.Status == state.StatusPlaying {
		expected += elapsed
	}
	diff := next.Position - expected
	if diff < 0 {
		diff = -diff
	}
	return diff > tolerance
}
