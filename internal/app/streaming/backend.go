// Package streaming wraps a streaming-playback backend into a session with an
// ordered, finite event stream.
package streaming

import (
	"context"
	"fmt"
	"time"

	"github.com/osa030/tapedeck/internal/app/playback"
	"github.com/osa030/tapedeck/internal/domain/credential"
	"github.com/osa030/tapedeck/internal/domain/track"
)

// PlayerCommandType represents a low-level player command.
type PlayerCommandType int

const (
	PlayerLoad   PlayerCommandType = iota // Load Track and start playing
	PlayerPlay                            // Resume
	PlayerPause                           // Pause
	PlayerStop                            // Stop and unload
	PlayerSeek                            // Seek to Offset
	PlayerVolume                          // Set Volume
)

// String returns the string representation of the player command type.
func (t PlayerCommandType) String() string {
	switch t {
	case PlayerLoad:
		return "load"
	case PlayerPlay:
		return "play"
	case PlayerPause:
		return "pause"
	case PlayerStop:
		return "stop"
	case PlayerSeek:
		return "seek"
	case PlayerVolume:
		return "volume"
	default:
		return "unknown"
	}
}

// PlayerCommand is a command executed by a backend player.
type PlayerCommand struct {
	Type   PlayerCommandType
	Track  *track.Track
	Offset time.Duration
	Volume float64
}

// String returns a log-friendly representation.
func (c PlayerCommand) String() string {
	switch c.Type {
	case PlayerLoad:
		if c.Track != nil {
			return fmt.Sprintf("load(%s)", c.Track.ID)
		}
	case PlayerSeek:
		return fmt.Sprintf("seek(%v)", c.Offset)
	case PlayerVolume:
		return fmt.Sprintf("volume(%.2f)", c.Volume)
	}
	return c.Type.String()
}

// Load returns a load command.
func Load(t track.Track) PlayerCommand { return PlayerCommand{Type: PlayerLoad, Track: &t} }

// Sink receives native backend events. Implementations must not block.
type Sink func(playback.Event)

// Player is a connected backend player.
type Player interface {
	// Execute runs one command against the backend.
	Execute(ctx context.Context, cmd PlayerCommand) error
	// Close releases the backend. Events delivered after Close returns are ignored.
	Close(ctx context.Context) error
}

// Backend is the external streaming capability: authenticate and stream audio.
type Backend interface {
	// Name returns the backend name (used in config).
	Name() string
	// Connect opens a player with the credential. Native events are reported to sink
	// in the order the backend produced them.
	Connect(ctx context.Context, cred credential.Credential, sink Sink) (Player, error)
}
