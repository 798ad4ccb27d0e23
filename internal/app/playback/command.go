package playback

import (
	"fmt"
	"time"

	"github.com/osa030/tapedeck/internal/domain/track"
)

// CommandType represents a command type.
type CommandType int

const (
	CommandPlay            CommandType = iota // Load and play an item
	CommandPause                              // Pause playback
	CommandResume                             // Resume paused playback
	CommandTogglePlayPause                    // Pause when playing, resume otherwise
	CommandStop                               // Stop playback, keep the session
	CommandSeek                               // Seek to an absolute offset
	CommandNext                               // Advance the queue cursor
	CommandPrevious                           // Move the queue cursor back
	CommandSetVolume                          // Set the output volume
	CommandLogout                             // Tear down the session and forget the credential
	CommandReauthenticate                     // Leave Errored by running a new authorization
)

// String returns the string representation of the command type.
func (c CommandType) String() string {
	switch c {
	case CommandPlay:
		return "play"
	case CommandPause:
		return "pause"
	case CommandResume:
		return "resume"
	case CommandTogglePlayPause:
		return "play_pause"
	case CommandStop:
		return "stop"
	case CommandSeek:
		return "seek"
	case CommandNext:
		return "next"
	case CommandPrevious:
		return "previous"
	case CommandSetVolume:
		return "set_volume"
	case CommandLogout:
		return "logout"
	case CommandReauthenticate:
		return "reauthenticate"
	default:
		return "unknown"
	}
}

// ParseCommandType parses the string form produced by CommandType.String.
func ParseCommandType(s string) (CommandType, bool) {
	for c := CommandPlay; c <= CommandReauthenticate; c++ {
		if c.String() == s {
			return c, true
		}
	}
	return 0, false
}

// Command is a transport request from the GUI or the media-control bridge.
// Commands carry no session resources; only the coordinator acts on them.
type Command struct {
	Type   CommandType
	Item   track.Ref     // CommandPlay
	Offset time.Duration // CommandSeek
	Volume float64       // CommandSetVolume
}

// Play returns a command that loads and plays ref.
func Play(ref track.Ref) Command { return Command{Type: CommandPlay, Item: ref} }

// Pause returns a pause command.
func Pause() Command { return Command{Type: CommandPause} }

// Resume returns a resume command.
func Resume() Command { return Command{Type: CommandResume} }

// TogglePlayPause returns a play/pause toggle command.
func TogglePlayPause() Command { return Command{Type: CommandTogglePlayPause} }

// Stop returns a stop command.
func Stop() Command { return Command{Type: CommandStop} }

// Seek returns a seek command to an absolute offset.
func Seek(offset time.Duration) Command { return Command{Type: CommandSeek, Offset: offset} }

// Next returns a next-item command.
func Next() Command { return Command{Type: CommandNext} }

// Previous returns a previous-item command.
func Previous() Command { return Command{Type: CommandPrevious} }

// SetVolume returns a volume command. level is normalized to [0,1] by the coordinator.
func SetVolume(level float64) Command { return Command{Type: CommandSetVolume, Volume: level} }

// Logout returns a logout command.
func Logout() Command { return Command{Type: CommandLogout} }

// Reauthenticate returns a re-authentication command.
func Reauthenticate() Command { return Command{Type: CommandReauthenticate} }

// NeedsSession reports whether the command can only be executed against a live session.
func (c Command) NeedsSession() bool {
	switch c.Type {
	case CommandSetVolume, CommandLogout, CommandReauthenticate:
		return false
	default:
		return true
	}
}

// String returns a log-friendly representation.
func (c Command) String() string {
	switch c.Type {
	case CommandPlay:
		return fmt.Sprintf("play(%s)", c.Item)
	case CommandSeek:
		return fmt.Sprintf("seek(%v)", c.Offset)
	case CommandSetVolume:
		return fmt.Sprintf("set_volume(%.2f)", c.Volume)
	default:
		return c.Type.String()
	}
}
