// Package state provides the PlaybackState snapshot published by the coordinator.
package state

// Status represents the playback status.
type Status int

const (
	StatusIdle       Status = iota // No item loaded
	StatusConnecting               // Establishing a session or loading an item
	StatusPlaying                  // Item is playing
	StatusPaused                   // Item is paused
	StatusStalled                  // Item is loaded but not making progress
	StatusEnded                    // Item finished
	StatusErrored                  // Fatal condition, see PlaybackState.Reason
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusStalled:
		return "stalled"
	case StatusEnded:
		return "ended"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// MPRISStatus maps the status onto the MPRIS PlaybackStatus vocabulary.
func (s Status) MPRISStatus() string {
	switch s {
	case StatusPlaying:
		return "Playing"
	case StatusPaused, StatusStalled, StatusConnecting:
		return "Paused"
	default:
		return "Stopped"
	}
}

// MarshalText encodes the status as its string form.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes the string form produced by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	for st := StatusIdle; st <= StatusErrored; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	*s = StatusIdle
	return nil
}
