package playback

import (
	"fmt"
	"time"

	"github.com/osa030/tapedeck/internal/domain/track"
)

// EventType represents a playback event type.
type EventType int

const (
	EventTrackChanged EventType = iota // Backend started a new item
	EventPositionTick                  // Backend reported the playback offset
	EventPaused                        // Backend confirmed pause
	EventResumed                       // Backend confirmed playback
	EventStalled                       // Playback stopped making progress
	EventEnded                         // Current item finished
	EventSessionLost                   // Session is gone, a new one is needed
	EventError                         // Backend reported an error
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackChanged:
		return "track_changed"
	case EventPositionTick:
		return "position_tick"
	case EventPaused:
		return "paused"
	case EventResumed:
		return "resumed"
	case EventStalled:
		return "stalled"
	case EventEnded:
		return "ended"
	case EventSessionLost:
		return "session_lost"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrorKind classifies backend errors.
type ErrorKind int

const (
	ErrorKindTransient   ErrorKind = iota // Network hiccup, rate limit, server error
	ErrorKindAuthRevoked                  // Credential no longer accepted
	ErrorKindForbidden                    // Account cannot use playback (e.g. not premium)
	ErrorKindRefused                      // One command refused by the player; the session stays usable
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTransient:
		return "transient"
	case ErrorKindAuthRevoked:
		return "authorization revoked"
	case ErrorKindForbidden:
		return "playback forbidden"
	case ErrorKindRefused:
		return "command refused"
	default:
		return "unknown"
	}
}

// Fatal reports whether the kind stops automatic reconnection.
func (k ErrorKind) Fatal() bool {
	return k == ErrorKindAuthRevoked || k == ErrorKindForbidden
}

// Event represents a playback event produced by one streaming session.
type Event struct {
	Type     EventType
	Epoch    uint64        // Session epoch that produced the event
	Track    *track.Track  // EventTrackChanged
	Position time.Duration // EventPositionTick
	Reason   string        // EventSessionLost, EventError
	Kind     ErrorKind     // EventError
}

// TrackChanged returns a track-changed event.
func TrackChanged(t track.Track) Event {
	return Event{Type: EventTrackChanged, Track: &t}
}

// PositionTick returns a position event.
func PositionTick(offset time.Duration) Event {
	return Event{Type: EventPositionTick, Position: offset}
}

// Paused returns a pause confirmation event.
func Paused() Event { return Event{Type: EventPaused} }

// Resumed returns a resume confirmation event.
func Resumed() Event { return Event{Type: EventResumed} }

// Stalled returns a stalled event.
func Stalled() Event { return Event{Type: EventStalled} }

// Ended returns an ended event.
func Ended() Event { return Event{Type: EventEnded} }

// SessionLost returns a session-lost event.
func SessionLost(reason string) Event {
	return Event{Type: EventSessionLost, Reason: reason}
}

// Error returns an error event.
func Error(kind ErrorKind, reason string) Event {
	return Event{Type: EventError, Kind: kind, Reason: reason}
}

// WithEpoch returns a copy of the event tagged with epoch.
func (e Event) WithEpoch(epoch uint64) Event {
	e.Epoch = epoch
	return e
}

// Terminal reports whether the event ends the producing session.
func (e Event) Terminal() bool {
	return e.Type == EventSessionLost
}

// String returns a log-friendly representation.
func (e Event) String() string {
	switch e.Type {
	case EventTrackChanged:
		if e.Track != nil {
			return fmt.Sprintf("track_changed(%s)@%d", e.Track.ID, e.Epoch)
		}
	case EventPositionTick:
		return fmt.Sprintf("position_tick(%v)@%d", e.Position, e.Epoch)
	case EventSessionLost:
		return fmt.Sprintf("session_lost(%s)@%d", e.Reason, e.Epoch)
	case EventError:
		return fmt.Sprintf("error(%s: %s)@%d", e.Kind, e.Reason, e.Epoch)
	}
	return fmt.Sprintf("%s@%d", e.Type, e.Epoch)
}
