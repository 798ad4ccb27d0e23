package state

import (
	"math"
	"time"

	"github.com/osa030/tapedeck/internal/domain/track"
)

// PlaybackState is an immutable snapshot of the coordinator state.
// Observers receive copies; Item is never mutated after publication.
type PlaybackState struct {
	Seq              uint64        `json:"seq"`
	Status           Status        `json:"status"`
	Item             *track.Track  `json:"item,omitempty"`
	Position         time.Duration `json:"position"`
	Volume           float64       `json:"volume"`
	QueueCursor      int           `json:"queue_cursor"`
	SessionEpoch     uint64        `json:"session_epoch"`
	Reason           string        `json:"reason,omitempty"`
	ReconnectAttempt int           `json:"reconnect_attempt,omitempty"`
	RetryIn          time.Duration `json:"retry_in,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Initial returns the state before anything has been loaded.
func Initial(volume float64) PlaybackState {
	return PlaybackState{
		Status:      StatusIdle,
		Volume:      ClampVolume(volume),
		QueueCursor: -1,
	}
}

// Clone returns a deep copy safe to hand to observers.
func (s PlaybackState) Clone() PlaybackState {
	if s.Item != nil {
		item := *s.Item
		item.Artists = append([]string(nil), s.Item.Artists...)
		item.Markets = append([]string(nil), s.Item.Markets...)
		s.Item = &item
	}
	return s
}

// Title returns the current item name or "".
func (s PlaybackState) Title() string {
	if s.Item == nil {
		return ""
	}
	return s.Item.Name
}

// Duration returns the current item duration or 0.
func (s PlaybackState) Duration() time.Duration {
	if s.Item == nil {
		return 0
	}
	return s.Item.Duration
}

// Equivalent reports whether two snapshots differ only in bookkeeping fields.
func (s PlaybackState) Equivalent(o PlaybackState) bool {
	if s.Status != o.Status || s.Position != o.Position || s.Volume != o.Volume ||
		s.QueueCursor != o.QueueCursor || s.SessionEpoch != o.SessionEpoch ||
		s.Reason != o.Reason || s.ReconnectAttempt != o.ReconnectAttempt || s.RetryIn != o.RetryIn {
		return false
	}
	if (s.Item == nil) != (o.Item == nil) {
		return false
	}
	return s.Item == nil || s.Item.ID == o.Item.ID
}

// ClampVolume limits a volume level to [0,1]. NaN maps to 0.
func ClampVolume(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
