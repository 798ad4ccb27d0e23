package control

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/tapedeck/internal/app/playback"
	"github.com/osa030/tapedeck/internal/app/session/state"
	"github.com/osa030/tapedeck/internal/domain/track"
)

// CommandRequest is the body of POST /v1/commands.
type CommandRequest struct {
	Type     string   `json:"type"`
	Item     string   `json:"item,omitempty"`
	OffsetMs int64    `json:"offset_ms,omitempty"`
	Volume   *float64 `json:"volume,omitempty"`
}

// Command converts the request into a playback command.
func (r CommandRequest) Command() (playback.Command, error) {
	typ, ok := playback.ParseCommandType(strings.ToLower(strings.TrimSpace(r.Type)))
	if !ok {
		return playback.Command{}, errors.Newf("unknown command type: %q", r.Type)
	}
	switch typ {
	case playback.CommandPlay:
		return playback.Play(track.Ref(r.Item)), nil
	case playback.CommandSeek:
		return playback.Seek(time.Duration(r.OffsetMs) * time.Millisecond), nil
	case playback.CommandSetVolume:
		if r.Volume == nil {
			return playback.Command{}, errors.New("volume is required")
		}
		return playback.SetVolume(*r.Volume), nil
	default:
		return playback.Command{Type: typ}, nil
	}
}

// QueueRequest is the body of PUT /v1/queue. Either Items or PlaylistURL is set.
type QueueRequest struct {
	Items       []string `json:"items,omitempty"`
	PlaylistURL string   `json:"playlist_url,omitempty"`
	Cursor      int      `json:"cursor"`
}

// ItemView is the JSON form of the current item.
type ItemView struct {
	ID         string   `json:"id"`
	URI        string   `json:"uri,omitempty"`
	Name       string   `json:"name"`
	Artists    []string `json:"artists,omitempty"`
	Album      string   `json:"album,omitempty"`
	ArtURL     string   `json:"art_url,omitempty"`
	URL        string   `json:"url,omitempty"`
	DurationMs int64    `json:"duration_ms"`
}

// StateView is the JSON form of a playback snapshot.
type StateView struct {
	Seq              uint64    `json:"seq"`
	Status           string    `json:"status"`
	Item             *ItemView `json:"item,omitempty"`
	PositionMs       int64     `json:"position_ms"`
	Volume           float64   `json:"volume"`
	QueueCursor      int       `json:"queue_cursor"`
	SessionEpoch     uint64    `json:"session_epoch"`
	Reason           string    `json:"reason,omitempty"`
	ReconnectAttempt int       `json:"reconnect_attempt,omitempty"`
	RetryInMs        int64     `json:"retry_in_ms,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewStateView converts a snapshot.
func NewStateView(s state.PlaybackState) StateView {
	v := StateView{
		Seq:              s.Seq,
		Status:           s.Status.String(),
		PositionMs:       s.Position.Milliseconds(),
		Volume:           s.Volume,
		QueueCursor:      s.QueueCursor,
		SessionEpoch:     s.SessionEpoch,
		Reason:           s.Reason,
		ReconnectAttempt: s.ReconnectAttempt,
		RetryInMs:        s.RetryIn.Milliseconds(),
		UpdatedAt:        s.UpdatedAt,
	}
	if s.Item != nil {
		v.Item = &ItemView{
			ID:         s.Item.ID,
			URI:        s.Item.URI,
			Name:       s.Item.Name,
			Artists:    append([]string(nil), s.Item.Artists...),
			Album:      s.Item.Album,
			ArtURL:     s.Item.AlbumArtURL,
			URL:        s.Item.URL,
			DurationMs: s.Item.Duration.Milliseconds(),
		}
	}
	return v
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AcceptedResponse is returned for accepted commands and queue changes.
type AcceptedResponse struct {
	Accepted bool `json:"accepted"`
}
