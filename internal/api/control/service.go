package control

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tapedeck/internal/app/playback"
	"github.com/osa030/tapedeck/internal/app/session/state"
	"github.com/osa030/tapedeck/internal/domain/playlist"
	"github.com/osa030/tapedeck/internal/domain/track"
)

const maxBodyBytes = 1 << 20

// Controller is the coordinator surface the control API drives.
type Controller interface {
	Submit(cmd playback.Command) error
	SetQueue(queue *playlist.Playlist, cursor int) error
	Subscribe(ctx context.Context) <-chan state.PlaybackState
	Snapshot() state.PlaybackState
}

// PlaylistSource fetches playlists by URL.
type PlaylistSource interface {
	GetPlaylist(ctx context.Context, playlistURL string) (*playlist.Playlist, error)
}

// Service implements the control API.
type Service struct {
	controller Controller
	playlists  PlaylistSource
}

// NewService creates a new Service. playlists may be nil, which disables playlist_url.
func NewService(controller Controller, playlists PlaylistSource) *Service {
	return &Service{
		controller: controller,
		playlists:  playlists,
	}
}

// Handler returns the HTTP handler with token authentication applied.
func (s *Service) Handler(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/commands", s.handleCommand)
	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("GET /v1/state/stream", s.handleStream)
	mux.HandleFunc("PUT /v1/queue", s.handleQueue)
	return NewTokenMiddleware(token)(mux)
}

// handleCommand submits a command to the coordinator.
func (s *Service) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cmd, err := req.Command()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.controller.Submit(cmd); err != nil {
		writeSubmitError(w, err)
		return
	}
	zlog.Debug().Msgf("control: command accepted: type=%s", cmd.Type)
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Accepted: true})
}

// handleState returns the latest snapshot.
func (s *Service) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewStateView(s.controller.Snapshot()))
}

// handleStream writes snapshots as newline-delimited JSON until the client goes away.
func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for snapshot := range s.controller.Subscribe(r.Context()) {
		if err := enc.Encode(NewStateView(snapshot)); err != nil {
			zlog.Debug().Err(err).Msg("control: stream write failed")
			return
		}
		if err := rc.Flush(); err != nil {
			zlog.Debug().Err(err).Msg("control: stream flush failed")
			return
		}
	}
}

// handleQueue replaces the play queue.
func (s *Service) handleQueue(w http.ResponseWriter, r *http.Request) {
	var req QueueRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var queue *playlist.Playlist
	switch {
	case req.PlaylistURL != "" && len(req.Items) > 0:
		writeError(w, http.StatusBadRequest, "items and playlist_url are mutually exclusive")
		return
	case req.PlaylistURL != "":
		if s.playlists == nil {
			writeError(w, http.StatusNotImplemented, "playlist lookup is not available")
			return
		}
		p, err := s.playlists.GetPlaylist(r.Context(), req.PlaylistURL)
		if err != nil {
			zlog.Warn().Err(err).Msgf("control: playlist lookup failed: url=%s", req.PlaylistURL)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		queue = p
	default:
		items := make([]track.Ref, 0, len(req.Items))
		for _, item := range req.Items {
			ref := track.Ref(item)
			if ref.ID() == "" {
				writeError(w, http.StatusBadRequest, "queue items must not be empty")
				return
			}
			items = append(items, ref)
		}
		queue = playlist.New("queue", items...)
	}

	if queue.Len() == 0 {
		req.Cursor = -1
	}
	if req.Cursor < -1 || req.Cursor >= queue.Len() {
		writeError(w, http.StatusBadRequest, "cursor out of range")
		return
	}
	if err := s.controller.SetQueue(queue, req.Cursor); err != nil {
		writeSubmitError(w, err)
		return
	}
	zlog.Info().Msgf("control: queue replaced: items=%d cursor=%d", queue.Len(), req.Cursor)
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Accepted: true})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}

func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, playback.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, playback.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Debug().Err(err).Msg("control: response write failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
