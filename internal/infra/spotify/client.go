// Package spotify provides the Spotify Web API integration: catalog lookups for the
// coordinator and a Spotify Connect playback backend.
package spotify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/osa030/tapedeck/internal/domain/playlist"
	"github.com/osa030/tapedeck/internal/domain/track"
)

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	market     string
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	OAuth             *oauth2.Config
	Market            string
	RequestsPerSecond float64
	BaseURL           string // Web API base URL override
}

// NewWithHTTPClient creates a client on an already authenticated HTTP client.
func NewWithHTTPClient(httpClient *http.Client, cfg Config) *Client {
	var opts []spotify.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, spotify.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}

	market := cfg.Market
	if market == "" {
		market = "JP"
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	return &Client{
		client:     spotify.New(httpClient, opts...),
		market:     market,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// GetTrack retrieves track information by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, ref track.Ref) (*track.Track, error) {
	id := ref.ID()
	if id == "" {
		return nil, errors.New("track reference is empty")
	}

	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get track")
	}

	return c.convertTrack(result), nil
}

// GetPlaylist retrieves a playlist and all of its tracks.
func (c *Client) GetPlaylist(ctx context.Context, playlistURL string) (*playlist.Playlist, error) {
	playlistID := extractPlaylistID(playlistURL)
	if playlistID == "" {
		return nil, errors.New("invalid playlist URL")
	}

	var name string
	err := c.retry(ctx, func() error {
		p, err := c.client.GetPlaylist(ctx, spotify.ID(playlistID), spotify.Fields("name"))
		if err != nil {
			return err
		}
		name = p.Name
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get playlist")
	}

	tracks, err := c.GetPlaylistTracks(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	return playlist.FromTracks(playlistID, name, c.GetPlaylistURL(playlistID), tracks), nil
}

// GetPlaylistTracks retrieves all tracks from a playlist.
func (c *Client) GetPlaylistTracks(ctx context.Context, playlistURL string) ([]track.Track, error) {
	playlistID := extractPlaylistID(playlistURL)
	if playlistID == "" {
		return nil, errors.New("invalid playlist URL")
	}

	var tracks []track.Track
	offset := 0
	limit := 100

	for {
		var page *spotify.PlaylistItemPage
		err := c.retry(ctx, func() error {
			p, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
				spotify.Limit(limit),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to get playlist items")
		}

		for _, item := range page.Items {
			// Only process tracks (exclude episodes)
			if item.Track.Track != nil && item.Track.Track.ID != "" {
				tracks = append(tracks, *c.convertTrack(item.Track.Track))
			}
		}

		if len(page.Items) < limit {
			break
		}
		offset += limit
	}

	return tracks, nil
}

// GetPlaylistURL returns the Spotify URL for a playlist.
func (c *Client) GetPlaylistURL(playlistID string) string {
	return fmt.Sprintf("https://open.spotify.com/playlist/%s", playlistID)
}

// GetTrackURL returns the Spotify URL for a track.
func (c *Client) GetTrackURL(trackID string) string {
	return fmt.Sprintf("https://open.spotify.com/track/%s", trackID)
}

// convertTrack converts a Spotify FullTrack to domain Track.
func (c *Client) convertTrack(t *spotify.FullTrack) *track.Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	var albumArt string
	if len(t.Album.Images) > 0 {
		albumArt = t.Album.Images[0].URL
	}

	markets := make([]string, len(t.AvailableMarkets))
	for i, m := range t.AvailableMarkets {
		markets[i] = string(m)
	}

	// If no markets are returned but we have a configured market,
	// assume availability in that market (common when using Market param in API calls)
	if len(markets) == 0 && c.market != "" {
		markets = append(markets, c.market)
	}

	return &track.Track{
		ID:          string(t.ID),
		URI:         string(t.URI),
		Name:        t.Name,
		Artists:     artists,
		Album:       t.Album.Name,
		AlbumArtURL: albumArt,
		Duration:    time.Duration(int(t.Duration)) * time.Millisecond,
		URL:         c.GetTrackURL(string(t.ID)),
		Markets:     markets,
		IsPlayable:  t.IsPlayable,
	}
}

// wait blocks until the rate limiter admits one request.
func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter")
	}
	return nil
}

// retry retries an operation with linear backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if err := c.wait(ctx); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			select {
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if status := statusOf(err); status != 0 {
		return status == http.StatusTooManyRequests || status >= 500
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// statusOf returns the HTTP status carried by a Web API error, or 0.
func statusOf(err error) int {
	var se spotify.Error
	if errors.As(err, &se) {
		return se.Status
	}
	var sp *spotify.Error
	if errors.As(err, &sp) && sp != nil {
		return sp.Status
	}
	return 0
}

// extractPlaylistID extracts the playlist ID from a Spotify playlist URL or URI.
func extractPlaylistID(input string) string {
	input = strings.TrimSpace(input)
	// Handle Spotify URI format: spotify:playlist:PLAYLIST_ID
	if strings.HasPrefix(input, "spotify:playlist:") {
		return strings.TrimPrefix(input, "spotify:playlist:")
	}

	// Handle URL format: https://open.spotify.com/playlist/PLAYLIST_ID or https://open.spotify.com/intl-XX/playlist/PLAYLIST_ID
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/playlist/") {
		parts := strings.Split(input, "/playlist/")
		if len(parts) >= 2 {
			// Remove query parameters and trailing slashes
			id := strings.Split(parts[len(parts)-1], "?")[0]
			id = strings.TrimRight(id, "/")
			return id
		}
	}

	// Assume it's already a playlist ID
	return input
}
