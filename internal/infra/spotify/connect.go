package spotify

import (
	"context"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"github.com/osa030/tapedeck/internal/app/playback"
	"github.com/osa030/tapedeck/internal/app/streaming"
	"github.com/osa030/tapedeck/internal/domain/credential"
	"github.com/osa030/tapedeck/internal/domain/track"
)

// BackendType is the config name of the Spotify Connect backend.
const BackendType = "spotify_connect"

// ConnectConfig represents the settings of the Spotify Connect backend.
type ConnectConfig struct {
	DeviceName        string  `mapstructure:"device_name"`
	PollIntervalMs    int     `mapstructure:"poll_interval_ms" default:"1000" validate:"gte=100"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" default:"5" validate:"gt=0"`
	EndThresholdMs    int     `mapstructure:"end_threshold_ms" default:"1500" validate:"gte=0"`
	LostAfterFailures int     `mapstructure:"lost_after_failures" default:"3" validate:"gte=1"`
	APIBaseURL        string  `mapstructure:"api_base_url" validate:"omitempty,url"`
}

func init() {
	streaming.Register(BackendType, func(deps streaming.Deps, settings map[string]any) (streaming.Backend, error) {
		return NewConnectBackend(deps, settings)
	})
}

// ConnectBackend controls playback on a Spotify Connect device through the Web API.
type ConnectBackend struct {
	config ConnectConfig
	oauth  *oauth2.Config
	market string
}

// NewConnectBackend creates a Spotify Connect backend from settings.
func NewConnectBackend(deps streaming.Deps, settings map[string]any) (*ConnectBackend, error) {
	if deps.OAuth == nil {
		return nil, errors.New("spotify_connect backend requires an OAuth client")
	}

	var cfg ConnectConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	return &ConnectBackend{config: cfg, oauth: deps.OAuth, market: deps.Market}, nil
}

// Name returns the backend name.
func (b *ConnectBackend) Name() string {
	return BackendType
}

// Connect selects a device and starts polling its player state.
func (b *ConnectBackend) Connect(ctx context.Context, cred credential.Credential, sink streaming.Sink) (streaming.Player, error) {
	if cred.IsZero() {
		return nil, streaming.NewConnectError(streaming.ConnectInvalidCredential, errors.New("empty credential"))
	}

	// The token source outlives the connect call.
	httpClient := b.oauth.Client(context.Background(), cred.Token())
	client := NewWithHTTPClient(httpClient, Config{
		Market:            b.market,
		RequestsPerSecond: b.config.RequestsPerSecond,
		BaseURL:           b.config.APIBaseURL,
	})

	device, err := client.selectDevice(ctx, b.config.DeviceName)
	if err != nil {
		return nil, connectErrorOf(err)
	}
	zlog.Info().Msgf("spotify: connected to device: name=%s type=%s", device.Name, device.Type)

	pollCtx, cancel := context.WithCancel(context.Background())
	p := &connectPlayer{
		client:   client,
		deviceID: device.ID,
		config:   b.config,
		sink:     sink,
		ctx:      pollCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// selectDevice picks the named device, else the active one, else the first available.
func (c *Client) selectDevice(ctx context.Context, name string) (spotify.PlayerDevice, error) {
	if err := c.wait(ctx); err != nil {
		return spotify.PlayerDevice{}, err
	}
	devices, err := c.client.PlayerDevices(ctx)
	if err != nil {
		return spotify.PlayerDevice{}, errors.Wrap(err, "failed to list devices")
	}

	if name != "" {
		for _, d := range devices {
			if strings.EqualFold(d.Name, name) {
				return d, nil
			}
		}
		return spotify.PlayerDevice{}, streaming.NewConnectError(streaming.ConnectRejected,
			errors.Newf("device %q is not available", name))
	}
	for _, d := range devices {
		if d.Active {
			return d, nil
		}
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return spotify.PlayerDevice{}, streaming.NewConnectError(streaming.ConnectRejected,
		errors.New("no playback device available"))
}

// connectPlayer is a streaming.Player on one Connect device.
type connectPlayer struct {
	client   *Client
	deviceID spotify.ID
	config   ConnectConfig
	sink     streaming.Sink

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	// Set after a load; the next sample announces the track even when its id is unchanged.
	reloaded atomic.Bool

	// Owned by the poller.
	lastID   string
	duration time.Duration
	progress time.Duration
	playing  bool
	stalled  bool
	ended    bool
	failures int
}

func (p *connectPlayer) options() *spotify.PlayOptions {
	id := p.deviceID
	return &spotify.PlayOptions{DeviceID: &id}
}

// Execute runs one command against the device.
func (p *connectPlayer) Execute(ctx context.Context, cmd streaming.PlayerCommand) error {
	select {
	case <-p.done:
		return streaming.ErrSessionClosed
	default:
	}
	if err := p.client.wait(ctx); err != nil {
		return err
	}

	var err error
	switch cmd.Type {
	case streaming.PlayerLoad:
		if cmd.Track == nil {
			return errors.New("load without track")
		}
		uri := cmd.Track.URI
		if uri == "" {
			uri = track.Ref(cmd.Track.ID).URI()
		}
		opt := p.options()
		opt.URIs = []spotify.URI{spotify.URI(uri)}
		err = p.client.client.PlayOpt(ctx, opt)
	case streaming.PlayerPlay:
		err = p.client.client.PlayOpt(ctx, p.options())
	case streaming.PlayerPause, streaming.PlayerStop:
		err = p.client.client.PauseOpt(ctx, p.options())
	case streaming.PlayerSeek:
		err = p.client.client.SeekOpt(ctx, int(cmd.Offset.Milliseconds()), p.options())
	case streaming.PlayerVolume:
		err = p.client.client.VolumeOpt(ctx, int(math.Round(cmd.Volume*100)), p.options())
	default:
		return errors.Newf("unsupported player command: %s", cmd.Type)
	}
	if err != nil {
		return streaming.NewSessionError(errorKindOf(err), errors.Wrapf(err, "spotify %s", cmd.Type))
	}
	if cmd.Type == streaming.PlayerLoad {
		p.reloaded.Store(true)
	}
	return nil
}

// Close stops the poller.
func (p *connectPlayer) Close(ctx context.Context) error {
	p.closeOnce.Do(p.cancel)
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *connectPlayer) run() {
	defer close(p.done)

	ticker := time.NewTicker(time.Duration(p.config.PollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	if !p.poll() {
		return
	}
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if !p.poll() {
				return
			}
		}
	}
}

// poll fetches the player state once. It returns false when polling must stop.
func (p *connectPlayer) poll() bool {
	if err := p.client.wait(p.ctx); err != nil {
		return false
	}
	st, err := p.client.client.PlayerState(p.ctx, spotify.Market(p.client.market))
	if p.ctx.Err() != nil {
		return false
	}
	if err != nil {
		kind := errorKindOf(err)
		if kind.Fatal() {
			zlog.Error().Msgf("spotify: player state rejected: kind=%s", kind)
			p.sink(playback.Error(kind, err.Error()))
			return false
		}
		p.failures++
		zlog.Warn().Msgf("spotify: failed to poll player state: failures=%d error=%v", p.failures, err)
		if p.failures >= p.config.LostAfterFailures {
			p.sink(playback.SessionLost(errors.Wrap(err, "player state unavailable").Error()))
			return false
		}
		return true
	}
	p.failures = 0
	p.observe(st)
	return true
}

// observe converts one player state sample into events.
func (p *connectPlayer) observe(st *spotify.PlayerState) {
	if st == nil || st.Item == nil || st.Device.ID == "" {
		if p.lastID != "" && !p.stalled {
			p.stalled = true
			p.playing = false
			p.sink(playback.Stalled())
		}
		return
	}
	p.stalled = false

	progress := time.Duration(int(st.Progress)) * time.Millisecond
	id := string(st.Item.ID)
	if p.reloaded.Swap(false) || id != p.lastID {
		t := p.client.convertTrack(st.Item)
		p.lastID = id
		p.duration = t.Duration
		p.ended = false
		// A new track starts out playing; a paused load is reported as Paused below.
		p.playing = true
		p.sink(playback.TrackChanged(*t))
	}

	if st.Playing != p.playing {
		switch {
		case st.Playing:
			p.ended = false
			p.sink(playback.Resumed())
		case p.nearEnd():
			if !p.ended {
				p.ended = true
				p.sink(playback.Ended())
			}
		default:
			p.sink(playback.Paused())
		}
		p.playing = st.Playing
	}

	if st.Playing {
		p.sink(playback.PositionTick(progress))
	}
	p.progress = progress
}

// nearEnd reports whether the last observed position was within one poll of the end.
func (p *connectPlayer) nearEnd() bool {
	if p.duration <= 0 {
		return false
	}
	slack := time.Duration(p.config.PollIntervalMs+p.config.EndThresholdMs) * time.Millisecond
	return p.progress+slack >= p.duration
}

// accountRestrictions are 403 messages that no retry or command can get past.
var accountRestrictions = []string{
	"premium required",
	"insufficient client scope",
	"user not registered",
}

// errorKindOf classifies a Web API or token refresh failure. A 403 is fatal only
// when it names an account restriction.
func errorKindOf(err error) playback.ErrorKind {
	switch statusOf(err) {
	case http.StatusUnauthorized:
		return playback.ErrorKindAuthRevoked
	case http.StatusForbidden:
		msg := strings.ToLower(err.Error())
		for _, r := range accountRestrictions {
			if strings.Contains(msg, r) {
				return playback.ErrorKindForbidden
			}
		}
		return playback.ErrorKindRefused
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" || re.ErrorCode == "invalid_client" {
			return playback.ErrorKindAuthRevoked
		}
		if re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized {
			return playback.ErrorKindAuthRevoked
		}
	}
	return playback.ErrorKindTransient
}

// connectErrorOf classifies a failure while opening the session.
func connectErrorOf(err error) *streaming.ConnectError {
	var ce *streaming.ConnectError
	if errors.As(err, &ce) {
		return ce
	}
	switch errorKindOf(err) {
	case playback.ErrorKindAuthRevoked:
		return streaming.NewConnectError(streaming.ConnectInvalidCredential, err)
	case playback.ErrorKindForbidden:
		return streaming.NewConnectError(streaming.ConnectRejected, err)
	}
	return streaming.NewConnectError(streaming.ConnectNetwork, err)
}
