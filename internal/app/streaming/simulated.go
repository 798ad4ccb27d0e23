package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/tapedeck/internal/app/playback"
	"github.com/osa030/tapedeck/internal/domain/credential"
	"github.com/osa030/tapedeck/internal/domain/track"
)

// SimulatedConfig represents the settings of the simulated backend.
type SimulatedConfig struct {
	TickIntervalMs int `mapstructure:"tick_interval_ms" default:"1000" validate:"gte=10"`
}

func init() {
	Register("simulated", func(_ Deps, settings map[string]any) (Backend, error) {
		return NewSimulatedBackend(settings)
	})
}

// SimulatedBackend plays nothing and advances a virtual clock.
// It lets GUI shells and the MPRIS bridge run without a streaming account.
type SimulatedBackend struct {
	config SimulatedConfig
}

// NewSimulatedBackend creates a simulated backend from settings.
func NewSimulatedBackend(settings map[string]any) (*SimulatedBackend, error) {
	var cfg SimulatedConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	return &SimulatedBackend{config: cfg}, nil
}

// Name returns the backend name.
func (b *SimulatedBackend) Name() string {
	return "simulated"
}

// Connect opens a simulated player.
func (b *SimulatedBackend) Connect(ctx context.Context, cred credential.Credential, sink Sink) (Player, error) {
	if cred.IsZero() {
		return nil, NewConnectError(ConnectInvalidCredential, errors.New("empty credential"))
	}
	p := &simulatedPlayer{
		interval: time.Duration(b.config.TickIntervalMs) * time.Millisecond,
		sink:     sink,
		commands: make(chan simulatedRequest),
		done:     make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p, nil
}

type simulatedRequest struct {
	cmd    PlayerCommand
	result chan error
}

type simulatedPlayer struct {
	interval time.Duration
	sink     Sink
	commands chan simulatedRequest
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup

	// Owned by run.
	current  *track.Track
	position time.Duration
	playing  bool
}

func (p *simulatedPlayer) Execute(ctx context.Context, cmd PlayerCommand) error {
	req := simulatedRequest{cmd: cmd, result: make(chan error, 1)}
	select {
	case p.commands <- req:
	case <-p.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *simulatedPlayer) Close(ctx context.Context) error {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
	return nil
}

func (p *simulatedPlayer) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case req := <-p.commands:
			req.result <- p.apply(req.cmd)
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *simulatedPlayer) apply(cmd PlayerCommand) error {
	switch cmd.Type {
	case PlayerLoad:
		if cmd.Track == nil {
			return errors.New("load without track")
		}
		t := *cmd.Track
		p.current = &t
		p.position = 0
		p.playing = true
		p.sink(playback.TrackChanged(t))
	case PlayerPlay:
		if p.current == nil {
			return playback.ErrNoItem
		}
		p.playing = true
		p.sink(playback.Resumed())
	case PlayerPause:
		if p.current == nil {
			return playback.ErrNoItem
		}
		p.playing = false
		p.sink(playback.Paused())
	case PlayerStop:
		p.current = nil
		p.playing = false
		p.position = 0
	case PlayerSeek:
		if p.current == nil {
			return playback.ErrNoItem
		}
		p.position = p.current.ClampOffset(cmd.Offset)
		p.sink(playback.PositionTick(p.position))
	case PlayerVolume:
	}
	return nil
}

func (p *simulatedPlayer) tick() {
	if !p.playing || p.current == nil {
		return
	}
	p.position += p.interval
	if p.current.Duration > 0 && p.position >= p.current.Duration {
		p.position = p.current.Duration
		p.playing = false
		p.sink(playback.PositionTick(p.position))
		p.sink(playback.Ended())
		return
	}
	p.sink(playback.PositionTick(p.position))
}
