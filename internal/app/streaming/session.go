package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tapedeck/internal/app/playback"
	"github.com/osa030/tapedeck/internal/domain/credential"
)

// Config holds session timeouts.
type Config struct {
	ConnectTimeout  time.Duration // Per-attempt connect timeout
	TeardownTimeout time.Duration // Grace period for backend close
}

// Connector opens sessions on a backend.
type Connector struct {
	backend Backend
	config  Config
}

// NewConnector creates a connector for backend.
func NewConnector(backend Backend, cfg Config) *Connector {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = 3 * time.Second
	}
	return &Connector{backend: backend, config: cfg}
}

// Connect opens a session tagged with epoch. Failures are returned as *ConnectError.
func (c *Connector) Connect(ctx context.Context, cred credential.Credential, epoch uint64) (*Session, error) {
	s := newSession(epoch, c.config.TeardownTimeout)

	attemptCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	player, err := c.backend.Connect(attemptCtx, cred, s.push)
	if err == nil && attemptCtx.Err() != nil {
		err = attemptCtx.Err()
		if player != nil {
			go func() { _ = player.Close(context.Background()) }()
		}
	}
	if err != nil {
		s.markClosed()
		return nil, AsConnectError(err)
	}

	s.player = player
	go s.pump()

	zlog.Info().Msgf("streaming: session opened: backend=%s epoch=%d", c.backend.Name(), epoch)
	return s, nil
}

// Session is one live connection to the backend.
// Events are delivered in production order on a channel that closes when the
// session is closed or after a SessionLost event.
type Session struct {
	epoch           uint64
	player          Player
	teardownTimeout time.Duration

	mu     sync.Mutex
	queue  []playback.Event
	closed bool // Close called
	lost   bool // terminal event queued

	notify chan struct{}
	done   chan struct{}
	events chan playback.Event
	once   sync.Once
}

func newSession(epoch uint64, teardown time.Duration) *Session {
	return &Session{
		epoch:           epoch,
		teardownTimeout: teardown,
		notify:          make(chan struct{}, 1),
		done:            make(chan struct{}),
		events:          make(chan playback.Event),
	}
}

// Epoch returns the epoch this session tags its events with.
func (s *Session) Epoch() uint64 {
	return s.epoch
}

// Events returns the event stream.
func (s *Session) Events() <-chan playback.Event {
	return s.events
}

// push is the backend sink. It never blocks.
func (s *Session) push(e playback.Event) {
	s.mu.Lock()
	if s.closed || s.lost {
		s.mu.Unlock()
		return
	}
	if e.Terminal() {
		s.lost = true
	}
	s.queue = append(s.queue, e.WithEpoch(s.epoch))
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Session) pump() {
	defer close(s.events)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.events <- next:
		case <-s.done:
			return
		}
		if next.Terminal() {
			zlog.Info().Msgf("streaming: session lost: epoch=%d reason=%s", s.epoch, next.Reason)
			return
		}
	}
}

// Alive reports whether commands can still be sent.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && !s.lost
}

// Command executes a player command.
func (s *Session) Command(ctx context.Context, cmd PlayerCommand) error {
	if !s.Alive() {
		return ErrSessionClosed
	}
	if err := s.player.Execute(ctx, cmd); err != nil {
		return errors.Wrapf(err, "failed to execute %s", cmd)
	}
	return nil
}

func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.queue = nil
	return true
}

// Close stops event production and releases the backend.
// It returns within the teardown timeout even if the backend never acknowledges;
// in that case ErrTeardownTimeout is returned and the session is still considered closed.
func (s *Session) Close(ctx context.Context) error {
	if !s.markClosed() {
		return nil
	}
	s.once.Do(func() { close(s.done) })

	if s.player == nil {
		return nil
	}

	closeCtx, cancel := context.WithTimeout(ctx, s.teardownTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- s.player.Close(closeCtx)
	}()

	select {
	case err := <-result:
		if err != nil {
			zlog.Warn().Msgf("streaming: backend close failed: epoch=%d error=%v", s.epoch, err)
			return errors.Wrap(err, "failed to close backend")
		}
		zlog.Debug().Msgf("streaming: session closed: epoch=%d", s.epoch)
		return nil
	case <-closeCtx.Done():
		zlog.Warn().Msgf("streaming: backend close timed out, treating as closed: epoch=%d timeout=%v", s.epoch, s.teardownTimeout)
		return ErrTeardownTimeout
	}
}
