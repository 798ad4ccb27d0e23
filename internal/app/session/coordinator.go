// Package session provides the session and playback coordinator: the single owner of
// the streaming session and of the canonical playback state.
package session

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tapedeck/internal/app/notification"
	"github.com/osa030/tapedeck/internal/app/playback"
	"github.com/osa030/tapedeck/internal/app/session/state"
	"github.com/osa030/tapedeck/internal/app/streaming"
	"github.com/osa030/tapedeck/internal/domain/credential"
	"github.com/osa030/tapedeck/internal/domain/playlist"
	"github.com/osa030/tapedeck/internal/domain/track"
)

// Resolver resolves item references into playable tracks.
type Resolver interface {
	GetTrack(ctx context.Context, ref track.Ref) (*track.Track, error)
}

// CredentialStore is the part of the credential store the coordinator uses.
// The coordinator never writes credentials; only the authorizer does.
type CredentialStore interface {
	Load(ctx context.Context) (credential.Credential, bool, error)
	Delete(ctx context.Context) error
}

// Authorizer acquires and persists a fresh credential interactively.
type Authorizer interface {
	Acquire(ctx context.Context) (credential.Credential, error)
}

// Connector opens streaming sessions.
type Connector interface {
	Connect(ctx context.Context, cred credential.Credential, epoch uint64) (*streaming.Session, error)
}

// Deps holds the coordinator collaborators.
type Deps struct {
	Connector  Connector
	Resolver   Resolver
	Store      CredentialStore
	Authorizer Authorizer
	Queue      *playlist.Playlist // Optional initial queue
}

// request is one entry of the inbound queue.
type request struct {
	cmd   playback.Command
	queue *queueChange
}

type queueChange struct {
	queue  *playlist.Playlist
	cursor int
}

// seekPending tracks an optimistic seek until a tick confirms it.
type seekPending struct {
	target time.Duration
	ticks  int
}

// resumePoint remembers what was playing when a session was lost.
type resumePoint struct {
	item     track.Track
	position time.Duration
	playing  bool
}

// Coordinator serializes commands and session events through one loop.
type Coordinator struct {
	config   Config
	deps     Deps
	notifier *notification.Manager
	random   func() float64

	requests chan request
	events   chan playback.Event
	stopped  chan struct{}

	mu      sync.RWMutex
	running bool
	closed  bool

	// Owned by the loop.
	state      state.PlaybackState
	published  state.PlaybackState
	queue      *playlist.Playlist
	session    *streaming.Session
	loaded     bool // current item is loaded in the session
	deferred   []playback.Command
	retryTimer *time.Timer
	attempt    int
	locked     bool // Errored; only Reauthenticate recovers
	seek       *seekPending
	resume     *resumePoint
	lastItem   track.Ref
}

// New creates a coordinator.
func New(cfg Config, deps Deps) *Coordinator {
	cfg = cfg.normalized()
	initial := state.Initial(1)
	c := &Coordinator{
		config:   cfg,
		deps:     deps,
		notifier: notification.NewManager(initial),
		random:   rand.Float64,
		requests: make(chan request, cfg.QueueSize),
		events:   make(chan playback.Event),
		stopped:  make(chan struct{}),
		state:    initial,
		queue:    deps.Queue,
	}
	c.published = c.notifier.Current()
	return c
}

// Restore applies persisted preferences. It must be called before Run.
func (c *Coordinator) Restore(lastItem track.Ref, volume float64) error {
	c.mu.RLock()
	running := c.running || c.closed
	c.mu.RUnlock()
	if running {
		return errors.New("restore after the coordinator started")
	}

	c.lastItem = lastItem
	c.state.Volume = state.ClampVolume(volume)
	c.publish()
	return nil
}

// Submit enqueues a command without blocking.
func (c *Coordinator) Submit(cmd playback.Command) error {
	return c.enqueue(request{cmd: cmd})
}

// SetQueue replaces the external queue and positions the cursor (-1 for none).
// It is ordered with commands submitted by the same caller.
func (c *Coordinator) SetQueue(queue *playlist.Playlist, cursor int) error {
	return c.enqueue(request{queue: &queueChange{queue: queue, cursor: cursor}})
}

func (c *Coordinator) enqueue(req request) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return playback.ErrShuttingDown
	}
	select {
	case c.requests <- req:
		return nil
	default:
		return playback.ErrQueueFull
	}
}

// Subscribe yields the current snapshot followed by every later change.
// The channel closes when ctx ends or the coordinator stops.
func (c *Coordinator) Subscribe(ctx context.Context) <-chan state.PlaybackState {
	return c.notifier.Subscribe(ctx)
}

// Snapshot returns the last published snapshot.
func (c *Coordinator) Snapshot() state.PlaybackState {
	return c.notifier.Current()
}

// Done returns a channel that is closed when the coordinator has stopped.
func (c *Coordinator) Done() <-chan struct{} {
	return c.stopped
}

// Run runs the coordinator loop until ctx ends.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running || c.closed {
		c.mu.Unlock()
		return errors.New("coordinator already started")
	}
	c.running = true
	c.mu.Unlock()

	zlog.Info().Msg("coordinator: started")
	defer c.shutdown()

	for {
		var retry <-chan time.Time
		if c.retryTimer != nil {
			retry = c.retryTimer.C
		}

		select {
		case <-ctx.Done():
			return nil
		case req := <-c.requests:
			if req.queue != nil {
				c.applyQueue(req.queue)
			} else {
				c.handleCommand(ctx, req.cmd)
			}
		case ev := <-c.events:
			c.handleEvent(ctx, ev)
		case <-retry:
			c.retryTimer = nil
			c.reconnect(ctx, false)
		}
		c.publish()
	}
}

func (c *Coordinator) shutdown() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.stopRetry()
	c.closeSession()
	close(c.stopped)
	c.notifier.Close()
	zlog.Info().Msg("coordinator: stopped")
}

// publish broadcasts the state when it changed since the last broadcast.
func (c *Coordinator) publish() {
	if c.state.Equivalent(c.published) {
		return
	}
	c.published = c.notifier.Broadcast(c.state)
	c.state.Seq = c.published.Seq
	zlog.Debug().Msgf("coordinator: state: seq=%d status=%s position=%v epoch=%d", c.published.Seq, c.published.Status, c.published.Position, c.published.SessionEpoch)
}

// forward moves one session's events into the loop.
func (c *Coordinator) forward(sess *streaming.Session) {
	for ev := range sess.Events() {
		select {
		case c.events <- ev:
		case <-c.stopped:
			return
		}
	}
}

// closeSession tears down the active session within the teardown timeout.
func (c *Coordinator) closeSession() {
	if c.session == nil {
		return
	}
	sess := c.session
	c.session = nil
	c.loaded = false
	c.seek = nil

	ctx, cancel := context.WithTimeout(context.Background(), c.config.TeardownTimeout)
	defer cancel()
	if err := sess.Close(ctx); err != nil {
		zlog.Warn().Msgf("coordinator: session teardown: epoch=%d error=%v", sess.Epoch(), err)
	}
}

func (c *Coordinator) stopRetry() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.state.RetryIn = 0
}

func (c *Coordinator) applyQueue(qc *queueChange) {
	c.queue = qc.queue
	cursor := qc.cursor
	if cursor < -1 || cursor >= c.queue.Len() {
		cursor = -1
	}
	c.state.QueueCursor = cursor
	zlog.Info().Msgf("coordinator: queue replaced: items=%d cursor=%d", c.queue.Len(), cursor)
}

// restingStatus is the status of a usable session with nothing in flight.
func (c *Coordinator) restingStatus() state.Status {
	if c.state.Item == nil {
		return state.StatusIdle
	}
	return state.StatusPaused
}
