package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tapedeck/internal/app/playback"
	"github.com/osa030/tapedeck/internal/app/session/state"
	"github.com/osa030/tapedeck/internal/app/streaming"
	"github.com/osa030/tapedeck/internal/domain/credential"
	"github.com/osa030/tapedeck/internal/domain/track"
	"github.com/osa030/tapedeck/internal/infra/keyring"
)

var (
	trackA = track.Track{ID: "a", URI: "spotify:track:a", Name: "Alpha", Artists: []string{"Artist A"}, Duration: 3 * time.Minute}
	trackB = track.Track{ID: "b", URI: "spotify:track:b", Name: "Bravo", Artists: []string{"Artist B"}, Duration: 4 * time.Minute}
	trackC = track.Track{ID: "c", URI: "spotify:track:c", Name: "Charlie", Artists: []string{"Artist C"}, Duration: 2 * time.Minute}

	testCred = credential.Credential{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer"}
)

type fakeResolver struct {
	tracks map[string]track.Track
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{tracks: map[string]track.Track{"a": trackA, "b": trackB, "c": trackC}}
}

func (r *fakeResolver) GetTrack(ctx context.Context, ref track.Ref) (*track.Track, error) {
	t, ok := r.tracks[ref.ID()]
	if !ok {
		return nil, errors.Newf("track not found: %s", ref)
	}
	return &t, nil
}

type fakeAuthorizer struct {
	mu    sync.Mutex
	store *keyring.MemoryStore
	errs  []error
	calls int
}

func (a *fakeAuthorizer) Acquire(ctx context.Context) (credential.Credential, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		if err != nil {
			return credential.Credential{}, err
		}
	}
	if err := a.store.Save(ctx, testCred); err != nil {
		return credential.Credential{}, err
	}
	return testCred, nil
}

func (a *fakeAuthorizer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// fakeBackend hands out fakePlayers and lets tests drive their event sinks.
type fakeBackend struct {
	mu            sync.Mutex
	connects      int
	connectErrs   []error
	players       []*fakePlayer
	confirm       bool // players confirm load/pause/resume with events
	loseOnConnect bool // every session is lost right after connecting
	hangClose     bool // players never acknowledge Close
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Connect(ctx context.Context, cred credential.Credential, sink streaming.Sink) (streaming.Player, error) {
	b.mu.Lock()
	b.connects++
	var err error
	if len(b.connectErrs) > 0 {
		err = b.connectErrs[0]
		b.connectErrs = b.connectErrs[1:]
	}
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	p := &fakePlayer{sink: sink, confirm: b.confirm, hangClose: b.hangClose}
	b.players = append(b.players, p)
	lose := b.loseOnConnect
	b.mu.Unlock()

	if lose {
		sink(playback.SessionLost("connection dropped"))
	}
	return p, nil
}

func (b *fakeBackend) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

func (b *fakeBackend) Player(i int) *fakePlayer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.players) {
		return nil
	}
	return b.players[i]
}

func (b *fakeBackend) LastPlayer() *fakePlayer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.players) == 0 {
		return nil
	}
	return b.players[len(b.players)-1]
}

type fakePlayer struct {
	mu        sync.Mutex
	sink      streaming.Sink
	confirm   bool
	hangClose bool
	failWith  error // returned for every command except volume
	commands  []streaming.PlayerCommand
	closed    bool
}

func (p *fakePlayer) Execute(ctx context.Context, cmd streaming.PlayerCommand) error {
	p.mu.Lock()
	p.commands = append(p.commands, cmd)
	confirm := p.confirm
	failWith := p.failWith
	p.mu.Unlock()

	if failWith != nil && cmd.Type != streaming.PlayerVolume {
		return failWith
	}
	if !confirm {
		return nil
	}
	switch cmd.Type {
	case streaming.PlayerLoad:
		p.sink(playback.TrackChanged(*cmd.Track))
	case streaming.PlayerPause:
		p.sink(playback.Paused())
	case streaming.PlayerPlay:
		p.sink(playback.Resumed())
	}
	return nil
}

func (p *fakePlayer) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	hang := p.hangClose
	p.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (p *fakePlayer) Emit(e playback.Event) {
	p.sink(e)
}

// Commands returns the recorded commands, skipping volume updates.
func (p *fakePlayer) Commands() []streaming.PlayerCommand {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []streaming.PlayerCommand
	for _, c := range p.commands {
		if c.Type != streaming.PlayerVolume {
			out = append(out, c)
		}
	}
	return out
}

func (p *fakePlayer) CommandTypes() []streaming.PlayerCommandType {
	cmds := p.Commands()
	out := make([]streaming.PlayerCommandType, len(cmds))
	for i, c := range cmds {
		out[i] = c.Type
	}
	return out
}

// recorder collects every snapshot a subscriber sees.
type recorder struct {
	mu        sync.Mutex
	snapshots []state.PlaybackState
}

func record(ctx context.Context, c *Coordinator) *recorder {
	r := &recorder{}
	ch := c.Subscribe(ctx)
	go func() {
		for s := range ch {
			r.mu.Lock()
			r.snapshots = append(r.snapshots, s)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *recorder) Snapshots() []state.PlaybackState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]state.PlaybackState(nil), r.snapshots...)
}

// Statuses returns the observed statuses with consecutive duplicates removed.
func (r *recorder) Statuses() []state.Status {
	var out []state.Status
	for _, s := range r.Snapshots() {
		if len(out) == 0 || out[len(out)-1] != s.Status {
			out = append(out, s.Status)
		}
	}
	return out
}

type harness struct {
	c          *Coordinator
	backend    *fakeBackend
	store      *keyring.MemoryStore
	authorizer *fakeAuthorizer
	cancel     context.CancelFunc
	done       chan error
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Backoff = Backoff{Base: 5 * time.Millisecond, Cap: 200 * time.Millisecond, Multiplier: 2, Jitter: 0.1}
	cfg.MaxAttempts = 3
	cfg.CommandTimeout = time.Second
	cfg.TeardownTimeout = 50 * time.Millisecond
	cfg.SeekTolerance = 500 * time.Millisecond
	cfg.SeekSettleTicks = 3
	return cfg
}

// newHarness builds a coordinator on a fake backend. The store holds a credential
// when withCred is set.
func newHarness(t *testing.T, cfg Config, backend *fakeBackend, withCred bool) *harness {
	t.Helper()
	store := keyring.NewMemoryStore()
	if withCred {
		require.NoError(t, store.Save(context.Background(), testCred))
	}
	authorizer := &fakeAuthorizer{store: store}
	connector := streaming.NewConnector(backend, streaming.Config{
		ConnectTimeout:  time.Second,
		TeardownTimeout: cfg.TeardownTimeout,
	})

	c := New(cfg, Deps{
		Connector:  connector,
		Resolver:   newFakeResolver(),
		Store:      store,
		Authorizer: authorizer,
	})
	return &harness{c: c, backend: backend, store: store, authorizer: authorizer}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.c.Run(ctx) }()
	t.Cleanup(h.stop)
}

func (h *harness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
	}
	h.cancel = nil
}

func (h *harness) submit(t *testing.T, cmds ...playback.Command) {
	t.Helper()
	for _, cmd := range cmds {
		require.NoError(t, h.c.Submit(cmd))
	}
}

func (h *harness) waitFor(t *testing.T, msg string, cond func(s state.PlaybackState) bool) state.PlaybackState {
	t.Helper()
	require.Eventually(t, func() bool {
		return cond(h.c.Snapshot())
	}, 3*time.Second, 2*time.Millisecond, msg)
	return h.c.Snapshot()
}

func (h *harness) waitStatus(t *testing.T, status state.Status) state.PlaybackState {
	t.Helper()
	return h.waitFor(t, "status "+status.String(), func(s state.PlaybackState) bool {
		return s.Status == status
	})
}

// barrier waits until every input submitted so far has been handled.
func (h *harness) barrier(t *testing.T, volume float64) {
	t.Helper()
	h.submit(t, playback.SetVolume(volume))
	h.waitFor(t, "barrier", func(s state.PlaybackState) bool { return s.Volume == volume })
}

// playing starts trackA and waits for Playing.
func (h *harness) playing(t *testing.T) state.PlaybackState {
	t.Helper()
	h.submit(t, playback.Play("a"))
	return h.waitFor(t, "playing a", func(s state.PlaybackState) bool {
		return s.Status == state.StatusPlaying && s.Item != nil && s.Item.ID == "a"
	})
}
