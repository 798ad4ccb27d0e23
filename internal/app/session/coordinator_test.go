package session

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/osa030/tapedeck/internal/app/auth"
	"github.com/osa030/tapedeck/internal/app/playback"
	"github.com/osa030/tapedeck/internal/app/session/state"
	"github.com/osa030/tapedeck/internal/app/streaming"
	"github.com/osa030/tapedeck/internal/domain/playlist"
	"github.com/osa030/tapedeck/internal/domain/track"
)

func TestCoordinator_PlayWithoutSession(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeBackend{confirm: true}, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := record(ctx, h.c)
	h.start(t)

	s := h.playing(t)
	assert.Equal(t, time.Duration(0), s.Position)
	assert.Equal(t, uint64(1), s.SessionEpoch)

	require.Eventually(t, func() bool {
		st := rec.Statuses()
		return len(st) > 0 && st[len(st)-1] == state.StatusPlaying
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, []state.Status{state.StatusIdle, state.StatusConnecting, state.StatusPlaying}, rec.Statuses())
}

func TestCoordinator_OneReconnectForQueuedCommands(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, true)

	// Queue everything before the loop runs so all of it arrives while no session exists.
	h.submit(t,
		playback.Play("a"),
		playback.Seek(30*time.Second),
		playback.Pause(),
		playback.SetVolume(0.3),
	)
	h.start(t)

	h.waitFor(t, "paused at 30s", func(s state.PlaybackState) bool {
		return s.Status == state.StatusPaused && s.Position == 30*time.Second && s.Volume == 0.3
	})
	assert.Equal(t, 1, backend.Connects())
	assert.Equal(t, []streaming.PlayerCommandType{
		streaming.PlayerLoad,
		streaming.PlayerSeek,
		streaming.PlayerPause,
	}, backend.LastPlayer().CommandTypes())
}

func TestCoordinator_CommandsDeferredDuringRetry(t *testing.T) {
	backend := &fakeBackend{
		confirm:     true,
		connectErrs: []error{streaming.NewConnectError(streaming.ConnectNetwork, errors.New("unreachable"))},
	}
	cfg := testConfig()
	cfg.Backoff.Base = 50 * time.Millisecond
	h := newHarness(t, cfg, backend, true)
	h.start(t)

	h.submit(t, playback.Play("a"))
	h.waitFor(t, "retry scheduled", func(s state.PlaybackState) bool {
		return s.Status == state.StatusConnecting && s.ReconnectAttempt == 1 && s.RetryIn > 0
	})
	h.submit(t, playback.Seek(10*time.Second))

	h.waitFor(t, "playing at 10s", func(s state.PlaybackState) bool {
		return s.Status == state.StatusPlaying && s.Position == 10*time.Second
	})
	assert.Equal(t, 2, backend.Connects())
	assert.Equal(t, []streaming.PlayerCommandType{streaming.PlayerLoad, streaming.PlayerSeek}, backend.LastPlayer().CommandTypes())
}

func TestCoordinator_StaleEventsIgnored(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, true)
	h.start(t)
	h.playing(t)

	backend.Player(0).Emit(playback.SessionLost("network changed"))
	before := h.waitFor(t, "new session playing", func(s state.PlaybackState) bool {
		return s.SessionEpoch == 2 && s.Status == state.StatusPlaying
	})

	h.c.events <- playback.TrackChanged(trackB).WithEpoch(1)
	h.c.events <- playback.PositionTick(90 * time.Second).WithEpoch(1)
	h.c.events <- playback.Paused().WithEpoch(1)
	h.barrier(t, before.Volume/2)

	after := h.c.Snapshot()
	assert.Equal(t, state.StatusPlaying, after.Status)
	require.NotNil(t, after.Item)
	assert.Equal(t, "a", after.Item.ID)
	assert.Equal(t, before.Position, after.Position)
	assert.Equal(t, uint64(2), after.SessionEpoch)
}

func TestCoordinator_SetVolume(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, true)
	h.start(t)

	tests := []struct {
		in       float64
		expected float64
	}{
		{in: 0.5, expected: 0.5},
		{in: 1.7, expected: 1},
		{in: -0.2, expected: 0},
		{in: 0.25, expected: 0.25},
	}
	for _, tt := range tests {
		h.submit(t, playback.SetVolume(tt.in))
		h.waitFor(t, "volume", func(s state.PlaybackState) bool { return s.Volume == tt.expected })
	}
	assert.Equal(t, 0, backend.Connects(), "volume needs no session")
	assert.Equal(t, state.StatusIdle, h.c.Snapshot().Status)
}

func TestCoordinator_SeekClamps(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, true)
	h.start(t)
	h.playing(t)

	h.submit(t, playback.Seek(10*time.Minute))
	h.waitFor(t, "clamped to duration", func(s state.PlaybackState) bool { return s.Position == trackA.Duration })

	h.submit(t, playback.Seek(-5*time.Second))
	h.waitFor(t, "clamped to zero", func(s state.PlaybackState) bool { return s.Position == 0 })

	cmds := backend.LastPlayer().Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, trackA.Duration, cmds[1].Offset)
	assert.Equal(t, time.Duration(0), cmds[2].Offset)
}

func TestCoordinator_BackToBackSeeks(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, true)
	h.start(t)
	h.playing(t)

	h.submit(t, playback.Seek(10*time.Second), playback.Seek(20*time.Second))
	h.waitFor(t, "optimistic 20s", func(s state.PlaybackState) bool { return s.Position == 20*time.Second })

	player := backend.LastPlayer()
	player.Emit(playback.PositionTick(10 * time.Second))
	player.Emit(playback.PositionTick(20 * time.Second))
	h.barrier(t, 0.9)
	assert.Equal(t, 20*time.Second, h.c.Snapshot().Position)

	player.Emit(playback.PositionTick(21 * time.Second))
	h.waitFor(t, "ticks resume", func(s state.PlaybackState) bool { return s.Position == 21*time.Second })
}

func TestCoordinator_TicksNeverRegressWhilePlaying(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, true)
	h.start(t)
	h.playing(t)

	player := backend.LastPlayer()
	player.Emit(playback.PositionTick(5 * time.Second))
	h.waitFor(t, "5s", func(s state.PlaybackState) bool { return s.Position == 5*time.Second })

	player.Emit(playback.PositionTick(3 * time.Second))
	h.barrier(t, 0.8)
	assert.Equal(t, 5*time.Second, h.c.Snapshot().Position)
}

func TestCoordinator_PauseWaitsForConfirmation(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, true)
	h.start(t)
	h.playing(t)

	player := backend.LastPlayer()
	player.mu.Lock()
	player.confirm = false
	player.mu.Unlock()

	h.submit(t, playback.Pause())
	h.barrier(t, 0.7)
	assert.Equal(t, state.StatusPlaying, h.c.Snapshot().Status)
	assert.Contains(t, player.CommandTypes(), streaming.PlayerPause)

	player.Emit(playback.Paused())
	h.waitStatus(t, state.StatusPaused)

	h.submit(t, playback.Resume())
	h.barrier(t, 0.6)
	assert.Equal(t, state.StatusPaused, h.c.Snapshot().Status)

	player.Emit(playback.Resumed())
	h.waitStatus(t, state.StatusPlaying)
}

func TestCoordinator_TogglePlayPause(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, true)
	h.start(t)
	h.playing(t)

	h.submit(t, playback.TogglePlayPause())
	h.waitStatus(t, state.StatusPaused)
	h.submit(t, playback.TogglePlayPause())
	h.waitStatus(t, state.StatusPlaying)
}

func TestCoordinator_SessionLostBackoff(t *testing.T) {
	backend := &fakeBackend{confirm: true, loseOnConnect: true}
	cfg := testConfig()
	h := newHarness(t, cfg, backend, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := record(ctx, h.c)
	h.start(t)

	h.submit(t, playback.Play("a"))
	s := h.waitStatus(t, state.StatusErrored)
	assert.Equal(t, ReasonExhausted, s.Reason)
	assert.Equal(t, 1+cfg.MaxAttempts, backend.Connects())

	delays := retryDelays(rec.Snapshots())
	require.Len(t, delays, cfg.MaxAttempts)
	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1], "delay must grow: %v", delays)
	}
	for _, d := range delays {
		assert.LessOrEqual(t, d, cfg.Backoff.Cap)
	}
}

func TestCoordinator_ConnectFailuresBackoff(t *testing.T) {
	netErr := streaming.NewConnectError(streaming.ConnectNetwork, errors.New("connection refused"))
	backend := &fakeBackend{connectErrs: []error{netErr, netErr, netErr, netErr, netErr}}
	cfg := testConfig()
	h := newHarness(t, cfg, backend, true)
	h.start(t)

	h.submit(t, playback.Play("a"))
	s := h.waitStatus(t, state.StatusErrored)
	assert.Equal(t, ReasonExhausted, s.Reason)
	assert.Equal(t, 1+cfg.MaxAttempts, backend.Connects())

	// Errored only accepts re-authentication.
	h.submit(t, playback.Play("a"))
	h.barrier(t, 0.4)
	assert.Equal(t, 1+cfg.MaxAttempts, backend.Connects())
}

func TestCoordinator_ConnectRejected(t *testing.T) {
	backend := &fakeBackend{connectErrs: []error{
		streaming.NewConnectError(streaming.ConnectRejected, errors.New("no playback device available")),
	}}
	h := newHarness(t, testConfig(), backend, true)
	h.start(t)

	h.submit(t, playback.Play("a"))
	s := h.waitStatus(t, state.StatusErrored)
	assert.Contains(t, s.Reason, "no playback device available")
	assert.Equal(t, 1, backend.Connects())
}

func TestCoordinator_InvalidCredentialReauthorizes(t *testing.T) {
	backend := &fakeBackend{confirm: true, connectErrs: []error{
		streaming.NewConnectError(streaming.ConnectInvalidCredential, errors.New("token rejected")),
	}}
	h := newHarness(t, testConfig(), backend, true)
	h.start(t)

	h.playing(t)
	assert.Equal(t, 2, backend.Connects())
	assert.Equal(t, 1, h.authorizer.Calls())
	assert.True(t, h.store.Has())
}

func TestCoordinator_LogoutWithHangingTeardown(t *testing.T) {
	backend := &fakeBackend{confirm: true, hangClose: true}
	h := newHarness(t, testConfig(), backend, true)
	h.start(t)
	h.playing(t)

	start := time.Now()
	h.submit(t, playback.Logout())
	s := h.waitStatus(t, state.StatusIdle)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Nil(t, s.Item)
	assert.Equal(t, -1, s.QueueCursor)
	assert.False(t, h.store.Has())

	player := backend.LastPlayer()
	player.mu.Lock()
	assert.True(t, player.closed)
	player.mu.Unlock()
}

func TestCoordinator_LogoutDeleteFailure(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, true)
	h.store.DeleteErr = errors.New("secret service locked")
	h.start(t)
	h.playing(t)

	h.submit(t, playback.Logout())
	s := h.waitStatus(t, state.StatusErrored)
	assert.Contains(t, s.Reason, "could not delete credential")
}

func TestCoordinator_AuthorizationTimeout(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, false)
	h.c.deps.Authorizer = auth.NewFlow(auth.Config{
		OAuth: &oauth2.Config{
			ClientID: "client",
			Endpoint: oauth2.Endpoint{AuthURL: "http://127.0.0.1:1/authorize", TokenURL: "http://127.0.0.1:1/token"},
		},
		RedirectTimeout: 50 * time.Millisecond,
	}, h.store, func(string) error { return nil })
	h.start(t)

	h.submit(t, playback.Play("a"))
	s := h.waitStatus(t, state.StatusErrored)
	assert.Equal(t, "authorization timed out", s.Reason)
	assert.Equal(t, 0, backend.Connects())
}

func TestCoordinator_AuthorizationErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{name: "denied", err: &auth.Error{Kind: auth.ErrorDenied, Err: errors.New("access_denied")}, reason: "authorization denied"},
		{name: "exchange", err: &auth.Error{Kind: auth.ErrorExchangeFailed}, reason: "authorization failed: token exchange failed"},
		{name: "persist", err: &auth.Error{Kind: auth.ErrorPersist, Err: errors.New("locked")}, reason: "authorization failed: could not store credential: locked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig(), &fakeBackend{confirm: true}, false)
			h.authorizer.errs = []error{tt.err}
			h.start(t)

			h.submit(t, playback.Play("a"))
			s := h.waitStatus(t, state.StatusErrored)
			assert.Equal(t, tt.reason, s.Reason)
		})
	}
}

func TestCoordinator_FatalErrorAndReauthenticate(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, true)
	h.start(t)
	h.playing(t)

	backend.Player(0).Emit(playback.Error(playback.ErrorKindAuthRevoked, "invalid_grant"))
	s := h.waitStatus(t, state.StatusErrored)
	assert.Equal(t, ReasonAuthRevoked, s.Reason)
	assert.False(t, h.store.Has())

	// No auto-reconnect until re-authenticated.
	h.submit(t, playback.Play("b"))
	h.barrier(t, 0.55)
	assert.Equal(t, 1, backend.Connects())

	h.submit(t, playback.Reauthenticate())
	s = h.waitFor(t, "reconnected", func(s state.PlaybackState) bool {
		return s.SessionEpoch == 2 && s.Status != state.StatusConnecting
	})
	assert.NotEqual(t, state.StatusErrored, s.Status)
	assert.Equal(t, 1, h.authorizer.Calls())
	assert.True(t, h.store.Has())

	h.submit(t, playback.Play("b"))
	h.waitFor(t, "playing b", func(s state.PlaybackState) bool {
		return s.Status == state.StatusPlaying && s.Item != nil && s.Item.ID == "b"
	})
}

func TestCoordinator_RefusedCommandKeepsCredential(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, true)
	h.start(t)
	h.playing(t)

	player := backend.LastPlayer()
	player.mu.Lock()
	player.failWith = streaming.NewSessionError(playback.ErrorKindRefused, errors.New("Player command failed: Restriction violated"))
	player.mu.Unlock()

	h.submit(t, playback.Pause())
	h.barrier(t, 0.4)

	s := h.c.Snapshot()
	assert.Equal(t, state.StatusPlaying, s.Status)
	assert.Empty(t, s.Reason)
	assert.True(t, h.store.Has())
	assert.Equal(t, 1, backend.Connects())
}

func TestCoordinator_TransientErrorReconnects(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, true)
	h.start(t)
	h.playing(t)

	backend.Player(0).Emit(playback.Error(playback.ErrorKindTransient, "rate limited"))
	s := h.waitFor(t, "resumed on new session", func(s state.PlaybackState) bool {
		return s.SessionEpoch == 2 && s.Status == state.StatusPlaying
	})
	require.NotNil(t, s.Item)
	assert.Equal(t, "a", s.Item.ID)
	assert.True(t, h.store.Has())
}

func TestCoordinator_QueueNavigation(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, true)
	h.start(t)

	require.NoError(t, h.c.SetQueue(playlist.New("mix", "a", "b", "c"), -1))
	h.submit(t, playback.Next())
	h.waitFor(t, "first item", func(s state.PlaybackState) bool {
		return s.Status == state.StatusPlaying && s.Item.ID == "a" && s.QueueCursor == 0
	})

	h.submit(t, playback.Previous())
	h.waitFor(t, "wrapped to last", func(s state.PlaybackState) bool {
		return s.Status == state.StatusPlaying && s.Item.ID == "c" && s.QueueCursor == 2
	})

	h.submit(t, playback.Next())
	h.waitFor(t, "wrapped to first", func(s state.PlaybackState) bool {
		return s.Status == state.StatusPlaying && s.Item.ID == "a" && s.QueueCursor == 0
	})

	h.submit(t, playback.Play("b"))
	h.waitFor(t, "cursor follows play", func(s state.PlaybackState) bool {
		return s.Status == state.StatusPlaying && s.Item.ID == "b" && s.QueueCursor == 1
	})
}

func TestCoordinator_NextWithEmptyQueueIsNoop(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, true)
	h.start(t)

	h.submit(t, playback.Next(), playback.Previous(), playback.Pause(), playback.Seek(time.Second))
	h.barrier(t, 0.45)
	assert.Equal(t, 0, backend.Connects())
	assert.Equal(t, state.StatusIdle, h.c.Snapshot().Status)
}

func TestCoordinator_EndedAutoAdvance(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, true)
	h.start(t)

	require.NoError(t, h.c.SetQueue(playlist.New("mix", "a", "b"), 0))
	h.playing(t)

	backend.LastPlayer().Emit(playback.Ended())
	h.waitFor(t, "advanced", func(s state.PlaybackState) bool {
		return s.Status == state.StatusPlaying && s.Item.ID == "b" && s.QueueCursor == 1
	})
}

func TestCoordinator_EndedWithoutAutoAdvance(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	cfg := testConfig()
	cfg.AutoAdvance = false
	h := newHarness(t, cfg, backend, true)
	h.start(t)

	require.NoError(t, h.c.SetQueue(playlist.New("mix", "a", "b"), 0))
	h.playing(t)

	backend.LastPlayer().Emit(playback.Ended())
	s := h.waitStatus(t, state.StatusEnded)
	assert.Equal(t, trackA.Duration, s.Position)

	h.submit(t, playback.Resume())
	h.waitFor(t, "replayed", func(s state.PlaybackState) bool {
		return s.Status == state.StatusPlaying && s.Position == 0 && s.Item.ID == "a"
	})
}

func TestCoordinator_StalledAndRecovered(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, true)
	h.start(t)
	h.playing(t)

	player := backend.LastPlayer()
	player.Emit(playback.PositionTick(4 * time.Second))
	player.Emit(playback.Stalled())
	s := h.waitStatus(t, state.StatusStalled)
	assert.Equal(t, 4*time.Second, s.Position)

	player.Emit(playback.PositionTick(5 * time.Second))
	h.waitFor(t, "recovered", func(s state.PlaybackState) bool {
		return s.Status == state.StatusPlaying && s.Position == 5*time.Second
	})
}

func TestCoordinator_Stop(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, true)
	h.start(t)
	h.playing(t)

	h.submit(t, playback.Stop())
	s := h.waitStatus(t, state.StatusIdle)
	assert.Nil(t, s.Item)
	assert.Contains(t, backend.LastPlayer().CommandTypes(), streaming.PlayerStop)
}

func TestCoordinator_RestoreLastItem(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, true)
	require.NoError(t, h.c.Restore(track.Ref("spotify:track:c"), 0.35))
	assert.Equal(t, 0.35, h.c.Snapshot().Volume)
	h.start(t)

	h.submit(t, playback.TogglePlayPause())
	h.waitFor(t, "playing restored item", func(s state.PlaybackState) bool {
		return s.Status == state.StatusPlaying && s.Item != nil && s.Item.ID == "c"
	})

	h.stop()
	assert.Error(t, h.c.Restore("a", 1))
}

func TestCoordinator_UnknownItemKeepsState(t *testing.T) {
	backend := &fakeBackend{confirm: true}
	h := newHarness(t, testConfig(), backend, true)
	h.start(t)
	h.playing(t)

	h.submit(t, playback.Play("missing"))
	h.barrier(t, 0.65)
	s := h.c.Snapshot()
	assert.Equal(t, state.StatusPlaying, s.Status)
	assert.Equal(t, "a", s.Item.ID)
}

func TestCoordinator_SubmitErrors(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	h := newHarness(t, cfg, &fakeBackend{}, true)

	require.NoError(t, h.c.Submit(playback.SetVolume(0.1)))
	assert.ErrorIs(t, h.c.Submit(playback.SetVolume(0.2)), playback.ErrQueueFull)

	h.start(t)
	h.waitFor(t, "drained", func(s state.PlaybackState) bool { return s.Volume == 0.1 })
	h.stop()

	assert.ErrorIs(t, h.c.Submit(playback.Pause()), playback.ErrShuttingDown)
	assert.ErrorIs(t, h.c.SetQueue(nil, -1), playback.ErrShuttingDown)
}

func TestCoordinator_SubscribeClosesOnShutdown(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeBackend{}, true)
	h.start(t)

	ch := h.c.Subscribe(context.Background())
	first := <-ch
	assert.Equal(t, state.StatusIdle, first.Status)

	h.stop()
	for range ch {
	}

	select {
	case <-h.c.Done():
	default:
		t.Fatal("Done not closed after shutdown")
	}
	assert.ErrorIs(t, h.c.Submit(playback.Pause()), playback.ErrShuttingDown)
}

// retryDelays returns the delay of each distinct retry attempt in observation order.
func retryDelays(snapshots []state.PlaybackState) []time.Duration {
	var delays []time.Duration
	lastAttempt := 0
	for _, s := range snapshots {
		if s.RetryIn > 0 && s.ReconnectAttempt != lastAttempt {
			delays = append(delays, s.RetryIn)
			lastAttempt = s.ReconnectAttempt
		}
	}
	return delays
}
