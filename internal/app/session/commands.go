package session

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tapedeck/internal/app/playback"
	"github.com/osa030/tapedeck/internal/app/session/state"
	"github.com/osa030/tapedeck/internal/app/streaming"
	"github.com/osa030/tapedeck/internal/domain/track"
)

func (c *Coordinator) handleCommand(ctx context.Context, cmd playback.Command) {
	zlog.Debug().Msgf("coordinator: command: %s", cmd)

	if !cmd.NeedsSession() {
		// Accepted even while errored.
		switch cmd.Type {
		case playback.CommandSetVolume:
			c.setVolume(ctx, cmd.Volume)
		case playback.CommandLogout:
			c.logout(ctx)
		case playback.CommandReauthenticate:
			c.reauthenticate(ctx)
		}
		return
	}

	if c.locked {
		zlog.Warn().Msgf("coordinator: command ignored while errored: command=%s reason=%s", cmd, c.state.Reason)
		return
	}
	if !c.actionable(cmd) {
		return
	}
	if c.session == nil || !c.session.Alive() {
		c.deferCommand(ctx, cmd)
		return
	}
	c.execute(ctx, cmd)
}

// actionable filters commands that have nothing to act on, so they never start a reconnect.
func (c *Coordinator) actionable(cmd playback.Command) bool {
	switch cmd.Type {
	case playback.CommandPlay:
		return cmd.Item.ID() != "" || c.state.Item != nil || c.fallbackRef() != ""
	case playback.CommandResume, playback.CommandTogglePlayPause:
		return c.state.Item != nil || c.fallbackRef() != ""
	case playback.CommandPause, playback.CommandStop, playback.CommandSeek:
		// A deferred load gives them something to act on once connected.
		if c.state.Item == nil && len(c.deferred) == 0 {
			zlog.Debug().Msgf("coordinator: nothing loaded: command=%s", cmd)
			return false
		}
		return true
	case playback.CommandNext, playback.CommandPrevious:
		if c.queue.Len() == 0 {
			zlog.Warn().Msgf("coordinator: queue is empty: command=%s", cmd)
			return false
		}
		return true
	}
	return true
}

// deferCommand holds cmd until a session is usable, starting exactly one reconnect.
func (c *Coordinator) deferCommand(ctx context.Context, cmd playback.Command) {
	c.deferred = append(c.deferred, cmd)
	if c.retryTimer != nil || c.session != nil {
		// A retry is scheduled or the lost session's terminal event is still in flight.
		zlog.Debug().Msgf("coordinator: command deferred: command=%s pending=%d", cmd, len(c.deferred))
		return
	}
	c.reconnect(ctx, false)
}

func (c *Coordinator) execute(ctx context.Context, cmd playback.Command) {
	switch cmd.Type {
	case playback.CommandPlay:
		c.play(ctx, cmd.Item)
	case playback.CommandPause:
		c.pause(ctx, cmd)
	case playback.CommandResume:
		c.resumePlayback(ctx)
	case playback.CommandTogglePlayPause:
		if c.state.Status == state.StatusPlaying {
			c.pause(ctx, cmd)
		} else {
			c.resumePlayback(ctx)
		}
	case playback.CommandStop:
		c.stop(ctx, cmd)
	case playback.CommandSeek:
		c.seekTo(ctx, cmd)
	case playback.CommandNext:
		c.advance(ctx, 1)
	case playback.CommandPrevious:
		c.advance(ctx, -1)
	default:
		zlog.Warn().Msgf("coordinator: unsupported command: %s", cmd)
	}
}

// fallbackRef is what Play without an item starts: the queue cursor, else the last item.
func (c *Coordinator) fallbackRef() track.Ref {
	if n := c.queue.Len(); n > 0 {
		cursor := c.state.QueueCursor
		if cursor < 0 || cursor >= n {
			cursor = 0
		}
		return c.queue.At(cursor)
	}
	return c.lastItem
}

func (c *Coordinator) play(ctx context.Context, ref track.Ref) {
	if ref.ID() == "" {
		if c.state.Item != nil {
			c.resumePlayback(ctx)
			return
		}
		ref = c.fallbackRef()
	}

	if n := c.queue.Len(); n > 0 {
		cursor := c.state.QueueCursor
		if cursor < 0 || cursor >= n || c.queue.At(cursor).ID() != ref.ID() {
			if idx := c.queue.IndexOf(ref); idx >= 0 {
				c.state.QueueCursor = idx
			}
		}
	}
	c.load(ctx, ref, 0)
}

// load resolves ref and starts it at offset.
func (c *Coordinator) load(ctx context.Context, ref track.Ref, at time.Duration) {
	if c.deps.Resolver == nil {
		zlog.Error().Msg("coordinator: no resolver configured")
		return
	}
	rctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	t, err := c.deps.Resolver.GetTrack(rctx, ref)
	cancel()
	if err != nil {
		zlog.Warn().Msgf("coordinator: failed to resolve item: ref=%s error=%v", ref, err)
		return
	}
	c.startLoad(ctx, *t, at)
}

// startLoad loads a resolved track into the session. Status stays Connecting until
// the session reports TrackChanged.
func (c *Coordinator) startLoad(ctx context.Context, t track.Track, at time.Duration) {
	at = t.ClampOffset(at)
	c.state.Status = state.StatusConnecting
	c.state.Item = &t
	c.state.Position = at
	c.state.Reason = ""
	c.seek = nil
	c.publish()

	if err := c.command(ctx, streaming.Load(t)); err != nil {
		c.commandFailed(ctx, playback.Play(track.Ref(t.ID)), err)
		return
	}
	c.loaded = true
	c.lastItem = track.Ref(t.ID)

	if at > 0 {
		if err := c.command(ctx, streaming.PlayerCommand{Type: streaming.PlayerSeek, Offset: at}); err != nil {
			zlog.Warn().Msgf("coordinator: failed to restore position: position=%v error=%v", at, err)
			c.state.Position = 0
			return
		}
		c.seek = &seekPending{target: at}
	}
}

func (c *Coordinator) pause(ctx context.Context, cmd playback.Command) {
	if !c.loaded || c.state.Status == state.StatusPaused {
		return
	}
	c.send(ctx, cmd, streaming.PlayerCommand{Type: streaming.PlayerPause})
}

func (c *Coordinator) resumePlayback(ctx context.Context) {
	if c.state.Item == nil {
		if ref := c.fallbackRef(); ref.ID() != "" {
			c.play(ctx, ref)
		}
		return
	}

	switch {
	case c.state.Status == state.StatusEnded:
		c.startLoad(ctx, *c.state.Item, 0)
	case !c.loaded:
		c.startLoad(ctx, *c.state.Item, c.state.Position)
	case c.state.Status == state.StatusPlaying:
	default:
		c.send(ctx, playback.Resume(), streaming.PlayerCommand{Type: streaming.PlayerPlay})
	}
}

func (c *Coordinator) stop(ctx context.Context, cmd playback.Command) {
	if c.loaded {
		if !c.send(ctx, cmd, streaming.PlayerCommand{Type: streaming.PlayerStop}) {
			return
		}
	}
	c.state.Status = state.StatusIdle
	c.state.Item = nil
	c.state.Position = 0
	c.loaded = false
	c.seek = nil
}

func (c *Coordinator) seekTo(ctx context.Context, cmd playback.Command) {
	target := c.state.Item.ClampOffset(cmd.Offset)
	if !c.loaded {
		// Applied when the item is loaded again.
		c.state.Position = target
		return
	}
	if !c.send(ctx, cmd, streaming.PlayerCommand{Type: streaming.PlayerSeek, Offset: target}) {
		return
	}
	c.state.Position = target
	c.seek = &seekPending{target: target}
}

func (c *Coordinator) advance(ctx context.Context, delta int) {
	n := c.queue.Len()
	if n == 0 {
		zlog.Warn().Msg("coordinator: queue is empty")
		return
	}
	cursor := c.state.QueueCursor
	var next int
	switch {
	case cursor < 0 && delta > 0:
		next = 0
	case cursor < 0:
		next = n - 1
	default:
		next = ((cursor+delta)%n + n) % n
	}
	c.state.QueueCursor = next
	c.load(ctx, c.queue.At(next), 0)
}

func (c *Coordinator) setVolume(ctx context.Context, level float64) {
	c.state.Volume = state.ClampVolume(level)
	if c.session == nil || !c.session.Alive() {
		return
	}
	if err := c.command(ctx, streaming.PlayerCommand{Type: streaming.PlayerVolume, Volume: c.state.Volume}); err != nil {
		zlog.Warn().Msgf("coordinator: failed to forward volume: volume=%.2f error=%v", c.state.Volume, err)
	}
}

func (c *Coordinator) logout(ctx context.Context) {
	zlog.Info().Msg("coordinator: logging out")
	c.stopRetry()
	c.closeSession()
	if n := len(c.deferred); n > 0 {
		zlog.Info().Msgf("coordinator: dropping deferred commands: count=%d", n)
	}
	c.deferred = nil
	c.resume = nil
	c.attempt = 0
	c.lastItem = ""

	next := state.Initial(c.state.Volume)
	next.Seq = c.state.Seq
	next.SessionEpoch = c.state.SessionEpoch
	c.state = next
	c.locked = false

	if err := c.deps.Store.Delete(ctx); err != nil {
		zlog.Error().Msgf("coordinator: failed to delete credential: %v", err)
		c.state.Status = state.StatusErrored
		c.state.Reason = errors.Wrap(err, "logout failed: could not delete credential").Error()
		c.locked = true
	}
}

func (c *Coordinator) reauthenticate(ctx context.Context) {
	zlog.Info().Msg("coordinator: re-authentication requested")
	c.stopRetry()
	c.closeSession()
	c.locked = false
	c.attempt = 0
	c.state.ReconnectAttempt = 0
	c.reconnect(ctx, true)
}

// command runs one player command with the command timeout.
func (c *Coordinator) command(ctx context.Context, pc streaming.PlayerCommand) error {
	if c.session == nil {
		return streaming.ErrSessionClosed
	}
	cctx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
	defer cancel()
	return c.session.Command(cctx, pc)
}

// send forwards a player command and reports whether it succeeded.
func (c *Coordinator) send(ctx context.Context, cmd playback.Command, pc streaming.PlayerCommand) bool {
	if err := c.command(ctx, pc); err != nil {
		c.commandFailed(ctx, cmd, err)
		return false
	}
	return true
}

func (c *Coordinator) commandFailed(ctx context.Context, cmd playback.Command, err error) {
	if errors.Is(err, streaming.ErrSessionClosed) {
		zlog.Warn().Msgf("coordinator: session unusable, retrying after reconnect: command=%s", cmd)
		c.rememberResume()
		c.deferred = append(c.deferred, cmd)
		c.state.Status = state.StatusConnecting
		if c.session != nil && !c.session.Alive() {
			// SessionLost is on its way and schedules the retry.
			return
		}
		c.closeSession()
		c.scheduleRetry("session closed")
		return
	}

	kind := streaming.ErrorKindOf(err)
	if kind.Fatal() {
		c.fatal(ctx, kind, err.Error())
		return
	}

	zlog.Warn().Msgf("coordinator: command failed: command=%s error=%v", cmd, err)
	if c.state.Status == state.StatusConnecting {
		c.loaded = false
		c.state.Status = c.restingStatus()
	}
}
