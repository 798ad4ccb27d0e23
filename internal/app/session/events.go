package session

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tapedeck/internal/app/playback"
	"github.com/osa030/tapedeck/internal/app/session/state"
	"github.com/osa030/tapedeck/internal/domain/track"
)

func (c *Coordinator) handleEvent(ctx context.Context, ev playback.Event) {
	if c.session == nil || ev.Epoch != c.session.Epoch() {
		zlog.Debug().Msgf("coordinator: dropping stale event: event=%s epoch=%d current=%d", ev, ev.Epoch, c.state.SessionEpoch)
		return
	}
	zlog.Debug().Msgf("coordinator: event: %s", ev)

	switch ev.Type {
	case playback.EventTrackChanged:
		c.healthy()
		c.trackChanged(ev.Track)
	case playback.EventPositionTick:
		c.healthy()
		c.tick(ev)
	case playback.EventPaused:
		c.healthy()
		if c.state.Item != nil && c.loaded {
			switch c.state.Status {
			case state.StatusPlaying, state.StatusStalled, state.StatusConnecting:
				c.state.Status = state.StatusPaused
			}
		}
	case playback.EventResumed:
		c.healthy()
		if c.state.Item != nil && c.loaded && c.state.Status != state.StatusIdle {
			c.state.Status = state.StatusPlaying
		}
	case playback.EventStalled:
		if c.state.Status == state.StatusPlaying || (c.state.Status == state.StatusConnecting && c.loaded) {
			c.state.Status = state.StatusStalled
		}
	case playback.EventEnded:
		c.healthy()
		c.ended(ctx)
	case playback.EventSessionLost:
		c.lost(ev.Reason)
	case playback.EventError:
		if ev.Kind.Fatal() {
			c.fatal(ctx, ev.Kind, ev.Reason)
			return
		}
		c.lost("transient error: " + ev.Reason)
	}
}

// healthy resets the retry budget once a session proves it works.
func (c *Coordinator) healthy() {
	if c.attempt != 0 {
		zlog.Debug().Msgf("coordinator: session healthy, resetting retry budget: attempts=%d", c.attempt)
	}
	c.attempt = 0
	c.state.ReconnectAttempt = 0
}

func (c *Coordinator) trackChanged(t *track.Track) {
	if t == nil {
		return
	}
	item := *t

	var position = c.state.Position
	if c.seek == nil || c.state.Item == nil || c.state.Item.ID != item.ID {
		position = 0
		c.seek = nil
	}

	c.state.Item = &item
	c.state.Position = position
	c.state.Status = state.StatusPlaying
	c.state.Reason = ""
	c.loaded = true
	c.lastItem = track.Ref(item.ID)
	c.syncCursor(item)
}

// syncCursor follows the session when it moved to another queue item on its own.
func (c *Coordinator) syncCursor(t track.Track) {
	n := c.queue.Len()
	if n == 0 {
		return
	}
	cursor := c.state.QueueCursor
	if cursor >= 0 && cursor < n && c.queue.At(cursor).ID() == t.ID {
		return
	}
	if idx := c.queue.IndexOf(track.Ref(t.ID)); idx >= 0 {
		c.state.QueueCursor = idx
	}
}

// tick applies a position report. Position never moves backwards while Playing.
func (c *Coordinator) tick(ev playback.Event) {
	switch c.state.Status {
	case state.StatusPlaying:
	case state.StatusStalled:
		c.state.Status = state.StatusPlaying
	default:
		return
	}

	pos := ev.Position
	if c.state.Item != nil {
		pos = c.state.Item.ClampOffset(pos)
	}

	if c.seek != nil {
		diff := pos - c.seek.target
		if diff < 0 {
			diff = -diff
		}
		if diff > c.config.SeekTolerance {
			c.seek.ticks++
			if c.seek.ticks >= c.config.SeekSettleTicks {
				zlog.Debug().Msgf("coordinator: seek not confirmed, giving up: target=%v last=%v", c.seek.target, pos)
				c.seek = nil
			}
			return
		}
		c.seek = nil
	}

	if pos > c.state.Position {
		c.state.Position = pos
	}
}

func (c *Coordinator) ended(ctx context.Context) {
	if c.state.Item == nil {
		return
	}
	c.state.Status = state.StatusEnded
	c.state.Position = c.state.Item.Duration
	c.seek = nil

	if c.config.AutoAdvance && c.queue.Len() > 0 {
		c.advance(ctx, 1)
	}
}
