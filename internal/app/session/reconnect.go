package session

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tapedeck/internal/app/auth"
	"github.com/osa030/tapedeck/internal/app/playback"
	"github.com/osa030/tapedeck/internal/app/session/state"
	"github.com/osa030/tapedeck/internal/app/streaming"
	"github.com/osa030/tapedeck/internal/domain/credential"
)

// Errored reasons.
const (
	ReasonAuthTimeout    = "authorization timed out"
	ReasonAuthDenied     = "authorization denied"
	ReasonExchangeFailed = "authorization failed: token exchange failed"
	ReasonExhausted      = "reconnect attempts exhausted"
	ReasonAuthRevoked    = "authorization revoked"
	ReasonForbidden      = "playback not permitted for this account"
)

// reconnect establishes a new session and replays deferred commands.
// With forceAuth the stored credential is ignored and a new one is acquired.
func (c *Coordinator) reconnect(ctx context.Context, forceAuth bool) {
	c.stopRetry()
	c.state.Status = state.StatusConnecting
	c.state.Reason = ""
	c.publish()

	cred, ok := c.loadCredential(ctx, forceAuth)
	if !ok {
		if c.deps.Authorizer == nil {
			c.fail("no credential available")
			return
		}
		zlog.Info().Msg("coordinator: authorization required")
		acquired, err := c.deps.Authorizer.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			zlog.Error().Msgf("coordinator: authorization failed: %v", err)
			c.fail(authReason(err))
			return
		}
		cred = acquired
	}

	epoch := c.state.SessionEpoch + 1
	sess, err := c.deps.Connector.Connect(ctx, cred, epoch)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		ce := streaming.AsConnectError(err)
		switch ce.Kind {
		case streaming.ConnectInvalidCredential:
			zlog.Warn().Msgf("coordinator: credential rejected, discarding it: %v", ce)
			if derr := c.deps.Store.Delete(ctx); derr != nil {
				c.fail(errors.Wrap(derr, "could not delete rejected credential").Error())
				return
			}
			c.scheduleRetry(ce.Error())
		case streaming.ConnectRejected:
			c.fail(ce.Error())
		default:
			c.scheduleRetry(ce.Error())
		}
		return
	}

	c.session = sess
	c.loaded = false
	c.seek = nil
	c.state.SessionEpoch = epoch
	c.state.Status = c.restingStatus()
	go c.forward(sess)
	zlog.Info().Msgf("coordinator: session established: epoch=%d attempt=%d", epoch, c.attempt)

	if err := c.command(ctx, streaming.PlayerCommand{Type: streaming.PlayerVolume, Volume: c.state.Volume}); err != nil {
		zlog.Debug().Msgf("coordinator: failed to apply volume: %v", err)
	}

	deferred := c.deferred
	c.deferred = nil
	resume := c.resume
	c.resume = nil

	if len(deferred) == 0 && resume != nil {
		item := resume.item
		if resume.playing {
			c.startLoad(ctx, item, resume.position)
		} else {
			c.state.Item = &item
			c.state.Position = resume.position
			c.state.Status = state.StatusPaused
		}
	}
	for _, cmd := range deferred {
		c.handleCommand(ctx, cmd)
	}
}

// loadCredential reads the stored credential. Load errors count as absent.
func (c *Coordinator) loadCredential(ctx context.Context, forceAuth bool) (credential.Credential, bool) {
	if forceAuth || c.deps.Store == nil {
		return credential.Credential{}, false
	}
	cred, ok, err := c.deps.Store.Load(ctx)
	if err != nil {
		zlog.Warn().Msgf("coordinator: failed to load credential, treating as absent: %v", err)
		return credential.Credential{}, false
	}
	if !ok {
		return credential.Credential{}, false
	}
	if cred.Expired(time.Now()) {
		zlog.Info().Msg("coordinator: stored credential expired")
		return credential.Credential{}, false
	}
	return cred, true
}

// scheduleRetry arms the retry timer, or gives up once the budget is spent.
func (c *Coordinator) scheduleRetry(reason string) {
	if c.attempt >= c.config.MaxAttempts {
		zlog.Error().Msgf("coordinator: giving up after %d attempts: last=%s", c.attempt, reason)
		c.fail(ReasonExhausted)
		return
	}

	delay := c.config.Backoff.Delay(c.attempt, c.random())
	c.attempt++
	c.retryTimer = time.NewTimer(delay)
	c.state.Status = state.StatusConnecting
	c.state.ReconnectAttempt = c.attempt
	c.state.RetryIn = delay
	c.state.Reason = ""
	zlog.Warn().Msgf("coordinator: reconnecting: attempt=%d/%d delay=%v reason=%s", c.attempt, c.config.MaxAttempts, delay, reason)
}

// rememberResume records what to restore once a new session is up.
func (c *Coordinator) rememberResume() {
	if c.resume != nil || c.state.Item == nil {
		return
	}
	switch c.state.Status {
	case state.StatusPlaying, state.StatusStalled, state.StatusConnecting:
		c.resume = &resumePoint{item: *c.state.Item, position: c.state.Position, playing: true}
	case state.StatusPaused:
		c.resume = &resumePoint{item: *c.state.Item, position: c.state.Position}
	}
}

// lost handles a session that can no longer be used.
func (c *Coordinator) lost(reason string) {
	zlog.Warn().Msgf("coordinator: session lost: epoch=%d reason=%s", c.state.SessionEpoch, reason)
	c.rememberResume()
	c.closeSession()
	c.state.Status = state.StatusConnecting
	c.scheduleRetry(reason)
}

// fatal handles an error that makes the credential unusable.
func (c *Coordinator) fatal(ctx context.Context, kind playback.ErrorKind, detail string) {
	zlog.Error().Msgf("coordinator: fatal session error: kind=%s detail=%s", kind, detail)

	reason := ReasonAuthRevoked
	if kind == playback.ErrorKindForbidden {
		reason = ReasonForbidden
	}
	c.closeSession()
	if err := c.deps.Store.Delete(ctx); err != nil {
		zlog.Error().Msgf("coordinator: failed to delete credential: %v", err)
		reason = reason + "; " + errors.Wrap(err, "could not delete credential").Error()
	}
	c.fail(reason)
}

// fail moves to Errored. Only Reauthenticate leaves it.
func (c *Coordinator) fail(reason string) {
	c.stopRetry()
	c.closeSession()
	if n := len(c.deferred); n > 0 {
		zlog.Warn().Msgf("coordinator: dropping deferred commands: count=%d", n)
	}
	c.deferred = nil
	c.resume = nil
	c.locked = true
	c.state.Status = state.StatusErrored
	c.state.Reason = reason
	zlog.Error().Msgf("coordinator: errored: %s", reason)
}

// authReason maps an authorization failure to the reason shown to the user.
func authReason(err error) string {
	var ae *auth.Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case auth.ErrorTimeout:
			return ReasonAuthTimeout
		case auth.ErrorDenied:
			return ReasonAuthDenied
		case auth.ErrorExchangeFailed:
			return ReasonExchangeFailed
		}
		return ae.Error()
	}
	return errors.Wrap(err, "authorization failed").Error()
}
