package mpris

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/godbus/dbus/v5"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tapedeck/internal/app/playback"
	"github.com/osa030/tapedeck/internal/domain/track"
)

// Submitter accepts playback commands.
type Submitter interface {
	Submit(cmd playback.Command) error
}

// root implements org.mpris.MediaPlayer2. Only D-Bus methods are exported.
type root struct {
	quit func()
}

func (r *root) Raise() *dbus.Error {
	return nil
}

func (r *root) Quit() *dbus.Error {
	if r.quit != nil {
		r.quit()
	}
	return nil
}

// player implements org.mpris.MediaPlayer2.Player. Only D-Bus methods are exported.
type player struct {
	submitter Submitter
	seeks     *SeekCoalescer
	current   func() dbus.ObjectPath
	length    func() time.Duration
}

func (p *player) submit(cmd playback.Command) *dbus.Error {
	if err := p.submitter.Submit(cmd); err != nil {
		zlog.Warn().Err(err).Msgf("mpris: command rejected: type=%s", cmd.Type)
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (p *player) Play() *dbus.Error {
	return p.submit(playback.Play(""))
}

func (p *player) Pause() *dbus.Error {
	return p.submit(playback.Pause())
}

func (p *player) PlayPause() *dbus.Error {
	return p.submit(playback.TogglePlayPause())
}

func (p *player) Stop() *dbus.Error {
	return p.submit(playback.Stop())
}

func (p *player) Next() *dbus.Error {
	return p.submit(playback.Next())
}

func (p *player) Previous() *dbus.Error {
	return p.submit(playback.Previous())
}

// Seek moves the position by offset microseconds. Seeking past the end of the
// track skips to the next one.
func (p *player) Seek(offset int64) *dbus.Error {
	if !p.seeks.RelativeWithin(time.Duration(offset)*time.Microsecond, p.length()) {
		return p.submit(playback.Next())
	}
	return nil
}

// SetPosition seeks to position microseconds when trackID is the current track.
func (p *player) SetPosition(trackID dbus.ObjectPath, position int64) *dbus.Error {
	if position < 0 || trackID != p.current() {
		return nil
	}
	p.seeks.Absolute(time.Duration(position) * time.Microsecond)
	return nil
}

// OpenUri plays a spotify track URI or open.spotify.com track URL.
func (p *player) OpenUri(uri string) *dbus.Error {
	if !strings.HasPrefix(uri, "spotify:track:") && !strings.Contains(uri, "open.spotify.com") {
		return dbus.MakeFailedError(errors.Newf("unsupported uri: %s", uri))
	}
	ref := track.Ref(uri)
	if ref.ID() == "" {
		return dbus.MakeFailedError(errors.Newf("unsupported uri: %s", uri))
	}
	return p.submit(playback.Play(ref))
}
