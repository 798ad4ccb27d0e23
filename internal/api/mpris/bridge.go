// Package mpris exposes the coordinator on the D-Bus session bus as an MPRIS media player.
package mpris

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tapedeck/internal/app/playback"
	"github.com/osa030/tapedeck/internal/app/session/state"
)

const (
	objectPath  = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	ifaceRoot   = "org.mpris.MediaPlayer2"
	ifacePlayer = "org.mpris.MediaPlayer2.Player"
	seekedName  = ifacePlayer + ".Seeked"

	// DefaultBusName is the well-known name requested on the session bus.
	DefaultBusName = "org.mpris.MediaPlayer2.tapedeck"
)

// StateSource publishes playback snapshots.
type StateSource interface {
	Subscribe(ctx context.Context) <-chan state.PlaybackState
	Snapshot() state.PlaybackState
}

// Config configures the bridge.
type Config struct {
	BusName            string
	Identity           string
	DesktopEntry       string
	SeekCoalesceWindow time.Duration
	// SeekedTolerance is the position discrepancy that counts as a jump.
	SeekedTolerance time.Duration
	// Quit, when set, is called for org.mpris.MediaPlayer2.Quit.
	Quit func()
}

// Controller is the coordinator surface the bridge needs.
type Controller interface {
	Submitter
	StateSource
}

// Bridge mirrors coordinator snapshots onto MPRIS properties and forwards method calls.
type Bridge struct {
	cfg        Config
	controller Controller
	seeks      *SeekCoalescer

	conn  *dbus.Conn
	props *prop.Properties

	wg sync.WaitGroup
}

// NewBridge creates a bridge. Start connects it to the bus.
func NewBridge(cfg Config, controller Controller) *Bridge {
	if cfg.BusName == "" {
		cfg.BusName = DefaultBusName
	}
	if cfg.Identity == "" {
		cfg.Identity = "tapedeck"
	}
	if cfg.SeekedTolerance <= 0 {
		cfg.SeekedTolerance = 1500 * time.Millisecond
	}
	b := &Bridge{cfg: cfg, controller: controller}
	b.seeks = NewSeekCoalescer(cfg.SeekCoalesceWindow,
		func() time.Duration { return controller.Snapshot().Position },
		func(target time.Duration) {
			if err := controller.Submit(playback.Seek(target)); err != nil {
				zlog.Warn().Err(err).Msgf("mpris: seek rejected: target=%s", target)
			}
		})
	return b
}

// Start connects to the session bus, exports the objects and mirrors snapshots until
// ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return errors.Wrap(err, "failed to connect to session bus")
	}
	if err := b.export(conn); err != nil {
		conn.Close()
		return err
	}
	reply, err := conn.RequestName(b.cfg.BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return errors.Wrapf(err, "failed to request bus name %s", b.cfg.BusName)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return errors.Newf("bus name already taken: %s", b.cfg.BusName)
	}
	b.conn = conn
	zlog.Info().Msgf("mpris: bridge started: name=%s", b.cfg.BusName)

	updates := b.controller.Subscribe(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.mirror(updates)
	}()
	return nil
}

// Close releases the bus connection. The mirror stops when its subscription closes.
func (b *Bridge) Close() error {
	b.seeks.Close()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.wg.Wait()
	return err
}

func (b *Bridge) export(conn *dbus.Conn) error {
	r := &root{quit: b.cfg.Quit}
	p := &player{
		submitter: b.controller,
		seeks:     b.seeks,
		current:   func() dbus.ObjectPath { return trackPath(b.controller.Snapshot()) },
		length:    func() time.Duration { return b.controller.Snapshot().Duration() },
	}

	if err := conn.Export(r, objectPath, ifaceRoot); err != nil {
		return errors.Wrap(err, "failed to export root interface")
	}
	if err := conn.Export(p, objectPath, ifacePlayer); err != nil {
		return errors.Wrap(err, "failed to export player interface")
	}

	props, err := prop.Export(conn, objectPath, b.propertyMap(b.controller.Snapshot()))
	if err != nil {
		return errors.Wrap(err, "failed to export properties")
	}
	b.props = props

	node := &introspect.Node{
		Name: string(objectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       ifaceRoot,
				Methods:    introspect.Methods(r),
				Properties: props.Introspection(ifaceRoot),
			},
			{
				Name:       ifacePlayer,
				Methods:    introspect.Methods(p),
				Properties: props.Introspection(ifacePlayer),
				Signals: []introspect.Signal{{
					Name: "Seeked",
					Args: []introspect.Arg{{Name: "Position", Type: "x"}},
				}},
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), objectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return errors.Wrap(err, "failed to export introspection")
	}
	return nil
}

func (b *Bridge) propertyMap(s state.PlaybackState) prop.Map {
	rootProps := map[string]*prop.Prop{
		"Identity":            {Value: b.cfg.Identity, Emit: prop.EmitConst},
		"DesktopEntry":        {Value: b.cfg.DesktopEntry, Emit: prop.EmitConst},
		"CanQuit":             {Value: b.cfg.Quit != nil, Emit: prop.EmitConst},
		"CanRaise":            {Value: false, Emit: prop.EmitConst},
		"HasTrackList":        {Value: false, Emit: prop.EmitConst},
		"SupportedUriSchemes": {Value: []string{"spotify", "https"}, Emit: prop.EmitConst},
		"SupportedMimeTypes":  {Value: []string{}, Emit: prop.EmitConst},
	}

	playerProps := map[string]*prop.Prop{
		"LoopStatus":  {Value: "None", Emit: prop.EmitTrue},
		"Shuffle":     {Value: false, Emit: prop.EmitTrue},
		"Rate":        {Value: 1.0, Emit: prop.EmitTrue},
		"MinimumRate": {Value: 1.0, Emit: prop.EmitConst},
		"MaximumRate": {Value: 1.0, Emit: prop.EmitConst},
		"CanControl":  {Value: true, Emit: prop.EmitConst},
	}
	for name, v := range playerProperties(s) {
		p := &prop.Prop{Value: v, Emit: prop.EmitTrue}
		switch name {
		case "Position":
			p.Emit = prop.EmitFalse
		case "Volume":
			p.Writable = true
			p.Callback = b.onVolume
		}
		playerProps[name] = p
	}

	return prop.Map{ifaceRoot: rootProps, ifacePlayer: playerProps}
}

func (b *Bridge) onVolume(c *prop.Change) *dbus.Error {
	level, ok := c.Value.(float64)
	if !ok {
		return dbus.MakeFailedError(errors.Newf("volume must be a double, got %T", c.Value))
	}
	if err := b.controller.Submit(playback.SetVolume(level)); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (b *Bridge) mirror(updates <-chan state.PlaybackState) {
	prev := b.controller.Snapshot()
	prevAt := time.Now()
	for s := range updates {
		now := time.Now()
		err := b.publish(prev, s, now.Sub(prevAt))
		if err != nil {
			if b.disconnected(err) {
				zlog.Warn().Err(err).Msg("mpris: bus connection lost, mirroring stopped")
				return
			}
			zlog.Debug().Err(err).Msg("mpris: failed to publish properties")
		}
		prev, prevAt = s, now
	}
}

// publish stores the properties of s and emits the change signals.
func (b *Bridge) publish(prev, s state.PlaybackState, elapsed time.Duration) error {
	for name, v := range changedProperties(prev, s) {
		if err := b.setProperty(name, v); err != nil {
			return err
		}
	}
	if err := b.setProperty("Position", microseconds(s.Position)); err != nil {
		return err
	}
	if seekJump(prev, s, elapsed, b.cfg.SeekedTolerance) {
		if err := b.conn.Emit(objectPath, seekedName, microseconds(s.Position)); err != nil {
			return errors.Wrap(err, "failed to emit Seeked")
		}
	}
	return nil
}

// setProperty stores a player property. SetMust panics when PropertiesChanged
// cannot be emitted; the panic is returned as an error.
func (b *Bridge) setProperty(name string, v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = errors.Wrapf(e, "failed to set %s", name)
				return
			}
			err = errors.Newf("failed to set %s: %v", name, r)
		}
	}()
	b.props.SetMust(ifacePlayer, name, v)
	return nil
}

func (b *Bridge) disconnected(err error) bool {
	return errors.Is(err, dbus.ErrClosed) || !b.conn.Connected()
}
