// Package prefs persists user preferences between runs: the last item, the volume and
// the GUI window geometry.
package prefs

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/osa030/tapedeck/internal/app/session/state"
	"github.com/osa030/tapedeck/internal/domain/track"
)

// DefaultVolume is used when no preference file exists.
const DefaultVolume = 0.5

// Window is the last GUI window geometry.
type Window struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Prefs represents the preference file.
type Prefs struct {
	LastItem track.Ref `yaml:"last_item,omitempty"`
	Volume   *float64  `yaml:"volume,omitempty"`
	Window   *Window   `yaml:"window,omitempty"`
}

// VolumeOrDefault returns the stored volume clamped to [0,1], or DefaultVolume.
func (p Prefs) VolumeOrDefault() float64 {
	if p.Volume == nil {
		return DefaultVolume
	}
	return state.ClampVolume(*p.Volume)
}

// DefaultPath returns the preference file under the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to locate user config directory")
	}
	return filepath.Join(dir, "tapedeck", "prefs.yaml"), nil
}

// Load reads the preference file. A missing file yields empty preferences.
func Load(path string) (Prefs, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Prefs{}, nil
	}
	if err != nil {
		return Prefs{}, errors.Wrap(err, "failed to read preferences")
	}

	var p Prefs
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Prefs{}, errors.Wrap(err, "failed to parse preferences")
	}
	return p, nil
}

// Save writes the preference file atomically.
func Save(path string, p Prefs) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "failed to encode preferences")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(err, "failed to create preferences directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".prefs-*.yaml")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary preferences file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write preferences")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to write preferences")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "failed to replace preferences")
	}
	return nil
}

// FromState returns p updated with the last item and volume of a snapshot.
func FromState(p Prefs, s state.PlaybackState) Prefs {
	if s.Item != nil {
		p.LastItem = track.Ref(s.Item.ID)
	}
	volume := s.Volume
	p.Volume = &volume
	return p
}

// LoadOrEmpty reads preferences, logging and ignoring failures.
func LoadOrEmpty(path string) Prefs {
	p, err := Load(path)
	if err != nil {
		zlog.Warn().Err(err).Msgf("prefs: ignoring unreadable preferences: path=%s", path)
		return Prefs{}
	}
	zlog.Debug().Msgf("prefs: loaded: path=%s last_item=%s", path, p.LastItem)
	return p
}

// SaveOrLog writes preferences, logging failures.
func SaveOrLog(path string, p Prefs) {
	if err := Save(path, p); err != nil {
		zlog.Warn().Err(err).Msgf("prefs: failed to save preferences: path=%s", path)
		return
	}
	zlog.Debug().Msgf("prefs: saved: path=%s", path)
}
