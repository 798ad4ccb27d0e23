// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Spotify SpotifyConfig `yaml:"spotify"`
	Auth    AuthConfig    `yaml:"auth"`
	Keyring KeyringConfig `yaml:"keyring"`
	Session SessionConfig `yaml:"session"`
	Backend BackendConfig `yaml:"backend"`
	MPRIS   MPRISConfig   `yaml:"mpris"`
	Control ControlConfig `yaml:"control"`
	Prefs   PrefsConfig   `yaml:"prefs"`
	Hooks   HooksConfig   `yaml:"hooks"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID          string   `yaml:"client_id" validate:"required"`
	ClientSecret      string   `yaml:"client_secret" validate:"required"`
	Market            string   `yaml:"market" validate:"omitempty,len=2" default:"JP"`
	Scopes            []string `yaml:"scopes"`
	AuthURL           string   `yaml:"auth_url" validate:"omitempty,url"`
	TokenURL          string   `yaml:"token_url" validate:"omitempty,url"`
	APIBaseURL        string   `yaml:"api_base_url" validate:"omitempty,url"`
	RequestsPerSecond float64  `yaml:"requests_per_second" default:"5" validate:"gt=0"`
}

// AuthConfig represents the authorization flow configuration.
type AuthConfig struct {
	ListenHost         string `yaml:"listen_host" default:"127.0.0.1" validate:"required"`
	ListenPort         int    `yaml:"listen_port" default:"8888" validate:"gte=0,lte=65535"`
	CallbackPath       string `yaml:"callback_path" default:"/callback" validate:"startswith=/"`
	RedirectTimeoutSec int    `yaml:"redirect_timeout_sec" default:"120" validate:"gte=1,lte=3600"`
	NoBrowser          bool   `yaml:"no_browser"`
}

// RedirectTimeout returns the time allowed for the browser redirect.
func (a AuthConfig) RedirectTimeout() time.Duration {
	return time.Duration(a.RedirectTimeoutSec) * time.Second
}

// KeyringConfig represents credential store configuration.
type KeyringConfig struct {
	Backend string `yaml:"backend" default:"system" validate:"oneof=system memory"`
	Service string `yaml:"service" default:"tapedeck" validate:"required"`
	User    string `yaml:"user" default:"default" validate:"required"`
}

// SessionConfig represents coordinator configuration.
type SessionConfig struct {
	QueueSize         int     `yaml:"queue_size" default:"64" validate:"gte=1,lte=4096"`
	CommandTimeoutMs  int     `yaml:"command_timeout_ms" default:"10000" validate:"gte=100"`
	ConnectTimeoutMs  int     `yaml:"connect_timeout_ms" default:"15000" validate:"gte=100"`
	TeardownTimeoutMs int     `yaml:"teardown_timeout_ms" default:"3000" validate:"gte=100"`
	BackoffBaseMs     int     `yaml:"backoff_base_ms" default:"500" validate:"gte=1"`
	BackoffCapMs      int     `yaml:"backoff_cap_ms" default:"30000" validate:"gtefield=BackoffBaseMs"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier" default:"2" validate:"gt=1"`
	BackoffJitter     float64 `yaml:"backoff_jitter" default:"0.2" validate:"gte=0,lte=1"`
	MaxAttempts       int     `yaml:"max_attempts" default:"5" validate:"gte=1,lte=100"`
	SeekToleranceMs   int     `yaml:"seek_tolerance_ms" default:"1500" validate:"gte=0"`
	SeekSettleTicks   int     `yaml:"seek_settle_ticks" default:"3" validate:"gte=0"`
	AutoAdvance       *bool   `yaml:"auto_advance" default:"true"`
}

// BackendConfig represents the streaming backend selection.
// Settings are decoded by the backend itself.
type BackendConfig struct {
	Type     string         `yaml:"type" default:"spotify_connect" validate:"required"`
	Settings map[string]any `yaml:"settings"`
}

// MPRISConfig represents the media-control bridge configuration.
type MPRISConfig struct {
	Enabled           *bool  `yaml:"enabled" default:"true"`
	BusName           string `yaml:"bus_name" default:"org.mpris.MediaPlayer2.tapedeck" validate:"startswith=org.mpris.MediaPlayer2."`
	Identity          string `yaml:"identity" default:"tapedeck"`
	DesktopEntry      string `yaml:"desktop_entry"`
	SeekCoalesceMs    int    `yaml:"seek_coalesce_ms" default:"250" validate:"gte=0,lte=5000"`
	SeekedToleranceMs int    `yaml:"seeked_tolerance_ms" default:"1500" validate:"gte=0"`
}

// ControlConfig represents the local control API configuration.
type ControlConfig struct {
	Enabled *bool  `yaml:"enabled" default:"true"`
	Addr    string `yaml:"addr" default:"127.0.0.1:7878" validate:"required"`
	Token   string `yaml:"token"`
}

// PrefsConfig represents the preferences file location. Empty means the user config dir.
type PrefsConfig struct {
	Path string `yaml:"path"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("TAPEDECK_CONTROL_TOKEN"); v != "" {
		c.Control.Token = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// IsMPRISEnabled reports whether the media-control bridge should run.
func (c *Config) IsMPRISEnabled() bool {
	return c.MPRIS.Enabled == nil || *c.MPRIS.Enabled
}

// IsControlEnabled reports whether the control API should be served.
func (c *Config) IsControlEnabled() bool {
	return c.Control.Enabled == nil || *c.Control.Enabled
}

// IsAutoAdvance reports whether the queue advances when an item ends.
func (c *Config) IsAutoAdvance() bool {
	return c.Session.AutoAdvance == nil || *c.Session.AutoAdvance
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// CommandTimeout returns the per-command backend timeout.
func (s SessionConfig) CommandTimeout() time.Duration { return ms(s.CommandTimeoutMs) }

// ConnectTimeout returns the per-attempt connect timeout.
func (s SessionConfig) ConnectTimeout() time.Duration { return ms(s.ConnectTimeoutMs) }

// TeardownTimeout returns the grace period for closing a session.
func (s SessionConfig) TeardownTimeout() time.Duration { return ms(s.TeardownTimeoutMs) }

// BackoffBase returns the first reconnect delay.
func (s SessionConfig) BackoffBase() time.Duration { return ms(s.BackoffBaseMs) }

// BackoffCap returns the maximum reconnect delay.
func (s SessionConfig) BackoffCap() time.Duration { return ms(s.BackoffCapMs) }

// SeekTolerance returns the window within which a tick confirms a seek.
func (s SessionConfig) SeekTolerance() time.Duration { return ms(s.SeekToleranceMs) }
