// Package main provides the tapedeck daemon entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tapedeck/internal/api/control"
	"github.com/osa030/tapedeck/internal/api/mpris"
	"github.com/osa030/tapedeck/internal/app/auth"
	"github.com/osa030/tapedeck/internal/app/session"
	"github.com/osa030/tapedeck/internal/app/streaming"
	"github.com/osa030/tapedeck/internal/infra/config"
	"github.com/osa030/tapedeck/internal/infra/keyring"
	"github.com/osa030/tapedeck/internal/infra/logger"
	"github.com/osa030/tapedeck/internal/infra/prefs"
	"github.com/osa030/tapedeck/internal/infra/spotify"
)

var (
	app        = kingpin.New("tapedeck", "tapedeck Spotify playback daemon")
	configPath = app.Flag("config", "Path to config file").Default("config/tapedeck.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stderr)").String()

	// list-backends command
	listBackendsCmd = app.Command("list-backends", "List available streaming backends and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the daemon (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Handle list-backends command
	if command == listBackendsCmd.FullCommand() {
		printBackends()
		return
	}

	// Initialize logger
	loggerConfig := logger.Config{Level: "info", File: *logfile}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	closeLog, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closeLog()

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	// Run daemon (defer ensures shutdown hooks are called)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Daemon error: %v", err)
		closeLog()
		os.Exit(1)
	}
}

// run executes the main daemon logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	oauth := spotify.OAuthConfig(spotify.OAuthOptions{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		Scopes:       cfg.Spotify.Scopes,
		AuthURL:      cfg.Spotify.AuthURL,
		TokenURL:     cfg.Spotify.TokenURL,
	})

	store, err := keyring.Open(cfg.Keyring.Backend, keyring.Config{
		Service: cfg.Keyring.Service,
		User:    cfg.Keyring.User,
	})
	if err != nil {
		return errors.Wrap(err, "failed to open credential store")
	}

	// Catalog client authenticates with whatever the store holds
	catalog, err := spotify.NewFromStore(spotify.Config{
		OAuth:             oauth,
		Market:            cfg.Spotify.Market,
		RequestsPerSecond: cfg.Spotify.RequestsPerSecond,
		BaseURL:           cfg.Spotify.APIBaseURL,
	}, store)
	if err != nil {
		return errors.Wrap(err, "failed to create Spotify client")
	}

	backend, err := streaming.NewBackend(cfg.Backend.Type, streaming.Deps{
		OAuth:  oauth,
		Market: cfg.Spotify.Market,
	}, cfg.Backend.Settings)
	if err != nil {
		return err
	}
	connector := streaming.NewConnector(backend, streaming.Config{
		ConnectTimeout:  cfg.Session.ConnectTimeout(),
		TeardownTimeout: cfg.Session.TeardownTimeout(),
	})

	flow := auth.NewFlow(auth.Config{
		OAuth:           oauth,
		ListenHost:      cfg.Auth.ListenHost,
		ListenPort:      cfg.Auth.ListenPort,
		CallbackPath:    cfg.Auth.CallbackPath,
		RedirectTimeout: cfg.Auth.RedirectTimeout(),
	}, store, consentOpener(cfg.Auth.NoBrowser))

	prefsPath := cfg.Prefs.Path
	if prefsPath == "" {
		if prefsPath, err = prefs.DefaultPath(); err != nil {
			zlog.Warn().Err(err).Msg("Preferences disabled")
		}
	}
	var saved prefs.Prefs
	if prefsPath != "" {
		saved = prefs.LoadOrEmpty(prefsPath)
	}

	coordinator := session.New(sessionConfig(cfg), session.Deps{
		Connector:  connector,
		Resolver:   catalog,
		Store:      store,
		Authorizer: flow,
	})
	if err := coordinator.Restore(saved.LastItem, saved.VolumeOrDefault()); err != nil {
		return err
	}

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- coordinator.Run(ctx)
	}()

	// Media-control bridge is optional
	if cfg.IsMPRISEnabled() {
		bridge := mpris.NewBridge(mpris.Config{
			BusName:            cfg.MPRIS.BusName,
			Identity:           cfg.MPRIS.Identity,
			DesktopEntry:       cfg.MPRIS.DesktopEntry,
			SeekCoalesceWindow: time.Duration(cfg.MPRIS.SeekCoalesceMs) * time.Millisecond,
			SeekedTolerance:    time.Duration(cfg.MPRIS.SeekedToleranceMs) * time.Millisecond,
			Quit:               stop,
		}, coordinator)
		if err := bridge.Start(ctx); err != nil {
			zlog.Warn().Err(err).Msg("MPRIS bridge unavailable, continuing without it")
		} else {
			defer bridge.Close()
		}
	}

	var server *control.Server
	var serverErrCh <-chan error
	if cfg.IsControlEnabled() {
		service := control.NewService(coordinator, catalog)
		server = control.NewServer(cfg.Control.Addr, service.Handler(cfg.Control.Token))
		if err := server.Start(); err != nil {
			stop()
			<-runErrCh
			return err
		}
		serverErrCh = server.Err()
	}

	// Execute startup hooks (after everything is running)
	executeHooks(cfg.Hooks.OnStarted, "on_started")

	var runErr error
	select {
	case <-ctx.Done():
		zlog.Info().Msg("Received shutdown signal...")
	case runErr = <-runErrCh:
		zlog.Info().Msg("Coordinator stopped, shutting down...")
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "control server error")
	}

	// Stop the coordinator first; it closes every state subscription
	stop()
	select {
	case err := <-runErrCh:
		if runErr == nil {
			runErr = err
		}
	case <-coordinator.Done():
	}

	if prefsPath != "" {
		prefs.SaveOrLog(prefsPath, prefs.FromState(saved, coordinator.Snapshot()))
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Msgf("Failed to shutdown control server: %v", err)
		}
	}

	zlog.Info().Msg("Daemon stopped")

	// Execute shutdown hooks
	executeHooks(cfg.Hooks.OnStopped, "on_stopped")

	return runErr
}

// sessionConfig maps the session section onto the coordinator configuration.
func sessionConfig(cfg *config.Config) session.Config {
	s := cfg.Session
	return session.Config{
		QueueSize:      s.QueueSize,
		CommandTimeout: s.CommandTimeout(),
		Backoff: session.Backoff{
			Base:       s.BackoffBase(),
			Cap:        s.BackoffCap(),
			Multiplier: s.BackoffMultiplier,
			Jitter:     s.BackoffJitter,
		},
		MaxAttempts:     s.MaxAttempts,
		SeekTolerance:   s.SeekTolerance(),
		SeekSettleTicks: s.SeekSettleTicks,
		AutoAdvance:     cfg.IsAutoAdvance(),
		TeardownTimeout: s.TeardownTimeout(),
	}
}

// consentOpener returns how the consent URL reaches the user.
func consentOpener(noBrowser bool) func(string) error {
	if !noBrowser {
		return nil
	}
	return func(url string) error {
		zlog.Info().Msgf("Open this URL to authorize tapedeck: %s", url)
		return nil
	}
}

// printBackends prints available streaming backends.
func printBackends() {
	fmt.Println("Available Backends:")
	for _, name := range streaming.Registered() {
		fmt.Printf("  %s\n", name)
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
