// Package main provides the Spotify authorization tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	"github.com/osa030/tapedeck/internal/app/auth"
	"github.com/osa030/tapedeck/internal/infra/config"
	"github.com/osa030/tapedeck/internal/infra/keyring"
	"github.com/osa030/tapedeck/internal/infra/logger"
	"github.com/osa030/tapedeck/internal/infra/spotify"
)

var (
	app        = kingpin.New("tapedeck-auth", "Spotify authorization tool for tapedeck")
	configPath = app.Flag("config", "Path to config file").Default("config/tapedeck.yaml").String()
	port       = app.Flag("port", "Callback server port (overrides config)").Int()
	noBrowser  = app.Flag("no-browser", "Print the consent URL instead of opening a browser").Bool()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()

	loginCmd  = app.Command("login", "Authorize tapedeck and store the credential (default)").Default()
	logoutCmd = app.Command("logout", "Delete the stored credential")
	statusCmd = app.Command("status", "Show whether a credential is stored")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse flags
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	level := "warn"
	if *verbose {
		level = "debug"
	}
	if _, err := logger.Init(logger.Config{Level: level}); err != nil {
		fail("Failed to initialize logger: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail("Failed to load config: %v", err)
	}

	store, err := keyring.Open(cfg.Keyring.Backend, keyring.Config{
		Service: cfg.Keyring.Service,
		User:    cfg.Keyring.User,
	})
	if err != nil {
		fail("Failed to open credential store: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case loginCmd.FullCommand():
		login(ctx, cfg, store)
	case logoutCmd.FullCommand():
		if err := store.Delete(ctx); err != nil {
			fail("Failed to delete credential: %v", err)
		}
		fmt.Println("Credential deleted.")
	case statusCmd.FullCommand():
		status(ctx, store)
	}
}

func login(ctx context.Context, cfg *config.Config, store keyring.CredentialStore) {
	listenPort := cfg.Auth.ListenPort
	if *port != 0 {
		listenPort = *port
	}

	flow := auth.NewFlow(auth.Config{
		OAuth: spotify.OAuthConfig(spotify.OAuthOptions{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Scopes:       cfg.Spotify.Scopes,
			AuthURL:      cfg.Spotify.AuthURL,
			TokenURL:     cfg.Spotify.TokenURL,
		}),
		ListenHost:      cfg.Auth.ListenHost,
		ListenPort:      listenPort,
		CallbackPath:    cfg.Auth.CallbackPath,
		RedirectTimeout: cfg.Auth.RedirectTimeout(),
	}, store, func(url string) error {
		fmt.Println("Please visit the following URL to authorize tapedeck:")
		fmt.Println("")
		fmt.Println(url)
		fmt.Println("")
		if !*noBrowser && !cfg.Auth.NoBrowser {
			if err := auth.OpenBrowser(url); err != nil {
				fmt.Printf("Could not open a browser: %v\n", err)
			}
		}
		fmt.Println("Waiting for authorization...")
		return nil
	})

	cred, err := flow.Acquire(ctx)
	if err != nil {
		fail("Authorization failed: %v", err)
	}

	fmt.Println("")
	fmt.Println("=== Authorization Successful ===")
	fmt.Println("")
	fmt.Printf("Credential stored in the %s keyring (service %q).\n", cfg.Keyring.Backend, cfg.Keyring.Service)
	if !cred.Expiry.IsZero() {
		fmt.Printf("Access token valid until %s; it is refreshed automatically.\n", cred.Expiry.Format(time.RFC3339))
	}
}

func status(ctx context.Context, store keyring.CredentialStore) {
	cred, ok, err := store.Load(ctx)
	if err != nil {
		fail("Failed to read credential: %v", err)
	}
	if !ok {
		fmt.Println("No credential stored. Run `tapedeck-auth login`.")
		os.Exit(1)
	}
	fmt.Printf("Credential stored: %s\n", cred)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
