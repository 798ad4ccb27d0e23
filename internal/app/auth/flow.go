// Package auth implements the interactive authorization flow that produces
// the streaming credential.
package auth

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/osa030/tapedeck/internal/domain/credential"
)

// CredentialSaver persists a freshly acquired credential.
type CredentialSaver interface {
	Save(ctx context.Context, cred credential.Credential) error
}

// Config represents authorization flow configuration.
type Config struct {
	OAuth           *oauth2.Config // Client, endpoint and scopes; RedirectURL is set per run
	ListenHost      string         // Callback listener host
	ListenPort      int            // 0 picks an ephemeral port
	CallbackPath    string         // Redirect path
	RedirectTimeout time.Duration  // Hard limit for the redirect wait
}

// Flow runs the authorization code exchange.
type Flow struct {
	config  Config
	store   CredentialSaver
	openURL func(string) error
}

// NewFlow creates an authorization flow. openURL is called with the consent URL;
// nil uses OpenBrowser.
func NewFlow(cfg Config, store CredentialSaver, openURL func(string) error) *Flow {
	if cfg.ListenHost == "" {
		cfg.ListenHost = "127.0.0.1"
	}
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = "/callback"
	}
	if cfg.RedirectTimeout <= 0 {
		cfg.RedirectTimeout = 2 * time.Minute
	}
	if openURL == nil {
		openURL = OpenBrowser
	}
	return &Flow{config: cfg, store: store, openURL: openURL}
}

// Acquire obtains a new credential interactively and persists it.
// The callback listener exists only for the duration of the call.
func (f *Flow) Acquire(ctx context.Context) (credential.Credential, error) {
	if f.config.OAuth == nil {
		return credential.Credential{}, &Error{Kind: ErrorListener, Err: errors.New("oauth client is not configured")}
	}

	addr := net.JoinHostPort(f.config.ListenHost, strconv.Itoa(f.config.ListenPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return credential.Credential{}, &Error{Kind: ErrorListener, Err: errors.Wrapf(err, "failed to listen on %s", addr)}
	}

	port := ln.Addr().(*net.TCPAddr).Port
	redirect := (&url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(f.config.ListenHost, strconv.Itoa(port)),
		Path:   f.config.CallbackPath,
	}).String()

	oauthCfg := *f.config.OAuth
	oauthCfg.RedirectURL = redirect

	handler := newCallbackHandler(f.config.CallbackPath)
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			zlog.Error().Msgf("auth: callback server failed: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zlog.Warn().Msgf("auth: failed to shutdown callback server: %v", err)
			_ = server.Close()
		}
		zlog.Debug().Msgf("auth: callback listener closed: port=%d", port)
	}()

	state := uuid.New().String()
	consentURL := oauthCfg.AuthCodeURL(state)

	zlog.Info().Msgf("auth: waiting for authorization redirect: redirect=%s timeout=%v", redirect, f.config.RedirectTimeout)
	if err := f.openURL(consentURL); err != nil {
		zlog.Warn().Msgf("auth: could not open browser: %v", err)
		zlog.Info().Msgf("auth: visit the following URL to authorize tapedeck: %s", consentURL)
	}

	timer := time.NewTimer(f.config.RedirectTimeout)
	defer timer.Stop()

	var res callbackResult
	select {
	case res = <-handler.result:
	case <-timer.C:
		zlog.Warn().Msgf("auth: no redirect within %v", f.config.RedirectTimeout)
		return credential.Credential{}, &Error{Kind: ErrorTimeout}
	case <-ctx.Done():
		return credential.Credential{}, &Error{Kind: ErrorCanceled, Err: ctx.Err()}
	}

	if res.state != state {
		return credential.Credential{}, &Error{Kind: ErrorStateMismatch}
	}
	if res.errCode != "" || res.code == "" {
		reason := res.errCode
		if reason == "" {
			reason = "no authorization code"
		}
		if res.errDesc != "" {
			reason += " - " + res.errDesc
		}
		zlog.Warn().Msgf("auth: authorization refused: %s", reason)
		return credential.Credential{}, &Error{Kind: ErrorDenied, Err: errors.New(reason)}
	}

	tok, err := oauthCfg.Exchange(ctx, res.code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			err = errors.Newf("token endpoint returned %d", re.Response.StatusCode)
		}
		return credential.Credential{}, &Error{Kind: ErrorExchangeFailed, Err: err}
	}

	cred := credential.FromToken(tok)
	if err := f.store.Save(ctx, cred); err != nil {
		return credential.Credential{}, &Error{Kind: ErrorPersist, Err: err}
	}

	zlog.Info().Msg("auth: authorization complete")
	return cred, nil
}
