// Package keyring persists the streaming credential in the OS secret store.
package keyring

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	gokeyring "github.com/zalando/go-keyring"

	"github.com/osa030/tapedeck/internal/domain/credential"
)

// DefaultService is the fixed service identifier of the secret.
const DefaultService = "tapedeck"

// Config represents credential store configuration.
type Config struct {
	Service string // Secret service identifier
	User    string // Account name under the service
}

// Store is the Credential Store backed by the OS secret service
// (Secret Service on Linux, Keychain on macOS, Credential Manager on Windows).
// Writes are serialized; a credential is saved as one complete blob.
type Store struct {
	mu      sync.Mutex
	service string
	user    string
}

// New creates a keyring-backed store.
func New(cfg Config) *Store {
	service := cfg.Service
	if service == "" {
		service = DefaultService
	}
	user := cfg.User
	if user == "" {
		user = "default"
	}
	return &Store{service: service, user: user}
}

// Load returns the stored credential. ok is false when nothing is stored.
func (s *Store) Load(ctx context.Context) (credential.Credential, bool, error) {
	if err := ctx.Err(); err != nil {
		return credential.Credential{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	secret, err := gokeyring.Get(s.service, s.user)
	if errors.Is(err, gokeyring.ErrNotFound) {
		zlog.Debug().Msgf("keyring: no credential stored: service=%s", s.service)
		return credential.Credential{}, false, nil
	}
	if err != nil {
		return credential.Credential{}, false, errors.Wrap(err, "failed to read credential from keyring")
	}

	cred, err := credential.Unmarshal([]byte(secret))
	if err != nil {
		return credential.Credential{}, false, err
	}
	zlog.Debug().Msgf("keyring: credential loaded: service=%s", s.service)
	return cred, true, nil
}

// Save stores the credential, replacing any previous one.
func (s *Store) Save(ctx context.Context, cred credential.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cred.IsZero() {
		return errors.New("refusing to store an empty credential")
	}

	blob, err := cred.Marshal()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := gokeyring.Set(s.service, s.user, string(blob)); err != nil {
		return errors.Wrap(err, "failed to write credential to keyring")
	}
	zlog.Info().Msgf("keyring: credential saved: service=%s", s.service)
	return nil
}

// Delete removes the stored credential. Deleting an absent credential succeeds.
func (s *Store) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := gokeyring.Delete(s.service, s.user)
	if err != nil && !errors.Is(err, gokeyring.ErrNotFound) {
		return errors.Wrap(err, "failed to delete credential from keyring")
	}
	zlog.Info().Msgf("keyring: credential deleted: service=%s", s.service)
	return nil
}
