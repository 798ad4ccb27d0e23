package keyring

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tapedeck/internal/domain/credential"
)

// Backend names accepted by Open.
const (
	BackendSystem = "system"
	BackendMemory = "memory"
)

// CredentialStore loads, saves and deletes the single stored credential.
type CredentialStore interface {
	Load(ctx context.Context) (credential.Credential, bool, error)
	Save(ctx context.Context, cred credential.Credential) error
	Delete(ctx context.Context) error
}

var (
	_ CredentialStore = (*Store)(nil)
	_ CredentialStore = (*MemoryStore)(nil)
)

// Open creates the credential store for backend.
func Open(backend string, cfg Config) (CredentialStore, error) {
	switch backend {
	case BackendSystem, "":
		return New(cfg), nil
	case BackendMemory:
		zlog.Warn().Msg("keyring: using in-memory credential store, authorization is lost on exit")
		return NewMemoryStore(), nil
	default:
		return nil, errors.Newf("unsupported keyring backend: %s", backend)
	}
}
