package keyring

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/tapedeck/internal/domain/credential"
)

// MemoryStore keeps the credential in process memory.
// It is used on hosts without a secret service and in tests.
type MemoryStore struct {
	mu   sync.Mutex
	cred *credential.Credential

	// Failure injection.
	LoadErr   error
	SaveErr   error
	DeleteErr error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored credential.
func (m *MemoryStore) Load(ctx context.Context) (credential.Credential, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return credential.Credential{}, false, m.LoadErr
	}
	if m.cred == nil {
		return credential.Credential{}, false, nil
	}
	return *m.cred, true, nil
}

// Save stores the credential.
func (m *MemoryStore) Save(ctx context.Context, cred credential.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	if cred.IsZero() {
		return errors.New("refusing to store an empty credential")
	}
	c := cred
	m.cred = &c
	return nil
}

// Delete removes the credential.
func (m *MemoryStore) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.cred = nil
	return nil
}

// Has reports whether a credential is stored.
func (m *MemoryStore) Has() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred != nil
}
