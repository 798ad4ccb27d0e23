package keyring

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gokeyring "github.com/zalando/go-keyring"

	"github.com/osa030/tapedeck/internal/domain/credential"
)

func TestStore_SaveLoadDelete(t *testing.T) {
	gokeyring.MockInit()
	ctx := context.Background()
	s := New(Config{Service: "tapedeck-test", User: "me"})

	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	cred := credential.Credential{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer"}
	require.NoError(t, s.Save(ctx, cred))

	got, ok, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "refresh", got.RefreshToken)

	require.NoError(t, s.Delete(ctx))
	_, ok, err = s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.Delete(ctx), "deleting an absent credential succeeds")
}

func TestStore_SaveOverwrites(t *testing.T) {
	gokeyring.MockInit()
	ctx := context.Background()
	s := New(Config{})

	require.NoError(t, s.Save(ctx, credential.Credential{AccessToken: "one"}))
	require.NoError(t, s.Save(ctx, credential.Credential{AccessToken: "two"}))

	got, ok, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "two", got.AccessToken)
}

func TestStore_ConcurrentSaveNeverPartial(t *testing.T) {
	gokeyring.MockInit()
	ctx := context.Background()
	s := New(Config{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Save(ctx, credential.Credential{AccessToken: "a", RefreshToken: "r"})
		}()
		go func() {
			defer wg.Done()
			_, _, err := s.Load(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestStore_RejectsEmptyCredential(t *testing.T) {
	gokeyring.MockInit()
	assert.Error(t, New(Config{}).Save(context.Background(), credential.Credential{}))
}

func TestStore_BackendError(t *testing.T) {
	gokeyring.MockInitWithError(errors.New("secret service locked"))
	ctx := context.Background()
	s := New(Config{})

	_, _, err := s.Load(ctx)
	assert.ErrorContains(t, err, "failed to read credential")
	assert.Error(t, s.Save(ctx, credential.Credential{AccessToken: "a"}))
	assert.Error(t, s.Delete(ctx))
}

func TestStore_CorruptBlob(t *testing.T) {
	gokeyring.MockInit()
	require.NoError(t, gokeyring.Set(DefaultService, "default", "garbage"))

	_, ok, err := New(Config{}).Load(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	require.NoError(t, m.Save(ctx, credential.Credential{AccessToken: "a"}))
	assert.True(t, m.Has())

	m.DeleteErr = errors.New("boom")
	assert.Error(t, m.Delete(ctx))
	assert.True(t, m.Has())

	m.DeleteErr = nil
	require.NoError(t, m.Delete(ctx))
	assert.False(t, m.Has())
}

func TestOpen(t *testing.T) {
	s, err := Open(BackendSystem, Config{})
	require.NoError(t, err)
	assert.IsType(t, &Store{}, s)

	s, err = Open(BackendMemory, Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open("file", Config{})
	assert.Error(t, err)
}
