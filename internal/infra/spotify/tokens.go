package spotify

import (
	"context"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/oauth2"

	"github.com/osa030/tapedeck/internal/domain/credential"
)

// ErrNoCredential is returned when the credential store holds nothing to authenticate with.
var ErrNoCredential = errors.New("no credential stored")

// CredentialLoader loads the stored credential.
type CredentialLoader interface {
	Load(ctx context.Context) (credential.Credential, bool, error)
}

// storeTokenSource serves access tokens from the credential store. The store is re-read
// whenever the cached token is no longer valid, so a new authorization is picked up
// without a restart.
type storeTokenSource struct {
	mu     sync.Mutex
	oauth  *oauth2.Config
	loader CredentialLoader
	cached *oauth2.Token
}

func (s *storeTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached.Valid() {
		return s.cached, nil
	}

	ctx := context.Background()
	cred, ok, err := s.loader.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load credential")
	}
	if !ok || cred.IsZero() {
		s.cached = nil
		return nil, ErrNoCredential
	}

	tok := cred.Token()
	if !tok.Valid() {
		if s.oauth == nil || tok.RefreshToken == "" {
			return nil, errors.New("stored credential has expired")
		}
		tok, err = s.oauth.TokenSource(ctx, tok).Token()
		if err != nil {
			return nil, errors.Wrap(err, "failed to refresh token")
		}
	}
	s.cached = tok
	return tok, nil
}

// NewFromStore creates a client that authenticates with whatever credential the store
// currently holds.
func NewFromStore(cfg Config, loader CredentialLoader) (*Client, error) {
	if loader == nil {
		return nil, errors.New("credential loader is required")
	}
	src := &storeTokenSource{oauth: cfg.OAuth, loader: loader}
	httpClient := &http.Client{Transport: &oauth2.Transport{Source: src}}
	return NewWithHTTPClient(httpClient, cfg), nil
}
