// Package credential provides the Credential value used to open streaming sessions.
package credential

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/oauth2"
)

// Credential is the long-lived secret persisted in the OS secret store.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// FromToken converts an OAuth2 token into a Credential.
func FromToken(tok *oauth2.Token) Credential {
	return Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
}

// Token converts the Credential into an OAuth2 token.
func (c Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

// IsZero reports whether the credential carries no secret at all.
func (c Credential) IsZero() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// Expired reports whether the credential can no longer open a session on its own.
// A refresh token keeps the credential usable after the access token expires.
func (c Credential) Expired(now time.Time) bool {
	if c.IsZero() {
		return true
	}
	if c.RefreshToken != "" {
		return false
	}
	return !c.Expiry.IsZero() && !now.Before(c.Expiry)
}

// String redacts the secret values.
func (c Credential) String() string {
	return fmt.Sprintf("credential{refresh=%t expiry=%s}", c.RefreshToken != "", c.Expiry.Format(time.RFC3339))
}

// GoString redacts the secret values for %#v.
func (c Credential) GoString() string {
	return c.String()
}

// Marshal encodes the credential as an opaque blob.
func (c Credential) Marshal() ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode credential")
	}
	return b, nil
}

// Unmarshal decodes a blob produced by Marshal.
func Unmarshal(data []byte) (Credential, error) {
	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return Credential{}, errors.Wrap(err, "failed to decode credential")
	}
	if c.IsZero() {
		return Credential{}, errors.New("credential blob is empty")
	}
	return c, nil
}
