package credential

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestCredential_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		cred     Credential
		expected bool
	}{
		{name: "zero credential", cred: Credential{}, expected: true},
		{name: "refresh token keeps it usable", cred: Credential{AccessToken: "a", RefreshToken: "r", Expiry: now.Add(-time.Hour)}, expected: false},
		{name: "access token still valid", cred: Credential{AccessToken: "a", Expiry: now.Add(time.Hour)}, expected: false},
		{name: "access token expired without refresh", cred: Credential{AccessToken: "a", Expiry: now.Add(-time.Second)}, expected: true},
		{name: "no expiry recorded", cred: Credential{AccessToken: "a"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cred.Expired(now))
		})
	}
}

func TestCredential_RoundTripToken(t *testing.T) {
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer", Expiry: expiry}

	c := FromToken(tok)
	back := c.Token()
	assert.Equal(t, tok.AccessToken, back.AccessToken)
	assert.Equal(t, tok.RefreshToken, back.RefreshToken)
	assert.True(t, expiry.Equal(back.Expiry))
}

func TestCredential_StringRedactsSecrets(t *testing.T) {
	c := Credential{AccessToken: "very-secret-access", RefreshToken: "very-secret-refresh"}

	for _, s := range []string{c.String(), fmt.Sprintf("%v", c), fmt.Sprintf("%#v", c), fmt.Sprintf("%+v", c)} {
		assert.NotContains(t, s, "very-secret")
	}
}

func TestUnmarshal(t *testing.T) {
	c := Credential{AccessToken: "a", RefreshToken: "r"}
	blob, err := c.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(blob)
	require.NoError(t, err)
	assert.Equal(t, c.AccessToken, got.AccessToken)

	_, err = Unmarshal([]byte(`{}`))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`not json`))
	assert.Error(t, err)
}
