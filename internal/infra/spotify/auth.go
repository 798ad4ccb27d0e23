package spotify

import (
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

// DefaultScopes are the scopes tapedeck needs for playback control and catalog lookups.
var DefaultScopes = []string{
	spotifyauth.ScopeUserReadPlaybackState,
	spotifyauth.ScopeUserModifyPlaybackState,
	spotifyauth.ScopeUserReadCurrentlyPlaying,
	spotifyauth.ScopeStreaming,
	spotifyauth.ScopePlaylistReadPrivate,
}

// OAuthOptions configures the Spotify OAuth client.
type OAuthOptions struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	AuthURL      string // Override for the consent endpoint
	TokenURL     string // Override for the token endpoint
}

// OAuthConfig builds the OAuth2 client configuration shared by the authorization flow
// and the token refresh of the Web API client.
func OAuthConfig(opts OAuthOptions) *oauth2.Config {
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	authURL := opts.AuthURL
	if authURL == "" {
		authURL = spotifyauth.AuthURL
	}
	tokenURL := opts.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyauth.TokenURL
	}
	return &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
	}
}
