// Package credentials obtains and persists the OAuth2 credential bundle used
// for the spreadsheet API.
package credentials

import (
	"time"

	"golang.org/x/oauth2"
)

// expirySkew treats tokens as expired slightly early, matching oauth2.
const expirySkew = 10 * time.Second

// Credentials is the token file contents: an access/refresh token pair plus
// what is needed to refresh it without the client secrets file.
type Credentials struct {
	AccessToken  string    `json:"token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	TokenURI     string    `json:"token_uri,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
}

// Expired reports whether the access token has a known expiry that has passed.
func (c *Credentials) Expired(now time.Time) bool {
	if c == nil || c.Expiry.IsZero() {
		return false
	}
	return !c.Expiry.After(now.Add(expirySkew))
}

// Valid reports whether the credentials can be sent to the API as they are.
func (c *Credentials) Valid(now time.Time) bool {
	return c != nil && c.AccessToken != "" && !c.Expired(now)
}

// Token converts the bundle to an oauth2 token.
func (c *Credentials) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    c.TokenType,
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry,
	}
}

// withToken returns a copy of c carrying tok. An empty refresh token in tok
// keeps the existing one.
func (c *Credentials) withToken(tok *oauth2.Token) *Credentials {
	next := *c
	next.AccessToken = tok.AccessToken
	next.TokenType = tok.TokenType
	next.Expiry = tok.Expiry
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	next.Scopes = append([]string(nil), c.Scopes...)
	return &next
}

// oauthConfig is the client configuration recorded in the bundle.
func (c *Credentials) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: c.TokenURI},
		Scopes:       c.Scopes,
	}
}
