// Package auth provides bearer token acquisition for the Graph API.
//
// The exporter only requires a currently valid token per request; caching
// and refresh are delegated to the oauth2 client-credentials flow, which
// re-requests a token from Azure AD only when the cached one has expired.
package auth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenSource returns a currently valid bearer token, transparently
// refreshing when expired.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

const (
	authorityURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	defaultScope       = "https://graph.microsoft.com/.default"
)

// ClientCredentials authenticates as an Azure AD service principal
// (client id + secret within a tenant) and caches the issued token until
// it expires.
type ClientCredentials struct {
	source oauth2.TokenSource
}

// NewClientCredentials builds a token source for the given service
// principal. tenant may be a GUID or a friendly domain name.
func NewClientCredentials(clientID, clientSecret, tenant string) (*ClientCredentials, error) {
	if clientID == "" || clientSecret == "" || tenant == "" {
		return nil, fmt.Errorf("client id, client secret and tenant are required")
	}

	conf := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf(authorityURLFormat, tenant),
		Scopes:       []string{defaultScope},
	}

	// TokenSource wraps the flow in a reuse source, so a token is only
	// requested from the authority when the cached one expires.
	return &ClientCredentials{
		source: conf.TokenSource(context.Background()),
	}, nil
}

// Token returns the cached access token, requesting a fresh one from the
// authority if the cache is empty or expired.
func (c *ClientCredentials) Token(context.Context) (string, error) {
	tok, err := c.source.Token()
	if err != nil {
		return "", fmt.Errorf("acquire token: %w", err)
	}
	return tok.AccessToken, nil
}

// Static is a fixed-token source for tests and local development.
type Static string

// Token returns the static token.
func (s Static) Token(context.Context) (string, error) {
	return string(s), nil
}
