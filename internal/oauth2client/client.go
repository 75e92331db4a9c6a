// Package oauth2client implements the OAuth refresher over the standard
// token-endpoint grant. It knows nothing about deduplication or storage; the
// refresh orchestrator owns those concerns and calls this to do the actual
// exchange.
package oauth2client

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"connector-hub/internal/common/errors"
	"connector-hub/internal/common/logging"
	"connector-hub/internal/tokenstore"
)

// ProviderConfig holds the OAuth client registration for one provider
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string
}

// Client exchanges refresh tokens against provider token endpoints
type Client struct {
	providers  map[string]ProviderConfig
	httpClient *http.Client
	logger     logging.Logger
}

// New creates a refresher for the given provider registrations. logger may
// be nil.
func New(providers map[string]ProviderConfig, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Client{providers: providers, logger: logger}
}

// SetHTTPClient overrides the HTTP client used for token-endpoint calls,
// for tests
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Refresh exchanges the refresh token for a new credential set. A rejected
// grant surfaces as a reauth-required error; everything else is transient.
func (c *Client) Refresh(ctx context.Context, provider, refreshToken string) (tokenstore.TokenRecord, error) {
	config, ok := c.providers[provider]
	if !ok {
		return tokenstore.TokenRecord{}, errors.ConfigError("unknown provider: " + provider)
	}

	conf := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Scopes:       config.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  config.AuthURL,
			TokenURL: config.TokenURL,
		},
	}

	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}

	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return tokenstore.TokenRecord{}, c.classify(provider, err)
	}

	return toRecord(token), nil
}

// classify distinguishes a dead grant from a transient endpoint failure
func (c *Client) classify(provider string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if stderrors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return errors.ReauthRequiredError("refresh grant rejected by "+provider, nil)
		}
	}
	return errors.RefreshTransientError("token endpoint call failed", err).
		WithContext("provider", provider)
}

// toRecord maps the oauth2 token onto the stored credential shape
func toRecord(token *oauth2.Token) tokenstore.TokenRecord {
	record := tokenstore.TokenRecord{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
	}

	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		record.ExpiresAt = &expiry
	}
	if scope, ok := token.Extra("scope").(string); ok {
		record.Scope = scope
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		record.IDToken = idToken
		if record.ExpiresAt == nil {
			record.ExpiresAt = idTokenExpiry(idToken)
		}
	}

	return record
}

// idTokenExpiry pulls the exp claim out of an OIDC ID token. The token is not
// verified here; it only seeds the refresh schedule, and the provider already
// authenticated the exchange that produced it.
func idTokenExpiry(idToken string) *time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	expiry := exp.Time
	return &expiry
}
