// Package identityclient is the thin OAuth/OIDC client for the
// external identity provider (spec.md §1, §4.11): authorization URL
// construction, code exchange, refresh, and userinfo. Client secrets
// are held here, server-side, so the /auth/* proxy endpoints never
// leak them to the browser. Grounded on golang.org/x/oauth2, the
// library the pack's eugener-gandalf and rakunlabs-at repos use for
// identical authorization-code flows.
package identityclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// Client wraps an oauth2.Config plus a userinfo endpoint.
type Client struct {
	oauthConfig  oauth2.Config
	userInfoURL  string
	httpClient   *http.Client
}

// Config carries the identity-provider endpoints and this
// deployment's registered client credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
}

// New builds a Client from the resolved provider configuration.
func New(cfg Config) *Client {
	return &Client{
		oauthConfig: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		httpClient:  http.DefaultClient,
	}
}

// AuthorizeURL builds the provider's authorization endpoint URL for a
// code redirect, including PKCE parameters when supplied.
func (c *Client) AuthorizeURL(redirectURI, state, scope, codeChallenge, codeChallengeMethod string) string {
	cfg := c.oauthConfig
	cfg.RedirectURL = redirectURI
	if scope != "" {
		cfg.Scopes = []string{scope}
	}

	opts := []oauth2.AuthCodeOption{}
	if codeChallenge != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_challenge", codeChallenge))
		method := codeChallengeMethod
		if method == "" {
			method = "S256"
		}
		opts = append(opts, oauth2.SetAuthURLParam("code_challenge_method", method))
	}

	return cfg.AuthCodeURL(state, opts...)
}

// ExchangeCode trades an authorization code for a token bundle.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (map[string]any, error) {
	cfg := c.oauthConfig
	cfg.RedirectURL = redirectURI

	opts := []oauth2.AuthCodeOption{}
	if codeVerifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := cfg.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("identityclient: code exchange failed: %w", err)
	}
	return tokenBundle(tok), nil
}

// Refresh exchanges a refresh token for a fresh token bundle.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (map[string]any, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	src := c.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("identityclient: refresh failed: %w", err)
	}
	return tokenBundle(tok), nil
}

// UserInfo fetches the provider's userinfo payload for accessToken.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("identityclient: userinfo returned status %d: %s", resp.StatusCode, string(body))
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func tokenBundle(tok *oauth2.Token) map[string]any {
	bundle := map[string]any{
		"access_token": tok.AccessToken,
		"token_type":   tok.TokenType,
	}
	if tok.RefreshToken != "" {
		bundle["refresh_token"] = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		bundle["expires_at"] = tok.Expiry.Unix()
	}
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		bundle["id_token"] = idToken
	}
	return bundle
}
