// Package secrets resolves "kms://NAME" references into cleartext
// values (C2). The cached artifact here is the machine-identity login
// token, not the secret itself — each secret name is fetched fresh
// against the currently cached token, the way the teacher's
// catalog.Catalog caches a fetched artifact with an expiry-driven
// refresh in internal/catalog/catalog.go.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const kmsPrefix = "kms://"

// safetyMargin is subtracted from the token's reported expiry so a
// request started just before expiry doesn't race it.
const safetyMargin = 30 * time.Second

// HTTPDoer is the minimal client surface the resolver needs; tests
// substitute a fake.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Resolver resolves literal or kms:// values into cleartext using a
// cached service login token.
type Resolver struct {
	LoginURL    string
	SecretsURL  string
	ClientID    string
	ClientToken string

	Client HTTPDoer

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewResolver builds a Resolver. Client defaults to http.DefaultClient.
func NewResolver(loginURL, secretsURL, clientID, clientToken string) *Resolver {
	return &Resolver{
		LoginURL:    loginURL,
		SecretsURL:  secretsURL,
		ClientID:    clientID,
		ClientToken: clientToken,
		Client:      http.DefaultClient,
	}
}

// Resolve returns v unchanged unless it has the "kms://" prefix, in
// which case it logs in (reusing a cached token) and fetches the named
// secret. Network errors bubble up so gateway startup can fail.
func (r *Resolver) Resolve(ctx context.Context, v string) (string, error) {
	if !strings.HasPrefix(v, kmsPrefix) {
		return v, nil
	}
	name := strings.TrimPrefix(v, kmsPrefix)

	token, err := r.loginToken(ctx)
	if err != nil {
		return "", fmt.Errorf("secrets: machine login failed: %w", err)
	}

	return r.fetchSecret(ctx, name, token)
}

func (r *Resolver) loginToken(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.accessToken != "" && time.Now().Before(r.expiresAt) {
		return r.accessToken, nil
	}

	body := strings.NewReader(fmt.Sprintf(`{"client_id":%q,"client_token":%q}`, r.ClientID, r.ClientToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.LoginURL, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("secrets: login returned status %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}

	r.accessToken = out.AccessToken
	r.expiresAt = time.Now().Add(time.Duration(out.ExpiresIn)*time.Second - safetyMargin)
	log.Debug().Time("expires_at", r.expiresAt).Msg("secrets: machine login token refreshed")

	return r.accessToken, nil
}

func (r *Resolver) fetchSecret(ctx context.Context, name, token string) (string, error) {
	url := strings.TrimSuffix(r.SecretsURL, "/") + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("secrets: fetch %q returned status %d", name, resp.StatusCode)
	}

	var out struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Value, nil
}
