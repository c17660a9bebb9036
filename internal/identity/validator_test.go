package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWKSServer(t *testing.T) (*httptest.Server, *rsa.PrivateKey, jwk.Key) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pubKey, err := jwk.FromRaw(priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pubKey.Set(jwk.KeyIDKey, "test-kid"))
	require.NoError(t, pubKey.Set(jwk.AlgorithmKey, "RS256"))

	set := jwk.NewSet()
	set.AddKey(pubKey)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = jwk.NewEncoder(w).Encode(set)
	}))
	return srv, priv, pubKey
}

func signToken(t *testing.T, priv *rsa.PrivateKey, kid string, claims map[string]any, issuer, audience string, exp time.Time) string {
	t.Helper()
	tok := jwt.New()
	require.NoError(t, tok.Set(jwt.IssuerKey, issuer))
	require.NoError(t, tok.Set(jwt.AudienceKey, []string{audience}))
	require.NoError(t, tok.Set(jwt.ExpirationKey, exp))
	for k, v := range claims {
		require.NoError(t, tok.Set(k, v))
	}
	hdrs := jwt.NewHeaders()
	require.NoError(t, hdrs.Set(jwt.AlgorithmKey, "RS256"))
	require.NoError(t, hdrs.Set(jwt.KeyIDKey, kid))

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, priv, jwt.WithHeaders(hdrs)))
	require.NoError(t, err)
	return string(signed)
}

func TestValidate_HappyPath(t *testing.T) {
	srv, priv, _ := newTestJWKSServer(t)
	defer srv.Close()

	v := NewValidator("https://idp.example", "gateway", srv.URL)
	token := signToken(t, priv, "test-kid", map[string]any{
		"email":  "user@example.com",
		"owner":  "acme",
		"groups": []any{"acme", "beta-org"},
		"roles":  []any{"admin"},
	}, "https://idp.example", "gateway", time.Now().Add(time.Hour))

	result := v.Validate(t.Context(), token)
	require.True(t, result.OK)
	assert.Equal(t, "user@example.com", result.Claims.Email)
	assert.Contains(t, result.Claims.OrgIDs, "acme")
	assert.Contains(t, result.Claims.OrgIDs, "beta-org")
	assert.Contains(t, result.Claims.Roles, "admin")
}

func TestValidate_ExpiredToken(t *testing.T) {
	srv, priv, _ := newTestJWKSServer(t)
	defer srv.Close()

	v := NewValidator("https://idp.example", "gateway", srv.URL)
	token := signToken(t, priv, "test-kid", nil, "https://idp.example", "gateway", time.Now().Add(-time.Hour))

	result := v.Validate(t.Context(), token)
	assert.False(t, result.OK)
	assert.Equal(t, ReasonExpired, result.Reason)
}

func TestValidate_IssuerMismatch(t *testing.T) {
	srv, priv, _ := newTestJWKSServer(t)
	defer srv.Close()

	v := NewValidator("https://idp.example", "gateway", srv.URL)
	token := signToken(t, priv, "test-kid", nil, "https://other.example", "gateway", time.Now().Add(time.Hour))

	result := v.Validate(t.Context(), token)
	assert.False(t, result.OK)
}

func TestValidate_MalformedToken(t *testing.T) {
	srv, _, _ := newTestJWKSServer(t)
	defer srv.Close()

	v := NewValidator("https://idp.example", "gateway", srv.URL)
	result := v.Validate(t.Context(), "")
	assert.Equal(t, ReasonMalformed, result.Reason)

	result2 := v.Validate(t.Context(), "not-a-jwt")
	assert.False(t, result2.OK)
}

func TestValidate_JWKSUnavailable(t *testing.T) {
	v := NewValidator("https://idp.example", "gateway", "http://127.0.0.1:0/jwks.json")
	result := v.Validate(t.Context(), "irrelevant")
	assert.Equal(t, ReasonJWKSUnavailable, result.Reason)
}
