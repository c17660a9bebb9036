// Package identity validates identity-provider-issued JWTs against the
// discovered JWKS and projects their claims into a Resolved identity
// (C4). JWKS caching and signature verification use
// github.com/lestrrat-go/jwx/v2, the library the pack's
// kagenti/kagenti ext_proc uses for inbound JWT validation — the jwk
// cache's kid-miss auto-refresh is the property spec.md §4.4 and §9
// require and jwx provides directly.
package identity

import (
	"context"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog/log"

	"github.com/hanzoai/gateway/internal/connauth"
	"github.com/hanzoai/gateway/pkg/gwmodels"
)

// Reason values drawn from spec.md §4.4.
const (
	ReasonInvalidToken     = "invalid_token"
	ReasonExpired          = "expired"
	ReasonIssuerMismatch   = "issuer_mismatch"
	ReasonAudienceMismatch = "audience_mismatch"
	ReasonJWKSUnavailable  = "jwks_unavailable"
	ReasonMalformed        = "malformed"
)

// Result is the outcome of Validate.
type Result struct {
	OK     bool
	Reason string
	Claims *gwmodels.IdentityClaims
}

// Validator verifies bearer JWTs against a discovered JWKS.
type Validator struct {
	Issuer   string
	Audience string
	JWKSURL  string

	cache *jwk.Cache
}

// NewValidator constructs a Validator. The JWKS cache is created
// lazily on first use so tests can construct a Validator without
// network access until Validate is actually called.
func NewValidator(issuer, audience, jwksURL string) *Validator {
	return &Validator{Issuer: issuer, Audience: audience, JWKSURL: jwksURL}
}

func (v *Validator) keySet(ctx context.Context) (jwk.Set, error) {
	if v.cache == nil {
		v.cache = jwk.NewCache(ctx)
		if err := v.cache.Register(v.JWKSURL, jwk.WithMinRefreshInterval(10*time.Minute)); err != nil {
			v.cache = nil
			return nil, err
		}
	}
	return v.cache.Get(ctx, v.JWKSURL)
}

// Validate verifies signature, issuer, audience, and expiry, then
// projects claims into the resolved identity shape (spec.md §4.4).
// On a kid miss, it issues a one-shot refresh of the JWKS before
// giving up, per spec.md §9.
func (v *Validator) Validate(ctx context.Context, rawToken string) Result {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return Result{Reason: ReasonMalformed}
	}

	keySet, err := v.keySet(ctx)
	if err != nil {
		log.Warn().Err(err).Str("jwks_url", v.JWKSURL).Msg("identity: JWKS unavailable")
		return Result{Reason: ReasonJWKSUnavailable}
	}

	token, err := jwt.Parse([]byte(rawToken),
		jwt.WithKeySet(keySet),
		jwt.WithValidate(true),
	)
	if err != nil {
		if v.isKidMiss(err) {
			if refreshed, rerr := v.cache.Refresh(ctx, v.JWKSURL); rerr == nil {
				if token2, err2 := jwt.Parse([]byte(rawToken), jwt.WithKeySet(refreshed), jwt.WithValidate(true)); err2 == nil {
					return v.projectClaims(token2)
				}
			}
		}
		return Result{Reason: classifyJWTError(err)}
	}

	if v.Issuer != "" && token.Issuer() != v.Issuer {
		return Result{Reason: ReasonIssuerMismatch}
	}
	if v.Audience != "" && !containsAudience(token.Audience(), v.Audience) {
		return Result{Reason: ReasonAudienceMismatch}
	}
	if !token.Expiration().IsZero() && token.Expiration().Before(time.Now()) {
		return Result{Reason: ReasonExpired}
	}

	return v.projectClaims(token)
}

func (v *Validator) projectClaims(token jwt.Token) Result {
	claims := &gwmodels.IdentityClaims{
		UserID:    token.Subject(),
		RawClaims: map[string]any{},
	}

	raw, _ := token.AsMap(context.Background())
	for k, val := range raw {
		claims.RawClaims[k] = val
	}

	if email, ok := raw["email"].(string); ok {
		claims.Email = email
	}
	if name, ok := raw["name"].(string); ok {
		claims.DisplayName = name
	}
	if owner, ok := raw["owner"].(string); ok {
		claims.Owner = owner
	}

	orgSet := make(map[string]struct{})
	if groups, ok := raw["groups"].([]any); ok {
		for _, g := range groups {
			if s, ok := g.(string); ok && s != "" {
				orgSet[s] = struct{}{}
			}
		}
	}
	if claims.Owner != "" {
		orgSet[claims.Owner] = struct{}{}
	}
	for org := range orgSet {
		claims.OrgIDs = append(claims.OrgIDs, org)
	}

	if roles, ok := raw["roles"].([]any); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				claims.Roles = append(claims.Roles, s)
			}
		}
	}

	return Result{OK: true, Claims: claims}
}

func (v *Validator) isKidMiss(err error) bool {
	return strings.Contains(err.Error(), "could not find key") || strings.Contains(err.Error(), "key not found") || strings.Contains(err.Error(), "failed to find matching key")
}

func classifyJWTError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "exp") && strings.Contains(msg, "expired"):
		return ReasonExpired
	case strings.Contains(msg, "aud"):
		return ReasonAudienceMismatch
	case strings.Contains(msg, "iss"):
		return ReasonIssuerMismatch
	default:
		return ReasonInvalidToken
	}
}

func containsAudience(auds []string, want string) bool {
	for _, a := range auds {
		if a == want {
			return true
		}
	}
	return false
}

// ConnauthAdapter adapts a Validator to connauth.Validator's
// interface (Validate(ctx, token) -> connauth.IdentityResult).
type ConnauthAdapter struct {
	V *Validator
}

func (a ConnauthAdapter) Validate(ctx context.Context, rawToken string) connauth.IdentityResult {
	result := a.V.Validate(ctx, rawToken)
	return connauth.IdentityResult{OK: result.OK, Claims: result.Claims}
}
