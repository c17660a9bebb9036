// Package connauth implements the connection authorizer (C9): a pure
// decision function over the configured auth mode plus an optional
// per-source rate limiter. Generalizes the teacher's
// ProviderChain.Authenticate tri-state contract
// (internal/auth/chain.go) into a single decision tree instead of a
// chain of providers, since the gateway's modes are mutually
// exclusive rather than stacked.
package connauth

import (
	"context"
	"crypto/subtle"
	"net"
	"strings"

	"github.com/hanzoai/gateway/internal/tenant"
	"github.com/hanzoai/gateway/pkg/gwmodels"
)

// Failure reasons, exposed verbatim in diagnostic/error paths.
const (
	ReasonTokenMissingConfig    = "token_missing_config"
	ReasonTokenMissing          = "token_missing"
	ReasonTokenMismatch         = "token_mismatch"
	ReasonPasswordMissingConfig = "password_missing_config"
	ReasonPasswordMissing       = "password_missing"
	ReasonPasswordMismatch      = "password_mismatch"
	ReasonIdentityInvalid       = "identity_invalid"
	ReasonRateLimited           = "rate_limited"
)

// Request is the subset of an inbound connect request the authorizer
// needs: a protocol-agnostic capture of bearer/password credentials,
// the peer address, and headers relevant to mesh-identity detection.
type Request struct {
	BearerToken  string
	Password     string
	PeerAddr     string // host:port, e.g. net/http's RemoteAddr
	Host         string // request Host header
	ForwardedFor string
	MeshLoginID  string // mesh-issued identity header, e.g. Tailscale-User-Login
	ExplicitOrg  string
}

// Decision is the authorizer's tri-state verdict: OK true means
// Method/UserID (and optionally Identity/Tenant) are populated; OK
// false means Reason names the failure per the constants above.
type Decision struct {
	OK       bool
	Method   gwmodels.AuthMethod
	UserID   string
	Identity *gwmodels.IdentityClaims
	Tenant   gwmodels.TenantContext
	Reason   string
}

func ok(method gwmodels.AuthMethod) Decision { return Decision{OK: true, Method: method} }
func fail(reason string) Decision            { return Decision{OK: false, Reason: reason} }

// IdentityResult mirrors identity.Result's shape without importing
// the identity package's concrete type into this signature, keeping
// connauth's only dependency on C4 the narrow Validator interface
// below.
type IdentityResult struct {
	OK     bool
	Claims *gwmodels.IdentityClaims
}

// Validator is the narrow C4 contract the authorizer depends on.
type Validator interface {
	Validate(ctx context.Context, rawToken string) IdentityResult
}

// RateLimiter is the narrow contract the per-source limiter exposes
// to the authorizer (satisfied by Limiter below).
type RateLimiter interface {
	Allow(sourceIP string) bool
	Reset(sourceIP string)
}

// Authorize implements the C9 decision tree over the configured auth
// mode. identityValidator may be nil unless mode is identity or the
// mesh-identity fallback is reachable. limiter may be nil to disable
// rate limiting.
func Authorize(ctx context.Context, resolved gwmodels.ResolvedAuth, allowMeshIdentity bool, meshSuffix string, req Request, identityValidator Validator, limiter RateLimiter) Decision {
	sourceIP := hostOf(req.PeerAddr)
	if limiter != nil && sourceIP != "" {
		if !limiter.Allow(sourceIP) {
			return fail(ReasonRateLimited)
		}
	}

	d := authorizeByMode(ctx, resolved, allowMeshIdentity, meshSuffix, req, identityValidator)

	if d.OK && limiter != nil && sourceIP != "" {
		limiter.Reset(sourceIP)
	}
	return d
}

func authorizeByMode(ctx context.Context, resolved gwmodels.ResolvedAuth, allowMeshIdentity bool, meshSuffix string, req Request, identityValidator Validator) Decision {
	switch resolved.Mode {
	case gwmodels.AuthModeToken:
		if resolved.Token == "" {
			return fail(ReasonTokenMissingConfig)
		}
		if req.BearerToken == "" {
			if d, handled := tryMeshFallback(allowMeshIdentity, meshSuffix, req); handled {
				return d
			}
			return fail(ReasonTokenMissing)
		}
		if !constantTimeEqual(req.BearerToken, resolved.Token) {
			return fail(ReasonTokenMismatch)
		}
		return ok(gwmodels.AuthMethodToken)

	case gwmodels.AuthModePassword:
		if resolved.Password == "" {
			return fail(ReasonPasswordMissingConfig)
		}
		if req.Password == "" {
			if d, handled := tryMeshFallback(allowMeshIdentity, meshSuffix, req); handled {
				return d
			}
			return fail(ReasonPasswordMissing)
		}
		if !constantTimeEqual(req.Password, resolved.Password) {
			return fail(ReasonPasswordMismatch)
		}
		return ok(gwmodels.AuthMethodPassword)

	case gwmodels.AuthModeIdentity:
		if req.BearerToken == "" {
			if d, handled := tryMeshFallback(allowMeshIdentity, meshSuffix, req); handled {
				return d
			}
			return fail(ReasonIdentityInvalid)
		}
		if identityValidator == nil {
			return fail(ReasonIdentityInvalid)
		}
		result := identityValidator.Validate(ctx, req.BearerToken)
		if !result.OK {
			return fail(ReasonIdentityInvalid)
		}
		tc := tenant.Resolve(req.ExplicitOrg, result.Claims, "", "", "")
		return Decision{OK: true, Method: gwmodels.AuthMethodIdentity, UserID: result.Claims.UserID, Identity: result.Claims, Tenant: tc}

	case gwmodels.AuthModeMesh:
		if d, handled := tryMeshFallback(true, meshSuffix, req); handled {
			return d
		}
		return fail(ReasonIdentityInvalid)

	default:
		return fail(ReasonTokenMissingConfig)
	}
}

// tryMeshFallback accepts a mesh-supplied login identity when the
// peer is recognized as mesh-resident: a loopback peer combined with
// a mesh-suffixed Host header. req.ForwardedFor is never trusted as a
// mesh signal on its own — it comes straight from the client-supplied
// X-Forwarded-For header, so any external caller could set it to
// bypass token/password/identity auth. On success, method is set to
// the legacy "tailscale" name retained for compatibility (spec.md
// §4.9).
func tryMeshFallback(allowMeshIdentity bool, meshSuffix string, req Request) (Decision, bool) {
	if !allowMeshIdentity || req.MeshLoginID == "" {
		return Decision{}, false
	}
	meshResident := isLoopback(hostOf(req.PeerAddr)) && meshSuffix != "" && strings.HasSuffix(strings.ToLower(req.Host), strings.ToLower(meshSuffix))
	if !meshResident {
		return Decision{}, false
	}
	return Decision{OK: true, Method: gwmodels.AuthMethodMesh, UserID: req.MeshLoginID}, true
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func hostOf(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
