package connauth

import (
	"context"
	"testing"

	"github.com/hanzoai/gateway/pkg/gwmodels"
	"github.com/stretchr/testify/assert"
)

type fakeValidator struct {
	result IdentityResult
}

func (f fakeValidator) Validate(ctx context.Context, rawToken string) IdentityResult {
	return f.result
}

func TestAuthorize_TokenMode(t *testing.T) {
	resolved := gwmodels.ResolvedAuth{Mode: gwmodels.AuthModeToken, Token: "s3cret"}

	d := Authorize(t.Context(), resolved, false, "", Request{}, nil, nil)
	assert.False(t, d.OK)
	assert.Equal(t, ReasonTokenMissing, d.Reason)

	d = Authorize(t.Context(), resolved, false, "", Request{BearerToken: "wrong"}, nil, nil)
	assert.False(t, d.OK)
	assert.Equal(t, ReasonTokenMismatch, d.Reason)

	d = Authorize(t.Context(), resolved, false, "", Request{BearerToken: "s3cret"}, nil, nil)
	assert.True(t, d.OK)
	assert.Equal(t, gwmodels.AuthMethodToken, d.Method)
}

func TestAuthorize_TokenMissingConfig(t *testing.T) {
	resolved := gwmodels.ResolvedAuth{Mode: gwmodels.AuthModeToken, Token: ""}
	d := Authorize(t.Context(), resolved, false, "", Request{BearerToken: "x"}, nil, nil)
	assert.False(t, d.OK)
	assert.Equal(t, ReasonTokenMissingConfig, d.Reason)
}

func TestAuthorize_PasswordMode(t *testing.T) {
	resolved := gwmodels.ResolvedAuth{Mode: gwmodels.AuthModePassword, Password: "hunter2"}

	d := Authorize(t.Context(), resolved, false, "", Request{}, nil, nil)
	assert.Equal(t, ReasonPasswordMissing, d.Reason)

	d = Authorize(t.Context(), resolved, false, "", Request{Password: "nope"}, nil, nil)
	assert.Equal(t, ReasonPasswordMismatch, d.Reason)

	d = Authorize(t.Context(), resolved, false, "", Request{Password: "hunter2"}, nil, nil)
	assert.True(t, d.OK)
	assert.Equal(t, gwmodels.AuthMethodPassword, d.Method)
}

func TestAuthorize_IdentityMode(t *testing.T) {
	resolved := gwmodels.ResolvedAuth{Mode: gwmodels.AuthModeIdentity}
	validator := fakeValidator{result: IdentityResult{OK: true, Claims: &gwmodels.IdentityClaims{UserID: "u1", OrgIDs: []string{"acme"}}}}

	d := Authorize(t.Context(), resolved, false, "", Request{BearerToken: "jwt"}, validator, nil)
	assert.True(t, d.OK)
	assert.Equal(t, gwmodels.AuthMethodIdentity, d.Method)
	assert.Equal(t, "u1", d.UserID)
	assert.Equal(t, "acme", d.Tenant.OrgID)
}

func TestAuthorize_IdentityInvalid(t *testing.T) {
	resolved := gwmodels.ResolvedAuth{Mode: gwmodels.AuthModeIdentity}
	validator := fakeValidator{result: IdentityResult{OK: false}}
	d := Authorize(t.Context(), resolved, false, "", Request{BearerToken: "bad"}, validator, nil)
	assert.False(t, d.OK)
	assert.Equal(t, ReasonIdentityInvalid, d.Reason)
}

func TestAuthorize_MeshFallback(t *testing.T) {
	resolved := gwmodels.ResolvedAuth{Mode: gwmodels.AuthModeToken, Token: "s3cret"}
	req := Request{
		PeerAddr:    "127.0.0.1:54321",
		Host:        "node1.mesh.internal",
		MeshLoginID: "alice@example.com",
	}
	d := Authorize(t.Context(), resolved, true, ".mesh.internal", req, nil, nil)
	assert.True(t, d.OK)
	assert.Equal(t, gwmodels.AuthMethodMesh, d.Method)
	assert.Equal(t, "alice@example.com", d.UserID)
}

func TestAuthorize_MeshFallbackDisabled(t *testing.T) {
	resolved := gwmodels.ResolvedAuth{Mode: gwmodels.AuthModeToken, Token: "s3cret"}
	req := Request{PeerAddr: "127.0.0.1:1", Host: "node1.mesh.internal", MeshLoginID: "alice"}
	d := Authorize(t.Context(), resolved, false, ".mesh.internal", req, nil, nil)
	assert.False(t, d.OK)
	assert.Equal(t, ReasonTokenMissing, d.Reason)
}

func TestAuthorize_MeshFallbackRejectsBareForwardedForFromExternalPeer(t *testing.T) {
	resolved := gwmodels.ResolvedAuth{Mode: gwmodels.AuthModeToken, Token: "s3cret"}
	req := Request{
		PeerAddr:     "203.0.113.5:54321",
		Host:         "gateway.example.com",
		ForwardedFor: "x",
		MeshLoginID:  "anyone",
	}
	d := Authorize(t.Context(), resolved, true, ".mesh.internal", req, nil, nil)
	assert.False(t, d.OK, "a client-supplied X-Forwarded-For/X-Forwarded-User pair must never authenticate on its own")
	assert.Equal(t, ReasonTokenMissing, d.Reason)
}

func TestAuthorize_RateLimited(t *testing.T) {
	resolved := gwmodels.ResolvedAuth{Mode: gwmodels.AuthModeToken, Token: "s3cret"}
	limiter := NewLimiter(1, 1)
	req := Request{PeerAddr: "10.0.0.5:1234", BearerToken: "s3cret"}

	d := Authorize(t.Context(), resolved, false, "", req, nil, limiter)
	assert.True(t, d.OK)

	d = Authorize(t.Context(), resolved, false, "", Request{PeerAddr: "10.0.0.5:1234", BearerToken: "wrong"}, nil, limiter)
	assert.False(t, d.OK)

	// The failed attempt consumed the only token and did not reset the
	// bucket, so even the correct token is now refused before comparison.
	d = Authorize(t.Context(), resolved, false, "", req, nil, limiter)
	assert.False(t, d.OK)
	assert.Equal(t, ReasonRateLimited, d.Reason)
}

func TestAuthorize_RateLimitResetsOnSuccess(t *testing.T) {
	resolved := gwmodels.ResolvedAuth{Mode: gwmodels.AuthModeToken, Token: "s3cret"}
	limiter := NewLimiter(0.001, 1)
	req := Request{PeerAddr: "10.0.0.9:1", BearerToken: "s3cret"}

	d := Authorize(t.Context(), resolved, false, "", req, nil, limiter)
	assert.True(t, d.OK)
	d = Authorize(t.Context(), resolved, false, "", req, nil, limiter)
	assert.True(t, d.OK, "success should reset the window so a second immediate call is allowed")
}
