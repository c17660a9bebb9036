package tenant

import (
	"testing"

	"github.com/hanzoai/gateway/pkg/gwmodels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_ExplicitOrgTakesPriority(t *testing.T) {
	identity := &gwmodels.IdentityClaims{OrgIDs: []string{"other"}}
	ctx := Resolve("acme", identity, "", "", "")
	assert.Equal(t, "acme", ctx.OrgID)
}

func TestResolve_CurrentOrgIdClaim(t *testing.T) {
	identity := &gwmodels.IdentityClaims{
		OrgIDs:    []string{"acme", "beta"},
		RawClaims: map[string]any{"currentOrgId": "beta"},
	}
	ctx := Resolve("", identity, "", "", "")
	assert.Equal(t, "beta", ctx.OrgID)
}

func TestResolve_FirstOrgID(t *testing.T) {
	identity := &gwmodels.IdentityClaims{OrgIDs: []string{"acme", "beta"}}
	ctx := Resolve("", identity, "", "", "")
	assert.Equal(t, "acme", ctx.OrgID)
}

func TestResolve_PersonalMode(t *testing.T) {
	ctx := Resolve("", nil, "", "", "")
	assert.Empty(t, ctx.OrgID)
}

func TestValidateAccess(t *testing.T) {
	identity := &gwmodels.IdentityClaims{OrgIDs: []string{"acme"}}
	require.NoError(t, ValidateAccess(gwmodels.TenantContext{OrgID: "acme"}, identity))
	require.ErrorIs(t, ValidateAccess(gwmodels.TenantContext{OrgID: "other"}, identity), ErrNotMember)
	require.NoError(t, ValidateAccess(gwmodels.TenantContext{}, nil))
}

func TestSanitize_Idempotent(t *testing.T) {
	cases := []string{"acme-corp", "Org/With/Slashes", "", "weird!name#1", "valid_slug.123", "-acme", "_acme", ".acme", "___"}
	for _, c := range cases {
		once := Sanitize(c)
		twice := Sanitize(once)
		assert.Equal(t, once, twice, "sanitize not idempotent for %q", c)
	}
}

func TestSanitize_ValidPassesThrough(t *testing.T) {
	assert.Equal(t, "acme-corp", Sanitize("acme-corp"))
}

func TestSanitize_DistinctInputsStayDistinct(t *testing.T) {
	a := Sanitize("acme/corp")
	b := Sanitize("acme!corp")
	assert.NotEqual(t, a, b, "sanitize must not collapse distinct org ids onto the same tenant path")
	assert.Equal(t, "acme_2fcorp", a)
	assert.Equal(t, "acme_21corp", b)
}

func TestPathFor(t *testing.T) {
	p := PathFor("/var/state", gwmodels.TenantContext{OrgID: "acme", ProjectID: "proj1"})
	assert.Equal(t, "/var/state/tenants/acme/proj1", p)
}
