// Package tenant maps a validated identity plus optional connect
// parameters to an (org, project, user) context and enforces
// membership (C5).
package tenant

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hanzoai/gateway/pkg/gwmodels"
)

// ErrNotMember is returned by ValidateAccess when the tenant's org is
// not among the identity's orgs.
var ErrNotMember = fmt.Errorf("tenant_org_not_member")

// slugPattern is the allowed charset for a tenant path component;
// anything else gets escaped byte-by-byte (see Sanitize).
var slugPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Resolve picks orgId by priority: explicit connect-parameter →
// identity's currentOrgId claim → first entry of identity.OrgIDs.
// Returns a context with an empty OrgID ("personal mode") when none is
// available, per spec.md §4.5.
func Resolve(explicitOrgID string, identity *gwmodels.IdentityClaims, projectID, userName, env string) gwmodels.TenantContext {
	ctx := gwmodels.TenantContext{
		ProjectID: projectID,
		UserName:  userName,
		Env:       env,
	}
	if identity != nil {
		ctx.UserID = identity.UserID
	}

	if explicitOrgID != "" {
		ctx.OrgID = explicitOrgID
		return ctx
	}

	if identity != nil {
		if v, ok := identity.RawClaims["currentOrgId"].(string); ok && v != "" {
			ctx.OrgID = v
			return ctx
		}
		if len(identity.OrgIDs) > 0 {
			ctx.OrgID = identity.OrgIDs[0]
		}
	}

	return ctx
}

// ValidateAccess enforces orgId ∈ identity.orgIds. A tenant with an
// empty OrgID (personal mode) always passes.
func ValidateAccess(t gwmodels.TenantContext, identity *gwmodels.IdentityClaims) error {
	if t.OrgID == "" {
		return nil
	}
	if identity == nil {
		return ErrNotMember
	}
	for _, org := range identity.OrgIDs {
		if org == t.OrgID {
			return nil
		}
	}
	return ErrNotMember
}

// Sanitize converts a tenant path component into a safe slug: valid
// slugs pass through unchanged (slugPattern); anything else has each
// disallowed byte percent-escaped with "%" swapped for "_" (i.e.
// "_XX" where XX is the byte's lowercase hex code), per spec.md §3.
// This keeps distinct inputs distinct: "acme/corp" and "acme!corp"
// escape to "acme_2fcorp" and "acme_21corp" rather than colliding on
// a single literal "_", which would merge two tenants' on-disk state
// paths (PathFor below). Sanitize is idempotent:
// Sanitize(Sanitize(x)) == Sanitize(x), since the escaped output is
// itself always a valid slug.
func Sanitize(component string) string {
	if slugPattern.MatchString(component) {
		return component
	}
	var b strings.Builder
	for i := 0; i < len(component); i++ {
		c := component[i]
		if isSlugByte(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	out := b.String()
	if out == "" {
		return "x"
	}
	if !isSlugStart(out[0]) {
		// "x" (not "_") so the prefix itself always satisfies
		// isSlugStart; prepending "_" here would never converge,
		// since "_" fails isSlugStart too.
		out = "x" + out
	}
	if len(out) > 128 {
		out = out[:128]
	}
	return out
}

func isSlugByte(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '.' || c == '_' || c == '-'
}

func isSlugStart(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// PathFor builds the on-disk state path for a tenant, scoping
// persistent state as described in spec.md §3.
func PathFor(base string, t gwmodels.TenantContext) string {
	parts := []string{base, "tenants", Sanitize(t.OrgID)}
	if t.ProjectID != "" {
		parts = append(parts, Sanitize(t.ProjectID))
	}
	return strings.Join(parts, "/")
}
