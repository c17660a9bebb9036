// Package authconfig binds a configured auth mode to a concrete,
// resolved secret set (C3). The resolved record is the sole source
// consulted by the connection authorizer at request time — the
// original kms:// reference strings never reach it.
package authconfig

import (
	"context"
	"fmt"

	"github.com/hanzoai/gateway/pkg/gwmodels"
)

// SecretResolver is the narrow interface authconfig needs from C2.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Resolve dereferences each configured secret exactly once and
// returns the immutable ResolvedAuth record.
func Resolve(ctx context.Context, cfg gwmodels.AuthConfig, resolver SecretResolver) (gwmodels.ResolvedAuth, error) {
	resolved := gwmodels.ResolvedAuth{
		Mode:              cfg.Mode,
		AllowMeshIdentity: cfg.AllowMeshIdentity,
	}

	switch cfg.Mode {
	case gwmodels.AuthModeToken:
		token, err := resolver.Resolve(ctx, cfg.Token)
		if err != nil {
			return gwmodels.ResolvedAuth{}, fmt.Errorf("authconfig: resolve token: %w", err)
		}
		resolved.Token = token
	case gwmodels.AuthModePassword:
		password, err := resolver.Resolve(ctx, cfg.Password)
		if err != nil {
			return gwmodels.ResolvedAuth{}, fmt.Errorf("authconfig: resolve password: %w", err)
		}
		resolved.Password = password
	case gwmodels.AuthModeIdentity, gwmodels.AuthModeMesh:
		// No secret to resolve — identity/mesh modes authenticate via
		// external token validation (C4) or mesh headers (C9).
	default:
		return gwmodels.ResolvedAuth{}, fmt.Errorf("authconfig: unknown auth mode %q", cfg.Mode)
	}

	return resolved, nil
}
