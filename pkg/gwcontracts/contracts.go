// Package gwcontracts defines the service interfaces that sit at the
// boundary of the gateway runtime — the same role pkg/contracts plays
// for the teacher's control plane. The HTTP/WS layer (internal/gwhttp)
// and the OpenAI adapter (internal/openaiapi) reach the agent engine
// and the identity-provider client only through these interfaces, so a
// real agent engine can be swapped in without touching routing code.
// The billing gate, usage reporter and token validator are wired in as
// concrete types.
package gwcontracts

import (
	"context"

	"github.com/hanzoai/gateway/pkg/gwmodels"
)

// AgentEngine is the external collaborator that actually runs agent
// turns. The gateway core never implements this — it only consumes it.
// A reference, in-process implementation lives in internal/agentengine
// for tests and standalone operation.
type AgentEngine interface {
	// StartRun begins a run for the given session key and prompt,
	// returning the run ID the caller should use to correlate events
	// published on the event bus. StartRun returns once the run has
	// been accepted, not once it has finished.
	StartRun(ctx context.Context, sessionKey, agentID, prompt string) (runID string, err error)
}

// BillingClient is the commerce back end boundary; billing.Client
// satisfies it. The gate (C7) holds a concrete *billing.Client and the
// usage reporter (C8) takes its ReportUsage method, not this interface.
type BillingClient interface {
	GetSubscriptionStatus(ctx context.Context, orgID, token string) (*gwmodels.SubscriptionStatus, error)
	GetPlan(ctx context.Context, planID, token string) (map[string]any, error)
	GetBalanceCents(ctx context.Context, userID, token string) (int64, error)
	ReportUsage(ctx context.Context, records []gwmodels.UsageRecord) error
}

// SecretBackend resolves opaque kms:// references into cleartext.
type SecretBackend interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// IdentityProviderClient is the thin client for the external identity
// provider's OAuth endpoints, consumed by the /auth/* proxy handlers.
type IdentityProviderClient interface {
	AuthorizeURL(redirectURI, state, scope, codeChallenge, codeChallengeMethod string) string
	ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (map[string]any, error)
	Refresh(ctx context.Context, refreshToken string) (map[string]any, error)
	UserInfo(ctx context.Context, accessToken string) (map[string]any, error)
}
