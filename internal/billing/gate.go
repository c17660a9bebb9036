package billing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Decision is the outcome of a per-request admission check (C7).
type Decision struct {
	Allowed bool
	Reason  string
	Status  int
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string, status int) Decision {
	return Decision{Allowed: false, Reason: reason, Status: status}
}

// Gate is the C7 billing admission gate: balance-then-subscription,
// fail-closed on any commerce exception, per spec.md §4.7.
type Gate struct {
	Client *Client
}

// NewGate wraps a commerce Client as an admission gate.
func NewGate(client *Client) *Gate {
	return &Gate{Client: client}
}

// Check decides whether a request may proceed. iamConfigured is true
// when the deployment has an identity provider configured at all;
// orgID is the resolved tenant org (empty in personal mode). Either
// absent means personal mode, which always allows. userID identifies
// the billed party and token is the caller's bearer, forwarded to the
// commerce back end.
func (g *Gate) Check(ctx context.Context, iamConfigured bool, orgID, userID, token string) Decision {
	if !iamConfigured || orgID == "" {
		return allow()
	}
	if g.Client == nil {
		return allow()
	}

	balanceCents, err := g.Client.GetBalanceCents(ctx, userID, token)
	if err != nil {
		log.Warn().Err(err).Str("org_id", orgID).Msg("billing: balance lookup failed, failing closed")
		return deny("Billing service unavailable — please try again", 503)
	}
	if balanceCents > 0 {
		return allow()
	}

	status, err := g.Client.GetSubscriptionStatus(ctx, orgID, token)
	if err != nil {
		log.Warn().Err(err).Str("org_id", orgID).Msg("billing: subscription lookup failed, failing closed")
		return deny("Billing service unavailable — please try again", 503)
	}
	if status.Active {
		return allow()
	}

	dollars := float64(balanceCents) / 100.0
	return deny(fmt.Sprintf("Insufficient funds — add credits to continue. Balance: $%.2f", dollars), 402)
}
