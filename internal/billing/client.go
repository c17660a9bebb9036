package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hanzoai/gateway/pkg/gwmodels"
)

// ErrPlanNotFound marks a cached-negative plan lookup (a 404 from the
// commerce back end), per spec.md §4.6.
var ErrPlanNotFound = fmt.Errorf("billing: plan not found")

// Client is the TTL-cached commerce back-end client (C6). Each
// operation performs a 10-second-deadline HTTP call and caches the
// result under a key that includes the caller's token.
type Client struct {
	BaseURL      string
	ServiceToken string
	Timeout      time.Duration

	HTTPClient *http.Client

	subCache     *ttlCache
	planCache    *ttlCache
	balanceCache *ttlCache
}

// NewClient builds a billing Client whose lookups are cached for
// cacheTTL.
func NewClient(baseURL, serviceToken string, timeout, cacheTTL time.Duration) *Client {
	return &Client{
		BaseURL:      baseURL,
		ServiceToken: serviceToken,
		Timeout:      timeout,
		HTTPClient:   &http.Client{},
		subCache:     newTTLCache(cacheTTL),
		planCache:    newTTLCache(cacheTTL),
		balanceCache: newTTLCache(cacheTTL),
	}
}

// authHeader resolves the bearer to use for a commerce call, per the
// precedence in spec.md §4.6: caller-supplied bearer → process service
// token → basic credentials (basic auth is not configured in this
// deployment shape, so the fallback stops at the service token).
func (c *Client) authHeader(callerToken string) string {
	if callerToken != "" {
		return "Bearer " + callerToken
	}
	if c.ServiceToken != "" {
		return "Bearer " + c.ServiceToken
	}
	return ""
}

func (c *Client) do(ctx context.Context, path, token string, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return 0, err
	}
	if h := c.authHeader(token); h != "" {
		req.Header.Set("Authorization", h)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resp.StatusCode, err
			}
		}
	}
	return resp.StatusCode, nil
}

// GetSubscriptionStatus returns the cached or freshly-fetched
// subscription status for orgId, per spec.md §3/§4.6.
func (c *Client) GetSubscriptionStatus(ctx context.Context, orgID, token string) (*gwmodels.SubscriptionStatus, error) {
	key := orgID + ":" + token
	v, err := c.subCache.getOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		var body struct {
			Subscription map[string]any `json:"subscription"`
			Plan         map[string]any `json:"plan"`
		}
		status, err := c.do(ctx, "/v1/orgs/"+orgID+"/subscription", token, &body)
		if err != nil {
			return nil, err
		}
		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("billing: subscription lookup returned status %d", status)
		}
		active := false
		if body.Subscription != nil {
			if st, ok := body.Subscription["status"].(string); ok {
				active = st == "active" || st == "trialing"
			}
		}
		return &gwmodels.SubscriptionStatus{Active: active, Subscription: body.Subscription, Plan: body.Plan}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*gwmodels.SubscriptionStatus), nil
}

// GetPlan returns plan data for planId. A 404 is cached as a nil
// result (ErrPlanNotFound) to prevent stampedes; other non-2xx
// responses raise.
func (c *Client) GetPlan(ctx context.Context, planID, token string) (map[string]any, error) {
	key := planID + ":" + token
	v, err := c.planCache.getOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		var body map[string]any
		status, err := c.do(ctx, "/v1/plans/"+planID, token, &body)
		if err != nil {
			return nil, err
		}
		if status == http.StatusNotFound {
			log.Debug().Str("plan_id", planID).Msg("billing: plan not found, caching negative result")
			return nil, nil
		}
		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("billing: plan lookup returned status %d", status)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrPlanNotFound
	}
	return v.(map[string]any), nil
}

// GetBalanceCents returns the user's prepaid balance in integer cents.
func (c *Client) GetBalanceCents(ctx context.Context, userID, token string) (int64, error) {
	key := userID + ":" + token
	v, err := c.balanceCache.getOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		var body struct {
			BalanceCents int64 `json:"balance_cents"`
		}
		status, err := c.do(ctx, "/v1/users/"+userID+"/balance", token, &body)
		if err != nil {
			return nil, err
		}
		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("billing: balance lookup returned status %d", status)
		}
		return body.BalanceCents, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// ReportUsage posts a batch of usage records to the commerce back
// end's ingestion endpoint. Used by the usage reporter (C8).
func (c *Client) ReportUsage(ctx context.Context, records []gwmodels.UsageRecord) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	payload, err := json.Marshal(records)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/usage", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h := c.authHeader(""); h != "" {
		req.Header.Set("Authorization", h)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("billing: usage report returned status %d", resp.StatusCode)
	}
	return nil
}
