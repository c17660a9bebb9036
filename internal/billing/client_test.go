package billing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hanzoai/gateway/pkg/gwmodels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSubscriptionStatus_CachesAcrossCalls(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"subscription": map[string]any{"status": "active"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-token", 5*time.Second, time.Minute)
	s1, err := c.GetSubscriptionStatus(t.Context(), "acme", "user-token")
	require.NoError(t, err)
	assert.True(t, s1.Active)

	s2, err := c.GetSubscriptionStatus(t.Context(), "acme", "user-token")
	require.NoError(t, err)
	assert.True(t, s2.Active)

	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestGetSubscriptionStatus_KeyedByToken(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{"subscription": map[string]any{"status": "active"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-token", 5*time.Second, time.Minute)
	_, err := c.GetSubscriptionStatus(t.Context(), "acme", "user-a")
	require.NoError(t, err)
	_, err = c.GetSubscriptionStatus(t.Context(), "acme", "user-b")
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestGetPlan_NotFoundCachedNegative(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-token", 5*time.Second, time.Minute)
	_, err := c.GetPlan(t.Context(), "missing-plan", "token")
	assert.ErrorIs(t, err, ErrPlanNotFound)
	_, err = c.GetPlan(t.Context(), "missing-plan", "token")
	assert.ErrorIs(t, err, ErrPlanNotFound)

	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestGetBalanceCents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"balance_cents": int64(4250)})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-token", 5*time.Second, time.Minute)
	bal, err := c.GetBalanceCents(t.Context(), "user-1", "token")
	require.NoError(t, err)
	assert.EqualValues(t, 4250, bal)
}

func TestReportUsage_PostsBatch(t *testing.T) {
	var received []gwmodels.UsageRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-token", 5*time.Second, time.Minute)
	err := c.ReportUsage(t.Context(), []gwmodels.UsageRecord{
		{Tenant: gwmodels.TenantContext{OrgID: "acme"}, Model: "gpt-4o", InputTokens: 10, OutputTokens: 20},
	})
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "acme", received[0].Tenant.OrgID)
}

func TestReportUsage_ErrorsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-token", 5*time.Second, time.Minute)
	err := c.ReportUsage(t.Context(), []gwmodels.UsageRecord{{Tenant: gwmodels.TenantContext{OrgID: "acme"}}})
	assert.Error(t, err)
}
