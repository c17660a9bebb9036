package origin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_StaticAllowList(t *testing.T) {
	p := NewPolicy([]string{"https://app.example"})
	d := p.Check("gateway", "https://app.example")
	assert.True(t, d.Allowed)
}

func TestCheck_CaseInsensitive(t *testing.T) {
	p := NewPolicy([]string{"https://a.com"})
	d1 := p.Check("gateway", "HTTPS://A.COM")
	d2 := p.Check("gateway", "https://a.com")
	require.Equal(t, d1.Allowed, d2.Allowed)
	assert.True(t, d1.Allowed)
}

func TestCheck_DeniesUnknownOrigin(t *testing.T) {
	p := NewPolicy([]string{"https://app.example"})
	d := p.Check("gateway", "https://evil.example")
	assert.False(t, d.Allowed)
	assert.Equal(t, "origin not allowed", d.Reason)
}

func TestCheck_LoopbackBothSides(t *testing.T) {
	p := NewPolicy(nil)
	d := p.Check("localhost:18789", "http://127.0.0.1:3000")
	assert.True(t, d.Allowed)
}

func TestCheck_MissingOrigin(t *testing.T) {
	p := NewPolicy(nil)
	assert.False(t, p.Check("gateway", "").Allowed)
	assert.False(t, p.Check("gateway", "null").Allowed)
}

func TestCheck_RequestHostMatch(t *testing.T) {
	p := NewPolicy(nil)
	d := p.Check("gateway.example:443", "https://gateway.example:443")
	assert.True(t, d.Allowed)
}

func TestRuntimeAllowSet(t *testing.T) {
	p := NewPolicy(nil)
	assert.False(t, p.Check("gateway", "https://tunnel.trycloudflare.com").Allowed)

	p.Add("https://tunnel.trycloudflare.com")
	assert.True(t, p.Check("gateway", "https://tunnel.trycloudflare.com").Allowed)

	p.Remove("https://tunnel.trycloudflare.com")
	assert.False(t, p.Check("gateway", "https://tunnel.trycloudflare.com").Allowed)

	p.Add("https://a.com")
	p.Clear()
	assert.False(t, p.Check("gateway", "https://a.com").Allowed)
}

func TestCheck_OrderIndependentOfAllowListOrdering(t *testing.T) {
	p1 := NewPolicy([]string{"https://a.com", "https://b.com"})
	p2 := NewPolicy([]string{"https://b.com", "https://a.com"})
	assert.Equal(t, p1.Check("gw", "https://a.com").Allowed, p2.Check("gw", "https://a.com").Allowed)
	assert.Equal(t, p1.Check("gw", "https://b.com").Allowed, p2.Check("gw", "https://b.com").Allowed)
}
