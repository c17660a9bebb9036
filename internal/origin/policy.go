// Package origin implements the browser origin/CORS allow policy (C1).
//
// The decision tree is grounded on the teacher's parseCORSOrigins and
// go-chi/cors wiring in internal/api/router.go, generalized into a
// standalone, independently testable policy object that also answers
// the gateway's own OAuth-proxy preflight requests.
package origin

import (
	"net"
	"net/url"
	"strings"
	"sync"
)

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed bool
	Reason  string
}

// allow builds an allowed Decision.
func allow() Decision { return Decision{Allowed: true} }

// deny builds a denied Decision with the given reason.
func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Policy decides whether a browser request's Origin header is
// permitted, per spec.md §4.1. AllowedOrigins is the static,
// configured allow-list; the runtime allow-set is mutable and
// populated by the tunnel supervisor (C13) when a public origin comes
// online.
type Policy struct {
	AllowedOrigins []string

	mu       sync.RWMutex
	runtime  map[string]struct{}
}

// NewPolicy creates a Policy from a static, configured allow-list.
// Origins are lower-cased at construction time.
func NewPolicy(allowedOrigins []string) *Policy {
	p := &Policy{
		runtime: make(map[string]struct{}),
	}
	for _, o := range allowedOrigins {
		p.AllowedOrigins = append(p.AllowedOrigins, strings.ToLower(strings.TrimSpace(o)))
	}
	return p
}

// Add inserts an origin into the runtime allow-set.
func (p *Policy) Add(origin string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runtime[strings.ToLower(origin)] = struct{}{}
}

// Remove deletes an origin from the runtime allow-set.
func (p *Policy) Remove(origin string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.runtime, strings.ToLower(origin))
}

// Clear empties the runtime allow-set.
func (p *Policy) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runtime = make(map[string]struct{})
}

// Check evaluates the six-rule decision tree from spec.md §4.1.
func (p *Policy) Check(requestHost, origin string) Decision {
	if origin == "" || strings.EqualFold(origin, "null") {
		return deny("origin missing or invalid")
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return deny("origin missing or invalid")
	}
	normalizedOrigin := strings.ToLower(u.Scheme + "://" + u.Host)

	// Rule 2: static allow-list.
	for _, o := range p.AllowedOrigins {
		if o == normalizedOrigin {
			return allow()
		}
	}

	// Rule 3: runtime allow-set.
	p.mu.RLock()
	_, inRuntime := p.runtime[normalizedOrigin]
	p.mu.RUnlock()
	if inRuntime {
		return allow()
	}

	// Rule 4: origin authority equals the normalized request host.
	normalizedHost := strings.ToLower(requestHost)
	if u.Host == normalizedHost || strings.EqualFold(u.Hostname(), normalizedHost) {
		return allow()
	}

	// Rule 5: both sides loopback.
	if isLoopbackHost(u.Hostname()) && isLoopbackHost(hostOnly(normalizedHost)) {
		return allow()
	}

	return deny("origin not allowed")
}

func hostOnly(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
