// Package gwhttp is the HTTP/WS router (C11): chi-based dispatch,
// shared middleware (request id, logging, tracing, CORS, auth), the
// identity-provider OAuth proxy, and the WebSocket upgrade endpoint.
// Router wiring follows the teacher's internal/api/router.go; request
// logging and tracing adapt internal/api/middleware/logger.go and
// telemetry.go to the gateway's own context keys.
package gwhttp

import (
	"net/http"
	"time"

	"github.com/hanzoai/gateway/internal/billing"
	"github.com/hanzoai/gateway/internal/connauth"
	"github.com/hanzoai/gateway/internal/eventbus"
	"github.com/hanzoai/gateway/internal/identity"
	"github.com/hanzoai/gateway/internal/origin"
	"github.com/hanzoai/gateway/internal/usage"
	"github.com/hanzoai/gateway/pkg/gwcontracts"
	"github.com/hanzoai/gateway/pkg/gwmodels"
)

// Server bundles everything the router needs to dispatch requests. It
// has no behavior of its own beyond construction; NewRouter turns it
// into an http.Handler.
type Server struct {
	Version string

	ResolvedAuth      gwmodels.ResolvedAuth
	AllowMeshIdentity bool
	MeshSuffix        string

	OriginPolicy *origin.Policy
	Identity     *identity.Validator
	Limiter      *connauth.Limiter

	Gate     *billing.Gate
	Usage    *usage.Reporter
	Bus      *eventbus.Bus
	Engine   gwcontracts.AgentEngine
	IdentityClient gwcontracts.IdentityProviderClient

	IAMConfigured bool
	DefaultAgentID    string
	NoResponseMessage string
	KnownAgentIDs     map[string]struct{}

	WSPath        string
	WSIdleTimeout time.Duration
	MaxBodyBytes  int64

	Sessions *SessionRegistry
}

// NewServer wires a Server from resolved configuration and
// collaborators. Collaborators may be nil where a deployment doesn't
// configure that concern (e.g. no commerce client in personal mode).
func NewServer(version string, resolved gwmodels.ResolvedAuth, allowMesh bool, meshSuffix string) *Server {
	return &Server{
		Version:           version,
		ResolvedAuth:      resolved,
		AllowMeshIdentity: allowMesh,
		MeshSuffix:        meshSuffix,
		Sessions:          NewSessionRegistry(),
		KnownAgentIDs:     make(map[string]struct{}),
	}
}
