// Package gwmodels holds the wire and data types shared across the
// gateway's components. Types here are the boundary between packages —
// the same role pkg/models plays for the teacher's control plane.
package gwmodels

import "time"

// AuthMode names one of the four ways a connection or request can be
// authenticated, per spec.md §3.
type AuthMode string

const (
	AuthModeToken    AuthMode = "token"
	AuthModePassword AuthMode = "password"
	AuthModeIdentity AuthMode = "identity"
	AuthModeMesh     AuthMode = "mesh"
)

// AuthConfig is the tagged-variant auth configuration as loaded from
// the environment, before secret references are resolved. Token and
// Password may carry a "kms://NAME" reference instead of a literal.
type AuthConfig struct {
	Mode              AuthMode
	Token             string
	Password          string
	AllowMeshIdentity bool
}

// ResolvedAuth is the sole source consulted by the connection
// authorizer at request time — reference strings never reach it.
type ResolvedAuth struct {
	Mode              AuthMode
	Token             string
	Password          string
	AllowMeshIdentity bool
}

// IdentityClaims are the immutable, validated claims produced by the
// identity-token validator (C4).
type IdentityClaims struct {
	UserID      string
	Email       string
	DisplayName string
	Owner       string
	OrgIDs      []string
	Roles       []string
	RawClaims   map[string]any
}

// TenantContext scopes a request or connection to an org/project/user,
// per spec.md §3.
type TenantContext struct {
	OrgID     string
	ProjectID string
	UserID    string
	UserName  string
	Env       string
}

// SubscriptionStatus is the commerce back end's view of an org's plan.
type SubscriptionStatus struct {
	Active       bool
	Subscription map[string]any
	Plan         map[string]any
}

// UsageRecord is immutable once enqueued by the usage reporter (C8).
type UsageRecord struct {
	Tenant           TenantContext
	Model            string
	Provider         string
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
	TotalTokens      int
	DurationMs       int64
	Timestamp        time.Time
}

// ConnectRole distinguishes the two WebSocket populations.
type ConnectRole string

const (
	RoleNode     ConnectRole = "node"
	RoleOperator ConnectRole = "operator"
)

// ClientInfo is free-form metadata a peer sends about itself in the
// connect frame (app version, platform, device model, ...).
type ClientInfo map[string]string

// NodeDescriptor is the connect-frame payload a WebSocket peer sends
// immediately after upgrade, declaring its role and capabilities.
type NodeDescriptor struct {
	Role      ConnectRole
	Scopes    []string
	Caps      []string
	Commands  []string
	Client    ClientInfo
	UserAgent string
}

// AuthMethod names which authorizer path accepted a connection. The
// legacy "tailscale" value is kept for the mesh-identity path for
// compatibility with existing externally-observed values (spec.md §4.9).
type AuthMethod string

const (
	AuthMethodToken    AuthMethod = "token"
	AuthMethodPassword AuthMethod = "password"
	AuthMethodIdentity AuthMethod = "identity"
	AuthMethodMesh     AuthMethod = "tailscale"
)

// AuthDecision is the outcome of the connection authorizer (C9).
type AuthDecision struct {
	OK       bool
	Method   AuthMethod
	UserID   string
	Identity *IdentityClaims
	Tenant   *TenantContext
	Reason   string
}

// Session is a live WebSocket connection owned by the router.
type Session struct {
	ConnectionID string
	PresenceKey  string
	ClientIP     string
	Role         ConnectRole
	Descriptor   NodeDescriptor
	Tenant       *TenantContext
	Identity     *IdentityClaims
	Method       AuthMethod
	ConnectedAt  time.Time
}

// TunnelProvider names one of the supported egress-tunnel binaries.
type TunnelProvider string

const (
	TunnelCloudflared TunnelProvider = "cloudflared"
	TunnelNgrok       TunnelProvider = "ngrok"
	TunnelLocalXpose  TunnelProvider = "localxpose"
	TunnelZrok        TunnelProvider = "zrok"
	TunnelNone        TunnelProvider = "none"
)

// TunnelConfig configures a single tunnel start request.
type TunnelConfig struct {
	Provider  TunnelProvider
	Port      int
	AuthToken string
	Domain    string
}

// TunnelHandle is the live handle to a started tunnel child process.
type TunnelHandle struct {
	PublicURL    string
	PublicOrigin string
	Provider     TunnelProvider
	Stop         func()
}
