package gwhttp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hanzoai/gateway/internal/capabilities"
	"github.com/hanzoai/gateway/internal/connauth"
	"github.com/hanzoai/gateway/internal/identity"
	"github.com/hanzoai/gateway/internal/tenant"
	"github.com/hanzoai/gateway/pkg/gwmodels"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // origin.Policy is applied in handleWebSocketUpgrade before upgrading
}

// connectFrame is the first message a client must send after upgrade,
// per spec.md §6.
type connectFrame struct {
	Role     string            `json:"role"`
	Scopes   []string          `json:"scopes"`
	Caps     []string          `json:"caps"`
	Commands []string          `json:"commands"`
	Client   map[string]string `json:"client"`
	UserAgent string           `json:"userAgent"`
}

// handleWebSocketUpgrade implements C11's WebSocket endpoint: bearer
// extraction (header or query), C9 authorization, upgrade, connect
// frame read, tenant validation, session registration.
func (s *Server) handleWebSocketUpgrade(w http.ResponseWriter, r *http.Request) {
	if o := r.Header.Get("Origin"); o != "" && s.OriginPolicy != nil {
		if od := s.OriginPolicy.Check(r.Host, o); !od.Allowed {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": map[string]any{"reason": od.Reason}})
			return
		}
	}

	req := connauthRequestFrom(r)
	if req.BearerToken == "" {
		req.BearerToken = r.URL.Query().Get("token")
	}

	var validator connauth.Validator
	if s.Identity != nil {
		validator = identity.ConnauthAdapter{V: s.Identity}
	}

	decision := connauth.Authorize(r.Context(), s.ResolvedAuth, s.AllowMeshIdentity, s.MeshSuffix, req, validator, s.Limiter)
	if !decision.OK {
		writeAuthError(w, decision.Reason)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("gwhttp: websocket upgrade failed")
		return
	}
	defer conn.Close()

	idleTimeout := s.WSIdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 90 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))

	var frame connectFrame
	if err := conn.ReadJSON(&frame); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "expected connect frame"))
		return
	}

	validCaps, unknownCaps := capabilities.Filter(frame.Caps)
	if len(unknownCaps) > 0 {
		log.Debug().Strs("unknown_caps", unknownCaps).Msg("gwhttp: node declared unrecognized capabilities")
	}

	if decision.Identity != nil {
		if err := tenant.ValidateAccess(decision.Tenant, decision.Identity); err != nil {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
			return
		}
	}

	var sessionTenant *gwmodels.TenantContext
	if decision.Identity != nil {
		tc := decision.Tenant
		sessionTenant = &tc
	}

	role := gwmodels.ConnectRole(frame.Role)
	session := gwmodels.Session{
		ConnectionID: uuid.NewString(),
		ClientIP:     req.PeerAddr,
		Role:         role,
		Descriptor: gwmodels.NodeDescriptor{
			Role:      role,
			Scopes:    frame.Scopes,
			Caps:      validCaps,
			Commands:  frame.Commands,
			Client:    frame.Client,
			UserAgent: frame.UserAgent,
		},
		Tenant:      sessionTenant,
		Identity:    decision.Identity,
		Method:      decision.Method,
		ConnectedAt: newConnectedAt(),
	}

	s.Sessions.Put(session)
	defer s.Sessions.Remove(session.ConnectionID)

	ack, _ := json.Marshal(map[string]any{"accepted": true, "connectionId": session.ConnectionID})
	if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
		return
	}

	s.pumpUntilClose(conn, idleTimeout)
}

// pumpUntilClose reads frames until the peer closes or the idle
// timeout elapses without any frame; node/operator command routing
// is handled by the external agent engine and capability handlers
// (out of scope here per spec.md §1), so frames are only used to
// reset the idle deadline.
func (s *Server) pumpUntilClose(conn *websocket.Conn, idleTimeout time.Duration) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
	}
}
