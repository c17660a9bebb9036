package gwhttp

import (
	"encoding/json"
	"net/http"
	"time"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeAuthError maps a C9 failure reason to an HTTP status and the
// error envelope named in spec.md §7.
func writeAuthError(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"error": map[string]any{"reason": reason},
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.Version})
}

// handleListModels is a supplemented feature (not named in the
// distilled spec; see DESIGN.md): an OpenAI-compatible model listing
// derived from the known agent ids, so existing OpenAI client SDKs
// can populate a model picker against this gateway.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	data := []map[string]any{}
	now := time.Now().Unix()
	for id := range s.KnownAgentIDs {
		data = append(data, map[string]any{
			"id":       id,
			"object":   "model",
			"created":  now,
			"owned_by": "hanzo-gateway",
		})
	}
	data = append(data, map[string]any{
		"id":       s.DefaultAgentID,
		"object":   "model",
		"created":  now,
		"owned_by": "hanzo-gateway",
	})
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

// handleSessions is a supplemented diagnostic endpoint (see
// DESIGN.md) exposing the live session registry for operational
// visibility. It carries no secrets, only connection metadata, but
// that metadata (connection ids, org ids) still identifies live
// tenants, so the router wraps it in requireAuth like any other
// gated route rather than leaving it open.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	snapshot := s.Sessions.Snapshot()
	out := make([]map[string]any, 0, len(snapshot))
	for _, sess := range snapshot {
		orgID := ""
		if sess.Tenant != nil {
			orgID = sess.Tenant.OrgID
		}
		out = append(out, map[string]any{
			"connection_id": sess.ConnectionID,
			"role":          sess.Descriptor.Role,
			"method":        sess.Method,
			"org_id":        orgID,
			"connected_at":  sess.ConnectedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out, "count": len(out)})
}
