package gwhttp

import (
	"encoding/json"
	"errors"
	"net/http"
)

// The /auth/* endpoints proxy to the configured identity provider so
// that client secrets never leave the server, per spec.md §4.11.

func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	if s.IdentityClient == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": map[string]any{"message": "identity provider not configured"}})
		return
	}
	q := r.URL.Query()
	url := s.IdentityClient.AuthorizeURL(
		q.Get("redirect_uri"),
		q.Get("state"),
		q.Get("scope"),
		q.Get("code_challenge"),
		q.Get("code_challenge_method"),
	)
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.IdentityClient == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": map[string]any{"message": "identity provider not configured"}})
		return
	}
	q := r.URL.Query()
	bundle, err := s.IdentityClient.ExchangeCode(r.Context(), q.Get("code"), q.Get("redirect_uri"), q.Get("code_verifier"))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": map[string]any{"message": err.Error()}})
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	if s.IdentityClient == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": map[string]any{"message": "identity provider not configured"}})
		return
	}
	withBodyLimit(r, w, s.MaxBodyBytes)
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		status := http.StatusBadRequest
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, map[string]any{"error": map[string]any{"message": err.Error()}})
		return
	}
	bundle, err := s.IdentityClient.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": map[string]any{"message": err.Error()}})
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAuthUserinfo(w http.ResponseWriter, r *http.Request) {
	if s.IdentityClient == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": map[string]any{"message": "identity provider not configured"}})
		return
	}
	token := bearerFrom(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"reason": "token_missing"}})
		return
	}
	info, err := s.IdentityClient.UserInfo(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": map[string]any{"message": err.Error()}})
		return
	}
	writeJSON(w, http.StatusOK, info)
}
