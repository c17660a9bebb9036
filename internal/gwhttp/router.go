package gwhttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/hanzoai/gateway/internal/openaiapi"
)

// NewRouter builds the gateway's HTTP handler: chi dispatch, shared
// middleware, the OpenAI adapter, the auth proxy, and the WebSocket
// upgrade endpoint, mirroring the teacher's router.NewRouter wiring
// order (internal/api/router.go).
func NewRouter(srv *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(srv.requestLogger)
	r.Use(tracingMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, rawOrigin string) bool {
			return srv.OriginPolicy.Check(r.Host, rawOrigin).Allowed
		},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", srv.handleHealthz)
	r.Get("/version", srv.handleVersion)
	r.Get("/v1/models", srv.handleListModels)
	r.Get("/internal/sessions", srv.requireAuth(srv.handleSessions))

	adapter := openaiapi.New(openaiapi.Deps{
		Gate:              srv.Gate,
		Usage:             srv.Usage,
		Bus:               srv.Bus,
		Engine:            srv.Engine,
		DefaultAgentID:    srv.DefaultAgentID,
		NoResponseMessage: srv.NoResponseMessage,
		KnownAgentIDs:     srv.KnownAgentIDs,
		IAMConfigured:     srv.IAMConfigured,
	})
	r.Post("/v1/chat/completions", srv.requireAuth(adapter.HandleChatCompletions))

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", srv.handleAuthLogin)
		r.Get("/callback", srv.handleAuthCallback)
		r.Post("/refresh", srv.handleAuthRefresh)
		r.Post("/logout", srv.handleAuthLogout)
		r.Get("/userinfo", srv.handleAuthUserinfo)
	})

	r.Get(srv.WSPath, srv.handleWebSocketUpgrade)

	return r
}
