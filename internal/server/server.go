// Package server is the Control Surface: thin CRUD HTTP bindings over the
// data model of spec.md §3, plus the WebSocket upgrade route that hands
// off to the Stream Multiplexer.
//
// It generalises the teacher's internal/server (chi router, cookie auth,
// Postgres-backed handlers) by dropping the workspace/namespace/tunnel
// surface the teacher exposed for its multi-tenant K8s model, and adding
// the settings/MCP/session-history/extension routes spec.md §6 names.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agentserver/agentserver/internal/auth"
	"github.com/agentserver/agentserver/internal/db"
	"github.com/agentserver/agentserver/internal/extension"
	"github.com/agentserver/agentserver/internal/session"
	"github.com/agentserver/agentserver/internal/supervisor"
	"github.com/agentserver/agentserver/internal/workspace"
	"github.com/agentserver/agentserver/internal/ws"
)

// Server wires the Control Surface's dependencies: identity/persistence
// (Auth, DB), the workspace layout, the extension bundle, the sandbox
// Supervisor, the Session Manager, and the WebSocket Multiplexer.
type Server struct {
	Auth        *auth.Auth
	DB          *db.DB
	Layout      *workspace.Layout
	Supervisor  *supervisor.Supervisor
	Sessions    *session.Manager
	Extensions  *extension.Synchroniser
	TokenSigner *auth.TokenSigner
	Mux         *ws.Mux
}

func New(a *auth.Auth, database *db.DB, layout *workspace.Layout, sup *supervisor.Supervisor, sessions *session.Manager, syncer *extension.Synchroniser, signer *auth.TokenSigner, mux *ws.Mux) *Server {
	return &Server{
		Auth:        a,
		DB:          database,
		Layout:      layout,
		Supervisor:  sup,
		Sessions:    sessions,
		Extensions:  syncer,
		TokenSigner: signer,
		Mux:         mux,
	}
}

// Router builds the full chi mux: public auth routes, the WebSocket
// upgrade, and the cookie-authenticated CRUD surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Post("/api/auth/login", s.handleLogin)
	r.Post("/api/auth/register", s.handleRegister)
	r.Get("/api/auth/check", s.handleAuthCheck)
	r.Post("/api/auth/logout", s.handleLogout)

	r.Get("/ws", s.Mux.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.Middleware)

		r.Get("/api/auth/me", s.handleMe)

		r.Get("/api/users/settings/{provider}", s.handleGetSettings)
		r.Put("/api/users/settings/{provider}", s.handlePutSettings)
		r.Get("/api/users/settings/{provider}/defaults", s.handleSettingsDefaults)

		r.Get("/api/users/mcp-servers", s.handleListMcpServers)
		r.Post("/api/users/mcp-servers", s.handleCreateMcpServer)
		r.Get("/api/users/mcp-servers/{name}", s.handleGetMcpServer)
		r.Put("/api/users/mcp-servers/{name}", s.handleUpdateMcpServer)
		r.Delete("/api/users/mcp-servers/{name}", s.handleDeleteMcpServer)
		r.Post("/api/users/mcp-servers/{name}/test", s.handleTestMcpServer)
		r.Get("/api/users/mcp-servers/{name}/tools", s.handleMcpServerTools)

		r.Get("/api/projects/{name}/sessions/{id}/messages", s.handleSessionMessages)

		r.Get("/api/extensions", s.handleListExtensions)

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/users", s.handleAdminListUsers)
			r.Put("/users/{id}/role", s.handleAdminUpdateUserRole)
			r.Post("/extensions/sync-all", s.handleSyncAllExtensions)
			r.Post("/extensions/sync-user", s.handleSyncUserExtension)
		})
	})

	return r
}
