// Package api wires all API routes onto the provided ServeMux.
package api

import (
	"net/http"

	"github.com/d9705996/clientpulse/internal/api/handler"
	"github.com/d9705996/clientpulse/internal/api/jsonapi"
	"github.com/d9705996/clientpulse/internal/api/middleware"
	"github.com/d9705996/clientpulse/internal/health"
)

// Handlers groups the resource handlers mounted by RegisterRoutes.
type Handlers struct {
	Health       *health.Handler
	Auth         *handler.AuthHandler
	Me           *handler.MeHandler
	Tenants      *handler.TenantHandler
	Observations *handler.ObservationHandler
	Grants       *handler.GrantHandler
	Invitations  *handler.InvitationHandler
	Metrics      http.Handler // optional; mounted on GET /metrics
}

// RegisterRoutes registers all application routes on mux.
func RegisterRoutes(mux *http.ServeMux, h Handlers, jwtSecret string) {
	// Public health endpoints (no auth required)
	mux.HandleFunc("GET /api/v1/health", h.Health.ServeHealth)
	mux.HandleFunc("GET /api/v1/ready", h.Health.ServeReady)
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}

	// Auth endpoints (no auth required)
	mux.HandleFunc("POST /api/v1/auth/login", h.Auth.Login)
	mux.HandleFunc("POST /api/v1/auth/refresh", h.Auth.Refresh)
	mux.HandleFunc("POST /api/v1/auth/register", h.Auth.Register)

	// Auth-required routes. Authorization happens per operation in the
	// policy engine.
	protected := middleware.RequireAuth(jwtSecret)
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, protected(fn))
	}

	handle("POST /api/v1/auth/logout", h.Auth.Logout)
	handle("GET /api/v1/me", h.Me.Get)

	handle("GET /api/v1/tenants", h.Tenants.List)
	handle("POST /api/v1/tenants", h.Tenants.Create)
	handle("GET /api/v1/tenants/{id}", h.Tenants.Get)
	handle("PATCH /api/v1/tenants/{id}", h.Tenants.Update)
	handle("DELETE /api/v1/tenants/{id}", h.Tenants.Delete)
	handle("POST /api/v1/tenants/{id}/feeds", h.Tenants.AddFeed)
	handle("PATCH /api/v1/tenants/{id}/feeds/{feedID}", h.Tenants.UpdateFeed)
	handle("DELETE /api/v1/tenants/{id}/feeds/{feedID}", h.Tenants.RemoveFeed)

	handle("POST /api/v1/tenants/{id}/observations", h.Observations.Merge)
	handle("GET /api/v1/tenants/{id}/series", h.Observations.Series)

	handle("PUT /api/v1/grants", h.Grants.Put)
	handle("DELETE /api/v1/grants", h.Grants.Delete)

	handle("GET /api/v1/invitations", h.Invitations.List)
	handle("POST /api/v1/invitations", h.Invitations.Create)
	handle("POST /api/v1/invitations/accept", h.Invitations.Accept)
	handle("POST /api/v1/invitations/{id}/revoke", h.Invitations.Revoke)

	// Catch-all 404
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		jsonapi.RenderError(w, http.StatusNotFound, "not_found", "Not Found", "no route for "+r.Method+" "+r.URL.Path)
	})
}
