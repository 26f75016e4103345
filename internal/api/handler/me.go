package handler

import (
	"log/slog"
	"net/http"

	"github.com/d9705996/clientpulse/internal/api/jsonapi"
	"github.com/d9705996/clientpulse/internal/api/middleware"
	"github.com/d9705996/clientpulse/internal/auth"
	"github.com/d9705996/clientpulse/internal/policy"
)

// MeHandler handles GET /api/v1/me.
type MeHandler struct {
	accounts *auth.Accounts
	engine   *policy.Engine
	log      *slog.Logger
}

// NewMeHandler creates a MeHandler.
func NewMeHandler(accounts *auth.Accounts, engine *policy.Engine, log *slog.Logger) *MeHandler {
	return &MeHandler{accounts: accounts, engine: engine, log: log}
}

type tenantRoleAttrs struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

type meAttrs struct {
	Email      string            `json:"email"`
	Name       string            `json:"name"`
	GlobalRole string            `json:"global_role"`
	Tenants    []tenantRoleAttrs `json:"tenants"`
}

// Get returns the caller and the access they currently resolve to.
func (h *MeHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.accounts.Active(ctx, middleware.PrincipalID(ctx))
	if err != nil {
		jsonapi.RenderError(w, http.StatusUnauthorized, "user_not_found", "Unauthorized", "principal does not exist or is deactivated")
		return
	}
	id, err := h.engine.Resolve(ctx, p.ID)
	if err != nil {
		renderError(w, r, h.log, err)
		return
	}
	tenants := make([]tenantRoleAttrs, 0, len(id.Tenants))
	for _, tg := range id.Tenants {
		tenants = append(tenants, tenantRoleAttrs{TenantID: tg.TenantID, Role: string(tg.Role)})
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type: "principals",
		ID:   p.ID,
		Attributes: meAttrs{
			Email:      p.Email,
			Name:       p.Name,
			GlobalRole: string(id.GlobalRole),
			Tenants:    tenants,
		},
	})
}
