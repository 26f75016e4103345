package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/d9705996/clientpulse/internal/api/jsonapi"
	"github.com/d9705996/clientpulse/internal/api/middleware"
	"github.com/d9705996/clientpulse/internal/model"
	"github.com/d9705996/clientpulse/internal/policy"
)

// GrantHandler handles /api/v1/grants.
type GrantHandler struct {
	engine *policy.Engine
	log    *slog.Logger
}

// NewGrantHandler creates a GrantHandler.
func NewGrantHandler(engine *policy.Engine, log *slog.Logger) *GrantHandler {
	return &GrantHandler{engine: engine, log: log}
}

type grantBody struct {
	PrincipalID string  `json:"principal_id"`
	TenantID    *string `json:"tenant_id"`
	Role        string  `json:"role"`
}

type grantAttrs struct {
	PrincipalID string    `json:"principal_id"`
	TenantID    *string   `json:"tenant_id"`
	Role        string    `json:"role"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func grantResource(g model.Grant) jsonapi.ResourceObject {
	return jsonapi.ResourceObject{
		Type: "grants",
		ID:   g.ID,
		Attributes: grantAttrs{
			PrincipalID: g.PrincipalID,
			TenantID:    g.TenantID,
			Role:        string(g.Role),
			UpdatedAt:   g.UpdatedAt,
		},
	}
}

// Put handles PUT /api/v1/grants. It creates or replaces the principal's
// grant on the scope; a null tenant_id means the global scope.
func (h *GrantHandler) Put(w http.ResponseWriter, r *http.Request) {
	var body grantBody
	if err := jsonapi.Decode(r, &body); err != nil {
		renderError(w, r, h.log, err)
		return
	}
	role, err := model.ParseRole(body.Role)
	if err != nil {
		renderError(w, r, h.log, fmt.Errorf("%w: %v", policy.ErrInvalidGrant, err))
		return
	}
	g, err := h.engine.SetGrant(r.Context(), middleware.PrincipalID(r.Context()), body.PrincipalID, body.TenantID, role)
	if err != nil {
		renderError(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, grantResource(g))
}

// Delete handles DELETE /api/v1/grants?principal_id=...&tenant_id=...
// Omitting tenant_id revokes the global grant.
func (h *GrantHandler) Delete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	principalID := q.Get("principal_id")
	if principalID == "" {
		jsonapi.RenderError(w, http.StatusUnprocessableEntity, "missing_field", "Unprocessable Entity", "principal_id is required")
		return
	}
	var tenantID *string
	if t := q.Get("tenant_id"); t != "" {
		tenantID = &t
	}
	if err := h.engine.RevokeGrant(r.Context(), middleware.PrincipalID(r.Context()), principalID, tenantID); err != nil {
		renderError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
