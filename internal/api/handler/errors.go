package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/d9705996/clientpulse/internal/api/jsonapi"
	"github.com/d9705996/clientpulse/internal/auth"
	"github.com/d9705996/clientpulse/internal/identity"
	"github.com/d9705996/clientpulse/internal/ingest"
	"github.com/d9705996/clientpulse/internal/invite"
	"github.com/d9705996/clientpulse/internal/policy"
	"github.com/d9705996/clientpulse/internal/store"
	"github.com/d9705996/clientpulse/internal/tenant"
	"github.com/d9705996/clientpulse/internal/worker"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is checked in order; the first errors.Is match wins.
var errorMappings = []errorMapping{
	{policy.ErrUnauthorized, http.StatusForbidden, "forbidden"},
	{identity.ErrResolutionUnavailable, http.StatusServiceUnavailable, "resolution_unavailable"},
	{policy.ErrLastOwnerRevocation, http.StatusConflict, "last_owner"},

	{invite.ErrInvitationNotFound, http.StatusNotFound, "invitation_not_found"},
	{invite.ErrInvitationAlreadyUsed, http.StatusConflict, "invitation_used"},
	{invite.ErrInvitationExpired, http.StatusGone, "invitation_expired"},
	{invite.ErrInvitationRevoked, http.StatusGone, "invitation_revoked"},
	{invite.ErrInvalidInvitation, http.StatusUnprocessableEntity, "invalid_invitation"},

	{store.ErrTenantNotFound, http.StatusNotFound, "tenant_not_found"},
	{store.ErrFeedNotFound, http.StatusNotFound, "feed_not_found"},
	{store.ErrPrincipalNotFound, http.StatusNotFound, "principal_not_found"},
	{store.ErrGrantNotFound, http.StatusNotFound, "grant_not_found"},
	{store.ErrDuplicateSlug, http.StatusConflict, "duplicate_slug"},
	{store.ErrPrincipalExists, http.StatusConflict, "principal_exists"},
	{store.ErrConflict, http.StatusConflict, "conflict"},

	{tenant.ErrInvalidTenant, http.StatusUnprocessableEntity, "invalid_tenant"},
	{policy.ErrInvalidGrant, http.StatusUnprocessableEntity, "invalid_grant"},
	{policy.ErrUnknownAction, http.StatusUnprocessableEntity, "unknown_action"},
	{ingest.ErrUnknownSource, http.StatusUnprocessableEntity, "unknown_source"},
	{ingest.ErrMalformedObservation, http.StatusUnprocessableEntity, "malformed_observation"},
	{auth.ErrInvalidRegistration, http.StatusUnprocessableEntity, "invalid_registration"},
	{jsonapi.ErrBadBody, http.StatusBadRequest, "invalid_body"},

	{worker.ErrQueueDisabled, http.StatusConflict, "queue_disabled"},
}

// renderError writes the JSON:API error for err. Unmapped errors are logged
// and reported as a bare 500 so internals do not leak.
func renderError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			jsonapi.RenderError(w, m.status, m.code, http.StatusText(m.status), err.Error())
			return
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		jsonapi.RenderError(w, http.StatusServiceUnavailable, "request_cancelled",
			http.StatusText(http.StatusServiceUnavailable), "the request was cancelled before it completed")
		return
	}
	log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	jsonapi.RenderError(w, http.StatusInternalServerError, "internal_error",
		http.StatusText(http.StatusInternalServerError), "an unexpected error occurred")
}
