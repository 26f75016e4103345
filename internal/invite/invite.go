// Package invite implements the invitation lifecycle: an authorized inviter
// creates an invitation carrying a one-time bearer token, and accepting that
// token turns it into exactly one grant.
package invite

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/d9705996/clientpulse/internal/model"
	"github.com/d9705996/clientpulse/internal/policy"
	"github.com/d9705996/clientpulse/internal/store"
)

// Distinct reasons an invitation cannot be acted on. All of them leave access
// unchanged.
var (
	ErrInvitationNotFound    = errors.New("invitation not found")
	ErrInvitationAlreadyUsed = errors.New("invitation already used")
	ErrInvitationExpired     = errors.New("invitation expired")
	ErrInvitationRevoked     = errors.New("invitation revoked")
	ErrInvalidInvitation     = errors.New("invalid invitation")
)

// DefaultTTL is how long an invitation stays actionable.
const DefaultTTL = 7 * 24 * time.Hour

// CreateRequest asks for an invitation. A nil TenantID invites to a global
// role.
type CreateRequest struct {
	Email    string
	TenantID *string
	Role     model.Role
}

// Created is a new invitation together with its raw token. The token is not
// stored and cannot be recovered later.
type Created struct {
	Invitation model.Invitation
	Token      string
}

// Service runs the invitation lifecycle.
type Service struct {
	store  *store.Store
	engine *policy.Engine
	ttl    time.Duration
	log    *slog.Logger
	now    func() time.Time
}

// NewService returns a Service. A ttl of zero uses DefaultTTL.
func NewService(st *store.Store, engine *policy.Engine, ttl time.Duration, log *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		store:  st,
		engine: engine,
		ttl:    ttl,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create issues an invitation. The inviter needs admin_manage_users on the
// target tenant, or at global scope for a global role.
func (s *Service) Create(ctx context.Context, inviter string, req CreateRequest) (Created, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		return Created{}, fmt.Errorf("%w: email %q: %v", ErrInvalidInvitation, req.Email, err)
	}
	if !req.Role.Valid() {
		return Created{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInvitation, req.Role)
	}
	if req.Role == model.RoleOwner && req.TenantID != nil {
		return Created{}, fmt.Errorf("%w: owner can only be granted globally", policy.ErrInvalidGrant)
	}

	if err := s.engine.Require(ctx, inviter, req.TenantID, policy.ActionAdminManageUsers); err != nil {
		return Created{}, err
	}
	if req.TenantID != nil {
		if _, err := s.store.TenantKind(ctx, *req.TenantID); err != nil {
			return Created{}, err
		}
	}

	token, err := generateToken()
	if err != nil {
		return Created{}, fmt.Errorf("generate invitation token: %w", err)
	}
	now := s.now()
	inv := model.Invitation{
		Email:     strings.ToLower(addr.Address),
		TenantID:  req.TenantID,
		Role:      req.Role,
		TokenHash: hashToken(token),
		InvitedBy: inviter,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.store.CreateInvitation(ctx, &inv); err != nil {
		return Created{}, err
	}
	s.log.InfoContext(ctx, "invitation created",
		"invitation_id", inv.ID, "inviter", inviter, "role", string(inv.Role), "expires_at", inv.ExpiresAt)
	return Created{Invitation: inv, Token: token}, nil
}

// Accept consumes the invitation behind token and grants its role to
// principalID. Marking the invitation used and applying the grant happen in
// one transaction; a concurrent second accept fails with
// ErrInvitationAlreadyUsed.
func (s *Service) Accept(ctx context.Context, token, principalID string) (model.Grant, error) {
	inv, err := s.store.GetInvitationByTokenHash(ctx, hashToken(strings.TrimSpace(token)))
	if errors.Is(err, store.ErrInvitationNotFound) {
		return model.Grant{}, ErrInvitationNotFound
	}
	if err != nil {
		return model.Grant{}, err
	}
	now := s.now()
	if err := statusErr(inv.Status(now)); err != nil {
		return model.Grant{}, err
	}

	var grant model.Grant
	err = s.engine.WithGrantTx(ctx, func(tx *policy.GrantTx) error {
		ok, err := tx.Store().MarkInvitationUsed(ctx, inv.ID, principalID, now)
		if err != nil {
			return err
		}
		if !ok {
			cur, err := tx.Store().GetInvitation(ctx, inv.ID)
			if err != nil {
				return err
			}
			if err := statusErr(cur.Status(now)); err != nil {
				return err
			}
			return ErrInvitationAlreadyUsed
		}
		grant, err = tx.Apply(ctx, principalID, inv.TenantID, inv.Role)
		return err
	})
	if err != nil {
		return model.Grant{}, err
	}
	s.log.InfoContext(ctx, "invitation accepted",
		"invitation_id", inv.ID, "principal_id", principalID, "role", string(grant.Role))
	return grant, nil
}

// Revoke withdraws a pending invitation. Revoking twice is a no-op; a used
// invitation cannot be revoked.
func (s *Service) Revoke(ctx context.Context, actor, id string) (model.Invitation, error) {
	inv, err := s.get(ctx, id)
	if err != nil {
		return model.Invitation{}, err
	}
	if err := s.engine.Require(ctx, actor, inv.TenantID, policy.ActionAdminManageUsers); err != nil {
		return model.Invitation{}, err
	}
	switch inv.Status(s.now()) {
	case model.InvitationRevoked:
		return inv, nil
	case model.InvitationAccepted:
		return model.Invitation{}, ErrInvitationAlreadyUsed
	}

	ok, err := s.store.RevokeInvitation(ctx, inv.ID, s.now())
	if err != nil {
		return model.Invitation{}, err
	}
	inv, err = s.get(ctx, id)
	if err != nil {
		return model.Invitation{}, err
	}
	if !ok && inv.UsedAt != nil {
		return model.Invitation{}, ErrInvitationAlreadyUsed
	}
	s.log.InfoContext(ctx, "invitation revoked", "invitation_id", id, "actor", actor)
	return inv, nil
}

// List returns the invitations of one tenant, or of every scope when
// tenantID is nil. It needs admin_manage_users on that scope.
func (s *Service) List(ctx context.Context, actor string, tenantID *string) ([]model.Invitation, error) {
	if err := s.engine.Require(ctx, actor, tenantID, policy.ActionAdminManageUsers); err != nil {
		return nil, err
	}
	return s.store.ListInvitations(ctx, tenantID)
}

// Now returns the service clock, used to derive invitation status.
func (s *Service) Now() time.Time { return s.now() }

func (s *Service) get(ctx context.Context, id string) (model.Invitation, error) {
	inv, err := s.store.GetInvitation(ctx, id)
	if errors.Is(err, store.ErrInvitationNotFound) {
		return model.Invitation{}, ErrInvitationNotFound
	}
	return inv, err
}

func statusErr(st model.InvitationStatus) error {
	switch st {
	case model.InvitationAccepted:
		return ErrInvitationAlreadyUsed
	case model.InvitationExpired:
		return ErrInvitationExpired
	case model.InvitationRevoked:
		return ErrInvitationRevoked
	}
	return nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
