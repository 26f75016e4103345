package model

import (
	"fmt"
	"strings"
)

// Role is the closed set of roles a grant can carry.
type Role string

// Roles, strongest first.
const (
	RoleOwner    Role = "owner"
	RoleOperator Role = "operator"
	RoleMember   Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleOperator, RoleMember:
		return true
	}
	return false
}

// ParseRole validates a role name coming from outside the process.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// TenantKind distinguishes client dashboards from the operator's own.
type TenantKind string

// Tenant kinds.
const (
	TenantStandard          TenantKind = "standard"
	TenantInternalDashboard TenantKind = "internal-operator-dashboard"
)

// Valid reports whether k is a known tenant kind.
func (k TenantKind) Valid() bool {
	return k == TenantStandard || k == TenantInternalDashboard
}

// ParseTenantKind validates a tenant kind; empty means standard.
func ParseTenantKind(s string) (TenantKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return TenantStandard, nil
	}
	k := TenantKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown tenant kind %q", s)
	}
	return k, nil
}

// FeedKind is the type of external source a feed reads from.
type FeedKind string

// Feed kinds.
const (
	FeedSpreadsheet FeedKind = "spreadsheet"
	FeedFileImport  FeedKind = "file-import"
)

// ParseFeedKind validates a feed kind.
func ParseFeedKind(s string) (FeedKind, error) {
	k := FeedKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case FeedSpreadsheet, FeedFileImport:
		return k, nil
	}
	return "", fmt.Errorf("unknown feed kind %q", s)
}

// ValueKind says whether an observation is a raw actual, a goal or derived.
type ValueKind string

// Value kinds.
const (
	ValueActual     ValueKind = "actual"
	ValueTarget     ValueKind = "target"
	ValueCalculated ValueKind = "calculated"
)

// ParseValueKind validates a value kind; empty means actual.
func ParseValueKind(s string) (ValueKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ValueActual, nil
	}
	k := ValueKind(s)
	switch k {
	case ValueActual, ValueTarget, ValueCalculated:
		return k, nil
	}
	return "", fmt.Errorf("unknown value kind %q", s)
}

// InvitationStatus is the derived lifecycle state of an invitation.
type InvitationStatus string

// Invitation states.
const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
	InvitationRevoked  InvitationStatus = "revoked"
)
