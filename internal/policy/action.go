package policy

import (
	"fmt"
	"strings"
)

// Action is the closed set of operations a principal can request.
type Action string

// Actions.
const (
	ActionRead                Action = "read"
	ActionWrite               Action = "write"
	ActionAdminManageUsers    Action = "admin_manage_users"
	ActionAdminManageBranding Action = "admin_manage_branding"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionRead, ActionWrite, ActionAdminManageUsers, ActionAdminManageBranding:
		return true
	}
	return false
}

// Admin reports whether a is reserved for owners.
func (a Action) Admin() bool {
	return a == ActionAdminManageUsers || a == ActionAdminManageBranding
}

// ParseAction validates an action name coming from outside the process.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	return a, nil
}

// Decision is the outcome of an authorization check. The zero value denies.
type Decision int

// Decisions.
const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}
