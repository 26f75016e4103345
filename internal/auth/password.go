package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/d9705996/clientpulse/internal/model"
	"github.com/d9705996/clientpulse/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 12

var (
	// ErrInvalidCredentials covers unknown emails, wrong passwords and
	// deactivated principals alike.
	ErrInvalidCredentials = errors.New("email or password is incorrect")
	// ErrInvalidRegistration is returned for malformed registration input.
	ErrInvalidRegistration = errors.New("invalid registration")
)

// Accounts authenticates principals with email and password. New principals
// get no grants; access comes from invitations or an admin.
type Accounts struct {
	store *store.Store
}

// NewAccounts returns Accounts over st.
func NewAccounts(st *store.Store) *Accounts {
	return &Accounts{store: st}
}

// Register creates a principal with a bcrypt-hashed password.
func (a *Accounts) Register(ctx context.Context, email, name, password string) (model.Principal, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: email %q", ErrInvalidRegistration, email)
	}
	if len(password) < MinPasswordLength {
		return model.Principal{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidRegistration, MinPasswordLength)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return model.Principal{}, err
	}
	p := model.Principal{
		Email:        strings.ToLower(addr.Address),
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
	}
	if p.Name == "" {
		p.Name = p.Email
	}
	if err := a.store.CreatePrincipal(ctx, &p); err != nil {
		return model.Principal{}, err
	}
	return p, nil
}

// Login verifies the password of an active principal.
func (a *Accounts) Login(ctx context.Context, email, password string) (model.Principal, error) {
	p, err := a.store.GetPrincipalByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, store.ErrPrincipalNotFound) {
		return model.Principal{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.Principal{}, err
	}
	if p.DeactivatedAt != nil || p.PasswordHash == "" {
		return model.Principal{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)); err != nil {
		return model.Principal{}, ErrInvalidCredentials
	}
	return p, nil
}

// Active returns the principal if it exists and is not deactivated.
func (a *Accounts) Active(ctx context.Context, id string) (model.Principal, error) {
	p, err := a.store.GetPrincipal(ctx, id)
	if errors.Is(err, store.ErrPrincipalNotFound) {
		return model.Principal{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.Principal{}, err
	}
	if p.DeactivatedAt != nil {
		return model.Principal{}, ErrInvalidCredentials
	}
	return p, nil
}

// HashPassword returns the bcrypt hash of password at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
