package store

import (
	"context"
	"fmt"

	"github.com/d9705996/clientpulse/internal/model"
)

// CreatePrincipal inserts p. Returns ErrPrincipalExists on a duplicate email.
func (s *Store) CreatePrincipal(ctx context.Context, p *model.Principal) error {
	if err := s.conn(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrPrincipalExists
		}
		return fmt.Errorf("insert principal: %w", err)
	}
	return nil
}

// GetPrincipal returns the principal with the given id.
func (s *Store) GetPrincipal(ctx context.Context, id string) (model.Principal, error) {
	var p model.Principal
	if err := s.conn(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return model.Principal{}, mapNotFound(err, ErrPrincipalNotFound)
	}
	return p, nil
}

// GetPrincipalByEmail returns the principal with the given email, including
// deactivated ones.
func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (model.Principal, error) {
	var p model.Principal
	if err := s.conn(ctx).Where("email = ?", email).First(&p).Error; err != nil {
		return model.Principal{}, mapNotFound(err, ErrPrincipalNotFound)
	}
	return p, nil
}
