// Package store persists principals, grants, tenants, feeds, observations and
// invitations through GORM. It performs no authorization: callers in the
// identity, policy, tenant, ingest and invite packages decide who may call
// what.
package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Sentinel errors returned by the store.
var (
	ErrPrincipalNotFound  = errors.New("principal not found")
	ErrPrincipalExists    = errors.New("principal already exists")
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrDuplicateSlug      = errors.New("tenant slug already in use")
	ErrFeedNotFound       = errors.New("feed not found")
	ErrGrantNotFound      = errors.New("grant not found")
	ErrInvitationNotFound = errors.New("invitation not found")
	ErrConflict           = errors.New("unique constraint violation")
)

// Store is a thin repository over a *gorm.DB. A Store obtained inside WithTx
// is bound to that transaction.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Dialect returns the GORM dialector name ("sqlite" or "postgres").
func (s *Store) Dialect() string {
	return s.db.Dialector.Name()
}

// WithTx runs fn inside a database transaction. fn must only use the Store
// it is given; the outer Store may be blocked until the transaction ends.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// AdvisoryLock takes a transaction-scoped exclusive lock on key so that
// writers on other instances serialise with this one. It is released when the
// surrounding transaction ends. SQLite already serialises writers, so it is a
// no-op there.
func (s *Store) AdvisoryLock(ctx context.Context, key string) error {
	if s.Dialect() != "postgres" {
		return nil
	}
	if err := s.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
		return fmt.Errorf("advisory lock %q: %w", key, err)
	}
	return nil
}

// SessionLock takes a session-level exclusive lock on key that spans
// transactions. It pins one pooled connection until the returned unlock is
// called. It conflicts with AdvisoryLock on the same key, so a holder must
// not also call AdvisoryLock for key. On SQLite it is a no-op.
func (s *Store) SessionLock(ctx context.Context, key string) (func(), error) {
	if s.Dialect() != "postgres" {
		return func() {}, nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, fmt.Errorf("session lock %q: %w", key, err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("session lock %q: %w", key, err)
	}
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock(hashtext($1))", key); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("session lock %q: %w", key, err)
	}
	return func() {
		// Closing without unlocking would return a locked session to the pool.
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock(hashtext($1))", key); err != nil {
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
	}, nil
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}
