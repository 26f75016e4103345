// Package model contains GORM model definitions shared across packages.
// All models are driver-agnostic: they work with both PostgreSQL and SQLite.
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StringSlice is a []string that GORM serialises as JSON into a TEXT column
// on both SQLite and PostgreSQL.
type StringSlice []string

// Contains reports whether v is an element of s.
func (s StringSlice) Contains(v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}

// Principal is an authenticated actor. The identity provider (or the built-in
// login) creates principals; the access core only references them.
type Principal struct {
	ID            string  `gorm:"type:text;primaryKey"`
	Email         string  `gorm:"type:text;not null;uniqueIndex"`
	Name          string  `gorm:"type:text;not null;default:''"`
	PasswordHash  string  `gorm:"type:text;not null;default:''"`
	OIDCSub       *string `gorm:"type:text"`
	DeactivatedAt *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (p *Principal) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// GlobalScope is the Grant.ScopeKey value of a grant that is not bound to a
// tenant. A concrete string keeps the (principal, scope) unique index
// enforceable on every dialect, which a NULL tenant column would not.
const GlobalScope = "*"

// ScopeKeyFor returns the scope key for a tenant id, or GlobalScope for nil.
func ScopeKeyFor(tenantID *string) string {
	if tenantID == nil {
		return GlobalScope
	}
	return *tenantID
}

// Grant records that a principal holds a role globally (TenantID nil) or on
// a single tenant.
type Grant struct {
	ID          string    `gorm:"type:text;primaryKey"`
	PrincipalID string    `gorm:"type:text;not null;uniqueIndex:idx_grants_scope,priority:1"`
	ScopeKey    string    `gorm:"type:text;not null;uniqueIndex:idx_grants_scope,priority:2"`
	TenantID    *string   `gorm:"type:text;index"`
	Role        Role      `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (g *Grant) BeforeCreate(_ *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	return nil
}

// IsGlobal reports whether the grant is not bound to a tenant.
func (g *Grant) IsGlobal() bool { return g.TenantID == nil }

// Tenant is a client organisation with its own data and dashboard.
type Tenant struct {
	ID           string      `gorm:"type:text;primaryKey"`
	Name         string      `gorm:"type:text;not null"`
	Slug         string      `gorm:"type:text;not null;uniqueIndex"`
	Kind         TenantKind  `gorm:"type:text;not null;default:'standard'"`
	Categories   StringSlice `gorm:"type:text;not null;default:'[]';serializer:json"`
	LogoURL      string      `gorm:"type:text;not null;default:''"`
	PrimaryColor string      `gorm:"type:text;not null;default:''"`
	Feeds        []Feed      `gorm:"foreignKey:TenantID"`
	CreatedAt    time.Time   `gorm:"not null"`
	UpdatedAt    time.Time   `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (t *Tenant) BeforeCreate(_ *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

// Feed returns the tenant's feed with the given id.
func (t *Tenant) Feed(id string) (Feed, bool) {
	for _, f := range t.Feeds {
		if f.ID == id {
			return f, true
		}
	}
	return Feed{}, false
}

// Feed is a data source descriptor owned by exactly one tenant.
type Feed struct {
	ID           string      `gorm:"type:text;primaryKey"`
	TenantID     string      `gorm:"type:text;not null;index"`
	Name         string      `gorm:"type:text;not null;default:''"`
	Kind         FeedKind    `gorm:"type:text;not null"`
	Locator      string      `gorm:"type:text;not null"`
	SubSources   StringSlice `gorm:"type:text;not null;default:'[]';serializer:json"`
	LastSyncedAt *time.Time
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (f *Feed) BeforeCreate(_ *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	return nil
}

// MetricObservation is one merged fact. The unique index over
// (tenant, source, sub-source, date, category, metric, kind) is the
// de-duplication key.
type MetricObservation struct {
	ID         string    `gorm:"type:text;primaryKey"`
	TenantID   string    `gorm:"type:text;not null;uniqueIndex:idx_observation_key,priority:1"`
	SourceID   string    `gorm:"type:text;not null;uniqueIndex:idx_observation_key,priority:2;index"`
	SubSource  string    `gorm:"type:text;not null;default:'';uniqueIndex:idx_observation_key,priority:3"`
	Date       string    `gorm:"type:text;not null;uniqueIndex:idx_observation_key,priority:4"`
	Category   string    `gorm:"type:text;not null;uniqueIndex:idx_observation_key,priority:5"`
	Metric     string    `gorm:"type:text;not null;uniqueIndex:idx_observation_key,priority:6"`
	ValueKind  ValueKind `gorm:"type:text;not null;uniqueIndex:idx_observation_key,priority:7"`
	SourceKind FeedKind  `gorm:"type:text;not null"`
	Value      *float64
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (o *MetricObservation) BeforeCreate(_ *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	return nil
}

// Invitation is a pending offer of a grant. Only the SHA-256 hash of the
// bearer token is stored.
type Invitation struct {
	ID         string    `gorm:"type:text;primaryKey"`
	Email      string    `gorm:"type:text;not null;index"`
	TenantID   *string   `gorm:"type:text;index"`
	Role       Role      `gorm:"type:text;not null"`
	TokenHash  string    `gorm:"type:text;not null;uniqueIndex"`
	InvitedBy  string    `gorm:"type:text;not null"`
	ExpiresAt  time.Time `gorm:"not null"`
	UsedAt     *time.Time
	AcceptedBy *string `gorm:"type:text"`
	RevokedAt  *time.Time
	CreatedAt  time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (i *Invitation) BeforeCreate(_ *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	return nil
}

// Status derives the lifecycle state at now. Expiry is never stored.
func (i *Invitation) Status(now time.Time) InvitationStatus {
	switch {
	case i.RevokedAt != nil:
		return InvitationRevoked
	case i.UsedAt != nil:
		return InvitationAccepted
	case !now.Before(i.ExpiresAt):
		return InvitationExpired
	default:
		return InvitationPending
	}
}

// RefreshToken is the GORM model for the refresh_tokens table.
type RefreshToken struct {
	ID          string    `gorm:"type:text;primaryKey"`
	PrincipalID string    `gorm:"type:text;not null;index"`
	TokenHash   string    `gorm:"type:text;not null;uniqueIndex"`
	ExpiresAt   time.Time `gorm:"not null"`
	RevokedAt   *time.Time
	CreatedAt   time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (rt *RefreshToken) BeforeCreate(_ *gorm.DB) error {
	if rt.ID == "" {
		rt.ID = uuid.New().String()
	}
	return nil
}
