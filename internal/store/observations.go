package store

import (
	"context"
	"fmt"
	"time"

	"github.com/d9705996/clientpulse/internal/model"
)

// ObservationsForDates loads every stored observation of one source and
// sub-source on the given dates. The reconciler uses it to diff a batch
// against what is already merged.
func (s *Store) ObservationsForDates(ctx context.Context, tenantID, sourceID, subSource string, dates []string) ([]model.MetricObservation, error) {
	if len(dates) == 0 {
		return nil, nil
	}
	var obs []model.MetricObservation
	err := s.conn(ctx).
		Where("tenant_id = ? AND source_id = ? AND sub_source = ? AND date IN ?", tenantID, sourceID, subSource, dates).
		Find(&obs).Error
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	return obs, nil
}

// InsertObservation inserts a new fact. A duplicate de-duplication key
// returns ErrConflict.
func (s *Store) InsertObservation(ctx context.Context, o *model.MetricObservation) error {
	if err := s.conn(ctx).Create(o).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert observation: %w", ErrConflict)
		}
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

// UpdateObservationValue overwrites the value of an existing fact. A nil
// value stores NULL.
func (s *Store) UpdateObservationValue(ctx context.Context, id string, value *float64, at time.Time) error {
	err := s.conn(ctx).Model(&model.MetricObservation{}).
		Where("id = ?", id).
		Updates(map[string]any{"value": value, "updated_at": at}).Error
	if err != nil {
		return fmt.Errorf("update observation: %w", err)
	}
	return nil
}

// ObservationQuery filters a tenant's stored observations. Zero fields do
// not filter.
type ObservationQuery struct {
	Metrics  []string
	Category string
	Kind     model.ValueKind
	From     string // inclusive, YYYY-MM-DD
	To       string // inclusive, YYYY-MM-DD
}

// QueryObservations returns matching observations ordered by date,
// category, metric and kind, newest update first within each key.
func (s *Store) QueryObservations(ctx context.Context, tenantID string, q ObservationQuery) ([]model.MetricObservation, error) {
	db := s.conn(ctx).Where("tenant_id = ?", tenantID)
	if len(q.Metrics) > 0 {
		db = db.Where("metric IN ?", q.Metrics)
	}
	if q.Category != "" {
		db = db.Where("category = ?", q.Category)
	}
	if q.Kind != "" {
		db = db.Where("value_kind = ?", q.Kind)
	}
	if q.From != "" {
		db = db.Where("date >= ?", q.From)
	}
	if q.To != "" {
		db = db.Where("date <= ?", q.To)
	}
	var obs []model.MetricObservation
	err := db.Order("date, category, metric, value_kind, updated_at DESC, id").Find(&obs).Error
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	return obs, nil
}

// CountObservations returns the number of stored observations of a tenant.
func (s *Store) CountObservations(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	if err := s.conn(ctx).Model(&model.MetricObservation{}).Where("tenant_id = ?", tenantID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return n, nil
}
