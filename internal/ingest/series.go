package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/d9705996/clientpulse/internal/model"
	"github.com/d9705996/clientpulse/internal/policy"
	"github.com/d9705996/clientpulse/internal/store"
)

// SeriesQuery filters a tenant's canonical timeline. Zero fields match all.
type SeriesQuery struct {
	Metrics  []string
	Category string
	Kind     model.ValueKind
	From, To string // inclusive, YYYY-MM-DD
}

// SeriesPoint is one canonical value together with the source it came from.
// A nil Value on a calculated point means it could not be computed.
type SeriesPoint struct {
	Date      string          `json:"date"`
	Category  string          `json:"category"`
	Metric    string          `json:"metric"`
	Kind      model.ValueKind `json:"kind"`
	Value     *float64        `json:"value"`
	SourceID  string          `json:"source_id"`
	SubSource string          `json:"sub_source"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Series returns the tenant's timeline for actor. When several sources
// report the same (date, category, metric, kind) the most recently updated
// observation wins.
func (r *Reconciler) Series(ctx context.Context, actor, tenantID string, q SeriesQuery) ([]SeriesPoint, error) {
	if err := r.engine.Require(ctx, actor, &tenantID, policy.ActionRead); err != nil {
		return nil, err
	}
	for _, d := range []string{q.From, q.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(DateLayout, d); err != nil {
			return nil, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrMalformedObservation, d)
		}
	}

	obs, err := r.store.QueryObservations(ctx, tenantID, store.ObservationQuery{
		Metrics:  q.Metrics,
		Category: q.Category,
		Kind:     q.Kind,
		From:     q.From,
		To:       q.To,
	})
	if err != nil {
		return nil, err
	}

	// Rows arrive grouped by key with the newest update first.
	points := make([]SeriesPoint, 0, len(obs))
	var last obsKey
	for i, o := range obs {
		k := obsKey{o.Date, o.Category, o.Metric, o.ValueKind}
		if i > 0 && k == last {
			continue
		}
		last = k
		points = append(points, SeriesPoint{
			Date:      o.Date,
			Category:  o.Category,
			Metric:    o.Metric,
			Kind:      o.ValueKind,
			Value:     o.Value,
			SourceID:  o.SourceID,
			SubSource: o.SubSource,
			UpdatedAt: o.UpdatedAt,
		})
	}
	return points, nil
}
