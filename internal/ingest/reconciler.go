// Package ingest merges metric observations from external feeds into one
// de-duplicated timeline per tenant and computes derived metrics.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/d9705996/clientpulse/internal/lock"
	"github.com/d9705996/clientpulse/internal/model"
	"github.com/d9705996/clientpulse/internal/observability"
	"github.com/d9705996/clientpulse/internal/policy"
	"github.com/d9705996/clientpulse/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Sentinel errors returned by the reconciler.
var (
	// ErrMalformedObservation wraps the reason a single row was rejected.
	ErrMalformedObservation = errors.New("malformed observation")
	// ErrUnknownSource rejects a batch whose source is not a feed of the
	// tenant, or whose sub-source is not selected on that feed.
	ErrUnknownSource = errors.New("unknown source")
)

// DefaultChunkSize is the number of rows written per transaction.
const DefaultChunkSize = 500

// RawObservation is one row produced by an importer.
type RawObservation struct {
	Date     string   `json:"date"`
	Category string   `json:"category"`
	Metric   string   `json:"metric"`
	Value    *float64 `json:"value"`
	Kind     string   `json:"kind,omitempty"`
}

// SourceDescriptor names the feed and sub-source a batch came from.
type SourceDescriptor struct {
	SourceID  string `json:"source_id"`
	SubSource string `json:"sub_source"`
}

// Rejection records why a row was skipped.
type Rejection struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// DerivedCounts reports formula-derived upserts separately from raw rows.
type DerivedCounts struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// MergeResult summarises one batch. Skipped includes rejected rows and rows
// superseded by a later row of the batch with the same key.
type MergeResult struct {
	Inserted   int           `json:"inserted"`
	Updated    int           `json:"updated"`
	Skipped    int           `json:"skipped"`
	Rejected   []Rejection   `json:"rejected"`
	Superseded []Rejection   `json:"superseded"`
	Derived    DerivedCounts `json:"derived"`
}

// Config tunes a Reconciler.
type Config struct {
	ChunkSize int
	Formulas  []Formula
}

// Reconciler merges batches. It is safe for concurrent use; batches for the
// same tenant run one at a time.
type Reconciler struct {
	store     *store.Store
	engine    *policy.Engine
	locks     *lock.Keyed
	log       *slog.Logger
	chunkSize int
	formulas  []Formula
	derived   map[string]bool
	now       func() time.Time

	tracer   trace.Tracer
	rows     metric.Int64Counter
	duration metric.Float64Histogram
}

// NewReconciler returns a Reconciler. A nil cfg.Formulas uses
// DefaultFormulas; formulas are validated here.
func NewReconciler(st *store.Store, engine *policy.Engine, locks *lock.Keyed, cfg Config, log *slog.Logger) (*Reconciler, error) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Formulas == nil {
		cfg.Formulas = DefaultFormulas()
	}
	if err := ValidateFormulas(cfg.Formulas); err != nil {
		return nil, err
	}
	derived := make(map[string]bool, len(cfg.Formulas))
	for _, f := range cfg.Formulas {
		derived[f.Metric] = true
	}

	inst := observability.For("ingest")
	rows, err := inst.Counter("rows", "Observation rows processed by outcome.")
	if err != nil {
		return nil, fmt.Errorf("create rows counter: %w", err)
	}
	duration, err := inst.Seconds("merge.duration", "Duration of observation merges.")
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return &Reconciler{
		store:     st,
		engine:    engine,
		locks:     locks,
		log:       log,
		chunkSize: cfg.ChunkSize,
		formulas:  cfg.Formulas,
		derived:   derived,
		now:       func() time.Time { return time.Now().UTC() },
		tracer:    inst.Tracer(),
		rows:      rows,
		duration:  duration,
	}, nil
}

// Formulas returns the formulas the reconciler derives metrics with.
func (r *Reconciler) Formulas() []Formula {
	return append([]Formula(nil), r.formulas...)
}

type obsKey struct {
	date, category, metric string
	kind                   model.ValueKind
}

type dateCategory struct{ date, category string }

// Merge upserts a batch of rows from one source into the tenant's timeline.
//
// The batch is rejected as a whole when actor may not write the tenant or
// the source is not one of its feeds. Past that, rows are independent: a
// malformed row is skipped and listed in Rejected, and when several rows
// share a key only the last one is written. Rows are written in
// chunks, one transaction each. If ctx is cancelled the chunk in progress
// commits what it merged, derived values are not recomputed, and the
// partial result is returned with ctx's error; re-running the batch
// completes it.
func (r *Reconciler) Merge(ctx context.Context, actor, tenantID string, src SourceDescriptor, batch []RawObservation) (MergeResult, error) {
	ctx, span := r.tracer.Start(ctx, "ingest.merge", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("source.id", src.SourceID),
		attribute.String("source.sub", src.SubSource),
		attribute.Int("batch.size", len(batch)),
	))
	defer span.End()
	start := time.Now()

	res, err := r.merge(ctx, actor, tenantID, src, batch)

	r.duration.Record(ctx, time.Since(start).Seconds())
	r.record(ctx, "inserted", res.Inserted+res.Derived.Inserted)
	r.record(ctx, "updated", res.Updated+res.Derived.Updated)
	r.record(ctx, "skipped", res.Skipped-len(res.Rejected))
	r.record(ctx, "rejected", len(res.Rejected))
	span.SetAttributes(
		attribute.Int("merge.inserted", res.Inserted),
		attribute.Int("merge.updated", res.Updated),
		attribute.Int("merge.skipped", res.Skipped),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	r.log.InfoContext(ctx, "observations merged",
		"tenant_id", tenantID, "source_id", src.SourceID, "sub_source", src.SubSource,
		"inserted", res.Inserted, "updated", res.Updated, "skipped", res.Skipped,
		"rejected", len(res.Rejected), "derived_inserted", res.Derived.Inserted,
		"derived_updated", res.Derived.Updated)
	return res, nil
}

func (r *Reconciler) record(ctx context.Context, outcome string, n int) {
	if n > 0 {
		r.rows.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (r *Reconciler) merge(ctx context.Context, actor, tenantID string, src SourceDescriptor, batch []RawObservation) (MergeResult, error) {
	res := MergeResult{Rejected: []Rejection{}, Superseded: []Rejection{}}

	if err := r.engine.Require(ctx, actor, &tenantID, policy.ActionWrite); err != nil {
		return res, err
	}

	unlock, err := r.locks.Lock(ctx, lock.TenantKey(tenantID))
	if err != nil {
		return res, err
	}
	defer unlock()
	release, err := r.store.SessionLock(ctx, lock.TenantKey(tenantID))
	if err != nil {
		return res, err
	}
	defer release()

	t, err := r.store.GetTenant(ctx, tenantID)
	if err != nil {
		return res, err
	}
	feed, ok := t.Feed(src.SourceID)
	if !ok {
		return res, fmt.Errorf("%w: feed %q does not belong to tenant %s", ErrUnknownSource, src.SourceID, tenantID)
	}
	if len(feed.SubSources) > 0 && !feed.SubSources.Contains(src.SubSource) {
		return res, fmt.Errorf("%w: sub-source %q is not selected on feed %s", ErrUnknownSource, src.SubSource, feed.ID)
	}

	m := &batchMerge{r: r, tenant: t, feed: feed, src: src, res: &res, touched: map[dateCategory]bool{}}
	m.prepare(batch)
	for start := 0; start < len(batch); start += r.chunkSize {
		end := min(start+r.chunkSize, len(batch))
		if err := m.chunk(ctx, start, end); err != nil {
			return res, err
		}
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if err := m.deriveAll(ctx); err != nil {
		return res, err
	}
	if err := r.store.MarkFeedSynced(ctx, feed.ID, r.now()); err != nil {
		return res, err
	}
	return res, nil
}

// batchMerge carries the state of one Merge call across chunks.
type batchMerge struct {
	r       *Reconciler
	tenant  model.Tenant
	feed    model.Feed
	src     SourceDescriptor
	res     *MergeResult
	touched map[dateCategory]bool

	rows       []*validRow
	rejects    []string
	supersedes []int
}

type validRow struct {
	index int
	key   obsKey
	value *float64
}

// prepare validates the whole batch and marks every row that a later row
// with the same key overrides. supersedes[i] is the index of that later row,
// or -1.
func (m *batchMerge) prepare(batch []RawObservation) {
	m.rows = make([]*validRow, len(batch))
	m.rejects = make([]string, len(batch))
	m.supersedes = make([]int, len(batch))
	last := make(map[obsKey]int, len(batch))
	for i := len(batch) - 1; i >= 0; i-- {
		m.supersedes[i] = -1
		row, reason := m.validate(i, batch[i])
		if reason != "" {
			m.rejects[i] = reason
			continue
		}
		m.rows[i] = row
		if j, ok := last[row.key]; ok {
			m.supersedes[i] = j
			continue
		}
		last[row.key] = i
	}
}

// chunk merges rows [start:end) in one transaction. The transaction ignores
// ctx cancellation so that rows merged before the cancellation commit;
// cancellation is checked between rows instead.
func (m *batchMerge) chunk(ctx context.Context, start, end int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dates := map[string]bool{}
	for i := start; i < end; i++ {
		if m.rows[i] != nil && m.supersedes[i] < 0 {
			dates[m.rows[i].key.date] = true
		}
	}

	txCtx := context.WithoutCancel(ctx)
	var (
		stopErr error
		delta   MergeResult
		touched []dateCategory
	)
	err := m.r.store.WithTx(txCtx, func(tx *store.Store) error {
		existing, err := m.load(txCtx, tx, keys(dates))
		if err != nil {
			return err
		}
		now := m.r.now()
		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				stopErr = err
				return nil
			}
			if reason := m.rejects[i]; reason != "" {
				delta.Skipped++
				delta.Rejected = append(delta.Rejected, Rejection{Row: i, Reason: reason})
				continue
			}
			if j := m.supersedes[i]; j >= 0 {
				delta.Skipped++
				delta.Superseded = append(delta.Superseded, Rejection{Row: i, Reason: fmt.Sprintf("superseded by row %d", j)})
				continue
			}
			row := m.rows[i]
			outcome, err := m.upsert(txCtx, tx, existing, row.key, row.value, now)
			if err != nil {
				return fmt.Errorf("row %d: %w", row.index, err)
			}
			switch outcome {
			case outcomeInserted:
				delta.Inserted++
			case outcomeUpdated:
				delta.Updated++
			default:
				delta.Skipped++
			}
			if row.key.kind == model.ValueActual {
				touched = append(touched, dateCategory{row.key.date, row.key.category})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Counts only move once the chunk has committed.
	m.res.Inserted += delta.Inserted
	m.res.Updated += delta.Updated
	m.res.Skipped += delta.Skipped
	m.res.Rejected = append(m.res.Rejected, delta.Rejected...)
	m.res.Superseded = append(m.res.Superseded, delta.Superseded...)
	for _, dc := range touched {
		m.touched[dc] = true
	}
	return stopErr
}

func (m *batchMerge) load(ctx context.Context, tx *store.Store, dates []string) (map[obsKey]*model.MetricObservation, error) {
	obs, err := tx.ObservationsForDates(ctx, m.tenant.ID, m.feed.ID, m.src.SubSource, dates)
	if err != nil {
		return nil, err
	}
	out := make(map[obsKey]*model.MetricObservation, len(obs))
	for i := range obs {
		o := &obs[i]
		out[obsKey{o.Date, o.Category, o.Metric, o.ValueKind}] = o
	}
	return out, nil
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeInserted
	outcomeUpdated
)

// upsert writes v for k unless it is already stored and keeps existing in
// sync with the write.
func (m *batchMerge) upsert(ctx context.Context, tx *store.Store, existing map[obsKey]*model.MetricObservation, k obsKey, v *float64, now time.Time) (outcome, error) {
	if cur, ok := existing[k]; ok {
		if sameValue(cur.Value, v) {
			return outcomeUnchanged, nil
		}
		if err := tx.UpdateObservationValue(ctx, cur.ID, v, now); err != nil {
			return 0, err
		}
		cur.Value = v
		cur.UpdatedAt = now
		return outcomeUpdated, nil
	}
	o := &model.MetricObservation{
		TenantID:   m.tenant.ID,
		SourceID:   m.feed.ID,
		SubSource:  m.src.SubSource,
		SourceKind: m.feed.Kind,
		Date:       k.date,
		Category:   k.category,
		Metric:     k.metric,
		ValueKind:  k.kind,
		Value:      v,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.InsertObservation(ctx, o); err != nil {
		return 0, err
	}
	existing[k] = o
	return outcomeInserted, nil
}

// deriveAll recomputes every formula for the (date, category) pairs whose
// actual values this batch touched. A formula with neither input present for
// a pair produces nothing.
func (m *batchMerge) deriveAll(ctx context.Context) error {
	if len(m.touched) == 0 || len(m.r.formulas) == 0 {
		return nil
	}
	dates := map[string]bool{}
	for dc := range m.touched {
		dates[dc.date] = true
	}

	return m.r.store.WithTx(ctx, func(tx *store.Store) error {
		existing, err := m.load(ctx, tx, keys(dates))
		if err != nil {
			return err
		}
		now := m.r.now()
		for dc := range m.touched {
			for _, f := range m.r.formulas {
				num := actual(existing, dc, f.Numerator)
				den := actual(existing, dc, f.Denominator)
				if num == nil && den == nil {
					continue
				}
				k := obsKey{dc.date, dc.category, f.Metric, model.ValueCalculated}
				out, err := m.upsert(ctx, tx, existing, k, f.compute(num, den), now)
				if err != nil {
					return fmt.Errorf("derive %s for %s/%s: %w", f.Metric, dc.date, dc.category, err)
				}
				switch out {
				case outcomeInserted:
					m.res.Derived.Inserted++
				case outcomeUpdated:
					m.res.Derived.Updated++
				default:
					m.res.Derived.Unchanged++
				}
			}
		}
		return nil
	})
}

func actual(existing map[obsKey]*model.MetricObservation, dc dateCategory, metric string) *float64 {
	if o, ok := existing[obsKey{dc.date, dc.category, metric, model.ValueActual}]; ok {
		return o.Value
	}
	return nil
}

func sameValue(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
