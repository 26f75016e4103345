// Package worker bootstraps the River job queue that runs observation merges
// in the background.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/d9705996/clientpulse/internal/ingest"
	"github.com/d9705996/clientpulse/internal/policy"
	"github.com/d9705996/clientpulse/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

// ErrQueueDisabled is returned by Enqueue on drivers without a job queue.
var ErrQueueDisabled = errors.New("job queue is disabled")

// MergeObservationsArgs is a deferred ingest.Reconciler.Merge call. The actor
// is authorized again when the job runs, so a grant revoked in between wins.
type MergeObservationsArgs struct {
	Actor     string                  `json:"actor"`
	TenantID  string                  `json:"tenant_id"`
	SourceID  string                  `json:"source_id"`
	SubSource string                  `json:"sub_source,omitempty"`
	Rows      []ingest.RawObservation `json:"rows"`
}

// Kind returns the unique job type identifier for merge jobs.
func (MergeObservationsArgs) Kind() string { return "merge_observations" }

// Merger is the part of ingest.Reconciler the merge job needs.
type Merger interface {
	Merge(ctx context.Context, actor, tenantID string, src ingest.SourceDescriptor, batch []ingest.RawObservation) (ingest.MergeResult, error)
}

// MergeWorker runs MergeObservationsArgs jobs.
type MergeWorker struct {
	river.WorkerDefaults[MergeObservationsArgs]
	merger Merger
	log    *slog.Logger
}

// NewMergeWorker returns a MergeWorker that delegates to m.
func NewMergeWorker(m Merger, log *slog.Logger) *MergeWorker {
	return &MergeWorker{merger: m, log: log}
}

// Work merges the job's rows. Failures that a retry cannot fix cancel the job
// instead of retrying it.
func (w *MergeWorker) Work(ctx context.Context, job *river.Job[MergeObservationsArgs]) error {
	a := job.Args
	res, err := w.merger.Merge(ctx, a.Actor, a.TenantID,
		ingest.SourceDescriptor{SourceID: a.SourceID, SubSource: a.SubSource}, a.Rows)
	if err != nil {
		if permanent(err) {
			w.log.WarnContext(ctx, "merge job cancelled", "job_id", job.ID, "tenant_id", a.TenantID, "error", err)
			return river.JobCancel(err)
		}
		return err
	}
	w.log.InfoContext(ctx, "merge job done",
		"job_id", job.ID, "tenant_id", a.TenantID,
		"inserted", res.Inserted, "updated", res.Updated, "skipped", res.Skipped)
	return nil
}

func permanent(err error) bool {
	return errors.Is(err, policy.ErrUnauthorized) ||
		errors.Is(err, ingest.ErrUnknownSource) ||
		errors.Is(err, store.ErrTenantNotFound)
}

// Queue is the interface exposed by both the real River client and noopQueue.
type Queue interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// EnqueueMerge schedules a merge and returns the job id.
	EnqueueMerge(ctx context.Context, args MergeObservationsArgs) (int64, error)
}

// Client wraps river.Client and exposes a Start/Stop lifecycle.
type Client struct {
	client *river.Client[pgx.Tx]
	log    *slog.Logger
}

// Start begins processing queued jobs.
func (c *Client) Start(ctx context.Context) error { return c.client.Start(ctx) }

// Stop gracefully shuts down the worker client.
func (c *Client) Stop(ctx context.Context) error { return c.client.Stop(ctx) }

// EnqueueMerge inserts a merge_observations job.
func (c *Client) EnqueueMerge(ctx context.Context, args MergeObservationsArgs) (int64, error) {
	res, err := c.client.Insert(ctx, args, &river.InsertOpts{MaxAttempts: 5})
	if err != nil {
		return 0, fmt.Errorf("enqueue merge: %w", err)
	}
	c.log.DebugContext(ctx, "merge job enqueued", "job_id", res.Job.ID, "tenant_id", args.TenantID, "rows", len(args.Rows))
	return res.Job.ID, nil
}

// noopQueue is used when River is unavailable (e.g. DB_DRIVER=sqlite).
type noopQueue struct{ log *slog.Logger }

func (n *noopQueue) Start(_ context.Context) error {
	n.log.Info("worker queue disabled (sqlite driver, River requires postgres)")
	return nil
}
func (n *noopQueue) Stop(_ context.Context) error { return nil }
func (n *noopQueue) EnqueueMerge(_ context.Context, _ MergeObservationsArgs) (int64, error) {
	return 0, ErrQueueDisabled
}

// New creates a queue implementation appropriate for the given driver.
//   - "postgres": returns a fully-functional River client backed by pool.
//   - anything else: returns a no-op queue that logs a startup notice.
//
// pool may be nil when driver != "postgres".
func New(pool *pgxpool.Pool, driver string, concurrency int, merger Merger, log *slog.Logger) (Queue, error) {
	if driver != "postgres" {
		return &noopQueue{log: log}, nil
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, NewMergeWorker(merger, log))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: concurrency},
		},
		Workers: workers,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &Client{client: client, log: log}, nil
}

// MigrateRiver runs River's built-in schema migrations against the given pool.
// Only call this when DB_DRIVER=postgres.
func MigrateRiver(ctx context.Context, db *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(db), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("run river migrations: %w", err)
	}
	return nil
}
