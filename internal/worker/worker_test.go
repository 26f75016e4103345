package worker_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/d9705996/clientpulse/internal/ingest"
	"github.com/d9705996/clientpulse/internal/policy"
	"github.com/d9705996/clientpulse/internal/testutil"
	"github.com/d9705996/clientpulse/internal/worker"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMerger struct {
	err      error
	gotActor string
	gotSrc   ingest.SourceDescriptor
	gotRows  int
}

func (f *fakeMerger) Merge(_ context.Context, actor, _ string, src ingest.SourceDescriptor, batch []ingest.RawObservation) (ingest.MergeResult, error) {
	f.gotActor, f.gotSrc, f.gotRows = actor, src, len(batch)
	return ingest.MergeResult{Inserted: len(batch)}, f.err
}

func job(args worker.MergeObservationsArgs) *river.Job[worker.MergeObservationsArgs] {
	return &river.Job[worker.MergeObservationsArgs]{JobRow: &rivertype.JobRow{ID: 7}, Args: args}
}

func TestMergeWorker_DelegatesToMerger(t *testing.T) {
	m := &fakeMerger{}
	w := worker.NewMergeWorker(m, testutil.NullLogger())
	v := 1.0

	err := w.Work(context.Background(), job(worker.MergeObservationsArgs{
		Actor: "p1", TenantID: "t1", SourceID: "f1", SubSource: "Q1",
		Rows: []ingest.RawObservation{{Date: "2025-01-01", Category: "sales", Metric: "Leads", Value: &v}},
	}))
	require.NoError(t, err)
	assert.Equal(t, "p1", m.gotActor)
	assert.Equal(t, ingest.SourceDescriptor{SourceID: "f1", SubSource: "Q1"}, m.gotSrc)
	assert.Equal(t, 1, m.gotRows)
}

func TestMergeWorker_CancelsPermanentFailures(t *testing.T) {
	for _, cause := range []error{
		fmt.Errorf("%w: write on t1", policy.ErrUnauthorized),
		ingest.ErrUnknownSource,
	} {
		w := worker.NewMergeWorker(&fakeMerger{err: cause}, testutil.NullLogger())
		err := w.Work(context.Background(), job(worker.MergeObservationsArgs{TenantID: "t1"}))
		require.ErrorIs(t, err, cause)
		var cancel *rivertype.JobCancelError
		assert.True(t, errors.As(err, &cancel), "expected job cancel for %v", cause)
	}
}

func TestMergeWorker_RetriesTransientFailures(t *testing.T) {
	transient := errors.New("database is locked")
	w := worker.NewMergeWorker(&fakeMerger{err: transient}, testutil.NullLogger())
	err := w.Work(context.Background(), job(worker.MergeObservationsArgs{TenantID: "t1"}))
	require.ErrorIs(t, err, transient)
	var cancel *rivertype.JobCancelError
	assert.False(t, errors.As(err, &cancel))
}

func TestNew_SQLiteIsNoop(t *testing.T) {
	q, err := worker.New(nil, "sqlite", 1, &fakeMerger{}, testutil.NullLogger())
	require.NoError(t, err)
	require.NoError(t, q.Start(context.Background()))
	_, err = q.EnqueueMerge(context.Background(), worker.MergeObservationsArgs{})
	require.ErrorIs(t, err, worker.ErrQueueDisabled)
	require.NoError(t, q.Stop(context.Background()))
}
