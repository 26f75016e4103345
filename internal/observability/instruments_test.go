package observability_test

import (
	"context"
	"testing"

	"github.com/d9705996/clientpulse/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInstruments_PrefixAndScope(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	inst := observability.For("ingest")
	assert.Equal(t, "clientpulse.ingest.rows", inst.Name("rows"))

	rows, err := inst.Counter("rows", "rows processed")
	require.NoError(t, err)
	rows.Add(context.Background(), 3)
	latency, err := inst.Seconds("merge.duration", "merge latency")
	require.NoError(t, err)
	latency.Record(context.Background(), 0.25)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	got := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != "clientpulse/ingest" {
			continue
		}
		for _, m := range sm.Metrics {
			got[m.Name] = m
		}
	}
	require.Contains(t, got, "clientpulse.ingest.rows")
	sum, ok := got["clientpulse.ingest.rows"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.EqualValues(t, 3, sum.DataPoints[0].Value)

	require.Contains(t, got, "clientpulse.ingest.merge.duration")
	assert.Equal(t, "s", got["clientpulse.ingest.merge.duration"].Unit)
}
