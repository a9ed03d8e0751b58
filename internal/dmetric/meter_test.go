package dmetric_test

import (
	"context"
	"testing"

	"github.com/gordian-engine/dflow/internal/dmetric"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInstruments(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	inst, err := dmetric.New(mp, "test")
	require.NoError(t, err)

	ctx := context.Background()
	inst.Submitted(ctx)
	inst.Submitted(ctx)
	inst.Delivered(ctx)
	inst.Terminated(ctx, dmetric.ReasonCompleted)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	sums := make(map[string]int64)
	for _, m := range rm.ScopeMetrics[0].Metrics {
		sum, ok := m.Data.(metricdata.Sum[int64])
		require.True(t, ok, "metric %s is not an int64 sum", m.Name)
		for _, dp := range sum.DataPoints {
			sums[m.Name] += dp.Value
		}
	}

	require.Equal(t, map[string]int64{
		"dflow.items.submitted":          2,
		"dflow.items.delivered":          1,
		"dflow.subscriptions.terminated": 1,
	}, sums)
}

func TestNew_nilProvider(t *testing.T) {
	t.Parallel()

	inst, err := dmetric.New(nil, "noop")
	require.NoError(t, err)

	// Must not panic.
	inst.Submitted(context.Background())
	inst.Terminated(context.Background(), dmetric.ReasonCancelled)
}
