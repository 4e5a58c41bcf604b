package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/parallel-fetcher/internal/batch"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := fetchItemsTotal
	Init()
	require.Same(t, first, fetchItemsTotal)
}

func TestBatchObserverRecordsBatch(t *testing.T) {
	obs := NewBatchObserver("metrics-test")

	items := []int{1, 2, 3}
	fn := func(_ context.Context, n int) (string, error) {
		if n == 2 {
			return "", context.DeadlineExceeded
		}
		if n == 3 {
			return "", errors.New("bad")
		}
		return "ok", nil
	}
	_, err := batch.FetchAll(context.Background(), items, fn, batch.Options{MaxConcurrency: 2, Observer: obs})
	require.NoError(t, err)

	require.InDelta(t, 1, testutil.ToFloat64(fetchItemsTotal.WithLabelValues("metrics-test", "success")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(fetchItemsTotal.WithLabelValues("metrics-test", "timeout")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(fetchItemsTotal.WithLabelValues("metrics-test", "unknown")), 0)
	require.InDelta(t, 0, testutil.ToFloat64(fetchInFlight.WithLabelValues("metrics-test")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(fetchBatchesTotal.WithLabelValues("metrics-test")), 0)
}

func TestBatchObserverInFlight(t *testing.T) {
	obs := NewBatchObserver("inflight-test")
	obs.ItemStarted()
	obs.ItemStarted()
	require.InDelta(t, 2, testutil.ToFloat64(fetchInFlight.WithLabelValues("inflight-test")), 0)
	obs.ItemFinished("success", time.Millisecond)
	require.InDelta(t, 1, testutil.ToFloat64(fetchInFlight.WithLabelValues("inflight-test")), 0)
}
