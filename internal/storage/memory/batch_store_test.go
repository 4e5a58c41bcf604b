package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/parallel-fetcher/internal/crawler"
)

func TestBatchStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewBatchStore()
	ctx := context.Background()

	record := crawler.BatchRecord{
		ID:        "b1",
		Status:    crawler.BatchStatusPartial,
		Succeeded: 1,
		Failed:    1,
		Items: []crawler.ItemRecord{
			{Index: 0, URL: "https://a.example", OK: true},
			{Index: 1, URL: "https://b.example", FailureKind: "timeout"},
		},
	}
	require.NoError(t, store.SaveBatch(ctx, record))

	record.Items[0].URL = "mutated"
	got, err := store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, "https://a.example", got.Items[0].URL)
	require.Equal(t, crawler.BatchStatusPartial, got.Status)

	_, err = store.GetBatch(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrBatchNotFound)

	require.Error(t, store.SaveBatch(ctx, crawler.BatchRecord{}))
}
