package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/parallel-fetcher/internal/batch"
	"github.com/JakeFAU/parallel-fetcher/internal/crawler"
)

var (
	_ crawler.Clock = Clock{}
	_ batch.Clock   = Clock{}
)

func TestClockNow(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now()
	got := clk.Now()
	after := time.Now()

	require.False(t, got.Before(before))
	require.False(t, got.After(after))
	require.GreaterOrEqual(t, clk.Now().Sub(got), time.Duration(0))
}
