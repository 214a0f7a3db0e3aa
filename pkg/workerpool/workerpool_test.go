package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRun_ProcessesEveryIndexExactlyOnce(t *testing.T) {
	const n = 500
	var seen [n]int32

	Run(context.Background(), n, 8, func(ctx context.Context, i int) {
		atomic.AddInt32(&seen[i], 1)
	})

	for i, v := range seen {
		require.Equal(t, int32(1), v, "index %d processed %d times", i, v)
	}
}

func TestRun_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var processed int64

	Run(ctx, 1000, 4, func(ctx context.Context, i int) {
		if i == 10 {
			cancel()
		}
		atomic.AddInt64(&processed, 1)
		time.Sleep(time.Millisecond)
	})

	require.Less(t, processed, int64(1000))
}

func TestRun_ZeroItems(t *testing.T) {
	called := false
	Run(context.Background(), 0, 4, func(ctx context.Context, i int) {
		called = true
	})
	require.False(t, called)
}
