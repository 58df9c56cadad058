package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestLimiter_BoundsConcurrentCallers checks that AcquireToken/ReleaseToken
// bound parallelism to the configured maxThreads.
func TestLimiter_BoundsConcurrentCallers(t *testing.T) {
	const parallelism = 5

	ctx := WithLimiter(context.Background(), parallelism)

	var n int64
	var wg sync.WaitGroup
	var mu sync.Mutex
	max := 0

	for i := 0; i < parallelism*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			AcquireToken(ctx)
			defer ReleaseToken(ctx)

			running := int(atomic.AddInt64(&n, 1))
			time.Sleep(50 * time.Millisecond)
			atomic.AddInt64(&n, -1)

			mu.Lock()
			if running > max {
				max = running
			}
			mu.Unlock()
		}()
	}

	ReleaseToken(ctx)
	wg.Wait()
	AcquireToken(ctx)

	if max != parallelism {
		t.Errorf("expected exactly %d concurrent callers, got %d", parallelism, max)
	}
}
