package camera

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFifoLockServesInArrivalOrder(t *testing.T) {
	var l fifoLock
	require.NoError(t, l.Lock(context.Background()))

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := l.Lock(context.Background()); err != nil {
				t.Errorf("lock %d: %v", id, err)
				return
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			l.Unlock()
		}(i)
		// Wait until the goroutine is queued before starting the next one.
		require.Eventually(t, func() bool { return l.queued() == i+1 }, time.Second, time.Millisecond)
	}

	l.Unlock()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestFifoLockCancelledWaiterLeavesQueue(t *testing.T) {
	var l fifoLock
	require.NoError(t, l.Lock(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Lock(ctx) }()

	require.Eventually(t, func() bool { return l.queued() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, 0, l.queued())

	l.Unlock()

	// The lock must be free again.
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	require.NoError(t, l.Lock(ctx2))
	l.Unlock()
}
