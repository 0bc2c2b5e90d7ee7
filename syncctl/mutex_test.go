package syncctl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSyncMutexSerialises asserts that two holders of the same account are
// strictly ordered.
func TestSyncMutexSerialises(t *testing.T) {
	m := NewSyncMutex()
	ctx := context.Background()

	release1, err := m.Acquire(ctx, 1)
	require.NoError(t, err)
	require.True(t, m.IsSyncInProgress(1))

	acquired := make(chan struct{})
	go func() {
		release2, err := m.Acquire(ctx, 1)
		require.NoError(t, err)
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	release1()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed")
	}
}

// TestSyncMutexFIFO asserts queued waiters are granted the lock in arrival
// order.
func TestSyncMutexFIFO(t *testing.T) {
	m := NewSyncMutex()
	ctx := context.Background()

	release, err := m.Acquire(ctx, 7)
	require.NoError(t, err)

	const waiters = 5
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	started := make(chan struct{}, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			started <- struct{}{}
			r, err := m.Acquire(ctx, 7)
			require.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			r()
		}()
		// Wait for the goroutine to have queued before starting the
		// next so arrival order is deterministic.
		<-started
		time.Sleep(10 * time.Millisecond)
	}

	release()
	wg.Wait()

	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

// TestSyncMutexIndependentAccounts asserts that different accounts do not
// block each other.
func TestSyncMutexIndependentAccounts(t *testing.T) {
	m := NewSyncMutex()
	ctx := context.Background()

	release1, err := m.Acquire(ctx, 1)
	require.NoError(t, err)
	defer release1()

	done := make(chan struct{})
	go func() {
		release2, err := m.Acquire(ctx, 2)
		require.NoError(t, err)
		release2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("account 2 acquire blocked behind account 1")
	}
}

// TestSyncMutexCancelledWaiter asserts a cancelled waiter does not strand
// the waiters queued behind it.
func TestSyncMutexCancelledWaiter(t *testing.T) {
	m := NewSyncMutex()

	release1, err := m.Acquire(context.Background(), 1)
	require.NoError(t, err)

	cancelCtx, cancel := context.WithCancel(context.Background())
	waiterErr := make(chan error, 1)
	go func() {
		_, err := m.Acquire(cancelCtx, 1)
		waiterErr <- err
	}()

	time.Sleep(20 * time.Millisecond)

	thirdDone := make(chan struct{})
	go func() {
		r, err := m.Acquire(context.Background(), 1)
		require.NoError(t, err)
		r()
		close(thirdDone)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	require.ErrorIs(t, <-waiterErr, ErrCancelled)

	release1()

	select {
	case <-thirdDone:
	case <-time.After(time.Second):
		t.Fatal("waiter behind cancelled slot never acquired")
	}
}

// TestIsSyncInProgressAnyAccount exercises the unscoped query.
func TestIsSyncInProgressAnyAccount(t *testing.T) {
	m := NewSyncMutex()
	require.False(t, m.IsSyncInProgress(0))

	release, err := m.Acquire(context.Background(), 3)
	require.NoError(t, err)
	require.True(t, m.IsSyncInProgress(0))
	require.True(t, m.IsSyncInProgress(3))
	require.False(t, m.IsSyncInProgress(4))

	release()
	require.False(t, m.IsSyncInProgress(0))
}
