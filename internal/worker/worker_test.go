package worker

// ============================================================================
// Worker Pool Test File
// Purpose: Verify concurrent execution, timeout mechanism, graceful shutdown
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okTask(i int) Task {
	return Task{
		ID:    fmt.Sprintf("wallet-%d", i),
		Index: i,
		Run:   func(ctx context.Context) error { return nil },
	}
}

// ============================================================================
// Basic Functionality Tests
// ============================================================================

// TestNewPool tests creating Worker Pool
func TestNewPool(t *testing.T) {
	pool := NewPool(10)
	assert.NotNil(t, pool)
	assert.Equal(t, 0, pool.GetWorkerCount())
	assert.False(t, pool.IsStarted())
}

// TestPoolStart tests starting Worker Pool
func TestPoolStart(t *testing.T) {
	pool := NewPool(10)

	require.NoError(t, pool.Start(context.Background(), 8))
	assert.Equal(t, 8, pool.GetWorkerCount())
	assert.True(t, pool.IsStarted())

	assert.ErrorIs(t, pool.Start(context.Background(), 4), ErrPoolStarted)

	pool.Stop()
}

// TestPoolStartClampsWorkerCount zero workers still starts one
func TestPoolStartClampsWorkerCount(t *testing.T) {
	pool := NewPool(1)
	require.NoError(t, pool.Start(context.Background(), 0))
	assert.Equal(t, 1, pool.GetWorkerCount())
	pool.Stop()
}

// TestWorkerExecution tests every submitted task yields one result
func TestWorkerExecution(t *testing.T) {
	pool := NewPool(10)
	require.NoError(t, pool.Start(context.Background(), 1))
	ctx := context.Background()

	taskCount := 10
	for i := 0; i < taskCount; i++ {
		require.NoError(t, pool.Submit(okTask(i)))
	}

	results := make(map[int]Result)
	for i := 0; i < taskCount; i++ {
		result, err := pool.ReceiveResult(ctx)
		require.NoError(t, err)
		results[result.Index] = result
	}

	assert.Equal(t, taskCount, len(results))
	for _, r := range results {
		assert.True(t, r.Success)
	}

	pool.Stop()
}

// TestTaskError tests task errors are reported in Result
func TestTaskError(t *testing.T) {
	pool := NewPool(1)
	require.NoError(t, pool.Start(context.Background(), 1))

	boom := errors.New("login failed")
	require.NoError(t, pool.Submit(Task{ID: "w", Run: func(context.Context) error { return boom }}))

	result, err := pool.ReceiveResult(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, boom)

	pool.Stop()
}

// TestTimeout tests job timeout mechanism
func TestTimeout(t *testing.T) {
	pool := NewPool(10)
	require.NoError(t, pool.Start(context.Background(), 1))

	task := Task{
		ID:      "timeout-task",
		Timeout: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	require.NoError(t, pool.Submit(task))

	result, err := pool.ReceiveResult(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, context.DeadlineExceeded)

	pool.Stop()
}

// TestPanicRecovered tests a panicking task does not kill the worker
func TestPanicRecovered(t *testing.T) {
	pool := NewPool(2)
	require.NoError(t, pool.Start(context.Background(), 1))
	ctx := context.Background()

	require.NoError(t, pool.Submit(Task{ID: "bad", Run: func(context.Context) error { panic("nil key") }}))
	require.NoError(t, pool.Submit(okTask(2)))

	first, err := pool.ReceiveResult(ctx)
	require.NoError(t, err)
	assert.False(t, first.Success)
	assert.Contains(t, first.Error.Error(), "panicked")

	second, err := pool.ReceiveResult(ctx)
	require.NoError(t, err)
	assert.True(t, second.Success)

	pool.Stop()
}

// ============================================================================
// Concurrency Tests
// ============================================================================

// TestConcurrencyBound tests no more than N tasks run at once
func TestConcurrencyBound(t *testing.T) {
	const workers = 3
	pool := NewPool(20)
	require.NoError(t, pool.Start(context.Background(), workers))

	var running, peak atomic.Int32
	run := func(ctx context.Context) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil
	}

	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(Task{ID: fmt.Sprint(i), Index: i, Run: run}))
	}
	for i := 0; i < 20; i++ {
		_, err := pool.ReceiveResult(context.Background())
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, peak.Load(), int32(workers))
	pool.Stop()
}

// TestContextCancelStopsTasks tests cancelling the pool context cancels running tasks
func TestContextCancelStopsTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(1)
	require.NoError(t, pool.Start(ctx, 1))

	started := make(chan struct{})
	require.NoError(t, pool.Submit(Task{ID: "long", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))

	<-started
	cancel()

	result, err := pool.ReceiveResult(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, result.Error, context.Canceled)

	pool.Stop()
}

// ============================================================================
// Graceful Shutdown Tests
// ============================================================================

// TestDrain tests all submitted tasks complete and results channel closes
func TestDrain(t *testing.T) {
	pool := NewPool(10)
	require.NoError(t, pool.Start(context.Background(), 2))

	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(okTask(i)))
	}
	pool.Drain()

	count := 0
	for {
		_, err := pool.ReceiveResult(context.Background())
		if errors.Is(err, ErrPoolClosed) {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 10, count)

	assert.ErrorIs(t, pool.Submit(okTask(99)), ErrPoolClosed)
}

// TestStopBeforeStart tests stopping before starting
func TestStopBeforeStart(t *testing.T) {
	pool := NewPool(10)
	assert.NotPanics(t, func() {
		pool.Stop()
	})
}

// TestSubmitAfterStop tests submitting jobs after shutdown
func TestSubmitAfterStop(t *testing.T) {
	pool := NewPool(10)
	require.NoError(t, pool.Start(context.Background(), 2))

	pool.Stop()

	assert.Equal(t, ErrPoolClosed, pool.Submit(okTask(1)))
}

// TestSubmitBeforeStart tests submitting jobs before starting
func TestSubmitBeforeStart(t *testing.T) {
	pool := NewPool(10)
	assert.Equal(t, ErrPoolNotStarted, pool.Submit(okTask(1)))
}

// TestReceiveResultAfterStop tests receiving results after shutdown
func TestReceiveResultAfterStop(t *testing.T) {
	pool := NewPool(10)
	require.NoError(t, pool.Start(context.Background(), 2))

	pool.Stop()

	_, err := pool.ReceiveResult(context.Background())
	assert.Equal(t, ErrPoolClosed, err)
}

// TestReceiveResultContext tests ReceiveResult honours ctx
func TestReceiveResultContext(t *testing.T) {
	pool := NewPool(1)
	require.NoError(t, pool.Start(context.Background(), 1))
	defer pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := pool.ReceiveResult(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ============================================================================
// Benchmark Tests
// ============================================================================

// BenchmarkPoolThroughput tests throughput
func BenchmarkPoolThroughput(b *testing.B) {
	pool := NewPool(1000)
	pool.Start(context.Background(), 8)
	defer pool.Stop()

	go func() {
		for {
			if _, err := pool.ReceiveResult(context.Background()); err != nil {
				return
			}
		}
	}()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.Submit(okTask(i))
	}
}
