package crawl

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool_BoundedConcurrency(t *testing.T) {
	const limit = 2
	const tasks = 5

	var inFlight, maxInFlight, completed int32

	pool := NewWorkerPool(context.Background(), limit)
	pool.Start()
	for i := 0; i < tasks; i++ {
		pool.Submit(func(ctx context.Context) error {
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				max := atomic.LoadInt32(&maxInFlight)
				if cur <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, cur) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			atomic.AddInt32(&completed, 1)
			return nil
		})
	}
	pool.Wait()

	assert.Equal(t, int32(tasks), atomic.LoadInt32(&completed))
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(limit),
		"never more than the cap mid-flight")
}

func TestWorkerPool_TaskErrorDoesNotAbortSiblings(t *testing.T) {
	var completed int32

	pool := NewWorkerPool(context.Background(), 2)
	pool.Start()
	pool.Submit(func(ctx context.Context) error {
		return assert.AnError
	})
	for i := 0; i < 3; i++ {
		pool.Submit(func(ctx context.Context) error {
			atomic.AddInt32(&completed, 1)
			return nil
		})
	}
	pool.Wait()

	assert.Equal(t, int32(3), atomic.LoadInt32(&completed))
}

func TestWorkerPool_WaitDrainsQueue(t *testing.T) {
	var completed int32

	pool := NewWorkerPool(context.Background(), 1)
	pool.Start()
	for i := 0; i < 10; i++ {
		pool.Submit(func(ctx context.Context) error {
			atomic.AddInt32(&completed, 1)
			return nil
		})
	}
	pool.Wait()

	assert.Equal(t, int32(10), atomic.LoadInt32(&completed))
}
