package crawl

import (
	"context"
	"log"
	"sync"
)

// Task is a unit of work processed by the worker pool.
type Task func(ctx context.Context) error

// WorkerPool bounds how many catalog entries are synchronized at once. The
// walker builds one pool per listing page and drains it before advancing, so
// pagination can never race ahead of the pool's capacity. Task errors are
// swallowed at the worker boundary: one entry's failure never aborts its
// siblings.
type WorkerPool struct {
	workerCount int
	taskQueue   chan Task
	wg          sync.WaitGroup
	ctx         context.Context
	closed      bool
	closeMux    sync.Mutex
}

// NewWorkerPool creates a pool with the given concurrency cap, bound to ctx.
func NewWorkerPool(ctx context.Context, workerCount int) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &WorkerPool{
		workerCount: workerCount,
		taskQueue:   make(chan Task, workerCount*2),
		ctx:         ctx,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Submit queues a task unless the pool's context is already cancelled.
func (wp *WorkerPool) Submit(task Task) {
	select {
	case wp.taskQueue <- task:
	case <-wp.ctx.Done():
		log.Println("[WorkerPool] Context cancelled, task not submitted")
	}
}

// Wait closes the queue and blocks until every queued task has finished.
func (wp *WorkerPool) Wait() {
	wp.closeMux.Lock()
	if !wp.closed {
		close(wp.taskQueue)
		wp.closed = true
	}
	wp.closeMux.Unlock()

	wp.wg.Wait()
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for task := range wp.taskQueue {
		select {
		case <-wp.ctx.Done():
			log.Printf("[Worker %d] Context cancelled, stopping", id)
			return
		default:
		}

		if err := task(wp.ctx); err != nil {
			log.Printf("[Worker %d] Task error: %v", id, err)
		}
	}
}
