package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Worker pool errors
var (
	ErrPoolClosed      = errors.New("worker pool is shut down")
	ErrNoRunFunc       = errors.New("no run function defined")
	ErrShutdownTimeout = errors.New("worker pool shutdown timed out")
)

// Task represents a unit of work for the worker pool.
type Task struct {
	ID        string
	Run       func(ctx context.Context) (interface{}, error)
	CreatedAt time.Time
	Ctx       context.Context

	index int
	done  chan<- *TaskResult
}

// NewTask creates a new task with default values.
func NewTask(id string, fn func(ctx context.Context) (interface{}, error)) *Task {
	return &Task{
		ID:        id,
		Run:       fn,
		CreatedAt: time.Now(),
		Ctx:       context.Background(),
	}
}

// TaskResult represents the result of task processing.
type TaskResult struct {
	TaskID   string
	Index    int
	Success  bool
	Data     interface{}
	Error    error
	Duration time.Duration
	WorkerID int
}

// PoolStats contains worker pool statistics.
type PoolStats struct {
	Name        string  `json:"name"`
	Workers     int     `json:"workers"`
	Active      int64   `json:"active"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Pending     int     `json:"pending"`
	SuccessRate float64 `json:"success_rate"`
}

// WorkerPool manages a pool of goroutine workers for parallel processing.
type WorkerPool struct {
	name     string
	workers  int
	taskChan chan *Task
	wg       sync.WaitGroup

	// Atomic counters for thread-safe statistics
	active    int64
	completed int64
	failed    int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.RWMutex
}

// NewWorkerPool creates a new worker pool with the specified number of workers.
func NewWorkerPool(name string, workers int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &WorkerPool{
		name:     name,
		workers:  workers,
		taskChan: make(chan *Task, workers*100),
		ctx:      ctx,
		cancel:   cancel,
		running:  true,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	return pool
}

// worker is the goroutine that processes tasks.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskChan:
			if !ok {
				return
			}
			p.processTask(id, task)
		}
	}
}

// processTask executes a single task and delivers its result.
func (p *WorkerPool) processTask(workerID int, task *Task) {
	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	start := time.Now()

	result := &TaskResult{
		TaskID:   task.ID,
		Index:    task.index,
		WorkerID: workerID,
	}

	// Panic recovery to prevent one task from crashing the entire pool
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = errors.New("panic in task processing: " + panicToString(r))
			result.Duration = time.Since(start)
			atomic.AddInt64(&p.failed, 1)
			deliver(task, result)
		}
	}()

	ctx := task.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		result.Error = ctx.Err()
		result.Duration = time.Since(start)
		atomic.AddInt64(&p.failed, 1)
		deliver(task, result)
		return
	default:
	}

	if task.Run != nil {
		data, err := task.Run(ctx)
		result.Data = data
		result.Error = err
		result.Success = err == nil
	} else {
		result.Error = ErrNoRunFunc
	}

	result.Duration = time.Since(start)

	if result.Success {
		atomic.AddInt64(&p.completed, 1)
	} else {
		atomic.AddInt64(&p.failed, 1)
	}

	deliver(task, result)
}

// panicToString converts a recovered panic value to a string.
func panicToString(r interface{}) string {
	switch v := r.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// deliver sends a result to the task's done channel, which is buffered for
// the whole batch.
func deliver(task *Task, result *TaskResult) {
	if task.done != nil {
		task.done <- result
	}
}

// RunBatch runs tasks on the pool and returns their results in task order.
// Enqueueing blocks while the queue is full.
func (p *WorkerPool) RunBatch(ctx context.Context, tasks []*Task) ([]*TaskResult, error) {
	done := make(chan *TaskResult, len(tasks))

	if err := p.enqueue(ctx, tasks, done); err != nil {
		return nil, err
	}

	results := make([]*TaskResult, len(tasks))
	for received := 0; received < len(tasks); received++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.ctx.Done():
			return nil, ErrPoolClosed
		case r := <-done:
			results[r.Index] = r
		}
	}
	return results, nil
}

func (p *WorkerPool) enqueue(ctx context.Context, tasks []*Task, done chan<- *TaskResult) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, task := range tasks {
		task.index = i
		task.done = done
		if task.Ctx == nil || task.Ctx == context.Background() {
			task.Ctx = ctx
		}
		select {
		case p.taskChan <- task:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// GetStats returns current worker pool statistics.
func (p *WorkerPool) GetStats() PoolStats {
	completed := atomic.LoadInt64(&p.completed)
	failed := atomic.LoadInt64(&p.failed)
	total := completed + failed

	var successRate float64
	if total > 0 {
		successRate = float64(completed) / float64(total) * 100
	}

	return PoolStats{
		Name:        p.name,
		Workers:     p.workers,
		Active:      atomic.LoadInt64(&p.active),
		Completed:   completed,
		Failed:      failed,
		Pending:     len(p.taskChan),
		SuccessRate: successRate,
	}
}

// Shutdown gracefully shuts down the worker pool, waiting for running
// tasks to return.
func (p *WorkerPool) Shutdown() {
	_ = p.ShutdownWithTimeout(0)
}

// ShutdownWithTimeout shuts down the pool and waits at most timeout for the
// workers to exit. A zero timeout waits without limit.
func (p *WorkerPool) ShutdownWithTimeout(timeout time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.cancel()
	close(p.taskChan)

	if timeout <= 0 {
		p.wg.Wait()
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w after %s", ErrShutdownTimeout, timeout)
	}
}

// IsRunning returns true if the pool is still accepting tasks.
func (p *WorkerPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}
