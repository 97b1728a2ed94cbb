package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewWorkerPool(t *testing.T) {
	pool := NewWorkerPool("test", 4)
	defer pool.Shutdown()

	if pool == nil {
		t.Fatal("NewWorkerPool returned nil")
	}

	stats := pool.GetStats()
	if stats.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", stats.Workers)
	}
	if stats.Name != "test" {
		t.Errorf("Expected name 'test', got %s", stats.Name)
	}
}

func TestWorkerPoolRunBatch(t *testing.T) {
	pool := NewWorkerPool("test", 2)
	defer pool.Shutdown()

	var processed int64

	task := NewTask("task-1", func(ctx context.Context) (interface{}, error) {
		atomic.AddInt64(&processed, 1)
		return "data", nil
	})

	results, err := pool.RunBatch(context.Background(), []*Task{task})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	result := results[0]
	if !result.Success {
		t.Errorf("Task should succeed")
	}
	if result.TaskID != "task-1" {
		t.Errorf("Expected task ID 'task-1', got %s", result.TaskID)
	}
	if result.Data != "data" {
		t.Errorf("Expected data 'data', got %v", result.Data)
	}

	if atomic.LoadInt64(&processed) != 1 {
		t.Error("Task was not processed")
	}
}

func TestWorkerPoolRunBatchWithError(t *testing.T) {
	pool := NewWorkerPool("test", 2)
	defer pool.Shutdown()

	expectedErr := errors.New("task failed")
	task := NewTask("task-error", func(ctx context.Context) (interface{}, error) {
		return nil, expectedErr
	})

	results, err := pool.RunBatch(context.Background(), []*Task{task})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if results[0].Success {
		t.Error("Task should have failed")
	}
	if !errors.Is(results[0].Error, expectedErr) {
		t.Errorf("Expected %v, got %v", expectedErr, results[0].Error)
	}

	stats := pool.GetStats()
	if stats.Failed != 1 {
		t.Errorf("Expected 1 failed, got %d", stats.Failed)
	}
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	pool := NewWorkerPool("test", 1)
	defer pool.Shutdown()

	results, err := pool.RunBatch(context.Background(), []*Task{NewTask("panic", func(ctx context.Context) (interface{}, error) {
		panic("boom")
	})})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if results[0].Success || results[0].Error == nil {
		t.Fatal("Panicking task should fail")
	}

	// the worker survives
	results, err = pool.RunBatch(context.Background(), []*Task{NewTask("ok", func(ctx context.Context) (interface{}, error) {
		return 1, nil
	})})
	if err != nil || !results[0].Success {
		t.Fatalf("Pool should keep working after a panic: %v", err)
	}
}

func TestWorkerPoolRunBatchOrder(t *testing.T) {
	pool := NewWorkerPool("test", 8)
	defer pool.Shutdown()

	numTasks := 500
	tasks := make([]*Task, numTasks)
	for i := 0; i < numTasks; i++ {
		i := i
		tasks[i] = NewTask(fmt.Sprintf("task-%d", i), func(ctx context.Context) (interface{}, error) {
			if i%7 == 0 {
				time.Sleep(time.Millisecond)
			}
			return i * i, nil
		})
	}

	results, err := pool.RunBatch(context.Background(), tasks)
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if len(results) != numTasks {
		t.Fatalf("Expected %d results, got %d", numTasks, len(results))
	}
	for i, r := range results {
		if r.Data.(int) != i*i {
			t.Fatalf("Result %d out of order: %v", i, r.Data)
		}
	}
}

func TestWorkerPoolRunBatchCancelled(t *testing.T) {
	pool := NewWorkerPool("test", 2)
	defer pool.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []*Task{NewTask("a", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})}
	_, err := pool.RunBatch(ctx, tasks)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestWorkerPoolShutdown(t *testing.T) {
	pool := NewWorkerPool("test", 4)

	task := NewTask("task-1", func(ctx context.Context) (interface{}, error) {
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	})
	if _, err := pool.RunBatch(context.Background(), []*Task{task}); err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	pool.Shutdown()
	pool.Shutdown()

	if pool.IsRunning() {
		t.Error("Pool should not be running after shutdown")
	}

	_, err := pool.RunBatch(context.Background(), []*Task{task})
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed from RunBatch, got %v", err)
	}
}

func TestWorkerPoolShutdownWithTimeout(t *testing.T) {
	pool := NewWorkerPool("test", 1)

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	go func() {
		_, _ = pool.RunBatch(context.Background(), []*Task{NewTask("stuck", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		})})
	}()
	<-started

	err := pool.ShutdownWithTimeout(20 * time.Millisecond)
	if !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("Expected ErrShutdownTimeout, got %v", err)
	}
	if pool.IsRunning() {
		t.Error("Pool should not accept work after a timed out shutdown")
	}
	if err := pool.ShutdownWithTimeout(time.Second); err != nil {
		t.Errorf("Second shutdown should be a no-op, got %v", err)
	}
}

func TestEngineShutdown(t *testing.T) {
	e := New(2, nil)
	if !e.Running() {
		t.Fatal("Engine should be running")
	}
	if err := e.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if e.Running() {
		t.Error("Engine should not be running after Shutdown")
	}
}

func TestWorkerPoolStats(t *testing.T) {
	pool := NewWorkerPool("stats-test", 2)
	defer pool.Shutdown()

	var tasks []*Task
	for i := 0; i < 5; i++ {
		tasks = append(tasks, NewTask(fmt.Sprintf("ok-%d", i), func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}))
	}
	for i := 0; i < 3; i++ {
		tasks = append(tasks, NewTask(fmt.Sprintf("fail-%d", i), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("fail")
		}))
	}

	if _, err := pool.RunBatch(context.Background(), tasks); err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	stats := pool.GetStats()
	if stats.Completed != 5 {
		t.Errorf("Expected 5 completed, got %d", stats.Completed)
	}
	if stats.Failed != 3 {
		t.Errorf("Expected 3 failed, got %d", stats.Failed)
	}
	if stats.SuccessRate != 62.5 {
		t.Errorf("Expected success rate 62.5, got %f", stats.SuccessRate)
	}
}

func BenchmarkWorkerPoolRunBatch(b *testing.B) {
	pool := NewWorkerPool("bench", 8)
	defer pool.Shutdown()

	tasks := make([]*Task, 64)
	for i := range tasks {
		tasks[i] = NewTask(fmt.Sprintf("task-%d", i), func(ctx context.Context) (interface{}, error) {
			return nil, nil
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := pool.RunBatch(context.Background(), tasks); err != nil {
			b.Fatal(err)
		}
	}
}
