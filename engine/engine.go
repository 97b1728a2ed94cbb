package engine

import (
	"errors"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// Common errors for the estimation engine
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnknownSelection   = errors.New("unknown selection method")
	ErrUnknownCompression = errors.New("unknown compression")
	ErrFitFailed          = errors.New("fit failed")
	ErrDatasetOutOfRange  = errors.New("dataset index out of range")
	ErrSameDataset        = errors.New("interaction matrix needs two different datasets")
	ErrPredictorMismatch  = errors.New("predictor matrices do not match the fitted structure")
)

// Observer receives engine activity, typically for metrics.
type Observer interface {
	ObserveLevels(n int)
}

// Engine runs level searches and sicomore fits on a shared worker pool.
type Engine struct {
	pool      *WorkerPool
	validator *Validator
	logger    *zap.Logger
	observer  Observer
}

// New creates an engine with the given number of workers (0 means one per
// CPU). A nil logger disables logging.
func New(workers int, logger *zap.Logger) *Engine {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		pool:      NewWorkerPool("sicomore", workers),
		validator: NewValidator(),
		logger:    logger,
	}
}

// SetObserver registers an observer. It must be called before fitting.
func (e *Engine) SetObserver(o Observer) {
	e.observer = o
}

// Validator returns the input validator, so callers can add rules.
func (e *Engine) Validator() *Validator {
	return e.validator
}

// Stats returns worker pool statistics.
func (e *Engine) Stats() PoolStats {
	return e.pool.GetStats()
}

// Running reports whether the engine accepts work.
func (e *Engine) Running() bool {
	return e.pool.IsRunning()
}

// Close shuts down the worker pool.
func (e *Engine) Close() {
	e.pool.Shutdown()
}

// Shutdown stops the worker pool, waiting at most timeout for running fits
// to return. A zero timeout waits without limit.
func (e *Engine) Shutdown(timeout time.Duration) error {
	return e.pool.ShutdownWithTimeout(timeout)
}

func (e *Engine) observe(levels int) {
	if e.observer != nil {
		e.observer.ObserveLevels(levels)
	}
}
