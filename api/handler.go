package api

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/VanDung-dev/Sicomore-Engine/data"
	"github.com/VanDung-dev/Sicomore-Engine/engine"
)

// Version is the current version of the Sicomore Engine.
const Version = "0.1.0"

// FitHandler decodes fit requests, runs them on an engine and encodes the
// results. It is shared by every transport.
type FitHandler struct {
	engine  *engine.Engine
	codec   *data.Codec
	base    engine.Config
	timeout time.Duration
	metrics *Metrics
	logger  *zap.Logger

	startTime     time.Time
	fitsProcessed int64
	fitsFailed    int64
	totalTime     int64 // nanoseconds
}

// HandlerOption configures a FitHandler.
type HandlerOption func(*FitHandler)

// WithMetrics records fits, requests and pool usage in m and registers m as
// the engine's level observer.
func WithMetrics(m *Metrics) HandlerOption {
	return func(h *FitHandler) { h.metrics = m }
}

// WithTimeout bounds every fit. Zero disables the bound.
func WithTimeout(d time.Duration) HandlerOption {
	return func(h *FitHandler) { h.timeout = d }
}

// WithLogger sets the handler's logger.
func WithLogger(l *zap.Logger) HandlerOption {
	return func(h *FitHandler) { h.logger = l }
}

// WithCodec replaces the default codec.
func WithCodec(c *data.Codec) HandlerOption {
	return func(h *FitHandler) { h.codec = c }
}

// NewFitHandler creates a handler running fits on eng. Request options are
// applied on top of base.
func NewFitHandler(eng *engine.Engine, base engine.Config, opts ...HandlerOption) *FitHandler {
	h := &FitHandler{
		engine:    eng,
		codec:     data.NewCodec(),
		base:      base,
		logger:    zap.NewNop(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics != nil {
		eng.SetObserver(h.metrics)
	}
	return h
}

// Fit decodes an Arrow IPC fit request, runs it and returns the encoded
// result.
func (h *FitHandler) Fit(ctx context.Context, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("received empty data")
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := h.fit(ctx, payload)
	duration := time.Since(start)

	atomic.AddInt64(&h.totalTime, int64(duration))
	if err != nil {
		atomic.AddInt64(&h.fitsFailed, 1)
	} else {
		atomic.AddInt64(&h.fitsProcessed, 1)
	}
	if h.metrics != nil {
		h.metrics.RecordFit(err == nil, duration)
		h.metrics.UpdateWorkerPool(h.engine.Stats())
	}
	return out, err
}

func (h *FitHandler) fit(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := h.codec.DecodeFitRequest(payload, h.base)
	if err != nil {
		return nil, fmt.Errorf("invalid fit request: %w", err)
	}

	h.logger.Debug("fit request received",
		zap.String("response", req.Response),
		zap.Int("observations", len(req.Y)),
		zap.Int("datasets", len(req.Datasets)),
		zap.String("selection", string(req.Config.Selection)))

	res, err := h.engine.Sicomore(ctx, req.Y, req.Datasets, req.Config)
	if err != nil {
		return nil, err
	}
	if res.SignificanceErr != nil {
		h.logger.Warn("significance refit failed", zap.Error(res.SignificanceErr))
	}

	out, err := h.codec.EncodeResult(res)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	h.logger.Info("fit completed",
		zap.Int("terms", len(res.Terms)),
		zap.Int("selected", len(res.Selected())),
		zap.Float64("lambda", res.Lambda))
	return out, nil
}

// Serve runs Fit and frames the outcome as a status-prefixed reply.
func (h *FitHandler) Serve(ctx context.Context, transport string, payload []byte) []byte {
	out, err := h.Fit(ctx, payload)
	if h.metrics != nil {
		h.metrics.RecordRequest(transport, len(payload), err == nil)
	}
	if err != nil {
		level := zap.WarnLevel
		if errors.Is(err, engine.ErrFitFailed) {
			level = zap.ErrorLevel
		}
		h.logger.Check(level, "fit failed").Write(zap.String("transport", transport), zap.Error(err))
		return ErrorResponse(err)
	}
	return EncodeResponse(StatusOK, out)
}

// HealthResponse reports handler liveness and fit statistics.
type HealthResponse struct {
	Healthy       bool             `json:"healthy"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	FitsProcessed int64            `json:"fits_processed"`
	FitsFailed    int64            `json:"fits_failed"`
	AvgFitTimeMs  float64          `json:"avg_fit_time_ms"`
	WorkerPool    engine.PoolStats `json:"worker_pool"`
}

// Health returns the handler's current health.
func (h *FitHandler) Health() HealthResponse {
	processed := atomic.LoadInt64(&h.fitsProcessed)
	failed := atomic.LoadInt64(&h.fitsFailed)
	totalTime := atomic.LoadInt64(&h.totalTime)

	var avg float64
	if n := processed + failed; n > 0 {
		avg = float64(totalTime) / float64(n) / 1e6
	}

	stats := h.engine.Stats()
	return HealthResponse{
		Healthy:       h.engine.Running(),
		Version:       Version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		FitsProcessed: processed,
		FitsFailed:    failed,
		AvgFitTimeMs:  avg,
		WorkerPool:    stats,
	}
}
