package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/VanDung-dev/Sicomore-Engine/api"
	"github.com/VanDung-dev/Sicomore-Engine/engine"
	"github.com/VanDung-dev/Sicomore-Engine/network"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve fits over Arrow IPC (TCP and optionally ZeroMQ)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	base, err := cfg.Fit.EngineConfig()
	if err != nil {
		return err
	}

	eng := engine.New(cfg.Server.Workers, logger.Named("engine"))
	defer func() {
		if err := eng.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
			logger.Warn("engine did not stop cleanly", zap.Error(err))
		}
	}()

	opts := []api.HandlerOption{
		api.WithTimeout(cfg.Server.RequestTimeout),
		api.WithLogger(logger.Named("handler")),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, api.WithMetrics(api.NewMetrics(cfg.Metrics.Namespace)))
	}
	handler := api.NewFitHandler(eng, base, opts...)

	auth := api.NewAuthenticator(cfg.Auth)
	if auth.IsEnabled() && cfg.Auth.Token == "" {
		logger.Warn("authentication enabled without a token, generated one", zap.String("token", auth.GetToken()))
	}

	server := api.NewArrowServer(handler, auth, logger.Named("arrow"))
	if err := server.StartAsync(cfg.Server.Address); err != nil {
		return err
	}
	defer server.Stop()

	if cfg.ZMQ.Enabled {
		node := network.NewZmqNode(cfg.ZMQ.NodeID, cfg.ZMQ.Host, cfg.ZMQ.Port, handler,
			cfg.ZMQ.Workers, cfg.ZMQ.QueueSize, logger.Named("zmq"))
		if err := node.Start(); err != nil {
			return err
		}
		defer node.Stop()
	}

	if cfg.Metrics.Enabled {
		metrics := api.NewMetricsServer(cfg.Metrics.Address, nil, handler.Health)
		go func() {
			if err := metrics.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() { _ = metrics.Stop() }()
		logger.Info("metrics server listening", zap.String("address", cfg.Metrics.Address))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
