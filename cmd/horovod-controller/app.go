package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/arnoldhuanghk/horovod/pkg/config"
	"github.com/arnoldhuanghk/horovod/pkg/coordinator"
	"github.com/arnoldhuanghk/horovod/pkg/observability"
	"github.com/arnoldhuanghk/horovod/pkg/transport/factory"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if opts.Listen != "" {
		cfg.Transport.Address = opts.Listen
	}
	if opts.WorldSize > 0 {
		cfg.WorldSize = int32(opts.WorldSize)
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("horovod-controller started",
		zap.String("app", cfg.AppName),
		zap.Int32("world_size", cfg.WorldSize),
		zap.String("transport", cfg.Transport.Kind),
		zap.String("address", cfg.Transport.Address))

	tr, err := factory.NewByKind(cfg.Transport.Kind)
	if err != nil {
		zap.L().Error("transport init failed", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := tr.Listen(ctx, cfg.Transport.Address)
	if err != nil {
		zap.L().Error("listen failed", zap.Error(err))
		return 1
	}
	defer ln.Close()

	ctrl := coordinator.NewController(cfg.WorldSize, logger)
	if err := ctrl.Serve(ctx, ln); err != nil && ctx.Err() == nil {
		zap.L().Error("controller terminated", zap.Error(err))
		return 1
	}
	zap.L().Info("controller shut down cleanly")
	return 0
}
