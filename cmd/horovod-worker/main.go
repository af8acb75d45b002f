package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/arnoldhuanghk/horovod/pkg/api"
	"github.com/arnoldhuanghk/horovod/pkg/config"
	"github.com/arnoldhuanghk/horovod/pkg/observability"
	"github.com/arnoldhuanghk/horovod/pkg/protocol"
	"github.com/arnoldhuanghk/horovod/pkg/transport/factory"
	"github.com/arnoldhuanghk/horovod/pkg/worker"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	rank := flag.Int("rank", -1, "override rank from config")
	addr := flag.String("addr", "", "override transport.address from config")
	steps := flag.Int("steps", 5, "number of training steps to simulate")
	tensors := flag.String("tensors", "grad/dense.0,grad/dense.1", "comma-separated tensor names submitted each step")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	if *rank >= 0 {
		cfg.Rank = int32(*rank)
	}
	if *addr != "" {
		cfg.Transport.Address = *addr
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		fatalf("setup logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("horovod-worker started",
		zap.Int32("rank", cfg.Rank),
		zap.String("transport", cfg.Transport.Kind),
		zap.String("address", cfg.Transport.Address))

	tr, err := factory.NewByKind(cfg.Transport.Kind)
	if err != nil {
		fatalf("transport: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	names := splitNames(*tensors)
	producer := newStepProducer(cfg.Rank, names, *steps,
		time.Duration(cfg.Worker.CycleTimeMs)*time.Millisecond)

	executor := api.ExecutorFunc(func(_ context.Context, resp protocol.Response) error {
		zap.L().Info("executing collective",
			zap.String("type", resp.Type.String()),
			zap.Strings("tensors", resp.TensorNames))
		return nil
	})

	w := worker.New(cfg.Rank, producer, executor, logger)
	if err := w.Connect(ctx, tr, cfg.Transport.Address); err != nil {
		fatalf("connect: %v", err)
	}
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		fatalf("worker: %v", err)
	}
	zap.L().Info("worker finished")
}

// stepProducer simulates a training loop: each step asks to allreduce one
// gradient tensor per configured name, then votes to shut down.
type stepProducer struct {
	rank  int32
	names []string
	steps int
	pace  time.Duration
	step  int
}

func newStepProducer(rank int32, names []string, steps int, pace time.Duration) *stepProducer {
	return &stepProducer{rank: rank, names: names, steps: steps, pace: pace}
}

func (p *stepProducer) NextBatch(ctx context.Context) (protocol.RequestList, error) {
	if p.step >= p.steps {
		return protocol.RequestList{Shutdown: true}, nil
	}
	if p.pace > 0 && p.step > 0 {
		select {
		case <-time.After(p.pace):
		case <-ctx.Done():
			return protocol.RequestList{}, ctx.Err()
		}
	}
	p.step++

	var list protocol.RequestList
	for _, name := range p.names {
		list.Requests = append(list.Requests, protocol.Request{
			RequestRank: p.rank,
			Type:        protocol.RequestAllreduce,
			TensorType:  protocol.TypeFloat32,
			Device:      -1,
			TensorName:  name,
			TensorShape: []int64{1024},
		})
	}
	return list, nil
}

func splitNames(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fatalf(format string, a ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
