// Command worker renders projects popped from the render queue until it
// receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"mvrender/internal/config"
	"mvrender/internal/deforum"
	"mvrender/internal/pipeline"
	"mvrender/internal/pkg/logger"
	"mvrender/internal/runs"
	"mvrender/internal/status"
	"mvrender/internal/storage"
	"mvrender/internal/worker"
	"mvrender/internal/worker/queue"
)

func main() {
	cfg, err := config.Load("mvrender-worker")
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}

	ledger, err := runs.Open(ctx, cfg.Ledger)
	if err != nil {
		log.LogFatal("failed to open run ledger", err)
	}
	defer ledger.Close()

	q, err := queue.New(ctx, cfg.Queue)
	if err != nil {
		log.LogFatal("failed to initialize queue", err)
	}
	defer q.Close()
	if err := q.Ping(ctx); err != nil {
		log.LogFatal("queue unreachable", err, "backend", cfg.Queue.Backend)
	}

	runner := pipeline.New(pipeline.Deps{
		Storage:  sp,
		Renderer: deforum.NewHTTPClient(cfg.Renderer.BaseURL),
		Status:   status.NewHTTPClient(cfg.Status.BaseURL, cfg.Status.Token),
		Runs:     ledger,
		Log:      log,
		Options:  pipeline.OptionsFromConfig(cfg.Renderer),
	})

	log.Info("worker started",
		"queue_backend", cfg.Queue.Backend,
		"queue", cfg.Queue.Name,
		"storage", sp.Provider(),
	)

	err = worker.Run(ctx, worker.Deps{
		Queue:         q,
		Processor:     runner,
		Log:           log,
		DefaultBucket: cfg.Project.Bucket,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.LogFatal("worker stopped", err)
	}
	log.Info("worker stopped")
}
