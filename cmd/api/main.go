// Command api serves the render HTTP API.
package main

import (
	"context"
	"net/http"
	"time"

	"mvrender/internal/config"
	"mvrender/internal/deforum"
	"mvrender/internal/httpapi"
	"mvrender/internal/pkg/logger"
	"mvrender/internal/pkg/shutdown"
	"mvrender/internal/runs"
	"mvrender/internal/storage"
	"mvrender/internal/worker/queue"
)

func main() {
	cfg, err := config.Load("mvrender-api")
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}
	log := logger.New(cfg.Log)
	log.Info("starting render API")

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	ledger, err := runs.Open(ctx, cfg.Ledger)
	if err != nil {
		log.LogFatal("failed to open run ledger", err)
	}
	shutdownMgr.Register("ledger", func(ctx context.Context) error {
		ledger.Close()
		return nil
	})

	q, err := queue.New(ctx, cfg.Queue)
	if err != nil {
		log.LogFatal("failed to initialize queue", err)
	}
	if err := q.Ping(ctx); err != nil {
		log.LogFatal("queue unreachable", err, "backend", cfg.Queue.Backend)
	}
	shutdownMgr.Register("queue", func(ctx context.Context) error {
		return q.Close()
	})
	log.Info("queue connected", "backend", cfg.Queue.Backend, "queue", cfg.Queue.Name)

	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	router := httpapi.NewRouter(httpapi.Deps{
		Runs:          ledger,
		Queue:         q,
		Storage:       sp,
		Renderer:      deforum.NewHTTPClient(cfg.Renderer.BaseURL),
		Log:           log,
		DefaultBucket: cfg.Project.Bucket,
		VideoURLTTL:   cfg.VideoURLTTL,
		CORSOrigins:   cfg.CORSOrigins,
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
}
