// Command render runs one Deforum render for a project and exits non-zero
// when the render fails.
package main

import (
	"context"
	"flag"
	"fmt"
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
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load("mvrender-render")
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		return 1
	}

	flag.StringVar(&cfg.Project.ID, "project_id", cfg.Project.ID, "project id (UUID)")
	flag.StringVar(&cfg.Project.Bucket, "s3_bucket_name", cfg.Project.Bucket, "bucket holding the project assets")
	flag.StringVar(&cfg.Project.Name, "project_name", cfg.Project.Name, "project name, used for the video file name")
	flag.Parse()

	log := logger.New(cfg.Log)
	if err := cfg.Project.Validate(); err != nil {
		log.Error("invalid project", "error", err.Error())
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.Error("failed to initialize storage provider", "error", err.Error())
		return 1
	}

	ledger, err := runs.Open(ctx, cfg.Ledger)
	if err != nil {
		log.Error("failed to open run ledger", "error", err.Error())
		return 1
	}
	defer ledger.Close()

	runner := pipeline.New(pipeline.Deps{
		Storage:  sp,
		Renderer: deforum.NewHTTPClient(cfg.Renderer.BaseURL),
		Status:   status.NewHTTPClient(cfg.Status.BaseURL, cfg.Status.Token),
		Runs:     ledger,
		Log:      log,
		Options:  pipeline.OptionsFromConfig(cfg.Renderer),
	})

	log.Info("starting render",
		"project_id", cfg.Project.ID,
		"project_name", cfg.Project.Name,
		"bucket", cfg.Project.Bucket,
		"storage", sp.Provider(),
	)

	res, err := runner.Run(ctx, pipeline.Project{
		ID:     cfg.Project.ID,
		Name:   cfg.Project.Name,
		Bucket: cfg.Project.Bucket,
	})
	if err != nil {
		log.Error("render failed", "error", err.Error())
		return 1
	}

	log.Info("render finished", "run_id", res.RunID, "video_key", res.VideoKey)
	return 0
}
