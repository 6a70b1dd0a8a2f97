package worker

import (
	"context"
	"time"

	"mvrender/internal/config"
	"mvrender/internal/pipeline"
	"mvrender/internal/pkg/logger"
	"mvrender/internal/retry"
	"mvrender/internal/worker/queue"
)

// Run pops render requests one at a time until ctx is canceled.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	popTimeout := d.PopTimeout
	if popTimeout <= 0 {
		popTimeout = 30 * time.Second
	}
	backoff := d.ErrorBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	bucket := d.DefaultBucket
	if bucket == "" {
		bucket = config.DefaultBucket
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("worker context canceled, stopping")
			return ctx.Err()
		default:
		}

		// Use a separate context with timeout for queue operations
		popCtx, cancel := context.WithTimeout(ctx, popTimeout)
		delivery, err := d.Queue.Pop(popCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker stopping due to context cancellation")
				return ctx.Err()
			}
			if popCtx.Err() == context.DeadlineExceeded {
				continue
			}

			log.Warn("queue pop error, retrying",
				"error", err.Error(),
			)
			if err := retry.SleepContext(ctx, backoff); err != nil {
				return err
			}
			continue
		}

		if delivery == nil {
			continue
		}

		msg, err := delivery.Message()
		if err != nil {
			log.Error("dropping malformed message", "error", err.Error(), "body", string(delivery.Body))
			ack(ctx, d.Queue, delivery, log)
			continue
		}

		process(ctx, d.Processor, msg, bucket, log)
		ack(ctx, d.Queue, delivery, log)
	}
}

func process(ctx context.Context, p Processor, msg queue.Message, defaultBucket string, log *logger.Logger) {
	project := pipeline.Project{
		ID:     msg.ProjectID,
		Name:   msg.ProjectName,
		Bucket: msg.Bucket,
		RunID:  msg.RunID,
	}
	if project.Name == "" {
		project.Name = config.DefaultProjectName
	}
	if project.Bucket == "" {
		project.Bucket = defaultBucket
	}

	runLog := log.WithRunID(msg.RunID).WithProjectID(msg.ProjectID)
	runLog.Info("processing render")
	startTime := time.Now()

	if _, err := p.Run(ctx, project); err != nil {
		runLog.Error("render failed",
			"error", err.Error(),
			"duration_ms", time.Since(startTime).Milliseconds(),
		)
		return
	}
	runLog.Info("render completed",
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
}

func ack(ctx context.Context, q queue.Queue, d *queue.Delivery, log *logger.Logger) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := q.Ack(actx, d); err != nil {
		log.Warn("queue ack failed", "error", err.Error())
	}
}
