package worker

import (
	"context"
	"time"

	"mvrender/internal/pipeline"
	"mvrender/internal/pkg/logger"
	"mvrender/internal/worker/queue"
)

// Processor runs one render. *pipeline.Runner implements it.
type Processor interface {
	Run(ctx context.Context, p pipeline.Project) (*pipeline.Result, error)
}

type Deps struct {
	Queue     queue.Queue
	Processor Processor
	Log       *logger.Logger

	// DefaultBucket is used for messages that name no bucket.
	DefaultBucket string
	// PopTimeout bounds each queue wait; zero means 30s.
	PopTimeout time.Duration
	// ErrorBackoff is the pause after a queue error; zero means 1s.
	ErrorBackoff time.Duration
}
