// Package handlers implements the render API endpoints.
package handlers

import (
	"time"

	"mvrender/internal/deforum"
	"mvrender/internal/pkg/logger"
	"mvrender/internal/ports"
	"mvrender/internal/runs"
	"mvrender/internal/worker/queue"
)

type Deps struct {
	Runs     runs.Store
	Queue    queue.Queue
	Storage  ports.StorageProvider
	Renderer deforum.Client
	Log      *logger.Logger

	// DefaultBucket is used when a render request names none.
	DefaultBucket string
	// VideoURLTTL defaults to 15 minutes.
	VideoURLTTL time.Duration
}

type Handler struct {
	runs     runs.Store
	queue    queue.Queue
	storage  ports.StorageProvider
	renderer deforum.Client
	log      *logger.Logger

	defaultBucket string
	videoURLTTL   time.Duration
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	ttl := d.VideoURLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Handler{
		runs:          d.Runs,
		queue:         d.Queue,
		storage:       d.Storage,
		renderer:      d.Renderer,
		log:           log.WithComponent("httpapi"),
		defaultBucket: d.DefaultBucket,
		videoURLTTL:   ttl,
	}
}

// Log is the logger shared with the router middleware.
func (h *Handler) Log() *logger.Logger {
	return h.log
}
