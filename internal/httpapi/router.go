// Package httpapi exposes the render queue and run ledger over HTTP.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mvrender/internal/deforum"
	"mvrender/internal/httpapi/handlers"
	"mvrender/internal/httpkit"
	"mvrender/internal/pkg/logger"
	"mvrender/internal/pkg/middleware"
	"mvrender/internal/ports"
	"mvrender/internal/runs"
	"mvrender/internal/worker/queue"
)

type Deps struct {
	Runs          runs.Store
	Queue         queue.Queue
	Storage       ports.StorageProvider
	Renderer      deforum.Client
	Log           *logger.Logger
	DefaultBucket string
	VideoURLTTL   time.Duration
	// CORSOrigins enables CORS for the listed origins.
	CORSOrigins []string
}

func NewRouter(d Deps) http.Handler {
	h := handlers.New(handlers.Deps{
		Runs:          d.Runs,
		Queue:         d.Queue,
		Storage:       d.Storage,
		Renderer:      d.Renderer,
		Log:           d.Log,
		DefaultBucket: d.DefaultBucket,
		VideoURLTTL:   d.VideoURLTTL,
	})
	log := h.Log()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	if len(d.CORSOrigins) > 0 {
		r.Use(httpkit.CORS(httpkit.CORSOptions{
			AllowedOrigins: d.CORSOrigins,
			ExposedHeaders: []string{middleware.RequestIDHeader},
		}))
	}

	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	// ---- HEALTH ----
	r.Get("/health", h.Health)

	// ---- RENDERS ----
	r.Post("/projects/{projectId}/renders", wrap(h.CreateRender))
	r.Get("/projects/{projectId}/renders", wrap(h.ListRenders))
	r.Get("/renders/{runId}", wrap(h.GetRender))
	r.Get("/renders/{runId}/video", wrap(h.GetRenderVideo))

	return r
}
