package handlers

import (
	"context"
	"net/http"
	"time"

	"mvrender/internal/httpkit"
)

const healthCheckTimeout = 5 * time.Second

// Health reports liveness. With ?deep=true it also pings the ledger, the
// queue and the rendering API; any failing check marks the service degraded.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	health := map[string]any{
		"status":  "ok",
		"service": "mvrender-api",
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := map[string]any{
			"ledger":   h.check(ctx, h.runs.Ping),
			"queue":    h.check(ctx, h.queue.Ping),
			"renderer": h.check(ctx, h.renderer.Ping),
			"storage":  map[string]any{"status": "ok", "provider": h.storage.Provider()},
		}
		health["checks"] = checks

		for name, c := range checks {
			if c.(map[string]any)["status"] != "ok" {
				health["status"] = "degraded"
				h.log.FromContext(ctx).Warn("health check degraded", "check", name)
				break
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func (h *Handler) check(ctx context.Context, ping func(context.Context) error) map[string]any {
	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := ping(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
