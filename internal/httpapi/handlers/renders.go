package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mvrender/internal/config"
	"mvrender/internal/httpkit"
	"mvrender/internal/pkg/errors"
	"mvrender/internal/runs"
	"mvrender/internal/worker/queue"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type CreateRenderRequest struct {
	ProjectName string `json:"project_name"`
	Bucket      string `json:"bucket"`
}

type VideoURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateRender records a QUEUED run and hands it to the workers.
func (h *Handler) CreateRender(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	projectID, err := projectParam(r)
	if err != nil {
		return err
	}

	var req CreateRenderRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil && err != io.EOF {
		return errors.Validation("invalid json body")
	}
	name := strings.TrimSpace(req.ProjectName)
	if name == "" {
		name = config.DefaultProjectName
	}
	bucket := strings.TrimSpace(req.Bucket)
	if bucket == "" {
		bucket = h.defaultBucket
	}
	if bucket == "" {
		return errors.ValidationField("bucket", "bucket is required")
	}

	run := &runs.Run{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		ProjectName: name,
		Bucket:      bucket,
		Status:      runs.StatusQueued,
	}
	if err := h.runs.Create(ctx, run); err != nil {
		return errors.Wrap(err, "handlers.CreateRender", "failed to record run")
	}

	err = h.queue.Push(ctx, queue.Message{
		RunID:       run.ID,
		ProjectID:   run.ProjectID,
		ProjectName: run.ProjectName,
		Bucket:      run.Bucket,
	})
	if err != nil {
		if ferr := h.runs.Finish(ctx, run.ID, runs.StatusFailed, "", "enqueue failed: "+err.Error()); ferr != nil {
			h.log.FromContext(ctx).Warn("failed to close unqueued run", "run_id", run.ID, "error", ferr.Error())
		}
		return errors.WrapWithCode(err, errors.CodeUnavailable, "handlers.CreateRender", "render queue unavailable")
	}

	h.log.FromContext(ctx).Info("render queued", "run_id", run.ID, "project_id", projectID, "bucket", bucket)
	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{"run": run})
	return nil
}

// ListRenders returns a project's runs, newest first.
func (h *Handler) ListRenders(w http.ResponseWriter, r *http.Request) error {
	projectID, err := projectParam(r)
	if err != nil {
		return err
	}

	limit := defaultListLimit
	if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > maxListLimit {
			return errors.ValidationField("limit", "limit must be between 1 and 200")
		}
		limit = v
	}

	list, err := h.runs.ListByProject(r.Context(), projectID, limit)
	if err != nil {
		return errors.Wrap(err, "handlers.ListRenders", "failed to list runs")
	}
	if list == nil {
		list = []runs.Run{}
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"runs": list})
	return nil
}

func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) error {
	run, err := h.loadRun(r)
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"run": run})
	return nil
}

// GetRenderVideo presigns the finished video of a succeeded run.
func (h *Handler) GetRenderVideo(w http.ResponseWriter, r *http.Request) error {
	run, err := h.loadRun(r)
	if err != nil {
		return err
	}
	if run.Status != runs.StatusSucceeded || run.VideoKey == "" {
		return errors.New(errors.CodeConflict, "run has no video yet").
			WithField("status", string(run.Status))
	}

	out, err := h.storage.GetSignedURL(r.Context(), run.Bucket, run.VideoKey, h.videoURLTTL)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "handlers.GetRenderVideo", "failed to sign video url")
	}

	httpkit.WriteJSON(w, http.StatusOK, VideoURLResponse{URL: out.URL, ExpiresAt: out.ExpiresAt})
	return nil
}

func (h *Handler) loadRun(r *http.Request) (*runs.Run, error) {
	id := chi.URLParam(r, "runId")
	run, err := h.runs.Get(r.Context(), id)
	if errors.Is(err, runs.ErrRunNotFound) {
		return nil, errors.NotFound("run", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "handlers.loadRun", "failed to load run")
	}
	return run, nil
}

func projectParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "projectId")
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", errors.ValidationField("projectId", "project id must be a UUID")
	}
	return parsed.String(), nil
}
