// Package pipeline drives one render: fetch project assets, submit the
// Deforum batch, poll it to completion, publish the video and report the
// outcome to the project status API.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mvrender/internal/config"
	"mvrender/internal/deforum"
	"mvrender/internal/pkg/errors"
	"mvrender/internal/pkg/logger"
	"mvrender/internal/ports"
	"mvrender/internal/progress"
	"mvrender/internal/retry"
	"mvrender/internal/runs"
	"mvrender/internal/status"

	"github.com/google/uuid"
)

const (
	reportTimeout = 30 * time.Second
	// maxErrorText bounds the error text kept in the run ledger, in bytes.
	maxErrorText = 2000
)

type Options struct {
	DataDir       string
	Submit        retry.Policy
	PollInterval  time.Duration
	PollTimeout   time.Duration
	PerFrame      time.Duration
	CleanupFrames bool
}

func OptionsFromConfig(c config.RendererConfig) Options {
	return Options{
		DataDir:       c.DataDir,
		Submit:        c.Submit,
		PollInterval:  c.PollInterval,
		PollTimeout:   c.PollTimeout,
		PerFrame:      time.Duration(c.SecondsPerFrame) * time.Second,
		CleanupFrames: c.CleanupFrames,
	}
}

type Deps struct {
	Storage  ports.StorageProvider
	Renderer deforum.Client
	Status   status.Reporter
	Runs     runs.Recorder
	Log      *logger.Logger
	Options  Options

	// Sleep and Now default to real time.
	Sleep retry.Sleeper
	Now   func() time.Time
}

// Project identifies what to render and where its assets live.
type Project struct {
	ID     string
	Name   string
	Bucket string
	// RunID is assigned when empty.
	RunID string
}

func (p Project) VideoFileName() string { return SanitizeFilename(p.Name) + ".mp4" }
func (p Project) AudioKey() string      { return "Project.Audio/" + p.ID }
func (p Project) SettingsKey() string   { return "Project.Finalized.Settings/" + p.ID }
func (p Project) OutputKey() string     { return "Project.Output/" + p.ID + "/" + p.VideoFileName() }

type Result struct {
	RunID         string
	JobID         string
	VideoFileName string
	VideoKey      string
}

type Runner struct {
	renderer deforum.Client
	status   status.Reporter
	runs     runs.Recorder
	log      *logger.Logger
	opts     Options
	sleep    retry.Sleeper
	now      func() time.Time

	inputs  *InputHandler
	poller  *Poller
	outputs *OutputHandler
	cleanup *Cleanup
}

func New(d Deps) *Runner {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("pipeline")

	rec := d.Runs
	if rec == nil {
		rec = runs.Nop{}
	}
	sleep := d.Sleep
	if sleep == nil {
		sleep = retry.SleepContext
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}

	opts := d.Options
	if opts.DataDir == "" {
		opts.DataDir = config.DefaultDataDir
	}
	if opts.PerFrame <= 0 {
		opts.PerFrame = 5 * time.Second
	}

	return &Runner{
		renderer: d.Renderer,
		status:   d.Status,
		runs:     rec,
		log:      log,
		opts:     opts,
		sleep:    sleep,
		now:      now,
		inputs:   NewInputHandler(d.Storage),
		poller:   NewPoller(d.Renderer, opts.PollInterval, opts.PollTimeout, sleep),
		outputs:  NewOutputHandler(d.Storage),
		cleanup:  NewCleanup(opts.CleanupFrames),
	}
}

// Run executes the whole render for p. Every failure after the assets are
// on disk is reported to the status API before Run returns it.
func (r *Runner) Run(ctx context.Context, p Project) (*Result, error) {
	start := r.now()
	if p.RunID == "" {
		p.RunID = uuid.NewString()
	}
	ctx = logger.ContextWithRunID(ctx, p.RunID)
	ctx = logger.ContextWithProjectID(ctx, p.ID)
	log := r.log.FromContext(ctx)

	res := &Result{RunID: p.RunID, VideoFileName: p.VideoFileName()}

	r.record(ctx, "start", r.runs.Start(ctx, runs.Run{
		ID:          p.RunID,
		ProjectID:   p.ID,
		ProjectName: p.Name,
		Bucket:      p.Bucket,
	}))

	// 1. Assets
	audioPath, err := filepath.Abs(filepath.Join(r.opts.DataDir, "audio.mp3"))
	if err != nil {
		return res, r.abort(ctx, p, errors.Wrap(err, "pipeline.inputs", "failed to resolve data directory"))
	}
	settingsPath := filepath.Join(r.opts.DataDir, "deforum.json")

	log.Info("downloading project assets", "bucket", p.Bucket)
	err = r.inputs.Materialize(ctx, p.Bucket, []Asset{
		{Key: p.AudioKey(), Path: audioPath},
		{Key: p.SettingsKey(), Path: settingsPath},
	})
	if err != nil {
		return res, r.abort(ctx, p, errors.Wrap(err, "pipeline.inputs", "failed to download project assets"))
	}

	settings, err := deforum.LoadSettings(settingsPath)
	if err != nil {
		return res, r.fail(ctx, p, errors.WrapWithCode(err, errors.CodeValidation, "pipeline.settings", "invalid render settings"))
	}
	settings.SetSoundtrack(audioPath)
	maxFrames := settings.MaxFrames()

	// 2. Submit
	jobID, err := r.submit(ctx, settings)
	if err != nil {
		return res, r.fail(ctx, p, err)
	}
	res.JobID = jobID
	ctx = logger.ContextWithJobID(ctx, jobID)
	log = r.log.FromContext(ctx)
	r.record(ctx, "set remote job", r.runs.SetRemoteJob(ctx, p.RunID, jobID))
	log.Info("render batch submitted", "max_frames", maxFrames, "batch_name", settings.BatchName())

	// 3. Poll
	job, err := r.poller.Wait(ctx, jobID, func(*deforum.JobStatus) {
		r.reportProgress(ctx, p, progress.Estimate(r.now().Sub(start), maxFrames, r.opts.PerFrame))
	})
	if err != nil {
		if errors.IsCode(err, errors.CodeCanceled) || errors.IsCode(err, errors.CodeTimeout) {
			r.deleteRemote(ctx, jobID)
		}
		return res, r.fail(ctx, p, errors.Wrap(err, "pipeline.poll", "render did not complete"))
	}

	// 4. Publish
	outDir := job.Outdir
	if outDir == "" {
		outDir = filepath.Join(r.opts.DataDir, "outputs", "img2img-images", settings.BatchName())
	}
	videoPath, err := FindVideo(outDir)
	if err != nil {
		return res, r.fail(ctx, p, errors.WrapWithCode(err, errors.CodeUpload, "pipeline.outputs", "upload of finished video failed"))
	}
	if _, err := r.outputs.Upload(ctx, p.Bucket, p.OutputKey(), videoPath); err != nil {
		return res, r.fail(ctx, p, errors.WrapWithCode(err, errors.CodeUpload, "pipeline.outputs", "upload of finished video failed"))
	}
	res.VideoKey = p.OutputKey()

	// The fallback output directory is shared by every run with this batch
	// name, so an uploaded video must not survive to be found again.
	if err := os.Remove(videoPath); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to remove uploaded video", "path", videoPath, "error", err.Error())
	}
	if n, err := r.cleanup.Frames(outDir); err != nil {
		log.Warn("frame cleanup incomplete", "removed", n, "error", err.Error())
	} else {
		log.Debug("frames cleaned up", "removed", n)
	}

	// 5. Outcome
	rctx, cancel := reportContext(ctx)
	defer cancel()

	r.record(ctx, "finish", r.runs.Finish(rctx, p.RunID, runs.StatusSucceeded, res.VideoKey, ""))
	if err := r.status.ReportSuccess(rctx, p.ID, res.VideoFileName); err != nil {
		return res, errors.WrapWithCode(err, errors.CodeTransport, "pipeline.report", "failed to report success")
	}

	log.Info("render completed",
		"video_key", res.VideoKey,
		"duration_ms", r.now().Sub(start).Milliseconds(),
	)
	return res, nil
}

func (r *Runner) submit(ctx context.Context, settings deforum.Settings) (string, error) {
	log := r.log.FromContext(ctx)

	retrier := retry.Retrier{
		Policy: r.opts.Submit,
		Sleep:  r.sleep,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			log.Warn("batch submission failed, retrying",
				"attempt", attempt,
				"max_attempts", r.opts.Submit.MaxAttempts,
				"wait", wait.String(),
				"error", err.Error(),
			)
		},
	}

	resp, err := retry.Do(ctx, retrier, func(ctx context.Context, attempt int) (*deforum.BatchResponse, error) {
		resp, err := r.renderer.CreateBatch(ctx, deforum.BatchRequest{DeforumSettings: settings})
		if err != nil {
			return nil, err
		}
		if len(resp.JobIDs) == 0 {
			return nil, retry.Permanent(fmt.Errorf("batch %q has no job ids", resp.BatchID))
		}
		return resp, nil
	})
	switch {
	case err == nil:
		return resp.JobIDs[0], nil
	case ctx.Err() != nil:
		return "", errors.WrapWithCode(err, errors.CodeCanceled, "pipeline.submit", "render canceled")
	case errors.Is(err, retry.ErrExhausted):
		return "", errors.WrapWithCode(err, errors.CodeExhausted, "pipeline.submit", "render batch could not be submitted")
	default:
		return "", errors.WrapWithCode(err, errors.CodeTransport, "pipeline.submit", "render batch was rejected")
	}
}

func (r *Runner) reportProgress(ctx context.Context, p Project, estimate float64) {
	pct := progress.Reportable(estimate)
	log := r.log.FromContext(ctx)

	if err := r.status.ReportProgress(ctx, p.ID, pct); err != nil {
		log.Warn("progress update failed", "percentage", pct, "error", err.Error())
	}
	r.record(ctx, "set progress", r.runs.SetProgress(ctx, p.RunID, pct))
	log.Debug("render progress", "percentage", pct, "estimate", estimate)
}

func (r *Runner) deleteRemote(ctx context.Context, jobID string) {
	dctx, cancel := reportContext(ctx)
	defer cancel()
	if err := r.renderer.DeleteJob(dctx, jobID); err != nil {
		r.log.FromContext(ctx).Warn("failed to delete remote job", "error", err.Error())
	}
}

// fail logs cause, reports it to the status API and closes the ledger row.
func (r *Runner) fail(ctx context.Context, p Project, cause error) error {
	r.finishFailed(ctx, p, cause)

	rctx, cancel := reportContext(ctx)
	defer cancel()
	if err := r.status.ReportFailure(rctx, p.ID, p.VideoFileName(), errors.Message(cause)); err != nil {
		r.log.FromContext(ctx).Warn("failure report failed", "error", err.Error())
	}
	return cause
}

// abort is fail without a status update, for runs that never reached the
// rendering API.
func (r *Runner) abort(ctx context.Context, p Project, cause error) error {
	r.finishFailed(ctx, p, cause)
	return cause
}

func (r *Runner) finishFailed(ctx context.Context, p Project, cause error) {
	log := r.log.FromContext(ctx)

	var perr *errors.Error
	if errors.As(cause, &perr) {
		log.Error("render failed",
			"code", string(perr.Code),
			"op", perr.Op,
			"message", perr.Message,
			"error", cause.Error(),
		)
	} else {
		log.Error("render failed", "error", cause.Error())
	}

	msg := truncateText(cause.Error(), maxErrorText)

	rctx, cancel := reportContext(ctx)
	defer cancel()
	r.record(ctx, "finish", r.runs.Finish(rctx, p.RunID, runs.StatusFailed, "", msg))
}

// record logs ledger write failures; the ledger never fails a render.
func (r *Runner) record(ctx context.Context, op string, err error) {
	if err != nil {
		r.log.FromContext(ctx).Warn("run ledger write failed", "op", op, "error", err.Error())
	}
}

// reportContext outlives cancellation of ctx so outcomes still get reported.
func reportContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
}
