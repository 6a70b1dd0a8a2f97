package pipeline

import (
	"context"
	"time"

	"mvrender/internal/deforum"
	"mvrender/internal/pkg/errors"
	"mvrender/internal/retry"
)

// Poller follows a remote job until it finishes.
type Poller struct {
	client   deforum.Client
	interval time.Duration
	timeout  time.Duration
	sleep    retry.Sleeper
}

func NewPoller(client deforum.Client, interval, timeout time.Duration, sleep retry.Sleeper) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if sleep == nil {
		sleep = retry.SleepContext
	}
	return &Poller{client: client, interval: interval, timeout: timeout, sleep: sleep}
}

// Wait polls jobID until its phase is DONE. The first request is immediate;
// onTick runs after every later one. A FAILED status ends the wait at once,
// whatever the phase.
func (p *Poller) Wait(ctx context.Context, jobID string, onTick func(*deforum.JobStatus)) (*deforum.JobStatus, error) {
	pollCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	job, err := p.get(ctx, pollCtx, jobID)
	if err != nil {
		return nil, err
	}

	for {
		if job.Failed() {
			detail := job.Message
			if detail == "" {
				detail = job.ErrorType
			}
			return job, errors.RemoteJobFailed(jobID, detail).
				WithField("phase", job.Phase)
		}
		if job.Done() {
			return job, nil
		}

		if err := p.sleep(pollCtx, p.interval); err != nil {
			return nil, p.stopped(ctx, err)
		}

		job, err = p.get(ctx, pollCtx, jobID)
		if err != nil {
			return nil, err
		}
		if onTick != nil {
			onTick(job)
		}
	}
}

func (p *Poller) get(ctx, pollCtx context.Context, jobID string) (*deforum.JobStatus, error) {
	job, err := p.client.GetJob(pollCtx, jobID)
	if err == nil {
		return job, nil
	}
	if pollCtx.Err() != nil {
		return nil, p.stopped(ctx, err)
	}
	return nil, errors.WrapWithCode(err, errors.CodeTransport, "poller.get", "job status request failed").
		WithField("job_id", jobID)
}

// stopped classifies why polling was interrupted.
func (p *Poller) stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.WrapWithCode(err, errors.CodeCanceled, "poller.wait", "render canceled")
	}
	return errors.WrapWithCode(err, errors.CodeTimeout, "poller.wait", "render job timed out")
}
