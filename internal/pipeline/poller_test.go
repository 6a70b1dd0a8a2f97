package pipeline

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"mvrender/internal/deforum"
	"mvrender/internal/pkg/errors"
)

// scriptedClient returns the scripted job states in order, repeating the last.
type scriptedClient struct {
	jobs  []deforum.JobStatus
	errAt int
	gets  int
}

func (c *scriptedClient) CreateBatch(context.Context, deforum.BatchRequest) (*deforum.BatchResponse, error) {
	return nil, stderrors.New("not used")
}

func (c *scriptedClient) GetJob(ctx context.Context, id string) (*deforum.JobStatus, error) {
	c.gets++
	if c.errAt > 0 && c.gets == c.errAt {
		return nil, stderrors.New("connection refused")
	}
	i := c.gets - 1
	if i >= len(c.jobs) {
		i = len(c.jobs) - 1
	}
	job := c.jobs[i]
	return &job, nil
}

func (c *scriptedClient) DeleteJob(context.Context, string) error { return nil }
func (c *scriptedClient) Ping(context.Context) error              { return nil }

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestPoller_StopsAtDone(t *testing.T) {
	c := &scriptedClient{jobs: []deforum.JobStatus{
		{Phase: deforum.PhaseQueued},
		{Phase: deforum.PhaseGenerating},
		{Phase: deforum.PhaseDone, Status: deforum.StatusSucceeded},
		{Phase: deforum.PhaseGenerating},
	}}
	ticks := 0

	job, err := NewPoller(c, time.Second, 0, noSleep).Wait(context.Background(), "j1", func(*deforum.JobStatus) { ticks++ })
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !job.Done() {
		t.Errorf("job = %+v", job)
	}
	if c.gets != 3 {
		t.Errorf("gets = %d, want 3 (no polls after DONE)", c.gets)
	}
	if ticks != 2 {
		t.Errorf("ticks = %d, want 2", ticks)
	}
}

func TestPoller_DoneOnFirstRequest(t *testing.T) {
	c := &scriptedClient{jobs: []deforum.JobStatus{{Phase: deforum.PhaseDone, Status: deforum.StatusSucceeded}}}
	slept := false

	_, err := NewPoller(c, time.Second, 0, func(context.Context, time.Duration) error {
		slept = true
		return nil
	}).Wait(context.Background(), "j1", nil)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if slept || c.gets != 1 {
		t.Errorf("slept=%v gets=%d, want no sleep and one request", slept, c.gets)
	}
}

func TestPoller_Errors(t *testing.T) {
	tests := []struct {
		name  string
		jobs  []deforum.JobStatus
		errAt int
		code  errors.Code
		gets  int
	}{
		{
			name: "failed status",
			jobs: []deforum.JobStatus{{Phase: deforum.PhaseGenerating, Status: deforum.StatusFailed, ErrorType: "TERMINAL"}},
			code: errors.CodeRemoteFailed,
			gets: 1,
		},
		{
			name:  "request error",
			jobs:  []deforum.JobStatus{{Phase: deforum.PhaseGenerating}},
			errAt: 2,
			code:  errors.CodeTransport,
			gets:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &scriptedClient{jobs: tt.jobs, errAt: tt.errAt}
			_, err := NewPoller(c, time.Second, 0, noSleep).Wait(context.Background(), "j1", nil)
			if !errors.IsCode(err, tt.code) {
				t.Fatalf("error = %v, want %s", err, tt.code)
			}
			if c.gets != tt.gets {
				t.Errorf("gets = %d, want %d", c.gets, tt.gets)
			}
		})
	}
}

func TestPoller_Timeout(t *testing.T) {
	c := &scriptedClient{jobs: []deforum.JobStatus{{Phase: deforum.PhaseGenerating}}}

	_, err := NewPoller(c, time.Millisecond, 20*time.Millisecond, nil).Wait(context.Background(), "j1", nil)
	if !errors.IsCode(err, errors.CodeTimeout) {
		t.Fatalf("error = %v, want TIMEOUT", err)
	}
	if errors.Message(err) != "render job timed out" {
		t.Errorf("message = %q", errors.Message(err))
	}
}
